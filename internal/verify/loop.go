// Package verify drives the database verification agent loop: a bounded
// ReAct controller in which the model chooses lookup tools in a prescribed
// ladder until it either pins down the order or gives up to human review.
package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gagan0116/mcp-customer-support/internal/domain"
	"github.com/gagan0116/mcp-customer-support/internal/gemini"
	"github.com/gagan0116/mcp-customer-support/internal/pkg/logger"
	"github.com/gagan0116/mcp-customer-support/internal/toolbox/dbtools"
	"github.com/gagan0116/mcp-customer-support/internal/toolbox/host"
)

// TextGenerator is the slice of the LLM client the loop needs.
type TextGenerator interface {
	GenerateText(ctx context.Context, req gemini.Request) (string, error)
}

// EmitFunc receives substep progress for the live stream. status is one of
// active, complete, error.
type EmitFunc func(name, status, log string)

// Result is the loop's outcome. VerifiedData nil means human review.
type Result struct {
	VerifiedData   *domain.VerifiedOrder
	FuzzyToolsUsed []string
	Reason         string
	Turns          int
}

// Loop is the verification controller.
type Loop struct {
	llm       TextGenerator
	tools     host.Caller
	model     string
	maxTurns  int
	turnDelay time.Duration
}

// NewLoop creates the controller with the standard budget of 8 turns.
func NewLoop(llm TextGenerator, tools host.Caller, model string) *Loop {
	return &Loop{
		llm:       llm,
		tools:     tools,
		model:     model,
		maxTurns:  8,
		turnDelay: 2 * time.Second,
	}
}

type decision struct {
	ToolName     string          `json:"tool_name,omitempty"`
	Arguments    json.RawMessage `json:"arguments,omitempty"`
	Action       string          `json:"action,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	VerifiedData json.RawMessage `json:"verified_data,omitempty"`
}

// Run executes the loop. emit may be nil.
func (l *Loop) Run(ctx context.Context, intent domain.OrderIntent, fromEmail string, emit EmitFunc) (*Result, error) {
	if emit == nil {
		emit = func(string, string, string) {}
	}

	toolList, err := l.tools.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list verification tools: %w", err)
	}

	intentJSON, err := json.Marshal(struct {
		domain.OrderIntent
		FromEmail string `json:"from_email"`
	}{intent, fromEmail})
	if err != nil {
		return nil, fmt.Errorf("marshal intent: %w", err)
	}

	res := &Result{}
	var transcript []string

	for turn := 1; turn <= l.maxTurns; turn++ {
		res.Turns = turn
		if turn > 1 {
			timer := time.NewTimer(l.turnDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			}
		}

		raw, err := l.llm.GenerateText(ctx, gemini.Request{
			Model:       l.model,
			System:      systemPrompt,
			Prompt:      buildPrompt(string(intentJSON), toolList, transcript),
			Temperature: gemini.Float64(0),
			Timeout:     60 * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("verification turn %d: %w", turn, err)
		}

		var d decision
		if err := json.Unmarshal([]byte(stripFence(raw)), &d); err != nil {
			transcript = append(transcript,
				"System: your last response was not a valid JSON action. Respond with exactly one JSON object.")
			continue
		}

		if d.Action == "terminate" {
			res.Reason = d.Reason
			if len(d.VerifiedData) > 0 && string(d.VerifiedData) != "null" {
				var vd domain.VerifiedOrder
				if err := json.Unmarshal(d.VerifiedData, &vd); err != nil {
					logger.Warn("terminate carried unparseable verified_data", "error", err.Error())
				} else {
					res.VerifiedData = &vd
				}
			}
			return res, nil
		}

		if d.ToolName == "" {
			transcript = append(transcript,
				"System: provide either a tool_name with arguments or a terminate action.")
			continue
		}

		stepName := fmt.Sprintf("tool_%d", turn)
		emit(stepName, "active", friendlySummary(d.ToolName))

		var args interface{}
		if len(d.Arguments) > 0 {
			args = json.RawMessage(d.Arguments)
		} else {
			args = map[string]interface{}{}
		}

		output, err := l.tools.CallTool(ctx, d.ToolName, args)
		var unknown host.ErrUnknownTool
		if errors.As(err, &unknown) {
			transcript = append(transcript, fmt.Sprintf("System: Tool %s does not exist.", d.ToolName))
			emit(stepName, "error", fmt.Sprintf("Tool %s does not exist", d.ToolName))
			continue
		}
		if err != nil {
			// Policy rejections and tool failures go back in-band so the
			// agent can pick a different tool.
			transcript = append(transcript,
				fmt.Sprintf("Tool %s failed: %v", d.ToolName, err))
			emit(stepName, "error", fmt.Sprintf("%s failed", d.ToolName))
			continue
		}

		if dbtools.FuzzyTools[d.ToolName] {
			res.FuzzyToolsUsed = append(res.FuzzyToolsUsed, d.ToolName)
		}

		transcript = append(transcript,
			fmt.Sprintf("Called %s with %s", d.ToolName, compact(d.Arguments)),
			fmt.Sprintf("Result: %s", output))
		emit(stepName, "complete", friendlySummary(d.ToolName))
	}

	res.Reason = fmt.Sprintf("verification did not converge within %d turns", l.maxTurns)
	return res, nil
}

func compact(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

func stripFence(s string) string {
	for len(s) > 0 && (s[0] == '`' || s[0] == '\n' || s[0] == ' ') {
		s = s[1:]
	}
	if len(s) >= 4 && s[:4] == "json" {
		s = s[4:]
	}
	for len(s) > 0 && (s[len(s)-1] == '`' || s[len(s)-1] == '\n' || s[len(s)-1] == ' ') {
		s = s[:len(s)-1]
	}
	return s
}
