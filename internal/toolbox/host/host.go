// Package host supervises the tool-server subprocesses and multiplexes
// tool calls over their MCP sessions. One host per worker process; the
// sessions live for the worker's lifetime and are rebuilt on crash.
package host

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/gagan0116/mcp-customer-support/internal/pkg/logger"
)

// ServerSpec describes how to launch one tool server.
type ServerSpec struct {
	Name    string
	Command string
	Args    []string
	Env     []string
}

// ToolInfo is what the verification loop puts in its prompt: the name, the
// description, and the declared argument schema as JSON text.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema string `json:"input_schema"`
	Server      string `json:"-"`
}

// Caller is the narrow surface the pipeline consumes; tests swap in fakes.
type Caller interface {
	ListTools(ctx context.Context) ([]ToolInfo, error)
	CallTool(ctx context.Context, name string, args interface{}) (string, error)
}

type session struct {
	spec ServerSpec
	sess *mcp.ClientSession
}

// Host launches and owns the tool-server subprocesses.
type Host struct {
	specs []ServerSpec

	mu       sync.Mutex
	sessions map[string]*session // server name → live session
	routes   map[string]string   // tool name → server name
}

// New creates a host for the given server specs. Call Start before use.
func New(specs ...ServerSpec) *Host {
	return &Host{
		specs:    specs,
		sessions: make(map[string]*session),
		routes:   make(map[string]string),
	}
}

// Start launches every tool server and indexes its tools.
func (h *Host) Start(ctx context.Context) error {
	for _, spec := range h.specs {
		if err := h.connect(ctx, spec); err != nil {
			h.Close()
			return err
		}
	}
	return nil
}

func (h *Host) connect(ctx context.Context, spec ServerSpec) error {
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Stderr = os.Stderr

	client := mcp.NewClient(&mcp.Implementation{Name: "case-worker", Version: "1.0.0"}, nil)
	sess, err := client.Connect(ctx, &mcp.CommandTransport{Command: cmd}, nil)
	if err != nil {
		return fmt.Errorf("connect tool server %s: %w", spec.Name, err)
	}

	listed, err := sess.ListTools(ctx, nil)
	if err != nil {
		sess.Close()
		return fmt.Errorf("list tools on %s: %w", spec.Name, err)
	}

	h.mu.Lock()
	h.sessions[spec.Name] = &session{spec: spec, sess: sess}
	for _, t := range listed.Tools {
		h.routes[t.Name] = spec.Name
	}
	h.mu.Unlock()

	logger.Info("tool server connected", "server", spec.Name, "tools", len(listed.Tools))
	return nil
}

// ListTools returns every tool across all servers with its schema text.
func (h *Host) ListTools(ctx context.Context) ([]ToolInfo, error) {
	h.mu.Lock()
	sessions := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	var out []ToolInfo
	for _, s := range sessions {
		listed, err := s.sess.ListTools(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("list tools on %s: %w", s.spec.Name, err)
		}
		for _, t := range listed.Tools {
			schema := "{}"
			if t.InputSchema != nil {
				if b, err := json.Marshal(t.InputSchema); err == nil {
					schema = string(b)
				}
			}
			out = append(out, ToolInfo{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: schema,
				Server:      s.spec.Name,
			})
		}
	}
	return out, nil
}

// ErrUnknownTool is surfaced to the agent loop as a correction, not a crash.
type ErrUnknownTool struct{ Name string }

func (e ErrUnknownTool) Error() string { return fmt.Sprintf("tool %s does not exist", e.Name) }

// CallTool routes one call by tool name and returns the text payload. A
// dead subprocess is relaunched once before the call is reported failed.
func (h *Host) CallTool(ctx context.Context, name string, args interface{}) (string, error) {
	h.mu.Lock()
	serverName, ok := h.routes[name]
	s := h.sessions[serverName]
	h.mu.Unlock()
	if !ok || s == nil {
		return "", ErrUnknownTool{Name: name}
	}

	text, err := callOnSession(ctx, s.sess, name, args)
	if err == nil {
		return text, nil
	}

	// Session-level failure: assume the subprocess died, relaunch, retry once.
	logger.Warn("tool call failed, restarting tool server", "tool", name, "server", serverName, "error", err.Error())
	h.mu.Lock()
	s.sess.Close()
	delete(h.sessions, serverName)
	spec := s.spec
	h.mu.Unlock()

	if rerr := h.connect(ctx, spec); rerr != nil {
		return "", fmt.Errorf("tool %s failed and server restart failed: %v (restart: %w)", name, err, rerr)
	}

	h.mu.Lock()
	s = h.sessions[serverName]
	h.mu.Unlock()
	return callOnSession(ctx, s.sess, name, args)
}

func callOnSession(ctx context.Context, sess *mcp.ClientSession, name string, args interface{}) (string, error) {
	res, err := sess.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	text := sb.String()
	if res.IsError {
		return "", fmt.Errorf("tool %s returned error: %s", name, text)
	}
	return text, nil
}

// Close tears down all sessions (and their subprocesses).
func (h *Host) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name, s := range h.sessions {
		s.sess.Close()
		delete(h.sessions, name)
	}
}
