// Package caseworker runs the per-case pipeline: load envelope, parse
// attachments, extract the order intent, verify it against the orders
// database, adjudicate against the policy graph, and persist the refund
// case. Progress streams as typed events so the demo endpoint can replay
// the reasoning live.
package caseworker

// Event statuses.
const (
	StatusActive   = "active"
	StatusComplete = "complete"
	StatusError    = "error"
)

// Pipeline step names, in execution order.
const (
	StepLoad        = "load_envelope"
	StepTriage      = "triage"
	StepAttachments = "attachments"
	StepExtract     = "extract_intent"
	StepVerify      = "verify"
	StepAdjudicate  = "adjudicate"
	StepPersist     = "persist"
)

// Event is one progress record on the case stream. Substep is set for the
// nested tool-call and reasoning-phase events inside verify and adjudicate.
type Event struct {
	Step    string      `json:"step"`
	Substep string      `json:"substep,omitempty"`
	Status  string      `json:"status"`
	Log     string      `json:"log,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Sink receives pipeline events. A nil Sink is valid and drops everything.
type Sink func(Event)

func (s Sink) emit(e Event) {
	if s != nil {
		s(e)
	}
}

func (s Sink) step(step, status, log string) {
	s.emit(Event{Step: step, Status: status, Log: log})
}

func (s Sink) substep(step, substep, status, log string) {
	s.emit(Event{Step: step, Substep: substep, Status: status, Log: log})
}
