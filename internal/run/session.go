// Package run drives exploration sessions: it asks the suggester for the
// next operation, passes it through the intervention gate, executes or
// suspends, applies outcomes to the state tracker, and feeds everything
// back into the knowledge store. A session survives process restarts; its
// file is the full record of what happened.
package run

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/freedeaths/tidbcloud-skills/internal/execadapter"
	"github.com/freedeaths/tidbcloud-skills/internal/knowledge"
	"github.com/freedeaths/tidbcloud-skills/internal/suggest"
	"github.com/freedeaths/tidbcloud-skills/internal/tracker"
)

// Status is the lifecycle of a session itself.
type Status string

const (
	// StatusActive accepts further steps.
	StatusActive Status = "active"
	// StatusWaiting is suspended on a pending step awaiting Resolve.
	StatusWaiting Status = "waiting"
	// StatusCompleted ended successfully; its scenario can be finalized.
	StatusCompleted Status = "completed"
	// StatusAborted was ended by the user.
	StatusAborted Status = "aborted"
)

// Session is the persistent record of one exploration run.
type Session struct {
	ID        string    `json:"id"`
	SUT       string    `json:"sut"`
	Intent    string    `json:"intent"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// PresetVars are variables seeded at session start, e.g. projectId.
	PresetVars map[string]any `json:"preset_vars,omitempty"`

	// PatternID is set when the session is following a stored pattern.
	PatternID string `json:"pattern_id,omitempty"`
	// PatternSteps are the adopted pattern's remaining templates.
	PatternSteps []knowledge.StepTemplate `json:"pattern_steps,omitempty"`
	// PatternCursor indexes the next pattern step to propose.
	PatternCursor int `json:"pattern_cursor,omitempty"`

	Steps   []StepRecord `json:"steps"`
	Pending *PendingStep `json:"pending,omitempty"`
}

// StepRecord is one executed (or aborted) step. Requests are stored
// redacted; outcomes are already safe by the adapter contract.
type StepRecord struct {
	Index       int                 `json:"index"`
	OperationID string              `json:"operation_id"`
	Request     execadapter.Request `json:"request"`
	Track       tracker.Step        `json:"track"`
	Save        map[string]string   `json:"save,omitempty"`

	Confidence float64  `json:"confidence"`
	Source     string   `json:"source"`
	Gate       string   `json:"gate"`
	Reasons    []string `json:"reasons,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`

	Outcome    *execadapter.Outcome `json:"outcome,omitempty"`
	Aborted    bool                 `json:"aborted,omitempty"`
	ExecutedAt time.Time            `json:"executed_at"`
}

// PendingStep is a suspension point: the proposed step waiting for the
// user's Resolve call.
type PendingStep struct {
	OperationID string              `json:"operation_id"`
	Request     execadapter.Request `json:"request"`
	Track       tracker.Step        `json:"track"`
	Save        map[string]string   `json:"save,omitempty"`

	Confidence  float64             `json:"confidence"`
	Source      string              `json:"source"`
	Gate        string              `json:"gate"`
	Reasons     []string            `json:"reasons,omitempty"`
	Warnings    []string            `json:"warnings,omitempty"`
	Candidates  []suggest.Candidate `json:"candidates,omitempty"`
	MissingVars []string            `json:"missing_vars,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}

// NewSession creates an active session with a fresh id.
func NewSession(sut, intent string, presetVars map[string]any) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:         NewSessionID(),
		SUT:        sut,
		Intent:     intent,
		Status:     StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
		PresetVars: presetVars,
	}
}

// NewSessionID returns a "ses_" prefixed ULID. ULIDs sort by creation time,
// so a directory listing doubles as a chronological session list.
func NewSessionID() string {
	return "ses_" + ulid.Make().String()
}

// BoundIDs returns variable name to string id for every string-valued
// variable the session's steps have saved, used for pattern abstraction.
func (s *Session) BoundIDs(vars map[string]any) map[string]string {
	out := make(map[string]string)
	for name, value := range vars {
		if id, ok := value.(string); ok {
			out[name] = id
		}
	}
	return out
}
