// Package execadapter executes single operations against a SUT over HTTP or
// a CLI tool and returns normalized outcomes. Credentials are loaded inside
// the adapter and never appear in an Outcome; this package is the redaction
// boundary for everything that leaves the process or gets persisted.
package execadapter

import (
	"context"
)

// FailureClass classifies a failed outcome for retry and escalation decisions.
type FailureClass string

const (
	// FailureNone marks a successful outcome.
	FailureNone FailureClass = ""
	// FailureTransient covers network faults and rate limits; the polling
	// engine may retry these up to its budget.
	FailureTransient FailureClass = "transient_transport"
	// FailureTerminal marks a declared terminal lifecycle state; never
	// retried automatically.
	FailureTerminal FailureClass = "terminal_api_failure"
	// FailureValidation marks a missing required field or variable detected
	// before execution; no network call was made.
	FailureValidation FailureClass = "validation_failure"
	// FailureConflict marks an operation rejected for a lifecycle mismatch.
	FailureConflict FailureClass = "conflict_failure"
	// FailureUnknown is anything not classified; always escalated.
	FailureUnknown FailureClass = "unknown_failure"
)

// Request is a normalized operation request. Type selects which fields apply.
type Request struct {
	Type string `json:"request_type" yaml:"request_type"` // http or cli

	// HTTP fields.
	Method  string            `json:"method,omitempty" yaml:"method,omitempty"`
	Path    string            `json:"path,omitempty" yaml:"path,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Query   map[string]string `json:"query_params,omitempty" yaml:"query_params,omitempty"`
	Body    map[string]any    `json:"body,omitempty" yaml:"body,omitempty"`

	// CLI fields.
	Tool string   `json:"tool,omitempty" yaml:"tool,omitempty"`
	Args []string `json:"args,omitempty" yaml:"args,omitempty"`
}

// Outcome is the normalized result of one execution, safe to persist and log.
type Outcome struct {
	Success    bool           `json:"success"`
	StatusCode int            `json:"status_code"` // HTTP status or CLI exit code
	Body       map[string]any `json:"body"`
	Error      string         `json:"error,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	Class      FailureClass   `json:"failure_class,omitempty"`
}

// Adapter performs one operation and returns a normalized Outcome.
// Implementations must never leak secret material into the Outcome.
type Adapter interface {
	Execute(ctx context.Context, operationID string, req Request) (Outcome, error)
}

// classifyHTTP maps an HTTP status to a failure class; 2xx maps to none.
func classifyHTTP(status int) FailureClass {
	switch {
	case status >= 200 && status < 300:
		return FailureNone
	case status == 409:
		return FailureConflict
	case status == 429 || status >= 500:
		return FailureTransient
	default:
		return FailureUnknown
	}
}
