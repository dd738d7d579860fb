// Package knowledge is the durable, shared-by-multiple-sessions repository
// of exploration knowledge per SUT: previously-successful operation
// sequences (patterns), known failure modes (pitfalls), and per-operation
// statistics. Reads tolerate staleness; every mutation is serialized per
// (SUT, key) so concurrent sessions never lose updates.
package knowledge

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// Pattern is a generalized, previously-successful operation sequence with a
// trigger condition. Concrete ids are abstracted into {placeholders}.
type Pattern struct {
	ID           string         `yaml:"id" json:"id"`
	Name         string         `yaml:"name" json:"name"`
	Trigger      PatternTrigger `yaml:"trigger" json:"trigger"`
	Steps        []StepTemplate `yaml:"steps" json:"steps"`
	SuccessCount int64          `yaml:"success_count" json:"success_count"`
	FailureCount int64          `yaml:"failure_count" json:"failure_count"`
	LastUsed     time.Time      `yaml:"last_used,omitempty" json:"last_used,omitempty"`
}

// Confidence is the pattern's historical success ratio.
func (p Pattern) Confidence() float64 {
	total := p.SuccessCount + p.FailureCount
	if total == 0 {
		return 0
	}
	return float64(p.SuccessCount) / float64(total)
}

// StepSignature is the pattern's operation-id sequence, used for matching a
// just-completed step run against existing patterns.
func (p Pattern) StepSignature() string {
	ids := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		ids[i] = s.OperationID
	}
	return strings.Join(ids, "→")
}

// PatternTrigger decides when a pattern applies.
type PatternTrigger struct {
	IntentKeywords []string   `yaml:"intent_keywords" json:"intent_keywords"`
	Precondition   *Predicate `yaml:"precondition,omitempty" json:"precondition,omitempty"`
}

// KeywordScore returns |intersection| / |trigger keywords| against a keyword
// set, the partial-credit match score.
func (t PatternTrigger) KeywordScore(keywords map[string]struct{}) float64 {
	if len(t.IntentKeywords) == 0 {
		return 0
	}
	hits := 0
	for _, kw := range t.IntentKeywords {
		if _, ok := keywords[strings.ToLower(kw)]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(t.IntentKeywords))
}

// StepTemplate is one abstracted step of a pattern.
type StepTemplate struct {
	OperationID string            `yaml:"operation_id" json:"operation_id"`
	RequestType string            `yaml:"request_type" json:"request_type"`
	Request     map[string]any    `yaml:"request,omitempty" json:"request,omitempty"`
	Save        map[string]string `yaml:"save,omitempty" json:"save,omitempty"`
}

// Pitfall is a known failure mode with its trigger and resolution.
type Pitfall struct {
	ID              string         `yaml:"id" json:"id"`
	Trigger         PitfallTrigger `yaml:"trigger" json:"trigger"`
	ErrorPattern    string         `yaml:"error_pattern,omitempty" json:"error_pattern,omitempty"`
	Resolution      string         `yaml:"resolution,omitempty" json:"resolution,omitempty"`
	OccurrenceCount int64          `yaml:"occurrence_count" json:"occurrence_count"`
	LastOccurred    time.Time      `yaml:"last_occurred,omitempty" json:"last_occurred,omitempty"`
}

// PitfallTrigger matches a pitfall against an upcoming operation.
type PitfallTrigger struct {
	OperationID     string            `yaml:"operation_id" json:"operation_id"`
	MissingVariable string            `yaml:"missing_variable,omitempty" json:"missing_variable,omitempty"`
	ResourceState   map[string]string `yaml:"resource_state,omitempty" json:"resource_state,omitempty"`
}

// Key is the structural identity used for merge-vs-append decisions; two
// pitfalls with equal keys are the same failure mode.
func (t PitfallTrigger) Key(errorPattern string) string {
	states := make([]string, 0, len(t.ResourceState))
	for resourceType, state := range t.ResourceState {
		states = append(states, resourceType+"="+state)
	}
	sort.Strings(states)
	return strings.Join([]string{t.OperationID, t.MissingVariable, strings.Join(states, ","), errorPattern}, "|")
}

// Matches reports whether the pitfall trigger applies to an operation given
// the session's missing variables and per-type resource states.
func (t PitfallTrigger) Matches(operationID string, missingVars []string, statesByType map[string]string) bool {
	if t.OperationID != "" && t.OperationID != operationID {
		return false
	}
	if t.MissingVariable != "" {
		found := false
		for _, v := range missingVars {
			if v == t.MissingVariable {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for resourceType, wantState := range t.ResourceState {
		if statesByType[resourceType] != wantState {
			return false
		}
	}
	return true
}

// OperationStats is one row per operation id per SUT. Counts only increase;
// the duration is a running average.
type OperationStats struct {
	OperationID   string           `yaml:"operation_id" json:"operation_id"`
	TotalAttempts int64            `yaml:"total_attempts" json:"total_attempts"`
	Successes     int64            `yaml:"successes" json:"successes"`
	Failures      int64            `yaml:"failures" json:"failures"`
	AvgDurationMS float64          `yaml:"avg_duration_ms" json:"avg_duration_ms"`
	CommonErrors  map[string]int64 `yaml:"common_errors,omitempty" json:"common_errors,omitempty"`
}

// SuccessRate returns successes/total, or the neutral prior for unseen
// operations so new operations are not starved.
func (s OperationStats) SuccessRate() float64 {
	if s.TotalAttempts == 0 {
		return NeutralPrior
	}
	return float64(s.Successes) / float64(s.TotalAttempts)
}

// NeutralPrior is the assumed success rate of an operation with no history.
const NeutralPrior = 0.5

// ErrorSignature normalizes an error message into a stable aggregation key.
func ErrorSignature(message string) string {
	message = strings.TrimSpace(strings.ToLower(message))
	if message == "" {
		return "unknown"
	}
	if len(message) > 120 {
		cut := 120
		for cut > 0 && !utf8.RuneStart(message[cut]) {
			cut--
		}
		message = message[:cut]
	}
	return message
}
