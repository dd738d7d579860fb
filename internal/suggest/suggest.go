// Package suggest ranks catalog operations against a free-form intent and
// produces a calibrated suggestion: the best next operation, a confidence
// value with its source, the surviving alternatives, and any matched
// pitfall warnings. It never executes anything.
package suggest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/freedeaths/tidbcloud-skills/internal/catalog"
	"github.com/freedeaths/tidbcloud-skills/internal/knowledge"
	"github.com/freedeaths/tidbcloud-skills/internal/lifecycle"
)

// Config holds the tunable thresholds of the ranking algorithm.
type Config struct {
	// CandidateThreshold is the minimum token overlap for an operation to
	// become a candidate at all.
	CandidateThreshold float64
	// PatternFloor is the minimum pattern score to suggest from a known
	// pattern instead of fresh ranking.
	PatternFloor float64
	// PitfallPenalty is multiplied into the confidence per matched pitfall.
	PitfallPenalty float64
	// SimilarPenalty is multiplied in when the runner-up is within Epsilon.
	SimilarPenalty float64
	// Epsilon is the score gap below which alternatives count as similar.
	Epsilon float64
	// MaxCandidates caps how many alternatives a suggestion carries.
	MaxCandidates int
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		CandidateThreshold: 0.2,
		PatternFloor:       0.6,
		PitfallPenalty:     0.8,
		SimilarPenalty:     0.9,
		Epsilon:            0.15,
		MaxCandidates:      5,
	}
}

// SessionView is the read-only slice of session state the ranking needs.
type SessionView struct {
	// States maps resource type to alias to lifecycle state.
	States map[string]map[string]string
	// Vars is the set of bound variable names.
	Vars map[string]struct{}
}

// Candidate is one ranked operation.
type Candidate struct {
	Operation catalog.OperationSummary `json:"operation"`
	Score     float64                  `json:"score"`
	Reasons   []string                 `json:"reasons,omitempty"`
}

// Suggestion is the full outcome of one ranking pass.
type Suggestion struct {
	OperationID string                   `json:"operation_id"`
	Operation   catalog.OperationSummary `json:"operation"`
	Confidence  float64                  `json:"confidence"`
	// Source is "known_pattern", "stats", or "none".
	Source string `json:"source"`

	PatternID    string                   `json:"pattern_id,omitempty"`
	PatternSteps []knowledge.StepTemplate `json:"pattern_steps,omitempty"`

	Candidates          []Candidate `json:"candidates,omitempty"`
	Gap                 float64     `json:"gap"`
	SimilarAlternatives bool        `json:"similar_alternatives"`
	Warnings            []string    `json:"warnings,omitempty"`
}

// Suggester ranks operations for one SUT.
type Suggester struct {
	sut      string
	catalog  *catalog.Index
	registry *lifecycle.Registry
	store    knowledge.Store
	cfg      Config
	logger   *slog.Logger
}

// New builds a suggester.
func New(sut string, idx *catalog.Index, registry *lifecycle.Registry, store knowledge.Store, cfg Config, logger *slog.Logger) *Suggester {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	return &Suggester{sut: sut, catalog: idx, registry: registry, store: store, cfg: cfg, logger: logger}
}

// Suggest runs the ranking pipeline: keyword expansion, candidate
// gathering, lifecycle filtering, pattern matching, stats ranking, pitfall
// matching, and penalty application. With zero surviving candidates it
// returns confidence 0 and source "none" rather than an error: having
// nothing to suggest is a valid answer.
func (s *Suggester) Suggest(ctx context.Context, intent string, view SessionView) (Suggestion, error) {
	keywords := ExpandKeywords(intent)
	if len(keywords) == 0 {
		return Suggestion{Source: "none"}, nil
	}

	candidates := s.gather(keywords, view)
	if len(candidates) == 0 {
		s.logger.Info("no viable candidates", "intent", intent, "keywords", keywords)
		return Suggestion{Source: "none"}, nil
	}

	patterns, err := s.store.Patterns(ctx, s.sut)
	if err != nil {
		return Suggestion{}, fmt.Errorf("load patterns: %w", err)
	}
	stats, err := s.store.Stats(ctx, s.sut)
	if err != nil {
		return Suggestion{}, fmt.Errorf("load stats: %w", err)
	}
	pitfalls, err := s.store.Pitfalls(ctx, s.sut)
	if err != nil {
		return Suggestion{}, fmt.Errorf("load pitfalls: %w", err)
	}

	suggestion := s.fromPattern(patterns, keywords, view, candidates)
	if suggestion == nil {
		suggestion = s.fromStats(candidates, stats)
	}

	warnings := s.matchPitfalls(pitfalls, suggestion.OperationID, view)
	suggestion.Warnings = warnings
	for range warnings {
		suggestion.Confidence *= s.cfg.PitfallPenalty
	}
	if suggestion.SimilarAlternatives {
		suggestion.Confidence *= s.cfg.SimilarPenalty
	}

	s.logger.Info("suggestion ready",
		"operation", suggestion.OperationID,
		"confidence", suggestion.Confidence,
		"source", suggestion.Source,
		"candidates", len(suggestion.Candidates),
		"warnings", len(warnings))
	return *suggestion, nil
}

// gather finds candidates above the overlap threshold and drops the ones
// the lifecycle tables forbid in the session's current states.
func (s *Suggester) gather(keywords []string, view SessionView) []Candidate {
	var out []Candidate
	for _, op := range s.catalog.Find(keywords) {
		overlap := s.catalog.TokenOverlap(op.ID, keywords)
		if overlap < s.cfg.CandidateThreshold {
			continue
		}
		allowed, reason := s.lifecycleAllows(op, view)
		if !allowed {
			s.logger.Debug("candidate filtered by lifecycle", "operation", op.ID, "reason", reason)
			continue
		}
		out = append(out, Candidate{Operation: op, Score: overlap})
	}
	return out
}

// lifecycleAllows consults the state machine of the operation's resource
// type. Untyped operations and untyped SUT areas always pass; a tracked
// in-transition resource permits only reads and the declared abort.
func (s *Suggester) lifecycleAllows(op catalog.OperationSummary, view SessionView) (bool, string) {
	machine := s.machineFor(op)
	if machine == nil {
		return true, ""
	}
	if op.ID == machine.AbortOp {
		return true, ""
	}
	states := view.States[machine.Type]
	if len(states) == 0 {
		if machine.Allows(lifecycle.StateAbsent, op.Class) {
			return true, ""
		}
		return false, fmt.Sprintf("no %s tracked and %s not allowed from %s", machine.Type, op.Class, lifecycle.StateAbsent)
	}
	for _, state := range states {
		if machine.Allows(lifecycle.State(state), op.Class) {
			return true, ""
		}
	}
	return false, fmt.Sprintf("no tracked %s permits %s", machine.Type, op.Class)
}

// machineFor maps an operation to a resource type by checking whether all
// of the type name's words appear in the operation's tokens.
func (s *Suggester) machineFor(op catalog.OperationSummary) *lifecycle.Machine {
	tokens := catalog.Tokenize(op.ID + " " + op.Path)
	var best *lifecycle.Machine
	bestWords := 0
	for _, typeName := range s.registry.Types() {
		words := strings.Split(typeName, "_")
		all := true
		for _, w := range words {
			if _, ok := tokens[w]; !ok {
				all = false
				break
			}
		}
		if all && len(words) > bestWords {
			best = s.registry.Lookup(typeName)
			bestWords = len(words)
		}
	}
	return best
}

// fromPattern returns a pattern-sourced suggestion when a stored pattern
// matches the intent strongly enough, its precondition holds, and its first
// step survived candidate filtering.
func (s *Suggester) fromPattern(patterns []knowledge.Pattern, keywords []string, view SessionView, candidates []Candidate) *Suggestion {
	keywordSet := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		keywordSet[kw] = struct{}{}
	}
	pctx := knowledge.PredicateContext{Keywords: keywordSet, States: view.States, Vars: view.Vars}

	var best *knowledge.Pattern
	bestScore := 0.0
	for i := range patterns {
		p := &patterns[i]
		if len(p.Steps) == 0 {
			continue
		}
		if p.Trigger.Precondition != nil && !p.Trigger.Precondition.Eval(pctx) {
			continue
		}
		score := p.Trigger.KeywordScore(keywordSet) * p.Confidence()
		if score > bestScore || (score == bestScore && best != nil && p.ID < best.ID) {
			best, bestScore = p, score
		}
	}
	if best == nil || bestScore < s.cfg.PatternFloor {
		return nil
	}

	firstOp := best.Steps[0].OperationID
	var operation catalog.OperationSummary
	found := false
	for _, c := range candidates {
		if c.Operation.ID == firstOp {
			operation, found = c.Operation, true
			break
		}
	}
	if !found {
		// Pattern leads with an operation the lifecycle filter rejected;
		// stats ranking takes over.
		return nil
	}

	return &Suggestion{
		OperationID:  firstOp,
		Operation:    operation,
		Confidence:   bestScore,
		Source:       "known_pattern",
		PatternID:    best.ID,
		PatternSteps: best.Steps,
		Candidates:   s.cap(candidates),
	}
}

// fromStats blends token overlap with historical success rate. Unseen
// operations get the neutral prior, so a fresh SUT ranks purely by overlap
// at half scale and autonomy is earned from history.
func (s *Suggester) fromStats(candidates []Candidate, stats map[string]knowledge.OperationStats) *Suggestion {
	scored := make([]Candidate, len(candidates))
	for i, c := range candidates {
		rate := stats[c.Operation.ID].SuccessRate()
		c.Score = c.Score * rate
		c.Reasons = append(c.Reasons, fmt.Sprintf("success rate %.2f", rate))
		scored[i] = c
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if len(scored[i].Operation.Path) != len(scored[j].Operation.Path) {
			return len(scored[i].Operation.Path) < len(scored[j].Operation.Path)
		}
		return scored[i].Operation.ID < scored[j].Operation.ID
	})

	best := scored[0]
	gap := best.Score
	if len(scored) > 1 {
		gap = best.Score - scored[1].Score
	}
	return &Suggestion{
		OperationID:         best.Operation.ID,
		Operation:           best.Operation,
		Confidence:          best.Score,
		Source:              "stats",
		Candidates:          s.cap(scored),
		Gap:                 gap,
		SimilarAlternatives: len(scored) > 1 && gap < s.cfg.Epsilon,
	}
}

// matchPitfalls returns the resolutions of every pitfall whose trigger
// applies to the chosen operation. A resource-state trigger matches when
// any tracked alias of the type is in the named state.
func (s *Suggester) matchPitfalls(pitfalls []knowledge.Pitfall, operationID string, view SessionView) []string {
	var warnings []string
	for _, p := range pitfalls {
		if p.Trigger.OperationID != "" && p.Trigger.OperationID != operationID {
			continue
		}
		if p.Trigger.MissingVariable != "" {
			if _, bound := view.Vars[p.Trigger.MissingVariable]; bound {
				continue
			}
		}
		if !anyAliasInStates(p.Trigger.ResourceState, view.States) {
			continue
		}
		warning := p.Resolution
		if warning == "" {
			warning = p.ErrorPattern
		}
		warnings = append(warnings, warning)
	}
	sort.Strings(warnings)
	return warnings
}

func anyAliasInStates(wanted map[string]string, states map[string]map[string]string) bool {
	for resourceType, wantState := range wanted {
		matched := false
		for _, state := range states[resourceType] {
			if state == wantState {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func (s *Suggester) cap(candidates []Candidate) []Candidate {
	if s.cfg.MaxCandidates > 0 && len(candidates) > s.cfg.MaxCandidates {
		return candidates[:s.cfg.MaxCandidates]
	}
	return candidates
}
