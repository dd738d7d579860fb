package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

// StepRecord is the knowledge-relevant residue of one executed step.
type StepRecord struct {
	OperationID  string
	RequestType  string
	Request      map[string]any
	Save         map[string]string
	Success      bool
	Aborted      bool
	DurationMS   int64
	Error        string
	MissingVars  []string
	StatesByType map[string]string
}

// Updater derives knowledge from session activity: per-step statistics,
// pitfalls from failures, and synthesized patterns from successful runs.
type Updater struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewUpdater wraps a store.
func NewUpdater(store Store, logger *slog.Logger) *Updater {
	if logger == nil {
		logger = slog.Default()
	}
	return &Updater{store: store, logger: logger, now: time.Now}
}

// RecordStep updates statistics for one executed step and, on failure,
// derives a pitfall. A user-aborted step counts as a failure with the
// signature "aborted" so that frequently-aborted operations surface in the
// stats, but it never produces a pitfall: the operation was not wrong, the
// user just declined it.
func (u *Updater) RecordStep(ctx context.Context, sut string, rec StepRecord) error {
	errSig := rec.Error
	if rec.Aborted {
		errSig = "aborted"
	}
	success := rec.Success && !rec.Aborted
	if err := u.store.RecordAttempt(ctx, sut, rec.OperationID, success, rec.DurationMS, errSig); err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	if success || rec.Aborted {
		return nil
	}
	pitfall := u.derivePitfall(sut, rec)
	if err := u.store.UpsertPitfall(ctx, sut, pitfall); err != nil {
		return fmt.Errorf("record pitfall: %w", err)
	}
	return nil
}

func (u *Updater) derivePitfall(sut string, rec StepRecord) Pitfall {
	trigger := PitfallTrigger{OperationID: rec.OperationID}
	if len(rec.MissingVars) > 0 {
		trigger.MissingVariable = rec.MissingVars[0]
	} else if len(rec.StatesByType) > 0 {
		trigger.ResourceState = rec.StatesByType
	}
	return Pitfall{
		ID:              pitfallID(sut, trigger, rec.Error),
		Trigger:         trigger,
		ErrorPattern:    ErrorSignature(rec.Error),
		OccurrenceCount: 1,
		LastOccurred:    u.now().UTC(),
	}
}

// RecordSessionOutcome closes the loop at the end of a session. When the
// session applied an existing pattern its counters are bumped; a fresh
// fully-successful multi-step run is abstracted into a new pattern with
// concrete ids replaced by {placeholders}.
func (u *Updater) RecordSessionOutcome(ctx context.Context, sut, intent, patternID string, steps []StepRecord, boundIDs map[string]string) error {
	allSucceeded := len(steps) > 0
	for _, s := range steps {
		if !s.Success || s.Aborted {
			allSucceeded = false
			break
		}
	}

	if patternID != "" {
		if err := u.store.RecordPatternOutcome(ctx, sut, patternID, allSucceeded); err != nil {
			return fmt.Errorf("record pattern outcome: %w", err)
		}
		return nil
	}
	if !allSucceeded || len(steps) < 2 {
		return nil
	}

	pattern := u.synthesize(intent, steps, boundIDs)
	if err := u.store.UpsertPattern(ctx, sut, pattern); err != nil {
		return fmt.Errorf("record pattern: %w", err)
	}
	u.logger.Info("pattern learned", "sut", sut, "pattern", pattern.ID, "steps", len(pattern.Steps))
	return nil
}

func (u *Updater) synthesize(intent string, steps []StepRecord, boundIDs map[string]string) Pattern {
	templates := make([]StepTemplate, len(steps))
	for i, s := range steps {
		templates[i] = StepTemplate{
			OperationID: s.OperationID,
			RequestType: s.RequestType,
			Request:     abstractValues(s.Request, boundIDs),
			Save:        s.Save,
		}
	}
	p := Pattern{
		Name:     intent,
		Trigger:  PatternTrigger{IntentKeywords: IntentKeywords(intent)},
		Steps:    templates,
		LastUsed: u.now().UTC(),

		SuccessCount: 1,
	}
	p.ID = "pat_" + shortHash(p.StepSignature())
	return p
}

// abstractValues replaces any string value that equals a bound resource id
// with the variable's {placeholder}, recursively, without mutating input.
func abstractValues(in map[string]any, boundIDs map[string]string) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = abstractValue(value, boundIDs)
	}
	return out
}

func abstractValue(value any, boundIDs map[string]string) any {
	switch v := value.(type) {
	case string:
		for variable, id := range boundIDs {
			if id != "" && v == id {
				return "{" + variable + "}"
			}
		}
		return v
	case map[string]any:
		return abstractValues(v, boundIDs)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = abstractValue(item, boundIDs)
		}
		return out
	default:
		return value
	}
}

var keywordSplit = regexp.MustCompile(`[^a-z0-9]+`)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "to": {}, "of": {}, "for": {}, "in": {},
	"on": {}, "with": {}, "and": {}, "my": {}, "me": {}, "please": {},
	"i": {}, "want": {}, "need": {},
}

// IntentKeywords lowercases and tokenizes a free-form intent, dropping
// filler words.
func IntentKeywords(intent string) []string {
	var out []string
	for _, tok := range keywordSplit.Split(strings.ToLower(intent), -1) {
		if tok == "" {
			continue
		}
		if _, skip := stopwords[tok]; skip {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func pitfallID(sut string, trigger PitfallTrigger, errMsg string) string {
	return "pit_" + shortHash(sut+"|"+trigger.Key(ErrorSignature(errMsg)))
}
