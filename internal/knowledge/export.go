package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/freedeaths/tidbcloud-skills/internal/execadapter"
)

// ExportOptions filters what noise-level knowledge leaves the local store.
type ExportOptions struct {
	// MinOccurrences drops pitfalls seen fewer times; one-off failures are
	// usually environment flakes, not knowledge.
	MinOccurrences int64
	// MinPatternSuccesses drops patterns that have not proven themselves.
	MinPatternSuccesses int64
}

// Export is the share-ready snapshot of one SUT's knowledge.
type Export struct {
	SUT        string           `yaml:"sut"`
	ExportedAt time.Time        `yaml:"exported_at"`
	Patterns   []Pattern        `yaml:"patterns"`
	Pitfalls   []Pitfall        `yaml:"pitfalls"`
	Stats      []OperationStats `yaml:"stats"`
}

// BuildExport reads all three knowledge kinds concurrently, sanitizes them,
// and applies the export filters.
func BuildExport(ctx context.Context, store Store, sut string, opts ExportOptions) (Export, error) {
	var (
		patterns []Pattern
		pitfalls []Pitfall
		stats    map[string]OperationStats
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		patterns, err = store.Patterns(gctx, sut)
		return err
	})
	g.Go(func() (err error) {
		pitfalls, err = store.Pitfalls(gctx, sut)
		return err
	})
	g.Go(func() (err error) {
		stats, err = store.Stats(gctx, sut)
		return err
	})
	if err := g.Wait(); err != nil {
		return Export{}, fmt.Errorf("load knowledge for export: %w", err)
	}

	out := Export{SUT: sut, ExportedAt: time.Now().UTC()}
	for _, p := range patterns {
		if p.SuccessCount < opts.MinPatternSuccesses {
			continue
		}
		out.Patterns = append(out.Patterns, sanitizePattern(p))
	}
	for _, p := range pitfalls {
		if p.OccurrenceCount < opts.MinOccurrences {
			continue
		}
		out.Pitfalls = append(out.Pitfalls, sanitizePitfall(p))
	}
	for _, row := range stats {
		out.Stats = append(out.Stats, sanitizeStats(row))
	}
	sort.Slice(out.Stats, func(i, j int) bool { return out.Stats[i].OperationID < out.Stats[j].OperationID })
	sort.Slice(out.Patterns, func(i, j int) bool { return out.Patterns[i].ID < out.Patterns[j].ID })
	sort.Slice(out.Pitfalls, func(i, j int) bool { return out.Pitfalls[i].ID < out.Pitfalls[j].ID })
	return out, nil
}

// WriteExport merges the export into the YAML file at path. Patterns merge
// by step signature, pitfalls by structural key, stats rows by operation id
// with counters summed, so repeated exports from several machines converge
// instead of duplicating entries.
func WriteExport(path string, export Export) error {
	var existing Export
	raw, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(raw, &existing); err != nil {
			return fmt.Errorf("parse existing export: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	merged := mergeExports(existing, export)
	out, err := yaml.Marshal(merged)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func mergeExports(base, incoming Export) Export {
	out := Export{SUT: incoming.SUT, ExportedAt: incoming.ExportedAt}

	patternsBySig := make(map[string]Pattern)
	for _, p := range append(base.Patterns, incoming.Patterns...) {
		sig := p.StepSignature()
		if existing, ok := patternsBySig[sig]; ok {
			existing.SuccessCount += p.SuccessCount
			existing.FailureCount += p.FailureCount
			if p.LastUsed.After(existing.LastUsed) {
				existing.LastUsed = p.LastUsed
			}
			existing.Trigger.IntentKeywords = mergeKeywords(existing.Trigger.IntentKeywords, p.Trigger.IntentKeywords)
			patternsBySig[sig] = existing
			continue
		}
		patternsBySig[sig] = p
	}
	for _, p := range patternsBySig {
		out.Patterns = append(out.Patterns, p)
	}

	pitfallsByKey := make(map[string]Pitfall)
	for _, p := range append(base.Pitfalls, incoming.Pitfalls...) {
		key := p.Trigger.Key(p.ErrorPattern)
		if existing, ok := pitfallsByKey[key]; ok {
			existing.OccurrenceCount += p.OccurrenceCount
			if p.LastOccurred.After(existing.LastOccurred) {
				existing.LastOccurred = p.LastOccurred
			}
			pitfallsByKey[key] = existing
			continue
		}
		pitfallsByKey[key] = p
	}
	for _, p := range pitfallsByKey {
		out.Pitfalls = append(out.Pitfalls, p)
	}

	statsByOp := make(map[string]OperationStats)
	for _, row := range append(base.Stats, incoming.Stats...) {
		if existing, ok := statsByOp[row.OperationID]; ok {
			total := existing.TotalAttempts + row.TotalAttempts
			if total > 0 {
				existing.AvgDurationMS = (existing.AvgDurationMS*float64(existing.TotalAttempts) + row.AvgDurationMS*float64(row.TotalAttempts)) / float64(total)
			}
			existing.TotalAttempts = total
			existing.Successes += row.Successes
			existing.Failures += row.Failures
			for sig, n := range row.CommonErrors {
				if existing.CommonErrors == nil {
					existing.CommonErrors = make(map[string]int64)
				}
				existing.CommonErrors[sig] += n
			}
			statsByOp[row.OperationID] = existing
			continue
		}
		statsByOp[row.OperationID] = row
	}
	for _, row := range statsByOp {
		out.Stats = append(out.Stats, row)
	}

	sort.Slice(out.Patterns, func(i, j int) bool { return out.Patterns[i].ID < out.Patterns[j].ID })
	sort.Slice(out.Pitfalls, func(i, j int) bool { return out.Pitfalls[i].ID < out.Pitfalls[j].ID })
	sort.Slice(out.Stats, func(i, j int) bool { return out.Stats[i].OperationID < out.Stats[j].OperationID })
	return out
}

var (
	urlPattern     = regexp.MustCompile(`https?://[^\s"']+`)
	hexIDPattern   = regexp.MustCompile(`\b[0-9a-f]{10,}\b`)
	longNumPattern = regexp.MustCompile(`\b\d{8,}\b`)
)

// SanitizeText strips environment-specific fragments from free text: URLs,
// hex identifiers, and long numeric ids become neutral markers.
func SanitizeText(s string) string {
	s = urlPattern.ReplaceAllString(s, "<url>")
	s = hexIDPattern.ReplaceAllString(s, "<id>")
	s = longNumPattern.ReplaceAllString(s, "<n>")
	return s
}

func sanitizePattern(p Pattern) Pattern {
	p.Name = SanitizeText(p.Name)
	steps := make([]StepTemplate, len(p.Steps))
	for i, s := range p.Steps {
		if s.Request != nil {
			s.Request = execadapter.Redact(s.Request).(map[string]any)
			s.Request = sanitizeMap(s.Request)
		}
		steps[i] = s
	}
	p.Steps = steps
	return p
}

func sanitizePitfall(p Pitfall) Pitfall {
	p.ErrorPattern = SanitizeText(p.ErrorPattern)
	p.Resolution = SanitizeText(p.Resolution)
	return p
}

func sanitizeStats(row OperationStats) OperationStats {
	if len(row.CommonErrors) == 0 {
		return row
	}
	cleaned := make(map[string]int64, len(row.CommonErrors))
	for sig, n := range row.CommonErrors {
		cleaned[SanitizeText(sig)] += n
	}
	row.CommonErrors = cleaned
	return row
}

func sanitizeMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		switch v := value.(type) {
		case string:
			out[key] = SanitizeText(v)
		case map[string]any:
			out[key] = sanitizeMap(v)
		case []any:
			items := make([]any, len(v))
			for i, item := range v {
				if s, ok := item.(string); ok {
					items[i] = SanitizeText(s)
				} else {
					items[i] = item
				}
			}
			out[key] = items
		default:
			out[key] = value
		}
	}
	return out
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:6])
}
