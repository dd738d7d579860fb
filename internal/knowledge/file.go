package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// FileStore keeps knowledge in per-SUT YAML files under a root directory:
//
//	<root>/<sut>/patterns.yaml
//	<root>/<sut>/pitfalls.yaml
//	<root>/<sut>/stats.yaml
//
// Mutations for one SUT are serialized behind a per-SUT mutex and flushed
// with a write-then-rename, so a crash never leaves a half-written file.
// An fsnotify watcher invalidates the in-memory cache when another process
// edits the files.
type FileStore struct {
	root    string
	logger  *slog.Logger
	watcher *fsnotify.Watcher

	mu   sync.Mutex
	suts map[string]*sutState

	done      chan struct{}
	closeOnce sync.Once
}

type sutState struct {
	mu       sync.Mutex
	loaded   bool
	patterns []Pattern
	pitfalls []Pitfall
	stats    map[string]OperationStats
}

type patternsFile struct {
	Patterns []Pattern `yaml:"patterns"`
}

type pitfallsFile struct {
	Pitfalls []Pitfall `yaml:"pitfalls"`
}

type statsFile struct {
	Operations []OperationStats `yaml:"operations"`
}

// NewFileStore opens (creating if needed) a file-backed store rooted at dir.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create knowledge dir: %w", err)
	}
	fs := &FileStore{
		root:   dir,
		logger: logger,
		suts:   make(map[string]*sutState),
		done:   make(chan struct{}),
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// Degrade to cache-per-process; reads still work, they just
		// miss edits made by other processes.
		fs.logger.Warn("knowledge watcher unavailable", "error", err)
		return fs, nil
	}
	fs.watcher = watcher
	if err := watcher.Add(dir); err != nil {
		fs.logger.Warn("knowledge watch failed", "dir", dir, "error", err)
	}
	go fs.watch()
	return fs, nil
}

func (fs *FileStore) watch() {
	for {
		select {
		case <-fs.done:
			return
		case event, ok := <-fs.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = fs.watcher.Add(event.Name)
				}
			}
			sut := fs.sutForPath(event.Name)
			if sut == "" {
				continue
			}
			fs.invalidate(sut)
		case err, ok := <-fs.watcher.Errors:
			if !ok {
				return
			}
			fs.logger.Warn("knowledge watcher error", "error", err)
		}
	}
}

func (fs *FileStore) sutForPath(path string) string {
	rel, err := filepath.Rel(fs.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) == 0 || parts[0] == "." {
		return ""
	}
	return parts[0]
}

func (fs *FileStore) invalidate(sut string) {
	fs.mu.Lock()
	state, ok := fs.suts[sut]
	fs.mu.Unlock()
	if !ok {
		return
	}
	state.mu.Lock()
	state.loaded = false
	state.mu.Unlock()
}

func (fs *FileStore) state(sut string) *sutState {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	state, ok := fs.suts[sut]
	if !ok {
		state = &sutState{}
		fs.suts[sut] = state
	}
	return state
}

func (fs *FileStore) sutDir(sut string) string {
	return filepath.Join(fs.root, sut)
}

// load populates the cache from disk. Caller holds state.mu.
func (fs *FileStore) load(sut string, state *sutState) error {
	if state.loaded {
		return nil
	}
	dir := fs.sutDir(sut)

	var pf patternsFile
	if err := readYAML(filepath.Join(dir, "patterns.yaml"), &pf); err != nil {
		return err
	}
	var pif pitfallsFile
	if err := readYAML(filepath.Join(dir, "pitfalls.yaml"), &pif); err != nil {
		return err
	}
	var sf statsFile
	if err := readYAML(filepath.Join(dir, "stats.yaml"), &sf); err != nil {
		return err
	}

	state.patterns = pf.Patterns
	state.pitfalls = pif.Pitfalls
	state.stats = make(map[string]OperationStats, len(sf.Operations))
	for _, row := range sf.Operations {
		state.stats[row.OperationID] = row
	}
	state.loaded = true
	if fs.watcher != nil {
		_ = fs.watcher.Add(dir)
	}
	return nil
}

func readYAML(path string, out any) error {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeYAML(path string, in any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	raw, err := yaml.Marshal(in)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Patterns returns a copy of the SUT's patterns.
func (fs *FileStore) Patterns(_ context.Context, sut string) ([]Pattern, error) {
	state := fs.state(sut)
	state.mu.Lock()
	defer state.mu.Unlock()
	if err := fs.load(sut, state); err != nil {
		return nil, err
	}
	out := make([]Pattern, len(state.patterns))
	copy(out, state.patterns)
	return out, nil
}

// Pitfalls returns a copy of the SUT's pitfalls.
func (fs *FileStore) Pitfalls(_ context.Context, sut string) ([]Pitfall, error) {
	state := fs.state(sut)
	state.mu.Lock()
	defer state.mu.Unlock()
	if err := fs.load(sut, state); err != nil {
		return nil, err
	}
	out := make([]Pitfall, len(state.pitfalls))
	copy(out, state.pitfalls)
	return out, nil
}

// Stats returns a copy of the SUT's per-operation statistics.
func (fs *FileStore) Stats(_ context.Context, sut string) (map[string]OperationStats, error) {
	state := fs.state(sut)
	state.mu.Lock()
	defer state.mu.Unlock()
	if err := fs.load(sut, state); err != nil {
		return nil, err
	}
	out := make(map[string]OperationStats, len(state.stats))
	for id, row := range state.stats {
		out[id] = row
	}
	return out, nil
}

// RecordAttempt performs a serialized read-modify-increment-write of one
// stats row.
func (fs *FileStore) RecordAttempt(_ context.Context, sut, operationID string, success bool, durationMS int64, errSig string) error {
	state := fs.state(sut)
	state.mu.Lock()
	defer state.mu.Unlock()
	if err := fs.load(sut, state); err != nil {
		return err
	}
	row := state.stats[operationID]
	row.OperationID = operationID
	row.AvgDurationMS = (row.AvgDurationMS*float64(row.TotalAttempts) + float64(durationMS)) / float64(row.TotalAttempts+1)
	row.TotalAttempts++
	if success {
		row.Successes++
	} else {
		row.Failures++
		if errSig != "" {
			if row.CommonErrors == nil {
				row.CommonErrors = make(map[string]int64)
			}
			row.CommonErrors[ErrorSignature(errSig)]++
		}
	}
	state.stats[operationID] = row
	return fs.flushStats(sut, state)
}

// UpsertPattern merges by id first, then by step signature, else appends.
func (fs *FileStore) UpsertPattern(_ context.Context, sut string, p Pattern) error {
	state := fs.state(sut)
	state.mu.Lock()
	defer state.mu.Unlock()
	if err := fs.load(sut, state); err != nil {
		return err
	}
	sig := p.StepSignature()
	for i := range state.patterns {
		existing := &state.patterns[i]
		if existing.ID == p.ID || existing.StepSignature() == sig {
			existing.SuccessCount += p.SuccessCount
			existing.FailureCount += p.FailureCount
			if p.LastUsed.After(existing.LastUsed) {
				existing.LastUsed = p.LastUsed
			}
			existing.Trigger.IntentKeywords = mergeKeywords(existing.Trigger.IntentKeywords, p.Trigger.IntentKeywords)
			return fs.flushPatterns(sut, state)
		}
	}
	state.patterns = append(state.patterns, p)
	return fs.flushPatterns(sut, state)
}

// RecordPatternOutcome bumps one pattern's counters.
func (fs *FileStore) RecordPatternOutcome(_ context.Context, sut, patternID string, success bool) error {
	state := fs.state(sut)
	state.mu.Lock()
	defer state.mu.Unlock()
	if err := fs.load(sut, state); err != nil {
		return err
	}
	for i := range state.patterns {
		if state.patterns[i].ID != patternID {
			continue
		}
		if success {
			state.patterns[i].SuccessCount++
		} else {
			state.patterns[i].FailureCount++
		}
		state.patterns[i].LastUsed = time.Now().UTC()
		return fs.flushPatterns(sut, state)
	}
	return fmt.Errorf("pattern %q not found for sut %q", patternID, sut)
}

// UpsertPitfall increments the occurrence count of a structurally equal
// pitfall, else appends.
func (fs *FileStore) UpsertPitfall(_ context.Context, sut string, p Pitfall) error {
	state := fs.state(sut)
	state.mu.Lock()
	defer state.mu.Unlock()
	if err := fs.load(sut, state); err != nil {
		return err
	}
	key := p.Trigger.Key(p.ErrorPattern)
	for i := range state.pitfalls {
		existing := &state.pitfalls[i]
		if existing.Trigger.Key(existing.ErrorPattern) != key {
			continue
		}
		existing.OccurrenceCount += max64(p.OccurrenceCount, 1)
		if p.LastOccurred.After(existing.LastOccurred) {
			existing.LastOccurred = p.LastOccurred
		}
		if existing.Resolution == "" {
			existing.Resolution = p.Resolution
		}
		return fs.flushPitfalls(sut, state)
	}
	if p.OccurrenceCount == 0 {
		p.OccurrenceCount = 1
	}
	state.pitfalls = append(state.pitfalls, p)
	return fs.flushPitfalls(sut, state)
}

func (fs *FileStore) flushPatterns(sut string, state *sutState) error {
	return writeYAML(filepath.Join(fs.sutDir(sut), "patterns.yaml"), patternsFile{Patterns: state.patterns})
}

func (fs *FileStore) flushPitfalls(sut string, state *sutState) error {
	return writeYAML(filepath.Join(fs.sutDir(sut), "pitfalls.yaml"), pitfallsFile{Pitfalls: state.pitfalls})
}

func (fs *FileStore) flushStats(sut string, state *sutState) error {
	rows := make([]OperationStats, 0, len(state.stats))
	for _, row := range state.stats {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].OperationID < rows[j].OperationID })
	return writeYAML(filepath.Join(fs.sutDir(sut), "stats.yaml"), statsFile{Operations: rows})
}

// Close stops the watcher. Pending writes have already been flushed.
func (fs *FileStore) Close() error {
	fs.closeOnce.Do(func() { close(fs.done) })
	if fs.watcher != nil {
		return fs.watcher.Close()
	}
	return nil
}

func mergeKeywords(a, b []string) []string {
	seen := make(map[string]struct{}, len(a))
	out := make([]string, 0, len(a)+len(b))
	for _, kw := range a {
		if _, ok := seen[kw]; !ok {
			seen[kw] = struct{}{}
			out = append(out, kw)
		}
	}
	for _, kw := range b {
		if _, ok := seen[kw]; !ok {
			seen[kw] = struct{}{}
			out = append(out, kw)
		}
	}
	return out
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
