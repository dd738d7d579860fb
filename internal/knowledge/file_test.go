package knowledge

import (
	"context"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordAttemptAccumulates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.RecordAttempt(ctx, "tidbcloud", "CreateCluster", true, 100, ""); err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}
	if err := store.RecordAttempt(ctx, "tidbcloud", "CreateCluster", false, 300, "invalid region"); err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}

	stats, err := store.Stats(ctx, "tidbcloud")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	row := stats["CreateCluster"]
	if row.TotalAttempts != 2 || row.Successes != 1 || row.Failures != 1 {
		t.Fatalf("unexpected counters: %+v", row)
	}
	if row.AvgDurationMS != 200 {
		t.Fatalf("avg duration = %v, want 200", row.AvgDurationMS)
	}
	if row.CommonErrors["invalid region"] != 1 {
		t.Fatalf("common errors = %v", row.CommonErrors)
	}
}

func TestConcurrentWritersAllLand(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const writers = 32
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			errs <- store.RecordAttempt(ctx, "tidbcloud", "GetCluster", n%2 == 0, int64(n), "")
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("writer failed: %v", err)
		}
	}

	stats, err := store.Stats(ctx, "tidbcloud")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if got := stats["GetCluster"].TotalAttempts; got != writers {
		t.Fatalf("total attempts = %d, want %d", got, writers)
	}
}

func TestUpsertPatternMergesByStepSignature(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := Pattern{
		ID:           "pat_a",
		Trigger:      PatternTrigger{IntentKeywords: []string{"create", "cluster"}},
		Steps:        []StepTemplate{{OperationID: "CreateCluster"}, {OperationID: "GetCluster"}},
		SuccessCount: 1,
	}
	dup := base
	dup.ID = "pat_b"
	dup.Trigger.IntentKeywords = []string{"create", "dedicated"}

	if err := store.UpsertPattern(ctx, "tidbcloud", base); err != nil {
		t.Fatalf("UpsertPattern: %v", err)
	}
	if err := store.UpsertPattern(ctx, "tidbcloud", dup); err != nil {
		t.Fatalf("UpsertPattern: %v", err)
	}

	patterns, err := store.Patterns(ctx, "tidbcloud")
	if err != nil {
		t.Fatalf("Patterns: %v", err)
	}
	if len(patterns) != 1 {
		t.Fatalf("got %d patterns, want 1 merged", len(patterns))
	}
	if patterns[0].SuccessCount != 2 {
		t.Fatalf("success count = %d, want 2", patterns[0].SuccessCount)
	}
	keywords := patterns[0].Trigger.IntentKeywords
	if len(keywords) != 3 {
		t.Fatalf("keywords not merged: %v", keywords)
	}
}

func TestUpsertPitfallIncrementsStructuralDuplicates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	pitfall := Pitfall{
		ID:           "pit_1",
		Trigger:      PitfallTrigger{OperationID: "DeleteCluster", ResourceState: map[string]string{"cluster": "CREATING"}},
		ErrorPattern: "cluster is not in a deletable state",
	}
	for i := 0; i < 3; i++ {
		if err := store.UpsertPitfall(ctx, "tidbcloud", pitfall); err != nil {
			t.Fatalf("UpsertPitfall: %v", err)
		}
	}

	pitfalls, err := store.Pitfalls(ctx, "tidbcloud")
	if err != nil {
		t.Fatalf("Pitfalls: %v", err)
	}
	if len(pitfalls) != 1 {
		t.Fatalf("got %d pitfalls, want 1", len(pitfalls))
	}
	if pitfalls[0].OccurrenceCount != 3 {
		t.Fatalf("occurrences = %d, want 3", pitfalls[0].OccurrenceCount)
	}
}

func TestStoreReloadsAfterInvalidate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.RecordAttempt(ctx, "tidbcloud", "ListClusters", true, 50, ""); err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}
	store.invalidate("tidbcloud")

	stats, err := store.Stats(ctx, "tidbcloud")
	if err != nil {
		t.Fatalf("Stats after invalidate: %v", err)
	}
	if stats["ListClusters"].TotalAttempts != 1 {
		t.Fatalf("reload lost data: %+v", stats)
	}
}
