package knowledge

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestRecordStepFailureDerivesPitfall(t *testing.T) {
	store := newTestStore(t)
	updater := NewUpdater(store, nil)
	ctx := context.Background()

	rec := StepRecord{
		OperationID:  "DeleteCluster",
		Success:      false,
		DurationMS:   120,
		Error:        "cluster is not in a deletable state",
		StatesByType: map[string]string{"cluster": "CREATING"},
	}
	if err := updater.RecordStep(ctx, "tidbcloud", rec); err != nil {
		t.Fatalf("RecordStep: %v", err)
	}

	pitfalls, err := store.Pitfalls(ctx, "tidbcloud")
	if err != nil {
		t.Fatalf("Pitfalls: %v", err)
	}
	if len(pitfalls) != 1 {
		t.Fatalf("got %d pitfalls, want 1", len(pitfalls))
	}
	got := pitfalls[0]
	if got.Trigger.OperationID != "DeleteCluster" {
		t.Fatalf("trigger operation = %q", got.Trigger.OperationID)
	}
	if got.Trigger.ResourceState["cluster"] != "CREATING" {
		t.Fatalf("trigger state = %v", got.Trigger.ResourceState)
	}

	stats, _ := store.Stats(ctx, "tidbcloud")
	if stats["DeleteCluster"].Failures != 1 {
		t.Fatalf("stats = %+v", stats["DeleteCluster"])
	}
}

func TestRecordStepAbortCountsButLeavesNoPitfall(t *testing.T) {
	store := newTestStore(t)
	updater := NewUpdater(store, nil)
	ctx := context.Background()

	rec := StepRecord{OperationID: "DeleteCluster", Success: false, Aborted: true}
	if err := updater.RecordStep(ctx, "tidbcloud", rec); err != nil {
		t.Fatalf("RecordStep: %v", err)
	}

	stats, _ := store.Stats(ctx, "tidbcloud")
	row := stats["DeleteCluster"]
	if row.Failures != 1 || row.CommonErrors["aborted"] != 1 {
		t.Fatalf("aborted step not counted as failure: %+v", row)
	}
	pitfalls, _ := store.Pitfalls(ctx, "tidbcloud")
	if len(pitfalls) != 0 {
		t.Fatalf("abort must not produce a pitfall, got %v", pitfalls)
	}
}

func TestRecordSessionOutcomeSynthesizesPattern(t *testing.T) {
	store := newTestStore(t)
	updater := NewUpdater(store, nil)
	ctx := context.Background()

	steps := []StepRecord{
		{
			OperationID: "CreateCluster",
			RequestType: "http",
			Request:     map[string]any{"displayName": "demo", "region": "us-west-2"},
			Save:        map[string]string{"cluster_1": "body.clusterId"},
			Success:     true,
		},
		{
			OperationID: "GetCluster",
			RequestType: "http",
			Request:     map[string]any{"clusterId": "10427380843271"},
			Success:     true,
		},
	}
	bound := map[string]string{"cluster_1": "10427380843271"}

	if err := updater.RecordSessionOutcome(ctx, "tidbcloud", "create a cluster and wait for it", "", steps, bound); err != nil {
		t.Fatalf("RecordSessionOutcome: %v", err)
	}

	patterns, err := store.Patterns(ctx, "tidbcloud")
	if err != nil {
		t.Fatalf("Patterns: %v", err)
	}
	if len(patterns) != 1 {
		t.Fatalf("got %d patterns, want 1", len(patterns))
	}
	p := patterns[0]
	if p.SuccessCount != 1 {
		t.Fatalf("success count = %d", p.SuccessCount)
	}
	if got := p.Steps[1].Request["clusterId"]; got != "{cluster_1}" {
		t.Fatalf("concrete id not abstracted: %v", got)
	}
	wantKeywords := []string{"create", "cluster", "wait", "it"}
	if !reflect.DeepEqual(p.Trigger.IntentKeywords, wantKeywords) {
		t.Fatalf("keywords = %v, want %v", p.Trigger.IntentKeywords, wantKeywords)
	}
}

func TestRecordSessionOutcomeSkipsSingleStepRuns(t *testing.T) {
	store := newTestStore(t)
	updater := NewUpdater(store, nil)
	ctx := context.Background()

	steps := []StepRecord{{OperationID: "ListClusters", Success: true}}
	if err := updater.RecordSessionOutcome(ctx, "tidbcloud", "list clusters", "", steps, nil); err != nil {
		t.Fatalf("RecordSessionOutcome: %v", err)
	}
	patterns, _ := store.Patterns(ctx, "tidbcloud")
	if len(patterns) != 0 {
		t.Fatalf("single-step run must not become a pattern")
	}
}

func TestRecordSessionOutcomeBumpsUsedPattern(t *testing.T) {
	store := newTestStore(t)
	updater := NewUpdater(store, nil)
	ctx := context.Background()

	seed := Pattern{
		ID:           "pat_seed",
		Steps:        []StepTemplate{{OperationID: "PauseCluster"}, {OperationID: "GetCluster"}},
		SuccessCount: 4,
	}
	if err := store.UpsertPattern(ctx, "tidbcloud", seed); err != nil {
		t.Fatalf("UpsertPattern: %v", err)
	}

	steps := []StepRecord{
		{OperationID: "PauseCluster", Success: true},
		{OperationID: "GetCluster", Success: true},
	}
	if err := updater.RecordSessionOutcome(ctx, "tidbcloud", "pause the cluster", "pat_seed", steps, nil); err != nil {
		t.Fatalf("RecordSessionOutcome: %v", err)
	}

	patterns, _ := store.Patterns(ctx, "tidbcloud")
	if len(patterns) != 1 || patterns[0].SuccessCount != 5 {
		t.Fatalf("pattern outcome not recorded: %+v", patterns)
	}
}

func TestPredicateEval(t *testing.T) {
	pctx := PredicateContext{
		Keywords: map[string]struct{}{"pause": {}, "cluster": {}},
		States:   map[string]map[string]string{"cluster": {"cluster_1": "ACTIVE"}},
		Vars:     map[string]struct{}{"cluster_1": {}},
	}
	tests := []struct {
		name string
		pred Predicate
		want bool
	}{
		{"intent match", Predicate{Kind: PredIntentMatch, Keywords: []string{"pause"}}, true},
		{"intent miss", Predicate{Kind: PredIntentMatch, Keywords: []string{"resume"}}, false},
		{"state equals any alias", Predicate{Kind: PredResourceStateEquals, ResourceType: "cluster", State: "ACTIVE"}, true},
		{"state equals named alias", Predicate{Kind: PredResourceStateEquals, ResourceType: "cluster", Alias: "cluster_1", State: "PAUSED"}, false},
		{"variable present", Predicate{Kind: PredVariablePresent, Variable: "cluster_1"}, true},
		{"variable missing", Predicate{Kind: PredVariableMissing, Variable: "backup_1"}, true},
		{"all", Predicate{Kind: PredPreconditionAll, All: []Predicate{
			{Kind: PredIntentMatch, Keywords: []string{"pause"}},
			{Kind: PredVariablePresent, Variable: "cluster_1"},
		}}, true},
		{"unknown kind is false", Predicate{Kind: "regex_match"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pred.Eval(pctx); got != tt.want {
				t.Fatalf("Eval = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorSignatureCutsOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("x", 119) + "日本語"
	sig := ErrorSignature(long)
	if !utf8.ValidString(sig) {
		t.Fatalf("signature is not valid UTF-8: %q", sig)
	}
	if len(sig) != 119 {
		t.Errorf("len = %d, want the rune before the limit dropped whole", len(sig))
	}

	if got := ErrorSignature("  Connection REFUSED "); got != "connection refused" {
		t.Errorf("ErrorSignature = %q", got)
	}
}
