package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSanitizeText(t *testing.T) {
	in := "GET https://serverless.tidbapi.com/v1beta1/clusters/10427380843271 failed for deadbeefcafe01"
	got := SanitizeText(in)
	if strings.Contains(got, "tidbapi.com") || strings.Contains(got, "10427380843271") || strings.Contains(got, "deadbeef") {
		t.Fatalf("sanitize left environment detail: %q", got)
	}
	if !strings.Contains(got, "<url>") || !strings.Contains(got, "<id>") {
		t.Fatalf("markers missing: %q", got)
	}
}

func TestBuildExportFiltersAndSanitizes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustNoErr := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	mustNoErr(store.UpsertPattern(ctx, "tidbcloud", Pattern{
		ID:           "pat_good",
		Steps:        []StepTemplate{{OperationID: "CreateCluster", Request: map[string]any{"rootPassword": "hunter2", "displayName": "demo"}}, {OperationID: "GetCluster"}},
		SuccessCount: 3,
	}))
	mustNoErr(store.UpsertPattern(ctx, "tidbcloud", Pattern{
		ID:    "pat_unproven",
		Steps: []StepTemplate{{OperationID: "UpdateCluster"}},
	}))
	mustNoErr(store.UpsertPitfall(ctx, "tidbcloud", Pitfall{
		ID:              "pit_common",
		Trigger:         PitfallTrigger{OperationID: "DeleteCluster"},
		ErrorPattern:    "not deletable",
		OccurrenceCount: 5,
	}))
	mustNoErr(store.UpsertPitfall(ctx, "tidbcloud", Pitfall{
		ID:           "pit_flake",
		Trigger:      PitfallTrigger{OperationID: "ListClusters"},
		ErrorPattern: "connection reset",
	}))

	export, err := BuildExport(ctx, store, "tidbcloud", ExportOptions{MinOccurrences: 2, MinPatternSuccesses: 1})
	if err != nil {
		t.Fatalf("BuildExport: %v", err)
	}
	if len(export.Patterns) != 1 || export.Patterns[0].ID != "pat_good" {
		t.Fatalf("pattern filter wrong: %+v", export.Patterns)
	}
	if len(export.Pitfalls) != 1 || export.Pitfalls[0].ID != "pit_common" {
		t.Fatalf("pitfall filter wrong: %+v", export.Pitfalls)
	}
	if got := export.Patterns[0].Steps[0].Request["rootPassword"]; got != "{root_password}" {
		t.Fatalf("credential leaked into export: %v", got)
	}
}

func TestWriteExportMergesWithExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knowledge.yaml")

	first := Export{
		SUT:      "tidbcloud",
		Patterns: []Pattern{{ID: "pat_a", Steps: []StepTemplate{{OperationID: "CreateCluster"}}, SuccessCount: 2}},
		Stats:    []OperationStats{{OperationID: "CreateCluster", TotalAttempts: 2, Successes: 2, AvgDurationMS: 100}},
	}
	if err := WriteExport(path, first); err != nil {
		t.Fatalf("WriteExport: %v", err)
	}

	second := Export{
		SUT:      "tidbcloud",
		Patterns: []Pattern{{ID: "pat_other_id", Steps: []StepTemplate{{OperationID: "CreateCluster"}}, SuccessCount: 3}},
		Stats:    []OperationStats{{OperationID: "CreateCluster", TotalAttempts: 2, Successes: 1, Failures: 1, AvgDurationMS: 300}},
	}
	if err := WriteExport(path, second); err != nil {
		t.Fatalf("WriteExport merge: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(raw)
	if strings.Count(text, "operation_id: CreateCluster") != 2 {
		// One occurrence inside the merged pattern step, one in stats.
		t.Fatalf("merge duplicated rows:\n%s", text)
	}
	if !strings.Contains(text, "success_count: 5") {
		t.Fatalf("pattern counters not summed:\n%s", text)
	}
	if !strings.Contains(text, "total_attempts: 4") {
		t.Fatalf("stats not summed:\n%s", text)
	}
	if !strings.Contains(text, "avg_duration_ms: 200") {
		t.Fatalf("weighted average wrong:\n%s", text)
	}
}
