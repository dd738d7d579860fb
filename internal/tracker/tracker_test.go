package tracker

import (
	"reflect"
	"testing"

	"github.com/freedeaths/tidbcloud-skills/internal/execadapter"
	"github.com/freedeaths/tidbcloud-skills/internal/lifecycle"
)

func createOutcome(id string) execadapter.Outcome {
	return execadapter.Outcome{
		Success:    true,
		StatusCode: 200,
		Body:       map[string]any{"clusterId": id, "displayName": "c1"},
	}
}

func createStep() Step {
	return Step{
		OperationID:  "ClusterService_CreateCluster",
		Class:        lifecycle.OpCreate,
		ResourceType: "cluster",
		RequestType:  "http",
	}
}

func TestApplyCreateInsertsAndBindsAlias(t *testing.T) {
	tr := New(nil)

	delta := tr.Apply(createOutcome("10312345"), createStep())

	if len(delta.Inserted) != 1 || delta.Inserted[0] != "cluster/cluster_1" {
		t.Fatalf("Inserted = %v, want [cluster/cluster_1]", delta.Inserted)
	}
	if delta.BoundVars["cluster_1"] != "10312345" {
		t.Errorf("BoundVars = %v", delta.BoundVars)
	}

	state := tr.CurrentState()
	res := state["cluster"]["cluster_1"]
	if res.ID != "10312345" {
		t.Errorf("resource id = %q", res.ID)
	}
	if res.Lifecycle != lifecycle.State("CREATING") {
		t.Errorf("lifecycle = %s, want CREATING", res.Lifecycle)
	}

	// Second create binds cluster_2.
	delta = tr.Apply(createOutcome("10399999"), createStep())
	if delta.BoundVars["cluster_2"] != "10399999" {
		t.Errorf("second create BoundVars = %v", delta.BoundVars)
	}
}

func TestApplyCreateUsesReportedState(t *testing.T) {
	tr := New(nil)
	out := createOutcome("1")
	out.Body["state"] = "ACTIVE"
	tr.Apply(out, createStep())

	if got := tr.CurrentState()["cluster"]["cluster_1"].Lifecycle; got != lifecycle.State("ACTIVE") {
		t.Errorf("lifecycle = %s, want ACTIVE", got)
	}
}

func TestApplyCreateMissingIDIsDiagnostic(t *testing.T) {
	tr := New(nil)
	out := execadapter.Outcome{Success: true, StatusCode: 200, Body: map[string]any{"state": "CREATING"}}

	delta := tr.Apply(out, createStep())
	if len(delta.Diagnostics) == 0 {
		t.Fatal("missing id should surface a diagnostic")
	}
	if len(tr.CurrentState()["cluster"]) != 0 {
		t.Error("no resource should be inserted")
	}
}

func TestApplyGetMergesAndTransitions(t *testing.T) {
	tr := New(nil)
	tr.Apply(createOutcome("1"), createStep())

	get := execadapter.Outcome{
		Success:    true,
		StatusCode: 200,
		Body: map[string]any{
			"clusterId": "1", "state": "ACTIVE", "version": "v7.5.0",
		},
	}
	delta := tr.Apply(get, Step{
		OperationID:  "ClusterService_GetCluster",
		Class:        lifecycle.OpGet,
		ResourceType: "cluster",
		RequestType:  "http",
	})
	if len(delta.Updated) != 1 {
		t.Fatalf("Updated = %v", delta.Updated)
	}
	res := tr.CurrentState()["cluster"]["cluster_1"]
	if res.Lifecycle != lifecycle.State("ACTIVE") {
		t.Errorf("lifecycle = %s, want ACTIVE", res.Lifecycle)
	}
	if res.Attributes["version"] != "v7.5.0" {
		t.Errorf("attributes = %v", res.Attributes)
	}
}

func TestApplyGetInsertsWhenAbsent(t *testing.T) {
	tr := New(nil)
	get := execadapter.Outcome{
		Success:    true,
		StatusCode: 200,
		Body:       map[string]any{"clusterId": "7", "state": "ACTIVE"},
	}
	delta := tr.Apply(get, Step{Class: lifecycle.OpGet, ResourceType: "cluster", RequestType: "http"})
	if len(delta.Inserted) != 1 {
		t.Fatalf("Inserted = %v", delta.Inserted)
	}
}

func TestApplyGetExtractsNestedSubResources(t *testing.T) {
	tr := New(nil)
	tr.Apply(createOutcome("1"), createStep())

	get := execadapter.Outcome{
		Success:    true,
		StatusCode: 200,
		Body: map[string]any{
			"clusterId": "1",
			"state":     "ACTIVE",
			"tidbNodeSetting": map[string]any{
				"tidbNodeGroups": []any{
					map[string]any{"tidbNodeGroupId": "ng-42", "nodeCount": float64(3)},
				},
			},
		},
	}
	delta := tr.Apply(get, Step{Class: lifecycle.OpGet, ResourceType: "cluster", RequestType: "http"})

	found := false
	for _, inserted := range delta.Inserted {
		if inserted == "tidb_node_group/tidb_node_group_1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Inserted = %v, want tidb_node_group/tidb_node_group_1", delta.Inserted)
	}
	child := tr.CurrentState()["tidb_node_group"]["tidb_node_group_1"]
	if child.ID != "ng-42" {
		t.Errorf("child id = %q", child.ID)
	}
	if child.ParentID != "1" {
		t.Errorf("child ParentID = %q, want 1", child.ParentID)
	}
	if v, err := tr.Var("tidb_node_group_1"); err != nil || v != "ng-42" {
		t.Errorf("Var(tidb_node_group_1) = %v, %v", v, err)
	}
}

func TestApplyGetMissingIDLeavesStateUnchanged(t *testing.T) {
	tr := New(nil)
	tr.Apply(createOutcome("1"), createStep())
	before := tr.CurrentState()

	get := execadapter.Outcome{Success: true, StatusCode: 200, Body: map[string]any{"state": "ACTIVE"}}
	delta := tr.Apply(get, Step{Class: lifecycle.OpGet, ResourceType: "cluster", RequestType: "http"})

	if len(delta.Diagnostics) == 0 {
		t.Fatal("expected a diagnostic")
	}
	if !reflect.DeepEqual(before, tr.CurrentState()) {
		t.Error("state changed despite missing id field")
	}
}

func TestApplyGetUndeclaredStateBecomesUnknown(t *testing.T) {
	tr := New(nil)
	tr.Apply(createOutcome("1"), createStep())

	get := execadapter.Outcome{
		Success:    true,
		StatusCode: 200,
		Body:       map[string]any{"clusterId": "1", "state": "IMPORTING"},
	}
	delta := tr.Apply(get, Step{Class: lifecycle.OpGet, ResourceType: "cluster", RequestType: "http"})

	if got := tr.CurrentState()["cluster"]["cluster_1"].Lifecycle; got != lifecycle.StateUnknown {
		t.Errorf("lifecycle = %s, want UNKNOWN", got)
	}
	if len(delta.Diagnostics) == 0 {
		t.Error("undeclared state should surface a diagnostic")
	}
}

func TestApplyUpdateSetsInTransition(t *testing.T) {
	tr := New(nil)
	out := createOutcome("1")
	out.Body["state"] = "ACTIVE"
	tr.Apply(out, createStep())

	delta := tr.Apply(execadapter.Outcome{Success: true, StatusCode: 200, Body: map[string]any{}}, Step{
		OperationID:  "ClusterService_UpdateCluster",
		Class:        lifecycle.OpUpdate,
		ResourceType: "cluster",
		RequestType:  "http",
		TargetAlias:  "cluster_1",
	})
	if len(delta.Updated) != 1 {
		t.Fatalf("Updated = %v", delta.Updated)
	}
	if got := tr.CurrentState()["cluster"]["cluster_1"].Lifecycle; got != lifecycle.State("MODIFYING") {
		t.Errorf("lifecycle = %s, want MODIFYING", got)
	}
}

func TestApplyDeleteRemovesAndDangles(t *testing.T) {
	tr := New(nil)
	tr.Apply(createOutcome("1"), createStep())
	// A saved variable holds the same id.
	tr.SetVar("primary_cluster", "1")

	delta := tr.Apply(execadapter.Outcome{Success: true, StatusCode: 200, Body: map[string]any{}}, Step{
		OperationID:  "ClusterService_DeleteCluster",
		Class:        lifecycle.OpDelete,
		ResourceType: "cluster",
		RequestType:  "http",
		TargetAlias:  "cluster_1",
	})

	if len(delta.Removed) != 1 || delta.Removed[0] != "cluster/cluster_1" {
		t.Fatalf("Removed = %v", delta.Removed)
	}
	if len(tr.CurrentState()["cluster"]) != 0 {
		t.Error("resource not removed")
	}
	if _, err := tr.Var("cluster_1"); err == nil {
		t.Error("alias variable should be gone")
	}
	// The stale copy dangles and fails fast.
	if !reflect.DeepEqual(delta.Dangling, []string{"primary_cluster"}) {
		t.Errorf("Dangling = %v", delta.Dangling)
	}
	if _, err := tr.Var("primary_cluster"); err == nil {
		t.Error("dangling variable reuse should fail")
	}
	// Overwriting clears the dangling mark.
	tr.SetVar("primary_cluster", "2")
	if _, err := tr.Var("primary_cluster"); err != nil {
		t.Errorf("overwritten variable should be usable: %v", err)
	}
}

func TestApplyGet404RemovesDeletingResource(t *testing.T) {
	tr := New(nil)
	out := createOutcome("1")
	out.Body["state"] = "ACTIVE"
	tr.Apply(out, createStep())
	tr.Apply(execadapter.Outcome{Success: true, StatusCode: 200, Body: map[string]any{}}, Step{
		Class: lifecycle.OpDelete, ResourceType: "cluster", RequestType: "http", TargetAlias: "cluster_1",
	})
	// Delete removed it already; re-create tracking a DELETING resource.
	tr = New(nil)
	out = createOutcome("1")
	out.Body["state"] = "DELETING"
	tr.Apply(out, createStep())

	delta := tr.Apply(execadapter.Outcome{Success: false, StatusCode: 404, Body: map[string]any{}}, Step{
		Class: lifecycle.OpGet, ResourceType: "cluster", RequestType: "http", TargetAlias: "cluster_1",
	})
	if len(delta.Removed) != 1 {
		t.Fatalf("Removed = %v", delta.Removed)
	}
	if len(tr.CurrentState()["cluster"]) != 0 {
		t.Error("resource should be gone after GET 404 in DELETING")
	}
}

func TestApplyCLIExtraction(t *testing.T) {
	tr := New(nil)
	out := execadapter.Outcome{
		Success:    true,
		StatusCode: 0,
		Body:       map[string]any{"cluster": map[string]any{"clusterId": "cli-9"}},
	}
	delta := tr.Apply(out, Step{
		OperationID:  "cli_create_cluster",
		Class:        lifecycle.OpCreate,
		ResourceType: "cluster",
		RequestType:  "cli",
		ExtractPath:  "cluster.clusterId",
	})
	if delta.StateUnknown {
		t.Fatalf("extraction should succeed: %v", delta.Diagnostics)
	}
	if delta.BoundVars["cluster_1"] != "cli-9" {
		t.Errorf("BoundVars = %v", delta.BoundVars)
	}
}

func TestApplyCLIExtractionFailureFlagsStateUnknown(t *testing.T) {
	tr := New(nil)
	out := execadapter.Outcome{Success: true, Body: map[string]any{"stdout": "done"}}
	delta := tr.Apply(out, Step{
		Class: lifecycle.OpCreate, ResourceType: "cluster", RequestType: "cli",
		ExtractPath: "cluster.clusterId",
	})
	if !delta.StateUnknown {
		t.Fatal("failed extraction should flag state_unknown")
	}
	if len(tr.CurrentState()["cluster"]) != 0 {
		t.Error("state should be unchanged")
	}
}

func TestFailureChangesNothing(t *testing.T) {
	tr := New(nil)
	tr.Apply(createOutcome("1"), createStep())
	before := tr.CurrentState()

	tr.Apply(execadapter.Outcome{Success: false, StatusCode: 500, Body: map[string]any{}}, createStep())
	if !reflect.DeepEqual(before, tr.CurrentState()) {
		t.Error("failed outcome must not change state")
	}
}

// Replaying the same outcome/step sequence into a fresh tracker yields an
// identical current state.
func TestReplayIdempotence(t *testing.T) {
	type replayStep struct {
		out  execadapter.Outcome
		step Step
	}
	sequence := []replayStep{
		{createOutcome("1"), createStep()},
		{execadapter.Outcome{Success: true, StatusCode: 200,
			Body: map[string]any{"clusterId": "1", "state": "ACTIVE"}},
			Step{Class: lifecycle.OpGet, ResourceType: "cluster", RequestType: "http"}},
		{execadapter.Outcome{Success: true, StatusCode: 200, Body: map[string]any{}},
			Step{Class: lifecycle.OpUpdate, ResourceType: "cluster", RequestType: "http", TargetAlias: "cluster_1"}},
	}

	run := func() map[string]map[string]ResourceState {
		tr := New(nil)
		for _, s := range sequence {
			tr.Apply(s.out, s.step)
		}
		return tr.CurrentState()
	}

	if !reflect.DeepEqual(run(), run()) {
		t.Error("replay produced differing states")
	}
}

// Alias numbers are never reused within a session: deleting a resource must
// not let a later create rebind a still-meaningful alias to a new id.
func TestInsertAfterDeleteDoesNotReuseAlias(t *testing.T) {
	tr := New(nil)
	tr.Apply(createOutcome("10001"), createStep())
	tr.Apply(createOutcome("10002"), createStep())

	tr.Apply(execadapter.Outcome{Success: true, StatusCode: 200, Body: map[string]any{}}, Step{
		OperationID:  "ClusterService_DeleteCluster",
		Class:        lifecycle.OpDelete,
		ResourceType: "cluster",
		RequestType:  "http",
		TargetAlias:  "cluster_1",
	})

	delta := tr.Apply(createOutcome("10003"), createStep())
	if delta.BoundVars["cluster_3"] != "10003" {
		t.Fatalf("third create BoundVars = %v, want cluster_3 -> 10003", delta.BoundVars)
	}

	// The survivor is untouched.
	res := tr.CurrentState()["cluster"]["cluster_2"]
	if res.ID != "10002" {
		t.Errorf("cluster_2 id = %q, want 10002", res.ID)
	}
	if v, err := tr.Var("cluster_2"); err != nil || v != "10002" {
		t.Errorf("Var(cluster_2) = %v, %v", v, err)
	}
}

// Sibling sub-resources of the same type always get the same alias numbers,
// regardless of map iteration order, so replay cannot swap their variables.
func TestChildExtractionOrderIsDeterministic(t *testing.T) {
	get := execadapter.Outcome{
		Success:    true,
		StatusCode: 200,
		Body: map[string]any{
			"clusterId":   "1",
			"state":       "ACTIVE",
			"writerGroup": map[string]any{"tidbNodeGroupId": "ng-w"},
			"readerGroup": map[string]any{"tidbNodeGroupId": "ng-r"},
		},
	}

	want := map[string]bool{"ng-r": true, "ng-w": true}
	var first map[string]any
	for i := 0; i < 200; i++ {
		tr := New(nil)
		tr.Apply(createOutcome("1"), createStep())
		tr.Apply(get, Step{Class: lifecycle.OpGet, ResourceType: "cluster", RequestType: "http"})

		got := map[string]any{}
		for alias := range tr.CurrentState()["tidb_node_group"] {
			v, err := tr.Var(alias)
			if err != nil {
				t.Fatalf("Var(%s): %v", alias, err)
			}
			got[alias] = v
			if !want[v.(string)] {
				t.Fatalf("unexpected child id %v", v)
			}
		}
		if len(got) != 2 {
			t.Fatalf("tracked %d node groups, want 2: %v", len(got), got)
		}
		if first == nil {
			first = got
		} else if !reflect.DeepEqual(first, got) {
			t.Fatalf("iteration %d assigned %v, first run assigned %v", i, got, first)
		}
	}
	// readerGroup sorts before writerGroup, so ng-r is always _1.
	if first["tidb_node_group_1"] != "ng-r" {
		t.Errorf("tidb_node_group_1 = %v, want ng-r", first["tidb_node_group_1"])
	}
}
