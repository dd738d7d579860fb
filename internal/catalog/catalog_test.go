package catalog

import (
	"testing"

	"github.com/freedeaths/tidbcloud-skills/internal/lifecycle"
)

const testSpec = `{
  "swagger": "2.0",
  "paths": {
    "/clusters": {
      "get": {
        "operationId": "ClusterService_ListClusters",
        "summary": "Lists clusters in a project.",
        "tags": ["ClusterService"],
        "parameters": [
          {"name": "pageSize", "in": "query", "required": false, "type": "integer"}
        ]
      },
      "post": {
        "operationId": "ClusterService_CreateCluster",
        "summary": "Creates a new cluster.",
        "tags": ["ClusterService"],
        "parameters": [
          {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/Cluster"}}
        ]
      }
    },
    "/clusters/{clusterId}": {
      "get": {
        "operationId": "ClusterService_GetCluster",
        "summary": "Gets details of a cluster.",
        "parameters": [
          {"name": "clusterId", "in": "path", "required": true, "type": "string"}
        ]
      },
      "delete": {
        "operationId": "ClusterService_DeleteCluster",
        "summary": "Deletes a cluster.",
        "parameters": [
          {"name": "clusterId", "in": "path", "required": true, "type": "string"}
        ]
      },
      "patch": {
        "operationId": "ClusterService_UpdateCluster",
        "summary": "Updates a cluster.",
        "parameters": [
          {"name": "clusterId", "in": "path", "required": true, "type": "string"},
          {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateClusterBody"}}
        ]
      }
    },
    "/clusters/{clusterId}:pause": {
      "post": {
        "operationId": "ClusterService_PauseCluster",
        "summary": "Pauses a cluster.",
        "parameters": [
          {"name": "clusterId", "in": "path", "required": true, "type": "string"}
        ]
      }
    }
  },
  "definitions": {
    "Cluster": {
      "type": "object",
      "required": ["displayName", "regionId"],
      "properties": {
        "displayName": {"type": "string"},
        "regionId": {"type": "string"},
        "rootPassword": {"type": "string"},
        "tidbNodeSetting": {"$ref": "#/definitions/TidbNodeSetting"}
      }
    },
    "UpdateClusterBody": {
      "type": "object",
      "properties": {
        "displayName": {"type": "string"}
      }
    },
    "TidbNodeSetting": {
      "type": "object",
      "properties": {
        "nodeCount": {"type": "integer"}
      }
    },
    "googlerpcStatus": {"type": "object"}
  }
}`

func mustParse(t *testing.T) *Index {
	t.Helper()
	idx, err := Parse([]byte(testSpec))
	if err != nil {
		t.Fatalf("Parse returned unexpected error: %v", err)
	}
	return idx
}

func TestFindByKeywords(t *testing.T) {
	idx := mustParse(t)

	hits := idx.Find([]string{"create", "cluster"})
	if len(hits) == 0 {
		t.Fatal("Find returned no hits")
	}
	if hits[0].ID != "ClusterService_CreateCluster" {
		t.Errorf("top hit = %s, want ClusterService_CreateCluster", hits[0].ID)
	}

	if hits := idx.Find([]string{"backup"}); len(hits) != 0 {
		t.Errorf("Find(backup) = %d hits, want 0", len(hits))
	}
}

func TestClassification(t *testing.T) {
	idx := mustParse(t)

	tests := []struct {
		id         string
		class      lifecycle.OpClass
		checkpoint bool
	}{
		{"ClusterService_CreateCluster", lifecycle.OpCreate, false},
		{"ClusterService_GetCluster", lifecycle.OpGet, false},
		{"ClusterService_UpdateCluster", lifecycle.OpUpdate, false},
		{"ClusterService_DeleteCluster", lifecycle.OpDelete, true},
		{"ClusterService_PauseCluster", lifecycle.OpPause, false},
	}
	for _, tt := range tests {
		spec, err := idx.Describe(tt.id)
		if err != nil {
			t.Fatalf("Describe(%s) returned unexpected error: %v", tt.id, err)
		}
		if spec.Class != tt.class {
			t.Errorf("%s class = %s, want %s", tt.id, spec.Class, tt.class)
		}
		if spec.Checkpoint != tt.checkpoint {
			t.Errorf("%s checkpoint = %v, want %v", tt.id, spec.Checkpoint, tt.checkpoint)
		}
	}
}

func TestDescribeFields(t *testing.T) {
	idx := mustParse(t)

	spec, err := idx.Describe("ClusterService_CreateCluster")
	if err != nil {
		t.Fatalf("Describe returned unexpected error: %v", err)
	}
	wantRequired := map[string]bool{"displayName": true, "regionId": true}
	for _, f := range spec.RequiredFields {
		if !wantRequired[f] {
			t.Errorf("unexpected required field %q", f)
		}
		delete(wantRequired, f)
	}
	for f := range wantRequired {
		t.Errorf("missing required field %q", f)
	}

	foundOptional := false
	for _, f := range spec.OptionalFields {
		if f == "rootPassword" {
			foundOptional = true
		}
	}
	if !foundOptional {
		t.Errorf("OptionalFields %v missing rootPassword", spec.OptionalFields)
	}
}

func TestDescribeUnknownOperation(t *testing.T) {
	idx := mustParse(t)
	if _, err := idx.Describe("ClusterService_Nope"); err == nil {
		t.Fatal("Describe of unknown operation should return an error")
	}
}

func TestExtractClosure(t *testing.T) {
	idx := mustParse(t)

	out, err := idx.Extract("ClusterService_CreateCluster")
	if err != nil {
		t.Fatalf("Extract returned unexpected error: %v", err)
	}
	defs, ok := out["definitions"].(map[string]any)
	if !ok {
		t.Fatal("Extract output missing definitions")
	}
	if _, ok := defs["Cluster"]; !ok {
		t.Error("definitions missing Cluster")
	}
	if _, ok := defs["TidbNodeSetting"]; !ok {
		t.Error("definitions missing transitively referenced TidbNodeSetting")
	}
	if _, ok := defs["googlerpcStatus"]; ok {
		t.Error("definitions should not contain googlerpcStatus")
	}
	if _, ok := defs["UpdateClusterBody"]; ok {
		t.Error("definitions should not contain unrelated UpdateClusterBody")
	}
}

func TestTokenOverlap(t *testing.T) {
	idx := mustParse(t)

	full := idx.TokenOverlap("ClusterService_CreateCluster", []string{"create", "cluster"})
	if full != 1.0 {
		t.Errorf("TokenOverlap(create cluster) = %v, want 1.0", full)
	}
	half := idx.TokenOverlap("ClusterService_CreateCluster", []string{"create", "backup"})
	if half != 0.5 {
		t.Errorf("TokenOverlap(create backup) = %v, want 0.5", half)
	}
}

func TestList(t *testing.T) {
	idx := mustParse(t)

	all := idx.List("", 0)
	if len(all) != 6 {
		t.Errorf("List(\"\") = %d operations, want 6", len(all))
	}
	paused := idx.List("pause", 0)
	if len(paused) != 1 || paused[0].ID != "ClusterService_PauseCluster" {
		t.Errorf("List(pause) = %v, want only ClusterService_PauseCluster", paused)
	}
	limited := idx.List("", 2)
	if len(limited) != 2 {
		t.Errorf("List with limit 2 returned %d", len(limited))
	}
}
