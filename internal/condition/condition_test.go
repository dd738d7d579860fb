package condition

import (
	"strings"
	"testing"
)

func TestCompileRejectsEmpty(t *testing.T) {
	if _, err := Compile(""); err == nil {
		t.Fatal("Compile(\"\") should return an error")
	}
}

func TestCompileRejectsBadSyntax(t *testing.T) {
	if _, err := Compile("body.state =="); err == nil {
		t.Fatal("Compile with dangling operator should return an error")
	}
}

func TestEvalBool(t *testing.T) {
	tests := []struct {
		name   string
		source string
		ctx    *Context
		want   bool
	}{
		{
			name:   "body state equality",
			source: `body.state == "ACTIVE"`,
			ctx:    &Context{Body: map[string]any{"state": "ACTIVE"}},
			want:   true,
		},
		{
			name:   "body state mismatch",
			source: `body.state == "ACTIVE"`,
			ctx:    &Context{Body: map[string]any{"state": "CREATING"}},
			want:   false,
		},
		{
			name:   "status code",
			source: `status == 404`,
			ctx:    &Context{Status: 404},
			want:   true,
		},
		{
			name:   "nested body path",
			source: `body.tidbNodeSetting.nodeCount > 2`,
			ctx: &Context{Body: map[string]any{
				"tidbNodeSetting": map[string]any{"nodeCount": 3},
			}},
			want: true,
		},
		{
			name:   "variable presence",
			source: `"cluster_1" in vars`,
			ctx:    &Context{Vars: map[string]any{"cluster_1": "10312345"}},
			want:   true,
		},
		{
			name:   "resource state lookup",
			source: `state.cluster.cluster_1 == "ACTIVE"`,
			ctx: &Context{State: map[string]map[string]string{
				"cluster": {"cluster_1": "ACTIVE"},
			}},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compiled, err := Compile(tt.source)
			if err != nil {
				t.Fatalf("Compile(%q) returned unexpected error: %v", tt.source, err)
			}
			got, err := EvalBool(compiled, tt.ctx)
			if err != nil {
				t.Fatalf("EvalBool(%q) returned unexpected error: %v", tt.source, err)
			}
			if got != tt.want {
				t.Errorf("EvalBool(%q) = %v, want %v", tt.source, got, tt.want)
			}
		})
	}
}

func TestEvalBoolRejectsNonBool(t *testing.T) {
	compiled, err := Compile(`body.state`)
	if err != nil {
		t.Fatalf("Compile returned unexpected error: %v", err)
	}
	_, err = EvalBool(compiled, &Context{Body: map[string]any{"state": "ACTIVE"}})
	if err == nil {
		t.Fatal("EvalBool on non-boolean expression should return an error")
	}
	if !strings.Contains(err.Error(), "expected bool") {
		t.Errorf("error %q does not mention expected bool", err)
	}
}

func TestEvalBoolMissingKeyIsFalse(t *testing.T) {
	got, err := EvalBoolString(`body.missing == "X"`, &Context{Body: map[string]any{}})
	if err != nil {
		t.Fatalf("EvalBoolString returned unexpected error: %v", err)
	}
	if got {
		t.Error("comparison against an absent body key should be false")
	}
}
