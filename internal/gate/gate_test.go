package gate

import (
	"strings"
	"testing"
)

func TestDecide(t *testing.T) {
	policy := DefaultPolicy()
	tests := []struct {
		name       string
		in         Input
		want       Decision
		wantReason string
	}{
		{
			name: "pitfall wins over everything",
			in: Input{
				OperationID: "DeleteCluster", Confidence: 0.95, Source: "known_pattern",
				Checkpoint: true, PitfallWarnings: []string{"cluster must not be CREATING"},
			},
			want:       WarnAndAsk,
			wantReason: "known pitfall",
		},
		{
			name: "checkpoint confirms even at high confidence",
			in:   Input{OperationID: "DeleteCluster", Confidence: 0.99, Source: "known_pattern", Checkpoint: true, CandidateCount: 1},
			want: Confirm,
		},
		{
			name: "known pattern auto",
			in:   Input{OperationID: "CreateCluster", Confidence: 0.92, Source: "known_pattern", CandidateCount: 3},
			want: Auto,
		},
		{
			name: "known pattern below floor asks",
			in:   Input{OperationID: "CreateCluster", Confidence: 0.85, Source: "known_pattern", CandidateCount: 3, Gap: 0.05},
			want: Ask,
		},
		{
			name: "single candidate auto",
			in:   Input{OperationID: "ListClusters", Confidence: 0.82, Source: "stats", CandidateCount: 1},
			want: Auto,
		},
		{
			name: "clear gap auto",
			in:   Input{OperationID: "GetCluster", Confidence: 0.75, Source: "stats", CandidateCount: 4, Gap: 0.3},
			want: Auto,
		},
		{
			name:       "similar alternatives ask",
			in:         Input{OperationID: "UpdateCluster", Confidence: 0.72, Source: "stats", CandidateCount: 2, Gap: 0.03, SimilarAlternatives: true},
			want:       Ask,
			wantReason: "close alternatives",
		},
		{
			name:       "low confidence asks open-ended",
			in:         Input{OperationID: "UpdateCluster", Confidence: 0.3, Source: "none", CandidateCount: 5},
			want:       Ask,
			wantReason: "low confidence",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := policy.Decide(tt.in)
			if got.Decision != tt.want {
				t.Fatalf("Decide = %s (%v), want %s", got.Decision, got.Reasons, tt.want)
			}
			if len(got.Reasons) == 0 {
				t.Fatal("decision carries no reasons")
			}
			if tt.wantReason != "" && !strings.Contains(strings.Join(got.Reasons, "; "), tt.wantReason) {
				t.Fatalf("reasons %v missing %q", got.Reasons, tt.wantReason)
			}
		})
	}
}

func TestDecideIsDeterministic(t *testing.T) {
	policy := DefaultPolicy()
	in := Input{OperationID: "GetCluster", Confidence: 0.75, Source: "stats", CandidateCount: 4, Gap: 0.3}
	first := policy.Decide(in)
	for i := 0; i < 10; i++ {
		if got := policy.Decide(in); got.Decision != first.Decision {
			t.Fatalf("nondeterministic decision: %s vs %s", got.Decision, first.Decision)
		}
	}
}
