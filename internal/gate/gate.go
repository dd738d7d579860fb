// Package gate decides how much human involvement a suggested operation
// needs before it runs. The decision is a pure function of the suggestion
// facts, so the same inputs always yield the same gate and the attached
// reasons explain exactly which rule fired.
package gate

import "fmt"

// Decision is the required interaction level for one suggested step.
type Decision string

const (
	// Auto executes without asking.
	Auto Decision = "AUTO"
	// Confirm requires an explicit yes before executing; used for
	// destructive checkpoints regardless of confidence.
	Confirm Decision = "CONFIRM"
	// Ask presents the candidates and lets the user choose.
	Ask Decision = "ASK"
	// WarnAndAsk is Ask with known-pitfall warnings shown first.
	WarnAndAsk Decision = "WARN_AND_ASK"
)

// Input carries the suggestion facts the policy decides on.
type Input struct {
	OperationID string
	Confidence  float64
	// Source names where the confidence came from: "known_pattern",
	// "stats", or "none".
	Source string
	// Checkpoint is true for destructive operations.
	Checkpoint bool
	// CandidateCount is how many operations survived filtering.
	CandidateCount int
	// Gap is the score distance between the best candidate and the
	// runner-up; meaningless when CandidateCount < 2.
	Gap float64
	// PitfallWarnings are the matched pitfall resolutions.
	PitfallWarnings []string
	// SimilarAlternatives is true when the runner-up scored within the
	// policy's epsilon of the best candidate.
	SimilarAlternatives bool
}

// Result is the decision with the reasons that produced it.
type Result struct {
	Decision Decision
	Reasons  []string
}

// Policy holds the confidence thresholds. All fields are tunable per SUT;
// the defaults are deliberately conservative for Auto.
type Policy struct {
	// AutoPattern is the floor for auto-running a known-pattern step.
	AutoPattern float64
	// AutoSingle is the floor for auto-running the only candidate.
	AutoSingle float64
	// AutoGap is the floor for auto-running a clear frontrunner.
	AutoGap float64
	// AskFloor separates "moderate, ask with a default" from "low, ask
	// open-ended".
	AskFloor float64
	// GapEpsilon is the score distance below which two candidates count
	// as similar.
	GapEpsilon float64
}

// DefaultPolicy returns the standard thresholds.
func DefaultPolicy() Policy {
	return Policy{
		AutoPattern: 0.9,
		AutoSingle:  0.8,
		AutoGap:     0.7,
		AskFloor:    0.5,
		GapEpsilon:  0.15,
	}
}

// Decide applies the rule cascade. Rules are ordered by severity: pitfalls
// beat checkpoints beat confidence, so a high-confidence destructive step
// still stops for confirmation.
func (p Policy) Decide(in Input) Result {
	if len(in.PitfallWarnings) > 0 {
		reasons := make([]string, 0, len(in.PitfallWarnings))
		for _, warning := range in.PitfallWarnings {
			reasons = append(reasons, "known pitfall: "+warning)
		}
		return Result{Decision: WarnAndAsk, Reasons: reasons}
	}

	if in.Checkpoint {
		return Result{Decision: Confirm, Reasons: []string{
			fmt.Sprintf("%s is destructive and always requires confirmation", in.OperationID),
		}}
	}

	if in.Source == "known_pattern" && in.Confidence >= p.AutoPattern {
		return Result{Decision: Auto, Reasons: []string{
			fmt.Sprintf("known pattern with confidence %.2f >= %.2f", in.Confidence, p.AutoPattern),
		}}
	}

	if in.CandidateCount == 1 && in.Confidence >= p.AutoSingle {
		return Result{Decision: Auto, Reasons: []string{
			fmt.Sprintf("only viable candidate with confidence %.2f >= %.2f", in.Confidence, p.AutoSingle),
		}}
	}

	if in.CandidateCount > 1 && in.Gap >= p.GapEpsilon && in.Confidence >= p.AutoGap {
		return Result{Decision: Auto, Reasons: []string{
			fmt.Sprintf("clear frontrunner: gap %.2f >= %.2f at confidence %.2f", in.Gap, p.GapEpsilon, in.Confidence),
		}}
	}

	if in.Confidence >= p.AskFloor {
		reason := fmt.Sprintf("moderate confidence %.2f, proposing with alternatives", in.Confidence)
		if in.SimilarAlternatives {
			reason = fmt.Sprintf("confidence %.2f but close alternatives exist", in.Confidence)
		}
		return Result{Decision: Ask, Reasons: []string{reason}}
	}

	return Result{Decision: Ask, Reasons: []string{
		fmt.Sprintf("low confidence %.2f, asking open-ended", in.Confidence),
	}}
}
