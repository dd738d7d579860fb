package knowledge

import "strings"

// Predicate kinds. A trigger's precondition is a small tagged tree rather
// than free-form code so that stored knowledge stays data.
const (
	PredIntentMatch         = "intent_match"
	PredPreconditionAll     = "all"
	PredResourceStateEquals = "resource_state_equals"
	PredVariableMissing     = "variable_missing"
	PredVariablePresent     = "variable_present"
)

// Predicate is one node of a trigger precondition tree.
type Predicate struct {
	Kind string `yaml:"kind" json:"kind"`

	Keywords     []string `yaml:"keywords,omitempty" json:"keywords,omitempty"`
	ResourceType string   `yaml:"resource_type,omitempty" json:"resource_type,omitempty"`
	Alias        string   `yaml:"alias,omitempty" json:"alias,omitempty"`
	State        string   `yaml:"state,omitempty" json:"state,omitempty"`
	Variable     string   `yaml:"variable,omitempty" json:"variable,omitempty"`

	All []Predicate `yaml:"all,omitempty" json:"all,omitempty"`
}

// PredicateContext carries the session facts a predicate is evaluated
// against.
type PredicateContext struct {
	// Keywords extracted from the intent, lowercased.
	Keywords map[string]struct{}
	// States maps resource type to alias to lifecycle state.
	States map[string]map[string]string
	// Vars is the set of bound variable names.
	Vars map[string]struct{}
}

// Eval evaluates the predicate. Unknown kinds evaluate to false so that
// knowledge written by a newer build degrades safely instead of firing.
func (p Predicate) Eval(pctx PredicateContext) bool {
	switch p.Kind {
	case PredIntentMatch:
		for _, kw := range p.Keywords {
			if _, ok := pctx.Keywords[strings.ToLower(kw)]; !ok {
				return false
			}
		}
		return len(p.Keywords) > 0
	case PredPreconditionAll:
		for _, child := range p.All {
			if !child.Eval(pctx) {
				return false
			}
		}
		return true
	case PredResourceStateEquals:
		byAlias, ok := pctx.States[p.ResourceType]
		if !ok {
			return false
		}
		if p.Alias != "" {
			return byAlias[p.Alias] == p.State
		}
		for _, state := range byAlias {
			if state == p.State {
				return true
			}
		}
		return false
	case PredVariableMissing:
		_, bound := pctx.Vars[p.Variable]
		return !bound
	case PredVariablePresent:
		_, bound := pctx.Vars[p.Variable]
		return bound
	default:
		return false
	}
}
