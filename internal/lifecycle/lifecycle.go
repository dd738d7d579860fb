// Package lifecycle defines per-resource-type state machines as data tables.
// New resource types are added by declaring a new Machine, never by branching
// logic in the components that consult them.
package lifecycle

// OpClass is the class of an operation relative to a resource's lifecycle.
type OpClass string

const (
	OpCreate OpClass = "create"
	OpGet    OpClass = "get"
	OpUpdate OpClass = "update"
	OpDelete OpClass = "delete"
	OpPause  OpClass = "pause"
	OpResume OpClass = "resume"
)

// State is a lifecycle state name.
type State string

const (
	// StateAbsent means the resource does not exist (yet, or anymore).
	StateAbsent State = "ABSENT"
	// StateUnknown is the terminal catch-all for a reported state outside a
	// type's declared alphabet. It permits only GET, forcing an intervention.
	StateUnknown State = "UNKNOWN"
)

// OutcomeSuccess is the transition outcome for plain successful mutations.
// GET transitions use the reported state name (or "404") as the outcome.
const OutcomeSuccess = "success"

// Transition is one edge of a type's state machine.
type Transition struct {
	From    State
	Op      OpClass
	Outcome string
	To      State
}

// Machine is the state machine for one resource type.
type Machine struct {
	Type string

	// Initial is the state a resource enters after a successful CREATE when
	// the response does not report one.
	Initial State

	// InTransition is the canonical state set by a successful UPDATE before
	// a subsequent GET confirms the result.
	InTransition State

	// Alphabet lists the declared states for this type. Reported states
	// outside it normalize to UNKNOWN.
	Alphabet []State

	// Allowed maps a state to the operation classes permitted in it.
	Allowed map[State][]OpClass

	Transitions []Transition

	// AbortOp names the designated abort operation for in-transition states,
	// empty when the type has none.
	AbortOp string
}

// AllowedOps returns the permitted operation classes in the given state.
// Unknown and undeclared states permit only GET.
func (m *Machine) AllowedOps(s State) []OpClass {
	if ops, ok := m.Allowed[s]; ok {
		return ops
	}
	return []OpClass{OpGet}
}

// Allows reports whether op is permitted in state s.
func (m *Machine) Allows(s State, op OpClass) bool {
	for _, allowed := range m.AllowedOps(s) {
		if allowed == op {
			return true
		}
	}
	return false
}

// Next returns the state reached from s via op with the given outcome.
// The second return is false when no declared edge matches.
func (m *Machine) Next(s State, op OpClass, outcome string) (State, bool) {
	for _, t := range m.Transitions {
		if t.From == s && t.Op == op && t.Outcome == outcome {
			return t.To, true
		}
	}
	return s, false
}

// Normalize maps a reported state string onto the declared alphabet,
// returning UNKNOWN for anything outside it.
func (m *Machine) Normalize(reported string) State {
	if reported == "" {
		return StateUnknown
	}
	s := State(reported)
	for _, known := range m.Alphabet {
		if s == known {
			return s
		}
	}
	return StateUnknown
}

// InTransitionStates returns the states from which only GET (and the abort
// operation, if any) is permitted.
func (m *Machine) InTransitionStates() []State {
	var out []State
	for s, ops := range m.Allowed {
		if len(ops) == 1 && ops[0] == OpGet && s != StateUnknown {
			out = append(out, s)
		}
	}
	return out
}

// Registry holds the machines for all known resource types.
type Registry struct {
	machines map[string]*Machine
}

// NewRegistry creates a registry with the given machines.
func NewRegistry(machines ...*Machine) *Registry {
	r := &Registry{machines: make(map[string]*Machine)}
	for _, m := range machines {
		r.machines[m.Type] = m
	}
	return r
}

// DefaultRegistry returns a registry with the built-in resource types.
func DefaultRegistry() *Registry {
	return NewRegistry(ClusterMachine())
}

// Lookup returns the machine for a resource type, or nil when undeclared.
func (r *Registry) Lookup(resourceType string) *Machine {
	return r.machines[resourceType]
}

// Types returns the declared resource type names.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.machines))
	for t := range r.machines {
		out = append(out, t)
	}
	return out
}

// ClusterMachine returns the built-in state machine for TiDB Cloud clusters.
func ClusterMachine() *Machine {
	return &Machine{
		Type:         "cluster",
		Initial:      "CREATING",
		InTransition: "MODIFYING",
		Alphabet: []State{
			StateAbsent, "CREATING", "ACTIVE", "MODIFYING",
			"PAUSING", "PAUSED", "RESUMING", "DELETING",
		},
		Allowed: map[State][]OpClass{
			StateAbsent:  {OpCreate, OpGet},
			"CREATING":   {OpGet},
			"ACTIVE":     {OpGet, OpUpdate, OpDelete, OpPause},
			"MODIFYING":  {OpGet},
			"PAUSING":    {OpGet},
			"PAUSED":     {OpGet, OpResume, OpDelete},
			"RESUMING":   {OpGet},
			"DELETING":   {OpGet},
			StateUnknown: {OpGet},
		},
		Transitions: []Transition{
			{StateAbsent, OpCreate, OutcomeSuccess, "CREATING"},
			{"CREATING", OpGet, "ACTIVE", "ACTIVE"},
			{"ACTIVE", OpUpdate, OutcomeSuccess, "MODIFYING"},
			{"MODIFYING", OpGet, "ACTIVE", "ACTIVE"},
			{"ACTIVE", OpPause, OutcomeSuccess, "PAUSING"},
			{"PAUSING", OpGet, "PAUSED", "PAUSED"},
			{"PAUSED", OpResume, OutcomeSuccess, "RESUMING"},
			{"RESUMING", OpGet, "ACTIVE", "ACTIVE"},
			{"ACTIVE", OpDelete, OutcomeSuccess, "DELETING"},
			{"PAUSED", OpDelete, OutcomeSuccess, "DELETING"},
			{"DELETING", OpGet, "404", StateAbsent},
		},
	}
}
