// Package tracker holds the session-scoped model of observed resource
// instances: their lifecycle states, parent links, and the variables bound
// to their identifiers. A tracker is owned by exactly one session driver.
package tracker

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/freedeaths/tidbcloud-skills/internal/execadapter"
	"github.com/freedeaths/tidbcloud-skills/internal/lifecycle"
)

// ResourceState is one observed resource instance.
type ResourceState struct {
	ID        string           `json:"id"`
	Type      string           `json:"type"`
	Lifecycle lifecycle.State  `json:"lifecycle_state"`
	ParentID  string           `json:"parent_id,omitempty"`
	Attributes map[string]any  `json:"attributes,omitempty"`
}

// Step describes the operation an outcome belongs to, as far as state
// tracking is concerned.
type Step struct {
	OperationID  string
	Class        lifecycle.OpClass
	ResourceType string
	RequestType  string // http or cli
	// TargetAlias names the resource the operation addressed; empty means
	// the sole resource of the type.
	TargetAlias string
	// ExtractPath is the declared path for pulling a created-resource id out
	// of parsed CLI output, e.g. "cluster.clusterId".
	ExtractPath string
}

// Delta reports what one Apply changed. Rule violations surface as
// diagnostics, never as errors.
type Delta struct {
	Inserted    []string // "<type>/<alias>"
	Updated     []string
	Removed     []string
	BoundVars   map[string]any
	Dangling    []string
	Diagnostics []string
	// StateUnknown marks a CLI outcome whose declared extraction failed;
	// state was left unchanged.
	StateUnknown bool
}

// Tracker is the in-memory state model for one session.
type Tracker struct {
	registry  *lifecycle.Registry
	resources map[string]map[string]*ResourceState // type -> alias -> resource
	vars      map[string]any
	dangling  map[string]struct{}
	// counters assign alias numbers per type. Monotonic: a delete never
	// frees a number, so an alias can never be rebound to a different
	// resource within one session.
	counters map[string]int
}

// New creates an empty tracker over the given lifecycle registry.
func New(registry *lifecycle.Registry) *Tracker {
	if registry == nil {
		registry = lifecycle.DefaultRegistry()
	}
	return &Tracker{
		registry:  registry,
		resources: make(map[string]map[string]*ResourceState),
		vars:      make(map[string]any),
		dangling:  make(map[string]struct{}),
		counters:  make(map[string]int),
	}
}

// Apply folds one outcome into the tracked state and returns the delta.
// Rules are evaluated in declaration order; the first matching rule wins.
func (t *Tracker) Apply(outcome execadapter.Outcome, step Step) Delta {
	delta := Delta{BoundVars: map[string]any{}}

	switch {
	case step.RequestType == "cli":
		t.applyCLI(outcome, step, &delta)
	case step.Class == lifecycle.OpGet && outcome.StatusCode == 404:
		t.applyGone(step, &delta)
	case !outcome.Success:
		// Failures change nothing; polling and the knowledge updater own them.
	case step.Class == lifecycle.OpCreate:
		t.applyCreate(outcome, step, &delta)
	case step.Class == lifecycle.OpGet:
		t.applyGet(outcome, step, &delta)
	case step.Class == lifecycle.OpUpdate || step.Class == lifecycle.OpPause || step.Class == lifecycle.OpResume:
		t.applyTransition(step, &delta)
	case step.Class == lifecycle.OpDelete:
		t.applyDelete(step, &delta)
	}
	return delta
}

// Rule 1: successful CREATE inserts a resource and binds an alias variable.
func (t *Tracker) applyCreate(outcome execadapter.Outcome, step Step, delta *Delta) {
	machine := t.registry.Lookup(step.ResourceType)

	id := stringValue(outcome.Body[IDField(step.ResourceType)])
	if id == "" {
		delta.Diagnostics = append(delta.Diagnostics,
			fmt.Sprintf("create response for %s missing %s", step.OperationID, IDField(step.ResourceType)))
		return
	}

	state := lifecycle.State("CREATING")
	if machine != nil {
		state = machine.Initial
		if reported := stringValue(outcome.Body["state"]); reported != "" {
			state = machine.Normalize(reported)
		}
	}

	alias := t.insert(&ResourceState{
		ID:         id,
		Type:       step.ResourceType,
		Lifecycle:  state,
		Attributes: scalarAttributes(outcome.Body),
	})
	t.bind(alias, id)
	delta.Inserted = append(delta.Inserted, step.ResourceType+"/"+alias)
	delta.BoundVars[alias] = id
}

// Rule 2: successful GET merges attributes by id, inserting when absent, and
// extracts nested sub-resources with ParentID set.
func (t *Tracker) applyGet(outcome execadapter.Outcome, step Step, delta *Delta) {
	machine := t.registry.Lookup(step.ResourceType)

	id := stringValue(outcome.Body[IDField(step.ResourceType)])
	if id == "" {
		delta.Diagnostics = append(delta.Diagnostics,
			fmt.Sprintf("get response for %s missing declared id field %s; state unchanged",
				step.OperationID, IDField(step.ResourceType)))
		return
	}

	alias, existing := t.findByID(step.ResourceType, id)
	if existing == nil {
		existing = &ResourceState{ID: id, Type: step.ResourceType, Attributes: map[string]any{}}
		alias = t.insert(existing)
		delta.Inserted = append(delta.Inserted, step.ResourceType+"/"+alias)
	} else {
		delta.Updated = append(delta.Updated, step.ResourceType+"/"+alias)
	}

	for k, v := range scalarAttributes(outcome.Body) {
		existing.Attributes[k] = v
	}

	if reported := stringValue(outcome.Body["state"]); reported != "" && machine != nil {
		normalized := machine.Normalize(reported)
		if next, ok := machine.Next(existing.Lifecycle, lifecycle.OpGet, string(normalized)); ok {
			existing.Lifecycle = next
		} else {
			if normalized == lifecycle.StateUnknown && reported != string(lifecycle.StateUnknown) {
				delta.Diagnostics = append(delta.Diagnostics,
					fmt.Sprintf("resource %s reported undeclared state %q", id, reported))
			}
			existing.Lifecycle = normalized
		}
	}

	t.extractChildren(outcome.Body, existing, delta)
}

// applyGone handles GET returning 404: a resource in a deleting state is
// confirmed removed when the machine declares the (state, get, 404) edge.
func (t *Tracker) applyGone(step Step, delta *Delta) {
	alias, res := t.target(step)
	if res == nil {
		return
	}
	machine := t.registry.Lookup(step.ResourceType)
	if machine == nil {
		return
	}
	next, ok := machine.Next(res.Lifecycle, lifecycle.OpGet, "404")
	if !ok || next != lifecycle.StateAbsent {
		return
	}
	delete(t.resources[step.ResourceType], alias)
	delete(t.vars, alias)
	delta.Removed = append(delta.Removed, step.ResourceType+"/"+alias)
}

// Rule 3: successful UPDATE-class operation moves the resource to its
// canonical in-transition state without waiting for a confirming GET.
func (t *Tracker) applyTransition(step Step, delta *Delta) {
	alias, res := t.target(step)
	if res == nil {
		delta.Diagnostics = append(delta.Diagnostics,
			fmt.Sprintf("no tracked %s resource for %s", step.ResourceType, step.OperationID))
		return
	}
	machine := t.registry.Lookup(step.ResourceType)
	if machine == nil {
		return
	}
	if next, ok := machine.Next(res.Lifecycle, step.Class, lifecycle.OutcomeSuccess); ok {
		res.Lifecycle = next
	} else {
		res.Lifecycle = machine.InTransition
	}
	delta.Updated = append(delta.Updated, step.ResourceType+"/"+alias)
}

// Rule 4: successful DELETE removes the resource and its alias binding.
// Other variables still holding the stale id become dangling and fail fast
// on reuse.
func (t *Tracker) applyDelete(step Step, delta *Delta) {
	alias, res := t.target(step)
	if res == nil {
		delta.Diagnostics = append(delta.Diagnostics,
			fmt.Sprintf("no tracked %s resource for %s", step.ResourceType, step.OperationID))
		return
	}
	delete(t.resources[step.ResourceType], alias)
	delete(t.vars, alias)
	delta.Removed = append(delta.Removed, step.ResourceType+"/"+alias)

	for name, value := range t.vars {
		if stringValue(value) == res.ID {
			t.dangling[name] = struct{}{}
			delta.Dangling = append(delta.Dangling, name)
		}
	}
	sort.Strings(delta.Dangling)
}

// Rule 5: CLI outcomes go through declared extraction; failure to extract
// leaves state unchanged and flags the step.
func (t *Tracker) applyCLI(outcome execadapter.Outcome, step Step, delta *Delta) {
	if !outcome.Success {
		return
	}
	if step.ExtractPath == "" {
		delta.StateUnknown = true
		delta.Diagnostics = append(delta.Diagnostics,
			fmt.Sprintf("cli step %s has no extraction path; state unknown", step.OperationID))
		return
	}
	value, ok := ExtractValue(outcome.Body, step.ExtractPath)
	if !ok {
		delta.StateUnknown = true
		delta.Diagnostics = append(delta.Diagnostics,
			fmt.Sprintf("cli extraction %q failed for %s; state unchanged", step.ExtractPath, step.OperationID))
		return
	}
	id := stringValue(value)
	if id == "" {
		delta.StateUnknown = true
		delta.Diagnostics = append(delta.Diagnostics,
			fmt.Sprintf("cli extraction %q for %s yielded no usable id", step.ExtractPath, step.OperationID))
		return
	}

	machine := t.registry.Lookup(step.ResourceType)
	state := lifecycle.State("CREATING")
	if machine != nil {
		state = machine.Initial
	}
	alias := t.insert(&ResourceState{
		ID:         id,
		Type:       step.ResourceType,
		Lifecycle:  state,
		Attributes: map[string]any{},
	})
	t.bind(alias, id)
	delta.Inserted = append(delta.Inserted, step.ResourceType+"/"+alias)
	delta.BoundVars[alias] = id
}

// extractChildren walks a GET body for nested maps carrying their own id
// fields and records them as sub-resources of parent. Maps are walked in
// key order so replaying the same outcome always assigns the same aliases.
func (t *Tracker) extractChildren(body any, parent *ResourceState, delta *Delta) {
	switch v := body.(type) {
	case map[string]any:
		for _, key := range sortedKeys(v) {
			if key == IDField(parent.Type) {
				continue
			}
			t.extractChildFrom(key, v[key], parent, delta)
		}
	}
}

func (t *Tracker) extractChildFrom(key string, item any, parent *ResourceState, delta *Delta) {
	switch v := item.(type) {
	case map[string]any:
		t.maybeInsertChild(v, parent, delta)
		for _, k := range sortedKeys(v) {
			t.extractChildFrom(k, v[k], parent, delta)
		}
	case []any:
		for _, element := range v {
			t.extractChildFrom(key, element, parent, delta)
		}
	}
}

// maybeInsertChild inserts a sub-resource when the map declares an id field
// of the form <camelType>Id distinct from the parent's.
func (t *Tracker) maybeInsertChild(m map[string]any, parent *ResourceState, delta *Delta) {
	for _, key := range sortedKeys(m) {
		value := m[key]
		if !strings.HasSuffix(key, "Id") || key == IDField(parent.Type) {
			continue
		}
		id := stringValue(value)
		if id == "" {
			continue
		}
		childType := TypeFromIDField(key)
		if childType == "" || childType == parent.Type {
			continue
		}
		if _, existing := t.findByID(childType, id); existing != nil {
			continue
		}
		state := lifecycle.StateUnknown
		if reported := stringValue(m["state"]); reported != "" {
			state = lifecycle.State(reported)
		}
		alias := t.insert(&ResourceState{
			ID:         id,
			Type:       childType,
			Lifecycle:  state,
			ParentID:   parent.ID,
			Attributes: scalarAttributes(m),
		})
		t.bind(alias, id)
		delta.Inserted = append(delta.Inserted, childType+"/"+alias)
		delta.BoundVars[alias] = id
	}
}

func (t *Tracker) insert(res *ResourceState) string {
	byAlias := t.resources[res.Type]
	if byAlias == nil {
		byAlias = make(map[string]*ResourceState)
		t.resources[res.Type] = byAlias
	}
	t.counters[res.Type]++
	alias := fmt.Sprintf("%s_%d", res.Type, t.counters[res.Type])
	byAlias[alias] = res
	return alias
}

func (t *Tracker) bind(name, id string) {
	t.vars[name] = id
	delete(t.dangling, name)
}

func (t *Tracker) findByID(resourceType, id string) (string, *ResourceState) {
	for alias, res := range t.resources[resourceType] {
		if res.ID == id {
			return alias, res
		}
	}
	return "", nil
}

// target resolves the resource a mutating step addressed.
func (t *Tracker) target(step Step) (string, *ResourceState) {
	byAlias := t.resources[step.ResourceType]
	if step.TargetAlias != "" {
		return step.TargetAlias, byAlias[step.TargetAlias]
	}
	if len(byAlias) == 1 {
		for alias, res := range byAlias {
			return alias, res
		}
	}
	return "", nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// scalarAttributes keeps the top-level scalar fields of a response body.
func scalarAttributes(body map[string]any) map[string]any {
	attrs := make(map[string]any)
	for k, v := range body {
		switch v.(type) {
		case map[string]any, []any:
		default:
			attrs[k] = v
		}
	}
	return attrs
}

func stringValue(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case int:
		return strconv.Itoa(value)
	case int64:
		return strconv.FormatInt(value, 10)
	default:
		return ""
	}
}
