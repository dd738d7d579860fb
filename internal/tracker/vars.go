package tracker

import (
	"fmt"
	"sort"
	"strings"
)

// Var returns a variable's value. Reusing a variable whose resource was
// deleted fails fast instead of silently sending a stale id.
func (t *Tracker) Var(name string) (any, error) {
	if _, stale := t.dangling[name]; stale {
		return nil, fmt.Errorf("variable %q is dangling: its resource was deleted", name)
	}
	value, ok := t.vars[name]
	if !ok {
		return nil, fmt.Errorf("variable %q is not set", name)
	}
	return value, nil
}

// SetVar sets a variable, overwriting earlier saves under the same name and
// clearing any dangling mark.
func (t *Tracker) SetVar(name string, value any) {
	t.vars[name] = value
	delete(t.dangling, name)
}

// Vars returns a snapshot of all variables, including dangling ones.
func (t *Tracker) Vars() map[string]any {
	out := make(map[string]any, len(t.vars))
	for k, v := range t.vars {
		out[k] = v
	}
	return out
}

// MissingVars returns the placeholders referenced anywhere in obj that are
// not usable: unset, or dangling after a delete.
func (t *Tracker) MissingVars(obj any) []string {
	missing := make(map[string]struct{})
	for name := range FindPlaceholders(obj) {
		if _, err := t.Var(name); err != nil {
			missing[name] = struct{}{}
		}
	}
	out := make([]string, 0, len(missing))
	for name := range missing {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// CurrentState returns resource states as type -> alias -> ResourceState.
func (t *Tracker) CurrentState() map[string]map[string]ResourceState {
	out := make(map[string]map[string]ResourceState, len(t.resources))
	for resourceType, byAlias := range t.resources {
		m := make(map[string]ResourceState, len(byAlias))
		for alias, res := range byAlias {
			m[alias] = *res
		}
		out[resourceType] = m
	}
	return out
}

// LifecycleByAlias returns type -> alias -> lifecycle state name, the shape
// consumed by condition contexts.
func (t *Tracker) LifecycleByAlias() map[string]map[string]string {
	out := make(map[string]map[string]string, len(t.resources))
	for resourceType, byAlias := range t.resources {
		m := make(map[string]string, len(byAlias))
		for alias, res := range byAlias {
			m[alias] = string(res.Lifecycle)
		}
		out[resourceType] = m
	}
	return out
}

// Substitute replaces {placeholder} references in obj with variable values.
// Unknown placeholders are left verbatim; dangling ones return an error.
func (t *Tracker) Substitute(obj any) (any, error) {
	switch v := obj.(type) {
	case string:
		return t.substituteString(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			replaced, err := t.Substitute(item)
			if err != nil {
				return nil, err
			}
			out[k] = replaced
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			replaced, err := t.Substitute(item)
			if err != nil {
				return nil, err
			}
			out[i] = replaced
		}
		return out, nil
	default:
		return obj, nil
	}
}

func (t *Tracker) substituteString(s string) (any, error) {
	names := FindPlaceholders(s)
	if len(names) == 0 {
		return s, nil
	}
	// A string that is exactly one placeholder keeps the value's type.
	if trimmed := strings.TrimSpace(s); len(names) == 1 {
		for name := range names {
			if trimmed == "{"+name+"}" {
				if value, err := t.Var(name); err == nil {
					return value, nil
				} else if _, stale := t.dangling[name]; stale {
					return nil, err
				}
				return s, nil
			}
		}
	}
	result := s
	for name := range names {
		value, err := t.Var(name)
		if err != nil {
			if _, stale := t.dangling[name]; stale {
				return nil, err
			}
			continue
		}
		result = strings.ReplaceAll(result, "{"+name+"}", stringValue(value))
	}
	return result, nil
}

var placeholderRE = placeholderPattern()

// FindPlaceholders returns the set of {placeholder} names referenced in obj.
func FindPlaceholders(obj any) map[string]struct{} {
	found := make(map[string]struct{})
	findPlaceholders(obj, found)
	return found
}

func findPlaceholders(obj any, found map[string]struct{}) {
	switch v := obj.(type) {
	case string:
		for _, m := range placeholderRE.FindAllStringSubmatch(v, -1) {
			found[m[1]] = struct{}{}
		}
	case map[string]any:
		for _, item := range v {
			findPlaceholders(item, found)
		}
	case []any:
		for _, item := range v {
			findPlaceholders(item, found)
		}
	}
}
