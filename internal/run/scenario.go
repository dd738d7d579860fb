package run

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/freedeaths/tidbcloud-skills/internal/execadapter"
	"github.com/freedeaths/tidbcloud-skills/internal/lifecycle"
	"github.com/freedeaths/tidbcloud-skills/internal/pollengine"
	"github.com/freedeaths/tidbcloud-skills/internal/tracker"
)

// Scenario is a replayable operation sequence distilled from a session.
// Drafts carry every executed step verbatim; a finalized scenario has had
// the dead ends removed and its variable chain validated.
type Scenario struct {
	Name   string         `yaml:"name"`
	SUT    string         `yaml:"sut"`
	Intent string         `yaml:"intent,omitempty"`
	Draft  bool           `yaml:"draft,omitempty"`
	Vars   map[string]any `yaml:"vars,omitempty"`
	Steps  []ScenarioStep `yaml:"steps"`
}

// ScenarioStep is one replayable step. Concrete resource ids are abstracted
// back into {alias} placeholders so the scenario works against fresh
// resources.
type ScenarioStep struct {
	OperationID  string              `yaml:"operation_id"`
	Request      execadapter.Request `yaml:"request"`
	Class        string              `yaml:"class,omitempty"`
	ResourceType string              `yaml:"resource_type,omitempty"`
	TargetAlias  string              `yaml:"target_alias,omitempty"`
	Save         map[string]string   `yaml:"save,omitempty"`
	Poll         *PollSpec           `yaml:"poll,omitempty"`
}

// PollSpec attaches a polling run after the step's own execution.
type PollSpec struct {
	OperationID     string                 `yaml:"operation_id"`
	Signatures      []pollengine.Signature `yaml:"signatures"`
	IntervalSeconds float64                `yaml:"interval_seconds,omitempty"`
	MaxAttempts     int                    `yaml:"max_attempts,omitempty"`
}

// BuildDraft turns a session into a draft scenario: every successful step,
// ids abstracted, secrets already redacted by the step records.
func (d *Driver) BuildDraft(s *Session) Scenario {
	tr := d.replay(s)
	bound := s.BoundIDs(tr.Vars())

	scenario := Scenario{
		Name:   s.ID,
		SUT:    s.SUT,
		Intent: s.Intent,
		Draft:  true,
		Vars:   presetOnly(s.PresetVars),
	}
	for _, step := range s.Steps {
		if step.Aborted || step.Outcome == nil || !step.Outcome.Success {
			continue
		}
		scenario.Steps = append(scenario.Steps, ScenarioStep{
			OperationID:  step.OperationID,
			Request:      abstractRequest(step.Request, bound),
			Class:        string(step.Track.Class),
			ResourceType: step.Track.ResourceType,
			TargetAlias:  step.Track.TargetAlias,
			Save:         step.Save,
		})
	}
	return scenario
}

// Summary finalizes a draft: removeIndices drops exploration dead ends (by
// draft step index), then the variable chain is validated so no kept step
// consumes a variable only a removed step saved.
func (d *Driver) Summary(s *Session, removeIndices []int) (Scenario, error) {
	draft := d.BuildDraft(s)

	removed := make(map[int]struct{}, len(removeIndices))
	for _, i := range removeIndices {
		if i < 0 || i >= len(draft.Steps) {
			return Scenario{}, fmt.Errorf("remove index %d out of range (draft has %d steps)", i, len(draft.Steps))
		}
		removed[i] = struct{}{}
	}

	available := make(map[string]struct{}, len(draft.Vars))
	for name := range draft.Vars {
		available[name] = struct{}{}
	}

	final := Scenario{Name: s.ID, SUT: s.SUT, Intent: s.Intent, Vars: draft.Vars}
	for i, step := range draft.Steps {
		if _, drop := removed[i]; drop {
			continue
		}
		for name := range tracker.FindPlaceholders(requestPlaceholderEnv(step.Request)) {
			if _, ok := available[name]; !ok {
				return Scenario{}, fmt.Errorf(
					"step %d (%s) uses {%s}, which no kept step provides; keep its producer or remove this step too",
					i, step.OperationID, name)
			}
		}
		for name := range step.Save {
			available[name] = struct{}{}
		}
		final.Steps = append(final.Steps, step)
	}
	if len(final.Steps) == 0 {
		return Scenario{}, fmt.Errorf("summary removed every step")
	}
	return final, nil
}

// WriteScenario writes a scenario YAML file atomically.
func WriteScenario(path string, scenario Scenario) error {
	raw, err := yaml.Marshal(scenario)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadScenario reads a scenario YAML file.
func LoadScenario(path string) (Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario: %w", err)
	}
	var scenario Scenario
	if err := yaml.Unmarshal(raw, &scenario); err != nil {
		return Scenario{}, fmt.Errorf("parse scenario: %w", err)
	}
	return scenario, nil
}

// RerunResult is the outcome of one replayed step.
type RerunResult struct {
	Index       int
	OperationID string
	Outcome     execadapter.Outcome
	Poll        *pollengine.Result
}

// Rerun replays a finalized scenario without the suggester: steps run in
// order, saves rebind variables, attached polls wait for readiness. The
// first failure stops the run.
func (d *Driver) Rerun(ctx context.Context, scenario Scenario, extraVars map[string]any) ([]RerunResult, error) {
	if scenario.Draft {
		return nil, fmt.Errorf("refusing to rerun a draft scenario; finalize it first")
	}
	tr := tracker.New(d.deps.Registry)
	for name, value := range scenario.Vars {
		tr.SetVar(name, value)
	}
	for name, value := range extraVars {
		tr.SetVar(name, value)
	}

	var results []RerunResult
	for i, step := range scenario.Steps {
		if missing := missingVars(tr, step.Request); len(missing) > 0 {
			return results, fmt.Errorf("step %d (%s): missing variables: %s", i, step.OperationID, strings.Join(missing, ", "))
		}
		req, err := substituteRequest(tr, step.Request)
		if err != nil {
			return results, fmt.Errorf("step %d (%s): %w", i, step.OperationID, err)
		}
		adapter, ok := d.deps.Adapters[req.Type]
		if !ok {
			return results, fmt.Errorf("step %d: no adapter for request type %q", i, req.Type)
		}

		start := time.Now()
		outcome, err := adapter.Execute(ctx, step.OperationID, req)
		if err != nil {
			return results, fmt.Errorf("step %d (%s): %w", i, step.OperationID, err)
		}
		if d.deps.Metrics != nil {
			status := "success"
			if !outcome.Success {
				status = string(outcome.Class)
			}
			d.deps.Metrics.RecordOperation(d.deps.SUT, step.OperationID, status, time.Since(start))
		}
		tr.Apply(outcome, tracker.Step{
			OperationID:  step.OperationID,
			Class:        lifecycle.OpClass(step.Class),
			ResourceType: step.ResourceType,
			RequestType:  req.Type,
			TargetAlias:  step.TargetAlias,
		})
		result := RerunResult{Index: i, OperationID: step.OperationID, Outcome: outcome}

		if !outcome.Success {
			results = append(results, result)
			return results, fmt.Errorf("step %d (%s) failed: %s", i, step.OperationID, outcome.Error)
		}

		if step.Poll != nil && d.deps.Poller != nil {
			pollReq, pollStep, err := d.pollRequest(tr, step.Poll.OperationID)
			if err != nil {
				results = append(results, result)
				return results, fmt.Errorf("step %d poll: %w", i, err)
			}
			pollResult, err := d.deps.Poller.Poll(ctx, step.Poll.OperationID, pollReq, step.Poll.Signatures, pollengine.Config{
				Interval:    time.Duration(step.Poll.IntervalSeconds * float64(time.Second)),
				MaxAttempts: step.Poll.MaxAttempts,
			})
			result.Poll = &pollResult
			if err != nil {
				results = append(results, result)
				return results, fmt.Errorf("step %d poll: %w", i, err)
			}
			tr.Apply(pollResult.Outcome, pollStep)
			if !pollResult.Success {
				results = append(results, result)
				return results, fmt.Errorf("step %d poll concluded on %q", i, pollResult.Signature)
			}
		}
		results = append(results, result)
		d.deps.Logger.Info("rerun step done", "scenario", scenario.Name, "step", i, "operation", step.OperationID)
	}
	return results, nil
}

func (d *Driver) pollRequest(tr *tracker.Tracker, operationID string) (execadapter.Request, tracker.Step, error) {
	spec, err := d.deps.Catalog.Describe(operationID)
	if err != nil {
		return execadapter.Request{}, tracker.Step{}, err
	}
	p := d.prepare(spec, nil, tr)
	if len(p.missingVars) > 0 {
		return execadapter.Request{}, tracker.Step{}, fmt.Errorf("missing variables: %s", strings.Join(p.missingVars, ", "))
	}
	req, err := substituteRequest(tr, p.request)
	return req, p.track, err
}

// abstractRequest replaces concrete bound ids with {alias} placeholders in
// the path, body, and query of a stored request.
func abstractRequest(req execadapter.Request, bound map[string]string) execadapter.Request {
	out := req
	for alias, id := range bound {
		if id == "" {
			continue
		}
		out.Path = strings.ReplaceAll(out.Path, id, "{"+alias+"}")
	}
	if req.Body != nil {
		out.Body = abstractBody(req.Body, bound)
	}
	if len(req.Query) > 0 {
		query := make(map[string]string, len(req.Query))
		for key, value := range req.Query {
			query[key] = abstractString(value, bound)
		}
		out.Query = query
	}
	if len(req.Args) > 0 {
		args := make([]string, len(req.Args))
		for i, arg := range req.Args {
			args[i] = abstractString(arg, bound)
		}
		out.Args = args
	}
	return out
}

func abstractBody(in map[string]any, bound map[string]string) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		switch v := value.(type) {
		case string:
			out[key] = abstractString(v, bound)
		case map[string]any:
			out[key] = abstractBody(v, bound)
		default:
			out[key] = value
		}
	}
	return out
}

func abstractString(s string, bound map[string]string) string {
	for alias, id := range bound {
		if id != "" && s == id {
			return "{" + alias + "}"
		}
	}
	return s
}

func presetOnly(vars map[string]any) map[string]any {
	if len(vars) == 0 {
		return nil
	}
	out := make(map[string]any, len(vars))
	for name, value := range vars {
		out[name] = value
	}
	return out
}
