package run

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/freedeaths/tidbcloud-skills/internal/catalog"
	"github.com/freedeaths/tidbcloud-skills/internal/execadapter"
	"github.com/freedeaths/tidbcloud-skills/internal/gate"
	"github.com/freedeaths/tidbcloud-skills/internal/knowledge"
	"github.com/freedeaths/tidbcloud-skills/internal/lifecycle"
	"github.com/freedeaths/tidbcloud-skills/internal/pollengine"
	"github.com/freedeaths/tidbcloud-skills/internal/suggest"
	"github.com/freedeaths/tidbcloud-skills/internal/telemetry"
	"github.com/freedeaths/tidbcloud-skills/internal/tracker"
)

// Deps wires the driver's collaborators.
type Deps struct {
	SUT       string
	Store     Store
	Catalog   *catalog.Index
	Registry  *lifecycle.Registry
	Suggester *suggest.Suggester
	Policy    gate.Policy
	Adapters  map[string]execadapter.Adapter // keyed by request type
	Poller    *pollengine.Engine
	Updater   *knowledge.Updater
	Logger    *slog.Logger
	Metrics   *telemetry.Metrics
}

// Driver advances sessions one step at a time. Every mutation is persisted
// before the call returns, so the process can die between any two calls.
type Driver struct {
	deps Deps
}

// NewDriver validates and wires the dependencies.
func NewDriver(deps Deps) (*Driver, error) {
	if deps.Store == nil || deps.Catalog == nil || deps.Suggester == nil || deps.Updater == nil {
		return nil, fmt.Errorf("driver: store, catalog, suggester and updater are required")
	}
	if deps.Registry == nil {
		deps.Registry = lifecycle.DefaultRegistry()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Policy == (gate.Policy{}) {
		deps.Policy = gate.DefaultPolicy()
	}
	return &Driver{deps: deps}, nil
}

// StepResult is what one Step or Resolve call produced: either an executed
// step, or a pending suspension awaiting Resolve.
type StepResult struct {
	SessionID string       `json:"session_id"`
	Status    Status       `json:"status"`
	Executed  *StepRecord  `json:"executed,omitempty"`
	Pending   *PendingStep `json:"pending,omitempty"`
}

// Start creates and persists a new session.
func (d *Driver) Start(ctx context.Context, intent string, presetVars map[string]any) (*Session, error) {
	s := NewSession(d.deps.SUT, intent, presetVars)
	if err := d.deps.Store.Save(ctx, s); err != nil {
		return nil, err
	}
	d.deps.Logger.Info("session started", "session", s.ID, "sut", s.SUT, "intent", intent)
	return s, nil
}

// Step proposes the next operation for the session and either executes it
// (gate AUTO) or suspends on it. A session with a pending step must be
// resolved first.
func (d *Driver) Step(ctx context.Context, sessionID string) (StepResult, error) {
	s, err := d.deps.Store.Get(ctx, sessionID)
	if err != nil {
		return StepResult{}, err
	}
	if s.Pending != nil {
		return StepResult{}, fmt.Errorf("session %s is waiting for a resolution", s.ID)
	}
	if s.Status != StatusActive {
		return StepResult{}, fmt.Errorf("session %s is %s", s.ID, s.Status)
	}
	tr := d.replay(s)

	proposal, err := d.propose(ctx, s, tr)
	if err != nil {
		return StepResult{}, err
	}
	return d.dispatch(ctx, s, tr, proposal)
}

// proposal is one fully-prepared candidate step plus its gate decision.
type proposal struct {
	operationID string
	request     execadapter.Request
	track       tracker.Step
	save        map[string]string
	missingVars []string

	confidence float64
	source     string
	candidates []suggest.Candidate
	warnings   []string
	decision   gate.Result
}

func (d *Driver) propose(ctx context.Context, s *Session, tr *tracker.Tracker) (proposal, error) {
	// A session following a pattern replays the pattern's steps in order.
	if s.PatternID != "" && s.PatternCursor < len(s.PatternSteps) {
		return d.proposeFromPattern(s, tr)
	}

	view := suggest.SessionView{States: tr.LifecycleByAlias(), Vars: varNames(tr.Vars())}
	sugg, err := d.deps.Suggester.Suggest(ctx, s.Intent, view)
	if err != nil {
		return proposal{}, err
	}
	if sugg.Source == "none" {
		// Nothing matched; suspend open-ended so the user can steer.
		return proposal{
			source:   "none",
			decision: gate.Result{Decision: gate.Ask, Reasons: []string{"no operation matches the intent"}},
		}, nil
	}
	if sugg.Source == "known_pattern" {
		s.PatternID = sugg.PatternID
		s.PatternSteps = sugg.PatternSteps
		s.PatternCursor = 0
		p, err := d.proposeFromPattern(s, tr)
		if err != nil {
			return proposal{}, err
		}
		p.confidence = sugg.Confidence
		p.source = sugg.Source
		p.candidates = sugg.Candidates
		p.warnings = sugg.Warnings
		p.decision = d.decide(p, sugg)
		return p, nil
	}

	spec, err := d.deps.Catalog.Describe(sugg.OperationID)
	if err != nil {
		return proposal{}, err
	}
	p := d.prepare(spec, nil, tr)
	p.confidence = sugg.Confidence
	p.source = sugg.Source
	p.candidates = sugg.Candidates
	p.warnings = sugg.Warnings
	p.decision = d.decide(p, sugg)
	return p, nil
}

func (d *Driver) proposeFromPattern(s *Session, tr *tracker.Tracker) (proposal, error) {
	template := s.PatternSteps[s.PatternCursor]
	spec, err := d.deps.Catalog.Describe(template.OperationID)
	if err != nil {
		return proposal{}, fmt.Errorf("pattern step %d: %w", s.PatternCursor, err)
	}
	p := d.prepare(spec, &template, tr)
	p.source = "known_pattern"
	p.confidence = 1 // replaced by the suggestion's score on the first step
	p.decision = d.decide(p, suggest.Suggestion{Source: "known_pattern", Confidence: p.confidence, Candidates: nil})
	return p, nil
}

func (d *Driver) decide(p proposal, sugg suggest.Suggestion) gate.Result {
	spec, _ := d.deps.Catalog.Describe(p.operationID)
	in := gate.Input{
		OperationID:         p.operationID,
		Confidence:          p.confidence,
		Source:              p.source,
		Checkpoint:          spec.Checkpoint,
		CandidateCount:      len(sugg.Candidates),
		Gap:                 sugg.Gap,
		PitfallWarnings:     sugg.Warnings,
		SimilarAlternatives: sugg.SimilarAlternatives,
	}
	result := d.deps.Policy.Decide(in)
	if len(p.missingVars) > 0 && result.Decision == gate.Auto {
		// Cannot auto-run with holes in the request.
		result = gate.Result{
			Decision: gate.Ask,
			Reasons:  []string{fmt.Sprintf("missing variables: %s", strings.Join(p.missingVars, ", "))},
		}
	}
	if d.deps.Metrics != nil {
		d.deps.Metrics.RecordGate(d.deps.SUT, string(result.Decision))
	}
	return result
}

var pathParamPattern = regexp.MustCompile(`\{([A-Za-z0-9]+)\}`)

// prepare builds the request for an operation: path parameters become
// {alias} placeholders resolved from tracked resources, body fields come
// from the pattern template or turn into {field} placeholders for required
// fields. Unresolvable placeholders are reported, not failed.
func (d *Driver) prepare(spec catalog.OperationSpec, template *knowledge.StepTemplate, tr *tracker.Tracker) proposal {
	p := proposal{operationID: spec.ID}

	path := spec.Path
	targetAlias := ""
	resourceType := ""
	for _, match := range pathParamPattern.FindAllStringSubmatch(spec.Path, -1) {
		param := match[1]
		paramType := tracker.TypeFromIDField(param)
		alias := soleAlias(tr, paramType)
		if alias == "" {
			// A variable bound under the parameter's own name (preset or
			// saved) still satisfies it; the placeholder stays as-is.
			if _, err := tr.Var(param); err != nil {
				p.missingVars = append(p.missingVars, param)
			}
			continue
		}
		path = strings.ReplaceAll(path, "{"+param+"}", "{"+alias+"}")
		targetAlias, resourceType = alias, paramType
	}
	if resourceType == "" {
		resourceType = d.inferResourceType(spec)
	}

	req := execadapter.Request{Type: "http", Method: spec.Method, Path: path}
	if template != nil {
		if template.RequestType != "" {
			req.Type = template.RequestType
		}
		req.Body = template.Request
		p.save = template.Save
	} else if spec.Method == "POST" || spec.Method == "PATCH" || spec.Method == "PUT" {
		body := make(map[string]any)
		for _, field := range spec.RequiredFields {
			if isPathParam(spec.Path, field) {
				continue
			}
			body[field] = "{" + field + "}"
		}
		if len(body) > 0 {
			req.Body = body
		}
	}

	p.missingVars = append(p.missingVars, missingVars(tr, req)...)
	p.missingVars = dedupe(p.missingVars)
	sort.Strings(p.missingVars)

	p.request = req
	p.track = tracker.Step{
		OperationID:  spec.ID,
		Class:        spec.Class,
		ResourceType: resourceType,
		RequestType:  req.Type,
		TargetAlias:  targetAlias,
	}
	return p
}

// dispatch executes an AUTO proposal or suspends on anything else.
func (d *Driver) dispatch(ctx context.Context, s *Session, tr *tracker.Tracker, p proposal) (StepResult, error) {
	if p.decision.Decision == gate.Auto && len(p.missingVars) == 0 {
		record, err := d.execute(ctx, s, tr, p)
		if err != nil {
			return StepResult{}, err
		}
		return StepResult{SessionID: s.ID, Status: s.Status, Executed: record}, nil
	}

	s.Pending = &PendingStep{
		OperationID: p.operationID,
		Request:     execadapter.RedactRequest(p.request),
		Track:       p.track,
		Save:        p.save,
		Confidence:  p.confidence,
		Source:      p.source,
		Gate:        string(p.decision.Decision),
		Reasons:     p.decision.Reasons,
		Warnings:    p.warnings,
		Candidates:  p.candidates,
		MissingVars: p.missingVars,
		CreatedAt:   time.Now().UTC(),
	}
	s.Status = StatusWaiting
	if err := d.deps.Store.Save(ctx, s); err != nil {
		return StepResult{}, err
	}
	d.deps.Logger.Info("session suspended",
		"session", s.ID, "operation", p.operationID,
		"gate", s.Pending.Gate, "missing_vars", p.missingVars)
	return StepResult{SessionID: s.ID, Status: s.Status, Pending: s.Pending}, nil
}

// Resolution answers a pending step.
type Resolution struct {
	// Action is "approve", "choose", or "abort".
	Action string `json:"action"`
	// OperationID overrides the pending operation for "choose".
	OperationID string `json:"operation_id,omitempty"`
	// Vars fills missing variables before execution.
	Vars map[string]any `json:"vars,omitempty"`
}

// Resolve answers the session's pending step: approve executes it, choose
// swaps in one of the alternatives, abort records the refusal and resumes.
func (d *Driver) Resolve(ctx context.Context, sessionID string, res Resolution) (StepResult, error) {
	s, err := d.deps.Store.Get(ctx, sessionID)
	if err != nil {
		return StepResult{}, err
	}
	if s.Pending == nil {
		return StepResult{}, fmt.Errorf("session %s has no pending step", s.ID)
	}
	pending := *s.Pending
	s.Pending = nil
	s.Status = StatusActive
	tr := d.replay(s)
	for name, value := range res.Vars {
		tr.SetVar(name, value)
	}
	if s.PresetVars == nil && len(res.Vars) > 0 {
		s.PresetVars = map[string]any{}
	}
	for name, value := range res.Vars {
		s.PresetVars[name] = value
	}

	switch res.Action {
	case "abort":
		record := StepRecord{
			Index:       len(s.Steps),
			OperationID: pending.OperationID,
			Request:     pending.Request,
			Track:       pending.Track,
			Confidence:  pending.Confidence,
			Source:      pending.Source,
			Gate:        pending.Gate,
			Reasons:     pending.Reasons,
			Warnings:    pending.Warnings,
			Aborted:     true,
			ExecutedAt:  time.Now().UTC(),
		}
		s.Steps = append(s.Steps, record)
		if err := d.deps.Store.Save(ctx, s); err != nil {
			return StepResult{}, err
		}
		if err := d.deps.Updater.RecordStep(ctx, d.deps.SUT, knowledge.StepRecord{
			OperationID: pending.OperationID,
			RequestType: pending.Track.RequestType,
			Aborted:     true,
		}); err != nil {
			d.deps.Logger.Warn("knowledge update failed", "session", s.ID, "error", err)
		}
		return StepResult{SessionID: s.ID, Status: s.Status, Executed: &record}, nil

	case "choose":
		if res.OperationID == "" {
			return StepResult{}, fmt.Errorf("choose requires an operation id")
		}
		spec, err := d.deps.Catalog.Describe(res.OperationID)
		if err != nil {
			return StepResult{}, err
		}
		// Choosing off-pattern abandons the pattern.
		s.PatternID = ""
		s.PatternSteps = nil
		p := d.prepare(spec, nil, tr)
		p.confidence = pending.Confidence
		p.source = "user_choice"
		p.decision = gate.Result{Decision: gate.Confirm, Reasons: []string{"chosen by the user"}}
		if len(p.missingVars) > 0 {
			return d.dispatch(ctx, s, tr, p)
		}
		record, err := d.execute(ctx, s, tr, p)
		if err != nil {
			return StepResult{}, err
		}
		return StepResult{SessionID: s.ID, Status: s.Status, Executed: record}, nil

	case "approve":
		p := proposal{
			operationID: pending.OperationID,
			request:     pending.Request,
			track:       pending.Track,
			save:        pending.Save,
			confidence:  pending.Confidence,
			source:      pending.Source,
			warnings:    pending.Warnings,
			decision:    gate.Result{Decision: gate.Decision(pending.Gate), Reasons: pending.Reasons},
		}
		p.missingVars = missingVars(tr, p.request)
		if len(p.missingVars) > 0 {
			return StepResult{}, fmt.Errorf("still missing variables: %s", strings.Join(p.missingVars, ", "))
		}
		p.missingVars = nil
		record, err := d.execute(ctx, s, tr, p)
		if err != nil {
			return StepResult{}, err
		}
		return StepResult{SessionID: s.ID, Status: s.Status, Executed: record}, nil

	default:
		return StepResult{}, fmt.Errorf("unknown resolution action %q", res.Action)
	}
}

// execute runs one prepared step end to end: substitute, call the adapter,
// fold the outcome into the tracker, persist, and feed the knowledge store.
func (d *Driver) execute(ctx context.Context, s *Session, tr *tracker.Tracker, p proposal) (*StepRecord, error) {
	req, err := substituteRequest(tr, p.request)
	if err != nil {
		return nil, fmt.Errorf("substitute request: %w", err)
	}

	adapter, ok := d.deps.Adapters[req.Type]
	if !ok {
		return nil, fmt.Errorf("no adapter for request type %q", req.Type)
	}
	start := time.Now()
	outcome, err := adapter.Execute(ctx, p.operationID, req)
	if err != nil {
		return nil, fmt.Errorf("execute %s: %w", p.operationID, err)
	}
	delta := tr.Apply(outcome, p.track)

	record := StepRecord{
		Index:       len(s.Steps),
		OperationID: p.operationID,
		Request:     execadapter.RedactRequest(req),
		Track:       p.track,
		Save:        p.save,
		Confidence:  p.confidence,
		Source:      p.source,
		Gate:        string(p.decision.Decision),
		Reasons:     p.decision.Reasons,
		Warnings:    p.warnings,
		Outcome:     &outcome,
		ExecutedAt:  time.Now().UTC(),
	}
	if record.Save == nil && len(delta.BoundVars) > 0 {
		record.Save = make(map[string]string, len(delta.BoundVars))
		for name := range delta.BoundVars {
			record.Save[name] = "body." + tracker.IDField(p.track.ResourceType)
		}
	}
	s.Steps = append(s.Steps, record)
	if s.PatternID != "" {
		s.PatternCursor++
	}
	if err := d.deps.Store.Save(ctx, s); err != nil {
		return nil, err
	}

	status := "success"
	if !outcome.Success {
		status = string(outcome.Class)
	}
	if d.deps.Metrics != nil {
		d.deps.Metrics.RecordOperation(d.deps.SUT, p.operationID, status, time.Since(start))
	}
	d.deps.Logger.Info("step executed",
		"session", s.ID, "operation", p.operationID, "status", outcome.StatusCode,
		"success", outcome.Success, "gate", record.Gate,
		"inserted", delta.Inserted, "diagnostics", delta.Diagnostics)

	if err := d.deps.Updater.RecordStep(ctx, d.deps.SUT, knowledge.StepRecord{
		OperationID:  p.operationID,
		RequestType:  req.Type,
		Request:      record.Request.Body,
		Save:         record.Save,
		Success:      outcome.Success,
		DurationMS:   outcome.DurationMS,
		Error:        outcome.Error,
		MissingVars:  p.missingVars,
		StatesByType: dominantStates(tr),
	}); err != nil {
		d.deps.Logger.Warn("knowledge update failed", "session", s.ID, "error", err)
	}
	return &record, nil
}

// Poll runs the polling engine for a read operation and folds the terminal
// outcome into the session. Canceling ctx aborts between attempts.
func (d *Driver) Poll(ctx context.Context, sessionID, operationID string, signatures []pollengine.Signature, cfg pollengine.Config) (pollengine.Result, error) {
	if d.deps.Poller == nil {
		return pollengine.Result{}, fmt.Errorf("no polling engine configured")
	}
	s, err := d.deps.Store.Get(ctx, sessionID)
	if err != nil {
		return pollengine.Result{}, err
	}
	tr := d.replay(s)

	spec, err := d.deps.Catalog.Describe(operationID)
	if err != nil {
		return pollengine.Result{}, err
	}
	if spec.Class != lifecycle.OpGet {
		return pollengine.Result{}, fmt.Errorf("poll requires a read operation, %s is %s", operationID, spec.Class)
	}
	p := d.prepare(spec, nil, tr)
	if len(p.missingVars) > 0 {
		return pollengine.Result{}, fmt.Errorf("missing variables for poll: %s", strings.Join(p.missingVars, ", "))
	}
	req, err := substituteRequest(tr, p.request)
	if err != nil {
		return pollengine.Result{}, err
	}

	result, pollErr := d.deps.Poller.Poll(ctx, operationID, req, signatures, cfg)
	concluded := result.Attempts > 0 && result.Outcome.StatusCode != 0
	if concluded {
		tr.Apply(result.Outcome, p.track)
		outcome := result.Outcome
		s.Steps = append(s.Steps, StepRecord{
			Index:       len(s.Steps),
			OperationID: operationID,
			Request:     execadapter.RedactRequest(req),
			Track:       p.track,
			Source:      "poll",
			Gate:        string(gate.Auto),
			Reasons:     []string{fmt.Sprintf("poll concluded after %d attempts", result.Attempts)},
			Outcome:     &outcome,
			ExecutedAt:  time.Now().UTC(),
		})
		if err := d.deps.Store.Save(ctx, s); err != nil {
			return result, err
		}
	}

	// A resolved poll counts like any executed step; a poll cut short by
	// the session's context counts as a refused attempt.
	canceled := pollErr != nil && ctx.Err() != nil
	if concluded || canceled {
		rec := knowledge.StepRecord{
			OperationID:  operationID,
			RequestType:  req.Type,
			Success:      pollErr == nil && result.Success,
			Aborted:      canceled,
			DurationMS:   result.Outcome.DurationMS,
			Error:        result.Outcome.Error,
			StatesByType: dominantStates(tr),
		}
		if rec.Error == "" && !rec.Success && !canceled {
			if result.Signature != "" {
				rec.Error = fmt.Sprintf("terminal signature %s matched", result.Signature)
			} else if pollErr != nil {
				rec.Error = pollErr.Error()
			}
		}
		if err := d.deps.Updater.RecordStep(context.WithoutCancel(ctx), d.deps.SUT, rec); err != nil {
			d.deps.Logger.Warn("knowledge update failed", "session", s.ID, "error", err)
		}
	}
	return result, pollErr
}

// Complete marks the session done and closes the knowledge loop.
func (d *Driver) Complete(ctx context.Context, sessionID string) (*Session, error) {
	return d.finish(ctx, sessionID, StatusCompleted)
}

// Abort ends the session without completing it.
func (d *Driver) Abort(ctx context.Context, sessionID string) (*Session, error) {
	return d.finish(ctx, sessionID, StatusAborted)
}

func (d *Driver) finish(ctx context.Context, sessionID string, status Status) (*Session, error) {
	s, err := d.deps.Store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Status == StatusCompleted || s.Status == StatusAborted {
		return nil, fmt.Errorf("session %s is already %s", s.ID, s.Status)
	}
	s.Pending = nil
	s.Status = status
	if err := d.deps.Store.Save(ctx, s); err != nil {
		return nil, err
	}

	tr := d.replay(s)
	steps := make([]knowledge.StepRecord, 0, len(s.Steps))
	for _, step := range s.Steps {
		rec := knowledge.StepRecord{
			OperationID: step.OperationID,
			RequestType: step.Track.RequestType,
			Request:     step.Request.Body,
			Save:        step.Save,
			Aborted:     step.Aborted,
		}
		if step.Outcome != nil {
			rec.Success = step.Outcome.Success
			rec.DurationMS = step.Outcome.DurationMS
			rec.Error = step.Outcome.Error
		}
		steps = append(steps, rec)
	}
	if status == StatusCompleted {
		if err := d.deps.Updater.RecordSessionOutcome(ctx, d.deps.SUT, s.Intent, s.PatternID, steps, s.BoundIDs(tr.Vars())); err != nil {
			d.deps.Logger.Warn("session outcome not recorded", "session", s.ID, "error", err)
		}
	} else if s.PatternID != "" {
		if err := d.deps.Updater.RecordSessionOutcome(ctx, d.deps.SUT, s.Intent, s.PatternID, steps, nil); err != nil {
			d.deps.Logger.Warn("session outcome not recorded", "session", s.ID, "error", err)
		}
	}
	d.deps.Logger.Info("session finished", "session", s.ID, "status", status, "steps", len(s.Steps))
	return s, nil
}

// replay rebuilds the tracker from the persisted step history. Replaying is
// idempotent, so a session file is all the state there is.
func (d *Driver) replay(s *Session) *tracker.Tracker {
	tr := tracker.New(d.deps.Registry)
	for name, value := range s.PresetVars {
		tr.SetVar(name, value)
	}
	for _, step := range s.Steps {
		if step.Outcome == nil || step.Aborted {
			continue
		}
		tr.Apply(*step.Outcome, step.Track)
	}
	return tr
}

// inferResourceType matches registry type names against the operation's
// tokens; the longest (most specific) match wins.
func (d *Driver) inferResourceType(spec catalog.OperationSpec) string {
	tokens := catalog.Tokenize(spec.ID + " " + spec.Path)
	best := ""
	bestWords := 0
	for _, typeName := range d.deps.Registry.Types() {
		words := strings.Split(typeName, "_")
		all := true
		for _, w := range words {
			if _, ok := tokens[w]; !ok {
				all = false
				break
			}
		}
		if all && len(words) > bestWords {
			best, bestWords = typeName, len(words)
		}
	}
	return best
}

// soleAlias picks the alias for a path parameter: the only tracked resource
// of the type, or the lexically first when several exist.
func soleAlias(tr *tracker.Tracker, resourceType string) string {
	byAlias := tr.CurrentState()[resourceType]
	if len(byAlias) == 0 {
		return ""
	}
	aliases := make([]string, 0, len(byAlias))
	for alias := range byAlias {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	return aliases[0]
}

func isPathParam(path, field string) bool {
	return strings.Contains(path, "{"+field+"}")
}

func varNames(vars map[string]any) map[string]struct{} {
	out := make(map[string]struct{}, len(vars))
	for name := range vars {
		out[name] = struct{}{}
	}
	return out
}

func dominantStates(tr *tracker.Tracker) map[string]string {
	out := make(map[string]string)
	for resourceType, byAlias := range tr.LifecycleByAlias() {
		aliases := make([]string, 0, len(byAlias))
		for alias := range byAlias {
			aliases = append(aliases, alias)
		}
		sort.Strings(aliases)
		if len(aliases) > 0 {
			out[resourceType] = byAlias[aliases[0]]
		}
	}
	return out
}

// requestPlaceholderEnv flattens a request into the shapes the tracker's
// placeholder walker understands.
func requestPlaceholderEnv(req execadapter.Request) map[string]any {
	env := map[string]any{"path": req.Path}
	if req.Body != nil {
		env["body"] = req.Body
	}
	for key, value := range req.Headers {
		env["header:"+key] = value
	}
	for key, value := range req.Query {
		env["query:"+key] = value
	}
	if len(req.Args) > 0 {
		args := make([]any, len(req.Args))
		for i, arg := range req.Args {
			args[i] = arg
		}
		env["args"] = args
	}
	return env
}

func missingVars(tr *tracker.Tracker, req execadapter.Request) []string {
	return tr.MissingVars(requestPlaceholderEnv(req))
}

// substituteRequest resolves {placeholder} references across every request
// field. Unknown placeholders stay verbatim; dangling ones error.
func substituteRequest(tr *tracker.Tracker, req execadapter.Request) (execadapter.Request, error) {
	out := req

	path, err := tr.Substitute(req.Path)
	if err != nil {
		return execadapter.Request{}, err
	}
	out.Path = fmt.Sprint(path)

	if req.Body != nil {
		body, err := tr.Substitute(req.Body)
		if err != nil {
			return execadapter.Request{}, err
		}
		out.Body = body.(map[string]any)
	}
	if len(req.Headers) > 0 {
		if out.Headers, err = substituteStringMap(tr, req.Headers); err != nil {
			return execadapter.Request{}, err
		}
	}
	if len(req.Query) > 0 {
		if out.Query, err = substituteStringMap(tr, req.Query); err != nil {
			return execadapter.Request{}, err
		}
	}
	if len(req.Args) > 0 {
		args := make([]string, len(req.Args))
		for i, arg := range req.Args {
			replaced, err := tr.Substitute(arg)
			if err != nil {
				return execadapter.Request{}, err
			}
			args[i] = fmt.Sprint(replaced)
		}
		out.Args = args
	}
	return out, nil
}

func substituteStringMap(tr *tracker.Tracker, in map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(in))
	for key, value := range in {
		replaced, err := tr.Substitute(value)
		if err != nil {
			return nil, err
		}
		out[key] = fmt.Sprint(replaced)
	}
	return out, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
