package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pixelsmith-ai/pixelsmith/core/artifact"
	"github.com/pixelsmith-ai/pixelsmith/core/cache"
	"github.com/pixelsmith-ai/pixelsmith/core/concept"
	"github.com/pixelsmith-ai/pixelsmith/core/errors"
	"github.com/pixelsmith-ai/pixelsmith/core/events"
	"github.com/pixelsmith-ai/pixelsmith/core/project"
)

// Phase is one stage of the generation pipeline. Run receives a view of
// the accumulated context and returns the values and artifacts it
// produced; the orchestrator merges them in only after Run succeeds.
type Phase struct {
	Name      string
	DependsOn []string
	Run       func(ctx context.Context, env *PhaseEnv) (*PhaseResult, error)
}

// PhaseResult carries a completed phase's contributions. Failures lists
// tolerated per-task failures: the phase completed without them, but
// the run report still accounts for every asset that was skipped.
type PhaseResult struct {
	Values    map[string]any
	Artifacts map[string]*GenResult
	Failures  []*FailureReport
}

func (r *PhaseResult) failures() []*FailureReport {
	if r == nil {
		return nil
	}
	return r.Failures
}

// PhaseEnv is what a phase gets to work with.
type PhaseEnv struct {
	Engine  *Engine
	View    *ContextView
	Concept *concept.GenerationConcept

	fanOut func(ctx context.Context, phase string, tasks []Task) []TaskResult
	phase  string
}

// FanOut runs tasks concurrently under the run-wide limit. Results come
// back in submission order, as do the progress events.
func (env *PhaseEnv) FanOut(ctx context.Context, tasks []Task) []TaskResult {
	return env.fanOut(ctx, env.phase, tasks)
}

// Task is one sub-generation inside a phase.
type Task struct {
	Label string
	Run   func(ctx context.Context) (*GenResult, error)
}

// TaskResult pairs a task with its outcome.
type TaskResult struct {
	Label  string
	Result *GenResult
	Err    error
}

// ContextView is a read snapshot of the run context. Phases read through
// it and never write; writes travel back as PhaseResult.
type ContextView struct {
	values    map[string]any
	artifacts map[string]*GenResult
}

// Value returns a context value set by an earlier phase.
func (v *ContextView) Value(key string) (any, bool) {
	val, ok := v.values[key]
	return val, ok
}

// StringValue returns a context value as a string. Values restored from
// the checkpoint arrive as raw JSON and are decoded here.
func (v *ContextView) StringValue(key string) (string, bool) {
	val, ok := v.values[key]
	if !ok {
		return "", false
	}
	switch t := val.(type) {
	case string:
		return t, true
	case json.RawMessage:
		var s string
		if err := json.Unmarshal(t, &s); err == nil {
			return s, true
		}
	}
	return "", false
}

// DecodeValue unmarshals a structured context value into out.
func (v *ContextView) DecodeValue(key string, out any) error {
	val, ok := v.values[key]
	if !ok {
		return errors.New(errors.ClassFatal, "missing context value "+key, nil)
	}
	raw, isRaw := val.(json.RawMessage)
	if !isRaw {
		encoded, err := json.Marshal(val)
		if err != nil {
			return errors.Wrap(errors.ClassFatal, "context value "+key+" not serializable", err)
		}
		raw = encoded
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrap(errors.ClassFatal, "context value "+key+" has the wrong shape", err)
	}
	return nil
}

// Artifact returns an artifact produced by an earlier phase.
func (v *ContextView) Artifact(name string) (*GenResult, bool) {
	a, ok := v.artifacts[name]
	return a, ok
}

// ArtifactNames lists available artifacts in sorted order.
func (v *ContextView) ArtifactNames() []string {
	names := make([]string, 0, len(v.artifacts))
	for name := range v.artifacts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Options configures an orchestrator.
type Options struct {
	ProjectID      string
	Concept        *concept.GenerationConcept
	Engine         *Engine
	Cache          *cache.Cache
	Store          *project.Store
	Bus            *events.Bus
	Logger         *slog.Logger
	MaxConcurrency int
}

// Orchestrator owns one project's run lifecycle.
type Orchestrator struct {
	projectID string
	concept   *concept.GenerationConcept
	engine    *Engine
	cache     *cache.Cache
	store     *project.Store
	bus       *events.Bus
	logger    *slog.Logger

	phases map[string]*Phase
	order  []string
	layers [][]string

	sem chan struct{}

	mu        sync.Mutex
	state     RunState
	statuses  map[string]PhaseStatus
	values    map[string]any
	artifacts map[string]*GenResult
	failures  []*FailureReport
	cancelled bool
	cancel    context.CancelFunc
}

// New creates an orchestrator with no phases registered.
func New(opts Options) (*Orchestrator, error) {
	if opts.ProjectID == "" {
		return nil, errors.New(errors.ClassFatal, "orchestrator needs a project id", nil)
	}
	if opts.Engine == nil {
		return nil, errors.New(errors.ClassFatal, "orchestrator needs an engine", nil)
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 4
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Orchestrator{
		projectID: opts.ProjectID,
		concept:   opts.Concept,
		engine:    opts.Engine,
		cache:     opts.Cache,
		store:     opts.Store,
		bus:       opts.Bus,
		logger:    opts.Logger,
		phases:    make(map[string]*Phase),
		sem:       make(chan struct{}, opts.MaxConcurrency),
		state:     RunStateIdle,
		statuses:  make(map[string]PhaseStatus),
		values:    make(map[string]any),
		artifacts: make(map[string]*GenResult),
	}, nil
}

// AddPhase registers a phase. Registration order does not matter;
// execution order comes from the dependency graph.
func (o *Orchestrator) AddPhase(p *Phase) error {
	if p.Name == "" {
		return errors.New(errors.ClassFatal, "phase has no name", nil)
	}
	if _, dup := o.phases[p.Name]; dup {
		return errors.New(errors.ClassFatal, "duplicate phase "+p.Name, nil)
	}
	o.phases[p.Name] = p
	o.order = append(o.order, p.Name)
	o.statuses[p.Name] = PhasePending
	return nil
}

// validate checks the dependency graph and computes execution layers:
// Kahn's algorithm for cycle detection, then layer = 1 + max dep layer.
func (o *Orchestrator) validate() error {
	if len(o.phases) == 0 {
		return errors.New(errors.ClassFatal, "no phases registered", nil)
	}

	inDegree := make(map[string]int, len(o.phases))
	dependents := make(map[string][]string, len(o.phases))
	for name, p := range o.phases {
		inDegree[name] = len(p.DependsOn)
		for _, dep := range p.DependsOn {
			if _, ok := o.phases[dep]; !ok {
				return errors.New(errors.ClassFatal,
					fmt.Sprintf("phase %s depends on unknown phase %s", name, dep), nil)
			}
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var queue []string
	for _, name := range o.order {
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	layerOf := make(map[string]int, len(o.phases))
	var sorted []string
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		sorted = append(sorted, name)

		layer := 0
		for _, dep := range o.phases[name].DependsOn {
			if l := layerOf[dep] + 1; l > layer {
				layer = l
			}
		}
		layerOf[name] = layer

		for _, next := range dependents[name] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(sorted) != len(o.phases) {
		return errors.New(errors.ClassFatal, "phase graph has a cycle", nil)
	}

	maxLayer := 0
	for _, l := range layerOf {
		if l > maxLayer {
			maxLayer = l
		}
	}
	layers := make([][]string, maxLayer+1)
	for _, name := range sorted {
		l := layerOf[name]
		layers[l] = append(layers[l], name)
	}
	o.layers = layers
	return nil
}

// Run executes the pipeline to completion, resuming past any phase the
// checkpoint already marks complete. Safe to call again after a failed
// or cancelled run.
func (o *Orchestrator) Run(ctx context.Context) (*RunReport, error) {
	if err := o.validate(); err != nil {
		return nil, err
	}

	o.mu.Lock()
	if o.state == RunStateRunning {
		o.mu.Unlock()
		return nil, errors.New(errors.ClassFatal, "run already in progress", nil)
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.state = RunStateRunning
	o.cancelled = false
	o.failures = nil
	o.mu.Unlock()
	defer cancel()

	start := time.Now()
	if err := o.restore(); err != nil {
		return nil, err
	}
	o.saveRun(project.RunStatusRunning)
	o.emit(&events.ProgressEvent{Type: events.EventRunStarted})

	for _, layer := range o.layers {
		if runCtx.Err() != nil {
			o.noteCancelled()
			break
		}
		o.runLayer(runCtx, layer)
	}
	if runCtx.Err() != nil {
		o.noteCancelled()
	}

	report := o.buildReport(start)
	o.persistFinal(report)
	return report, nil
}

// Cancel stops the run. Nothing new is submitted; provider calls already
// in flight run to completion and their results are cached.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Invalidate marks a lineage node and its descendants stale and resets
// every phase that owns a stale node back to pending. The next Run
// regenerates only those phases; untouched branches stay cached.
func (o *Orchestrator) Invalidate(nodeID string) ([]string, error) {
	tracker := o.engine.Tracker()
	if tracker.Get(nodeID) == nil {
		return nil, errors.New(errors.ClassFatal, "unknown lineage node "+nodeID, nil)
	}

	stale := tracker.MarkStale(nodeID)
	phaseSet := make(map[string]struct{})
	for _, id := range stale {
		if n := tracker.Get(id); n != nil && n.Phase != "" {
			phaseSet[n.Phase] = struct{}{}
		}
	}

	o.mu.Lock()
	var reset []string
	for phase := range phaseSet {
		if _, ok := o.phases[phase]; !ok {
			continue
		}
		o.statuses[phase] = PhasePending
		reset = append(reset, phase)
		for name, res := range o.artifacts {
			if n := tracker.Get(res.NodeID); n != nil && n.Phase == phase {
				delete(o.artifacts, name)
			}
		}
	}
	o.mu.Unlock()
	sort.Strings(reset)

	for _, phase := range reset {
		o.savePhase(phase, PhasePending)
	}
	o.saveNodes()

	o.emit(&events.ProgressEvent{
		Type:   events.EventInvalidation,
		NodeID: nodeID,
		Data:   map[string]any{"stale_nodes": len(stale), "phases": reset},
	})
	return reset, nil
}

// Statuses returns a copy of the per-phase statuses.
func (o *Orchestrator) Statuses() map[string]PhaseStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]PhaseStatus, len(o.statuses))
	for k, v := range o.statuses {
		out[k] = v
	}
	return out
}

// Artifacts returns the accumulated artifact bundle.
func (o *Orchestrator) Artifacts() artifact.Bundle {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(artifact.Bundle, len(o.artifacts))
	for name, res := range o.artifacts {
		out[name] = res.Artifact
	}
	return out
}

// runLayer executes the layer's runnable phases concurrently.
func (o *Orchestrator) runLayer(ctx context.Context, layer []string) {
	var wg sync.WaitGroup
	for _, name := range layer {
		phase := o.phases[name]

		o.mu.Lock()
		status := o.statuses[name]
		o.mu.Unlock()
		if status == PhaseComplete {
			continue
		}

		if blockedBy := o.incompleteDependency(phase); blockedBy != "" {
			o.setStatus(name, PhaseBlocked)
			o.recordFailure(&FailureReport{
				Phase:   name,
				Class:   errors.ClassFatal,
				Message: "blocked: dependency " + blockedBy + " did not complete",
			})
			continue
		}

		wg.Add(1)
		go func(p *Phase) {
			defer wg.Done()
			o.runPhase(ctx, p)
		}(phase)
	}
	wg.Wait()
}

func (o *Orchestrator) incompleteDependency(p *Phase) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, dep := range p.DependsOn {
		if o.statuses[dep] != PhaseComplete {
			return dep
		}
	}
	return ""
}

func (o *Orchestrator) runPhase(ctx context.Context, p *Phase) {
	o.setStatus(p.Name, PhaseRunning)
	o.savePhase(p.Name, PhaseRunning)
	o.emit(&events.ProgressEvent{Type: events.EventPhaseStarted, Phase: p.Name})
	o.logger.Info("phase started", "phase", p.Name)

	env := &PhaseEnv{
		Engine:  o.engine,
		View:    o.snapshot(),
		Concept: o.concept,
		fanOut:  o.fanOut,
		phase:   p.Name,
	}

	result, err := p.Run(ctx, env)
	if err != nil {
		status := PhaseFailed
		if ctx.Err() != nil && errors.GetClass(err) != errors.ClassValidation {
			o.noteCancelled()
			status = PhasePending
		}
		o.setStatus(p.Name, status)
		o.savePhase(p.Name, status)
		if status == PhaseFailed {
			o.recordFailure(&FailureReport{
				Phase:   p.Name,
				Class:   errors.GetClass(err),
				Message: err.Error(),
			})
			o.emit(&events.ProgressEvent{Type: events.EventPhaseFailed, Phase: p.Name, Err: err.Error()})
			o.logger.Error("phase failed", "phase", p.Name, "error", err)
		}
		o.saveNodes()
		return
	}

	for _, f := range result.failures() {
		f.Phase = p.Name
		o.recordFailure(f)
	}
	o.merge(p.Name, result)
	o.setStatus(p.Name, PhaseComplete)
	o.savePhase(p.Name, PhaseComplete)
	o.saveNodes()
	o.emit(&events.ProgressEvent{Type: events.EventPhaseCompleted, Phase: p.Name, Fraction: 1})
	o.logger.Info("phase completed", "phase", p.Name)
}

// fanOut submits tasks under the shared semaphore. Submission stops at
// cancellation; a task already dispatched keeps the run context, and the
// resilient adapter lets its in-flight attempt finish while refusing to
// start new ones.
func (o *Orchestrator) fanOut(ctx context.Context, phase string, tasks []Task) []TaskResult {
	results := make([]TaskResult, len(tasks))
	done := make([]chan struct{}, len(tasks))

	for i, task := range tasks {
		results[i].Label = task.Label
		if ctx.Err() != nil {
			results[i].Err = errors.Wrap(errors.ClassFatal, "run cancelled before task started", ctx.Err())
			continue
		}

		select {
		case o.sem <- struct{}{}:
			if ctx.Err() != nil {
				<-o.sem
				results[i].Err = errors.Wrap(errors.ClassFatal, "run cancelled before task started", ctx.Err())
				continue
			}
		case <-ctx.Done():
			results[i].Err = errors.Wrap(errors.ClassFatal, "run cancelled before task started", ctx.Err())
			continue
		}

		done[i] = make(chan struct{})
		o.emit(&events.ProgressEvent{
			Type: events.EventTaskStarted, Phase: phase, Label: task.Label,
			Fraction: float64(i) / float64(len(tasks)),
		})

		go func(i int, task Task) {
			defer close(done[i])
			defer func() { <-o.sem }()
			res, err := task.Run(ctx)
			results[i].Result = res
			results[i].Err = err
		}(i, task)
	}

	// Completion events go out in submission order regardless of which
	// goroutine finishes first.
	for i := range tasks {
		if done[i] == nil {
			continue
		}
		<-done[i]
		o.emitTaskDone(phase, len(tasks), i, &results[i])
	}
	return results
}

func (o *Orchestrator) emitTaskDone(phase string, total, i int, r *TaskResult) {
	fraction := float64(i+1) / float64(total)
	switch {
	case r.Err != nil:
		o.emit(&events.ProgressEvent{
			Type: events.EventTaskFailed, Phase: phase, Label: r.Label,
			Err: r.Err.Error(), Fraction: fraction,
		})
	case r.Result.Cached:
		o.emit(&events.ProgressEvent{
			Type: events.EventTaskCached, Phase: phase, Label: r.Label,
			NodeID: r.Result.NodeID, Fraction: fraction,
		})
	default:
		o.emit(&events.ProgressEvent{
			Type: events.EventTaskCompleted, Phase: phase, Label: r.Label,
			NodeID: r.Result.NodeID, Fraction: fraction,
		})
	}
}

func (o *Orchestrator) snapshot() *ContextView {
	o.mu.Lock()
	defer o.mu.Unlock()
	view := &ContextView{
		values:    make(map[string]any, len(o.values)),
		artifacts: make(map[string]*GenResult, len(o.artifacts)),
	}
	for k, v := range o.values {
		view.values[k] = v
	}
	for k, v := range o.artifacts {
		view.artifacts[k] = v
	}
	return view
}

func (o *Orchestrator) merge(phase string, result *PhaseResult) {
	if result == nil {
		return
	}
	o.mu.Lock()
	for k, v := range result.Values {
		o.values[k] = v
	}
	for name, res := range result.Artifacts {
		o.artifacts[name] = res
	}
	o.mu.Unlock()

	if o.store == nil {
		return
	}
	for k, v := range result.Values {
		if err := o.store.SaveContextValue(o.projectID, k, v); err != nil {
			o.logger.Warn("checkpoint context write failed", "phase", phase, "key", k, "error", err)
		}
	}
	for name, res := range result.Artifacts {
		if err := o.store.SaveArtifactRef(o.projectID, name, res.CacheKey, res.NodeID); err != nil {
			o.logger.Warn("checkpoint artifact write failed", "phase", phase, "name", name, "error", err)
		}
	}
}

// restore rebuilds in-memory state from the checkpoint. A phase stays
// complete only while every artifact it checkpointed is still in the
// cache; otherwise it reruns.
func (o *Orchestrator) restore() error {
	if o.store == nil {
		return nil
	}

	statuses, err := o.store.LoadPhaseStatuses(o.projectID)
	if err != nil {
		return err
	}
	if len(statuses) == 0 {
		return nil
	}

	nodes, err := o.store.LoadNodes(o.projectID)
	if err != nil {
		return err
	}
	if len(nodes) > 0 && o.engine.Tracker().Len() == 0 {
		if err := o.engine.Tracker().Restore(nodes); err != nil {
			return err
		}
	}

	refs, err := o.store.LoadArtifactRefs(o.projectID)
	if err != nil {
		return err
	}
	lost := make(map[string]struct{})
	tracker := o.engine.Tracker()

	o.mu.Lock()
	for _, ref := range refs {
		if o.cache == nil {
			break
		}
		art, ok := o.cache.Get(ref.CacheKey)
		if !ok {
			if n := tracker.Get(ref.NodeID); n != nil && n.Phase != "" {
				lost[n.Phase] = struct{}{}
			}
			continue
		}
		o.artifacts[ref.Name] = &GenResult{
			Artifact: art,
			CacheKey: ref.CacheKey,
			NodeID:   ref.NodeID,
			Cached:   true,
		}
	}

	values, err := o.store.LoadContext(o.projectID)
	if err == nil {
		for k, raw := range values {
			o.values[k] = raw
		}
	}

	for name := range o.phases {
		saved, ok := statuses[name]
		if !ok {
			continue
		}
		if _, evicted := lost[name]; evicted {
			o.statuses[name] = PhasePending
			continue
		}
		if PhaseStatus(saved) == PhaseComplete {
			o.statuses[name] = PhaseComplete
		}
	}
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) buildReport(start time.Time) *RunReport {
	o.mu.Lock()
	defer o.mu.Unlock()

	report := &RunReport{
		ProjectID: o.projectID,
		Phases:    make(map[string]PhaseStatus, len(o.statuses)),
		Failures:  o.failures,
		Artifacts: make(map[string]*artifact.Artifact, len(o.artifacts)),
		Duration:  time.Since(start),
	}
	phaseFailed := false
	for name, status := range o.statuses {
		report.Phases[name] = status
		if status == PhaseFailed || status == PhaseBlocked {
			phaseFailed = true
		}
	}
	for name, res := range o.artifacts {
		report.Artifacts[name] = res.Artifact
	}

	report.TokensIn, report.TokensOut, report.CostUSD = o.engine.Tracker().Totals()
	if o.cache != nil {
		report.CacheStats = o.cache.Stats()
	}

	// Tolerated task failures leave their phases complete; only a failed
	// or blocked phase fails the run.
	switch {
	case o.cancelled:
		report.State = RunStateCancelled
	case phaseFailed:
		report.State = RunStateFailed
	default:
		report.State = RunStateComplete
	}
	o.state = report.State
	return report
}

func (o *Orchestrator) noteCancelled() {
	o.mu.Lock()
	o.cancelled = true
	o.mu.Unlock()
}

func (o *Orchestrator) persistFinal(report *RunReport) {
	switch report.State {
	case RunStateComplete:
		o.saveRun(project.RunStatusComplete)
		o.emit(&events.ProgressEvent{Type: events.EventRunCompleted, Fraction: 1})
	case RunStateCancelled:
		o.saveRun(project.RunStatusCancelled)
		o.emit(&events.ProgressEvent{Type: events.EventRunCancelled})
	default:
		o.saveRun(project.RunStatusFailed)
		o.emit(&events.ProgressEvent{Type: events.EventRunFailed})
	}
	if o.cache != nil {
		o.cache.Flush()
	}
}

func (o *Orchestrator) setStatus(phase string, status PhaseStatus) {
	o.mu.Lock()
	o.statuses[phase] = status
	o.mu.Unlock()
}

func (o *Orchestrator) recordFailure(f *FailureReport) {
	f.ClassName = f.Class.String()
	f.Time = time.Now().UTC()
	o.mu.Lock()
	o.failures = append(o.failures, f)
	o.mu.Unlock()
}

func (o *Orchestrator) emit(event *events.ProgressEvent) {
	if o.bus == nil {
		return
	}
	event.ProjectID = o.projectID
	event.Timestamp = time.Now().UTC()
	o.bus.Publish(event)
}

func (o *Orchestrator) saveRun(status project.RunStatus) {
	if o.store == nil {
		return
	}
	err := o.store.SaveRun(&project.RunRecord{
		ProjectID: o.projectID,
		Status:    status,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		o.logger.Warn("checkpoint run write failed", "error", err)
	}
}

func (o *Orchestrator) savePhase(phase string, status PhaseStatus) {
	if o.store == nil {
		return
	}
	if err := o.store.SavePhaseStatus(o.projectID, phase, string(status)); err != nil {
		o.logger.Warn("checkpoint phase write failed", "phase", phase, "error", err)
	}
}

func (o *Orchestrator) saveNodes() {
	if o.store == nil {
		return
	}
	if err := o.store.SaveNodes(o.projectID, o.engine.Tracker().All()); err != nil {
		o.logger.Warn("checkpoint lineage write failed", "error", err)
	}
}
