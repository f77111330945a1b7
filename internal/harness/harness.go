package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/fr4iser90/dashsync/internal/dashboard"
	"github.com/fr4iser90/dashsync/internal/reconcile"
	"github.com/fr4iser90/dashsync/internal/registry"
	"github.com/fr4iser90/dashsync/internal/render"
	"github.com/fr4iser90/dashsync/internal/store"
	"github.com/fr4iser90/dashsync/internal/template"
	"github.com/fr4iser90/dashsync/internal/testutil"
)

// Timeouts used by every scenario. A hung render fails after
// RenderTimeout, well inside InstanceTimeout.
const (
	RenderTimeout   = 100 * time.Millisecond
	InstanceTimeout = time.Second
)

// DefaultGuild is used for instances and syncs that name no guild.
const DefaultGuild = "900"

// Step outcomes that are not error codes.
const (
	OutcomeOK           = "ok"
	OutcomeNoController = "NO_CONTROLLER"
	OutcomeError        = "ERROR"
)

// Render event outcomes.
const (
	renderOK    = "ok"
	renderEmpty = "empty"
	renderError = "error"
)

// Option configures Run.
type Option func(*runOptions)

type runOptions struct {
	logger *slog.Logger
}

// WithLogger routes the logs of the system under test to l. By default
// they are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(o *runOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// runner holds the system under test for one scenario.
type runner struct {
	scenario *Scenario
	store    *store.Store
	faults   *faultStore
	surface  *render.Memory
	registry *registry.Registry
	orch     *reconcile.Orchestrator
	result   *Result

	mu  sync.Mutex
	seq int64
}

// Run executes a scenario against a fresh in-memory system and returns the
// recorded trace with the results of all step expectations and
// assertions. The returned error is reserved for setup failures: an
// unusable database, templates that fail to load or seed data the store
// rejects.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	o := runOptions{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}

	s, err := store.Open(":memory:",
		store.WithClock(testutil.NewDeterministicClock()),
		store.WithIDGenerator(testutil.NewSequenceIDGenerator("row")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer s.Close()

	r := &runner{
		scenario: scenario,
		store:    s,
		faults:   &faultStore{Store: s},
		surface:  render.NewMemory(),
		result:   NewResult(),
	}
	r.registry = registry.New(render.Func(r.recordRender), registry.Options{
		RenderTimeout: RenderTimeout,
		Logger:        o.logger,
		Clock:         testutil.NewDeterministicClock(),
	})
	defer r.registry.Close()

	// One instance at a time keeps renderer calls, and so message ids,
	// in channel order.
	r.orch = reconcile.New(s, r.faults, r.registry,
		reconcile.WithConcurrency(1),
		reconcile.WithInstanceTimeout(InstanceTimeout),
		reconcile.WithLogger(o.logger),
	)

	ctx := context.Background()
	if err := r.seed(ctx); err != nil {
		return nil, err
	}

	for i, step := range scenario.Steps {
		r.runStep(ctx, i, step)
	}

	for i, a := range scenario.Assertions {
		if err := r.assert(ctx, a); err != nil {
			r.result.AddError(fmt.Sprintf("assertion %d (%s) failed: %v", i, a.Type, err))
		}
	}
	return r.result, nil
}

// seed stores templates, inline configurations and eager instances.
func (r *runner) seed(ctx context.Context) error {
	if r.scenario.Templates != "" {
		res, errs := template.Load(r.scenario.Templates)
		if len(errs) > 0 {
			return fmt.Errorf("failed to load templates: %w", errors.Join(errs...))
		}
		for _, t := range res.Templates {
			if err := r.upsert(ctx, t.Name, t.Kind, t.Description, t.Structure); err != nil {
				return err
			}
			for _, b := range t.Bindings {
				if err := r.provision(ctx, InstanceSpec{Config: t.Name, Guild: b.Guild, Channel: b.Channel}); err != nil {
					return err
				}
			}
		}
	}

	for _, c := range r.scenario.Configurations {
		structure, err := encodeStructure(c.Structure)
		if err != nil {
			return fmt.Errorf("configuration %q: %w", c.Name, err)
		}
		if err := r.upsert(ctx, c.Name, dashboard.Kind(c.Kind), c.Description, structure); err != nil {
			return err
		}
	}

	for _, inst := range r.scenario.Instances {
		if err := r.provision(ctx, inst); err != nil {
			return err
		}
	}
	return nil
}

func (r *runner) upsert(ctx context.Context, name string, kind dashboard.Kind, description string, structure dashboard.Structure) error {
	_, _, err := r.store.UpsertConfiguration(ctx, store.ConfigurationInput{
		Name:        name,
		Kind:        kind,
		Description: description,
		Structure:   structure,
	})
	if err != nil {
		return fmt.Errorf("failed to store configuration %q: %w", name, err)
	}
	return nil
}

func (r *runner) provision(ctx context.Context, spec InstanceSpec) error {
	cfg, err := r.store.FindConfigurationByName(ctx, spec.Config)
	if err != nil {
		return fmt.Errorf("instance %s: configuration %q: %w", spec.Channel, spec.Config, err)
	}
	guild := spec.Guild
	if guild == "" {
		guild = DefaultGuild
	}
	_, err = r.store.CreateInstance(ctx, store.InstanceInput{
		ConfigurationID: cfg.ID,
		GuildID:         guild,
		ChannelID:       spec.Channel,
		IsActive:        !spec.Inactive,
	})
	if err != nil {
		return fmt.Errorf("failed to provision instance %s: %w", spec.Channel, err)
	}
	return nil
}

// runStep executes one step, records it and checks its expectation.
func (r *runner) runStep(ctx context.Context, index int, step Step) {
	ev := TraceEvent{Type: EventStep, Op: step.Op, Channel: step.Channel, Key: step.Key}
	var err error

	switch step.Op {
	case OpSync:
		var structure dashboard.Structure
		if step.Structure != nil {
			structure, err = encodeStructure(step.Structure)
			if err != nil {
				break
			}
		}
		guild := step.Guild
		if guild == "" {
			guild = DefaultGuild
		}
		var res reconcile.SyncResult
		res, err = r.orch.Sync(ctx, reconcile.SyncRequest{
			GuildID:           guild,
			ChannelID:         step.Channel,
			ConfigurationName: step.Config,
			Kind:              dashboard.Kind(step.Kind),
			Structure:         structure,
		})
		ev.Ref = string(res.ArtifactRef)

	case OpReconcile:
		var report reconcile.BatchReport
		report, err = r.orch.ReconcileAll(ctx)
		ev.Report = summarize(report)

	case OpActivate:
		var ref dashboard.ArtifactRef
		ref, err = r.orch.Activate(ctx, step.Channel)
		ev.Ref = string(ref)

	case OpRefresh:
		err = r.orch.Refresh(ctx, step.Channel)
		if ctrl, ok := r.registry.GetController(step.Channel); ok {
			ev.Ref = string(ctrl.ArtifactRef)
		}

	case OpDeactivate:
		_, err = r.orch.Deactivate(ctx, step.Key)

	case OpFailRender:
		msg := step.Message
		if msg == "" {
			msg = "injected render failure"
		}
		r.surface.FailNext(step.Channel, errors.New(msg))

	case OpEmptyRender:
		r.surface.EmptyNext(step.Channel)

	case OpHangRender:
		r.surface.HangNext(step.Channel)

	case OpDeleteArtifact:
		ref := r.currentRef(ctx, step.Channel)
		ev.Ref = string(ref)
		if ref.IsZero() || !r.surface.Delete(ref) {
			err = fmt.Errorf("no artifact for channel %s", step.Channel)
		}

	case OpFailPersist:
		r.faults.fail(errors.New("injected persistence failure"))

	case OpHealPersist:
		r.faults.fail(nil)
	}

	ev.Outcome = outcomeOf(err)
	r.record(ev)

	if step.Expect != nil {
		if mismatch := checkExpect(step.Expect, ev); mismatch != "" {
			r.result.AddError(fmt.Sprintf("step %d (%s): %s", index, step.Op, mismatch))
		}
	}
}

// currentRef returns the stored ref of the channel's instance, or the
// controller's when nothing is stored.
func (r *runner) currentRef(ctx context.Context, channelID string) dashboard.ArtifactRef {
	if inst, err := r.store.GetInstanceByChannel(ctx, channelID); err == nil && !inst.ArtifactRef.IsZero() {
		return inst.ArtifactRef
	}
	if ctrl, ok := r.registry.GetController(channelID); ok {
		return ctrl.ArtifactRef
	}
	return ""
}

// recordRender is the renderer seen by the registry: the in-memory surface
// plus a trace event per call.
func (r *runner) recordRender(ctx context.Context, req render.Request) (dashboard.ArtifactRef, error) {
	ref, err := r.surface.Render(ctx, req)
	outcome := renderOK
	switch {
	case err != nil:
		outcome = renderError
	case ref.IsZero():
		outcome = renderEmpty
	}
	r.record(TraceEvent{
		Type:     EventRender,
		Channel:  req.ChannelID,
		KnownRef: string(req.KnownRef),
		Ref:      string(ref),
		Outcome:  outcome,
	})
	return ref, err
}

func (r *runner) record(ev TraceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	ev.Seq = r.seq
	r.result.Trace = append(r.result.Trace, ev)
}

// outcomeOf maps a step error onto its trace outcome.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, registry.ErrNoController):
		return OutcomeNoController
	}
	if code := dashboard.CodeOf(err); code != "" {
		return string(code)
	}
	return OutcomeError
}

// checkExpect compares a recorded step with its expectation and describes
// the first mismatch, or returns "".
func checkExpect(want *StepExpect, ev TraceEvent) string {
	outcome := want.Outcome
	if outcome == "" {
		outcome = OutcomeOK
	}
	if ev.Outcome != outcome {
		return fmt.Sprintf("outcome = %s, expected %s", ev.Outcome, outcome)
	}
	if want.Ref != "" && ev.Ref != want.Ref {
		return fmt.Sprintf("ref = %q, expected %q", ev.Ref, want.Ref)
	}
	if len(want.Report) > 0 {
		if ev.Report == nil {
			return "step produced no report"
		}
		got := ev.Report.counters()
		for key, n := range want.Report {
			actual, ok := got[key]
			if !ok {
				return fmt.Sprintf("unknown report counter %q", key)
			}
			if actual != n {
				return fmt.Sprintf("report.%s = %d, expected %d", key, actual, n)
			}
		}
	}
	return ""
}

func summarize(b reconcile.BatchReport) *ReportSummary {
	return &ReportSummary{
		Total:            b.Total,
		Succeeded:        b.Succeeded,
		Failed:           b.Failed,
		Invalid:          b.Invalid,
		Unchanged:        b.Unchanged,
		Drifted:          b.Drifted,
		NullRefs:         b.NullRefs,
		Corrected:        b.Corrected,
		Superseded:       b.Superseded,
		CorrectionFailed: b.CorrectionFailed,
	}
}

// encodeStructure turns a YAML-decoded structure into stored JSON. A
// missing structure is an empty object.
func encodeStructure(v any) (dashboard.Structure, error) {
	if v == nil {
		return dashboard.Structure(`{}`), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode structure: %w", err)
	}
	return dashboard.Structure(data), nil
}

// faultStore fails artifact ref writes while a fault is set.
type faultStore struct {
	*store.Store

	mu  sync.Mutex
	err error
}

func (f *faultStore) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *faultStore) injected() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *faultStore) SetArtifactRef(ctx context.Context, id string, ref dashboard.ArtifactRef) (bool, error) {
	if err := f.injected(); err != nil {
		return false, err
	}
	return f.Store.SetArtifactRef(ctx, id, ref)
}

func (f *faultStore) SetArtifactRefs(ctx context.Context, corrections []dashboard.Correction) ([]dashboard.CorrectionStatus, error) {
	if err := f.injected(); err != nil {
		return nil, err
	}
	return f.Store.SetArtifactRefs(ctx, corrections)
}
