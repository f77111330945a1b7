package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fr4iser90/dashsync/internal/dashboard"
	"github.com/fr4iser90/dashsync/internal/registry"
)

// Outcome is the phase-1 result of one instance in a batch.
type Outcome string

const (
	// OutcomeUnchanged: rendered, stored ref already correct.
	OutcomeUnchanged Outcome = "unchanged"
	// OutcomeDrifted: rendered under a new ref; a correction was queued.
	OutcomeDrifted Outcome = "drifted"
	// OutcomeNullRef: rendered, but no identity was reported while a ref
	// was stored. The stored ref is kept.
	OutcomeNullRef Outcome = "null_ref"
	// OutcomeInvalid: malformed channel or missing configuration.
	OutcomeInvalid Outcome = "invalid"
	// OutcomeFailed: the render failed or timed out.
	OutcomeFailed Outcome = "failed"
)

// ItemResult records what happened to one instance.
type ItemResult struct {
	InstanceID string
	ChannelID  string
	Outcome    Outcome
	OldRef     dashboard.ArtifactRef
	NewRef     dashboard.ArtifactRef

	// Persisted is set for drifted items whose correction was written in
	// phase 2. Superseded is set when phase 2 found a newer stored ref and
	// left it in place.
	Persisted  bool
	Superseded bool
	Err        error
}

// BatchReport aggregates a ReconcileAll pass. Phase-1 counters (Succeeded,
// Failed, Invalid) and phase-2 counters (Corrected, Superseded,
// CorrectionFailed) are independent: a failed correction does not turn a
// successful render into a failure.
type BatchReport struct {
	Total     int
	Succeeded int
	Failed    int
	Invalid   int

	Unchanged int
	Drifted   int
	NullRefs  int

	Corrected        int
	Superseded       int
	CorrectionFailed int
	CorrectionErr    error

	Items    []ItemResult
	Duration time.Duration
}

// ReconcileAll converges every active instance and persists drifted refs.
//
// Phase 1 reads the active set in one read transaction and converges each
// instance through the registry, at most Concurrency at a time. Phase 2
// writes the queued corrections in one write transaction. Per-item failures
// are counted, never returned; the error is non-nil only when the active
// set cannot be read.
func (o *Orchestrator) ReconcileAll(ctx context.Context) (BatchReport, error) {
	start := time.Now()

	active, err := o.instances.ListActive(ctx)
	if err != nil {
		if dashboard.CodeOf(err) == "" {
			err = dashboard.NewInfrastructureError("reconcile", "list active instances", err)
		}
		o.logger.Error("reconcile aborted", "error", err)
		return BatchReport{}, err
	}

	items := o.converge(ctx, active)

	report := BatchReport{Total: len(items), Items: items}
	var corrections []dashboard.Correction
	var correctionIdx []int
	for i, item := range items {
		switch item.Outcome {
		case OutcomeInvalid:
			report.Invalid++
			continue
		case OutcomeFailed:
			report.Failed++
			continue
		case OutcomeUnchanged:
			report.Unchanged++
		case OutcomeNullRef:
			report.NullRefs++
		case OutcomeDrifted:
			report.Drifted++
			corrections = append(corrections, dashboard.Correction{
				InstanceID: item.InstanceID,
				ChannelID:  item.ChannelID,
				OldRef:     item.OldRef,
				NewRef:     item.NewRef,
			})
			correctionIdx = append(correctionIdx, i)
		}
		report.Succeeded++
	}

	if len(corrections) > 0 {
		o.persistCorrections(ctx, &report, corrections, correctionIdx)
	}

	report.Duration = time.Since(start)
	o.logger.Info("reconcile complete",
		"total", report.Total,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"invalid", report.Invalid,
		"corrected", report.Corrected,
		"superseded", report.Superseded,
		"correction_failed", report.CorrectionFailed,
		"duration", report.Duration,
	)
	return report, nil
}

// RefreshAll is ReconcileAll under its operator-facing name.
func (o *Orchestrator) RefreshAll(ctx context.Context) (BatchReport, error) {
	return o.ReconcileAll(ctx)
}

// converge runs phase 1 over a bounded pool. Results keep input order.
func (o *Orchestrator) converge(ctx context.Context, active []dashboard.ActiveInstance) []ItemResult {
	results := make([]ItemResult, len(active))
	sem := make(chan struct{}, o.concurrency)
	var wg sync.WaitGroup

	for i := range active {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			results[i] = ItemResult{
				InstanceID: active[i].ID,
				ChannelID:  active[i].ChannelID,
				Outcome:    OutcomeFailed,
				OldRef:     active[i].ArtifactRef,
				Err:        ctx.Err(),
			}
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = o.reconcileOne(ctx, &active[i])
		}()
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) reconcileOne(ctx context.Context, inst *dashboard.ActiveInstance) ItemResult {
	res := ItemResult{InstanceID: inst.ID, ChannelID: inst.ChannelID, OldRef: inst.ArtifactRef}
	log := o.logger.With("channel", inst.ChannelID, "instance", inst.ID)

	if !dashboard.ValidChannelID(inst.ChannelID) {
		res.Outcome = OutcomeInvalid
		res.Err = dashboard.NewValidationError("reconcile", inst.ChannelID, "malformed channel id")
		log.Warn("skipping instance", "error", res.Err)
		return res
	}
	if inst.Configuration == nil {
		res.Outcome = OutcomeInvalid
		res.Err = dashboard.NewValidationError("reconcile", inst.ChannelID,
			"configuration %s does not exist", inst.ConfigurationID)
		log.Warn("skipping instance", "error", res.Err)
		return res
	}

	if o.instanceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.instanceTimeout)
		defer cancel()
	}

	ref, err := o.runtime.ActivateOrUpdate(ctx, activationFor(inst, *inst.Configuration, nil))
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = err
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn("instance timed out", "timeout", o.instanceTimeout)
		} else {
			log.Warn("instance failed", "error", err)
		}
		return res
	}

	res.NewRef = o.observedRef(inst.ChannelID, ref)
	switch {
	case !res.NewRef.IsZero() && res.NewRef != inst.ArtifactRef:
		res.Outcome = OutcomeDrifted
		log.Info("artifact drift detected", "old_ref", inst.ArtifactRef, "ref", res.NewRef)
	case ref.IsZero() && !inst.ArtifactRef.IsZero():
		res.Outcome = OutcomeNullRef
		res.NewRef = inst.ArtifactRef
		log.Warn("render reported no artifact; keeping stored ref", "ref", inst.ArtifactRef)
	default:
		res.Outcome = OutcomeUnchanged
	}
	return res
}

// persistCorrections is phase 2.
func (o *Orchestrator) persistCorrections(ctx context.Context, report *BatchReport, corrections []dashboard.Correction, idx []int) {
	statuses, err := o.instances.SetArtifactRefs(ctx, corrections)
	if err != nil {
		report.CorrectionFailed = len(corrections)
		report.CorrectionErr = dashboard.NewPersistenceError("reconcile", "", err)
		o.logger.Error("persisting artifact refs failed; next pass will retry",
			"corrections", len(corrections),
			"error", err,
		)
		return
	}
	for i, status := range statuses {
		item := &report.Items[idx[i]]
		switch status {
		case dashboard.CorrectionApplied:
			report.Corrected++
			item.Persisted = true
		case dashboard.CorrectionSuperseded:
			report.Superseded++
			item.Superseded = true
			o.logger.Info("stored ref changed during the pass; keeping the newer ref",
				"channel", item.ChannelID,
				"instance", item.InstanceID,
				"old_ref", item.OldRef,
				"ref", item.NewRef,
			)
		default:
			report.CorrectionFailed++
			o.logger.Warn("instance disappeared before its ref was persisted",
				"channel", item.ChannelID,
				"instance", item.InstanceID,
				"ref", item.NewRef,
			)
		}
	}
}

// observedRef is the artifact identity after a successful render: the
// renderer's result, or the controller's confirmed ref when the renderer
// reported none.
func (o *Orchestrator) observedRef(channelID string, rendered dashboard.ArtifactRef) dashboard.ArtifactRef {
	if !rendered.IsZero() {
		return rendered
	}
	if ctrl, ok := o.runtime.GetController(channelID); ok {
		return ctrl.ArtifactRef
	}
	return ""
}

// activationFor builds the registry input for inst. A nil structure means
// the configuration's own structure.
func activationFor(inst *dashboard.ActiveInstance, cfg dashboard.Configuration, structure dashboard.Structure) registry.Activation {
	if structure == nil {
		structure = cfg.Structure
	}
	return registry.Activation{
		ChannelID:       inst.ChannelID,
		GuildID:         inst.GuildID,
		InstanceID:      inst.ID,
		ConfigurationID: cfg.ID,
		Kind:            cfg.Kind,
		Structure:       structure,
		KnownRef:        inst.ArtifactRef,
	}
}
