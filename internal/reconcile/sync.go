package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/fr4iser90/dashsync/internal/dashboard"
	"github.com/fr4iser90/dashsync/internal/store"
)

// SyncRequest asks for one channel to show the named configuration.
type SyncRequest struct {
	GuildID           string
	ChannelID         string
	ConfigurationName string

	// Kind, when set, must match the stored configuration's kind.
	Kind dashboard.Kind

	// Structure, when non-nil, is rendered instead of the stored
	// configuration's structure.
	Structure dashboard.Structure
}

// SyncResult describes what Sync changed.
type SyncResult struct {
	Instance dashboard.ActiveInstance

	// Created is set when the instance row was inserted by this call;
	// Updated when an existing row was changed.
	Created bool
	Updated bool

	// ArtifactRef is the ref after the render; Drifted is set when it
	// differed from the stored ref and was persisted.
	ArtifactRef dashboard.ArtifactRef
	Drifted     bool
}

// Sync provisions the instance for req.ChannelID and converges it.
//
// The row is created (artifact ref null, active) or minimally updated
// before the render, outside any transaction that the render could hold
// open. A render failure is returned as a RENDER error and leaves the row
// provisioned for a later retry. A failed ref write after a successful
// render is returned as a PERSISTENCE error; the render stands.
func (o *Orchestrator) Sync(ctx context.Context, req SyncRequest) (SyncResult, error) {
	if !dashboard.ValidChannelID(req.ChannelID) {
		return SyncResult{}, dashboard.NewValidationError("sync", req.ChannelID, "malformed channel id")
	}

	cfg, err := o.configs.FindConfigurationByName(ctx, req.ConfigurationName)
	if isNotFound(err) {
		return SyncResult{}, dashboard.NewValidationError("sync", req.ChannelID,
			"configuration %q does not exist", req.ConfigurationName)
	}
	if err != nil {
		return SyncResult{}, fmt.Errorf("sync %s: %w", req.ChannelID, err)
	}
	if req.Kind != "" && req.Kind != cfg.Kind {
		return SyncResult{}, dashboard.NewValidationError("sync", req.ChannelID,
			"configuration %q has kind %q, requested %q", cfg.Name, cfg.Kind, req.Kind)
	}

	res, err := o.provision(ctx, req, cfg)
	if err != nil {
		return SyncResult{}, err
	}

	ref, drifted, err := o.activate(ctx, "sync", &res.Instance, cfg, req.Structure)
	res.ArtifactRef = ref
	res.Drifted = drifted
	if err != nil {
		return res, err
	}
	o.logger.Info("channel synced",
		"channel", req.ChannelID,
		"instance", res.Instance.ID,
		"config", cfg.Name,
		"ref", ref,
		"created", res.Created,
	)
	return res, nil
}

// provision creates or minimally updates the instance row for req.
func (o *Orchestrator) provision(ctx context.Context, req SyncRequest, cfg dashboard.Configuration) (SyncResult, error) {
	inst, err := o.instances.GetInstanceByChannel(ctx, req.ChannelID)
	if isNotFound(err) {
		inst, err = o.instances.CreateInstance(ctx, store.InstanceInput{
			ConfigurationID: cfg.ID,
			GuildID:         req.GuildID,
			ChannelID:       req.ChannelID,
			IsActive:        true,
		})
		if err == nil {
			return SyncResult{Instance: inst, Created: true}, nil
		}
		if !errors.Is(err, store.ErrDuplicate) {
			return SyncResult{}, fmt.Errorf("sync %s: %w", req.ChannelID, err)
		}
		// A concurrent sync created the row first; diff against it.
		inst, err = o.instances.GetInstanceByChannel(ctx, req.ChannelID)
	}
	if err != nil {
		return SyncResult{}, fmt.Errorf("sync %s: %w", req.ChannelID, err)
	}

	upd := diff(inst, cfg.ID, req.GuildID)
	if upd.IsEmpty() {
		return SyncResult{Instance: inst}, nil
	}
	inst, err = o.instances.UpdateInstance(ctx, inst.ID, upd)
	if err != nil {
		return SyncResult{}, fmt.Errorf("sync %s: %w", req.ChannelID, err)
	}
	return SyncResult{Instance: inst, Updated: true}, nil
}

// diff returns the fields of inst that differ from the desired binding. An
// empty guildID leaves the guild alone.
func diff(inst dashboard.ActiveInstance, configurationID, guildID string) store.InstanceUpdate {
	var upd store.InstanceUpdate
	if inst.ConfigurationID != configurationID {
		upd.ConfigurationID = &configurationID
	}
	if guildID != "" && inst.GuildID != guildID {
		upd.GuildID = &guildID
	}
	if !inst.IsActive {
		active := true
		upd.IsActive = &active
	}
	return upd
}

// Activate converges the stored instance bound to channelID, reactivating
// it if it was deactivated.
func (o *Orchestrator) Activate(ctx context.Context, channelID string) (dashboard.ArtifactRef, error) {
	if !dashboard.ValidChannelID(channelID) {
		return "", dashboard.NewValidationError("activate", channelID, "malformed channel id")
	}
	inst, err := o.instances.GetInstanceByChannel(ctx, channelID)
	if isNotFound(err) {
		return "", dashboard.NewValidationError("activate", channelID, "no instance for channel")
	}
	if err != nil {
		return "", fmt.Errorf("activate %s: %w", channelID, err)
	}
	cfg, err := o.configs.GetConfiguration(ctx, inst.ConfigurationID)
	if isNotFound(err) {
		return "", dashboard.NewValidationError("activate", channelID,
			"configuration %s does not exist", inst.ConfigurationID)
	}
	if err != nil {
		return "", fmt.Errorf("activate %s: %w", channelID, err)
	}
	if !inst.IsActive {
		active := true
		inst, err = o.instances.UpdateInstance(ctx, inst.ID, store.InstanceUpdate{IsActive: &active})
		if err != nil {
			return "", fmt.Errorf("activate %s: %w", channelID, err)
		}
	}

	ref, _, err := o.activate(ctx, "activate", &inst, cfg, nil)
	return ref, err
}

// activate renders inst through the registry and persists the ref in its
// own write when it drifted. Returns the observed ref and whether a drift
// was persisted.
func (o *Orchestrator) activate(ctx context.Context, op string, inst *dashboard.ActiveInstance, cfg dashboard.Configuration, structure dashboard.Structure) (dashboard.ArtifactRef, bool, error) {
	rendered, err := o.runtime.ActivateOrUpdate(ctx, activationFor(inst, cfg, structure))
	if err != nil {
		o.logger.Warn("converge failed; instance stays provisioned",
			"op", op,
			"channel", inst.ChannelID,
			"instance", inst.ID,
			"error", err,
		)
		return "", false, err
	}

	ref := o.observedRef(inst.ChannelID, rendered)
	if ref.IsZero() || ref == inst.ArtifactRef {
		if rendered.IsZero() && !inst.ArtifactRef.IsZero() {
			o.logger.Warn("render reported no artifact; keeping stored ref",
				"channel", inst.ChannelID,
				"ref", inst.ArtifactRef,
			)
			ref = inst.ArtifactRef
		}
		return ref, false, nil
	}

	ok, err := o.instances.SetArtifactRef(ctx, inst.ID, ref)
	if err == nil && !ok {
		err = store.ErrNotFound
	}
	if err != nil {
		o.logger.Error("persisting artifact ref failed; next reconcile will retry",
			"op", op,
			"channel", inst.ChannelID,
			"instance", inst.ID,
			"ref", ref,
			"error", err,
		)
		return ref, false, dashboard.NewPersistenceError(op, inst.ID, err)
	}
	o.logger.Info("artifact ref persisted", "channel", inst.ChannelID, "old_ref", inst.ArtifactRef, "ref", ref)
	inst.ArtifactRef = ref
	return ref, true, nil
}

// DeactivateResult reports what Deactivate changed.
type DeactivateResult struct {
	// Channels whose controllers were removed from the registry.
	Channels []string
	// Persisted is the number of instance rows flipped to inactive.
	Persisted int64
}

// Deactivate removes the controllers matching key (a channel id, or
// otherwise a kind) and always marks the matching stored instances
// inactive, so a later ReconcileAll does not bring them back. Deactivating
// an unknown or already inactive target is not an error.
func (o *Orchestrator) Deactivate(ctx context.Context, key string) (DeactivateResult, error) {
	if key == "" {
		return DeactivateResult{}, dashboard.NewValidationError("deactivate", "", "channel id or kind is required")
	}
	removed, err := o.runtime.Deactivate(ctx, key)
	if err != nil {
		return DeactivateResult{}, fmt.Errorf("deactivate %s: %w", key, err)
	}

	var n int64
	if dashboard.ValidChannelID(key) {
		n, err = o.instances.SetActiveByChannel(ctx, key, false)
	} else {
		n, err = o.instances.SetActiveByKind(ctx, dashboard.Kind(key), false)
	}
	res := DeactivateResult{Channels: removed, Persisted: n}
	if err != nil {
		o.logger.Error("persisting deactivation failed", "key", key, "error", err)
		return res, dashboard.NewPersistenceError("deactivate", "", err)
	}
	o.logger.Info("deactivated", "key", key, "controllers", len(removed), "rows", n)
	return res, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
