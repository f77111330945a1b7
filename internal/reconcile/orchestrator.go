package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/fr4iser90/dashsync/internal/dashboard"
	"github.com/fr4iser90/dashsync/internal/registry"
	"github.com/fr4iser90/dashsync/internal/store"
)

// ConfigurationStore is the read side of configuration storage the
// orchestrator needs. *store.Store implements it.
type ConfigurationStore interface {
	FindConfigurationByName(ctx context.Context, name string) (dashboard.Configuration, error)
	GetConfiguration(ctx context.Context, id string) (dashboard.Configuration, error)
}

// InstanceStore is the instance storage the orchestrator needs.
// *store.Store implements it.
type InstanceStore interface {
	ListActive(ctx context.Context) ([]dashboard.ActiveInstance, error)
	GetInstanceByChannel(ctx context.Context, channelID string) (dashboard.ActiveInstance, error)
	CreateInstance(ctx context.Context, in store.InstanceInput) (dashboard.ActiveInstance, error)
	UpdateInstance(ctx context.Context, id string, upd store.InstanceUpdate) (dashboard.ActiveInstance, error)
	SetArtifactRef(ctx context.Context, id string, ref dashboard.ArtifactRef) (bool, error)
	SetArtifactRefs(ctx context.Context, corrections []dashboard.Correction) ([]dashboard.CorrectionStatus, error)
	SetActiveByChannel(ctx context.Context, channelID string, active bool) (int64, error)
	SetActiveByKind(ctx context.Context, kind dashboard.Kind, active bool) (int64, error)
}

// Runtime is the channel registry as seen by the orchestrator.
// *registry.Registry implements it.
type Runtime interface {
	ActivateOrUpdate(ctx context.Context, act registry.Activation) (dashboard.ArtifactRef, error)
	GetController(channelID string) (registry.Controller, bool)
	RefreshNow(ctx context.Context, channelID string) error
	Deactivate(ctx context.Context, key string) ([]string, error)
}

// DefaultConcurrency is the number of instances ReconcileAll converges at
// once when no WithConcurrency option is given.
const DefaultConcurrency = 4

// DefaultInstanceTimeout bounds one instance in ReconcileAll.
const DefaultInstanceTimeout = 45 * time.Second

// Orchestrator coordinates the stores and the channel registry.
//
// Thread-safety: all methods are safe for concurrent use. Per-channel
// ordering is provided by the registry.
type Orchestrator struct {
	configs   ConfigurationStore
	instances InstanceStore
	runtime   Runtime

	concurrency     int
	instanceTimeout time.Duration
	logger          *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConcurrency sets how many instances ReconcileAll processes at once.
// Values below 1 are treated as 1.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n < 1 {
			n = 1
		}
		o.concurrency = n
	}
}

// WithInstanceTimeout bounds the registry call made for each instance in
// ReconcileAll. A timeout is counted as a failed item. Zero or negative
// disables the bound.
func WithInstanceTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.instanceTimeout = d
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// New creates an Orchestrator.
func New(configs ConfigurationStore, instances InstanceStore, rt Runtime, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		configs:         configs,
		instances:       instances,
		runtime:         rt,
		concurrency:     DefaultConcurrency,
		instanceTimeout: DefaultInstanceTimeout,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "reconcile")
	return o
}

// Refresh re-renders one channel from the registry's cached state. It does
// not touch the database. Returns an error wrapping registry.ErrNoController
// when the channel is not managed.
func (o *Orchestrator) Refresh(ctx context.Context, channelID string) error {
	if !dashboard.ValidChannelID(channelID) {
		return dashboard.NewValidationError("refresh", channelID, "malformed channel id")
	}
	return o.runtime.RefreshNow(ctx, channelID)
}

// State reports the lifecycle state of the instance bound to channelID as
// seen by this process.
func (o *Orchestrator) State(ctx context.Context, channelID string) (dashboard.InstanceState, error) {
	inst, err := o.instances.GetInstanceByChannel(ctx, channelID)
	if isNotFound(err) {
		return dashboard.StateAbsent, nil
	}
	if err != nil {
		return "", err
	}
	var live dashboard.ArtifactRef
	if ctrl, ok := o.runtime.GetController(channelID); ok {
		live = ctrl.ArtifactRef
	}
	return dashboard.StateOf(&inst, live), nil
}
