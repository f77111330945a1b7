package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/fr4iser90/dashsync/internal/dashboard"
	"github.com/fr4iser90/dashsync/internal/render"
)

var (
	// ErrNoController is returned when a channel has no live controller.
	ErrNoController = errors.New("no controller for channel")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("registry closed")
)

// DefaultRenderTimeout bounds a single renderer call when Options leaves it
// unset.
const DefaultRenderTimeout = 30 * time.Second

// Options configures a Registry.
type Options struct {
	// RenderTimeout bounds each renderer call. Zero means
	// DefaultRenderTimeout; negative disables the bound.
	RenderTimeout time.Duration

	// RefreshInterval, when positive, re-renders every controller on that
	// period until it is deactivated.
	RefreshInterval time.Duration

	Logger *slog.Logger
	Clock  dashboard.Clock
}

// Registry maps channels to controllers.
//
// Thread-safety: all methods are safe for concurrent use.
type Registry struct {
	renderer render.Renderer
	opts     Options
	logger   *slog.Logger

	// base is the parent of every auto-refresh loop; cancelled by Close.
	base       context.Context
	cancelBase context.CancelFunc
	loops      sync.WaitGroup

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// New creates a registry that renders through r.
func New(r render.Renderer, opts Options) *Registry {
	if opts.RenderTimeout == 0 {
		opts.RenderTimeout = DefaultRenderTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = dashboard.SystemClock{}
	}
	base, cancel := context.WithCancel(context.Background())
	return &Registry{
		renderer:   r,
		opts:       opts,
		logger:     opts.Logger.With("component", "registry"),
		base:       base,
		cancelBase: cancel,
		entries:    make(map[string]*entry),
	}
}

// ActivateOrUpdate converges the channel's artifact to act.Structure.
//
// The controller's cached ref, when present, is used as the edit-in-place
// hint in preference to act.KnownRef. On success the returned ref is the
// renderer's result, which may be zero if the renderer reported no
// identity; the cached ref is only replaced by a non-zero result. On failure
// a RENDER error is returned and the cached ref is left as it was.
func (r *Registry) ActivateOrUpdate(ctx context.Context, act Activation) (dashboard.ArtifactRef, error) {
	if !dashboard.ValidChannelID(act.ChannelID) {
		return "", dashboard.NewValidationError("activate", act.ChannelID, "malformed channel id")
	}

	e, err := r.acquire(ctx, act.ChannelID)
	if err != nil {
		return "", err
	}
	defer r.release(act.ChannelID, e)

	now := r.opts.Clock.Now()
	var next *Controller
	cur := r.current(e)
	created := cur == nil
	if created {
		next = &Controller{ChannelID: act.ChannelID, ArtifactRef: act.KnownRef, ActivatedAt: now}
	} else {
		next = cur.clone()
	}
	next.GuildID = act.GuildID
	next.InstanceID = act.InstanceID
	next.ConfigurationID = act.ConfigurationID
	next.Kind = act.Kind
	next.Structure = act.Structure.Clone()

	ref, renderErr := r.render(ctx, next)
	if renderErr != nil {
		next.Failures++
	} else {
		next.Renders++
		next.LastRenderedAt = r.opts.Clock.Now()
		if !ref.IsZero() {
			next.ArtifactRef = ref
		}
	}
	r.swap(e, next)
	if created {
		r.startLoop(act.ChannelID, e)
	}

	if renderErr != nil {
		r.logger.Warn("render failed",
			"channel", act.ChannelID,
			"instance", act.InstanceID,
			"ref", next.ArtifactRef,
			"error", renderErr,
		)
		return "", dashboard.NewRenderError("activate", act.ChannelID, renderErr)
	}
	r.logger.Debug("channel rendered",
		"channel", act.ChannelID,
		"instance", act.InstanceID,
		"ref", ref,
		"created", created,
	)
	return ref, nil
}

// GetController returns a snapshot of the channel's controller. It does not
// take the channel lock.
func (r *Registry) GetController(channelID string) (Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[channelID]
	if !ok || e.ctrl == nil {
		return Controller{}, false
	}
	return *e.ctrl.clone(), true
}

// Channels returns the managed channel ids in ascending order.
func (r *Registry) Channels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for ch, e := range r.entries {
		if e.ctrl != nil {
			out = append(out, ch)
		}
	}
	sort.Strings(out)
	return out
}

// RefreshNow re-renders the channel with its cached structure under the
// channel lock. Returns ErrNoController if the channel is not managed.
func (r *Registry) RefreshNow(ctx context.Context, channelID string) error {
	e, err := r.acquire(ctx, channelID)
	if err != nil {
		return err
	}
	defer r.release(channelID, e)
	return r.refreshLocked(ctx, channelID, e)
}

func (r *Registry) refreshLocked(ctx context.Context, channelID string, e *entry) error {
	cur := r.current(e)
	if cur == nil {
		return fmt.Errorf("refresh %s: %w", channelID, ErrNoController)
	}

	next := cur.clone()
	ref, err := r.render(ctx, next)
	if err != nil {
		next.Failures++
		r.swap(e, next)
		r.logger.Warn("refresh failed", "channel", channelID, "ref", next.ArtifactRef, "error", err)
		return dashboard.NewRenderError("refresh", channelID, err)
	}
	next.Renders++
	next.LastRenderedAt = r.opts.Clock.Now()
	if !ref.IsZero() {
		if ref != next.ArtifactRef {
			r.logger.Info("artifact recreated on refresh", "channel", channelID, "old_ref", next.ArtifactRef, "ref", ref)
		}
		next.ArtifactRef = ref
	}
	r.swap(e, next)
	return nil
}

// Deactivate removes controllers by channel id when key is a well-formed
// channel id, otherwise by kind. The store rejects kinds shaped like channel
// ids, so the two never collide. Returns the channels that were removed.
func (r *Registry) Deactivate(ctx context.Context, key string) ([]string, error) {
	if dashboard.ValidChannelID(key) {
		removed, err := r.DeactivateChannel(ctx, key)
		if err != nil || !removed {
			return nil, err
		}
		return []string{key}, nil
	}
	return r.DeactivateKind(ctx, dashboard.Kind(key))
}

// DeactivateChannel removes the channel's controller and stops its
// background refresh. Returns false, without error, if there was none.
func (r *Registry) DeactivateChannel(ctx context.Context, channelID string) (bool, error) {
	e, err := r.acquire(ctx, channelID)
	if err != nil {
		return false, err
	}
	defer r.release(channelID, e)

	if r.current(e) == nil {
		return false, nil
	}
	if e.stop != nil {
		e.stop()
		e.stop = nil
	}
	r.swap(e, nil)
	r.logger.Info("channel deactivated", "channel", channelID)
	return true, nil
}

// DeactivateKind removes every controller whose configuration kind is kind.
func (r *Registry) DeactivateKind(ctx context.Context, kind dashboard.Kind) ([]string, error) {
	r.mu.Lock()
	var candidates []string
	for ch, e := range r.entries {
		if e.ctrl != nil && e.ctrl.Kind == kind {
			candidates = append(candidates, ch)
		}
	}
	r.mu.Unlock()
	sort.Strings(candidates)

	removed := []string{}
	for _, ch := range candidates {
		ok, err := r.deactivateIfKind(ctx, ch, kind)
		if err != nil {
			return removed, err
		}
		if ok {
			removed = append(removed, ch)
		}
	}
	return removed, nil
}

// deactivateIfKind re-checks the kind under the channel lock; the
// controller may have been reconfigured since the candidate scan.
func (r *Registry) deactivateIfKind(ctx context.Context, channelID string, kind dashboard.Kind) (bool, error) {
	e, err := r.acquire(ctx, channelID)
	if err != nil {
		return false, err
	}
	defer r.release(channelID, e)

	if cur := r.current(e); cur == nil || cur.Kind != kind {
		return false, nil
	}
	if e.stop != nil {
		e.stop()
		e.stop = nil
	}
	r.swap(e, nil)
	r.logger.Info("channel deactivated", "channel", channelID, "kind", kind)
	return true, nil
}

// Close stops all background refresh loops and drops every controller.
// Subsequent operations return ErrClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.cancelBase()
	r.loops.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	for ch, e := range r.entries {
		e.ctrl = nil
		if e.refs == 0 {
			delete(r.entries, ch)
		}
	}
}

// acquire takes the channel lock, creating the entry if needed.
func (r *Registry) acquire(ctx context.Context, channelID string) (*entry, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	e, ok := r.entries[channelID]
	if !ok {
		e = newEntry()
		r.entries[channelID] = e
	}
	e.refs++
	r.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
		return e, nil
	case <-ctx.Done():
		r.drop(channelID, e)
		return nil, ctx.Err()
	}
}

// release gives the channel lock back.
func (r *Registry) release(channelID string, e *entry) {
	<-e.sem
	r.drop(channelID, e)
}

// drop removes one reference and deletes the entry once it is unused.
func (r *Registry) drop(channelID string, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.refs--
	if e.refs == 0 && e.ctrl == nil && r.entries[channelID] == e {
		delete(r.entries, channelID)
	}
}

// current returns the entry's controller. Close may clear it at any time,
// so callers work on the returned pointer and never re-read e.ctrl.
func (r *Registry) current(e *entry) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	return e.ctrl
}

// swap publishes a new controller snapshot. Caller holds the channel lock.
func (r *Registry) swap(e *entry, c *Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed && c != nil {
		return
	}
	e.ctrl = c
}

// render calls the renderer with the timeout applied and converts a panic
// in the collaborator into an error.
func (r *Registry) render(ctx context.Context, c *Controller) (ref dashboard.ArtifactRef, err error) {
	if r.opts.RenderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.RenderTimeout)
		defer cancel()
	}
	defer func() {
		if p := recover(); p != nil {
			ref, err = "", fmt.Errorf("renderer panic: %v", p)
		}
	}()
	return r.renderer.Render(ctx, render.Request{
		ChannelID:  c.ChannelID,
		GuildID:    c.GuildID,
		InstanceID: c.InstanceID,
		Kind:       c.Kind,
		Structure:  c.Structure,
		KnownRef:   c.ArtifactRef,
	})
}

// startLoop starts the auto-refresh loop for a new controller. Caller holds
// the channel lock.
func (r *Registry) startLoop(channelID string, e *entry) {
	if r.opts.RefreshInterval <= 0 {
		return
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.loops.Add(1)
	r.mu.Unlock()

	ctx, cancel := context.WithCancel(r.base)
	e.stop = cancel
	go r.refreshLoop(ctx, channelID, e)
}

func (r *Registry) refreshLoop(ctx context.Context, channelID string, owner *entry) {
	defer r.loops.Done()
	ticker := time.NewTicker(r.opts.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		e, err := r.acquire(ctx, channelID)
		if err != nil {
			return
		}
		// A deactivation may have won the race for the lock; this loop
		// belongs to the entry and controller it was started for.
		if ctx.Err() != nil || e != owner {
			r.release(channelID, e)
			return
		}
		err = r.refreshLocked(ctx, channelID, e)
		r.release(channelID, e)
		if err != nil && !errors.Is(err, ErrNoController) && ctx.Err() == nil {
			r.logger.Debug("scheduled refresh failed", "channel", channelID, "error", err)
		}
	}
}
