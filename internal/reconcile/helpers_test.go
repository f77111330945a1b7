package reconcile

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fr4iser90/dashsync/internal/dashboard"
	"github.com/fr4iser90/dashsync/internal/registry"
	"github.com/fr4iser90/dashsync/internal/render"
	"github.com/fr4iser90/dashsync/internal/store"
	"github.com/fr4iser90/dashsync/internal/testutil"
)

// faultyStore injects write failures in front of a real store.
type faultyStore struct {
	*store.Store

	mu           sync.Mutex
	setRefErr    error
	setRefsErr   error
	setActiveErr error
}

func (f *faultyStore) failSetRef(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setRefErr = err
}

func (f *faultyStore) failSetRefs(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setRefsErr = err
}

func (f *faultyStore) failSetActive(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setActiveErr = err
}

func (f *faultyStore) SetArtifactRef(ctx context.Context, id string, ref dashboard.ArtifactRef) (bool, error) {
	f.mu.Lock()
	err := f.setRefErr
	f.mu.Unlock()
	if err != nil {
		return false, err
	}
	return f.Store.SetArtifactRef(ctx, id, ref)
}

func (f *faultyStore) SetArtifactRefs(ctx context.Context, corrections []dashboard.Correction) ([]dashboard.CorrectionStatus, error) {
	f.mu.Lock()
	err := f.setRefsErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Store.SetArtifactRefs(ctx, corrections)
}

func (f *faultyStore) SetActiveByChannel(ctx context.Context, channelID string, active bool) (int64, error) {
	f.mu.Lock()
	err := f.setActiveErr
	f.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return f.Store.SetActiveByChannel(ctx, channelID, active)
}

type fixture struct {
	store   *store.Store
	faulty  *faultyStore
	surface *render.Memory
	reg     *registry.Registry
	orch    *Orchestrator
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newFixture wires a file-backed store, an in-memory surface, a registry
// and an orchestrator. wrap, when non-nil, decorates the renderer.
func newFixture(t *testing.T, wrap func(render.Renderer) render.Renderer, opts ...Option) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "dash.db"),
		store.WithClock(testutil.NewDeterministicClock()),
		store.WithIDGenerator(testutil.NewSequenceIDGenerator("row")),
	)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	surface := render.NewMemory()
	var r render.Renderer = surface
	if wrap != nil {
		r = wrap(surface)
	}
	reg := registry.New(r, registry.Options{
		RenderTimeout: -1,
		Logger:        discardLogger(),
		Clock:         testutil.NewDeterministicClock(),
	})
	t.Cleanup(reg.Close)

	faulty := &faultyStore{Store: s}
	opts = append([]Option{WithLogger(discardLogger()), WithInstanceTimeout(time.Second)}, opts...)
	return &fixture{
		store:   s,
		faulty:  faulty,
		surface: surface,
		reg:     reg,
		orch:    New(s, faulty, reg, opts...),
	}
}

func (f *fixture) configuration(t *testing.T, name string, kind dashboard.Kind) dashboard.Configuration {
	t.Helper()
	cfg, _, err := f.store.UpsertConfiguration(context.Background(), store.ConfigurationInput{
		Name:      name,
		Kind:      kind,
		Structure: dashboard.Structure(`{"title":"` + name + `"}`),
	})
	require.NoError(t, err)
	return cfg
}

func (f *fixture) instance(t *testing.T, configID, channelID string) dashboard.ActiveInstance {
	t.Helper()
	inst, err := f.store.CreateInstance(context.Background(), store.InstanceInput{
		ConfigurationID: configID,
		GuildID:         "900",
		ChannelID:       channelID,
		IsActive:        true,
	})
	require.NoError(t, err)
	return inst
}

func (f *fixture) storedRef(t *testing.T, channelID string) dashboard.ArtifactRef {
	t.Helper()
	inst, err := f.store.GetInstanceByChannel(context.Background(), channelID)
	require.NoError(t, err)
	return inst.ArtifactRef
}

func itemFor(t *testing.T, report BatchReport, channelID string) ItemResult {
	t.Helper()
	for _, item := range report.Items {
		if item.ChannelID == channelID {
			return item
		}
	}
	t.Fatalf("no item for channel %s", channelID)
	return ItemResult{}
}
