package registry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fr4iser90/dashsync/internal/dashboard"
	"github.com/fr4iser90/dashsync/internal/render"
)

func newTestRegistry(t *testing.T, opts Options) (*Registry, *render.Memory) {
	t.Helper()
	surface := render.NewMemory()
	r := New(surface, opts)
	t.Cleanup(r.Close)
	return r, surface
}

func activation(channelID string, kind dashboard.Kind, structure string) Activation {
	return Activation{
		ChannelID:       channelID,
		GuildID:         "900",
		InstanceID:      "inst-" + channelID,
		ConfigurationID: "cfg-" + string(kind),
		Kind:            kind,
		Structure:       dashboard.Structure(structure),
	}
}

func TestActivateOrUpdate_CreatesController(t *testing.T) {
	r, surface := newTestRegistry(t, Options{})
	ctx := context.Background()

	ref, err := r.ActivateOrUpdate(ctx, activation("1001", "monitoring", "v1"))
	require.NoError(t, err)
	assert.Equal(t, dashboard.ArtifactRef("1001/5001"), ref)

	ctrl, ok := r.GetController("1001")
	require.True(t, ok)
	assert.Equal(t, ref, ctrl.ArtifactRef)
	assert.Equal(t, "inst-1001", ctrl.InstanceID)
	assert.Equal(t, dashboard.Kind("monitoring"), ctrl.Kind)
	assert.Equal(t, dashboard.Structure("v1"), ctrl.Structure)
	assert.Equal(t, 1, ctrl.Renders)
	assert.Equal(t, []string{"1001"}, r.Channels())
	assert.Len(t, surface.Messages("1001"), 1)
}

func TestActivateOrUpdate_Idempotent(t *testing.T) {
	r, surface := newTestRegistry(t, Options{})
	ctx := context.Background()

	first, err := r.ActivateOrUpdate(ctx, activation("1001", "monitoring", "v1"))
	require.NoError(t, err)
	second, err := r.ActivateOrUpdate(ctx, activation("1001", "monitoring", "v1"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, surface.Messages("1001"), 1, "no duplicate artifact")
	ctrl, _ := r.GetController("1001")
	assert.Equal(t, 2, ctrl.Renders)
}

func TestActivateOrUpdate_UsesKnownRefForNewController(t *testing.T) {
	r, surface := newTestRegistry(t, Options{})
	ctx := context.Background()

	// Artifact left behind by a previous process.
	existing, err := surface.Render(ctx, render.Request{ChannelID: "1001"})
	require.NoError(t, err)

	act := activation("1001", "monitoring", "v2")
	act.KnownRef = existing
	ref, err := r.ActivateOrUpdate(ctx, act)
	require.NoError(t, err)
	assert.Equal(t, existing, ref)

	msg, ok := surface.Message(existing)
	require.True(t, ok)
	assert.Equal(t, "v2", msg.Content)
}

func TestActivateOrUpdate_CachedRefWinsOverStaleHint(t *testing.T) {
	r, surface := newTestRegistry(t, Options{})
	ctx := context.Background()

	ref, err := r.ActivateOrUpdate(ctx, activation("1001", "monitoring", "v1"))
	require.NoError(t, err)

	act := activation("1001", "monitoring", "v1")
	act.KnownRef = "1001/999"
	again, err := r.ActivateOrUpdate(ctx, act)
	require.NoError(t, err)
	assert.Equal(t, ref, again)
	assert.Len(t, surface.Messages("1001"), 1)
}

func TestActivateOrUpdate_FailureKeepsCachedRef(t *testing.T) {
	r, surface := newTestRegistry(t, Options{})
	ctx := context.Background()
	boom := errors.New("missing permissions")

	ref, err := r.ActivateOrUpdate(ctx, activation("1001", "monitoring", "v1"))
	require.NoError(t, err)

	surface.FailNext("1001", boom)
	_, err = r.ActivateOrUpdate(ctx, activation("1001", "monitoring", "v2"))
	require.Error(t, err)
	assert.True(t, dashboard.IsRender(err))
	assert.ErrorIs(t, err, boom)

	ctrl, ok := r.GetController("1001")
	require.True(t, ok)
	assert.Equal(t, ref, ctrl.ArtifactRef)
	assert.Equal(t, 1, ctrl.Failures)
	assert.Equal(t, dashboard.Structure("v2"), ctrl.Structure, "latest structure kept for retry")
}

func TestActivateOrUpdate_FailureOnNewChannelKeepsHint(t *testing.T) {
	r, surface := newTestRegistry(t, Options{})
	ctx := context.Background()

	surface.FailNext("1001", errors.New("rate limited"))
	act := activation("1001", "monitoring", "v1")
	act.KnownRef = "1001/4242"
	_, err := r.ActivateOrUpdate(ctx, act)
	require.Error(t, err)

	ctrl, ok := r.GetController("1001")
	require.True(t, ok)
	assert.Equal(t, dashboard.ArtifactRef("1001/4242"), ctrl.ArtifactRef)
	assert.Equal(t, 0, ctrl.Renders)
}

func TestActivateOrUpdate_EmptyResultKeepsCachedRef(t *testing.T) {
	r, surface := newTestRegistry(t, Options{})
	ctx := context.Background()

	ref, err := r.ActivateOrUpdate(ctx, activation("1001", "monitoring", "v1"))
	require.NoError(t, err)

	surface.EmptyNext("1001")
	empty, err := r.ActivateOrUpdate(ctx, activation("1001", "monitoring", "v1"))
	require.NoError(t, err)
	assert.True(t, empty.IsZero())

	ctrl, _ := r.GetController("1001")
	assert.Equal(t, ref, ctrl.ArtifactRef)
}

func TestActivateOrUpdate_MalformedChannel(t *testing.T) {
	r, surface := newTestRegistry(t, Options{})

	_, err := r.ActivateOrUpdate(context.Background(), activation("general", "monitoring", "v1"))
	assert.True(t, dashboard.IsValidation(err))
	assert.Equal(t, 0, surface.Calls("general"))
}

func TestActivateOrUpdate_RenderTimeout(t *testing.T) {
	r, surface := newTestRegistry(t, Options{RenderTimeout: 20 * time.Millisecond})

	surface.HangNext("1001")
	_, err := r.ActivateOrUpdate(context.Background(), activation("1001", "monitoring", "v1"))
	require.Error(t, err)
	assert.True(t, dashboard.IsRender(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestActivateOrUpdate_RendererPanicIsRenderError(t *testing.T) {
	r := New(render.Func(func(ctx context.Context, req render.Request) (dashboard.ArtifactRef, error) {
		panic("nil message builder")
	}), Options{})
	t.Cleanup(r.Close)

	_, err := r.ActivateOrUpdate(context.Background(), activation("1001", "monitoring", "v1"))
	require.Error(t, err)
	assert.True(t, dashboard.IsRender(err))
	assert.Contains(t, err.Error(), "renderer panic")
}

func TestRefreshNow(t *testing.T) {
	r, surface := newTestRegistry(t, Options{})
	ctx := context.Background()

	err := r.RefreshNow(ctx, "1001")
	assert.ErrorIs(t, err, ErrNoController)

	ref, err := r.ActivateOrUpdate(ctx, activation("1001", "monitoring", "v1"))
	require.NoError(t, err)
	require.NoError(t, r.RefreshNow(ctx, "1001"))

	assert.Equal(t, 2, surface.Calls("1001"))
	ctrl, _ := r.GetController("1001")
	assert.Equal(t, ref, ctrl.ArtifactRef)
}

func TestRefreshNow_PicksUpRecreatedArtifact(t *testing.T) {
	r, surface := newTestRegistry(t, Options{})
	ctx := context.Background()

	ref, err := r.ActivateOrUpdate(ctx, activation("1001", "monitoring", "v1"))
	require.NoError(t, err)
	require.True(t, surface.Delete(ref))

	require.NoError(t, r.RefreshNow(ctx, "1001"))
	ctrl, _ := r.GetController("1001")
	assert.NotEqual(t, ref, ctrl.ArtifactRef)
	assert.False(t, ctrl.ArtifactRef.IsZero())
}

func TestRefreshNow_SerializedPerChannel(t *testing.T) {
	r, surface := newTestRegistry(t, Options{})
	ctx := context.Background()

	_, err := r.ActivateOrUpdate(ctx, activation("1001", "monitoring", "v1"))
	require.NoError(t, err)
	surface.SetDelay("1001", 10*time.Millisecond)

	const n = 5
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.RefreshNow(ctx, "1001"))
		}()
	}
	wg.Wait()

	assert.Equal(t, n+1, surface.Calls("1001"))
	assert.Equal(t, 1, surface.PeakConcurrency("1001"))
	assert.Len(t, surface.Messages("1001"), 1)
}

func TestChannelsDoNotBlockEachOther(t *testing.T) {
	r, surface := newTestRegistry(t, Options{RenderTimeout: -1})

	surface.HangNext("1001")
	hangCtx, cancelHang := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := r.ActivateOrUpdate(hangCtx, activation("1001", "monitoring", "v1"))
		done <- err
	}()

	require.Eventually(t, func() bool { return surface.Calls("1001") == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := r.ActivateOrUpdate(ctx, activation("1002", "monitoring", "v1"))
	require.NoError(t, err, "channel 1002 must not wait for 1001")

	cancelHang()
	assert.Error(t, <-done)
}

func TestAcquireHonorsContext(t *testing.T) {
	r, surface := newTestRegistry(t, Options{RenderTimeout: -1})

	surface.HangNext("1001")
	hangCtx, cancelHang := context.WithCancel(context.Background())
	defer cancelHang()
	go func() {
		_, _ = r.ActivateOrUpdate(hangCtx, activation("1001", "monitoring", "v1"))
	}()
	require.Eventually(t, func() bool { return surface.Calls("1001") == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.ActivateOrUpdate(ctx, activation("1001", "monitoring", "v2"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, dashboard.IsRender(err), "waiting for the lock is not a render")
	assert.Equal(t, 1, surface.Calls("1001"))
}

func TestDeactivateChannel_Idempotent(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	ctx := context.Background()

	removed, err := r.DeactivateChannel(ctx, "1001")
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = r.ActivateOrUpdate(ctx, activation("1001", "monitoring", "v1"))
	require.NoError(t, err)

	removed, err = r.DeactivateChannel(ctx, "1001")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = r.DeactivateChannel(ctx, "1001")
	require.NoError(t, err)
	assert.False(t, removed)

	_, ok := r.GetController("1001")
	assert.False(t, ok)
	assert.Empty(t, r.Channels())
}

func TestActivateAfterDeactivateCreatesFreshController(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	ctx := context.Background()

	ref, err := r.ActivateOrUpdate(ctx, activation("1001", "monitoring", "v1"))
	require.NoError(t, err)
	_, err = r.DeactivateChannel(ctx, "1001")
	require.NoError(t, err)

	act := activation("1001", "monitoring", "v1")
	act.KnownRef = ref
	again, err := r.ActivateOrUpdate(ctx, act)
	require.NoError(t, err)
	assert.Equal(t, ref, again)

	ctrl, ok := r.GetController("1001")
	require.True(t, ok)
	assert.Equal(t, 1, ctrl.Renders)
}

func TestDeactivate_ByKind(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	ctx := context.Background()

	for _, act := range []Activation{
		activation("1001", "monitoring", "m"),
		activation("1002", "project", "p"),
		activation("1003", "monitoring", "m"),
	} {
		_, err := r.ActivateOrUpdate(ctx, act)
		require.NoError(t, err)
	}

	removed, err := r.Deactivate(ctx, "monitoring")
	require.NoError(t, err)
	assert.Equal(t, []string{"1001", "1003"}, removed)
	assert.Equal(t, []string{"1002"}, r.Channels())

	removed, err = r.Deactivate(ctx, "monitoring")
	require.NoError(t, err)
	assert.Empty(t, removed)

	removed, err = r.Deactivate(ctx, "1002")
	require.NoError(t, err)
	assert.Equal(t, []string{"1002"}, removed)

	removed, err = r.Deactivate(ctx, "4242")
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestDeactivateRacingActivate(t *testing.T) {
	r, surface := newTestRegistry(t, Options{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := r.ActivateOrUpdate(ctx, activation("1001", "monitoring", "v1"))
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := r.DeactivateChannel(ctx, "1001")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, surface.PeakConcurrency("1001"))
	assert.LessOrEqual(t, len(r.Channels()), 1)
}

func TestAutoRefreshStopsOnDeactivate(t *testing.T) {
	r, surface := newTestRegistry(t, Options{RefreshInterval: 5 * time.Millisecond})
	ctx := context.Background()

	_, err := r.ActivateOrUpdate(ctx, activation("1001", "monitoring", "v1"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return surface.Calls("1001") >= 3 }, time.Second, time.Millisecond)

	_, err = r.DeactivateChannel(ctx, "1001")
	require.NoError(t, err)
	calls := surface.Calls("1001")

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, surface.Calls("1001"))
}

func TestClose(t *testing.T) {
	surface := render.NewMemory()
	r := New(surface, Options{RefreshInterval: 5 * time.Millisecond})
	ctx := context.Background()

	_, err := r.ActivateOrUpdate(ctx, activation("1001", "monitoring", "v1"))
	require.NoError(t, err)

	r.Close()
	r.Close()

	assert.Empty(t, r.Channels())
	_, err = r.ActivateOrUpdate(ctx, activation("1001", "monitoring", "v1"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, r.RefreshNow(ctx, "1001"), ErrClosed)
}

func TestCloseWhileRenderInFlight(t *testing.T) {
	surface := render.NewMemory()
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var gate sync.Once
	r := New(render.Func(func(ctx context.Context, req render.Request) (dashboard.ArtifactRef, error) {
		if string(req.Structure) == "v2" {
			gate.Do(func() {
				entered <- struct{}{}
				<-release
			})
		}
		return surface.Render(ctx, req)
	}), Options{})
	ctx := context.Background()

	_, err := r.ActivateOrUpdate(ctx, activation("1001", "monitoring", "v1"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := r.ActivateOrUpdate(ctx, activation("1001", "monitoring", "v2"))
		done <- err
	}()
	<-entered

	// Close does not wait for the channel lock held by the render.
	r.Close()
	close(release)
	require.NoError(t, <-done)

	_, ok := r.GetController("1001")
	assert.False(t, ok, "a render finishing after Close does not republish its controller")
	assert.ErrorIs(t, r.RefreshNow(ctx, "1001"), ErrClosed)
}

func TestCloseRacingActivateAndRefresh(t *testing.T) {
	surface := render.NewMemory()
	r := New(surface, Options{RefreshInterval: time.Millisecond})
	ctx := context.Background()
	surface.SetDelay("1001", time.Millisecond)

	_, err := r.ActivateOrUpdate(ctx, activation("1001", "monitoring", "v1"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := r.ActivateOrUpdate(ctx, activation("1001", "monitoring", "v2"))
			if err != nil {
				assert.ErrorIs(t, err, ErrClosed)
			}
		}()
		go func() {
			defer wg.Done()
			err := r.RefreshNow(ctx, "1001")
			if err != nil && !errors.Is(err, ErrClosed) {
				assert.ErrorIs(t, err, ErrNoController)
			}
		}()
	}
	r.Close()
	wg.Wait()

	assert.Empty(t, r.Channels())
}

func TestEntriesAreReclaimed(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	ctx := context.Background()

	_ = r.RefreshNow(ctx, "1001")
	_, _ = r.DeactivateChannel(ctx, "1002")
	_, err := r.ActivateOrUpdate(ctx, activation("1003", "monitoring", "v1"))
	require.NoError(t, err)
	_, err = r.DeactivateChannel(ctx, "1003")
	require.NoError(t, err)

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Empty(t, r.entries)
}

func TestGetController_ReturnsSnapshot(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})

	_, err := r.ActivateOrUpdate(context.Background(), activation("1001", "monitoring", "v1"))
	require.NoError(t, err)

	ctrl, _ := r.GetController("1001")
	ctrl.Structure[0] = 'X'
	ctrl.ArtifactRef = "tampered"

	again, _ := r.GetController("1001")
	assert.Equal(t, dashboard.Structure("v1"), again.Structure)
	assert.NotEqual(t, dashboard.ArtifactRef("tampered"), again.ArtifactRef)
}

func TestLogLinesCarryComponentOnce(t *testing.T) {
	var buf bytes.Buffer
	r, surface := newTestRegistry(t, Options{Logger: slog.New(slog.NewTextHandler(&buf, nil))})
	surface.FailNext("1001", errors.New("missing access"))

	_, err := r.ActivateOrUpdate(context.Background(), activation("1001", "monitoring", "v1"))
	require.Error(t, err)

	line := strings.TrimSpace(buf.String())
	require.NotEmpty(t, line)
	assert.Equal(t, 1, strings.Count(line, "component=registry"), line)
}
