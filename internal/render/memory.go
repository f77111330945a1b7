package render

import (
	"context"
	"sync"
	"time"

	"github.com/fr4iser90/dashsync/internal/dashboard"
)

// faultKind selects how a queued fault disturbs the next render.
type faultKind int

const (
	faultError faultKind = iota + 1
	faultEmpty
	faultHang
)

type fault struct {
	kind faultKind
	err  error
}

// Memory is an in-process chat surface. It supports fault injection per
// channel so callers can exercise render failures, empty results and hangs.
//
// Thread-safety: all methods are safe for concurrent use.
type Memory struct {
	mu       sync.Mutex
	surface  *surface
	faults   map[string][]fault
	delay    map[string]time.Duration
	calls    map[string]int
	inflight map[string]int
	peak     map[string]int
}

// NewMemory creates an empty surface.
func NewMemory() *Memory {
	return &Memory{
		surface:  newSurface(),
		faults:   make(map[string][]fault),
		delay:    make(map[string]time.Duration),
		calls:    make(map[string]int),
		inflight: make(map[string]int),
		peak:     make(map[string]int),
	}
}

// Render implements Renderer.
func (m *Memory) Render(ctx context.Context, req Request) (dashboard.ArtifactRef, error) {
	m.mu.Lock()
	m.calls[req.ChannelID]++
	m.inflight[req.ChannelID]++
	if m.inflight[req.ChannelID] > m.peak[req.ChannelID] {
		m.peak[req.ChannelID] = m.inflight[req.ChannelID]
	}
	var f *fault
	if queue := m.faults[req.ChannelID]; len(queue) > 0 {
		f = &queue[0]
		m.faults[req.ChannelID] = queue[1:]
	}
	delay := m.delay[req.ChannelID]
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inflight[req.ChannelID]--
		m.mu.Unlock()
	}()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	if f != nil {
		switch f.kind {
		case faultError:
			return "", f.err
		case faultEmpty:
			return "", nil
		case faultHang:
			<-ctx.Done()
			return "", ctx.Err()
		}
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.surface.apply(req), nil
}

// FailNext makes the next render for channelID fail with err.
func (m *Memory) FailNext(channelID string, err error) {
	m.push(channelID, fault{kind: faultError, err: err})
}

// EmptyNext makes the next render for channelID succeed without an identity.
func (m *Memory) EmptyNext(channelID string) {
	m.push(channelID, fault{kind: faultEmpty})
}

// HangNext makes the next render for channelID block until its context ends.
func (m *Memory) HangNext(channelID string) {
	m.push(channelID, fault{kind: faultHang})
}

func (m *Memory) push(channelID string, f fault) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[channelID] = append(m.faults[channelID], f)
}

// SetDelay makes every render for channelID take at least d.
func (m *Memory) SetDelay(channelID string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay[channelID] = d
}

// Delete removes a message out of band, as a moderator would.
func (m *Memory) Delete(ref dashboard.ArtifactRef) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.surface.remove(ref)
}

// Message returns the message at ref.
func (m *Memory) Message(ref dashboard.ArtifactRef) (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.surface.get(ref)
}

// Messages lists the messages of a channel ("" for all channels).
func (m *Memory) Messages(channelID string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.surface.list(channelID)
}

// Calls returns how many renders were attempted for channelID.
func (m *Memory) Calls(channelID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[channelID]
}

// PeakConcurrency returns the highest number of simultaneous renders
// observed for channelID.
func (m *Memory) PeakConcurrency(channelID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak[channelID]
}
