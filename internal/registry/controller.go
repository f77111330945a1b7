package registry

import (
	"time"

	"github.com/fr4iser90/dashsync/internal/dashboard"
)

// Controller is the runtime state of one managed channel. Values returned by
// the registry are snapshots; mutating them has no effect on the registry.
type Controller struct {
	ChannelID       string
	GuildID         string
	InstanceID      string
	ConfigurationID string
	Kind            dashboard.Kind

	// Structure is the resolved configuration data last handed to the
	// renderer for this channel.
	Structure dashboard.Structure

	// ArtifactRef is the last confirmed render result. It is never replaced
	// by a failed or empty render.
	ArtifactRef dashboard.ArtifactRef

	ActivatedAt    time.Time
	LastRenderedAt time.Time
	Renders        int
	Failures       int
}

func (c *Controller) clone() *Controller {
	out := *c
	out.Structure = c.Structure.Clone()
	return &out
}

// Activation is the resolved input of ActivateOrUpdate. The caller resolves
// the configuration; the registry never reads the store.
type Activation struct {
	ChannelID       string
	GuildID         string
	InstanceID      string
	ConfigurationID string
	Kind            dashboard.Kind
	Structure       dashboard.Structure

	// KnownRef is the caller's last known artifact identity, passed to the
	// renderer so it can edit in place instead of posting a duplicate.
	KnownRef dashboard.ArtifactRef
}

// entry is the per-channel lock plus the controller it protects.
type entry struct {
	// sem is a one-slot semaphore; holding it is holding the channel lock.
	sem chan struct{}

	// refs counts waiters and the holder. Guarded by Registry.mu.
	refs int

	// ctrl is guarded by Registry.mu. Holders of sem replace it through
	// Registry.swap and read it through Registry.current; Close clears it
	// without sem.
	ctrl *Controller

	// stop cancels the auto-refresh loop. Guarded by sem.
	stop func()
}

func newEntry() *entry {
	return &entry{sem: make(chan struct{}, 1)}
}
