// Package render defines the renderer contract used by the channel registry
// and ships two chat-surface implementations: an in-memory surface for tests
// and dry runs, and a YAML file-backed surface whose messages survive process
// restarts.
//
// A renderer posts or edits one message per channel. When the request carries
// a KnownRef that still exists in the channel, the message is edited in place
// and the same ref is returned; otherwise a new message is posted and its ref
// returned. A renderer may return a zero ref with a nil error when the
// collaborator accepted the request but reported no identity.
package render

import (
	"context"

	"github.com/fr4iser90/dashsync/internal/dashboard"
)

// Request is one render call for a channel.
type Request struct {
	ChannelID  string
	GuildID    string
	InstanceID string
	Kind       dashboard.Kind
	Structure  dashboard.Structure
	KnownRef   dashboard.ArtifactRef
}

// Renderer produces or updates the artifact for a channel.
type Renderer interface {
	Render(ctx context.Context, req Request) (dashboard.ArtifactRef, error)
}

// Func adapts a function to the Renderer interface.
type Func func(ctx context.Context, req Request) (dashboard.ArtifactRef, error)

// Render calls f.
func (f Func) Render(ctx context.Context, req Request) (dashboard.ArtifactRef, error) {
	return f(ctx, req)
}
