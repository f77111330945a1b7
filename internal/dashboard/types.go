package dashboard

import (
	"bytes"
	"strconv"
	"strings"
	"time"
)

// Kind is the functional category of a configuration (e.g. "monitoring").
type Kind string

// Structure is the opaque composition document of a configuration.
// It is passed to renderers unchanged and compared only byte-wise.
type Structure []byte

// Equal reports whether two structures are byte-identical.
func (s Structure) Equal(other Structure) bool {
	return bytes.Equal(s, other)
}

// Clone returns a copy that does not share the backing array.
func (s Structure) Clone() Structure {
	if s == nil {
		return nil
	}
	out := make(Structure, len(s))
	copy(out, s)
	return out
}

// ArtifactRef identifies a rendered artifact, e.g. "<channel>/<message>".
// The zero value means "no known artifact" and maps to NULL in storage.
type ArtifactRef string

// IsZero reports whether the ref is unset.
func (r ArtifactRef) IsZero() bool {
	return strings.TrimSpace(string(r)) == ""
}

func (r ArtifactRef) String() string {
	return string(r)
}

// Configuration is a named dashboard template.
type Configuration struct {
	ID          string
	Kind        Kind
	Name        string
	Description string
	Structure   Structure
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ActiveInstance binds a configuration to one channel.
//
// Configuration is populated only by joined reads (ListActive). A nil value
// there with a non-empty ConfigurationID means the reference is broken.
type ActiveInstance struct {
	ID              string
	ConfigurationID string
	GuildID         string
	ChannelID       string
	ArtifactRef     ArtifactRef
	IsActive        bool
	CreatedAt       time.Time
	LastUpdatedAt   time.Time

	Configuration *Configuration
}

// Correction is a pending artifact ref write queued between the render
// phase and the persistence phase of a reconciliation pass.
type Correction struct {
	InstanceID string
	ChannelID  string
	OldRef     ArtifactRef
	NewRef     ArtifactRef
}

// CorrectionStatus is the persistence outcome of one Correction.
type CorrectionStatus int

const (
	// CorrectionApplied: the stored ref matched OldRef and was replaced.
	CorrectionApplied CorrectionStatus = iota
	// CorrectionSuperseded: the stored ref no longer matched OldRef, so a
	// newer write won and the correction was dropped.
	CorrectionSuperseded
	// CorrectionMissing: the instance row no longer exists.
	CorrectionMissing
)

func (s CorrectionStatus) String() string {
	switch s {
	case CorrectionApplied:
		return "applied"
	case CorrectionSuperseded:
		return "superseded"
	case CorrectionMissing:
		return "missing"
	}
	return "unknown"
}

// ValidChannelID reports whether id is a well-formed channel snowflake:
// a non-zero unsigned 64-bit decimal number.
func ValidChannelID(id string) bool {
	if id == "" || strings.TrimSpace(id) != id {
		return false
	}
	n, err := strconv.ParseUint(id, 10, 64)
	return err == nil && n > 0
}
