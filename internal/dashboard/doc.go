// Package dashboard defines the data model shared by the reconciliation
// engine: configuration templates, per-channel active instances, the opaque
// structure payload handed to renderers, and the artifact identity returned
// by them.
//
// Three state sources are kept in agreement:
//   - Configuration: declarative template stored in the database
//   - ActiveInstance: desired-state record, at most one per channel
//   - Artifact: the live message a renderer posted into the channel
//
// # Invariants
//
//   - Configuration names are unique after NFC normalization
//   - Configuration kind never changes after creation
//   - ActiveInstance.ChannelID is unique across all instances
//   - ActiveInstance.ArtifactRef only ever holds a confirmed render result;
//     a failed or empty render never overwrites it
//
// The engine never interprets Structure. It is stored and forwarded as bytes.
package dashboard
