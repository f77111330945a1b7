// Package reconcile keeps stored dashboard instances, the channel registry
// and the rendered artifacts in agreement.
//
// The Orchestrator drives four workflows:
//
//   - ReconcileAll: read every active instance in one read transaction,
//     converge each channel through the registry (concurrently, each call
//     bounded by a per-instance timeout), then persist the artifact refs
//     that drifted in one separate write transaction.
//   - Sync: provision or minimally update the instance for one channel from
//     a named configuration, converge it, then persist its ref on drift.
//   - Deactivate: remove controllers by channel or kind and mark the backing
//     instances inactive.
//   - Refresh: re-render one channel from its cached state without touching
//     the database.
//
// Transactions never span a renderer call. A render that succeeds while the
// following write fails is not undone: the registry keeps the confirmed ref
// and the next ReconcileAll pass persists it.
package reconcile
