// Package harness runs reconciliation scenarios written in YAML against the
// real store, registry and orchestrator, and records a deterministic trace
// of every step and every renderer call.
//
// A scenario declares configurations (inline or from a template directory),
// optionally pre-provisioned instances, a list of steps and a list of
// assertions:
//
//	name: drift_after_deletion
//	description: a deleted message is reposted and its new ref persisted
//	configurations:
//	  - name: servers
//	    kind: monitoring
//	    structure: {title: Servers}
//	steps:
//	  - op: sync
//	    channel: "1001"
//	    config: servers
//	  - op: delete_artifact
//	    channel: "1001"
//	  - op: reconcile
//	    expect:
//	      report: {drifted: 1, corrected: 1}
//	assertions:
//	  - type: instance
//	    channel: "1001"
//	    expect: {state: converged, artifact_ref: "1001/5002"}
//
// Each scenario runs on a fresh in-memory database and in-memory chat
// surface with a deterministic clock and id sequence, and reconciles one
// instance at a time, so traces are reproducible and can be compared with
// golden files.
package harness
