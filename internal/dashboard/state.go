package dashboard

// InstanceState is the lifecycle position of an ActiveInstance as observed
// by the orchestrator.
//
//	absent → provisioned → converged ⇄ drifted → deactivated
type InstanceState string

const (
	StateAbsent      InstanceState = "absent"
	StateProvisioned InstanceState = "provisioned"
	StateConverged   InstanceState = "converged"
	StateDrifted     InstanceState = "drifted"
	StateDeactivated InstanceState = "deactivated"
)

// StateOf derives the state of inst given the artifact ref currently held
// by the runtime (liveRef, zero when no controller exists or nothing was
// rendered yet in this process).
func StateOf(inst *ActiveInstance, liveRef ArtifactRef) InstanceState {
	switch {
	case inst == nil:
		return StateAbsent
	case !inst.IsActive:
		return StateDeactivated
	case inst.ArtifactRef.IsZero() && liveRef.IsZero():
		return StateProvisioned
	case liveRef.IsZero() || liveRef == inst.ArtifactRef:
		return StateConverged
	default:
		return StateDrifted
	}
}
