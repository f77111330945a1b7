package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Seq: 1, Type: EventRender, Channel: "1001", Ref: "1001/5001", Outcome: "ok"},
		{Seq: 2, Type: EventStep, Op: OpSync, Channel: "1001", Ref: "1001/5001", Outcome: "ok"},
		{Seq: 3, Type: EventStep, Op: OpDeleteArtifact, Channel: "1001", Ref: "1001/5001", Outcome: "ok"},
		{Seq: 4, Type: EventRender, Channel: "1001", KnownRef: "1001/5001", Ref: "1001/5002", Outcome: "ok"},
		{Seq: 5, Type: EventRender, Channel: "1002", Outcome: "error"},
		{Seq: 6, Type: EventStep, Op: OpReconcile, Outcome: "ok"},
	}
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()

	tests := []struct {
		name    string
		a       Assertion
		wantErr bool
	}{
		{"all renders", Assertion{Op: EventRender, Count: 3}, false},
		{"renders of one channel", Assertion{Op: EventRender, Channel: "1001", Count: 2}, false},
		{"step op", Assertion{Op: OpSync, Count: 1}, false},
		{"zero", Assertion{Op: OpDeactivate, Count: 0}, false},
		{"too few", Assertion{Op: EventRender, Count: 4}, true},
		{"too many", Assertion{Op: OpReconcile, Count: 0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.a.Type = AssertTraceCount
			err := assertTraceCount(trace, tt.a)
			if tt.wantErr {
				var ae *AssertionError
				require.ErrorAs(t, err, &ae)
				assert.Equal(t, AssertTraceCount, ae.Type)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestAssertTraceOrder(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceOrder(trace, Assertion{Ops: []string{OpSync, OpReconcile}}))
	assert.NoError(t, assertTraceOrder(trace, Assertion{Ops: []string{OpSync, OpDeleteArtifact, OpReconcile}}))

	err := assertTraceOrder(trace, Assertion{Ops: []string{OpReconcile, OpSync}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only [reconcile] matched in order")

	err = assertTraceOrder(trace, Assertion{Ops: []string{OpActivate}})
	require.Error(t, err)
}

func TestAssertionError_ErrorFormat(t *testing.T) {
	err := &AssertionError{
		Type:     AssertTraceCount,
		Expected: "2 render events",
		Actual:   "3 render events",
		Trace:    sampleTrace()[3:5],
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: trace_count")
	assert.Contains(t, msg, "Expected: 2 render events")
	assert.Contains(t, msg, "Actual: 3 render events")
	assert.Contains(t, msg, "[4] render channel=1001 known_ref=1001/5001 ref=1001/5002 -> ok")
	assert.Contains(t, msg, "[5] render channel=1002 -> error")
}

func TestRun_FailingAssertionsAreReported(t *testing.T) {
	scenario := &Scenario{
		Name:           "failing",
		Description:    "every assertion kind failing",
		Configurations: []ConfigurationSpec{servers},
		Steps:          []Step{{Op: OpSync, Channel: "1001", Config: "servers"}},
		Assertions: []Assertion{
			{Type: AssertInstance, Channel: "1001", Expect: map[string]any{"state": "drifted"}},
			{Type: AssertInstance, Channel: "1002", Expect: map[string]any{"state": "converged"}},
			{Type: AssertInstance, Channel: "1001", Expect: map[string]any{"colour": "blue"}},
			{Type: AssertNoInstance, Channel: "1001"},
			{Type: AssertMessages, Channel: "1001", Count: 2},
			{Type: AssertTraceCount, Op: EventRender, Count: 5},
			{Type: AssertTraceOrder, Ops: []string{OpReconcile}},
			{Type: "vibes"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 8)
	assert.Contains(t, result.Errors[0], "state = converged")
	assert.Contains(t, result.Errors[1], "instance for channel 1002")
	assert.Contains(t, result.Errors[2], `unknown instance field "colour"`)
	assert.Contains(t, result.Errors[3], "no instance for channel 1001")
	assert.Contains(t, result.Errors[4], "1 messages [1001/5001]")
	assert.Contains(t, result.Errors[7], "unknown assertion type: vibes")
}
