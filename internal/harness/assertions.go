package harness

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/fr4iser90/dashsync/internal/store"
)

// AssertionError is returned when an assertion fails. It carries the trace
// so a failure can be read without re-running the scenario.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s\n", event.Seq, describe(event))
	}
	return buf.String()
}

// describe renders an event on one line.
func describe(ev TraceEvent) string {
	var parts []string
	if ev.Type == EventRender {
		parts = append(parts, "render")
	} else {
		parts = append(parts, ev.Op)
	}
	if ev.Channel != "" {
		parts = append(parts, "channel="+ev.Channel)
	}
	if ev.Key != "" {
		parts = append(parts, "key="+ev.Key)
	}
	if ev.KnownRef != "" {
		parts = append(parts, "known_ref="+ev.KnownRef)
	}
	if ev.Ref != "" {
		parts = append(parts, "ref="+ev.Ref)
	}
	parts = append(parts, "-> "+ev.Outcome)
	return strings.Join(parts, " ")
}

// assert dispatches one assertion against the final state of the run.
func (r *runner) assert(ctx context.Context, a Assertion) error {
	switch a.Type {
	case AssertInstance:
		return r.assertInstance(ctx, a)
	case AssertNoInstance:
		return r.assertNoInstance(ctx, a)
	case AssertMessages:
		return r.assertMessages(a)
	case AssertTraceCount:
		return assertTraceCount(r.result.Trace, a)
	case AssertTraceOrder:
		return assertTraceOrder(r.result.Trace, a)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

// assertInstance compares the stored instance of a channel with the
// expected fields. Values are compared by their printed form so YAML
// scalars match without type juggling.
func (r *runner) assertInstance(ctx context.Context, a Assertion) error {
	inst, err := r.store.GetInstanceByChannel(ctx, a.Channel)
	if err != nil {
		return &AssertionError{
			Type:     AssertInstance,
			Expected: fmt.Sprintf("instance for channel %s", a.Channel),
			Actual:   err.Error(),
			Trace:    r.result.Trace,
		}
	}
	state, err := r.orch.State(ctx, a.Channel)
	if err != nil {
		return fmt.Errorf("state of %s: %w", a.Channel, err)
	}

	actual := map[string]any{
		"state":        string(state),
		"artifact_ref": string(inst.ArtifactRef),
		"is_active":    inst.IsActive,
		"guild":        inst.GuildID,
	}
	if cfg, err := r.store.GetConfiguration(ctx, inst.ConfigurationID); err == nil {
		actual["configuration"] = cfg.Name
	}

	keys := make([]string, 0, len(a.Expect))
	for k := range a.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		got, ok := actual[key]
		if !ok {
			return fmt.Errorf("unknown instance field %q", key)
		}
		want := a.Expect[key]
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return &AssertionError{
				Type:     AssertInstance,
				Expected: fmt.Sprintf("channel %s %s = %v", a.Channel, key, want),
				Actual:   fmt.Sprintf("%s = %v", key, got),
				Trace:    r.result.Trace,
			}
		}
	}
	return nil
}

func (r *runner) assertNoInstance(ctx context.Context, a Assertion) error {
	inst, err := r.store.GetInstanceByChannel(ctx, a.Channel)
	if err == nil {
		return &AssertionError{
			Type:     AssertNoInstance,
			Expected: fmt.Sprintf("no instance for channel %s", a.Channel),
			Actual:   fmt.Sprintf("instance %s (active=%t)", inst.ID, inst.IsActive),
			Trace:    r.result.Trace,
		}
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("lookup %s: %w", a.Channel, err)
	}
	return nil
}

func (r *runner) assertMessages(a Assertion) error {
	msgs := r.surface.Messages(a.Channel)
	if len(msgs) != a.Count {
		refs := make([]string, len(msgs))
		for i, m := range msgs {
			refs[i] = string(m.Ref())
		}
		return &AssertionError{
			Type:     AssertMessages,
			Expected: fmt.Sprintf("%d messages in channel %s", a.Count, a.Channel),
			Actual:   fmt.Sprintf("%d messages %v", len(msgs), refs),
			Trace:    r.result.Trace,
		}
	}
	return nil
}

// assertTraceCount counts step events with the given op, or renderer calls
// when op is "render", optionally restricted to one channel.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if a.Channel != "" && ev.Channel != a.Channel {
			continue
		}
		if a.Op == EventRender && ev.Type == EventRender {
			count++
		} else if ev.Type == EventStep && ev.Op == a.Op {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d %s events", a.Count, a.Op),
			Actual:   fmt.Sprintf("%d %s events", count, a.Op),
			Trace:    trace,
		}
	}
	return nil
}

// assertTraceOrder checks that the step ops appear in the given relative
// order. Other events may be interleaved.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	next := 0
	for _, ev := range trace {
		if next == len(a.Ops) {
			break
		}
		if ev.Type == EventStep && ev.Op == a.Ops[next] {
			next++
		}
	}
	if next < len(a.Ops) {
		return &AssertionError{
			Type:     AssertTraceOrder,
			Expected: fmt.Sprintf("ops in order %v", a.Ops),
			Actual:   fmt.Sprintf("only %v matched in order", a.Ops[:next]),
			Trace:    trace,
		}
	}
	return nil
}
