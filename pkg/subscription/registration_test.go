package subscription

import "testing"

func TestNextStepWalksTheFlow(t *testing.T) {
	state := StatePending
	var steps []Step
	for {
		step, next, ok := NextStep(state)
		if !ok {
			break
		}
		steps = append(steps, step)
		state = next
	}

	want := []Step{StepCreatePlan, StepCreateSubscription, StepLink}
	if len(steps) != len(want) {
		t.Fatalf("got %d steps, want %d", len(steps), len(want))
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Fatalf("step %d = %q, want %q", i, steps[i], want[i])
		}
	}
	if !IsTerminal(state) {
		t.Fatalf("expected flow to end in linked, got %q", state)
	}
}

func TestNextStepEmptyStateIsPending(t *testing.T) {
	step, next, ok := NextStep("")
	if !ok || step != StepCreatePlan || next != StatePlanRegistered {
		t.Fatalf("unexpected transition from empty state: %q %q %v", step, next, ok)
	}
}

func TestReached(t *testing.T) {
	tests := []struct {
		state, target RegistrationState
		want          bool
	}{
		{StatePending, StatePlanRegistered, false},
		{StatePlanRegistered, StatePlanRegistered, true},
		{StateLinked, StateSubscriptionRegistered, true},
		{StateSubscriptionRegistered, StateLinked, false},
	}
	for _, tt := range tests {
		if got := Reached(tt.state, tt.target); got != tt.want {
			t.Fatalf("Reached(%q, %q) = %v, want %v", tt.state, tt.target, got, tt.want)
		}
	}
}

func TestValid(t *testing.T) {
	if Valid("bogus") {
		t.Fatalf("expected unknown state to be invalid")
	}
	if !Valid(StateSubscriptionRegistered) {
		t.Fatalf("expected subscription_registered to be valid")
	}
}
