package subscription

// RegistrationState tracks how far a subscription got through gateway
// registration. Each state is persisted before the next provider call so a
// crashed or failed registration resumes where it stopped.
type RegistrationState string

const (
	StatePending                RegistrationState = "pending"
	StatePlanRegistered         RegistrationState = "plan_registered"
	StateSubscriptionRegistered RegistrationState = "subscription_registered"
	StateLinked                 RegistrationState = "linked"
)

// Step names the provider-side action that moves a record out of a state.
type Step string

const (
	StepCreatePlan         Step = "create_plan"
	StepCreateSubscription Step = "create_subscription"
	StepLink               Step = "link"
)

type transition struct {
	Step Step
	Next RegistrationState
}

var registrationFlow = map[RegistrationState]transition{
	StatePending:                {Step: StepCreatePlan, Next: StatePlanRegistered},
	StatePlanRegistered:         {Step: StepCreateSubscription, Next: StateSubscriptionRegistered},
	StateSubscriptionRegistered: {Step: StepLink, Next: StateLinked},
}

// NextStep returns the step to run from state and the state it leads to.
// ok is false for the terminal state and for unknown states.
func NextStep(state RegistrationState) (Step, RegistrationState, bool) {
	if state == "" {
		state = StatePending
	}
	t, ok := registrationFlow[state]
	if !ok {
		return "", state, false
	}
	return t.Step, t.Next, true
}

// IsTerminal reports whether no further registration work is needed.
func IsTerminal(state RegistrationState) bool {
	return state == StateLinked
}

// Valid reports whether state is one of the known registration states.
func Valid(state RegistrationState) bool {
	switch state {
	case StatePending, StatePlanRegistered, StateSubscriptionRegistered, StateLinked:
		return true
	default:
		return false
	}
}

// Reached reports whether state is at or past target in the flow.
func Reached(state, target RegistrationState) bool {
	return rank(state) >= rank(target)
}

func rank(state RegistrationState) int {
	switch state {
	case StatePlanRegistered:
		return 1
	case StateSubscriptionRegistered:
		return 2
	case StateLinked:
		return 3
	default:
		return 0
	}
}
