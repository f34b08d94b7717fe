package oauth

// FlowState is a step of the authorization code flow. Transitions are logged
// with the flow_state attribute and reported to the transition hook.
type FlowState string

const (
	StateInitiated        FlowState = "INITIATED"
	StateProviderPending  FlowState = "PROVIDER_PENDING"
	StateCallbackVerified FlowState = "CALLBACK_VERIFIED"
	StateCodeIssued       FlowState = "CODE_ISSUED"
	StateExchanged        FlowState = "EXCHANGED"

	// Terminal failures.
	StateExpired  FlowState = "EXPIRED"
	StateRejected FlowState = "REJECTED"
)

// TransitionHook observes every state the flow enters, e.g. for metrics.
type TransitionHook func(state FlowState)
