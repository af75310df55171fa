package models

// SessionState is the position of a user in the ordering workflow
type SessionState string

const (
	StateStart            SessionState = "START"
	StateMenu             SessionState = "MENU"
	StateProductDetail    SessionState = "PRODUCT_DETAIL"
	StateCart             SessionState = "CART"
	StateAwaitingLocation SessionState = "AWAITING_LOCATION"
	StateDeliveryChoice   SessionState = "DELIVERY_CHOICE"
	StatePayment          SessionState = "PAYMENT"
)

// AllStates lists every state the engine knows, in workflow order
var AllStates = []SessionState{
	StateStart,
	StateMenu,
	StateProductDetail,
	StateCart,
	StateAwaitingLocation,
	StateDeliveryChoice,
	StatePayment,
}

// ParseSessionState maps a persisted value back to a state.
// Anything unknown is reported with ok=false so callers can fall back to START.
func ParseSessionState(raw string) (SessionState, bool) {
	for _, s := range AllStates {
		if string(s) == raw {
			return s, true
		}
	}
	return StateStart, false
}

func (s SessionState) String() string {
	return string(s)
}
