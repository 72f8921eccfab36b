package session

// State is the coordinator's session state
type State int

const (
	Idle State = iota
	Preparing
	OfferPending
	Negotiating
	Connected
	Restoring
)

var stateNames = [...]string{
	Idle:         "idle",
	Preparing:    "preparing",
	OfferPending: "offer-pending",
	Negotiating:  "negotiating",
	Connected:    "connected",
	Restoring:    "restoring",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Active reports whether a session is in progress
func (s State) Active() bool {
	return s == Preparing || s == OfferPending || s == Negotiating || s == Connected
}
