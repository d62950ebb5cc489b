package domain

// ConnectionState is the lifecycle position of one connection.
//
//	Pending -> Registered -> Active -> Closing -> Unregistered
//	Pending -> Rejected
//
// Anonymous connections skip Registered and go straight from Pending to Active.
type ConnectionState int

const (
	Pending ConnectionState = iota
	Registered
	Active
	Closing
	Unregistered
	Rejected
)

var stateNames = map[ConnectionState]string{
	Pending:      "pending",
	Registered:   "registered",
	Active:       "active",
	Closing:      "closing",
	Unregistered: "unregistered",
	Rejected:     "rejected",
}

var transitions = map[ConnectionState][]ConnectionState{
	Pending:    {Registered, Active, Rejected, Closing},
	Registered: {Active, Closing},
	Active:     {Closing},
	Closing:    {Unregistered},
}

func (s ConnectionState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s ConnectionState) CanTransitionTo(next ConnectionState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s ConnectionState) IsTerminal() bool {
	return s == Unregistered || s == Rejected
}

// AcceptsInbound reports whether events read from the transport may still be handled.
func (s ConnectionState) AcceptsInbound() bool {
	return s == Active
}
