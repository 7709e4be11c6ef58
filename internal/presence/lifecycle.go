package presence

import "fmt"

// RequestState is where a single chat request stands. A request is born
// Pending, and ends either in a room that is later Ended, or Cancelled.
type RequestState int

const (
	NoRequest RequestState = iota
	Pending
	// AdminUnavailable is a request still waiting in the queue whose ride
	// could not be resolved or whose owning admin was not connected. It can
	// still be accepted by an admin that registers later.
	AdminUnavailable
	Accepted
	InRoom
	Ended
	Cancelled
)

func (s RequestState) String() string {
	switch s {
	case NoRequest:
		return "no_request"
	case Pending:
		return "pending"
	case AdminUnavailable:
		return "admin_unavailable"
	case Accepted:
		return "accepted"
	case InRoom:
		return "in_room"
	case Ended:
		return "ended"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Waiting reports whether the request sits in the pending queue.
func (s RequestState) Waiting() bool { return s == Pending || s == AdminUnavailable }

// Terminal reports whether no further transition is possible.
func (s RequestState) Terminal() bool { return s == Ended || s == Cancelled }

// Transition is an input to the request state machine.
type Transition int

const (
	Raise    Transition = iota // chatRequest stored
	Unrouted                   // no ride or no owning admin online
	Accept                     // taken off the queue by acceptChat
	Open                       // room created
	Close                      // endChat or member disconnect
	Withdraw                   // origin gone before an accept went through
)

func (t Transition) String() string {
	switch t {
	case Raise:
		return "raise"
	case Unrouted:
		return "unrouted"
	case Accept:
		return "accept"
	case Open:
		return "open"
	case Close:
		return "close"
	case Withdraw:
		return "withdraw"
	default:
		return fmt.Sprintf("transition(%d)", int(t))
	}
}

var transitions = map[RequestState]map[Transition]RequestState{
	NoRequest:        {Raise: Pending},
	Pending:          {Unrouted: AdminUnavailable, Accept: Accepted, Withdraw: Cancelled},
	AdminUnavailable: {Unrouted: AdminUnavailable, Accept: Accepted, Withdraw: Cancelled},
	Accepted:         {Open: InRoom, Withdraw: Cancelled},
	InRoom:           {Close: Ended},
}

// ErrInvalidTransition is returned when a transition is not allowed from the
// current state.
type ErrInvalidTransition struct {
	From RequestState
	On   Transition
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("chat request: cannot %s from %s", e.On, e.From)
}

// Next returns the state reached from s on t.
func (s RequestState) Next(t Transition) (RequestState, error) {
	if to, ok := transitions[s][t]; ok {
		return to, nil
	}
	return s, &ErrInvalidTransition{From: s, On: t}
}
