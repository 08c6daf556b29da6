package domain

import "fmt"

type ConnectionState string

const (
	StateNew          ConnectionState = "new"
	StateNegotiating  ConnectionState = "negotiating"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateFailed       ConnectionState = "failed"
	StateClosed       ConnectionState = "closed"
)

var transitions = map[ConnectionState][]ConnectionState{
	StateNew:          {StateNegotiating, StateClosed},
	StateNegotiating:  {StateConnected, StateFailed, StateClosed},
	StateConnected:    {StateDisconnected, StateClosed},
	StateDisconnected: {StateConnected, StateFailed, StateClosed},
	StateFailed:       {StateClosed},
	StateClosed:       nil,
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

// Transition validates s -> next. A self transition is not a transition and
// is rejected so callers never emit duplicate state events.
func (s ConnectionState) Transition(next ConnectionState) (ConnectionState, error) {
	if !s.CanTransitionTo(next) {
		return s, fmt.Errorf("%w: %s -> %s", ErrInvalidState, s, next)
	}
	return next, nil
}

func (s ConnectionState) Terminal() bool {
	return s == StateClosed
}

func (s ConnectionState) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// States lists every state in declaration order.
func States() []ConnectionState {
	return []ConnectionState{StateNew, StateNegotiating, StateConnected, StateDisconnected, StateFailed, StateClosed}
}

// ICEConnectionState is the low-level connectivity signal reported by a
// transport. Values match the W3C RTCIceConnectionState strings.
type ICEConnectionState string

const (
	ICEStateNew          ICEConnectionState = "new"
	ICEStateChecking     ICEConnectionState = "checking"
	ICEStateConnected    ICEConnectionState = "connected"
	ICEStateCompleted    ICEConnectionState = "completed"
	ICEStateDisconnected ICEConnectionState = "disconnected"
	ICEStateFailed       ICEConnectionState = "failed"
	ICEStateClosed       ICEConnectionState = "closed"
)
