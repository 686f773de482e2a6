package gateway

import "fmt"

// State is the lifecycle state of a gateway session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateIdentifying
	StateResuming
	StateReady
	StateDegraded
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateIdentifying:
		return "identifying"
	case StateResuming:
		return "resuming"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateClosed
}

var transitions = map[State][]State{
	StateIdle:        {StateConnecting, StateClosed},
	StateConnecting:  {StateIdentifying, StateResuming, StateDegraded, StateFailed, StateClosed},
	StateIdentifying: {StateReady, StateDegraded, StateFailed, StateClosed},
	StateResuming:    {StateReady, StateDegraded, StateFailed, StateClosed},
	StateReady:       {StateDegraded, StateFailed, StateClosed},
	StateDegraded:    {StateConnecting, StateFailed, StateClosed},
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Reason explains why a connection ended.
type Reason string

const (
	ReasonDrop               Reason = "drop"
	ReasonZombie             Reason = "zombie"
	ReasonInvalidSession     Reason = "invalid_session"
	ReasonReconnectRequested Reason = "reconnect_requested"
	ReasonAuthFailure        Reason = "auth_failure"
	ReasonFatalClose         Reason = "fatal_close"
)

// reasonForClose maps a gateway close code to a reconnect reason.
func reasonForClose(code int) Reason {
	switch code {
	case CloseAuthenticationFailed:
		return ReasonAuthFailure
	case CloseInvalidShard, CloseShardingRequired, CloseInvalidAPIVersion, CloseInvalidIntents, CloseDisallowedIntents:
		return ReasonFatalClose
	case CloseInvalidSeq, CloseSessionTimedOut:
		return ReasonInvalidSession
	default:
		return ReasonDrop
	}
}
