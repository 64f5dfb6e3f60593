package supervisor

import "github.com/betbot/botvisor/internal/domain"

// State is the lifecycle state of one supervised connection.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateDisconnected
	StateKicked
	StateReconnectPending
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	case StateKicked:
		return "kicked"
	case StateReconnectPending:
		return "reconnect_pending"
	default:
		return "unknown"
	}
}

// AllStates lists every state, in declaration order.
var AllStates = []State{
	StateIdle, StateConnecting, StateActive,
	StateDisconnected, StateKicked, StateReconnectPending,
}

// Activity maps a state to its dashboard activity. ReconnectPending has no
// activity of its own; the cause of the drop stays visible.
func (s State) Activity() (domain.Activity, bool) {
	switch s {
	case StateIdle:
		return domain.ActivityInactive, true
	case StateConnecting:
		return domain.ActivityConnecting, true
	case StateActive:
		return domain.ActivityActive, true
	case StateDisconnected:
		return domain.ActivityDisconnected, true
	case StateKicked:
		return domain.ActivityKicked, true
	}
	return "", false
}

// Trigger is an input to the state machine.
type Trigger int

const (
	TriggerStart Trigger = iota
	TriggerStop
	TriggerReady
	TriggerError
	TriggerClosed
	TriggerKicked
	TriggerRetryScheduled
	TriggerRetryExhausted
	TriggerRetryCancelled
)

func (t Trigger) String() string {
	switch t {
	case TriggerStart:
		return "start"
	case TriggerStop:
		return "stop"
	case TriggerReady:
		return "ready"
	case TriggerError:
		return "error"
	case TriggerClosed:
		return "closed"
	case TriggerKicked:
		return "kicked"
	case TriggerRetryScheduled:
		return "retry_scheduled"
	case TriggerRetryExhausted:
		return "retry_exhausted"
	case TriggerRetryCancelled:
		return "retry_cancelled"
	default:
		return "unknown"
	}
}

// Effects is the set of side effects the caller of Transition must apply.
type Effects uint16

const (
	EffectBroadcast Effects = 1 << iota
	EffectClearConn
	EffectReconnect
	EffectAuthenticate
	EffectResetAttempts
	EffectStampStart
	EffectReject
)

// Has reports whether every flag in f is set.
func (e Effects) Has(f Effects) bool { return e&f == f }

type edge struct {
	from State
	on   Trigger
}

type outcome struct {
	to      State
	effects Effects
}

var transitions = map[edge]outcome{}

func on(t Trigger, to State, eff Effects, from ...State) {
	for _, f := range from {
		transitions[edge{f, t}] = outcome{to, eff}
	}
}

func init() {
	on(TriggerStart, StateConnecting, EffectStampStart|EffectBroadcast,
		StateIdle, StateDisconnected, StateKicked, StateReconnectPending)
	on(TriggerStop, StateIdle, EffectClearConn|EffectBroadcast,
		StateConnecting, StateActive)
	on(TriggerReady, StateActive, EffectAuthenticate|EffectResetAttempts|EffectBroadcast,
		StateConnecting)
	on(TriggerClosed, StateDisconnected, EffectClearConn|EffectBroadcast|EffectReconnect,
		StateConnecting, StateActive)
	on(TriggerKicked, StateKicked, EffectClearConn|EffectBroadcast|EffectReconnect,
		StateConnecting, StateActive)
	on(TriggerRetryScheduled, StateReconnectPending, 0,
		StateDisconnected, StateKicked)
	on(TriggerRetryCancelled, StateDisconnected, 0,
		StateReconnectPending)

	// errors are logged only; the client follows up with closed on fatal ones
	for _, s := range AllStates {
		transitions[edge{s, TriggerError}] = outcome{s, 0}
	}
	for _, s := range []State{StateDisconnected, StateKicked} {
		transitions[edge{s, TriggerRetryExhausted}] = outcome{s, 0}
	}
}

// Transition is the pure state transition function. Illegal pairs return the
// input state with EffectReject.
func Transition(s State, t Trigger) (State, Effects) {
	if o, ok := transitions[edge{s, t}]; ok {
		return o.to, o.effects
	}
	return s, EffectReject
}
