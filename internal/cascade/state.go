package cascade

import "github.com/newsloom/extractor/internal/extract"

// State is one node in the cascade's tagged state machine.
type State string

// Cascade states. The trying states are ordered; the last four are terminal.
const (
	StateNotStarted       State = "not_started"
	StateTryingStructured State = "trying_structured"
	StateTryingHeuristic  State = "trying_heuristic_dom"
	StateTryingBrowser    State = "trying_browser_emulation"
	StateSucceeded        State = "succeeded"
	StateNotFound         State = "not_found"
	StateBlocked          State = "blocked"
	StateFailed           State = "failed"
)

// Signal is one observed input driving a transition.
type Signal string

// Transition signals.
const (
	SignalStart          Signal = "start"
	SignalCooldownActive Signal = "cooldown_active"
	SignalSuccess        Signal = "success"
	SignalGone           Signal = "gone"
	SignalProtection     Signal = "protection"
	SignalMethodError    Signal = "method_error"
	SignalMethodSkipped  Signal = "method_skipped"
)

// tryingOrder drives the fallback sequence.
var tryingOrder = []State{StateTryingStructured, StateTryingHeuristic, StateTryingBrowser}

// methodFor maps a trying state to its extraction method.
var methodFor = map[State]extract.Method{
	StateTryingStructured: extract.MethodStructured,
	StateTryingHeuristic:  extract.MethodHeuristicDOM,
	StateTryingBrowser:    extract.MethodBrowser,
}

// Next is the pure transition function. The domain-level cooldown gates only
// the very first attempt: SignalCooldownActive is meaningful from
// StateNotStarted alone, because the fallback methods exist specifically to
// bypass the block the previous method just hit. On exhaustion, a protection
// signal terminates in StateBlocked while an unclassified error terminates in
// StateFailed.
func Next(s State, sig Signal) State {
	if s.Terminal() {
		return s
	}
	switch s {
	case StateNotStarted:
		switch sig {
		case SignalCooldownActive:
			return StateBlocked
		case SignalStart:
			return StateTryingStructured
		}
		return s
	case StateTryingStructured, StateTryingHeuristic, StateTryingBrowser:
		switch sig {
		case SignalSuccess:
			return StateSucceeded
		case SignalGone:
			return StateNotFound
		case SignalProtection:
			if next, ok := nextTrying(s); ok {
				return next
			}
			return StateBlocked
		case SignalMethodError, SignalMethodSkipped:
			if next, ok := nextTrying(s); ok {
				return next
			}
			return StateFailed
		}
		return s
	}
	return s
}

// Terminal reports whether the state ends the cascade.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateNotFound, StateBlocked, StateFailed:
		return true
	}
	return false
}

func nextTrying(s State) (State, bool) {
	for i, trying := range tryingOrder {
		if trying == s && i+1 < len(tryingOrder) {
			return tryingOrder[i+1], true
		}
	}
	return s, false
}
