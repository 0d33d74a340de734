// Package fsm defines the pipeline state machine and the controls it enables.
package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle            State = "idle"
	StateRecording       State = "recording"
	StateProcessingVoice State = "processing_voice"
	StateProcessingText  State = "processing_text"
)

const (
	EventStartCapture  Event = "start_capture"
	EventStopCapture   Event = "stop_capture"
	EventCancelCapture Event = "cancel_capture"
	EventSubmitText    Event = "submit_text"
	EventCompleted     Event = "completed"
	EventFailed        Event = "failed"
)

// Controls is the set of user affordances enabled in a given state.
type Controls struct {
	Record bool
	Stop   bool
	Text   bool
}

func Transition(current State, event Event) (State, error) {
	switch current {
	case StateIdle:
		switch event {
		case EventStartCapture:
			return StateRecording, nil
		case EventSubmitText:
			return StateProcessingText, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateRecording:
		switch event {
		case EventStopCapture:
			return StateProcessingVoice, nil
		case EventCancelCapture, EventFailed:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateProcessingVoice, StateProcessingText:
		switch event {
		case EventCompleted, EventFailed:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

// ControlsFor projects a state onto the controls a view should enable.
func ControlsFor(state State) Controls {
	switch state {
	case StateIdle:
		return Controls{Record: true, Text: true}
	case StateRecording:
		return Controls{Stop: true}
	default:
		return Controls{}
	}
}

// Busy reports whether a pipeline cycle is in flight.
func Busy(state State) bool {
	return state != StateIdle
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
