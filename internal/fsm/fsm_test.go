package fsm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransitionVoiceHappyPath(t *testing.T) {
	s := StateIdle

	next, err := Transition(s, EventStartCapture)
	require.NoError(t, err)
	require.Equal(t, StateRecording, next)

	next, err = Transition(next, EventStopCapture)
	require.NoError(t, err)
	require.Equal(t, StateProcessingVoice, next)

	next, err = Transition(next, EventCompleted)
	require.NoError(t, err)
	require.Equal(t, StateIdle, next)
}

func TestTransitionTextHappyPath(t *testing.T) {
	next, err := Transition(StateIdle, EventSubmitText)
	require.NoError(t, err)
	require.Equal(t, StateProcessingText, next)

	next, err = Transition(next, EventCompleted)
	require.NoError(t, err)
	require.Equal(t, StateIdle, next)
}

func TestTransitionFailureAlwaysReturnsToIdle(t *testing.T) {
	for _, state := range []State{StateRecording, StateProcessingVoice, StateProcessingText} {
		next, err := Transition(state, EventFailed)
		require.NoError(t, err)
		require.Equal(t, StateIdle, next, state)
	}
}

func TestTransitionMatrixInvalidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		state   State
		event   Event
		want    State
		wantErr bool
	}{
		{name: "idle stop invalid", state: StateIdle, event: EventStopCapture, want: StateIdle, wantErr: true},
		{name: "idle failed invalid", state: StateIdle, event: EventFailed, want: StateIdle, wantErr: true},
		{name: "recording start invalid", state: StateRecording, event: EventStartCapture, want: StateRecording, wantErr: true},
		{name: "recording submit text invalid", state: StateRecording, event: EventSubmitText, want: StateRecording, wantErr: true},
		{name: "recording cancel valid", state: StateRecording, event: EventCancelCapture, want: StateIdle},
		{name: "processing voice submit text invalid", state: StateProcessingVoice, event: EventSubmitText, want: StateProcessingVoice, wantErr: true},
		{name: "processing voice start invalid", state: StateProcessingVoice, event: EventStartCapture, want: StateProcessingVoice, wantErr: true},
		{name: "processing text submit text invalid", state: StateProcessingText, event: EventSubmitText, want: StateProcessingText, wantErr: true},
		{name: "processing text cancel invalid", state: StateProcessingText, event: EventCancelCapture, want: StateProcessingText, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next, err := Transition(tc.state, tc.event)
			require.Equal(t, tc.want, next)
			if tc.wantErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), "invalid transition")
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestTransitionUnknownState(t *testing.T) {
	next, err := Transition(State("mystery"), EventStartCapture)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown state")
	require.Equal(t, State("mystery"), next)
}

func TestControlsFor(t *testing.T) {
	require.Equal(t, Controls{Record: true, Text: true}, ControlsFor(StateIdle))
	require.Equal(t, Controls{Stop: true}, ControlsFor(StateRecording))
	require.Equal(t, Controls{}, ControlsFor(StateProcessingVoice))
	require.Equal(t, Controls{}, ControlsFor(StateProcessingText))
}

func TestBusy(t *testing.T) {
	require.False(t, Busy(StateIdle))
	require.True(t, Busy(StateRecording))
	require.True(t, Busy(StateProcessingText))
}
