package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rbright/nimbus/internal/backend"
	"github.com/rbright/nimbus/internal/conversation"
	"github.com/rbright/nimbus/internal/fsm"
	"github.com/stretchr/testify/require"
)

func TestSubmitTextAppendsReply(t *testing.T) {
	be := &fakeBackend{text: backend.TextResult{Status: "done", ResponseText: "Yes, bring an umbrella."}}
	ind := &fakeIndicator{}
	ctrl := NewController(Options{Backend: be, Indicator: ind})

	outcome, err := ctrl.SubmitText(context.Background(), "  will it rain  ")
	require.NoError(t, err)
	require.NoError(t, outcome.Err)
	require.Equal(t, KindText, outcome.Kind)
	require.Equal(t, []string{"user: will it rain", "bot: Yes, bring an umbrella."}, texts(ctrl.Store().Messages()))
	require.Equal(t, fsm.StateIdle, ctrl.State())
	require.Equal(t, int32(1), ind.done.Load())
}

func TestSubmitTextEmptyResponseTextUsesErrorField(t *testing.T) {
	be := &fakeBackend{text: backend.TextResult{ResponseText: "", Error: "no location found"}}
	ctrl := NewController(Options{Backend: be})

	outcome, err := ctrl.SubmitText(context.Background(), "will it rain")
	require.NoError(t, err)
	require.ErrorIs(t, outcome.Err, ErrNoResponse)
	require.Equal(t, []string{"user: will it rain", "bot: Error: no location found"}, texts(outcome.Messages))
	require.True(t, outcome.Messages[1].Error)
}

func TestSubmitTextEmptyResponseTextUsesDefault(t *testing.T) {
	be := &fakeBackend{text: backend.TextResult{ResponseText: ""}}
	ctrl := NewController(Options{Backend: be})

	outcome, err := ctrl.SubmitText(context.Background(), "will it rain")
	require.NoError(t, err)
	require.Equal(t, "Error: "+defaultNoResponse, outcome.Messages[1].Text)
}

func TestSubmitTextTransportErrorAppendsBotError(t *testing.T) {
	be := &fakeBackend{textErr: errors.New("connection refused")}
	ctrl := NewController(Options{Backend: be})

	outcome, err := ctrl.SubmitText(context.Background(), "hello")
	require.NoError(t, err)
	require.EqualError(t, outcome.Err, "connection refused")
	require.Equal(t, []string{"user: hello", "bot: Error: connection refused"}, texts(ctrl.Store().Messages()))
	require.Equal(t, fsm.StateIdle, ctrl.State())
	require.Equal(t, PhaseError, ctrl.Status().Phase)
}

func TestSubmitTextRejectsBlankInput(t *testing.T) {
	be := &fakeBackend{}
	ctrl := NewController(Options{Backend: be})

	_, err := ctrl.SubmitText(context.Background(), "   ")
	require.ErrorIs(t, err, conversation.ErrEmptyText)
	require.Zero(t, ctrl.Store().Len())
	require.Equal(t, int32(0), be.textCalls.Load())
}

func TestSubmitTextWithoutBackendFails(t *testing.T) {
	ctrl := NewController(Options{})

	outcome, err := ctrl.SubmitText(context.Background(), "hello")
	require.NoError(t, err)
	require.Error(t, outcome.Err)
	require.Equal(t, fsm.StateIdle, ctrl.State())
}

func TestSecondSubmissionRefusedUntilIdle(t *testing.T) {
	gate := make(chan struct{})
	be := &fakeBackend{text: backend.TextResult{ResponseText: "ok"}, textGate: gate}
	capture := &fakeCapture{}
	ctrl := NewController(Options{Backend: be, Capture: capture})

	var wg sync.WaitGroup
	wg.Add(1)
	var first Outcome
	go func() {
		defer wg.Done()
		first, _ = ctrl.SubmitText(context.Background(), "first")
	}()

	waitForState(t, ctrl, fsm.StateProcessingText)
	require.Equal(t, fsm.Controls{}, ctrl.Controls())

	_, err := ctrl.SubmitText(context.Background(), "second")
	require.ErrorIs(t, err, ErrBusy)
	_, err = ctrl.StartVoice(context.Background())
	require.ErrorIs(t, err, ErrBusy)
	require.Equal(t, int32(0), capture.starts.Load())

	close(gate)
	wg.Wait()
	require.NoError(t, first.Err)
	require.Equal(t, int32(1), be.textCalls.Load())
	require.Equal(t, []string{"user: first", "bot: ok"}, texts(ctrl.Store().Messages()))

	outcome, err := ctrl.SubmitText(context.Background(), "third")
	require.NoError(t, err)
	require.NoError(t, outcome.Err)
	require.Equal(t, 4, ctrl.Store().Len())
}

func TestConcurrentTriggersNeverOverlap(t *testing.T) {
	gate := make(chan struct{})
	be := &fakeBackend{text: backend.TextResult{ResponseText: "ok"}, textGate: gate}
	ctrl := NewController(Options{Backend: be})

	const n = 8
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ctrl.SubmitText(context.Background(), "hi")
			errs <- err
		}()
	}

	waitForState(t, ctrl, fsm.StateProcessingText)
	close(gate)
	wg.Wait()
	close(errs)

	busy, admitted := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			admitted++
		case errors.Is(err, ErrBusy):
			busy++
		}
	}
	require.GreaterOrEqual(t, admitted, 1)
	require.Equal(t, n, admitted+busy)
	require.Equal(t, int32(admitted), be.textCalls.Load())
	require.Equal(t, int32(1), be.maxInflight.Load())
	require.Equal(t, 2*admitted, ctrl.Store().Len())
}

func TestStatusSubscriptionSeesProjection(t *testing.T) {
	be := &fakeBackend{text: backend.TextResult{ResponseText: "ok"}}
	ctrl := NewController(Options{Backend: be})
	require.Equal(t, PhaseReady, ctrl.Status().Phase)
	require.Equal(t, fsm.Controls{Record: true, Text: true}, ctrl.Status().Controls)

	var phases []Phase
	unsubscribe := ctrl.SubscribeStatus(func(s Status) { phases = append(phases, s.Phase) })
	defer unsubscribe()

	_, err := ctrl.SubmitText(context.Background(), "hi")
	require.NoError(t, err)
	require.Equal(t, []Phase{PhaseProcessing, PhaseDone}, phases)
	require.Equal(t, "Done", ctrl.Status().Label)
}

func TestStatusForLabels(t *testing.T) {
	require.Equal(t, "Ready", statusFor(fsm.StateIdle, PhaseReady, "").Label)
	require.Equal(t, "Recording…", statusFor(fsm.StateRecording, PhaseRecording, "").Label)
	require.Equal(t, "Error: boom", statusFor(fsm.StateIdle, PhaseError, "boom").Label)
	require.Equal(t, PhaseReady, statusFor(fsm.StateIdle, Phase("weird"), "").Phase)
}
