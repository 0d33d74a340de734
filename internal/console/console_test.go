package console

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rbright/nimbus/internal/backend"
	"github.com/rbright/nimbus/internal/backend/backendtest"
	"github.com/rbright/nimbus/internal/conversation"
	"github.com/rbright/nimbus/internal/fsm"
	"github.com/rbright/nimbus/internal/poll"
	"github.com/rbright/nimbus/internal/session"
	"github.com/stretchr/testify/require"
)

type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fakeCapture struct {
	mu      sync.Mutex
	ch      chan session.Recording
	stops   atomic.Int32
	cancels atomic.Int32
}

func (f *fakeCapture) Supported(context.Context) bool { return true }

func (f *fakeCapture) Start(context.Context) (<-chan session.Recording, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ch = make(chan session.Recording, 1)
	return f.ch, nil
}

func (f *fakeCapture) Stop() error {
	f.stops.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ch == nil {
		return nil
	}
	f.ch <- session.Recording{WAV: []byte("RIFF-test"), Device: "test-mic", Duration: time.Second}
	close(f.ch)
	f.ch = nil
	return nil
}

func (f *fakeCapture) Cancel() error {
	f.cancels.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ch != nil {
		close(f.ch)
		f.ch = nil
	}
	return nil
}

func newController(t *testing.T, srv *backendtest.Server, capture session.Capture) *session.Controller {
	t.Helper()
	client, err := backend.NewClient(backend.Options{BaseURL: srv.URL(), RequestTimeout: 2 * time.Second})
	require.NoError(t, err)
	return session.NewController(session.Options{
		Backend: client,
		Poller:  poll.New(client, poll.Options{Interval: 5 * time.Millisecond, MaxAttempts: 50}),
		Capture: capture,
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestTextQueryRendersConversationAndHistory(t *testing.T) {
	srv := backendtest.New(t)
	srv.SetText(backendtest.Reply{Code: http.StatusOK, Body: map[string]string{
		"status":        "done",
		"response_text": "Bring an umbrella.",
	}})
	ctrl := newController(t, srv, &fakeCapture{})

	out := &safeBuffer{}
	in := strings.NewReader("will it rain tomorrow?\n/history\n/quit\n")
	require.NoError(t, New(in, out, ctrl, nil).Run(context.Background()))

	text := out.String()
	require.Equal(t, 2, strings.Count(text, "you: will it rain tomorrow?"))
	require.Equal(t, 2, strings.Count(text, "nimbus: Bring an umbrella."))
	require.Contains(t, text, "-- Processing…")
	require.Contains(t, text, "-- Done")
	require.Equal(t, []string{"will it rain tomorrow?"}, srv.TextQueries())
	require.Equal(t, 2, ctrl.Store().Len())
}

func TestTextQueryEmptyReplyRendersError(t *testing.T) {
	srv := backendtest.New(t)
	srv.SetText(backendtest.Reply{Code: http.StatusOK, Body: map[string]string{
		"status":        "failed",
		"response_text": "",
		"error":         "weather service unavailable",
	}})
	ctrl := newController(t, srv, &fakeCapture{})

	out := &safeBuffer{}
	require.NoError(t, New(strings.NewReader("forecast?\n"), out, ctrl, nil).Run(context.Background()))

	require.Contains(t, out.String(), "nimbus: Error: weather service unavailable")
	last, ok := ctrl.Store().Last()
	require.True(t, ok)
	require.True(t, last.Error)
}

func TestVoiceRoundTripThroughEnterKey(t *testing.T) {
	srv := backendtest.New(t)
	srv.ScriptStatus("trace-1",
		backendtest.Reply{Code: http.StatusOK, Body: map[string]string{"trace_id": "trace-1", "status": "processing"}},
		backendtest.Reply{Code: http.StatusOK, Body: map[string]any{
			"trace_id": "trace-1",
			"status":   "done",
			"text":     "rain tomorrow",
			"response": map[string]string{"text": "bring an umbrella"},
		}},
	)
	capture := &fakeCapture{}
	ctrl := newController(t, srv, capture)

	inR, inW := io.Pipe()
	out := &safeBuffer{}
	done := make(chan error, 1)
	go func() { done <- New(inR, out, ctrl, nil).Run(context.Background()) }()

	_, err := io.WriteString(inW, "/record\n")
	require.NoError(t, err)
	waitFor(t, func() bool { return ctrl.State() == fsm.StateRecording })

	_, err = io.WriteString(inW, "\n")
	require.NoError(t, err)
	waitFor(t, func() bool { return ctrl.Store().Len() == 2 && ctrl.State() == fsm.StateIdle })

	_, err = io.WriteString(inW, "/quit\n")
	require.NoError(t, err)
	require.NoError(t, <-done)

	text := out.String()
	require.Contains(t, text, "-- Recording…")
	require.Contains(t, text, "you: rain tomorrow")
	require.Contains(t, text, "nimbus: bring an umbrella")
	require.Equal(t, int32(1), capture.stops.Load())
	require.Len(t, srv.Uploads(), 1)
}

func TestEndOfInputCancelsRecording(t *testing.T) {
	srv := backendtest.New(t)
	capture := &fakeCapture{}
	ctrl := newController(t, srv, capture)

	out := &safeBuffer{}
	require.NoError(t, New(strings.NewReader("/record\n"), out, ctrl, nil).Run(context.Background()))

	require.Equal(t, int32(1), capture.cancels.Load())
	require.Equal(t, fsm.StateIdle, ctrl.State())
	require.Zero(t, ctrl.Store().Len())
	require.Empty(t, srv.Uploads())
}

func TestCommandsOutsideRecording(t *testing.T) {
	srv := backendtest.New(t)
	ctrl := newController(t, srv, &fakeCapture{})

	out := &safeBuffer{}
	in := strings.NewReader("/stop\n/cancel\n/history\n/status\n/bogus\n/help\n/exit\nnever sent\n")
	require.NoError(t, New(in, out, ctrl, nil).Run(context.Background()))

	text := out.String()
	require.Equal(t, 2, strings.Count(text, "! not recording"))
	require.Contains(t, text, "-- no messages yet")
	require.Contains(t, text, "-- Ready (record, text)")
	require.Contains(t, text, "! unknown command /bogus")
	require.Contains(t, text, "/record    start recording")
	require.Empty(t, srv.TextQueries())
}

func TestRunReturnsWhenContextEnds(t *testing.T) {
	srv := backendtest.New(t)
	ctrl := newController(t, srv, &fakeCapture{})

	inR, inW := io.Pipe()
	t.Cleanup(func() { _ = inW.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(inR, &safeBuffer{}, ctrl, nil).Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("console did not return after cancellation")
	}
}

func TestFormatMessage(t *testing.T) {
	ts := time.Date(2026, 3, 1, 9, 30, 5, 0, time.UTC)
	require.Equal(t, "[09:30:05] you: hi", formatMessage(conversation.Message{Sender: conversation.SenderUser, Text: "hi", Timestamp: ts}))
	require.Equal(t, "[09:30:05] nimbus: sunny", formatMessage(conversation.Message{Sender: conversation.SenderBot, Text: "sunny", Timestamp: ts}))
}

func TestControlsHint(t *testing.T) {
	require.Equal(t, "record, text", controlsHint(fsm.ControlsFor(fsm.StateIdle)))
	require.Equal(t, "stop", controlsHint(fsm.ControlsFor(fsm.StateRecording)))
	require.Equal(t, "busy", controlsHint(fsm.ControlsFor(fsm.StateProcessingText)))
}

type recordingCopier struct {
	mu     sync.Mutex
	copied []string
	err    error
}

func (r *recordingCopier) Copy(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.copied = append(r.copied, text)
	return nil
}

func TestCopyCopiesLastSuccessfulReply(t *testing.T) {
	srv := backendtest.New(t)
	srv.SetText(backendtest.Reply{Code: http.StatusOK, Body: map[string]string{"status": "done", "response_text": "Pack sunscreen."}})
	ctrl := newController(t, srv, &fakeCapture{})

	copier := &recordingCopier{}
	out := &safeBuffer{}
	in := strings.NewReader("/copy\nuv index?\n/copy\n")
	require.NoError(t, New(in, out, ctrl, nil, WithCopier(copier)).Run(context.Background()))

	require.Equal(t, []string{"Pack sunscreen."}, copier.copied)
	require.Contains(t, out.String(), "! no reply to copy yet")
	require.Contains(t, out.String(), "-- copied last reply")
}

func TestCopyWithoutCopierOrOnFailure(t *testing.T) {
	srv := backendtest.New(t)
	ctrl := newController(t, srv, &fakeCapture{})

	out := &safeBuffer{}
	require.NoError(t, New(strings.NewReader("/copy\n"), out, ctrl, nil).Run(context.Background()))
	require.Contains(t, out.String(), "! copying is not available")

	out = &safeBuffer{}
	copier := &recordingCopier{err: errors.New("wl-copy missing")}
	require.NoError(t, New(strings.NewReader("hi\n/copy\n"), out, ctrl, nil, WithCopier(copier)).Run(context.Background()))
	require.Contains(t, out.String(), "! wl-copy missing")
}
