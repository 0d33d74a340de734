package session

import (
	"context"
	"errors"
	"time"

	"github.com/rbright/nimbus/internal/backend"
)

var (
	// ErrCaptureUnavailable reports a missing or unopenable microphone.
	ErrCaptureUnavailable = errors.New("audio capture unavailable")
	// ErrBusy rejects a trigger while another cycle is in flight.
	ErrBusy = errors.New("another request is in progress")
	// ErrPartialFailure marks a voice job that transcribed but produced no reply.
	ErrPartialFailure = errors.New("transcribed but the assistant reply failed")
	// ErrNoResponse marks a completed request whose reply text was empty.
	ErrNoResponse = errors.New("assistant returned no response")
	// ErrNotRecording rejects stop-like commands that need an active recording.
	ErrNotRecording = errors.New("not recording")
)

// Recording is one finished microphone capture, encoded for upload.
type Recording struct {
	WAV           []byte
	Device        string
	BytesCaptured int64
	Duration      time.Duration
}

// Capture abstracts the microphone. Start returns a channel that yields one
// Recording after Stop and then closes; Cancel closes it without a value.
type Capture interface {
	Supported(context.Context) bool
	Start(context.Context) (<-chan Recording, error)
	Stop() error
	Cancel() error
}

// Backend is the subset of the HTTP client the controller drives.
type Backend interface {
	SubmitAudio(ctx context.Context, wav []byte) (backend.Submission, error)
	SubmitText(ctx context.Context, query string) (backend.TextResult, error)
}

// Poller waits for a submitted voice job to finish.
type Poller interface {
	Poll(ctx context.Context, traceID string) (backend.Snapshot, error)
}

// Indicator is the session-facing subset of indicator behavior.
type Indicator interface {
	ShowRecording(context.Context)
	ShowProcessing(context.Context)
	ShowDone(context.Context, string)
	ShowError(context.Context, string)
	CueStop(context.Context)
	CueComplete(context.Context)
	CueCancel(context.Context)
	Hide(context.Context)
}

// noopIndicator preserves session flow when no indicator is wired.
type noopIndicator struct{}

func (noopIndicator) ShowRecording(context.Context)     {}
func (noopIndicator) ShowProcessing(context.Context)    {}
func (noopIndicator) ShowDone(context.Context, string)  {}
func (noopIndicator) ShowError(context.Context, string) {}
func (noopIndicator) CueStop(context.Context)           {}
func (noopIndicator) CueComplete(context.Context)       {}
func (noopIndicator) CueCancel(context.Context)         {}
func (noopIndicator) Hide(context.Context)              {}

// unsupportedCapture stands in when no microphone is wired.
type unsupportedCapture struct{}

func (unsupportedCapture) Supported(context.Context) bool { return false }
func (unsupportedCapture) Start(context.Context) (<-chan Recording, error) {
	return nil, ErrCaptureUnavailable
}
func (unsupportedCapture) Stop() error   { return nil }
func (unsupportedCapture) Cancel() error { return nil }
