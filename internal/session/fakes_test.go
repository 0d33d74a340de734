package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rbright/nimbus/internal/backend"
	"github.com/rbright/nimbus/internal/fsm"
)

type fakeIndicator struct {
	recording  atomic.Int32
	processing atomic.Int32
	done       atomic.Int32
	errors     atomic.Int32
	stopCues   atomic.Int32
	doneCues   atomic.Int32
	cancelCues atomic.Int32
	hides      atomic.Int32
}

func (f *fakeIndicator) ShowRecording(context.Context)     { f.recording.Add(1) }
func (f *fakeIndicator) ShowProcessing(context.Context)    { f.processing.Add(1) }
func (f *fakeIndicator) ShowDone(context.Context, string)  { f.done.Add(1) }
func (f *fakeIndicator) ShowError(context.Context, string) { f.errors.Add(1) }
func (f *fakeIndicator) CueStop(context.Context)           { f.stopCues.Add(1) }
func (f *fakeIndicator) CueComplete(context.Context)       { f.doneCues.Add(1) }
func (f *fakeIndicator) CueCancel(context.Context)         { f.cancelCues.Add(1) }
func (f *fakeIndicator) Hide(context.Context)              { f.hides.Add(1) }

type fakeCapture struct {
	unsupported bool
	startErr    error
	recording   Recording

	// opening, when set, blocks Supported until closed; entered is closed on entry.
	opening chan struct{}
	entered chan struct{}

	mu     sync.Mutex
	out    chan Recording
	closed bool

	starts  atomic.Int32
	stops   atomic.Int32
	cancels atomic.Int32
}

func (f *fakeCapture) Supported(context.Context) bool {
	if f.entered != nil {
		close(f.entered)
	}
	if f.opening != nil {
		<-f.opening
	}
	return !f.unsupported
}

func (f *fakeCapture) Start(context.Context) (<-chan Recording, error) {
	f.starts.Add(1)
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = make(chan Recording, 1)
	f.closed = false
	return f.out, nil
}

func (f *fakeCapture) Stop() error {
	f.stops.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.out == nil || f.closed {
		return nil
	}
	f.out <- f.recording
	close(f.out)
	f.closed = true
	return nil
}

func (f *fakeCapture) Cancel() error {
	f.cancels.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.out == nil || f.closed {
		return nil
	}
	close(f.out)
	f.closed = true
	return nil
}

type fakeBackend struct {
	submission backend.Submission
	submitErr  error
	text       backend.TextResult
	textErr    error
	textGate   chan struct{}

	audioCalls  atomic.Int32
	textCalls   atomic.Int32
	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func (f *fakeBackend) SubmitAudio(ctx context.Context, _ []byte) (backend.Submission, error) {
	f.audioCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return backend.Submission{}, err
	}
	if f.submitErr != nil {
		return backend.Submission{}, f.submitErr
	}
	return f.submission, nil
}

func (f *fakeBackend) SubmitText(ctx context.Context, _ string) (backend.TextResult, error) {
	f.textCalls.Add(1)
	current := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		seen := f.maxInflight.Load()
		if current <= seen || f.maxInflight.CompareAndSwap(seen, current) {
			break
		}
	}
	if f.textGate != nil {
		select {
		case <-f.textGate:
		case <-ctx.Done():
			return backend.TextResult{}, ctx.Err()
		}
	}
	if f.textErr != nil {
		return backend.TextResult{}, f.textErr
	}
	return f.text, nil
}

type fakePoller struct {
	snapshot backend.Snapshot
	err      error
	traceIDs []string
}

func (f *fakePoller) Poll(_ context.Context, traceID string) (backend.Snapshot, error) {
	f.traceIDs = append(f.traceIDs, traceID)
	if f.err != nil {
		return backend.Snapshot{}, f.err
	}
	return f.snapshot, nil
}

var errBoom = errors.New("boom")

func waitForState(t *testing.T, ctrl *Controller, desired fsm.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ctrl.State() == desired {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s (current=%s)", desired, ctrl.State())
}

func waitCycle(t *testing.T, cycle *Cycle) Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	outcome, err := cycle.Wait(ctx)
	if err != nil {
		t.Fatalf("cycle did not finish: %v", err)
	}
	return outcome
}
