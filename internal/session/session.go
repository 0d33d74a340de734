// Package session drives voice and text request cycles and is the only writer
// of the conversation log.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/nimbus/internal/backend"
	"github.com/rbright/nimbus/internal/conversation"
	"github.com/rbright/nimbus/internal/fsm"
	"github.com/rbright/nimbus/internal/logging"
)

const (
	placeholderTranscript = "(no transcription)"
	placeholderVoice      = "(voice message)"
	defaultNoResponse     = "The assistant did not return a response."
	errorPrefix           = "Error: "
)

// Options wires a Controller. Nil fields fall back to safe defaults.
type Options struct {
	Logger    *slog.Logger
	Capture   Capture
	Backend   Backend
	Poller    Poller
	Store     *conversation.Store
	Indicator Indicator
}

// Controller serializes pipeline cycles through the fsm and records their
// messages in the conversation store.
type Controller struct {
	logger    *slog.Logger
	capture   Capture
	backend   Backend
	poller    Poller
	store     *conversation.Store
	indicator Indicator
	now       func() time.Time

	mu     sync.RWMutex
	state  fsm.State
	status Status
	cycle  *Cycle

	// subMu orders status deliveries; it is taken before mu.
	subMu      sync.Mutex
	nextSubID  int
	statusSubs map[int]func(Status)
}

// NewController constructs a controller in the idle state.
func NewController(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Capture == nil {
		opts.Capture = unsupportedCapture{}
	}
	if opts.Backend == nil {
		opts.Backend = missingBackend{}
	}
	if opts.Poller == nil {
		opts.Poller = missingBackend{}
	}
	if opts.Store == nil {
		opts.Store = conversation.NewStore()
	}
	if opts.Indicator == nil {
		opts.Indicator = noopIndicator{}
	}

	return &Controller{
		logger:     opts.Logger,
		capture:    opts.Capture,
		backend:    opts.Backend,
		poller:     opts.Poller,
		store:      opts.Store,
		indicator:  opts.Indicator,
		now:        time.Now,
		state:      fsm.StateIdle,
		status:     statusFor(fsm.StateIdle, PhaseReady, ""),
		statusSubs: map[int]func(Status){},
	}
}

// State returns the current FSM state snapshot.
func (c *Controller) State() fsm.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Status returns the current view projection.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Controls returns the affordances enabled in the current state.
func (c *Controller) Controls() fsm.Controls {
	return fsm.ControlsFor(c.State())
}

// Store exposes the conversation log for rendering.
func (c *Controller) Store() *conversation.Store {
	return c.store
}

// Active returns the in-flight cycle, or nil when idle.
func (c *Controller) Active() *Cycle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cycle
}

// SubscribeStatus registers fn for every status change. fn must not call
// back into controller operations that change state.
func (c *Controller) SubscribeStatus(fn func(Status)) func() {
	if fn == nil {
		return func() {}
	}
	c.subMu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.statusSubs[id] = fn
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.statusSubs, id)
			c.subMu.Unlock()
		})
	}
}

// StartVoice begins recording. The controller stays idle until the device is
// open, so a failed start never publishes a recording phase. The returned
// cycle completes after the reply (or failure) has been appended and the
// controller is idle again.
func (c *Controller) StartVoice(ctx context.Context) (*Cycle, error) {
	cycle, err := c.reserveVoice()
	if err != nil {
		return nil, err
	}

	if !c.capture.Supported(ctx) {
		err := fmt.Errorf("%w: no usable microphone", ErrCaptureUnavailable)
		c.abortStart(ctx, cycle, err)
		return nil, err
	}

	recordings, err := c.capture.Start(ctx)
	if err != nil {
		if !errors.Is(err, ErrCaptureUnavailable) {
			err = fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
		}
		c.abortStart(ctx, cycle, err)
		return nil, err
	}

	queued, err := c.enterRecording(cycle)
	if err != nil {
		_ = c.capture.Cancel()
		c.abortStart(ctx, cycle, err)
		return nil, err
	}
	c.indicator.ShowRecording(ctx)

	switch queued {
	case fsm.EventStopCapture:
		c.logger.Debug("applying queued stop", "cycle_id", cycle.ID.String())
		if err := c.capture.Stop(); err != nil {
			c.logger.Warn("queued stop failed", "cycle_id", cycle.ID.String(), "error", err.Error())
		}
	case fsm.EventCancelCapture:
		c.logger.Debug("applying queued cancel", "cycle_id", cycle.ID.String())
		if err := c.capture.Cancel(); err != nil {
			c.logger.Warn("queued cancel failed", "cycle_id", cycle.ID.String(), "error", err.Error())
		}
	}

	go c.runVoice(ctx, cycle, recordings)
	return cycle, nil
}

// StopVoice ends the active recording and hands it to the pipeline. A stop
// that arrives while the device is still opening is applied once it is open.
// It is a no-op when nothing is recording.
func (c *Controller) StopVoice() error {
	recording, queued := c.queueWhileOpening(fsm.EventStopCapture)
	if queued || !recording {
		return nil
	}
	return c.capture.Stop()
}

// CancelVoice discards the active recording without contacting the backend.
func (c *Controller) CancelVoice() error {
	recording, queued := c.queueWhileOpening(fsm.EventCancelCapture)
	if queued {
		return nil
	}
	if !recording {
		return fmt.Errorf("%w: cannot cancel from state %s", ErrNotRecording, c.State())
	}
	return c.capture.Cancel()
}

// Capturing reports whether a voice cycle is recording or opening its device.
func (c *Controller) Capturing() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == fsm.StateRecording || (c.cycle != nil && c.cycle.opening)
}

// queueWhileOpening records event on a cycle whose device is still opening.
// Cancel replaces a queued stop; a queued cancel is never downgraded.
func (c *Controller) queueWhileOpening(event fsm.Event) (recording bool, queued bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cycle != nil && c.cycle.opening {
		if c.cycle.queued != fsm.EventCancelCapture {
			c.cycle.queued = event
		}
		return false, true
	}
	return c.state == fsm.StateRecording, false
}

// SubmitText runs one synchronous text cycle. The error return is reserved
// for requests that never started a cycle; cycle failures are in Outcome.Err.
func (c *Controller) SubmitText(ctx context.Context, text string) (Outcome, error) {
	query := strings.TrimSpace(text)
	if query == "" {
		return Outcome{}, conversation.ErrEmptyText
	}

	cycle, err := c.begin(fsm.EventSubmitText, KindText, PhaseProcessing)
	if err != nil {
		return Outcome{}, err
	}

	c.appendUser(cycle, query)
	c.indicator.ShowProcessing(ctx)

	result, err := c.backend.SubmitText(ctx, query)
	if err != nil {
		return c.fail(ctx, cycle, err), nil
	}

	if reply := strings.TrimSpace(result.ResponseText); reply != "" {
		return c.succeed(ctx, cycle, reply), nil
	}

	reason := strings.TrimSpace(result.Error)
	if reason == "" {
		reason = defaultNoResponse
	}
	return c.reject(ctx, cycle, fmt.Errorf("%w: %s", ErrNoResponse, reason), reason), nil
}

func (c *Controller) runVoice(ctx context.Context, cycle *Cycle, recordings <-chan Recording) {
	recording, ok := <-recordings
	if !ok {
		c.indicator.CueCancel(ctx)
		c.indicator.Hide(ctx)
		c.finish(cycle, fsm.EventCancelCapture, PhaseReady, "", Outcome{Cancelled: true})
		return
	}

	if err := c.transition(fsm.EventStopCapture, PhaseProcessing, ""); err != nil {
		c.fail(ctx, cycle, err)
		return
	}
	c.indicator.CueStop(ctx)
	c.indicator.ShowProcessing(ctx)
	c.logger.Debug("recording captured",
		"cycle_id", cycle.ID.String(),
		"device", recording.Device,
		"bytes_captured", recording.BytesCaptured,
		"duration_ms", recording.Duration.Milliseconds(),
	)

	submission, err := c.backend.SubmitAudio(ctx, recording.WAV)
	if err != nil {
		c.fail(ctx, cycle, err)
		return
	}
	cycle.traceID = submission.TraceID

	snapshot, err := c.poller.Poll(ctx, submission.TraceID)
	if err != nil {
		c.fail(ctx, cycle, err)
		return
	}

	transcript := snapshot.Transcript()
	if transcript == "" {
		transcript = placeholderTranscript
	}
	c.appendUser(cycle, transcript)

	if reply := snapshot.ReplyText(); snapshot.Done() && reply != "" {
		c.succeed(ctx, cycle, reply)
		return
	}

	reason := snapshotError(snapshot)
	kind := ErrNoResponse
	if snapshot.PartiallyDone() {
		kind = ErrPartialFailure
	}
	c.reject(ctx, cycle, fmt.Errorf("%w: %s", kind, reason), reason)
}

// snapshotError derives the message shown when a finished job has no reply.
func snapshotError(snapshot backend.Snapshot) string {
	if reason := strings.TrimSpace(snapshot.Error); reason != "" {
		return reason
	}
	if snapshot.Response != nil {
		if reason := strings.TrimSpace(snapshot.Response.Error); reason != "" {
			return reason
		}
	}
	warnings := make([]string, 0, len(snapshot.Warnings))
	for _, w := range snapshot.Warnings {
		if w = strings.TrimSpace(w); w != "" {
			warnings = append(warnings, w)
		}
	}
	if len(warnings) > 0 {
		return strings.Join(warnings, "; ")
	}
	return defaultNoResponse
}

// succeed records the assistant reply and returns to idle.
func (c *Controller) succeed(ctx context.Context, cycle *Cycle, reply string) Outcome {
	c.appendBot(cycle, reply)
	c.indicator.CueComplete(ctx)
	c.indicator.ShowDone(ctx, reply)
	return c.finish(cycle, fsm.EventCompleted, PhaseDone, "", Outcome{})
}

// reject records a completed request that produced no usable reply.
func (c *Controller) reject(ctx context.Context, cycle *Cycle, err error, reason string) Outcome {
	c.appendError(cycle, reason)
	c.indicator.ShowError(ctx, reason)
	return c.finish(cycle, fsm.EventCompleted, PhaseError, reason, Outcome{Err: err})
}

// fail records a submit, poll, or transport failure and returns to idle.
func (c *Controller) fail(ctx context.Context, cycle *Cycle, err error) Outcome {
	if cycle.Kind == KindVoice && !cycle.userAppended {
		c.appendUser(cycle, placeholderVoice)
	}
	reason := err.Error()
	c.appendError(cycle, reason)
	c.indicator.ShowError(ctx, reason)
	return c.finish(cycle, fsm.EventFailed, PhaseError, reason, Outcome{Err: err})
}

// abortStart releases a voice cycle whose device never opened. The fsm never
// left idle, so only the status changes.
func (c *Controller) abortStart(ctx context.Context, cycle *Cycle, err error) {
	c.indicator.ShowError(ctx, "Microphone unavailable")
	c.forceIdle(PhaseError, "microphone unavailable")
	c.resolve(cycle, Outcome{Err: err})
}

func (c *Controller) appendUser(cycle *Cycle, text string) {
	msg, err := c.store.Append(conversation.SenderUser, text)
	if err != nil {
		c.logger.Warn("append user message failed", "cycle_id", cycle.ID.String(), "error", err.Error())
		return
	}
	cycle.userAppended = true
	cycle.messages = append(cycle.messages, msg)
}

func (c *Controller) appendBot(cycle *Cycle, text string) {
	msg, err := c.store.Append(conversation.SenderBot, text)
	if err != nil {
		c.logger.Warn("append bot message failed", "cycle_id", cycle.ID.String(), "error", err.Error())
		return
	}
	cycle.messages = append(cycle.messages, msg)
}

func (c *Controller) appendError(cycle *Cycle, reason string) {
	msg, err := c.store.AppendError(errorPrefix + reason)
	if err != nil {
		c.logger.Warn("append error message failed", "cycle_id", cycle.ID.String(), "error", err.Error())
		return
	}
	cycle.messages = append(cycle.messages, msg)
}

// begin atomically checks for an in-flight cycle and claims the pipeline.
func (c *Controller) begin(event fsm.Event, kind Kind, phase Phase) (*Cycle, error) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.mu.Lock()
	if err := c.busyLocked(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	next, err := fsm.Transition(c.state, event)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	cycle := newCycle(kind, c.now())
	c.state = next
	c.cycle = cycle
	c.status = statusFor(next, phase, "")
	status := c.status
	c.mu.Unlock()

	c.logger.Info("cycle started", "cycle_id", cycle.ID.String(), "kind", string(kind))
	c.publish(status)
	return cycle, nil
}

// reserveVoice claims the pipeline for a voice cycle without leaving idle.
func (c *Controller) reserveVoice() (*Cycle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.busyLocked(); err != nil {
		return nil, err
	}
	cycle := newCycle(KindVoice, c.now())
	cycle.opening = true
	c.cycle = cycle
	return cycle, nil
}

// enterRecording moves a reserved voice cycle into recording and returns any
// stop or cancel queued while the device was opening.
func (c *Controller) enterRecording(cycle *Cycle) (fsm.Event, error) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.mu.Lock()
	next, err := fsm.Transition(c.state, fsm.EventStartCapture)
	if err != nil {
		c.mu.Unlock()
		return "", err
	}
	cycle.opening = false
	queued := cycle.queued
	c.state = next
	c.status = statusFor(next, PhaseRecording, "")
	status := c.status
	c.mu.Unlock()

	c.logger.Info("cycle started", "cycle_id", cycle.ID.String(), "kind", string(cycle.Kind))
	c.publish(status)
	return queued, nil
}

// busyLocked reports ErrBusy while any cycle holds the pipeline; callers hold mu.
func (c *Controller) busyLocked() error {
	if fsm.Busy(c.state) || c.cycle != nil {
		return fmt.Errorf("%w (state %s)", ErrBusy, c.state)
	}
	return nil
}

// transition applies one FSM event and publishes the resulting status.
func (c *Controller) transition(event fsm.Event, phase Phase, detail string) error {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.mu.Lock()
	next, err := fsm.Transition(c.state, event)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.state = next
	if next == fsm.StateIdle {
		c.cycle = nil
	}
	c.status = statusFor(next, phase, detail)
	status := c.status
	c.mu.Unlock()

	c.publish(status)
	return nil
}

// finish returns the controller to idle and resolves the cycle.
func (c *Controller) finish(cycle *Cycle, event fsm.Event, phase Phase, detail string, outcome Outcome) Outcome {
	if err := c.transition(event, phase, detail); err != nil {
		c.logger.Error("cycle transition failed", "cycle_id", cycle.ID.String(), "error", err.Error())
		c.forceIdle(phase, detail)
	}

	return c.resolve(cycle, outcome)
}

// resolve completes cycle and logs how it ended.
func (c *Controller) resolve(cycle *Cycle, outcome Outcome) Outcome {
	outcome = cycle.finish(outcome, c.now())
	attrs := []any{
		"cycle_id", outcome.CycleID.String(),
		"kind", string(outcome.Kind),
		"trace_id", outcome.TraceID,
		"cancelled", outcome.Cancelled,
		"messages", len(outcome.Messages),
		"duration_ms", outcome.Duration.Milliseconds(),
	}
	if outcome.Err != nil {
		c.logger.Warn("cycle failed", append(attrs, "error", outcome.Err.Error())...)
	} else {
		c.logger.Info("cycle finished", attrs...)
	}
	return outcome
}

// forceIdle guarantees every cycle ends idle even after an unexpected fsm error.
func (c *Controller) forceIdle(phase Phase, detail string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.mu.Lock()
	c.state = fsm.StateIdle
	c.cycle = nil
	c.status = statusFor(fsm.StateIdle, phase, detail)
	status := c.status
	c.mu.Unlock()

	c.publish(status)
}

// publish delivers status to subscribers; callers hold subMu.
func (c *Controller) publish(status Status) {
	for _, fn := range c.statusSubs {
		fn(status)
	}
}

// missingBackend fails every request when no backend is wired.
type missingBackend struct{}

var errNoBackend = errors.New("backend is not configured")

func (missingBackend) SubmitAudio(context.Context, []byte) (backend.Submission, error) {
	return backend.Submission{}, errNoBackend
}

func (missingBackend) SubmitText(context.Context, string) (backend.TextResult, error) {
	return backend.TextResult{}, errNoBackend
}

func (missingBackend) Poll(context.Context, string) (backend.Snapshot, error) {
	return backend.Snapshot{}, errNoBackend
}
