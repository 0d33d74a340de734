// Package indicator projects pipeline status onto the terminal or desktop
// notifications and plays audio cues.
package indicator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rbright/nimbus/internal/config"
)

const (
	backendTerminal = "terminal"
	backendDesktop  = "desktop"

	activeTimeoutMS = 300000
	doneTimeoutMS   = 8000
	maxBodyRunes    = 240
)

// Notifier is the runtime indicator used by sessions.
type Notifier struct {
	cfg      config.IndicatorConfig
	logger   *slog.Logger
	out      io.Writer
	messages messages

	mu                    sync.Mutex
	desktopNotificationID uint32
	soundMu               sync.Mutex
	cueWG                 sync.WaitGroup
}

// New creates a notifier from config. Terminal output goes to out; a nil out
// silences the terminal backend, e.g. when a REPL renders status itself.
func New(cfg config.IndicatorConfig, out io.Writer, logger *slog.Logger) *Notifier {
	return &Notifier{
		cfg:      cfg,
		logger:   logger,
		out:      out,
		messages: indicatorMessagesFromEnv(),
	}
}

// ShowRecording signals recording start and emits the start cue.
func (n *Notifier) ShowRecording(ctx context.Context) {
	n.playCue(cueStart)
	n.show(ctx, notice{summary: n.messages.recording, icon: iconListening, urgency: urgencyNormal, timeoutMS: activeTimeoutMS})
}

// ShowProcessing signals that the request is with the backend.
func (n *Notifier) ShowProcessing(ctx context.Context) {
	n.show(ctx, notice{summary: n.messages.processing, icon: iconForecast, urgency: urgencyNormal, timeoutMS: activeTimeoutMS})
}

// ShowDone surfaces the assistant reply.
func (n *Notifier) ShowDone(ctx context.Context, reply string) {
	n.show(ctx, notice{
		summary:   n.messages.done,
		body:      truncate(reply, maxBodyRunes),
		icon:      iconAnswer,
		urgency:   urgencyNormal,
		timeoutMS: doneTimeoutMS,
	})
}

// ShowError displays an error-state indicator message.
func (n *Notifier) ShowError(ctx context.Context, text string) {
	if text == "" {
		text = n.messages.errorText
	}
	timeout := n.cfg.ErrorTimeoutMS
	if timeout <= 0 {
		timeout = 1200
	}
	n.show(ctx, notice{
		summary:   n.messages.errorText,
		body:      truncate(text, maxBodyRunes),
		icon:      iconError,
		urgency:   urgencyCritical,
		timeoutMS: timeout,
	})
}

// CueStop emits the stop cue.
func (n *Notifier) CueStop(context.Context) {
	n.playCue(cueStop)
}

// CueComplete emits the reply-received cue.
func (n *Notifier) CueComplete(context.Context) {
	n.playCue(cueComplete)
}

// CueCancel emits the cancel cue.
func (n *Notifier) CueCancel(context.Context) {
	n.playCue(cueCancel)
}

// Hide dismisses the active indicator surface.
func (n *Notifier) Hide(ctx context.Context) {
	if !n.cfg.Enable || !n.desktop() {
		return
	}
	n.run(ctx, n.dismissDesktop)
}

// Wait blocks until queued audio cues have finished playing.
func (n *Notifier) Wait() {
	n.cueWG.Wait()
}

func (n *Notifier) show(ctx context.Context, update notice) {
	if !n.cfg.Enable {
		return
	}
	if n.desktop() {
		n.run(ctx, func(ctx context.Context) error {
			return n.notifyDesktop(ctx, update)
		})
		return
	}
	n.writeTerminal(update.summary, update.body)
}

func (n *Notifier) desktop() bool {
	return strings.EqualFold(strings.TrimSpace(n.cfg.Backend), backendDesktop)
}

// writeTerminal prints one status line for non-interactive commands.
func (n *Notifier) writeTerminal(summary string, body string) {
	if n.out == nil {
		return
	}
	line := summary
	if body != "" {
		line = summary + ": " + body
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	_, _ = fmt.Fprintf(n.out, "[nimbus] %s\n", line)
}

// notifyDesktop sends a replaceable desktop notification and stores its ID.
func (n *Notifier) notifyDesktop(ctx context.Context, update notice) error {
	n.mu.Lock()
	replaceID := n.desktopNotificationID
	n.mu.Unlock()

	appName := strings.TrimSpace(n.cfg.DesktopAppName)
	if appName == "" {
		appName = "nimbus"
	}
	if update.body == "" {
		update.body = update.summary
		update.summary = n.messages.title
	}

	id, err := sendNotification(ctx, appName, replaceID, update)
	if err != nil {
		return err
	}

	n.mu.Lock()
	n.desktopNotificationID = id
	n.mu.Unlock()
	return nil
}

// dismissDesktop closes the current desktop notification ID when present.
func (n *Notifier) dismissDesktop(ctx context.Context) error {
	n.mu.Lock()
	id := n.desktopNotificationID
	n.desktopNotificationID = 0
	n.mu.Unlock()

	if id == 0 {
		return nil
	}
	return closeNotification(ctx, id)
}

// run executes an indicator operation with a bounded timeout.
func (n *Notifier) run(ctx context.Context, fn func(context.Context) error) {
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 400*time.Millisecond)
	defer cancel()
	if err := fn(runCtx); err != nil {
		n.log("indicator dispatch failed", err)
	}
}

// playCue serializes cue playback and emits audio asynchronously.
func (n *Notifier) playCue(kind cueKind) {
	if !n.cfg.Enable || !n.cfg.SoundEnable {
		return
	}
	n.cueWG.Add(1)
	go func() {
		defer n.cueWG.Done()
		n.soundMu.Lock()
		defer n.soundMu.Unlock()
		if err := emitCue(context.Background(), kind, n.cfg); err != nil {
			n.log("indicator audio cue failed", err)
		}
	}()
}

// log emits debug-only indicator failures to the runtime logger.
func (n *Notifier) log(message string, err error) {
	if n.logger == nil || err == nil {
		return
	}
	n.logger.Debug(message, "error", err.Error())
}

func truncate(text string, limit int) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit-1]) + "…"
}
