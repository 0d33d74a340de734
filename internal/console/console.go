// Package console is the interactive chat REPL. It renders the conversation
// log and status projection and turns typed lines into controller calls.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/rbright/nimbus/internal/conversation"
	"github.com/rbright/nimbus/internal/fsm"
	"github.com/rbright/nimbus/internal/logging"
	"github.com/rbright/nimbus/internal/session"
)

const timeLayout = "15:04:05"

// Session is the controller surface the console drives.
type Session interface {
	State() fsm.State
	Status() session.Status
	Store() *conversation.Store
	Active() *session.Cycle
	Capturing() bool
	SubscribeStatus(func(session.Status)) func()
	StartVoice(context.Context) (*session.Cycle, error)
	StopVoice() error
	CancelVoice() error
	SubmitText(context.Context, string) (session.Outcome, error)
}

// Copier receives text for /copy.
type Copier interface {
	Copy(context.Context, string) error
}

// Option configures optional console collaborators.
type Option func(*Console)

// WithCopier enables /copy.
func WithCopier(copier Copier) Option {
	return func(c *Console) { c.copier = copier }
}

// Console reads commands from in and renders to out.
type Console struct {
	in      io.Reader
	out     io.Writer
	session Session
	logger  *slog.Logger
	copier  Copier

	mu        sync.Mutex
	lastLabel string
}

// New constructs a console bound to a session controller.
func New(in io.Reader, out io.Writer, s Session, logger *slog.Logger, opts ...Option) *Console {
	if logger == nil {
		logger = logging.Discard()
	}
	c := &Console{in: in, out: out, session: s, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run renders the conversation until /quit, end of input, or ctx ends.
// An in-flight voice cycle is drained before Run returns.
func (c *Console) Run(ctx context.Context) error {
	unsubscribeMessages := c.session.Store().Subscribe(c.renderMessage)
	defer unsubscribeMessages()
	unsubscribeStatus := c.session.SubscribeStatus(c.renderStatus)
	defer unsubscribeStatus()

	c.printf("nimbus weather assistant. Type a question, or /help for commands.\n")

	readCtx, stopReading := context.WithCancel(ctx)
	defer stopReading()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-readCtx.Done():
				return
			}
		}
		readErr <- scanner.Err()
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			c.drain(context.WithoutCancel(ctx))
			return nil
		case line, ok := <-lines:
			if !ok {
				c.drain(ctx)
				return <-readErr
			}
			if quit := c.handleLine(ctx, line); quit {
				c.drain(ctx)
				return nil
			}
		}
	}
}

// handleLine dispatches one input line and reports whether the REPL should exit.
func (c *Console) handleLine(ctx context.Context, line string) bool {
	trimmed := strings.TrimSpace(line)

	if trimmed == "" {
		if c.session.Capturing() {
			c.stop()
		}
		return false
	}

	if !strings.HasPrefix(trimmed, "/") {
		c.ask(ctx, trimmed)
		return false
	}

	switch strings.ToLower(strings.Fields(trimmed)[0]) {
	case "/record":
		c.record(ctx)
	case "/stop":
		c.stop()
	case "/cancel":
		if err := c.session.CancelVoice(); err != nil {
			c.printf("! %v\n", err)
		}
	case "/history":
		c.history()
	case "/copy":
		c.copyReply(ctx)
	case "/status":
		status := c.session.Status()
		c.printf("-- %s (%s)\n", status.Label, controlsHint(status.Controls))
	case "/help":
		c.printf("%s", helpText)
	case "/quit", "/exit":
		return true
	default:
		c.printf("! unknown command %s; /help lists commands\n", trimmed)
	}
	return false
}

func (c *Console) record(ctx context.Context) {
	if !c.session.Status().Controls.Record {
		c.printf("! %v\n", session.ErrBusy)
		return
	}
	if _, err := c.session.StartVoice(ctx); err != nil {
		c.printf("! %v\n", err)
		return
	}
	c.printf("-- press Enter or /stop to send, /cancel to discard\n")
}

func (c *Console) stop() {
	if !c.session.Capturing() {
		c.printf("! %v\n", session.ErrNotRecording)
		return
	}
	if err := c.session.StopVoice(); err != nil {
		c.printf("! %v\n", err)
	}
}

func (c *Console) ask(ctx context.Context, text string) {
	if !c.session.Status().Controls.Text {
		c.printf("! %v\n", session.ErrBusy)
		return
	}
	outcome, err := c.session.SubmitText(ctx, text)
	if err != nil {
		c.printf("! %v\n", err)
		return
	}
	if outcome.Err != nil {
		c.logger.Debug("text query failed", "cycle_id", outcome.CycleID.String(), "error", outcome.Err.Error())
	}
}

// drain cancels a pending recording and waits for an in-flight cycle.
func (c *Console) drain(ctx context.Context) {
	if c.session.Capturing() {
		if err := c.session.CancelVoice(); err != nil && !errors.Is(err, session.ErrNotRecording) {
			c.logger.Warn("cancel recording on exit failed", "error", err.Error())
		}
	}
	if cycle := c.session.Active(); cycle != nil {
		_, _ = cycle.Wait(ctx)
	}
}

func (c *Console) copyReply(ctx context.Context) {
	if c.copier == nil {
		c.printf("! copying is not available\n")
		return
	}
	messages := c.session.Store().Messages()
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if msg.Sender != conversation.SenderBot || msg.Error {
			continue
		}
		if err := c.copier.Copy(ctx, msg.Text); err != nil {
			c.printf("! %v\n", err)
			return
		}
		c.printf("-- copied last reply\n")
		return
	}
	c.printf("! no reply to copy yet\n")
}

func (c *Console) history() {
	messages := c.session.Store().Messages()
	if len(messages) == 0 {
		c.printf("-- no messages yet\n")
		return
	}
	for _, msg := range messages {
		c.renderMessage(msg)
	}
}

func (c *Console) renderMessage(msg conversation.Message) {
	c.printf("%s\n", formatMessage(msg))
}

// renderStatus prints a status line whenever its label changes.
func (c *Console) renderStatus(status session.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if status.Label == c.lastLabel {
		return
	}
	c.lastLabel = status.Label
	if status.Phase == session.PhaseReady {
		return
	}
	_, _ = fmt.Fprintf(c.out, "-- %s\n", status.Label)
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}

func formatMessage(msg conversation.Message) string {
	who := "you"
	if msg.Sender == conversation.SenderBot {
		who = "nimbus"
	}
	return fmt.Sprintf("[%s] %s: %s", msg.Timestamp.Format(timeLayout), who, msg.Text)
}

func controlsHint(controls fsm.Controls) string {
	var enabled []string
	if controls.Record {
		enabled = append(enabled, "record")
	}
	if controls.Stop {
		enabled = append(enabled, "stop")
	}
	if controls.Text {
		enabled = append(enabled, "text")
	}
	if len(enabled) == 0 {
		return "busy"
	}
	return strings.Join(enabled, ", ")
}

const helpText = `Commands:
  /record    start recording a voice question
  /stop      stop recording and send (or press Enter)
  /cancel    discard the current recording
  /history   print the conversation so far
  /copy      copy the last reply to the clipboard
  /status    print the pipeline status
  /quit      leave (also /exit)
Any other line is sent as a typed question.
`
