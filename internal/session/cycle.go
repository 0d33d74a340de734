package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rbright/nimbus/internal/conversation"
	"github.com/rbright/nimbus/internal/fsm"
)

// Kind distinguishes voice and text cycles.
type Kind string

const (
	KindVoice Kind = "voice"
	KindText  Kind = "text"
)

// Outcome is what one cycle produced. Err is nil only when the assistant replied.
type Outcome struct {
	CycleID   uuid.UUID
	Kind      Kind
	TraceID   string
	Messages  []conversation.Message
	Cancelled bool
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// Reply returns the text of the last bot message, if the cycle produced one.
func (o Outcome) Reply() (string, bool) {
	for i := len(o.Messages) - 1; i >= 0; i-- {
		if o.Messages[i].Sender == conversation.SenderBot {
			return o.Messages[i].Text, true
		}
	}
	return "", false
}

// Cycle tracks one in-flight pipeline run from trigger to idle.
type Cycle struct {
	ID        uuid.UUID
	Kind      Kind
	StartedAt time.Time

	userAppended bool
	messages     []conversation.Message
	traceID      string

	// opening and queued are guarded by Controller.mu. queued holds a stop
	// or cancel that arrived before capture finished opening.
	opening bool
	queued  fsm.Event

	done    chan struct{}
	outcome Outcome
}

func newCycle(kind Kind, now time.Time) *Cycle {
	return &Cycle{
		ID:        uuid.New(),
		Kind:      kind,
		StartedAt: now,
		done:      make(chan struct{}),
	}
}

// Done is closed once the cycle has returned the controller to idle.
func (c *Cycle) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the cycle finishes or ctx ends.
func (c *Cycle) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-c.done:
		return c.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

func (c *Cycle) finish(outcome Outcome, now time.Time) Outcome {
	outcome.CycleID = c.ID
	outcome.Kind = c.Kind
	outcome.TraceID = c.traceID
	outcome.Messages = append([]conversation.Message(nil), c.messages...)
	outcome.StartedAt = c.StartedAt
	outcome.Duration = now.Sub(c.StartedAt)
	c.outcome = outcome
	close(c.done)
	return outcome
}
