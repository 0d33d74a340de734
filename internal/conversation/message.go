// Package conversation holds the session-scoped, append-only chat log.
package conversation

import (
	"time"

	"github.com/google/uuid"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Message is one immutable chat log entry.
type Message struct {
	ID        uuid.UUID
	Sender    Sender
	Text      string
	Timestamp time.Time
	// Error marks bot messages that carry a failure description instead of a reply.
	Error bool
}
