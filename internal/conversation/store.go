package conversation

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrEmptyText rejects messages with no displayable text.
var ErrEmptyText = errors.New("message text must not be empty")

// Store is the ordered log of one session. It is never persisted and only
// grows: there is no removal, reordering, or in-place edit.
type Store struct {
	now func() time.Time

	mu       sync.RWMutex
	messages []Message
	last     time.Time

	subMu       sync.Mutex
	nextSubID   int
	subscribers map[int]func(Message)
}

// NewStore returns an empty session log.
func NewStore() *Store {
	return &Store{
		now:         time.Now,
		subscribers: map[int]func(Message){},
	}
}

// Append records a message from sender and returns the stored copy.
func (s *Store) Append(sender Sender, text string) (Message, error) {
	return s.append(sender, text, false)
}

// AppendError records a bot message that describes a failure.
func (s *Store) AppendError(text string) (Message, error) {
	return s.append(SenderBot, text, true)
}

func (s *Store) append(sender Sender, text string, isError bool) (Message, error) {
	if strings.TrimSpace(text) == "" {
		return Message{}, ErrEmptyText
	}
	if sender != SenderUser && sender != SenderBot {
		return Message{}, fmt.Errorf("unknown sender %q", sender)
	}

	// subMu is held across the append so subscribers see messages in log order.
	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.mu.Lock()
	ts := s.now()
	// Timestamps never go backwards within a session, even if the wall clock does.
	if ts.Before(s.last) {
		ts = s.last
	}
	s.last = ts

	msg := Message{
		ID:        uuid.New(),
		Sender:    sender,
		Text:      text,
		Timestamp: ts,
		Error:     isError,
	}
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	for _, fn := range s.subscribers {
		fn(msg)
	}
	return msg, nil
}

// Messages returns a snapshot of the log in display order.
func (s *Store) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Last returns the most recent message, if any.
func (s *Store) Last() (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.messages) == 0 {
		return Message{}, false
	}
	return s.messages[len(s.messages)-1], true
}

// Len reports the number of messages appended so far.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Subscribe registers fn to run after every append, in append order.
// fn must not call Subscribe or append to the same store.
// The returned func removes the subscription.
func (s *Store) Subscribe(fn func(Message)) func() {
	if fn == nil {
		return func() {}
	}

	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subscribers, id)
			s.subMu.Unlock()
		})
	}
}
