// Package ipc carries remote-control commands to the session owner over a unix socket.
package ipc

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Commands understood by the session owner.
const (
	CommandStatus = "status"
	CommandToggle = "toggle"
	CommandStop   = "stop"
	CommandCancel = "cancel"
	CommandAsk    = "ask"
)

// MaxRequestBytes bounds one encoded request line, newline included.
const MaxRequestBytes = 16 << 10

var (
	// ErrRequestTooLarge is returned for request lines over MaxRequestBytes.
	ErrRequestTooLarge = errors.New("ipc request too large")
	errMissingCommand  = errors.New("missing command")
	errAskWithoutText  = errors.New("ask requires query text")
)

// Request is one JSON line sent by a client. Text is only used by ask.
type Request struct {
	Command string `json:"command"`
	Text    string `json:"text,omitempty"`
}

// Response is the owner's single JSON line reply.
type Response struct {
	OK      bool   `json:"ok"`
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// normalize trims the request and rejects shapes no handler can serve.
// Unknown commands pass through so the owner can name them in its reply.
func (r Request) normalize() (Request, error) {
	r.Command = strings.ToLower(strings.TrimSpace(r.Command))
	r.Text = strings.TrimSpace(r.Text)
	if r.Command == "" {
		return r, errMissingCommand
	}
	if r.Command == CommandAsk && r.Text == "" {
		return r, errAskWithoutText
	}
	if !utf8.ValidString(r.Text) {
		return r, fmt.Errorf("%s text is not valid UTF-8", r.Command)
	}
	return r, nil
}

// readLine reads one newline-terminated frame of at most limit bytes.
func readLine(reader *bufio.Reader, limit int) ([]byte, error) {
	var line []byte
	for {
		chunk, err := reader.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > limit {
			return nil, ErrRequestTooLarge
		}
		if err == nil {
			return line, nil
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return nil, err
		}
	}
}
