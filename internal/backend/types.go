// Package backend talks to the weather assistant HTTP API.
package backend

import "strings"

// Job statuses reported by the status endpoint.
const (
	StatusPending                = "pending"
	StatusProcessing             = "processing"
	StatusDone                   = "done"
	StatusAgentDoneChatbotFailed = "agent_done_chatbot_failed"
	StatusFailed                 = "failed"
)

// Submission acknowledges an accepted voice upload.
type Submission struct {
	TraceID string `json:"trace_id"`
	Status  string `json:"status"`
}

// Response is the assistant reply nested in a job snapshot.
type Response struct {
	Text             string `json:"text"`
	Error            string `json:"error"`
	GeneratedAt      string `json:"generated_at"`
	ResponseLanguage string `json:"response_language"`
}

// Snapshot is one observation of an asynchronous voice job.
type Snapshot struct {
	TraceID          string    `json:"trace_id"`
	Status           string    `json:"status"`
	Text             string    `json:"text"`
	TextEN           string    `json:"text_en"`
	DetectedLanguage string    `json:"detected_language"`
	Response         *Response `json:"response"`
	Error            string    `json:"error"`
	Warnings         []string  `json:"warnings"`
}

// Done reports a fully successful job.
func (s Snapshot) Done() bool {
	return s.Status == StatusDone
}

// PartiallyDone reports a job whose transcription succeeded but whose reply did not.
func (s Snapshot) PartiallyDone() bool {
	return s.Status == StatusAgentDoneChatbotFailed
}

// Terminal reports whether polling should stop on this snapshot.
func (s Snapshot) Terminal() bool {
	return s.Done() || s.PartiallyDone() || s.Failed()
}

// Failed matches any status naming a failure or error. The partial status is
// checked first because it also contains "failed".
func (s Snapshot) Failed() bool {
	if s.PartiallyDone() {
		return false
	}
	return strings.Contains(s.Status, "failed") || strings.Contains(s.Status, "error")
}

// Transcript returns the user's transcribed words, preferring the original language.
func (s Snapshot) Transcript() string {
	if text := strings.TrimSpace(s.Text); text != "" {
		return text
	}
	return strings.TrimSpace(s.TextEN)
}

// ReplyText returns the assistant reply, or "" when none was produced.
func (s Snapshot) ReplyText() string {
	if s.Response == nil {
		return ""
	}
	return strings.TrimSpace(s.Response.Text)
}

// TextResult is the synchronous reply to a typed query.
type TextResult struct {
	Status       string `json:"status"`
	ResponseText string `json:"response_text"`
	Error        string `json:"error"`
	GeneratedAt  string `json:"generated_at"`
}
