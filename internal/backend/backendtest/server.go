// Package backendtest provides a scripted in-process weather assistant backend.
package backendtest

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
)

// Reply is one scripted HTTP response. A string Body is sent verbatim as
// JSON; anything else is marshaled.
type Reply struct {
	Code int
	Body any
}

// Upload records one received voice submission.
type Upload struct {
	Field    string
	Filename string
	Data     []byte
}

// Server is a fake backend served through httptest.
type Server struct {
	srv *httptest.Server

	mu          sync.Mutex
	voice       Reply
	text        Reply
	health      Reply
	statuses    map[string][]Reply
	fetches     map[string]int
	uploads     []Upload
	textQueries []string
	textGate    chan struct{}
}

// New starts a fake backend that is closed when t finishes.
func New(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		voice:    Reply{Code: http.StatusOK, Body: map[string]string{"trace_id": "trace-1", "status": "pending"}},
		text:     Reply{Code: http.StatusOK, Body: map[string]string{"status": "done", "response_text": "ok"}},
		health:   Reply{Code: http.StatusOK, Body: map[string]string{"status": "ok"}},
		statuses: map[string][]Reply{},
		fetches:  map[string]int{},
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/health", s.handleHealth)
	e.POST("/api/voice", s.handleVoice)
	e.GET("/api/stt/:trace_id", s.handleStatus)
	e.POST("/api/text", s.handleText)

	s.srv = httptest.NewServer(e)
	t.Cleanup(s.srv.Close)
	return s
}

// URL is the base URL of the fake backend.
func (s *Server) URL() string {
	return s.srv.URL
}

// SetVoice scripts the reply to POST /api/voice.
func (s *Server) SetVoice(r Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voice = r
}

// SetText scripts the reply to POST /api/text.
func (s *Server) SetText(r Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.text = r
}

// SetHealth scripts the reply to GET /health.
func (s *Server) SetHealth(r Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health = r
}

// ScriptStatus queues replies for GET /api/stt/{traceID}. Replies are served
// in order and the last one repeats. Unscripted ids get 404.
func (s *Server) ScriptStatus(traceID string, replies ...Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[traceID] = append(s.statuses[traceID], replies...)
}

// BlockText holds text replies until the returned func is called.
func (s *Server) BlockText() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.textGate = gate
	s.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// Fetches reports how many status requests were made for traceID.
func (s *Server) Fetches(traceID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches[traceID]
}

// Uploads returns the voice submissions received so far.
func (s *Server) Uploads() []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Upload, len(s.uploads))
	copy(out, s.uploads)
	return out
}

// TextQueries returns the typed queries received so far.
func (s *Server) TextQueries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.textQueries...)
}

func (s *Server) handleHealth(c echo.Context) error {
	s.mu.Lock()
	r := s.health
	s.mu.Unlock()
	return write(c, r)
}

func (s *Server) handleVoice(c echo.Context) error {
	header, err := c.FormFile("audio")
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"detail": "audio file is required"})
	}
	file, err := header.Open()
	if err != nil {
		return err
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.uploads = append(s.uploads, Upload{Field: "audio", Filename: header.Filename, Data: data})
	r := s.voice
	s.mu.Unlock()
	return write(c, r)
}

func (s *Server) handleStatus(c echo.Context) error {
	traceID := c.Param("trace_id")

	s.mu.Lock()
	s.fetches[traceID]++
	queue := s.statuses[traceID]
	var r Reply
	switch len(queue) {
	case 0:
		r = Reply{Code: http.StatusNotFound, Body: map[string]string{"detail": "job not found"}}
	case 1:
		r = queue[0]
	default:
		r = queue[0]
		s.statuses[traceID] = queue[1:]
	}
	s.mu.Unlock()

	return write(c, r)
}

func (s *Server) handleText(c echo.Context) error {
	s.mu.Lock()
	s.textQueries = append(s.textQueries, c.QueryParam("query"))
	gate := s.textGate
	r := s.text
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-c.Request().Context().Done():
			return c.Request().Context().Err()
		}
	}
	return write(c, r)
}

func write(c echo.Context, r Reply) error {
	code := r.Code
	if code == 0 {
		code = http.StatusOK
	}
	switch body := r.Body.(type) {
	case nil:
		return c.NoContent(code)
	case string:
		return c.JSONBlob(code, []byte(body))
	default:
		return c.JSON(code, body)
	}
}
