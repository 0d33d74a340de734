package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rbright/nimbus/internal/version"
)

const (
	voicePath      = "/api/voice"
	statusPathBase = "/api/stt/"
	textPath       = "/api/text"

	audioField    = "audio"
	audioFilename = "voice_query.wav"

	maxErrorBody = 64 << 10
)

// Options configures a Client.
type Options struct {
	BaseURL        string
	HealthPath     string
	RequestTimeout time.Duration
	HTTPClient     *http.Client
	Logger         *slog.Logger
}

// Client issues single-shot backend requests. It never retries.
type Client struct {
	baseURL    string
	healthPath string
	http       *http.Client
	logger     *slog.Logger
}

// NewClient validates opts and builds a backend client.
func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("backend url is empty")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse backend url %q: %w", base, err)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.RequestTimeout}
	}

	healthPath := strings.TrimSpace(opts.HealthPath)
	if healthPath == "" {
		healthPath = "/health"
	}

	return &Client{
		baseURL:    base,
		healthPath: healthPath,
		http:       httpClient,
		logger:     opts.Logger,
	}, nil
}

// SubmitAudio uploads one WAV recording and returns the accepted job.
func (c *Client) SubmitAudio(ctx context.Context, wav []byte) (Submission, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile(audioField, audioFilename)
	if err != nil {
		return Submission{}, submissionError("submit audio", 0, transportDetail(err))
	}
	if _, err := part.Write(wav); err != nil {
		return Submission{}, submissionError("submit audio", 0, transportDetail(err))
	}
	if err := writer.Close(); err != nil {
		return Submission{}, submissionError("submit audio", 0, transportDetail(err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+voicePath, &body)
	if err != nil {
		return Submission{}, submissionError("submit audio", 0, transportDetail(err))
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var out Submission
	if err := c.do(req, "submit audio", submissionError, &out); err != nil {
		return Submission{}, err
	}
	if strings.TrimSpace(out.TraceID) == "" {
		return Submission{}, submissionError("submit audio", 0, "backend response is missing trace_id")
	}

	c.log("voice submitted", "trace_id", out.TraceID, "status", out.Status, "bytes", len(wav))
	return out, nil
}

// FetchStatus reads the current snapshot of a voice job. A job the backend
// does not know yet is reported as pending.
func (c *Client) FetchStatus(ctx context.Context, traceID string) (Snapshot, error) {
	endpoint := c.baseURL + statusPathBase + url.PathEscape(traceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Snapshot{}, fetchError("fetch status", 0, transportDetail(err))
	}

	resp, err := c.send(req)
	if err != nil {
		return Snapshot{}, fetchError("fetch status", 0, transportDetail(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return Snapshot{TraceID: traceID, Status: StatusPending}, nil
	}

	var out Snapshot
	if err := decodeResponse(resp, "fetch status", fetchError, &out); err != nil {
		return Snapshot{}, err
	}
	if out.TraceID == "" {
		out.TraceID = traceID
	}
	return out, nil
}

// SubmitText sends a typed query and waits for the synchronous reply.
func (c *Client) SubmitText(ctx context.Context, query string) (TextResult, error) {
	endpoint := c.baseURL + textPath + "?" + url.Values{"query": {query}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return TextResult{}, submissionError("submit text", 0, transportDetail(err))
	}

	var out TextResult
	if err := c.do(req, "submit text", submissionError, &out); err != nil {
		return TextResult{}, err
	}

	c.log("text answered", "status", out.Status, "has_response", out.ResponseText != "")
	return out, nil
}

// Health probes the backend readiness endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.healthPath, nil)
	if err != nil {
		return fetchError("health", 0, transportDetail(err))
	}
	resp, err := c.send(req)
	if err != nil {
		return fetchError("health", 0, transportDetail(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fetchError("health", resp.StatusCode, errorDetail(resp))
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	return nil
}

// Endpoint returns the configured base URL.
func (c *Client) Endpoint() string {
	return c.baseURL
}

type errorFactory func(op string, statusCode int, detail string) *APIError

func (c *Client) do(req *http.Request, op string, newErr errorFactory, out any) error {
	resp, err := c.send(req)
	if err != nil {
		return newErr(op, 0, transportDetail(err))
	}
	defer resp.Body.Close()
	return decodeResponse(resp, op, newErr, out)
}

func (c *Client) send(req *http.Request) (*http.Response, error) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	return c.http.Do(req)
}

func decodeResponse(resp *http.Response, op string, newErr errorFactory, out any) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newErr(op, resp.StatusCode, errorDetail(resp))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return newErr(op, resp.StatusCode, fmt.Sprintf("decode %s response: %v", op, err))
	}
	return nil
}

// errorDetail prefers the JSON "detail" field and falls back to the HTTP status text.
func errorDetail(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Detail) > 0 {
		var text string
		if err := json.Unmarshal(payload.Detail, &text); err == nil {
			if strings.TrimSpace(text) != "" {
				return text
			}
		} else if string(payload.Detail) != "null" {
			var compact bytes.Buffer
			if err := json.Compact(&compact, payload.Detail); err == nil {
				return compact.String()
			}
		}
	}

	if resp.Status != "" {
		return resp.Status
	}
	return fmt.Sprintf("HTTP %d", resp.StatusCode)
}

func (c *Client) log(msg string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Debug(msg, args...)
}
