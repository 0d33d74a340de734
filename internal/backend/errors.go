package backend

import "errors"

var (
	// ErrSubmission marks failures of the voice or text submit endpoints.
	ErrSubmission = errors.New("backend submission failed")
	// ErrFetch marks failures of the job status endpoint.
	ErrFetch = errors.New("backend status fetch failed")
)

// APIError carries the detail extracted from a failed backend call.
type APIError struct {
	Op         string
	StatusCode int
	Detail     string

	kind error
}

func (e *APIError) Error() string {
	return e.Detail
}

func (e *APIError) Unwrap() error {
	return e.kind
}

func submissionError(op string, statusCode int, detail string) *APIError {
	return &APIError{Op: op, StatusCode: statusCode, Detail: detail, kind: ErrSubmission}
}

func fetchError(op string, statusCode int, detail string) *APIError {
	return &APIError{Op: op, StatusCode: statusCode, Detail: detail, kind: ErrFetch}
}

func transportDetail(err error) string {
	return err.Error()
}
