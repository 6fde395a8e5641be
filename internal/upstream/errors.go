package upstream

import "fmt"

// StatusError wraps a non-2xx upstream response so callers can inspect the
// status code and body without re-parsing an error string.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, string(e.Body))
}
