package recorder

import (
	"errors"
	"net/http"
)

var (
	ErrInvalidContentLength = errors.New("invalid content length")
	ErrInvalidJSON          = errors.New("invalid json")
	ErrUnreadableBody       = errors.New("unreadable request body")
	ErrNotFound             = errors.New("not found")
	ErrBindFailure          = errors.New("bind failure")
)

// wire maps request errors to the status and code the client sees.
var wire = []struct {
	err    error
	status int
	code   string
}{
	{ErrInvalidContentLength, http.StatusBadRequest, "invalid_content_length"},
	{ErrInvalidJSON, http.StatusBadRequest, "invalid_json"},
	{ErrUnreadableBody, http.StatusBadRequest, "unreadable_body"},
	{ErrNotFound, http.StatusNotFound, "not_found"},
}

func classify(err error) (int, string) {
	for _, w := range wire {
		if errors.Is(err, w.err) {
			return w.status, w.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}
