package recorder

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

var emptyObject = json.RawMessage(`{}`)

type tooLargeError struct {
	limit int64
}

func (e *tooLargeError) Error() string {
	return fmt.Sprintf("request body exceeds %d bytes", e.limit)
}

// readBatch validates the declared length, reads the body and checks that it
// holds exactly one JSON value. An absent or empty body reads as {}. It
// returns the value with surrounding whitespace trimmed and the raw size.
func readBatch(r *http.Request) (json.RawMessage, int, error) {
	if vals, ok := r.Header["Content-Length"]; ok && !validContentLength(vals) {
		return nil, 0, ErrInvalidContentLength
	}

	if r.Body == nil || r.Body == http.NoBody {
		return emptyObject, 0, nil
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, 0, &tooLargeError{limit: maxErr.Limit}
		}
		return nil, 0, fmt.Errorf("%w: %v", ErrUnreadableBody, err)
	}
	if len(raw) == 0 {
		return emptyObject, 0, nil
	}

	trimmed := bytes.TrimSpace(raw)
	if !json.Valid(trimmed) {
		return nil, len(raw), ErrInvalidJSON
	}
	return json.RawMessage(trimmed), len(raw), nil
}

// validContentLength accepts one or more identical non-negative decimal
// values that fit in an int64. Leading zeros are fine. A blank header
// counts as absent.
func validContentLength(vals []string) bool {
	first := ""
	for i, v := range vals {
		v = strings.TrimSpace(v)
		if i == 0 {
			first = v
		} else if v != first {
			return false
		}
	}
	if first == "" {
		return len(vals) <= 1
	}
	for i := 0; i < len(first); i++ {
		if first[i] < '0' || first[i] > '9' {
			return false
		}
	}
	_, err := strconv.ParseInt(first, 10, 64)
	return err == nil
}
