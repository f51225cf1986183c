package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// BatchPlaceholder is replaced by the chunk's JSON array in body templates.
const BatchPlaceholder = "{{batch}}"

var ErrTemplateInvalidJSON = errors.New("body_template_invalid_json")

// ParseRows reads a JSON array of rows. Each element is kept verbatim.
func ParseRows(r io.Reader) ([]json.RawMessage, error) {
	dec := json.NewDecoder(r)
	var rows []json.RawMessage
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("rows must be a JSON array: %w", err)
	}
	if dec.More() {
		return nil, errors.New("rows must be a single JSON array")
	}
	return rows, nil
}

// Chunk splits rows into consecutive slices of at most size rows.
func Chunk(rows []json.RawMessage, size int) [][]json.RawMessage {
	if size <= 0 {
		size = 1
	}
	out := make([][]json.RawMessage, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		out = append(out, rows[start:end])
	}
	return out
}

// RenderBody builds the request body for one chunk. A blank template sends
// the chunk array itself. Otherwise each placeholder is substituted and the
// result must be valid JSON; it is sent compacted.
func RenderBody(template string, chunk []json.RawMessage) ([]byte, error) {
	arr, err := json.Marshal(chunk)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(template) == "" {
		return arr, nil
	}

	rendered := strings.ReplaceAll(template, BatchPlaceholder, string(arr))
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(rendered)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTemplateInvalidJSON, err)
	}
	if !json.Valid(buf.Bytes()) {
		return nil, ErrTemplateInvalidJSON
	}
	return buf.Bytes(), nil
}

// excerpt trims s to at most limit bytes, marking the cut with "...".
// The limit counts bytes, not runes; the cut never splits a rune.
func excerpt(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit - 3
	if cut < 0 {
		cut = 0
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
