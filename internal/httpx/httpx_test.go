package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestStatusWriterDefaultsTo200(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &StatusWriter{ResponseWriter: rec}

	_, err := sw.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, sw.Status)
	require.Equal(t, 5, sw.Bytes)
}

func TestStatusWriterKeepsFirstStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &StatusWriter{ResponseWriter: rec}
	require.Equal(t, http.StatusOK, sw.Code())

	sw.WriteHeader(http.StatusTeapot)
	sw.WriteHeader(http.StatusInternalServerError)
	require.Equal(t, http.StatusTeapot, sw.Code())
	require.Equal(t, http.StatusTeapot, rec.Code)
}

func TestErrorBody(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, http.StatusRequestEntityTooLarge, "request_too_large", map[string]any{"max_bytes": 10, "error": "ignored"})

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	want := map[string]any{"error": "request_too_large", "max_bytes": float64(10)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("body mismatch (-want +got):\n%s", diff)
	}
}
