package client_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/3xpluto/batch-recorder/internal/batchlog"
	"github.com/3xpluto/batch-recorder/internal/client"
	"github.com/3xpluto/batch-recorder/internal/logging"
	"github.com/3xpluto/batch-recorder/internal/recorder"
)

func rows(t *testing.T, s string) []json.RawMessage {
	t.Helper()
	r, err := client.ParseRows(strings.NewReader(s))
	require.NoError(t, err)
	return r
}

func newRecorderServer(t *testing.T) (*httptest.Server, *batchlog.Log) {
	t.Helper()
	log := batchlog.New()
	srv := httptest.NewServer(recorder.New(log, recorder.Options{Logger: logging.Discard()}))
	t.Cleanup(srv.Close)
	return srv, log
}

func TestChunk(t *testing.T) {
	r := rows(t, `[1,2,3,4,5]`)

	sizes := func(chunks [][]json.RawMessage) []int {
		out := []int{}
		for _, c := range chunks {
			out = append(out, len(c))
		}
		return out
	}
	require.Equal(t, []int{2, 2, 1}, sizes(client.Chunk(r, 2)))
	require.Equal(t, []int{5}, sizes(client.Chunk(r, 10)))
	require.Equal(t, []int{1, 1, 1, 1, 1}, sizes(client.Chunk(r, 0)))
	require.Empty(t, client.Chunk(nil, 3))
}

func TestRenderBody(t *testing.T) {
	chunk := rows(t, `[{"a": 1}, {"b": [2, 3]}]`)

	b, err := client.RenderBody("", chunk)
	require.NoError(t, err)
	require.Equal(t, `[{"a":1},{"b":[2,3]}]`, string(b))

	b, err = client.RenderBody(`{ "data": {{batch}}, "copy": {{batch}} }`, chunk)
	require.NoError(t, err)
	require.Equal(t, `{"data":[{"a":1},{"b":[2,3]}],"copy":[{"a":1},{"b":[2,3]}]}`, string(b))

	b, err = client.RenderBody(`{"static": true}`, chunk)
	require.NoError(t, err)
	require.Equal(t, `{"static":true}`, string(b))

	_, err = client.RenderBody(`{"data": {{batch}}`, chunk)
	require.ErrorIs(t, err, client.ErrTemplateInvalidJSON)
}

func TestParseRows(t *testing.T) {
	_, err := client.ParseRows(strings.NewReader(`{"not":"array"}`))
	require.Error(t, err)

	_, err = client.ParseRows(strings.NewReader(`[1] [2]`))
	require.Error(t, err)

	r := rows(t, ` [ {"n": 1.50} ] `)
	require.Equal(t, `{"n": 1.50}`, string(r[0]))
}

func TestParseHeader(t *testing.T) {
	h, err := client.ParseHeader("Authorization: Bearer abc:def")
	require.NoError(t, err)
	require.Equal(t, client.Header{Key: "Authorization", Value: "Bearer abc:def"}, h)

	_, err = client.ParseHeader("no-colon")
	require.Error(t, err)
	_, err = client.ParseHeader(": value")
	require.Error(t, err)
}

func TestNewValidates(t *testing.T) {
	_, err := client.New(client.Config{Endpoint: "/relative"}, nil)
	require.Error(t, err)

	_, err = client.New(client.Config{Endpoint: "http://x/api", ErrorPolicy: "retry"}, nil)
	require.Error(t, err)
}

func TestRunAgainstRecorder(t *testing.T) {
	srv, log := newRecorderServer(t)

	s, err := client.New(client.Config{
		Endpoint:  srv.URL + "/api/batch",
		BatchSize: 2,
	}, logging.Discard())
	require.NoError(t, err)

	sum, err := s.Run(context.Background(), rows(t, `[{"id":1},{"id":2},{"id":3},{"id":4},{"id":5}]`))
	require.NoError(t, err)

	require.Equal(t, 3, sum.Requests)
	require.Equal(t, 5, sum.SucceededRows)
	require.Zero(t, sum.FailedRows)
	require.False(t, sum.Aborted)

	ranges := [][2]int{}
	for _, o := range sum.Outcomes {
		require.Equal(t, http.StatusOK, o.Status)
		ranges = append(ranges, [2]int{o.StartRow, o.EndRow})
	}
	if diff := cmp.Diff([][2]int{{1, 2}, {3, 4}, {5, 5}}, ranges); diff != "" {
		t.Fatalf("row ranges (-want +got):\n%s", diff)
	}

	got := []string{}
	for _, b := range log.Since(0) {
		got = append(got, string(b.Items))
	}
	want := []string{`[{"id":1},{"id":2}]`, `[{"id":3},{"id":4}]`, `[{"id":5}]`}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("recorded batches (-want +got):\n%s", diff)
	}
}

func TestRunWithTemplate(t *testing.T) {
	srv, log := newRecorderServer(t)

	s, err := client.New(client.Config{
		Endpoint:     srv.URL + "/api/batch",
		BodyTemplate: `{"source":"test","rows":{{batch}}}`,
		BatchSize:    10,
	}, logging.Discard())
	require.NoError(t, err)

	_, err = s.Run(context.Background(), rows(t, `[1,2]`))
	require.NoError(t, err)

	b, ok := log.Latest()
	require.True(t, ok)
	require.JSONEq(t, `{"source":"test","rows":[1,2]}`, string(b.Items))
}

func TestRunInvalidTemplateStops(t *testing.T) {
	srv, log := newRecorderServer(t)

	s, err := client.New(client.Config{Endpoint: srv.URL + "/api/batch", BodyTemplate: `{{batch}`}, logging.Discard())
	require.NoError(t, err)

	_, err = s.Run(context.Background(), rows(t, `[1]`))
	require.ErrorIs(t, err, client.ErrTemplateInvalidJSON)
	require.Zero(t, log.Len())
}

// failingServer fails the second request with a long body.
func failingServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var n atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		if n.Add(1) == 2 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(strings.Repeat("x", 2000)))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, &n
}

func TestRunAbortPolicy(t *testing.T) {
	srv, n := failingServer(t)

	s, err := client.New(client.Config{Endpoint: srv.URL, BatchSize: 1}, logging.Discard())
	require.NoError(t, err)

	sum, err := s.Run(context.Background(), rows(t, `[1,2,3,4]`))
	require.NoError(t, err)

	require.Equal(t, int32(2), n.Load())
	require.True(t, sum.Aborted)
	require.Equal(t, "HTTP 500", sum.AbortError)
	require.Equal(t, 1, sum.SucceededRows)
	require.Equal(t, 1, sum.FailedRows)

	failed := sum.Outcomes[1]
	require.Equal(t, http.StatusInternalServerError, failed.Status)
	require.Len(t, failed.Excerpt, 512)
	require.True(t, strings.HasSuffix(failed.Excerpt, "..."))
}

func TestRunContinuePolicy(t *testing.T) {
	srv, n := failingServer(t)

	s, err := client.New(client.Config{Endpoint: srv.URL, BatchSize: 1, ErrorPolicy: client.PolicyContinue}, logging.Discard())
	require.NoError(t, err)

	sum, err := s.Run(context.Background(), rows(t, `[1,2,3,4]`))
	require.NoError(t, err)

	require.Equal(t, int32(4), n.Load())
	require.False(t, sum.Aborted)
	require.Equal(t, 3, sum.SucceededRows)
	require.Equal(t, 1, sum.FailedRows)
}

func TestRunHeadersAndMethods(t *testing.T) {
	type seen struct {
		method, contentType, auth, rid string
		bodyLen                        int
	}
	var (
		mu  sync.Mutex
		got []seen
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		defer mu.Unlock()
		got = append(got, seen{r.Method, r.Header.Get("Content-Type"), r.Header.Get("Authorization"), r.Header.Get("X-Request-Id"), len(b)})
	}))
	defer srv.Close()

	ctx := context.Background()
	r := rows(t, `[1]`)

	s, err := client.New(client.Config{
		Endpoint: srv.URL,
		Method:   "put",
		Headers:  []client.Header{{Key: "Authorization", Value: "Bearer t"}, {Key: "content-type", Value: "application/vnd.batch+json"}},
	}, logging.Discard())
	require.NoError(t, err)
	_, err = s.Run(ctx, r)
	require.NoError(t, err)

	s, err = client.New(client.Config{Endpoint: srv.URL, Method: http.MethodGet}, logging.Discard())
	require.NoError(t, err)
	_, err = s.Run(ctx, r)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	require.Equal(t, http.MethodPut, got[0].method)
	require.Equal(t, "application/vnd.batch+json", got[0].contentType)
	require.Equal(t, "Bearer t", got[0].auth)
	require.Equal(t, 3, got[0].bodyLen)
	require.Len(t, got[0].rid, 36)

	require.Equal(t, http.MethodGet, got[1].method)
	require.Empty(t, got[1].contentType)
	require.Zero(t, got[1].bodyLen)
}

func TestRunCancelled(t *testing.T) {
	srv, log := newRecorderServer(t)

	s, err := client.New(client.Config{Endpoint: srv.URL + "/api/batch"}, logging.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum, err := s.Run(ctx, rows(t, `[1,2,3]`))
	require.NoError(t, err)
	require.True(t, sum.Cancelled)
	require.Zero(t, sum.Requests)
	require.Zero(t, log.Len())
}

func TestRunTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	s, err := client.New(client.Config{Endpoint: url}, logging.Discard())
	require.NoError(t, err)

	sum, err := s.Run(context.Background(), rows(t, `[1]`))
	require.NoError(t, err)
	require.True(t, sum.Aborted)
	require.Zero(t, sum.Outcomes[0].Status)
	require.NotEmpty(t, sum.AbortError)
}
