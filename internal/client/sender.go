// Package client sends rows to a batch endpoint in fixed-size chunks.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ErrorPolicy string

const (
	PolicyAbort    ErrorPolicy = "abort"
	PolicyContinue ErrorPolicy = "continue"
)

const excerptLimit = 512

type Header struct {
	Key   string
	Value string
}

// ParseHeader parses "Key: Value".
func ParseHeader(s string) (Header, error) {
	k, v, ok := strings.Cut(s, ":")
	k = strings.TrimSpace(k)
	if !ok || k == "" {
		return Header{}, fmt.Errorf("header %q must look like 'Key: Value'", s)
	}
	return Header{Key: k, Value: strings.TrimSpace(v)}, nil
}

type Config struct {
	Endpoint     string
	Method       string
	Headers      []Header
	BodyTemplate string
	BatchSize    int
	Sleep        time.Duration
	Timeout      time.Duration
	ErrorPolicy  ErrorPolicy
}

// Outcome is one request's result. Rows are 1-based and inclusive.
type Outcome struct {
	Index    int           `json:"index"`
	StartRow int           `json:"start_row"`
	EndRow   int           `json:"end_row"`
	Status   int           `json:"status,omitempty"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`
	Excerpt  string        `json:"response_excerpt,omitempty"`
}

func (o Outcome) OK() bool { return o.Error == "" }

type Summary struct {
	Requests      int       `json:"requests"`
	SucceededRows int       `json:"succeeded_rows"`
	FailedRows    int       `json:"failed_rows"`
	Aborted       bool      `json:"aborted"`
	AbortError    string    `json:"abort_error,omitempty"`
	Cancelled     bool      `json:"cancelled"`
	Outcomes      []Outcome `json:"outcomes"`
}

type Sender struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger
}

func New(cfg Config, log *slog.Logger) (*Sender, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("endpoint must be an absolute http(s) url: %q", cfg.Endpoint)
	}
	cfg.Method = strings.ToUpper(strings.TrimSpace(cfg.Method))
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Sleep < 0 {
		cfg.Sleep = 0
	}
	switch cfg.ErrorPolicy {
	case "":
		cfg.ErrorPolicy = PolicyAbort
	case PolicyAbort, PolicyContinue:
	default:
		return nil, fmt.Errorf("error policy must be %q or %q", PolicyAbort, PolicyContinue)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sender{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}, nil
}

func (s *Sender) hasContentType() bool {
	for _, h := range s.cfg.Headers {
		if strings.EqualFold(h.Key, "Content-Type") {
			return true
		}
	}
	return false
}

// Run sends every chunk in order. Request failures are reported in the
// Summary; the returned error is reserved for problems that stop the run
// before a request can be built, such as an invalid body template.
func (s *Sender) Run(ctx context.Context, rows []json.RawMessage) (Summary, error) {
	sum := Summary{Outcomes: []Outcome{}}
	includeBody := s.cfg.Method != http.MethodGet

	row := 0
	for i, chunk := range Chunk(rows, s.cfg.BatchSize) {
		if ctx.Err() != nil {
			sum.Cancelled = true
			break
		}

		var body []byte
		if includeBody {
			b, err := RenderBody(s.cfg.BodyTemplate, chunk)
			if err != nil {
				return sum, err
			}
			body = b
		}

		out := s.send(ctx, body, includeBody)
		out.Index = i
		out.StartRow = row + 1
		out.EndRow = row + len(chunk)
		row += len(chunk)

		sum.Requests++
		sum.Outcomes = append(sum.Outcomes, out)
		s.logOutcome(out)

		if out.OK() {
			sum.SucceededRows += len(chunk)
		} else {
			sum.FailedRows += len(chunk)
			if errors.Is(ctx.Err(), context.Canceled) {
				sum.Cancelled = true
				break
			}
			if s.cfg.ErrorPolicy == PolicyAbort {
				sum.Aborted = true
				sum.AbortError = out.Error
				break
			}
		}

		if s.cfg.Sleep > 0 {
			t := time.NewTimer(s.cfg.Sleep)
			select {
			case <-ctx.Done():
				t.Stop()
			case <-t.C:
			}
		}
	}
	return sum, nil
}

func (s *Sender) send(ctx context.Context, body []byte, includeBody bool) Outcome {
	var rdr io.Reader
	if includeBody {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, s.cfg.Method, s.cfg.Endpoint, rdr)
	if err != nil {
		return Outcome{Error: err.Error()}
	}
	req.Header.Set("X-Request-Id", uuid.NewString())
	for _, h := range s.cfg.Headers {
		req.Header.Set(h.Key, h.Value)
	}
	if includeBody && !s.hasContentType() {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := s.http.Do(req)
	out := Outcome{Duration: time.Since(start)}
	if err != nil {
		out.Error = err.Error()
		return out
	}
	defer resp.Body.Close()

	out.Status = resp.StatusCode
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return out
	}
	text, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	out.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
	out.Excerpt = excerpt(string(text), excerptLimit)
	return out
}

func (s *Sender) logOutcome(o Outcome) {
	attrs := []any{
		slog.Int("index", o.Index),
		slog.Int("start_row", o.StartRow),
		slog.Int("end_row", o.EndRow),
		slog.Int("status", o.Status),
		slog.String("duration", o.Duration.String()),
	}
	if o.OK() {
		s.log.Info("batch sent", attrs...)
		return
	}
	attrs = append(attrs, slog.String("error", o.Error))
	if o.Excerpt != "" {
		attrs = append(attrs, slog.String("response_excerpt", o.Excerpt))
	}
	s.log.Warn("batch failed", attrs...)
}
