package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/3xpluto/batch-recorder/internal/client"
	"github.com/3xpluto/batch-recorder/internal/logging"
)

type headerFlags []client.Header

func (h *headerFlags) String() string {
	parts := make([]string, 0, len(*h))
	for _, x := range *h {
		parts = append(parts, x.Key+": "+x.Value)
	}
	return strings.Join(parts, ", ")
}

func (h *headerFlags) Set(s string) error {
	x, err := client.ParseHeader(s)
	if err != nil {
		return err
	}
	*h = append(*h, x)
	return nil
}

func main() {
	var (
		cfg       client.Config
		headers   headerFlags
		file      string
		policy    string
		logLevel  string
		logFormat string
	)
	flag.StringVar(&cfg.Endpoint, "endpoint", "http://127.0.0.1:8765/api/batch", "batch endpoint url")
	flag.StringVar(&cfg.Method, "method", "POST", "HTTP method; GET sends no body")
	flag.StringVar(&file, "file", "-", "JSON array of rows; - reads stdin")
	flag.IntVar(&cfg.BatchSize, "batch-size", 100, "rows per request")
	flag.StringVar(&cfg.BodyTemplate, "template", "", "JSON body template; "+client.BatchPlaceholder+" is replaced by each chunk")
	flag.Var(&headers, "header", "extra request header 'Key: Value' (repeatable)")
	flag.DurationVar(&cfg.Sleep, "sleep", 0, "pause between requests")
	flag.DurationVar(&cfg.Timeout, "timeout", 30*time.Second, "per-request timeout")
	flag.StringVar(&policy, "error-policy", string(client.PolicyAbort), "abort or continue after a failed request")
	flag.StringVar(&logLevel, "log-level", "info", "debug | info | warn | error")
	flag.StringVar(&logFormat, "log-format", "text", "json | text")
	flag.Parse()

	log, err := logging.New(logLevel, logFormat, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sendbatch:", err)
		os.Exit(2)
	}

	rows, err := readRows(file)
	if err != nil {
		log.Error("failed to read rows", slog.String("file", file), slog.String("error", err.Error()))
		os.Exit(2)
	}

	cfg.Headers = headers
	cfg.ErrorPolicy = client.ErrorPolicy(policy)
	s, err := client.New(cfg, log)
	if err != nil {
		log.Error("invalid sender config", slog.String("error", err.Error()))
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sum, err := s.Run(ctx, rows)
	if err != nil {
		log.Error("run stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(sum)

	if sum.FailedRows > 0 || sum.Cancelled {
		os.Exit(1)
	}
}

func readRows(file string) ([]json.RawMessage, error) {
	var r io.Reader = os.Stdin
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	return client.ParseRows(r)
}
