package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"basegraph.app/committelemetry/internal/model"
	"basegraph.app/committelemetry/internal/ping"
)

type Status string

const (
	StatusSent    Status = "SENT"
	StatusSkipped Status = "SKIPPED"
	StatusFailed  Status = "FAILED"
)

type FailureKind string

const (
	// FailureTransport may succeed on retry: timeouts, connection errors,
	// throttling and server errors.
	FailureTransport FailureKind = "TRANSPORT"
	// FailureContent will fail again with the same document.
	FailureContent FailureKind = "CONTENT"
)

// Result is the outcome of one delivery attempt.
type Result struct {
	Status     Status
	Failure    FailureKind // set only when Status is FAILED
	Reason     string
	StatusCode int
	DocumentID string
}

func (r Result) Succeeded() bool {
	return r.Status == StatusSent || r.Status == StatusSkipped
}

func (r Result) Retryable() bool {
	return r.Status == StatusFailed && r.Failure == FailureTransport
}

type Config struct {
	BaseURL    string
	Namespace  string
	DocType    string
	DocVersion string
	Timeout    time.Duration
	Gzip       bool
}

const (
	defaultTimeout = 30 * time.Second
	maxReasonBytes = 512
)

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its Timeout is ignored;
// the per-call timeout comes from Config.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// Client submits pings to the telemetry ingestion service. Each Send is a
// single attempt; retry policy belongs to the caller.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		cfg:  cfg,
		http: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SubmissionURL is where a document with the given id is PUT.
func (c *Client) SubmissionURL(docID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", c.cfg.BaseURL, c.cfg.Namespace, c.cfg.DocType, c.cfg.DocVersion, docID)
}

// Send delivers p once. In dry-run the ping is still serialized and
// validated but nothing goes over the network.
//
// The request runs on a context detached from ctx's cancellation so a
// shutdown never abandons a half-sent ping; only the configured timeout
// bounds it.
func (c *Client) Send(ctx context.Context, p model.Ping, dryRun bool) Result {
	docID := ping.DocumentID(p.Push.Key())

	body, err := ping.Marshal(p)
	if err != nil {
		return Result{
			Status:     StatusFailed,
			Failure:    FailureContent,
			Reason:     err.Error(),
			DocumentID: docID,
		}
	}

	if dryRun {
		slog.DebugContext(ctx, "dry run, ping not sent",
			"document_id", docID,
			"bytes", len(body))
		return Result{Status: StatusSkipped, Reason: "dry run", DocumentID: docID}
	}

	res := c.put(ctx, docID, body)
	res.DocumentID = docID
	return res
}

func (c *Client) put(ctx context.Context, docID string, body []byte) Result {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Timeout)
	defer cancel()

	payload := body
	if c.cfg.Gzip {
		compressed, err := gzipBytes(body)
		if err != nil {
			return Result{Status: StatusFailed, Failure: FailureContent, Reason: err.Error()}
		}
		payload = compressed
	}

	url := c.SubmissionURL(docID)
	req, err := http.NewRequestWithContext(sendCtx, http.MethodPut, url, bytes.NewReader(payload))
	if err != nil {
		return Result{Status: StatusFailed, Failure: FailureContent, Reason: fmt.Sprintf("building request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if c.cfg.Gzip {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		reason := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			reason = fmt.Sprintf("timed out after %s: %v", c.cfg.Timeout, err)
		}
		return Result{Status: StatusFailed, Failure: FailureTransport, Reason: reason}
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxReasonBytes))
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		slog.DebugContext(ctx, "ping delivered", "url", url, "status", resp.StatusCode)
		return Result{Status: StatusSent, StatusCode: resp.StatusCode}
	}

	return Result{
		Status:     StatusFailed,
		Failure:    classifyStatus(resp.StatusCode),
		Reason:     fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))),
		StatusCode: resp.StatusCode,
	}
}

// classifyStatus sorts non-2xx responses. Request timeout and throttling
// are the only 4xx worth retrying.
func classifyStatus(code int) FailureKind {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return FailureTransport
	case code >= 500:
		return FailureTransport
	default:
		return FailureContent
	}
}

func gzipBytes(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return nil, fmt.Errorf("gzip ping: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip ping: %w", err)
	}
	return buf.Bytes(), nil
}
