package hgmo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"basegraph.app/committelemetry/internal/model"
)

// ErrNotFound means the repository has no such push or changeset.
var ErrNotFound = errors.New("not found in pushlog")

// APIError represents a non-2xx response other than 404.
type APIError struct {
	StatusCode int
	Body       string // first 512 bytes
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// IsTransient reports whether a pushlog error is worth retrying: network
// failures, timeouts, throttling, server errors and responses cut short.
// Request errors are judged by their cause, so a malformed repository URL
// is permanent.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrNotFound) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests ||
			apiErr.StatusCode == http.StatusRequestTimeout ||
			apiErr.StatusCode >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) {
		return true
	}
	// *url.Error is itself a net.Error; look past it.
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

type Config struct {
	Timeout  time.Duration
	PageSize int
}

const (
	defaultTimeout  = 30 * time.Second
	defaultPageSize = 50
	maxBodySnippet  = 512
)

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// Client reads the hgweb pushlog and changeset JSON APIs.
type Client struct {
	http     *http.Client
	pageSize int
}

func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	c := &Client{
		http:     &http.Client{Timeout: cfg.Timeout},
		pageSize: cfg.PageSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) PageSize() int {
	return c.pageSize
}

// pushlogPage is a json-pushes version 2 response. Entries stay raw so the
// normalizer sees exactly what the server sent.
type pushlogPage struct {
	LastPushID int64                      `json:"lastpushid"`
	Pushes     map[string]json.RawMessage `json:"pushes"`
}

// Changeset is the subset of json-rev the dump tool needs.
type Changeset struct {
	Node     string    `json:"node"`
	Desc     string    `json:"desc"`
	User     string    `json:"user"`
	Parents  []string  `json:"parents"`
	PushID   int64     `json:"pushid"`
	PushDate []float64 `json:"pushdate"`
	PushUser string    `json:"pushuser"`
}

// FetchPush returns the pushlog entry for one push, with full changeset
// details.
func (c *Client) FetchPush(ctx context.Context, repoURL string, pushID int64) (model.RawPushRecord, error) {
	if pushID <= 0 {
		return model.RawPushRecord{}, fmt.Errorf("push %d: %w", pushID, ErrNotFound)
	}
	page, err := c.fetchRange(ctx, repoURL, pushID-1, pushID)
	if err != nil {
		return model.RawPushRecord{}, fmt.Errorf("fetching push %d: %w", pushID, err)
	}
	body, ok := page.Pushes[strconv.FormatInt(pushID, 10)]
	if !ok {
		return model.RawPushRecord{}, fmt.Errorf("push %d in %s: %w", pushID, repoURL, ErrNotFound)
	}
	return model.RawPushRecord{
		Source:  model.SourcePushlog,
		RepoURL: repoURL,
		PushID:  pushID,
		Body:    body,
	}, nil
}

// FetchPushes returns every push in the inclusive range [start, end] that
// exists, in ascending id order, reading PageSize pushes per request.
func (c *Client) FetchPushes(ctx context.Context, repoURL string, start, end int64) ([]model.RawPushRecord, error) {
	if start <= 0 || end < start {
		return nil, fmt.Errorf("invalid push range %d..%d", start, end)
	}

	var records []model.RawPushRecord
	for lo := start; ; {
		hi := pageEnd(lo, end, c.pageSize)

		page, err := c.fetchRange(ctx, repoURL, lo-1, hi)
		if err != nil {
			return nil, fmt.Errorf("fetching pushes %d..%d: %w", lo, hi, err)
		}

		ids := make([]int64, 0, len(page.Pushes))
		for key := range page.Pushes {
			id, err := strconv.ParseInt(key, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("pushlog returned non-numeric push id %q", key)
			}
			if id >= lo && id <= hi {
				ids = append(ids, id)
			}
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		for _, id := range ids {
			records = append(records, model.RawPushRecord{
				Source:  model.SourcePushlog,
				RepoURL: repoURL,
				PushID:  id,
				Body:    page.Pushes[strconv.FormatInt(id, 10)],
			})
		}

		if hi == end || (page.LastPushID > 0 && hi >= page.LastPushID) {
			break
		}
		lo = hi + 1
	}
	return records, nil
}

// pageEnd is the last id of the page starting at lo, capped at end without
// overflowing.
func pageEnd(lo, end int64, size int) int64 {
	if end-lo < int64(size) {
		return end
	}
	return lo + int64(size) - 1
}

// LastPushID returns the newest push id in the repository. It doubles as a
// reachability check at startup.
func (c *Client) LastPushID(ctx context.Context, repoURL string) (int64, error) {
	page, err := c.fetchRange(ctx, repoURL, 0, 0)
	if err != nil {
		return 0, fmt.Errorf("reading pushlog head of %s: %w", repoURL, err)
	}
	return page.LastPushID, nil
}

// FetchChangeset reads one changeset, including the push it landed in.
func (c *Client) FetchChangeset(ctx context.Context, repoURL, node string) (Changeset, error) {
	node = strings.TrimSpace(node)
	if node == "" {
		return Changeset{}, fmt.Errorf("empty changeset id: %w", ErrNotFound)
	}

	var cs Changeset
	if err := c.getJSON(ctx, joinRepo(repoURL, "json-rev/"+url.PathEscape(node)), &cs); err != nil {
		return Changeset{}, fmt.Errorf("fetching changeset %s: %w", node, err)
	}
	if cs.Node == "" {
		return Changeset{}, fmt.Errorf("changeset %s: response has no node", node)
	}
	return cs, nil
}

// fetchRange reads pushes with after < id <= through.
func (c *Client) fetchRange(ctx context.Context, repoURL string, after, through int64) (pushlogPage, error) {
	query := url.Values{}
	query.Set("version", "2")
	query.Set("full", "1")
	query.Set("startID", strconv.FormatInt(after, 10))
	query.Set("endID", strconv.FormatInt(through, 10))

	var page pushlogPage
	if err := c.getJSON(ctx, joinRepo(repoURL, "json-pushes")+"?"+query.Encode(), &page); err != nil {
		return pushlogPage{}, err
	}
	return page, nil
}

func (c *Client) getJSON(ctx context.Context, fullURL string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodySnippet))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decoding %s: %w", fullURL, err)
	}
	return nil
}

func joinRepo(repoURL, path string) string {
	return strings.TrimRight(repoURL, "/") + "/" + path
}
