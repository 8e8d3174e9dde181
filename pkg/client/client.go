// Package client is a Go client for the auviewer HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/autonlab/auviewer/pkg/container"
	"github.com/autonlab/auviewer/pkg/detect"
	"github.com/autonlab/auviewer/pkg/export"
	"github.com/autonlab/auviewer/pkg/httpx"
	"github.com/autonlab/auviewer/pkg/query"
	"github.com/autonlab/auviewer/pkg/series"
)

// DefaultEndpoint is used when Config.Endpoint is empty.
const DefaultEndpoint = "http://localhost:8080"

// Config holds configuration for the client
type Config struct {
	Endpoint string        `json:"endpoint"`
	APIKey   string        `json:"api_key"`
	Timeout  time.Duration `json:"timeout"`
}

// Client calls the auviewer HTTP API.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("auviewer: status %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == http.StatusNotFound
}

// New creates a client
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if _, err := url.Parse(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", cfg.Endpoint, err)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Files lists source containers and whether they are processed
func (c *Client) Files(ctx context.Context) ([]query.FileEntry, error) {
	var resp struct {
		Files []query.FileEntry `json:"files"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/files", nil, "", &resp); err != nil {
		return nil, err
	}
	return resp.Files, nil
}

// Series describes every series of file
func (c *Client) Series(ctx context.Context, file string) ([]container.SeriesInfo, error) {
	var resp struct {
		Series []container.SeriesInfo `json:"series"`
	}
	if err := c.do(ctx, http.MethodGet, filePath(file, "series"), nil, "", &resp); err != nil {
		return nil, err
	}
	return resp.Series, nil
}

// FullOutput fetches the overview of a series
func (c *Client) FullOutput(ctx context.Context, file, seriesID string) (*series.Output, error) {
	var out series.Output
	if err := c.do(ctx, http.MethodGet, seriesPath(file, seriesID, "full"), nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RangedOutput fetches a series over [start, stop]
func (c *Client) RangedOutput(ctx context.Context, file, seriesID string, start, stop float64) (*series.Output, error) {
	q := url.Values{}
	q.Set("start", strconv.FormatFloat(start, 'f', -1, 64))
	q.Set("stop", strconv.FormatFloat(stop, 'f', -1, 64))

	var out series.Output
	if err := c.do(ctx, http.MethodGet, seriesPath(file, seriesID, "output")+"?"+q.Encode(), nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DetectEpisodes runs threshold detection on a series
func (c *Client) DetectEpisodes(ctx context.Context, file, seriesID string, req series.DetectRequest) ([]detect.Episode, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var resp query.EpisodesResponse
	if err := c.do(ctx, http.MethodPost, seriesPath(file, seriesID, "episodes"), bytes.NewReader(body), "application/json", &resp); err != nil {
		return nil, err
	}
	return resp.Episodes, nil
}

// Import uploads one CSV table as group of a new container called file
func (c *Client) Import(ctx context.Context, file, group string, csv io.Reader) (*export.ImportResult, error) {
	path := filePath(file, "import") + "?" + url.Values{"group": {group}}.Encode()

	var result export.ImportResult
	if err := c.do(ctx, http.MethodPost, path, csv, "text/csv", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Process asks the server to build levels for file in the background
func (c *Client) Process(ctx context.Context, file string) error {
	return c.do(ctx, http.MethodPost, filePath(file, "process"), nil, "", nil)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var errResp httpx.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&errResp) == nil {
			switch {
			case errResp.Message != "":
				apiErr.Message = errResp.Message
			case errResp.Error != "":
				apiErr.Message = errResp.Error
			}
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func filePath(file, suffix string) string {
	return "/api/v1/files/" + url.PathEscape(file) + "/" + suffix
}

// seriesPath keeps the slashes of a series id; each segment is escaped.
func seriesPath(file, seriesID, suffix string) string {
	segments := strings.Split(seriesID, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return filePath(file, "series/"+strings.Join(segments, "/")+"/"+suffix)
}
