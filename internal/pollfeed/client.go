// Package pollfeed fetches polling data from an HTTP endpoint and cleans it
// into poll records.
package pollfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rewired-gh/evforecast/internal/models"
)

// EnvSourceURL names the environment variable consulted when no URL is configured.
const EnvSourceURL = "POLLING_API_URL"

var ErrNoSource = errors.New("no polling feed URL configured")

// Client fetches a polling feed.
type Client struct {
	sourceURL      string
	httpClient     *http.Client
	maxRetries     int
	retryDelayBase time.Duration
}

// ClientConfig holds retry tuning.
type ClientConfig struct {
	MaxRetries     int
	RetryDelayBase time.Duration
}

// NewClient creates a feed client. An empty sourceURL falls back to $POLLING_API_URL.
func NewClient(sourceURL string, timeout time.Duration, cfg ClientConfig) *Client {
	if sourceURL == "" {
		sourceURL = os.Getenv(EnvSourceURL)
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = time.Second
	}
	return &Client{
		sourceURL:      sourceURL,
		httpClient:     &http.Client{Timeout: timeout},
		maxRetries:     cfg.MaxRetries,
		retryDelayBase: cfg.RetryDelayBase,
	}
}

// SourceURL returns the resolved feed URL, possibly empty.
func (c *Client) SourceURL() string {
	return c.sourceURL
}

// Fetch downloads the feed and returns the cleaned polls. URLs whose path
// ends in .csv are parsed as CSV; anything else as a JSON array of objects.
func (c *Client) Fetch(ctx context.Context) ([]models.PollRecord, Report, error) {
	if c.sourceURL == "" {
		return nil, Report{}, ErrNoSource
	}
	u, err := url.Parse(c.sourceURL)
	if err != nil {
		return nil, Report{}, fmt.Errorf("failed to parse URL: %w", err)
	}

	resp, err := c.doRequest(ctx, u.String())
	if err != nil {
		return nil, Report{}, fmt.Errorf("failed to fetch polling data: %w", err)
	}
	defer resp.Body.Close()

	var raw []map[string]string
	if strings.HasSuffix(strings.ToLower(u.Path), ".csv") {
		raw, err = decodeCSV(resp.Body)
	} else {
		raw, err = decodeJSON(resp.Body)
	}
	if err != nil {
		return nil, Report{}, fmt.Errorf("failed to decode polling data: %w", err)
	}

	polls, report := Clean(raw)
	return polls, report, nil
}

func decodeJSON(r io.Reader) ([]map[string]string, error) {
	var items []map[string]any
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return nil, err
	}
	rows := make([]map[string]string, 0, len(items))
	for _, item := range items {
		row := make(map[string]string, len(item))
		for k, v := range item {
			switch val := v.(type) {
			case nil:
			case string:
				row[k] = val
			case float64:
				row[k] = fmt.Sprintf("%v", val)
			default:
				row[k] = fmt.Sprint(val)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// doRequest performs a GET with linear-backoff retry on transport errors and 5xx.
func (c *Client) doRequest(ctx context.Context, urlStr string) (*http.Response, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json, text/csv")

		resp, err := c.httpClient.Do(req)
		switch {
		case err != nil:
			lastErr = err
		case resp.StatusCode >= 500:
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			resp.Body.Close()
			return nil, fmt.Errorf("request rejected: %d", resp.StatusCode)
		default:
			return resp, nil
		}

		if i == c.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.retryDelayBase * time.Duration(i+1)):
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
