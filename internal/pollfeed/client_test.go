package pollfeed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/evforecast/internal/models"
)

func TestClean(t *testing.T) {
	rows := []map[string]string{
		{"state_name": "Arizona", "support_a": "47", "support_b": "51", "weight": "8", "moe": "3.0"},
		{"state_name": "Georgia", "support_a": "48", "support_b": "51", "weight": "", "moe": "3.0"},
		{"state_name": "Nevada", "support_a": "abc", "support_b": "48", "weight": "8", "moe": "3.0"},
		{"state_name": "", "support_a": "47", "support_b": "51", "weight": "8", "moe": "3.0"},
		{"state_name": "Ohio", "support_a": "47", "support_b": "51", "weight": "11", "moe": "3.0"},
		{"state_name": "Iowa", "support_a": "47", "support_b": "51", "weight": "7.9", "moe": "-1"},
		{"state_name": "Maine CD2", "support_a": "41", "support_b": "50", "weight": "5.6", "moe": "3"},
	}

	polls, report := Clean(rows)

	assert.Equal(t, Report{Rows: 7, Kept: 3, Incomplete: 2, Invalid: 2}, report)
	require.Len(t, polls, 3)
	assert.Equal(t, "Arizona", polls[0].StateName)
	assert.Equal(t, 1, polls[1].Weight, "missing weight defaults to 1")
	assert.Equal(t, 5, polls[2].Weight, "fractional weight is truncated")
}

func TestClean_ExtremeValues(t *testing.T) {
	rows := []map[string]string{
		{"state_name": "Ohio", "support_a": "47", "support_b": "51", "weight": "1e300", "moe": "3"},
		{"state_name": "Ohio", "support_a": "47", "support_b": "51", "weight": "-1e300", "moe": "3"},
		{"state_name": "Ohio", "support_a": "47", "support_b": "51", "weight": "10.9", "moe": "500"},
		{"state_name": "Ohio", "support_a": "47", "support_b": "51", "weight": "Inf", "moe": "3"},
		{"state_name": "Ohio", "support_a": "47", "support_b": "51", "weight": "2", "moe": "+Inf"},
		{"state_name": "Ohio", "support_a": "47", "support_b": "51", "weight": "10.9", "moe": "3"},
	}

	polls, report := Clean(rows)

	// An infinite weight is unparseable and falls back to 1; an infinite moe drops the row.
	assert.Equal(t, Report{Rows: 6, Kept: 2, Incomplete: 1, Invalid: 3}, report)
	require.Len(t, polls, 2)
	assert.Equal(t, 1, polls[0].Weight)
	assert.Equal(t, 10, polls[1].Weight)
}

func TestFetch_JSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"state_name": "Wisconsin", "support_a": 49, "support_b": 49, "weight": 8, "moe": 3.0},
			{"state_name": "Wisconsin", "support_a": "51", "support_b": "45", "weight": null, "moe": "4.8"}
		]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/polls", time.Second, ClientConfig{MaxRetries: 1})
	polls, report, err := c.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Kept)
	assert.Equal(t, models.PollRecord{
		StateName: "Wisconsin",
		Poll:      models.Poll{SupportA: 51, SupportB: 45, Weight: 1, MarginOfError: 4.8},
	}, polls[1])
}

func TestFetch_CSV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("state_name,support_a,support_b,weight,moe\nNevada,48,49,8,3.0\n"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/data/polls.csv", time.Second, ClientConfig{MaxRetries: 1})
	polls, _, err := c.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, polls, 1)
	assert.Equal(t, "Nevada", polls[0].StateName)
}

func TestFetch_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, ClientConfig{MaxRetries: 3, RetryDelayBase: time.Millisecond})
	_, _, err := c.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetch_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, ClientConfig{MaxRetries: 3, RetryDelayBase: time.Millisecond})
	_, _, err := c.Fetch(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetch_NoSource(t *testing.T) {
	t.Setenv(EnvSourceURL, "")
	c := NewClient("", time.Second, ClientConfig{})
	_, _, err := c.Fetch(context.Background())
	assert.True(t, errors.Is(err, ErrNoSource))
}

func TestNewClient_EnvFallback(t *testing.T) {
	t.Setenv(EnvSourceURL, "https://example.com/polls.csv")
	c := NewClient("", time.Second, ClientConfig{})
	assert.Equal(t, "https://example.com/polls.csv", c.SourceURL())
}
