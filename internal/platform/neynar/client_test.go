package neynar

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/castmarket/castmarket/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, userStatus int, castsJSON string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))

		switch {
		case strings.HasPrefix(r.URL.Path, "/farcaster/user/bulk"):
			if userStatus != http.StatusOK {
				w.WriteHeader(userStatus)
				return
			}
			fmt.Fprint(w, `{"users":[{"fid":42,"username":"alice","display_name":"Alice","follower_count":1025,"following_count":10}]}`)
		case strings.HasPrefix(r.URL.Path, "/farcaster/feed/user/42/casts"):
			fmt.Fprint(w, castsJSON)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func castsBody(windowEnd time.Time) string {
	inWindow1 := windowEnd.Add(-time.Hour).Format(time.RFC3339)
	inWindow2 := windowEnd.Add(-23 * time.Hour).Format(time.RFC3339)
	tooNew := windowEnd.Add(time.Hour).Format(time.RFC3339)
	tooOld := windowEnd.Add(-25 * time.Hour).Format(time.RFC3339)
	return fmt.Sprintf(`{"casts":[
		{"hash":"0x1","timestamp":"%s","reactions":{"likes_count":7},"replies":{"count":2}},
		{"hash":"0x2","timestamp":"%s","reactions":{"likes_count":3},"replies":{"count":1}},
		{"hash":"0x3","timestamp":"%s","reactions":{"likes_count":100},"replies":{"count":50}},
		{"hash":"0x4","timestamp":"%s","reactions":{"likes_count":9},"replies":{"count":9}}
	],"next":{"cursor":""}}`, tooNew, inWindow1, inWindow2, tooOld)
}

func newAdapter(srv *httptest.Server) *StatsAdapter {
	client := NewClient(srv.URL, "test-key", 5*time.Second)
	return NewStatsAdapter(client, nil, nil, slog.Default())
}

func TestFetchMetricCastsCountWindow(t *testing.T) {
	windowEnd := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	srv := newTestServer(t, http.StatusOK, castsBody(windowEnd))
	defer srv.Close()

	got, err := newAdapter(srv).FetchMetric(context.Background(), 42, domain.MetricCastsCount, windowEnd)
	require.NoError(t, err)
	// Only the two casts inside (windowEnd-24h, windowEnd] count.
	assert.Equal(t, int64(2), got)
}

func TestFetchMetricLikesAggregation(t *testing.T) {
	windowEnd := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	srv := newTestServer(t, http.StatusOK, castsBody(windowEnd))
	defer srv.Close()

	adapter := newAdapter(srv)

	likes, err := adapter.FetchMetric(context.Background(), 42, domain.MetricLikesGreater, windowEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(7+3+100), likes)

	replies, err := adapter.FetchMetric(context.Background(), 42, domain.MetricRepliesCount, windowEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(2+1+50), replies)
}

func TestFetchMetricFollowers(t *testing.T) {
	windowEnd := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	srv := newTestServer(t, http.StatusOK, castsBody(windowEnd))
	defer srv.Close()

	got, err := newAdapter(srv).FetchMetric(context.Background(), 42, domain.MetricFollowersGain, windowEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(1025), got, "followers metric returns the raw current count")
}

func TestFetchMetricSubjectNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"users":[]}`)
	}))
	defer srv.Close()

	_, err := newAdapter(srv).FetchMetric(context.Background(), 42, domain.MetricCastsCount, time.Now())
	require.ErrorIs(t, err, domain.ErrStatsSubjectNotFound)
}

func TestFetchMetricProviderErrors(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, domain.ErrStatsSubjectNotFound},
		{http.StatusTooManyRequests, domain.ErrStatsRateLimited},
		{http.StatusInternalServerError, domain.ErrStatsUnavailable},
		{http.StatusBadGateway, domain.ErrStatsUnavailable},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("status_%d", tc.status), func(t *testing.T) {
			srv := newTestServer(t, tc.status, "{}")
			defer srv.Close()

			_, err := newAdapter(srv).FetchMetric(context.Background(), 42, domain.MetricCastsCount, time.Now())
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestSnapshotUsesCache(t *testing.T) {
	windowEnd := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if strings.HasPrefix(r.URL.Path, "/farcaster/user/bulk") {
			fmt.Fprint(w, `{"users":[{"fid":42,"username":"alice","follower_count":1025}]}`)
			return
		}
		fmt.Fprint(w, castsBody(windowEnd))
	}))
	defer srv.Close()

	cache := &memCache{entries: make(map[string][]byte)}
	adapter := NewStatsAdapter(NewClient(srv.URL, "k", 5*time.Second), cache, nil, slog.Default())

	_, err := adapter.Snapshot(context.Background(), 42, windowEnd)
	require.NoError(t, err)
	firstCalls := calls

	_, err = adapter.Snapshot(context.Background(), 42, windowEnd)
	require.NoError(t, err)
	assert.Equal(t, firstCalls, calls, "second snapshot is served from the cache")
}

// memCache is a minimal in-memory domain.StatsCache for tests.
type memCache struct {
	entries map[string][]byte
}

func (c *memCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *memCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.entries[key] = value
	return nil
}
