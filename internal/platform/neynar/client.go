// Package neynar implements the stats source adapter over the Neynar
// Farcaster API. It is a pure reader: nothing here touches the ledger.
package neynar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/castmarket/castmarket/internal/domain"
)

const (
	// DefaultBaseURL is the Neynar v2 API root.
	DefaultBaseURL = "https://api.neynar.com/v2"

	// castsPageLimit is the page size for the user casts feed.
	castsPageLimit = 150

	// maxCastPages bounds pagination for a single metric query. A subject
	// casting more than maxCastPages*castsPageLimit times in 24h is beyond
	// anything the market accepts as a prediction target.
	maxCastPages = 10
)

// Client is the REST client for the Neynar Farcaster API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a Client for the given API root and key. A zero baseURL
// falls back to DefaultBaseURL. Requests are rate-limited client-side to stay
// under the provider's quota.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(5), 10),
	}
}

// GetUser fetches a single user by FID.
func (c *Client) GetUser(ctx context.Context, fid int64) (APIUser, error) {
	params := url.Values{}
	params.Set("fids", strconv.FormatInt(fid, 10))

	body, err := c.doGet(ctx, "/farcaster/user/bulk?"+params.Encode())
	if err != nil {
		return APIUser{}, fmt.Errorf("neynar: get user %d: %w", fid, err)
	}

	var resp usersResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return APIUser{}, fmt.Errorf("neynar: decode user %d: %w", fid, err)
	}
	if len(resp.Users) == 0 {
		return APIUser{}, fmt.Errorf("neynar: user %d: %w", fid, domain.ErrStatsSubjectNotFound)
	}
	return resp.Users[0], nil
}

// recentCasts returns the subject's casts inside the 24-hour window ending at
// windowEnd, paging through the feed until it walks past the window start.
func (c *Client) recentCasts(ctx context.Context, fid int64, windowEnd time.Time) ([]APICast, error) {
	windowStart := windowEnd.Add(-24 * time.Hour)

	var out []APICast
	cursor := ""
	for page := 0; page < maxCastPages; page++ {
		params := url.Values{}
		params.Set("limit", strconv.Itoa(castsPageLimit))
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		path := fmt.Sprintf("/farcaster/feed/user/%d/casts?%s", fid, params.Encode())

		body, err := c.doGet(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("neynar: casts for %d: %w", fid, err)
		}

		var resp castsResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("neynar: decode casts for %d: %w", fid, err)
		}

		done := false
		for _, cast := range resp.Casts {
			if cast.Timestamp.After(windowEnd) {
				continue // newer than the frozen window
			}
			if cast.Timestamp.Before(windowStart) {
				done = true // feed is newest-first; everything further is older
				break
			}
			out = append(out, cast)
		}

		if done || resp.Next.Cursor == "" || len(resp.Casts) == 0 {
			break
		}
		cursor = resp.Next.Cursor
	}

	return out, nil
}

// doGet performs a rate-limited GET and maps HTTP failures onto the domain's
// stats error taxonomy.
func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStatsUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", domain.ErrStatsUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.ErrStatsSubjectNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, domain.ErrStatsRateLimited
	default:
		return nil, fmt.Errorf("%w: status %d", domain.ErrStatsUnavailable, resp.StatusCode)
	}
}
