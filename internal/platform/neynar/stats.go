package neynar

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/castmarket/castmarket/internal/domain"
	"github.com/castmarket/castmarket/internal/metrics"
)

// statsCacheTTL controls how long an aggregated snapshot stays fresh. Short
// enough that a settlement never reads a stale window, long enough to absorb
// bursts from the API and frame UI.
const statsCacheTTL = 60 * time.Second

// StatsAdapter implements domain.StatsSource on top of the Neynar client,
// with an optional cache in front of the aggregation.
type StatsAdapter struct {
	client  *Client
	cache   domain.StatsCache
	metrics *metrics.OracleMetrics
	log     *slog.Logger
}

// NewStatsAdapter creates a StatsAdapter. cache and m may be nil.
func NewStatsAdapter(client *Client, cache domain.StatsCache, m *metrics.OracleMetrics, logger *slog.Logger) *StatsAdapter {
	return &StatsAdapter{
		client:  client,
		cache:   cache,
		metrics: m,
		log:     logger.With(slog.String("component", "neynar_stats")),
	}
}

// FetchMetric returns the realized value for the given metric. Count metrics
// aggregate the 24-hour window ending at windowEnd; followers_gain returns
// the subject's current follower count (the caller subtracts the placement
// baseline).
func (a *StatsAdapter) FetchMetric(ctx context.Context, fid int64, metric domain.Metric, windowEnd time.Time) (int64, error) {
	stats, err := a.Snapshot(ctx, fid, windowEnd)
	if err != nil {
		a.observe(metric, "error")
		return 0, err
	}
	a.observe(metric, "ok")

	switch metric {
	case domain.MetricCastsCount:
		return stats.CastsCount, nil
	case domain.MetricLikesGreater, domain.MetricLikesLess:
		return stats.TotalLikes, nil
	case domain.MetricRepliesCount:
		return stats.TotalReplies, nil
	case domain.MetricFollowersGain:
		return stats.FollowerCount, nil
	default:
		return 0, fmt.Errorf("neynar: %w: %d", domain.ErrInvalidMetric, uint8(metric))
	}
}

// Snapshot fetches and aggregates the subject's activity for the 24-hour
// window ending at windowEnd. Snapshots are cached keyed on (fid, windowEnd)
// so retried settlements and concurrent metrics share one provider round trip.
func (a *StatsAdapter) Snapshot(ctx context.Context, fid int64, windowEnd time.Time) (UserStats, error) {
	key := fmt.Sprintf("stats:%d:%d", fid, windowEnd.Unix())

	if a.cache != nil {
		if raw, ok, err := a.cache.Get(ctx, key); err == nil && ok {
			var cached UserStats
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cached, nil
			}
		}
	}

	user, err := a.client.GetUser(ctx, fid)
	if err != nil {
		return UserStats{}, err
	}

	casts, err := a.client.recentCasts(ctx, fid, windowEnd)
	if err != nil {
		return UserStats{}, err
	}

	stats := UserStats{
		FID:            user.FID,
		Username:       user.Username,
		DisplayName:    user.DisplayName,
		FollowerCount:  user.FollowerCount,
		FollowingCount: user.FollowingCount,
		CastsCount:     int64(len(casts)),
		WindowEnd:      windowEnd,
	}
	for _, cast := range casts {
		stats.TotalLikes += cast.Reactions.LikesCount
		stats.TotalReplies += cast.Replies.Count
	}

	if a.cache != nil {
		if raw, err := json.Marshal(stats); err == nil {
			if err := a.cache.Set(ctx, key, raw, statsCacheTTL); err != nil {
				a.log.WarnContext(ctx, "stats cache write failed",
					slog.Int64("fid", fid),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	return stats, nil
}

func (a *StatsAdapter) observe(metric domain.Metric, result string) {
	if a.metrics != nil {
		a.metrics.StatsFetches.WithLabelValues(metric.String(), result).Inc()
	}
}

// Compile-time interface check.
var _ domain.StatsSource = (*StatsAdapter)(nil)
