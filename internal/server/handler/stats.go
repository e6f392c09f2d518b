package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/castmarket/castmarket/internal/platform/neynar"
)

// StatsService provides aggregated activity snapshots for subjects.
type StatsService interface {
	Snapshot(ctx context.Context, fid int64, windowEnd time.Time) (neynar.UserStats, error)
}

// StatsHandler serves the subject activity snapshot endpoint.
type StatsHandler struct {
	stats  StatsService
	logger *slog.Logger
}

// NewStatsHandler creates a StatsHandler with the given service and logger.
func NewStatsHandler(stats StatsService, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{
		stats:  stats,
		logger: logHandler(logger, "stats"),
	}
}

// GetStats returns the subject's current 24-hour activity snapshot.
// GET /api/stats?fid=3621
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	fid, err := strconv.ParseInt(r.URL.Query().Get("fid"), 10, 64)
	if err != nil || fid <= 0 {
		writeError(w, http.StatusBadRequest, "fid query parameter must be a positive integer")
		return
	}

	snapshot, err := h.stats.Snapshot(r.Context(), fid, time.Now().UTC())
	if err != nil {
		h.logger.WarnContext(r.Context(), "stats snapshot failed",
			slog.Int64("fid", fid),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}
