package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/castmarket/castmarket/internal/domain"
	"github.com/castmarket/castmarket/internal/platform/neynar"
)

// WagerService defines the methods the wager handler requires from the
// service layer. Declared locally so the handler package does not depend on
// the concrete service implementation.
type WagerService interface {
	Place(ctx context.Context, spec domain.WagerSpec) (domain.Wager, domain.Confirmation, error)
	Get(ctx context.Context, id domain.WagerID) (domain.Wager, error)
	ListByBettor(ctx context.Context, bettor string, opts domain.ListOpts) ([]domain.Wager, error)
	BettorStats(ctx context.Context, bettor string) (domain.BettorStats, error)
	Profile(ctx context.Context, fid int64) (neynar.APIUser, error)
}

// WagerHandler serves wager placement and query endpoints.
type WagerHandler struct {
	wagers WagerService
	logger *slog.Logger
}

// NewWagerHandler creates a WagerHandler with the given service and logger.
func NewWagerHandler(wagers WagerService, logger *slog.Logger) *WagerHandler {
	return &WagerHandler{
		wagers: wagers,
		logger: logHandler(logger, "wager"),
	}
}

// placeWagerRequest is the JSON body for POST /api/wagers.
type placeWagerRequest struct {
	Bettor         string `json:"bettor"`
	SubjectFID     int64  `json:"subject_fid"`
	Metric         string `json:"metric"`
	PredictedValue int64  `json:"predicted_value"`
	Stake          string `json:"stake"`
}

// wagerView is the JSON representation of a wager.
type wagerView struct {
	ID             uint64    `json:"id"`
	Bettor         string    `json:"bettor"`
	SubjectFID     int64     `json:"subject_fid"`
	Metric         string    `json:"metric"`
	PredictedValue int64     `json:"predicted_value"`
	Stake          string    `json:"stake"`
	PlacedAt       time.Time `json:"placed_at"`
	ResolvesAt     time.Time `json:"resolves_at"`
	Status         string    `json:"status"`
	ActualValue    *int64    `json:"actual_value,omitempty"`
}

func toWagerView(w domain.Wager) wagerView {
	v := wagerView{
		ID:             uint64(w.ID),
		Bettor:         w.Bettor,
		SubjectFID:     w.SubjectFID,
		Metric:         w.Metric.String(),
		PredictedValue: w.PredictedValue,
		Stake:          w.Stake.String(),
		PlacedAt:       w.PlacedAt,
		ResolvesAt:     w.ResolvesAt,
		Status:         w.Status.String(),
	}
	if w.Status == domain.StatusWon || w.Status == domain.StatusLost {
		actual := w.ActualValue
		v.ActualValue = &actual
	}
	return v
}

// PlaceWager places a new wager.
// POST /api/wagers
func (h *WagerHandler) PlaceWager(w http.ResponseWriter, r *http.Request) {
	var req placeWagerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	metric, err := domain.ParseMetric(req.Metric)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	stake, err := decimal.NewFromString(req.Stake)
	if err != nil {
		writeError(w, http.StatusBadRequest, "stake must be a decimal string in base units")
		return
	}

	wager, conf, err := h.wagers.Place(r.Context(), domain.WagerSpec{
		Bettor:         req.Bettor,
		SubjectFID:     req.SubjectFID,
		Metric:         metric,
		PredictedValue: req.PredictedValue,
		Stake:          stake,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "place wager failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"wager":   toWagerView(wager),
		"tx_hash": conf.TxHash,
		"block":   conf.BlockNumber,
	})
}

// GetWager returns one wager by ID.
// GET /api/wagers/{id}
func (h *WagerHandler) GetWager(w http.ResponseWriter, r *http.Request) {
	id, err := parseWagerID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid wager id")
		return
	}

	wager, err := h.wagers.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toWagerView(wager))
}

// ListWagers returns a bettor's wagers, newest first.
// GET /api/wagers?bettor=0x...&limit=50&offset=0
func (h *WagerHandler) ListWagers(w http.ResponseWriter, r *http.Request) {
	bettor := r.URL.Query().Get("bettor")
	if bettor == "" {
		writeError(w, http.StatusBadRequest, "bettor query parameter is required")
		return
	}

	opts := parseListOpts(r)
	wagers, err := h.wagers.ListByBettor(r.Context(), bettor, opts)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	views := make([]wagerView, 0, len(wagers))
	for _, wg := range wagers {
		views = append(views, toWagerView(wg))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"wagers": views,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

// GetBettor returns a bettor's aggregated wager history.
// GET /api/bettors/{address}
func (h *WagerHandler) GetBettor(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")

	stats, err := h.wagers.BettorStats(r.Context(), address)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"address":       address,
		"total_wagers":  stats.TotalWagers,
		"won_wagers":    stats.WonWagers,
		"win_rate":      stats.WinRate(),
		"total_staked":  stats.TotalStaked.String(),
		"total_winning": stats.TotalWinning.String(),
	})
}

// GetUser returns the subject's Farcaster profile.
// GET /api/users/{fid}
func (h *WagerHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	fid, err := strconv.ParseInt(r.PathValue("fid"), 10, 64)
	if err != nil || fid <= 0 {
		writeError(w, http.StatusBadRequest, "invalid fid")
		return
	}

	user, err := h.wagers.Profile(r.Context(), fid)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}
