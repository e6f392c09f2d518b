package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/castmarket/castmarket/internal/domain"
)

// OracleService defines the resolution operations the handler exposes.
type OracleService interface {
	Resolve(ctx context.Context, id domain.WagerID, credential string) (domain.SettlementResult, error)
	Cancel(ctx context.Context, id domain.WagerID, credential string) (domain.SettlementResult, error)
	ListEligible(ctx context.Context, now time.Time, limit int) ([]domain.WagerID, error)
}

// OracleHandler serves the operator-facing resolution endpoints. Callers
// authenticate per request with the operator secret; the oracle itself
// performs the constant-time check.
type OracleHandler struct {
	oracle OracleService
	logger *slog.Logger
}

// NewOracleHandler creates an OracleHandler with the given oracle and logger.
func NewOracleHandler(oracle OracleService, logger *slog.Logger) *OracleHandler {
	return &OracleHandler{
		oracle: oracle,
		logger: logHandler(logger, "oracle"),
	}
}

// resolveRequest is the JSON body for POST /api/resolve.
type resolveRequest struct {
	WagerID uint64 `json:"wager_id"`
}

// settlementView is the JSON representation of a settlement result.
type settlementView struct {
	WagerID     uint64 `json:"wager_id"`
	Status      string `json:"status"`
	ActualValue int64  `json:"actual_value"`
	Payout      string `json:"payout"`
	Fee         string `json:"fee"`
	TxHash      string `json:"tx_hash"`
	Block       uint64 `json:"block"`
}

func toSettlementView(res domain.SettlementResult) settlementView {
	return settlementView{
		WagerID:     uint64(res.WagerID),
		Status:      res.Status.String(),
		ActualValue: res.ActualValue,
		Payout:      res.Payout.String(),
		Fee:         res.Fee.String(),
		TxHash:      res.Confirmation.TxHash,
		Block:       res.Confirmation.BlockNumber,
	}
}

// Resolve settles a single due wager.
// POST /api/resolve
func (h *OracleHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := h.oracle.Resolve(r.Context(), domain.WagerID(req.WagerID), operatorCredential(r))
	if err != nil {
		h.logger.WarnContext(r.Context(), "resolve failed",
			slog.Uint64("wager_id", req.WagerID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSettlementView(res))
}

// Cancel refunds an active wager.
// POST /api/wagers/{id}/cancel
func (h *OracleHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := parseWagerID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid wager id")
		return
	}

	res, err := h.oracle.Cancel(r.Context(), id, operatorCredential(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSettlementView(res))
}

// ListEligible returns the IDs of wagers that are due for resolution.
// GET /api/resolve/eligible?limit=100
func (h *OracleHandler) ListEligible(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	ids, err := h.oracle.ListEligible(r.Context(), time.Now().UTC(), opts.Limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		out = append(out, uint64(id))
	}
	writeJSON(w, http.StatusOK, map[string]any{"eligible": out})
}
