package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castmarket/castmarket/internal/domain"
)

type stubOracle struct {
	result     domain.SettlementResult
	resolveErr error
	cancelErr  error
	eligible   []domain.WagerID
	credential string
}

func (o *stubOracle) Resolve(ctx context.Context, id domain.WagerID, credential string) (domain.SettlementResult, error) {
	o.credential = credential
	if o.resolveErr != nil {
		return domain.SettlementResult{}, o.resolveErr
	}
	return o.result, nil
}

func (o *stubOracle) Cancel(ctx context.Context, id domain.WagerID, credential string) (domain.SettlementResult, error) {
	if o.cancelErr != nil {
		return domain.SettlementResult{}, o.cancelErr
	}
	return o.result, nil
}

func (o *stubOracle) ListEligible(ctx context.Context, now time.Time, limit int) ([]domain.WagerID, error) {
	return o.eligible, nil
}

func newOracleRouter(o OracleService) *http.ServeMux {
	h := NewOracleHandler(o, slog.New(slog.DiscardHandler))
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/resolve", h.Resolve)
	mux.HandleFunc("GET /api/resolve/eligible", h.ListEligible)
	mux.HandleFunc("POST /api/wagers/{id}/cancel", h.Cancel)
	return mux
}

func TestResolveReturnsSettlement(t *testing.T) {
	o := &stubOracle{result: domain.SettlementResult{
		WagerID:      42,
		Status:       domain.StatusWon,
		ActualValue:  10,
		Payout:       decimal.NewFromInt(9_850_000),
		Fee:          decimal.NewFromInt(150_000),
		Confirmation: domain.Confirmation{TxHash: "0xdead", BlockNumber: 99},
	}}
	mux := newOracleRouter(o)

	req := httptest.NewRequest(http.MethodPost, "/api/resolve", strings.NewReader(`{"wager_id":42}`))
	req.Header.Set("Authorization", "Bearer cron-secret")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cron-secret", o.credential, "bearer token must reach the oracle")
	assert.Contains(t, rec.Body.String(), `"status":"won"`)
	assert.Contains(t, rec.Body.String(), `"payout":"9850000"`)
}

func TestResolveErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"unauthorized", domain.ErrUnauthorized, http.StatusUnauthorized},
		{"not found", domain.ErrWagerNotFound, http.StatusNotFound},
		{"already settled", domain.ErrAlreadySettled, http.StatusConflict},
		{"not yet due", &domain.NotYetDueError{WagerID: 42, Remaining: time.Minute}, http.StatusBadRequest},
		{"stats unavailable", domain.ErrStatsUnavailable, http.StatusServiceUnavailable},
		{"ledger failure", domain.ErrLedgerWriteFailed, http.StatusBadGateway},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mux := newOracleRouter(&stubOracle{resolveErr: tc.err})

			req := httptest.NewRequest(http.MethodPost, "/api/resolve", strings.NewReader(`{"wager_id":42}`))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestCancelParsesPathID(t *testing.T) {
	o := &stubOracle{result: domain.SettlementResult{
		WagerID: 7,
		Status:  domain.StatusCancelled,
		Payout:  decimal.NewFromInt(5_000_000),
		Fee:     decimal.Zero,
	}}
	mux := newOracleRouter(o)

	req := httptest.NewRequest(http.MethodPost, "/api/wagers/7/cancel", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"cancelled"`)

	req = httptest.NewRequest(http.MethodPost, "/api/wagers/abc/cancel", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListEligible(t *testing.T) {
	mux := newOracleRouter(&stubOracle{eligible: []domain.WagerID{3, 5, 8}})

	req := httptest.NewRequest(http.MethodGet, "/api/resolve/eligible", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"eligible":[3,5,8]}`, rec.Body.String())
}
