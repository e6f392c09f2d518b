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
	"github.com/castmarket/castmarket/internal/platform/neynar"
)

type stubWagerService struct {
	placed    domain.Wager
	placeErr  error
	getErr    error
	listed    []domain.Wager
	stats     domain.BettorStats
	profile   neynar.APIUser
	profErr   error
	lastSpec  domain.WagerSpec
}

func (s *stubWagerService) Place(ctx context.Context, spec domain.WagerSpec) (domain.Wager, domain.Confirmation, error) {
	s.lastSpec = spec
	if s.placeErr != nil {
		return domain.Wager{}, domain.Confirmation{}, s.placeErr
	}
	return s.placed, domain.Confirmation{TxHash: "0xfeed", BlockNumber: 7}, nil
}

func (s *stubWagerService) Get(ctx context.Context, id domain.WagerID) (domain.Wager, error) {
	if s.getErr != nil {
		return domain.Wager{}, s.getErr
	}
	return s.placed, nil
}

func (s *stubWagerService) ListByBettor(ctx context.Context, bettor string, opts domain.ListOpts) ([]domain.Wager, error) {
	return s.listed, nil
}

func (s *stubWagerService) BettorStats(ctx context.Context, bettor string) (domain.BettorStats, error) {
	return s.stats, nil
}

func (s *stubWagerService) Profile(ctx context.Context, fid int64) (neynar.APIUser, error) {
	if s.profErr != nil {
		return neynar.APIUser{}, s.profErr
	}
	return s.profile, nil
}

func sampleWager() domain.Wager {
	placed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return domain.Wager{
		ID:             42,
		Bettor:         "0x52908400098527886E0F7030069857D2E4169EE7",
		SubjectFID:     3621,
		Metric:         domain.MetricCastsCount,
		PredictedValue: 10,
		Stake:          decimal.NewFromInt(5_000_000),
		PlacedAt:       placed,
		ResolvesAt:     placed.Add(24 * time.Hour),
		Status:         domain.StatusActive,
	}
}

func newWagerRouter(svc WagerService) *http.ServeMux {
	h := NewWagerHandler(svc, slog.New(slog.DiscardHandler))
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/wagers", h.PlaceWager)
	mux.HandleFunc("GET /api/wagers", h.ListWagers)
	mux.HandleFunc("GET /api/wagers/{id}", h.GetWager)
	mux.HandleFunc("GET /api/users/{fid}", h.GetUser)
	mux.HandleFunc("GET /api/bettors/{address}", h.GetBettor)
	return mux
}

func TestPlaceWagerReturnsCreated(t *testing.T) {
	svc := &stubWagerService{placed: sampleWager()}
	mux := newWagerRouter(svc)

	body := `{
		"bettor": "0x52908400098527886E0F7030069857D2E4169EE7",
		"subject_fid": 3621,
		"metric": "casts_count",
		"predicted_value": 10,
		"stake": "5000000"
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/wagers", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"tx_hash":"0xfeed"`)
	assert.Contains(t, rec.Body.String(), `"metric":"casts_count"`)
	assert.Equal(t, domain.MetricCastsCount, svc.lastSpec.Metric)
	assert.True(t, svc.lastSpec.Stake.Equal(decimal.NewFromInt(5_000_000)))
}

func TestPlaceWagerRejectsUnknownMetric(t *testing.T) {
	mux := newWagerRouter(&stubWagerService{})

	body := `{"bettor":"0x52908400098527886E0F7030069857D2E4169EE7","subject_fid":1,"metric":"recasts","stake":"5000000"}`
	req := httptest.NewRequest(http.MethodPost, "/api/wagers", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlaceWagerMapsValidationError(t *testing.T) {
	svc := &stubWagerService{placeErr: domain.ErrInvalidWager}
	mux := newWagerRouter(svc)

	body := `{"bettor":"0xzz","subject_fid":1,"metric":"casts_count","stake":"100"}`
	req := httptest.NewRequest(http.MethodPost, "/api/wagers", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetWagerNotFound(t *testing.T) {
	svc := &stubWagerService{getErr: domain.ErrWagerNotFound}
	mux := newWagerRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/wagers/42", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetWagerHidesActualValueWhileActive(t *testing.T) {
	svc := &stubWagerService{placed: sampleWager()}
	mux := newWagerRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/wagers/42", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "actual_value")
}

func TestListWagersRequiresBettorParam(t *testing.T) {
	mux := newWagerRouter(&stubWagerService{})

	req := httptest.NewRequest(http.MethodGet, "/api/wagers", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "bettor query parameter")
}

func TestGetBettorIncludesWinRate(t *testing.T) {
	svc := &stubWagerService{stats: domain.BettorStats{
		TotalWagers:  4,
		WonWagers:    3,
		TotalStaked:  decimal.NewFromInt(20_000_000),
		TotalWinning: decimal.NewFromInt(29_550_000),
	}}
	mux := newWagerRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/bettors/0x52908400098527886E0F7030069857D2E4169EE7", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"win_rate":75`)
}

func TestGetUserMapsSubjectNotFound(t *testing.T) {
	svc := &stubWagerService{profErr: domain.ErrStatsSubjectNotFound}
	mux := newWagerRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/users/999999", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
