// Package service contains the application services that sit between the
// HTTP layer and the ledger, index, and stats adapters.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/castmarket/castmarket/internal/domain"
	"github.com/castmarket/castmarket/internal/lifecycle"
	"github.com/castmarket/castmarket/internal/platform/neynar"
)

// ProfileSource resolves Farcaster user profiles. Satisfied by the Neynar
// client.
type ProfileSource interface {
	GetUser(ctx context.Context, fid int64) (neynar.APIUser, error)
}

// WagerService handles wager placement and read queries. Placement writes to
// the ledger first; the local index row and lifecycle event are best-effort
// mirrors that the chain indexer repairs if they are lost.
type WagerService struct {
	engine   *lifecycle.Engine
	ledger   domain.LedgerGateway
	index    domain.WagerIndex
	users    ProfileSource
	bus      domain.SignalBus
	minStake decimal.Decimal
	maxStake decimal.Decimal
	logger   *slog.Logger
}

// NewWagerService creates a WagerService with all required dependencies. The
// bus may be nil when no event fan-out is wanted.
func NewWagerService(
	engine *lifecycle.Engine,
	ledger domain.LedgerGateway,
	index domain.WagerIndex,
	users ProfileSource,
	bus domain.SignalBus,
	minStake, maxStake decimal.Decimal,
	logger *slog.Logger,
) *WagerService {
	if logger == nil {
		logger = slog.Default()
	}
	return &WagerService{
		engine:   engine,
		ledger:   ledger,
		index:    index,
		users:    users,
		bus:      bus,
		minStake: minStake,
		maxStake: maxStake,
		logger:   logger.With("component", "wager_service"),
	}
}

// validateSpec checks a placement request against the market rules.
func (s *WagerService) validateSpec(spec domain.WagerSpec) error {
	if !common.IsHexAddress(spec.Bettor) {
		return fmt.Errorf("%w: bettor %q is not a valid address", domain.ErrInvalidWager, spec.Bettor)
	}
	if spec.SubjectFID <= 0 {
		return fmt.Errorf("%w: subject fid must be positive, got %d", domain.ErrInvalidWager, spec.SubjectFID)
	}
	if !spec.Metric.Valid() {
		return fmt.Errorf("%w: %d", domain.ErrInvalidMetric, spec.Metric)
	}
	if spec.PredictedValue < 0 {
		return fmt.Errorf("%w: predicted value must not be negative", domain.ErrInvalidWager)
	}
	if !spec.Stake.Equal(spec.Stake.Floor()) {
		return fmt.Errorf("%w: stake must be an integer amount of base units", domain.ErrInvalidWager)
	}
	if spec.Stake.LessThan(s.minStake) {
		return fmt.Errorf("%w: stake %s below minimum %s", domain.ErrInvalidWager, spec.Stake, s.minStake)
	}
	if spec.Stake.GreaterThan(s.maxStake) {
		return fmt.Errorf("%w: stake %s above maximum %s", domain.ErrInvalidWager, spec.Stake, s.maxStake)
	}
	return nil
}

// Place validates the spec, escrows the stake on the ledger, and mirrors the
// new wager into the index. For followers_gain wagers the subject's current
// follower count is captured before placement and stored as the baseline the
// oracle later settles the delta against.
func (s *WagerService) Place(ctx context.Context, spec domain.WagerSpec) (domain.Wager, domain.Confirmation, error) {
	if err := s.validateSpec(spec); err != nil {
		return domain.Wager{}, domain.Confirmation{}, err
	}

	// Capture the follower baseline before the ledger write so the recorded
	// count reflects the moment of placement.
	var baseline int64
	haveBaseline := false
	if spec.Metric == domain.MetricFollowersGain {
		user, err := s.users.GetUser(ctx, spec.SubjectFID)
		if err != nil {
			return domain.Wager{}, domain.Confirmation{}, fmt.Errorf("fetching follower baseline for fid %d: %w", spec.SubjectFID, err)
		}
		baseline = user.FollowerCount
		haveBaseline = true
	}

	id, conf, err := s.ledger.CreateWager(ctx, spec)
	if err != nil {
		return domain.Wager{}, domain.Confirmation{}, fmt.Errorf("creating wager on ledger: %w", err)
	}

	// Read the authoritative record back so the mirror carries the ledger's
	// timestamps rather than our local clock.
	w, err := s.ledger.GetWager(ctx, id)
	if err != nil {
		s.logger.Error("wager placed but readback failed; indexer will backfill",
			"wager_id", id, "error", err)
		w = domain.Wager{
			ID:             id,
			Bettor:         spec.Bettor,
			SubjectFID:     spec.SubjectFID,
			Metric:         spec.Metric,
			PredictedValue: spec.PredictedValue,
			Stake:          spec.Stake,
			PlacedAt:       time.Now().UTC(),
			ResolvesAt:     s.engine.ResolvesAt(time.Now().UTC()),
			Status:         domain.StatusActive,
		}
	}

	if err := s.index.Upsert(ctx, w); err != nil {
		s.logger.Error("indexing placed wager failed; indexer will backfill",
			"wager_id", id, "error", err)
	} else if haveBaseline {
		if err := s.index.SetBaseline(ctx, id, baseline); err != nil {
			s.logger.Error("recording follower baseline failed",
				"wager_id", id, "baseline", baseline, "error", err)
		}
	}

	s.publishPlaced(ctx, w, conf)

	s.logger.Info("wager placed",
		"wager_id", id,
		"bettor", w.Bettor,
		"subject_fid", w.SubjectFID,
		"metric", w.Metric.String(),
		"stake", w.Stake.String(),
		"tx_hash", conf.TxHash,
	)

	return w, conf, nil
}

func (s *WagerService) publishPlaced(ctx context.Context, w domain.Wager, conf domain.Confirmation) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(domain.WagerEvent{
		Event:      domain.EventWagerPlaced,
		WagerID:    w.ID,
		Bettor:     w.Bettor,
		SubjectFID: w.SubjectFID,
		Metric:     w.Metric.String(),
		Status:     w.Status.String(),
		TxHash:     conf.TxHash,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, domain.ChannelWagers, payload); err != nil {
		s.logger.Warn("publishing wager_placed event failed", "wager_id", w.ID, "error", err)
	}
}

// Get returns a wager by ID, preferring the index and falling back to the
// ledger for rows the indexer has not mirrored yet.
func (s *WagerService) Get(ctx context.Context, id domain.WagerID) (domain.Wager, error) {
	w, err := s.index.GetByID(ctx, id)
	if err == nil {
		return w, nil
	}
	return s.ledger.GetWager(ctx, id)
}

// ListByBettor returns the bettor's wagers, newest first.
func (s *WagerService) ListByBettor(ctx context.Context, bettor string, opts domain.ListOpts) ([]domain.Wager, error) {
	if !common.IsHexAddress(bettor) {
		return nil, fmt.Errorf("%w: bettor %q is not a valid address", domain.ErrInvalidWager, bettor)
	}
	return s.index.ListByBettor(ctx, bettor, opts)
}

// BettorStats returns the bettor's aggregated wager history.
func (s *WagerService) BettorStats(ctx context.Context, bettor string) (domain.BettorStats, error) {
	if !common.IsHexAddress(bettor) {
		return domain.BettorStats{}, fmt.Errorf("%w: bettor %q is not a valid address", domain.ErrInvalidWager, bettor)
	}
	return s.index.BettorStats(ctx, bettor)
}

// Profile returns the subject's Farcaster profile.
func (s *WagerService) Profile(ctx context.Context, fid int64) (neynar.APIUser, error) {
	if fid <= 0 {
		return neynar.APIUser{}, fmt.Errorf("%w: fid must be positive", domain.ErrInvalidWager)
	}
	return s.users.GetUser(ctx, fid)
}
