package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/castmarket/castmarket/internal/domain"
)

// WagerIndexStore implements domain.WagerIndex using PostgreSQL.
type WagerIndexStore struct {
	pool *pgxpool.Pool
}

// NewWagerIndexStore creates a new WagerIndexStore backed by the given pool.
func NewWagerIndexStore(pool *pgxpool.Pool) *WagerIndexStore {
	return &WagerIndexStore{pool: pool}
}

const wagerSelectCols = `id, bettor, subject_fid, metric, predicted_value,
	stake::text, placed_at, resolves_at, status, actual_value`

func scanWager(row pgx.Row) (domain.Wager, error) {
	var (
		w        domain.Wager
		id       int64
		metric   int16
		status   int16
		stakeStr string
	)
	err := row.Scan(
		&id, &w.Bettor, &w.SubjectFID, &metric, &w.PredictedValue,
		&stakeStr, &w.PlacedAt, &w.ResolvesAt, &status, &w.ActualValue,
	)
	if err != nil {
		return domain.Wager{}, err
	}

	w.ID = domain.WagerID(id)
	w.Metric = domain.Metric(metric)
	w.Status = domain.Status(status)
	w.Stake, err = decimal.NewFromString(stakeStr)
	if err != nil {
		return domain.Wager{}, fmt.Errorf("parse stake %q: %w", stakeStr, err)
	}
	return w, nil
}

// Upsert inserts or refreshes the mirrored row for a wager. Terminal fields
// already recorded locally are preserved so a late backfill of a settled
// wager cannot regress its status.
func (s *WagerIndexStore) Upsert(ctx context.Context, w domain.Wager) error {
	const query = `
		INSERT INTO wagers (
			id, bettor, subject_fid, metric, predicted_value,
			stake, placed_at, resolves_at, status, actual_value, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (id) DO UPDATE SET
			status = CASE WHEN wagers.status = 0 THEN EXCLUDED.status ELSE wagers.status END,
			actual_value = CASE WHEN wagers.status = 0 THEN EXCLUDED.actual_value ELSE wagers.actual_value END,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		int64(w.ID), w.Bettor, w.SubjectFID, int16(w.Metric), w.PredictedValue,
		w.Stake.String(), w.PlacedAt, w.ResolvesAt, int16(w.Status), w.ActualValue,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert wager %d: %w", w.ID, err)
	}
	return nil
}

// MarkSettled records the terminal state of a wager in the index.
func (s *WagerIndexStore) MarkSettled(ctx context.Context, id domain.WagerID, status domain.Status, actualValue int64, payout decimal.Decimal) error {
	const query = `
		UPDATE wagers
		SET status = $2, actual_value = $3, payout = $4,
			settled_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 0`

	// Zero rows affected means the wager is unknown to the index or already
	// terminal; both are fine for an idempotent mirror update.
	_, err := s.pool.Exec(ctx, query, int64(id), int16(status), actualValue, payout.String())
	if err != nil {
		return fmt.Errorf("postgres: mark wager %d settled: %w", id, err)
	}
	return nil
}

// GetByID returns the mirrored wager or domain.ErrWagerNotFound.
func (s *WagerIndexStore) GetByID(ctx context.Context, id domain.WagerID) (domain.Wager, error) {
	query := `SELECT ` + wagerSelectCols + ` FROM wagers WHERE id = $1`

	w, err := scanWager(s.pool.QueryRow(ctx, query, int64(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Wager{}, domain.ErrWagerNotFound
	}
	if err != nil {
		return domain.Wager{}, fmt.Errorf("postgres: get wager %d: %w", id, err)
	}
	return w, nil
}

// ListByBettor returns the bettor's wagers, newest first.
func (s *WagerIndexStore) ListByBettor(ctx context.Context, bettor string, opts domain.ListOpts) ([]domain.Wager, error) {
	query := `SELECT ` + wagerSelectCols + ` FROM wagers
		WHERE lower(bettor) = lower($1)
		ORDER BY placed_at DESC`
	args := []any{bettor}

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list wagers for %s: %w", bettor, err)
	}
	defer rows.Close()

	return collectWagers(rows)
}

// ListEligible returns IDs of active wagers whose resolution time has passed.
func (s *WagerIndexStore) ListEligible(ctx context.Context, now time.Time, limit int) ([]domain.WagerID, error) {
	query := `SELECT id FROM wagers
		WHERE status = 0 AND resolves_at <= $1
		ORDER BY resolves_at ASC`
	args := []any{now}

	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list eligible wagers: %w", err)
	}
	defer rows.Close()

	var ids []domain.WagerID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan eligible wager id: %w", err)
		}
		ids = append(ids, domain.WagerID(id))
	}
	return ids, rows.Err()
}

// SetBaseline records the subject's follower count at placement time.
func (s *WagerIndexStore) SetBaseline(ctx context.Context, id domain.WagerID, followers int64) error {
	const query = `UPDATE wagers SET baseline_followers = $2, updated_at = NOW() WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, int64(id), followers)
	if err != nil {
		return fmt.Errorf("postgres: set baseline for wager %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrWagerNotFound
	}
	return nil
}

// GetBaseline returns the recorded follower baseline. A wager without one
// (placed before baselines existed, or indexed without placement metadata)
// surfaces as domain.ErrStatsUnavailable so resolution stays retryable.
func (s *WagerIndexStore) GetBaseline(ctx context.Context, id domain.WagerID) (int64, error) {
	const query = `SELECT baseline_followers FROM wagers WHERE id = $1`

	var baseline *int64
	err := s.pool.QueryRow(ctx, query, int64(id)).Scan(&baseline)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrWagerNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: get baseline for wager %d: %w", id, err)
	}
	if baseline == nil {
		return 0, fmt.Errorf("wager %d has no follower baseline: %w", id, domain.ErrStatsUnavailable)
	}
	return *baseline, nil
}

// BettorStats aggregates a bettor's wager history.
func (s *WagerIndexStore) BettorStats(ctx context.Context, bettor string) (domain.BettorStats, error) {
	const query = `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 1),
			COALESCE(SUM(stake), 0)::text,
			COALESCE(SUM(payout) FILTER (WHERE status = 1), 0)::text
		FROM wagers
		WHERE lower(bettor) = lower($1)`

	var (
		stats      domain.BettorStats
		stakedStr  string
		winningStr string
	)
	err := s.pool.QueryRow(ctx, query, bettor).Scan(
		&stats.TotalWagers, &stats.WonWagers, &stakedStr, &winningStr,
	)
	if err != nil {
		return domain.BettorStats{}, fmt.Errorf("postgres: bettor stats for %s: %w", bettor, err)
	}

	if stats.TotalStaked, err = decimal.NewFromString(stakedStr); err != nil {
		return domain.BettorStats{}, fmt.Errorf("postgres: parse total staked: %w", err)
	}
	if stats.TotalWinning, err = decimal.NewFromString(winningStr); err != nil {
		return domain.BettorStats{}, fmt.Errorf("postgres: parse total winning: %w", err)
	}
	return stats, nil
}

// ListSettledSince returns wagers settled at or after the given time, oldest
// first, for the cold-storage archiver.
func (s *WagerIndexStore) ListSettledSince(ctx context.Context, since time.Time, opts domain.ListOpts) ([]domain.Wager, error) {
	query := `SELECT ` + wagerSelectCols + ` FROM wagers
		WHERE settled_at IS NOT NULL AND settled_at >= $1
		ORDER BY settled_at ASC`
	args := []any{since}

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled wagers: %w", err)
	}
	defer rows.Close()

	return collectWagers(rows)
}

func collectWagers(rows pgx.Rows) ([]domain.Wager, error) {
	var wagers []domain.Wager
	for rows.Next() {
		w, err := scanWager(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan wager: %w", err)
		}
		wagers = append(wagers, w)
	}
	return wagers, rows.Err()
}
