package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/castmarket/castmarket/internal/domain"
)

// checkpointArchiver names the archiver's cursor: the unix-second timestamp
// up to which settled wagers have been shipped to cold storage.
const checkpointArchiver = "archiver"

// archiveContentType is the MIME type for the JSON Lines objects the archiver
// writes.
const archiveContentType = "application/x-ndjson"

// Archiver periodically copies newly settled wagers out of the index into
// S3 cold storage as JSON Lines objects, one object per run.
type Archiver struct {
	index       domain.WagerIndex
	blobs       domain.BlobWriter
	checkpoints domain.CheckpointStore
	batchSize   int
	logger      *slog.Logger
}

// NewArchiver creates an Archiver that ships at most batchSize wagers per
// page of a run.
func NewArchiver(
	index domain.WagerIndex,
	blobs domain.BlobWriter,
	checkpoints domain.CheckpointStore,
	batchSize int,
	logger *slog.Logger,
) *Archiver {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Archiver{
		index:       index,
		blobs:       blobs,
		checkpoints: checkpoints,
		batchSize:   batchSize,
		logger:      logger.With(slog.String("component", "archiver")),
	}
}

// archivedWager is the flattened JSONL record written to cold storage.
type archivedWager struct {
	WagerID        domain.WagerID `json:"wager_id"`
	Bettor         string         `json:"bettor"`
	SubjectFID     int64          `json:"subject_fid"`
	Metric         string         `json:"metric"`
	PredictedValue int64          `json:"predicted_value"`
	ActualValue    int64          `json:"actual_value"`
	Stake          string         `json:"stake"`
	Status         string         `json:"status"`
	PlacedAt       time.Time      `json:"placed_at"`
	ResolvesAt     time.Time      `json:"resolves_at"`
}

// Run executes a single archive pass: every wager settled since the saved
// cursor is written out, then the cursor advances to the start of the run.
// The cursor only moves after a successful upload, so a failed run is
// re-attempted in full next time; re-archiving a wager produces a duplicate
// JSONL line in a later object, which downstream consumers deduplicate on
// wager_id.
func (a *Archiver) Run(ctx context.Context) error {
	cursor, err := a.checkpoints.GetCheckpoint(ctx, checkpointArchiver)
	if err != nil {
		return err
	}
	since := time.Unix(int64(cursor), 0).UTC()
	runStart := time.Now().UTC()

	total := 0
	opts := domain.ListOpts{Limit: a.batchSize}
	for {
		wagers, err := a.index.ListSettledSince(ctx, since, opts)
		if err != nil {
			return fmt.Errorf("pipeline: list settled since %v: %w", since, err)
		}
		if len(wagers) == 0 {
			break
		}

		key := archiveKey(runStart, opts.Offset)
		data, err := encodeJSONL(wagers)
		if err != nil {
			return err
		}
		if err := a.blobs.Write(ctx, key, data, archiveContentType); err != nil {
			return fmt.Errorf("pipeline: archive upload %s: %w", key, err)
		}

		a.logger.Info("archived settled wagers",
			slog.String("key", key),
			slog.Int("count", len(wagers)),
		)
		total += len(wagers)

		if len(wagers) < a.batchSize {
			break
		}
		opts.Offset += a.batchSize
	}

	if err := a.checkpoints.SetCheckpoint(ctx, checkpointArchiver, uint64(runStart.Unix())); err != nil {
		return err
	}
	if total > 0 {
		a.logger.Info("archive run complete",
			slog.Time("since", since),
			slog.Int("total", total),
		)
	}
	return nil
}

// RunLoop runs the archiver on a repeating interval until the context is
// cancelled.
func (a *Archiver) RunLoop(ctx context.Context, interval time.Duration) error {
	a.logger.Info("archiver started", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archiver stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := a.Run(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// archiveKey builds the object key for one page of an archive run, e.g.
// settlements/2026/08/29/173000-0.jsonl.
func archiveKey(runStart time.Time, offset int) string {
	return fmt.Sprintf("settlements/%s/%s-%d.jsonl",
		runStart.Format("2006/01/02"),
		runStart.Format("150405"),
		offset,
	)
}

func encodeJSONL(wagers []domain.Wager) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, w := range wagers {
		rec := archivedWager{
			WagerID:        w.ID,
			Bettor:         w.Bettor,
			SubjectFID:     w.SubjectFID,
			Metric:         w.Metric.String(),
			PredictedValue: w.PredictedValue,
			ActualValue:    w.ActualValue,
			Stake:          w.Stake.String(),
			Status:         w.Status.String(),
			PlacedAt:       w.PlacedAt,
			ResolvesAt:     w.ResolvesAt,
		}
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("pipeline: encode wager %d: %w", w.ID, err)
		}
	}
	return buf.Bytes(), nil
}
