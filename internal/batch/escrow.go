package batch

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"eppd/internal/model"
	"eppd/internal/platform/metrics"
	"eppd/internal/storage"
	pkgerrors "eppd/pkg/errors"
)

// sftpCoolOff is how long uploads hold off after the last contact with the
// escrow provider's SFTP endpoint. The provider merges deposits uploaded
// within two hours of each other, which would corrupt the sequence.
const sftpCoolOff = 2 * time.Hour

// Uploader delivers a staged deposit to the escrow provider.
type Uploader interface {
	Upload(ctx context.Context, scope string, watermark time.Time, deposit []byte) error
	Report(ctx context.Context, scope string, watermark time.Time) error
}

// Deposit is the escrow payload for one period: every mutation the registry
// recorded in (previous watermark, watermark].
type Deposit struct {
	Scope     string                `json:"scope"`
	Watermark time.Time             `json:"watermark"`
	Entries   []*model.HistoryEntry `json:"entries"`
}

// EscrowWorker drives the three-stage escrow pipeline for one scope: mark
// each elapsed period staged, upload the next pending deposit, then report
// the upload. Each stage is gated by its own cursor, so a crash between
// stages resumes where it stopped instead of redoing or skipping work. The
// deposit payload is rebuilt from the history table at upload time, never
// held in process memory, so a restart between staging and upload loses
// nothing.
type EscrowWorker struct {
	store    storage.Store
	uploader Uploader
	clock    Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics

	// scope names the deposit stream, typically a TLD.
	scope  string
	period time.Duration
}

// NewEscrowWorker builds an escrow worker for one scope. Period is the
// deposit cadence, one deposit per elapsed period.
func NewEscrowWorker(store storage.Store, uploader Uploader, clock Clock, logger *slog.Logger, m *metrics.Metrics, scope string, period time.Duration) *EscrowWorker {
	if period <= 0 {
		period = 24 * time.Hour
	}
	return &EscrowWorker{
		store:    store,
		uploader: uploader,
		clock:    clock,
		logger:   logger,
		metrics:  m,
		scope:    scope,
		period:   period,
	}
}

func (w *EscrowWorker) Name() string { return "escrow_" + w.scope }

// RunOnce advances the pipeline as far as it can right now.
func (w *EscrowWorker) RunOnce(ctx context.Context) error {
	if err := w.stage(ctx); err != nil {
		return err
	}
	if err := w.upload(ctx); err != nil {
		return err
	}
	return w.report(ctx)
}

// stage moves the staging cursor to the last fully elapsed period boundary.
// The cursor is the only staging state; the deposit content is derived from
// history when the period uploads.
func (w *EscrowWorker) stage(ctx context.Context) error {
	now := w.clock.Now()
	return w.store.RunInTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		cursor, ok, err := tx.LoadCursor(ctx, w.scope, storage.CursorRDEStaging)
		if err != nil {
			return err
		}
		if !ok {
			// First run: anchor the whole pipeline at the current period
			// boundary rather than replaying all of history.
			anchor := now.Truncate(w.period)
			for _, cursorType := range []storage.CursorType{
				storage.CursorRDEStaging, storage.CursorRDEUpload, storage.CursorRDEReport,
			} {
				if err := tx.SaveCursor(ctx, w.scope, cursorType, anchor); err != nil {
					return err
				}
			}
			return nil
		}
		boundary := cursor
		for !boundary.Add(w.period).After(now) {
			boundary = boundary.Add(w.period)
		}
		if !boundary.After(cursor) {
			return nil
		}
		w.logger.InfoContext(ctx, "staged escrow periods",
			slog.String("scope", w.scope),
			slog.Time("watermark", boundary))
		return tx.SaveCursor(ctx, w.scope, storage.CursorRDEStaging, boundary)
	})
}

// upload builds and pushes the oldest staged deposit past the upload cursor,
// holding off while the SFTP cool-off window is still fresh.
func (w *EscrowWorker) upload(ctx context.Context) error {
	now := w.clock.Now()

	// Fast pre-checks outside any transaction.
	if sftp, ok, err := w.store.PeekCursor(ctx, w.scope, storage.CursorRDEUploadSFTP); err != nil {
		return err
	} else if ok && now.Sub(sftp) < sftpCoolOff {
		return nil
	}
	staging, ok, err := w.store.PeekCursor(ctx, w.scope, storage.CursorRDEStaging)
	if err != nil || !ok {
		return err
	}
	uploaded, ok, err := w.store.PeekCursor(ctx, w.scope, storage.CursorRDEUpload)
	if err != nil || !ok {
		return err
	}

	// One deposit per run; the next run picks up the next watermark once
	// the cool-off expires.
	watermark := uploaded.Add(w.period)
	if watermark.After(staging) {
		return nil
	}
	var blob []byte
	err = w.store.RunInTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		entries, err := tx.ListHistoryBetween(ctx, uploaded, watermark)
		if err != nil {
			return err
		}
		blob, err = json.Marshal(Deposit{Scope: w.scope, Watermark: watermark, Entries: entries})
		if err != nil {
			return pkgerrors.Wrap(err, pkgerrors.CodeInternal, "marshaling deposit")
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := w.uploader.Upload(ctx, w.scope, watermark, blob); err != nil {
		if w.metrics != nil {
			w.metrics.BatchRun(w.Name(), "upload_error")
		}
		return err
	}

	return w.store.RunInTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.SaveCursor(ctx, w.scope, storage.CursorRDEUpload, watermark); err != nil {
			return err
		}
		if err := tx.SaveCursor(ctx, w.scope, storage.CursorRDEUploadSFTP, now); err != nil {
			return err
		}
		w.logger.InfoContext(ctx, "uploaded escrow deposit",
			slog.String("scope", w.scope),
			slog.Time("watermark", watermark))
		return nil
	})
}

// report notifies the provider of completed uploads the report cursor has
// not yet covered.
func (w *EscrowWorker) report(ctx context.Context) error {
	uploaded, ok, err := w.store.PeekCursor(ctx, w.scope, storage.CursorRDEUpload)
	if err != nil || !ok {
		return err
	}
	reported, _, err := w.store.PeekCursor(ctx, w.scope, storage.CursorRDEReport)
	if err != nil {
		return err
	}
	if !reported.Before(uploaded) {
		return nil
	}
	if err := w.uploader.Report(ctx, w.scope, uploaded); err != nil {
		return err
	}
	return w.store.RunInTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.SaveCursor(ctx, w.scope, storage.CursorRDEReport, uploaded)
	})
}

// BRDAWorker stages the weekly bulk registration data access snapshot. It
// shares the deposit shape with escrow but runs on its own cursor and
// cadence, and uploads without the SFTP window constraint.
type BRDAWorker struct {
	store    storage.Store
	uploader Uploader
	clock    Clock
	logger   *slog.Logger

	scope  string
	period time.Duration
}

// NewBRDAWorker builds the BRDA worker for one scope.
func NewBRDAWorker(store storage.Store, uploader Uploader, clock Clock, logger *slog.Logger, scope string) *BRDAWorker {
	return &BRDAWorker{
		store:    store,
		uploader: uploader,
		clock:    clock,
		logger:   logger,
		scope:    scope,
		period:   7 * 24 * time.Hour,
	}
}

func (w *BRDAWorker) Name() string { return "brda_" + w.scope }

// RunOnce uploads the next elapsed weekly snapshot. The cursor advances
// only after the upload lands, so a crash in between replays the same week
// instead of dropping it.
func (w *BRDAWorker) RunOnce(ctx context.Context) error {
	now := w.clock.Now()
	var blob []byte
	var next time.Time

	err := w.store.RunInTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		cursor, ok, err := tx.LoadCursor(ctx, w.scope, storage.CursorBRDA)
		if err != nil {
			return err
		}
		if !ok {
			return tx.SaveCursor(ctx, w.scope, storage.CursorBRDA, now.Truncate(w.period))
		}
		candidate := cursor.Add(w.period)
		if candidate.After(now) {
			return nil
		}
		entries, err := tx.ListHistoryBetween(ctx, cursor, candidate)
		if err != nil {
			return err
		}
		blob, err = json.Marshal(Deposit{Scope: w.scope, Watermark: candidate, Entries: entries})
		if err != nil {
			return pkgerrors.Wrap(err, pkgerrors.CodeInternal, "marshaling deposit")
		}
		next = candidate
		return nil
	})
	if err != nil || blob == nil {
		return err
	}
	if err := w.uploader.Upload(ctx, w.scope, next, blob); err != nil {
		return err
	}
	return w.store.RunInTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.SaveCursor(ctx, w.scope, storage.CursorBRDA, next)
	})
}
