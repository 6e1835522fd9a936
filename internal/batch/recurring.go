package batch

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"eppd/internal/model"
	"eppd/internal/platform/metrics"
	"eppd/internal/registry"
	"eppd/internal/storage"
)

// maxConcurrentTLDs bounds how many TLDs the biller expands in parallel.
const maxConcurrentTLDs = 4

// RecurringBiller expands open autorenew recurrences into one-time billing
// events and rolls the registrations forward. Each TLD advances behind its
// own cursor, in its own transaction, so a failure in one TLD never stalls
// the others.
type RecurringBiller struct {
	store    storage.Store
	registry registry.Provider
	clock    Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewRecurringBiller builds the biller.
func NewRecurringBiller(store storage.Store, reg registry.Provider, clock Clock, logger *slog.Logger, m *metrics.Metrics) *RecurringBiller {
	return &RecurringBiller{store: store, registry: reg, clock: clock, logger: logger, metrics: m}
}

func (b *RecurringBiller) Name() string { return "recurring_billing" }

// RunOnce advances every TLD's billing cursor to now, expanding whatever
// recurrence cycles fell due since the last run.
func (b *RecurringBiller) RunOnce(ctx context.Context) error {
	now := b.clock.Now()
	tlds, err := b.registry.TLDNames(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentTLDs)
	for _, tld := range tlds {
		g.Go(func() error {
			return b.runTLD(gctx, tld, now)
		})
	}
	err = g.Wait()
	if b.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		b.metrics.BatchRun(b.Name(), outcome)
	}
	return err
}

func (b *RecurringBiller) runTLD(ctx context.Context, tld string, now time.Time) error {
	// Cheap out-of-transaction check; the authoritative read happens inside.
	if cursor, ok, err := b.store.PeekCursor(ctx, tld, storage.CursorRecurringBilling); err != nil {
		return err
	} else if ok && !cursor.Before(now) {
		return nil
	}
	tldCfg, err := b.registry.TLD(ctx, tld)
	if err != nil {
		return err
	}

	return b.store.RunInTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		cursor, ok, err := tx.LoadCursor(ctx, tld, storage.CursorRecurringBilling)
		if err != nil {
			return err
		}
		if ok && !cursor.Before(now) {
			return nil
		}

		due, err := tx.ListRecurrencesDue(ctx, now)
		if err != nil {
			return err
		}
		expanded := 0
		for _, rec := range due {
			if !strings.HasSuffix(rec.TargetID, "."+tld) {
				continue
			}
			n, err := b.expand(ctx, tx, rec, tldCfg, now)
			if err != nil {
				return err
			}
			expanded += n
		}
		if expanded > 0 {
			b.logger.InfoContext(ctx, "expanded autorenew recurrences",
				slog.String("tld", tld),
				slog.Int("cycles", expanded))
		}
		return tx.SaveCursor(ctx, tld, storage.CursorRecurringBilling, now)
	})
}

// expand writes one billing event per elapsed recurrence cycle and extends
// the domain a year per cycle. A recurrence truncated by a pending transfer
// stops billing at its end time.
func (b *RecurringBiller) expand(ctx context.Context, tx storage.Tx, rec *model.Recurrence, tldCfg *registry.TLD, now time.Time) (int, error) {
	r, err := tx.LoadResource(ctx, model.KindDomain, rec.TargetID)
	if err != nil {
		return 0, err
	}
	d := model.ProjectAtTime(r, now).(*model.Domain)
	if !d.Visible(now) {
		return 0, nil
	}

	cycles := 0
	for !rec.EventTime.After(now) && rec.EventTime.Before(rec.EndTime) {
		if err := tx.SaveEntity(ctx, &model.BillingEvent{
			ID:          uuid.NewString(),
			RegistrarID: rec.RegistrarID,
			TargetID:    rec.TargetID,
			Reason:      model.BillingAutorenew,
			PeriodYears: 1,
			CostCents:   tldCfg.RenewCostCents,
			Currency:    tldCfg.Currency,
			EventTime:   rec.EventTime,
			BillingTime: rec.EventTime,
		}); err != nil {
			return cycles, err
		}
		d.RegistrationExpirationTime = d.RegistrationExpirationTime.AddDate(1, 0, 0)
		rec.EventTime = rec.EventTime.AddDate(1, 0, 0)
		cycles++
	}
	if cycles == 0 {
		return 0, nil
	}
	if err := tx.SaveEntity(ctx, rec); err != nil {
		return cycles, err
	}
	return cycles, tx.SaveResource(ctx, d)
}
