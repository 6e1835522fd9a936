package batch

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"eppd/internal/model"
	"eppd/internal/registry"
	"eppd/internal/storage"
	pkgerrors "eppd/pkg/errors"
	"eppd/pkg/testutil"
)

var batchStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRegistry() *registry.StaticProvider {
	return registry.NewStaticProvider(
		[]*registry.TLD{{
			Name:           "test",
			Phase:          registry.PhaseGeneralAvailability,
			RenewCostCents: 1100,
			Currency:       "USD",
		}},
		nil,
	)
}

// seedDomain stores a registered domain whose autorenew recurrence first
// fires at the given expiration.
func seedDomain(t *testing.T, store storage.Store, fqdn string, expiration time.Time) *model.Recurrence {
	t.Helper()
	rec := &model.Recurrence{
		ID:           uuid.NewString(),
		DomainRepoID: uuid.NewString(),
		TargetID:     fqdn,
		RegistrarID:  "registrar-a",
		Reason:       model.BillingAutorenew,
		EventTime:    expiration,
		EndTime:      model.EndOfTime,
	}
	d := &model.Domain{
		ResourceBase: model.ResourceBase{
			RepoID:                 rec.DomainRepoID,
			ForeignKey:             fqdn,
			CreationClientID:       "registrar-a",
			CurrentSponsorClientID: "registrar-a",
			CreationTime:           expiration.AddDate(-1, 0, 0),
			DeletionTime:           model.EndOfTime,
		},
		TLD:                        "test",
		RegistrationExpirationTime: expiration,
		AutorenewRecurrenceID:      rec.ID,
	}
	err := store.RunInTransaction(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		if err := tx.SaveResource(ctx, d); err != nil {
			return err
		}
		return tx.SaveEntity(ctx, rec)
	})
	require.NoError(t, err)
	return rec
}

func loadDomain(t *testing.T, store storage.Store, fqdn string) *model.Domain {
	t.Helper()
	var d *model.Domain
	err := store.RunInTransaction(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		r, err := tx.LoadResource(ctx, model.KindDomain, fqdn)
		if err != nil {
			return err
		}
		d = r.Clone().(*model.Domain)
		return nil
	})
	require.NoError(t, err)
	return d
}

func loadRecurrence(t *testing.T, store storage.Store, id string) *model.Recurrence {
	t.Helper()
	var rec *model.Recurrence
	err := store.RunInTransaction(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		e, err := tx.LoadEntity(ctx, model.EntityKey{Kind: model.EntityRecurrence, ID: id})
		if err != nil {
			return err
		}
		rec = e.CloneEntity().(*model.Recurrence)
		return nil
	})
	require.NoError(t, err)
	return rec
}

func saveHistory(t *testing.T, store storage.Store, target string, at time.Time) {
	t.Helper()
	err := store.RunInTransaction(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		return tx.SaveEntity(ctx, &model.HistoryEntry{
			ID:               uuid.NewString(),
			Type:             model.HistoryDomainCreate,
			ResourceKind:     model.KindDomain,
			TargetID:         target,
			ClientID:         "registrar-a",
			ModificationTime: at,
		})
	})
	require.NoError(t, err)
}

func TestRecurringBillerExpandsElapsedCycles(t *testing.T) {
	store := storage.NewMemoryStore()
	clock := testutil.NewFakeClock(batchStart)
	rec := seedDomain(t, store, "billed.test", batchStart.AddDate(-2, 0, -10))

	biller := NewRecurringBiller(store, testRegistry(), clock, testLogger(), nil)
	require.NoError(t, biller.RunOnce(context.Background()))

	d := loadDomain(t, store, "billed.test")
	require.Equal(t, batchStart.AddDate(0, 0, -10), d.RegistrationExpirationTime,
		"two elapsed cycles extend the registration two years")
	require.Equal(t, batchStart.AddDate(0, 0, -10), loadRecurrence(t, store, rec.ID).EventTime)

	cursor, ok, err := store.PeekCursor(context.Background(), "test", storage.CursorRecurringBilling)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, batchStart, cursor)
}

func TestRecurringBillerIsIdempotentBehindCursor(t *testing.T) {
	store := storage.NewMemoryStore()
	clock := testutil.NewFakeClock(batchStart)
	seedDomain(t, store, "once.test", batchStart.AddDate(-1, 0, 0))

	biller := NewRecurringBiller(store, testRegistry(), clock, testLogger(), nil)
	require.NoError(t, biller.RunOnce(context.Background()))
	first := loadDomain(t, store, "once.test").RegistrationExpirationTime

	require.NoError(t, biller.RunOnce(context.Background()))
	require.Equal(t, first, loadDomain(t, store, "once.test").RegistrationExpirationTime,
		"a second run at the same instant expands nothing")
}

func TestRecurringBillerStopsAtTruncatedRecurrence(t *testing.T) {
	store := storage.NewMemoryStore()
	clock := testutil.NewFakeClock(batchStart)
	rec := seedDomain(t, store, "pending.test", batchStart.AddDate(-1, 0, 0))

	// A pending transfer truncates the recurrence to its own expiration;
	// nothing past the end time may bill.
	err := store.RunInTransaction(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		e, err := tx.LoadEntity(ctx, rec.Key())
		if err != nil {
			return err
		}
		truncated := e.CloneEntity().(*model.Recurrence)
		truncated.EndTime = truncated.EventTime
		return tx.SaveEntity(ctx, truncated)
	})
	require.NoError(t, err)

	biller := NewRecurringBiller(store, testRegistry(), clock, testLogger(), nil)
	require.NoError(t, biller.RunOnce(context.Background()))

	d := loadDomain(t, store, "pending.test")
	require.Equal(t, batchStart.AddDate(-1, 0, 0), d.RegistrationExpirationTime)
}

func TestRecurringBillerSkipsDeletedDomain(t *testing.T) {
	store := storage.NewMemoryStore()
	clock := testutil.NewFakeClock(batchStart)
	seedDomain(t, store, "gone.test", batchStart.AddDate(-1, 0, 0))

	err := store.RunInTransaction(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		r, err := tx.LoadResource(ctx, model.KindDomain, "gone.test")
		if err != nil {
			return err
		}
		d := r.Clone().(*model.Domain)
		d.DeletionTime = batchStart.Add(-time.Hour)
		return tx.SaveResource(ctx, d)
	})
	require.NoError(t, err)

	biller := NewRecurringBiller(store, testRegistry(), clock, testLogger(), nil)
	require.NoError(t, biller.RunOnce(context.Background()))

	d := loadDomain(t, store, "gone.test")
	require.Equal(t, batchStart.AddDate(-1, 0, 0), d.RegistrationExpirationTime)
}

// fakeUploader records deliveries to the escrow provider.
type fakeUploader struct {
	uploads  []time.Time
	deposits map[time.Time][]byte
	reports  []time.Time
	fail     bool
}

func (u *fakeUploader) Upload(_ context.Context, _ string, watermark time.Time, deposit []byte) error {
	if u.fail {
		return pkgerrors.New(pkgerrors.CodeInternal, "sftp down")
	}
	u.uploads = append(u.uploads, watermark)
	if u.deposits == nil {
		u.deposits = make(map[time.Time][]byte)
	}
	u.deposits[watermark] = deposit
	return nil
}

func (u *fakeUploader) Report(_ context.Context, _ string, watermark time.Time) error {
	u.reports = append(u.reports, watermark)
	return nil
}

func TestEscrowPipelineStagesUploadsReports(t *testing.T) {
	store := storage.NewMemoryStore()
	clock := testutil.NewFakeClock(batchStart)
	uploader := &fakeUploader{}
	w := NewEscrowWorker(store, uploader, clock, testLogger(), nil, "test", 24*time.Hour)

	// First run only anchors the staging cursor.
	require.NoError(t, w.RunOnce(context.Background()))
	require.Empty(t, uploader.uploads)

	saveHistory(t, store, "escrowed.test", batchStart.Add(time.Hour))
	clock.Advance(24 * time.Hour)
	require.NoError(t, w.RunOnce(context.Background()))

	watermark := batchStart.Truncate(24 * time.Hour).Add(24 * time.Hour)
	require.Equal(t, []time.Time{watermark}, uploader.uploads)
	require.Equal(t, []time.Time{watermark}, uploader.reports)

	for _, cursorType := range []storage.CursorType{
		storage.CursorRDEStaging, storage.CursorRDEUpload, storage.CursorRDEReport,
	} {
		cursor, ok, err := store.PeekCursor(context.Background(), "test", cursorType)
		require.NoError(t, err)
		require.True(t, ok, string(cursorType))
		require.Equal(t, watermark, cursor, string(cursorType))
	}
}

func TestEscrowUploadHonorsCoolOff(t *testing.T) {
	store := storage.NewMemoryStore()
	clock := testutil.NewFakeClock(batchStart.Truncate(30 * time.Minute))
	uploader := &fakeUploader{}
	w := NewEscrowWorker(store, uploader, clock, testLogger(), nil, "test", 30*time.Minute)

	require.NoError(t, w.RunOnce(context.Background()))
	clock.Advance(30 * time.Minute)
	require.NoError(t, w.RunOnce(context.Background()))
	require.Len(t, uploader.uploads, 1)

	// The next deposit stages but must wait out the two hour window since
	// the last SFTP contact.
	clock.Advance(30 * time.Minute)
	require.NoError(t, w.RunOnce(context.Background()))
	require.Len(t, uploader.uploads, 1, "upload within the cool-off window")

	clock.Advance(2 * time.Hour)
	require.NoError(t, w.RunOnce(context.Background()))
	require.Len(t, uploader.uploads, 2)
}

func TestEscrowFailedUploadRetries(t *testing.T) {
	store := storage.NewMemoryStore()
	clock := testutil.NewFakeClock(batchStart)
	uploader := &fakeUploader{fail: true}
	w := NewEscrowWorker(store, uploader, clock, testLogger(), nil, "test", 24*time.Hour)

	require.NoError(t, w.RunOnce(context.Background()))
	clock.Advance(24 * time.Hour)
	require.Error(t, w.RunOnce(context.Background()))

	// The upload cursor never moved, so the same watermark goes out once
	// the provider recovers.
	uploader.fail = false
	require.NoError(t, w.RunOnce(context.Background()))
	require.Len(t, uploader.uploads, 1)
}

// A restart between staging and upload must not lose the staged period: the
// deposit is rebuilt from the history table, not process memory.
func TestEscrowUploadSurvivesRestart(t *testing.T) {
	store := storage.NewMemoryStore()
	clock := testutil.NewFakeClock(batchStart)
	down := &fakeUploader{fail: true}
	w1 := NewEscrowWorker(store, down, clock, testLogger(), nil, "test", 24*time.Hour)

	require.NoError(t, w1.RunOnce(context.Background()))
	saveHistory(t, store, "staged.test", batchStart.Add(time.Hour))
	clock.Advance(24 * time.Hour)
	// Staging cursor advances durably, upload fails, process dies here.
	require.Error(t, w1.RunOnce(context.Background()))

	uploader := &fakeUploader{}
	w2 := NewEscrowWorker(store, uploader, clock, testLogger(), nil, "test", 24*time.Hour)
	clock.Advance(24 * time.Hour)
	require.NoError(t, w2.RunOnce(context.Background()))

	first := batchStart.Truncate(24 * time.Hour).Add(24 * time.Hour)
	require.Equal(t, []time.Time{first}, uploader.uploads,
		"the period staged before the restart uploads first")

	var dep Deposit
	require.NoError(t, json.Unmarshal(uploader.deposits[first], &dep))
	require.Len(t, dep.Entries, 1)
	require.Equal(t, "staged.test", dep.Entries[0].TargetID)

	clock.Advance(2 * time.Hour)
	require.NoError(t, w2.RunOnce(context.Background()))
	require.Equal(t, []time.Time{first, first.Add(24 * time.Hour)}, uploader.uploads)
}

func TestBRDAStagesOncePerWeek(t *testing.T) {
	store := storage.NewMemoryStore()
	clock := testutil.NewFakeClock(batchStart)
	uploader := &fakeUploader{}
	w := NewBRDAWorker(store, uploader, clock, testLogger(), "test")

	require.NoError(t, w.RunOnce(context.Background()))
	require.Empty(t, uploader.uploads)

	cursor, ok, err := store.PeekCursor(context.Background(), "test", storage.CursorBRDA)
	require.NoError(t, err)
	require.True(t, ok)

	clock.Set(cursor.Add(7 * 24 * time.Hour))
	require.NoError(t, w.RunOnce(context.Background()))
	require.Equal(t, []time.Time{cursor.Add(7 * 24 * time.Hour)}, uploader.uploads)

	// Nothing more until another full week elapses.
	clock.Advance(time.Hour)
	require.NoError(t, w.RunOnce(context.Background()))
	require.Len(t, uploader.uploads, 1)
}

// fakePublisher records history records handed to the broker.
type fakePublisher struct {
	keys []string
	fail bool
}

func (p *fakePublisher) Publish(_ context.Context, key string, _ []byte) error {
	if p.fail {
		return pkgerrors.New(pkgerrors.CodeInternal, "broker down")
	}
	p.keys = append(p.keys, key)
	return nil
}

func TestHistoryOutboxPublishesOnce(t *testing.T) {
	store := storage.NewMemoryStore()
	clock := testutil.NewFakeClock(batchStart)
	saveHistory(t, store, "first.test", batchStart.Add(-2*time.Hour))
	saveHistory(t, store, "second.test", batchStart.Add(-time.Hour))

	pub := &fakePublisher{}
	outbox := NewHistoryOutbox(store, pub, clock, testLogger(), nil)
	require.NoError(t, outbox.RunOnce(context.Background()))
	require.Equal(t, []string{"first.test", "second.test"}, pub.keys)

	// Entries behind the cursor never republish; new ones do.
	saveHistory(t, store, "third.test", batchStart.Add(time.Minute))
	clock.Advance(time.Hour)
	require.NoError(t, outbox.RunOnce(context.Background()))
	require.Equal(t, []string{"first.test", "second.test", "third.test"}, pub.keys)
}

func TestHistoryOutboxKeepsCursorOnFailure(t *testing.T) {
	store := storage.NewMemoryStore()
	clock := testutil.NewFakeClock(batchStart)
	saveHistory(t, store, "retried.test", batchStart.Add(-time.Hour))

	pub := &fakePublisher{fail: true}
	outbox := NewHistoryOutbox(store, pub, clock, testLogger(), nil)
	require.Error(t, outbox.RunOnce(context.Background()))

	pub.fail = false
	require.NoError(t, outbox.RunOnce(context.Background()))
	require.Equal(t, []string{"retried.test"}, pub.keys)
}
