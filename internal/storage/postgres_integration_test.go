//go:build integration

package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"eppd/internal/model"
	pkgerrors "eppd/pkg/errors"
)

type PostgresStoreSuite struct {
	suite.Suite
	ctx       context.Context
	container *tcpostgres.PostgresContainer
	pool      *pgxpool.Pool
	store     *PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.ctx = context.Background()

	container, err := tcpostgres.Run(s.ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("registry"),
		tcpostgres.WithUsername("registry"),
		tcpostgres.WithPassword("registry"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute)))
	s.Require().NoError(err)
	s.container = container

	dsn, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	s.pool, err = pgxpool.New(s.ctx, dsn)
	s.Require().NoError(err)

	s.store = NewPostgres(s.pool)
	s.Require().NoError(s.store.EnsureSchema(s.ctx))
}

func (s *PostgresStoreSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *PostgresStoreSuite) SetupTest() {
	for _, table := range []string{"resources", "entities", "cursors"} {
		_, err := s.pool.Exec(s.ctx, "TRUNCATE "+table)
		s.Require().NoError(err)
	}
}

func (s *PostgresStoreSuite) seedDomain(foreignKey string) {
	err := s.store.RunInTransaction(s.ctx, func(ctx context.Context, tx Tx) error {
		return tx.SaveResource(ctx, &model.Domain{
			ResourceBase: model.ResourceBase{
				RepoID:                 "1-TEST",
				ForeignKey:             foreignKey,
				CurrentSponsorClientID: "registrar-a",
				CreationTime:           time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
				DeletionTime:           model.EndOfTime,
				Statuses:               model.NewStatusSet(model.StatusOK),
			},
			TLD: "test",
		})
	})
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) TestResourceRoundTrip() {
	s.seedDomain("example.test")

	err := s.store.RunInTransaction(s.ctx, func(ctx context.Context, tx Tx) error {
		r, err := tx.LoadResource(ctx, model.KindDomain, "example.test")
		s.Require().NoError(err)
		d := r.(*model.Domain)
		s.Equal("registrar-a", d.CurrentSponsorClientID)
		s.Equal(model.EndOfTime, d.DeletionTime)
		s.True(d.Statuses.Has(model.StatusOK))
		return nil
	})
	s.NoError(err)

	err = s.store.RunInTransaction(s.ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.LoadResource(ctx, model.KindDomain, "missing.test")
		return err
	})
	s.True(pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func (s *PostgresStoreSuite) TestAbortedTransactionLeavesNoTrace() {
	s.seedDomain("example.test")

	boom := pkgerrors.New(pkgerrors.CodePrecondition, "nope")
	err := s.store.RunInTransaction(s.ctx, func(ctx context.Context, tx Tx) error {
		r, err := tx.LoadResource(ctx, model.KindDomain, "example.test")
		s.Require().NoError(err)
		r.Base().CurrentSponsorClientID = "registrar-b"
		s.Require().NoError(tx.SaveResource(ctx, r))
		return boom
	})
	s.ErrorIs(err, boom)

	err = s.store.RunInTransaction(s.ctx, func(ctx context.Context, tx Tx) error {
		r, err := tx.LoadResource(ctx, model.KindDomain, "example.test")
		s.Require().NoError(err)
		s.Equal("registrar-a", r.Base().CurrentSponsorClientID)
		return nil
	})
	s.NoError(err)
}

// Concurrent read-modify-write cycles against one row must serialize: every
// writer retries conflicts from a fresh read, and no append is lost.
func (s *PostgresStoreSuite) TestSerializableConflictsAreRetryable() {
	s.seedDomain("example.test")

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(host string) {
			defer wg.Done()
			for {
				err := s.store.RunInTransaction(s.ctx, func(ctx context.Context, tx Tx) error {
					r, err := tx.LoadResource(ctx, model.KindDomain, "example.test")
					if err != nil {
						return err
					}
					d := r.(*model.Domain)
					d.SubordinateHosts = append(d.SubordinateHosts, host)
					return tx.SaveResource(ctx, d)
				})
				if err == nil {
					return
				}
				if !pkgerrors.Retryable(err) {
					errs <- err
					return
				}
			}
		}(fmt.Sprintf("ns%d.example.test", i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.Require().NoError(err)
	}

	err := s.store.RunInTransaction(s.ctx, func(ctx context.Context, tx Tx) error {
		r, err := tx.LoadResource(ctx, model.KindDomain, "example.test")
		s.Require().NoError(err)
		s.Len(r.(*model.Domain).SubordinateHosts, writers)
		return nil
	})
	s.NoError(err)
}

func (s *PostgresStoreSuite) TestEntityLifecycle() {
	key := model.EntityKey{Kind: model.EntityBillingEvent, ID: "be-1"}
	err := s.store.RunInTransaction(s.ctx, func(ctx context.Context, tx Tx) error {
		return tx.SaveEntity(ctx, &model.BillingEvent{
			ID:          "be-1",
			RegistrarID: "registrar-a",
			TargetID:    "example.test",
			Reason:      model.BillingCreate,
			CostCents:   800,
			Currency:    "USD",
		})
	})
	s.Require().NoError(err)

	err = s.store.RunInTransaction(s.ctx, func(ctx context.Context, tx Tx) error {
		e, err := tx.LoadEntity(ctx, key)
		s.Require().NoError(err)
		s.Equal(int64(800), e.(*model.BillingEvent).CostCents)
		return tx.DeleteEntities(ctx, key)
	})
	s.Require().NoError(err)

	err = s.store.RunInTransaction(s.ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.LoadEntity(ctx, key)
		s.True(pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
		// A second delete of the same key is harmless.
		return tx.DeleteEntities(ctx, key)
	})
	s.NoError(err)
}

func (s *PostgresStoreSuite) TestPollMessageOrderAndVisibility() {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	err := s.store.RunInTransaction(s.ctx, func(ctx context.Context, tx Tx) error {
		return tx.SaveEntity(ctx,
			&model.PollMessage{ID: "m2", RegistrarID: "r1", EventTime: now.Add(-time.Hour)},
			&model.PollMessage{ID: "m1", RegistrarID: "r1", EventTime: now.Add(-2 * time.Hour)},
			&model.PollMessage{ID: "future", RegistrarID: "r1", EventTime: now.Add(time.Hour)},
			&model.PollMessage{ID: "other", RegistrarID: "r2", EventTime: now.Add(-time.Hour)},
		)
	})
	s.Require().NoError(err)

	err = s.store.RunInTransaction(s.ctx, func(ctx context.Context, tx Tx) error {
		msgs, err := tx.ListPollMessages(ctx, "r1", now)
		s.Require().NoError(err)
		s.Require().Len(msgs, 2)
		s.Equal("m1", msgs[0].ID)
		s.Equal("m2", msgs[1].ID)
		return nil
	})
	s.NoError(err)
}

// The due predicate reads EndTime through the codec's JSONB envelope; this
// pins the stored document shape against the query path.
func (s *PostgresStoreSuite) TestListRecurrencesDue() {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	err := s.store.RunInTransaction(s.ctx, func(ctx context.Context, tx Tx) error {
		return tx.SaveEntity(ctx,
			&model.Recurrence{
				ID: "due", TargetID: "due.test", RegistrarID: "r1",
				Reason:    model.BillingAutorenew,
				EventTime: now.Add(-time.Hour),
				EndTime:   model.EndOfTime,
			},
			&model.Recurrence{
				ID: "future", TargetID: "future.test", RegistrarID: "r1",
				Reason:    model.BillingAutorenew,
				EventTime: now.Add(time.Hour),
				EndTime:   model.EndOfTime,
			},
			&model.Recurrence{
				ID: "closed", TargetID: "closed.test", RegistrarID: "r1",
				Reason:    model.BillingAutorenew,
				EventTime: now.Add(-time.Hour),
				EndTime:   now.Add(-time.Hour),
			},
		)
	})
	s.Require().NoError(err)

	err = s.store.RunInTransaction(s.ctx, func(ctx context.Context, tx Tx) error {
		due, err := tx.ListRecurrencesDue(ctx, now)
		s.Require().NoError(err)
		s.Require().Len(due, 1)
		s.Equal("due", due[0].ID)
		s.True(due[0].EndTime.Equal(model.EndOfTime))
		return nil
	})
	s.NoError(err)
}

func (s *PostgresStoreSuite) TestHistoryWindowIsHalfOpen() {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	err := s.store.RunInTransaction(s.ctx, func(ctx context.Context, tx Tx) error {
		return tx.SaveEntity(ctx,
			&model.HistoryEntry{ID: "h1", TargetID: "a.test", ModificationTime: base},
			&model.HistoryEntry{ID: "h2", TargetID: "b.test", ModificationTime: base.Add(time.Hour)},
			&model.HistoryEntry{ID: "h3", TargetID: "c.test", ModificationTime: base.Add(2 * time.Hour)},
		)
	})
	s.Require().NoError(err)

	err = s.store.RunInTransaction(s.ctx, func(ctx context.Context, tx Tx) error {
		entries, err := tx.ListHistoryBetween(ctx, base, base.Add(2*time.Hour))
		s.Require().NoError(err)
		s.Require().Len(entries, 2)
		s.Equal("h2", entries[0].ID)
		s.Equal("h3", entries[1].ID)
		return nil
	})
	s.NoError(err)
}

func (s *PostgresStoreSuite) TestCursorRoundTrip() {
	watermark := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	_, ok, err := s.store.PeekCursor(s.ctx, "test", CursorRDEStaging)
	s.Require().NoError(err)
	s.False(ok)

	err = s.store.RunInTransaction(s.ctx, func(ctx context.Context, tx Tx) error {
		return tx.SaveCursor(ctx, "test", CursorRDEStaging, watermark)
	})
	s.Require().NoError(err)

	got, ok, err := s.store.PeekCursor(s.ctx, "test", CursorRDEStaging)
	s.Require().NoError(err)
	s.True(ok)
	s.True(got.Equal(watermark))
}
