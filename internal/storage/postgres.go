package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"eppd/internal/model"
	pkgerrors "eppd/pkg/errors"
)

// Schema is the DDL for the postgres store. Resources and entities are JSONB
// documents; the columns pulled out of the JSON exist only to index the list
// queries.
const Schema = `
CREATE TABLE IF NOT EXISTS resources (
	kind        text        NOT NULL,
	foreign_key text        NOT NULL,
	data        jsonb       NOT NULL,
	updated_at  timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (kind, foreign_key)
);

CREATE TABLE IF NOT EXISTS entities (
	kind         text        NOT NULL,
	id           text        NOT NULL,
	registrar_id text        NOT NULL DEFAULT '',
	event_time   timestamptz,
	data         jsonb       NOT NULL,
	PRIMARY KEY (kind, id)
);
CREATE INDEX IF NOT EXISTS entities_registrar_event
	ON entities (kind, registrar_id, event_time);

CREATE TABLE IF NOT EXISTS cursors (
	scope       text        NOT NULL,
	cursor_type text        NOT NULL,
	watermark   timestamptz NOT NULL,
	PRIMARY KEY (scope, cursor_type)
);
`

// PostgresStore is the production Store. Transactions run at serializable
// isolation; serialization failures surface as CodeConflict so the flow
// executor can retry from a fresh read.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an existing connection pool.
func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.CodeFatalStorage, "ensure schema")
	}
	return nil
}

// RunInTransaction implements Store.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	pgtx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return pkgerrors.Wrap(err, pkgerrors.CodeFatalStorage, "begin transaction")
	}
	defer func() { _ = pgtx.Rollback(ctx) }()

	if err := fn(ctx, &postgresTx{tx: pgtx}); err != nil {
		return err
	}
	if err := pgtx.Commit(ctx); err != nil {
		return mapPgError(err, "commit transaction")
	}
	return nil
}

// PeekCursor implements Store.
func (s *PostgresStore) PeekCursor(ctx context.Context, scope string, cursorType CursorType) (time.Time, bool, error) {
	var watermark time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT watermark FROM cursors WHERE scope = $1 AND cursor_type = $2`,
		scope, string(cursorType)).Scan(&watermark)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, mapPgError(err, "peek cursor")
	}
	return watermark, true, nil
}

// mapPgError classifies driver errors. Serialization failures and deadlocks
// are retryable conflicts; anything else is fatal.
func mapPgError(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgerrcode.IsTransactionRollback(pgErr.Code) {
		return pkgerrors.Wrap(err, pkgerrors.CodeConflict, op)
	}
	return pkgerrors.Wrap(err, pkgerrors.CodeFatalStorage, op)
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) LoadResource(ctx context.Context, kind model.Kind, foreignKey string) (model.Resource, error) {
	var raw []byte
	err := t.tx.QueryRow(ctx,
		`SELECT data FROM resources WHERE kind = $1 AND foreign_key = $2`,
		string(kind), foreignKey).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, pkgerrors.Wrap(ErrNotFound, pkgerrors.CodeNotFound,
			fmt.Sprintf("%s %q", kind, foreignKey))
	}
	if err != nil {
		return nil, mapPgError(err, "load resource")
	}
	r, err := unmarshalResource(raw)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeFatalStorage, "decode resource")
	}
	return r, nil
}

func (t *postgresTx) LoadApplication(ctx context.Context, applicationID string) (*model.DomainApplication, error) {
	r, err := t.LoadResource(ctx, model.KindApplication, applicationID)
	if err != nil {
		return nil, err
	}
	return r.(*model.DomainApplication), nil
}

func (t *postgresTx) SaveResource(ctx context.Context, r model.Resource) error {
	foreignKey := r.Base().ForeignKey
	if app, ok := r.(*model.DomainApplication); ok {
		foreignKey = app.ApplicationID
	}
	raw, err := marshalResource(r)
	if err != nil {
		return pkgerrors.Wrap(err, pkgerrors.CodeFatalStorage, "encode resource")
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO resources (kind, foreign_key, data, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (kind, foreign_key)
		DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		string(r.ResourceKind()), foreignKey, raw)
	if err != nil {
		return mapPgError(err, "save resource")
	}
	return nil
}

func (t *postgresTx) LoadEntity(ctx context.Context, key model.EntityKey) (model.Entity, error) {
	var raw []byte
	err := t.tx.QueryRow(ctx,
		`SELECT data FROM entities WHERE kind = $1 AND id = $2`,
		string(key.Kind), key.ID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, pkgerrors.Wrap(ErrNotFound, pkgerrors.CodeNotFound,
			fmt.Sprintf("%s %q", key.Kind, key.ID))
	}
	if err != nil {
		return nil, mapPgError(err, "load entity")
	}
	e, err := unmarshalEntity(raw)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeFatalStorage, "decode entity")
	}
	return e, nil
}

func (t *postgresTx) SaveEntity(ctx context.Context, entities ...model.Entity) error {
	for _, e := range entities {
		raw, err := marshalEntity(e)
		if err != nil {
			return pkgerrors.Wrap(err, pkgerrors.CodeFatalStorage, "encode entity")
		}
		registrarID, eventTime := entityIndexFields(e)
		_, err = t.tx.Exec(ctx, `
			INSERT INTO entities (kind, id, registrar_id, event_time, data)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (kind, id)
			DO UPDATE SET registrar_id = EXCLUDED.registrar_id,
			              event_time = EXCLUDED.event_time,
			              data = EXCLUDED.data`,
			string(e.Key().Kind), e.Key().ID, registrarID, eventTime, raw)
		if err != nil {
			return mapPgError(err, "save entity")
		}
	}
	return nil
}

func entityIndexFields(e model.Entity) (string, *time.Time) {
	switch v := e.(type) {
	case *model.PollMessage:
		return v.RegistrarID, &v.EventTime
	case *model.BillingEvent:
		return v.RegistrarID, &v.BillingTime
	case *model.Recurrence:
		return v.RegistrarID, &v.EventTime
	case *model.HistoryEntry:
		return v.ClientID, &v.ModificationTime
	default:
		return "", nil
	}
}

func (t *postgresTx) DeleteEntities(ctx context.Context, keys ...model.EntityKey) error {
	for _, key := range keys {
		_, err := t.tx.Exec(ctx,
			`DELETE FROM entities WHERE kind = $1 AND id = $2`,
			string(key.Kind), key.ID)
		if err != nil {
			return mapPgError(err, "delete entity")
		}
	}
	return nil
}

func (t *postgresTx) ListPollMessages(ctx context.Context, registrarID string, visibleAt time.Time) ([]*model.PollMessage, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT data FROM entities
		WHERE kind = $1 AND registrar_id = $2 AND event_time <= $3
		ORDER BY event_time, id`,
		string(model.EntityPollMessage), registrarID, visibleAt)
	if err != nil {
		return nil, mapPgError(err, "list poll messages")
	}
	entities, err := collectEntities(rows)
	if err != nil {
		return nil, err
	}
	out := make([]*model.PollMessage, 0, len(entities))
	for _, e := range entities {
		out = append(out, e.(*model.PollMessage))
	}
	return out, nil
}

func (t *postgresTx) ListRecurrencesDue(ctx context.Context, at time.Time) ([]*model.Recurrence, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT data FROM entities
		WHERE kind = $1 AND event_time <= $2
		  AND event_time < (data->'data'->>'EndTime')::timestamptz
		ORDER BY id`,
		string(model.EntityRecurrence), at)
	if err != nil {
		return nil, mapPgError(err, "list recurrences")
	}
	entities, err := collectEntities(rows)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Recurrence, 0, len(entities))
	for _, e := range entities {
		out = append(out, e.(*model.Recurrence))
	}
	return out, nil
}

func (t *postgresTx) ListHistoryBetween(ctx context.Context, after, until time.Time) ([]*model.HistoryEntry, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT data FROM entities
		WHERE kind = $1 AND event_time > $2 AND event_time <= $3
		ORDER BY event_time, id`,
		string(model.EntityHistoryEntry), after, until)
	if err != nil {
		return nil, mapPgError(err, "list history")
	}
	entities, err := collectEntities(rows)
	if err != nil {
		return nil, err
	}
	out := make([]*model.HistoryEntry, 0, len(entities))
	for _, e := range entities {
		out = append(out, e.(*model.HistoryEntry))
	}
	return out, nil
}

func collectEntities(rows pgx.Rows) ([]model.Entity, error) {
	defer rows.Close()
	var out []model.Entity
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, mapPgError(err, "scan entity")
		}
		e, err := unmarshalEntity(raw)
		if err != nil {
			return nil, pkgerrors.Wrap(err, pkgerrors.CodeFatalStorage, "decode entity")
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(err, "iterate entities")
	}
	return out, nil
}

func (t *postgresTx) LoadCursor(ctx context.Context, scope string, cursorType CursorType) (time.Time, bool, error) {
	var watermark time.Time
	err := t.tx.QueryRow(ctx,
		`SELECT watermark FROM cursors WHERE scope = $1 AND cursor_type = $2`,
		scope, string(cursorType)).Scan(&watermark)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, mapPgError(err, "load cursor")
	}
	return watermark, true, nil
}

func (t *postgresTx) SaveCursor(ctx context.Context, scope string, cursorType CursorType, watermark time.Time) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO cursors (scope, cursor_type, watermark)
		VALUES ($1, $2, $3)
		ON CONFLICT (scope, cursor_type)
		DO UPDATE SET watermark = EXCLUDED.watermark`,
		scope, string(cursorType), watermark)
	if err != nil {
		return mapPgError(err, "save cursor")
	}
	return nil
}
