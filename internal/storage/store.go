// Package storage defines the persistence seams for the registry core.
//
// Stores are interface-driven so the flow executor and batch workers can run
// against the in-memory implementation in unit tests and postgres in
// production without rewiring business code.
package storage

import (
	"context"
	"time"

	"eppd/internal/model"
)

// CursorType names a per-scope batch watermark.
type CursorType string

const (
	// CursorRecurringBilling gates expansion of autorenew recurrences into
	// one-time billing events.
	CursorRecurringBilling CursorType = "RECURRING_BILLING"
	// CursorRDEStaging gates rolling escrow deposit staging.
	CursorRDEStaging CursorType = "RDE_STAGING"
	// CursorRDEUpload gates escrow deposit upload.
	CursorRDEUpload CursorType = "RDE_UPLOAD"
	// CursorRDEReport gates escrow report submission.
	CursorRDEReport CursorType = "RDE_REPORT"
	// CursorBRDA gates bulk registration data access staging.
	CursorBRDA CursorType = "BRDA"
	// CursorRDEUploadSFTP records the last contact with the escrow provider's
	// SFTP endpoint. Deposits uploaded within two hours of each other are
	// merged by the provider, so uploads hold off while this is fresh.
	CursorRDEUploadSFTP CursorType = "RDE_UPLOAD_SFTP"
	// CursorHistoryOutbox gates publication of history entries to the
	// message broker.
	CursorHistoryOutbox CursorType = "HISTORY_OUTBOX"
)

// Tx is the transactional view a flow or batch unit works against. All reads
// and writes inside one RunInTransaction call see a consistent snapshot and
// commit atomically or not at all.
type Tx interface {
	// LoadResource loads the stored record for (kind, foreignKey).
	// Returns ErrNotFound if no record exists. Callers decide visibility by
	// projecting and checking the deletion time; a soft-deleted record is
	// still loadable here.
	LoadResource(ctx context.Context, kind model.Kind, foreignKey string) (model.Resource, error)
	// LoadApplication loads a launch application by application id.
	// Applications are not uniquely keyed by label, so they bypass the
	// foreign-key index.
	LoadApplication(ctx context.Context, applicationID string) (*model.DomainApplication, error)
	// SaveResource upserts the resource under its kind and foreign key.
	SaveResource(ctx context.Context, r model.Resource) error

	LoadEntity(ctx context.Context, key model.EntityKey) (model.Entity, error)
	SaveEntity(ctx context.Context, entities ...model.Entity) error
	// DeleteEntities removes the keyed entities. Missing keys are ignored so
	// that deleting an already-activated speculative set is harmless.
	DeleteEntities(ctx context.Context, keys ...model.EntityKey) error

	// ListPollMessages returns the registrar's queued messages with event
	// time at or before visibleAt, oldest first.
	ListPollMessages(ctx context.Context, registrarID string, visibleAt time.Time) ([]*model.PollMessage, error)
	// ListRecurrencesDue returns open recurrences whose next event time falls
	// at or before the given instant.
	ListRecurrencesDue(ctx context.Context, at time.Time) ([]*model.Recurrence, error)
	// ListHistoryBetween returns history entries with modification time in
	// (after, until], oldest first.
	ListHistoryBetween(ctx context.Context, after, until time.Time) ([]*model.HistoryEntry, error)

	LoadCursor(ctx context.Context, scope string, cursorType CursorType) (time.Time, bool, error)
	// SaveCursor overwrites the watermark unconditionally. Callers gating
	// irreversible external work must call this in the same transaction as
	// their local bookkeeping.
	SaveCursor(ctx context.Context, scope string, cursorType CursorType, watermark time.Time) error
}

// Store opens atomic transactions over the registry's records.
type Store interface {
	// RunInTransaction executes fn against a transactional view. If fn
	// returns an error nothing is committed. A commit-time collision with a
	// concurrent transaction surfaces as a CodeConflict error; callers retry
	// from a fresh read, never by reapplying a stale diff.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// PeekCursor reads a cursor outside any transaction. Cheap fast-path
	// checks only; decisions that gate irreversible work must re-read inside
	// the transaction that records them.
	PeekCursor(ctx context.Context, scope string, cursorType CursorType) (time.Time, bool, error)
}
