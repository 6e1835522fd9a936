package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"eppd/internal/model"
	pkgerrors "eppd/pkg/errors"
)

// MemoryStore is an in-memory Store with optimistic concurrency. Every key
// carries a version; a transaction records the versions it read and commit
// fails with ErrConflict if any of them moved. This mirrors the serialization
// behavior of the postgres store closely enough for flow tests.
type MemoryStore struct {
	mu        sync.Mutex
	resources map[string]model.Resource
	entities  map[model.EntityKey]model.Entity
	cursors   map[string]time.Time
	versions  map[string]uint64
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		resources: make(map[string]model.Resource),
		entities:  make(map[model.EntityKey]model.Entity),
		cursors:   make(map[string]time.Time),
		versions:  make(map[string]uint64),
	}
}

func resourceKey(kind model.Kind, foreignKey string) string {
	return fmt.Sprintf("resource/%s/%s", kind, foreignKey)
}

func entityVersionKey(key model.EntityKey) string {
	return fmt.Sprintf("entity/%s/%s", key.Kind, key.ID)
}

func cursorKey(scope string, cursorType CursorType) string {
	return fmt.Sprintf("cursor/%s/%s", scope, cursorType)
}

// RunInTransaction implements Store.
func (s *MemoryStore) RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memoryTx{
		store:         s,
		readVersions:  make(map[string]uint64),
		savedRes:      make(map[string]model.Resource),
		savedEntities: make(map[model.EntityKey]model.Entity),
		deleted:       make(map[model.EntityKey]struct{}),
		savedCursors:  make(map[string]time.Time),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return s.commit(tx)
}

// PeekCursor implements Store.
func (s *MemoryStore) PeekCursor(_ context.Context, scope string, cursorType CursorType) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.cursors[cursorKey(scope, cursorType)]
	return t, ok, nil
}

func (s *MemoryStore) commit(tx *memoryTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, readVersion := range tx.readVersions {
		if s.versions[key] != readVersion {
			return pkgerrors.Wrap(ErrConflict, pkgerrors.CodeConflict,
				fmt.Sprintf("stale read of %s", key))
		}
	}
	for key, r := range tx.savedRes {
		s.resources[key] = r.Clone()
		s.versions[key]++
	}
	for key, e := range tx.savedEntities {
		s.entities[key] = e.CloneEntity()
		s.versions[entityVersionKey(key)]++
	}
	for key := range tx.deleted {
		delete(s.entities, key)
		s.versions[entityVersionKey(key)]++
	}
	for key, watermark := range tx.savedCursors {
		s.cursors[key] = watermark
		s.versions[key]++
	}
	return nil
}

// memoryTx buffers writes and records read versions for commit-time
// validation. Reads see the transaction's own writes first.
type memoryTx struct {
	store         *MemoryStore
	readVersions  map[string]uint64
	savedRes      map[string]model.Resource
	savedEntities map[model.EntityKey]model.Entity
	deleted       map[model.EntityKey]struct{}
	savedCursors  map[string]time.Time
}

func (tx *memoryTx) trackRead(key string) {
	if _, ok := tx.readVersions[key]; !ok {
		tx.readVersions[key] = tx.store.versions[key]
	}
}

func (tx *memoryTx) LoadResource(_ context.Context, kind model.Kind, foreignKey string) (model.Resource, error) {
	key := resourceKey(kind, foreignKey)
	if r, ok := tx.savedRes[key]; ok {
		return r.Clone(), nil
	}
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	tx.trackRead(key)
	r, ok := tx.store.resources[key]
	if !ok {
		return nil, pkgerrors.Wrap(ErrNotFound, pkgerrors.CodeNotFound,
			fmt.Sprintf("%s %q", kind, foreignKey))
	}
	return r.Clone(), nil
}

func (tx *memoryTx) LoadApplication(_ context.Context, applicationID string) (*model.DomainApplication, error) {
	key := resourceKey(model.KindApplication, applicationID)
	if r, ok := tx.savedRes[key]; ok {
		return r.Clone().(*model.DomainApplication), nil
	}
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	tx.trackRead(key)
	r, ok := tx.store.resources[key]
	if !ok {
		return nil, pkgerrors.Wrap(ErrNotFound, pkgerrors.CodeNotFound,
			fmt.Sprintf("application %q", applicationID))
	}
	return r.Clone().(*model.DomainApplication), nil
}

func (tx *memoryTx) SaveResource(_ context.Context, r model.Resource) error {
	foreignKey := r.Base().ForeignKey
	if app, ok := r.(*model.DomainApplication); ok {
		foreignKey = app.ApplicationID
	}
	key := resourceKey(r.ResourceKind(), foreignKey)
	tx.store.mu.Lock()
	tx.trackRead(key)
	tx.store.mu.Unlock()
	tx.savedRes[key] = r.Clone()
	return nil
}

func (tx *memoryTx) LoadEntity(_ context.Context, key model.EntityKey) (model.Entity, error) {
	if _, ok := tx.deleted[key]; ok {
		return nil, pkgerrors.Wrap(ErrNotFound, pkgerrors.CodeNotFound,
			fmt.Sprintf("%s %q", key.Kind, key.ID))
	}
	if e, ok := tx.savedEntities[key]; ok {
		return e.CloneEntity(), nil
	}
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	tx.trackRead(entityVersionKey(key))
	e, ok := tx.store.entities[key]
	if !ok {
		return nil, pkgerrors.Wrap(ErrNotFound, pkgerrors.CodeNotFound,
			fmt.Sprintf("%s %q", key.Kind, key.ID))
	}
	return e.CloneEntity(), nil
}

func (tx *memoryTx) SaveEntity(_ context.Context, entities ...model.Entity) error {
	for _, e := range entities {
		key := e.Key()
		delete(tx.deleted, key)
		tx.savedEntities[key] = e.CloneEntity()
	}
	return nil
}

func (tx *memoryTx) DeleteEntities(_ context.Context, keys ...model.EntityKey) error {
	for _, key := range keys {
		delete(tx.savedEntities, key)
		tx.deleted[key] = struct{}{}
	}
	return nil
}

func (tx *memoryTx) ListPollMessages(_ context.Context, registrarID string, visibleAt time.Time) ([]*model.PollMessage, error) {
	var out []*model.PollMessage
	for _, e := range tx.visibleEntities() {
		m, ok := e.(*model.PollMessage)
		if !ok || m.RegistrarID != registrarID || m.EventTime.After(visibleAt) {
			continue
		}
		out = append(out, m.CloneEntity().(*model.PollMessage))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventTime.Before(out[j].EventTime) })
	return out, nil
}

func (tx *memoryTx) ListRecurrencesDue(_ context.Context, at time.Time) ([]*model.Recurrence, error) {
	var out []*model.Recurrence
	for _, e := range tx.visibleEntities() {
		r, ok := e.(*model.Recurrence)
		if !ok || r.EventTime.After(at) || !r.EventTime.Before(r.EndTime) {
			continue
		}
		out = append(out, r.CloneEntity().(*model.Recurrence))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memoryTx) ListHistoryBetween(_ context.Context, after, until time.Time) ([]*model.HistoryEntry, error) {
	var out []*model.HistoryEntry
	for _, e := range tx.visibleEntities() {
		h, ok := e.(*model.HistoryEntry)
		if !ok || !h.ModificationTime.After(after) || h.ModificationTime.After(until) {
			continue
		}
		out = append(out, h.CloneEntity().(*model.HistoryEntry))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ModificationTime.Before(out[j].ModificationTime)
	})
	return out, nil
}

// visibleEntities merges committed entities with the transaction's buffered
// writes and deletes. List reads do not track versions; flows never gate
// mutations on list results alone.
func (tx *memoryTx) visibleEntities() []model.Entity {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	var out []model.Entity
	for key, e := range tx.store.entities {
		if _, gone := tx.deleted[key]; gone {
			continue
		}
		if _, replaced := tx.savedEntities[key]; replaced {
			continue
		}
		out = append(out, e)
	}
	for _, e := range tx.savedEntities {
		out = append(out, e)
	}
	return out
}

func (tx *memoryTx) LoadCursor(_ context.Context, scope string, cursorType CursorType) (time.Time, bool, error) {
	key := cursorKey(scope, cursorType)
	if t, ok := tx.savedCursors[key]; ok {
		return t, true, nil
	}
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	tx.trackRead(key)
	t, ok := tx.store.cursors[key]
	return t, ok, nil
}

func (tx *memoryTx) SaveCursor(_ context.Context, scope string, cursorType CursorType, watermark time.Time) error {
	tx.savedCursors[cursorKey(scope, cursorType)] = watermark
	return nil
}
