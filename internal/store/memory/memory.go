// Package memory implements the store interfaces on plain maps. It backs
// tests and can stand in for the remote store when developing offline.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dimyferdiana/expense-tracker-sub001/internal/common"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/models"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/store"
)

type key struct {
	account string
	entity  models.EntityType
}

// Store is a map-backed store implementing both store.Local and store.Remote.
type Store struct {
	mu        sync.RWMutex
	data      map[key]map[string]models.Record
	dirty     bool
	reachable bool
	now       func() time.Time
}

// New returns an empty store that reports itself reachable.
func New() *Store {
	return &Store{
		data:      make(map[key]map[string]models.Record),
		reachable: true,
		now:       time.Now,
	}
}

// WithClock overrides the tombstone timestamp source. Tests use it.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// SetReachable toggles what IsReachable reports. Tests use it to simulate
// going offline.
func (s *Store) SetReachable(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reachable = v
}

func (s *Store) IsReachable(ctx context.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reachable
}

func (s *Store) Collection(t models.EntityType) store.Collection {
	return &Collection{store: s, entity: t}
}

func (s *Store) MarkDirty(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = true
	return nil
}

func (s *Store) ClearDirty(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = false
	return nil
}

func (s *Store) IsDirty(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty, nil
}

func (s *Store) Remove(ctx context.Context, t models.EntityType, id, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll := s.data[key{accountID, t}]
	if _, ok := coll[id]; !ok {
		return fmt.Errorf("remove %s %s: %w", t, id, common.ErrNotFound)
	}
	delete(coll, id)
	return nil
}

func (s *Store) PurgeTombstones(ctx context.Context, accountID string, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	purged := 0
	for k, coll := range s.data {
		if k.account != accountID {
			continue
		}
		for id, rec := range coll {
			if d := rec.Meta().DeletedAt; d != nil && d.Before(olderThan) {
				delete(coll, id)
				purged++
			}
		}
	}
	return purged, nil
}

// Collection adapts one (store, entity type) pair to store.Collection.
type Collection struct {
	store  *Store
	entity models.EntityType
}

func (c *Collection) bucket(accountID string, create bool) map[string]models.Record {
	k := key{accountID, c.entity}
	coll, ok := c.store.data[k]
	if !ok && create {
		coll = make(map[string]models.Record)
		c.store.data[k] = coll
	}
	return coll
}

func (c *Collection) GetAll(ctx context.Context, accountID string) ([]models.Record, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	coll := c.bucket(accountID, false)
	out := make([]models.Record, 0, len(coll))
	for _, rec := range coll {
		out = append(out, rec.Clone())
	}
	return out, nil
}

func (c *Collection) GetByID(ctx context.Context, id, accountID string) (models.Record, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	rec, ok := c.bucket(accountID, false)[id]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", c.entity, id, common.ErrNotFound)
	}
	return rec.Clone(), nil
}

func (c *Collection) Add(ctx context.Context, rec models.Record, accountID string) (models.Record, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	coll := c.bucket(accountID, true)
	if _, ok := coll[rec.GetID()]; ok {
		return nil, fmt.Errorf("%s %s: %w", c.entity, rec.GetID(), common.ErrAlreadyExists)
	}
	coll[rec.GetID()] = rec.Clone()
	return rec.Clone(), nil
}

func (c *Collection) Update(ctx context.Context, rec models.Record, accountID string) (models.Record, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	coll := c.bucket(accountID, true)
	if _, ok := coll[rec.GetID()]; !ok {
		return nil, fmt.Errorf("%s %s: %w", c.entity, rec.GetID(), common.ErrNotFound)
	}
	coll[rec.GetID()] = rec.Clone()
	return rec.Clone(), nil
}

func (c *Collection) Delete(ctx context.Context, id, accountID string) (string, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	rec, ok := c.bucket(accountID, false)[id]
	if !ok {
		return "", fmt.Errorf("%s %s: %w", c.entity, id, common.ErrNotFound)
	}
	if !rec.Meta().Deleted() {
		rec.Meta().Tombstone(c.store.now())
	}
	return id, nil
}
