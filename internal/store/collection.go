package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/Aman-CERP/amanembed/internal/search"
)

// Backend is the persistence contract behind a Collection.
type Backend interface {
	LoadAll(ctx context.Context) ([]EntityRecord, map[string][]VectorRecord, error)
	Upsert(ctx context.Context, entities []EntityRecord, vectors []VectorRecord) error
	Delete(ctx context.Context, keys []string) error
}

// Collection is the in-memory entity set backed by a Backend.
type Collection struct {
	mu       sync.RWMutex
	backend  Backend
	entities map[string]*Entity
	deleted  map[string]struct{}
	logger   *slog.Logger
}

// NewCollection creates an empty collection.
func NewCollection(backend Backend, logger *slog.Logger) *Collection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collection{
		backend:  backend,
		entities: make(map[string]*Entity),
		deleted:  make(map[string]struct{}),
		logger:   logger,
	}
}

// Load replaces the in-memory set with the persisted one.
func (c *Collection) Load(ctx context.Context) error {
	records, vectors, err := c.backend.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load collection: %w", err)
	}

	entities := make(map[string]*Entity, len(records))
	for _, rec := range records {
		entities[rec.Key] = entityFromRecord(rec, vectors[rec.Key])
	}

	c.mu.Lock()
	c.entities = entities
	c.deleted = make(map[string]struct{})
	c.mu.Unlock()

	c.logger.Debug("collection_loaded", slog.Int("entities", len(entities)))
	return nil
}

// Get returns the entity with key.
func (c *Collection) Get(key string) (*Entity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entities[key]
	return e, ok
}

// Put adds or replaces an entity.
func (c *Collection) Put(e *Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entities[e.Key()] = e
	delete(c.deleted, e.Key())
}

// Delete removes an entity. The next save removes it from the backend.
func (c *Collection) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entities[key]; !ok {
		return false
	}
	delete(c.entities, key)
	c.deleted[key] = struct{}{}
	return true
}

// All returns every entity ordered by key.
func (c *Collection) All() []*Entity {
	c.mu.RLock()
	out := make([]*Entity, 0, len(c.entities))
	for _, e := range c.entities {
		out = append(out, e)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// BySourcePath returns the entities read from path, ordered by key.
func (c *Collection) BySourcePath(path string) []*Entity {
	var out []*Entity
	for _, e := range c.All() {
		if e.SourcePath() == path {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of entities.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entities)
}

// Save persists every modified entity and flushes pending deletions.
func (c *Collection) Save(ctx context.Context) error {
	var modified []*Entity
	for _, e := range c.All() {
		if e.isModified() {
			modified = append(modified, e)
		}
	}
	return c.SaveBatch(ctx, modified)
}

// SaveBatch persists the given entities and flushes pending deletions.
func (c *Collection) SaveBatch(ctx context.Context, entities []*Entity) error {
	if err := c.flushDeletes(ctx); err != nil {
		return err
	}
	if len(entities) == 0 {
		return nil
	}

	records := make([]EntityRecord, 0, len(entities))
	var vectors []VectorRecord
	live := make([]*Entity, 0, len(entities))
	for _, e := range entities {
		// Skip entities deleted since they were handed to us.
		if cur, ok := c.Get(e.Key()); !ok || cur != e {
			continue
		}
		rec, vecs := e.snapshot()
		records = append(records, rec)
		vectors = append(vectors, vecs...)
		live = append(live, e)
	}

	if err := c.backend.Upsert(ctx, records, vectors); err != nil {
		return fmt.Errorf("save %d entities: %w", len(records), err)
	}
	for _, e := range live {
		e.clearModified()
	}
	return nil
}

func (c *Collection) flushDeletes(ctx context.Context) error {
	c.mu.Lock()
	if len(c.deleted) == 0 {
		c.mu.Unlock()
		return nil
	}
	keys := make([]string, 0, len(c.deleted))
	for k := range c.deleted {
		keys = append(keys, k)
	}
	c.mu.Unlock()

	sort.Strings(keys)
	if err := c.backend.Delete(ctx, keys); err != nil {
		return fmt.Errorf("delete %d entities: %w", len(keys), err)
	}

	c.mu.Lock()
	for _, k := range keys {
		delete(c.deleted, k)
	}
	c.mu.Unlock()
	return nil
}

// Candidates returns the fresh vectors of modelKey for in-memory ranking.
func (c *Collection) Candidates(modelKey string) []search.Candidate {
	all := c.All()
	out := make([]search.Candidate, 0, len(all))
	for _, e := range all {
		vec, ok := e.FreshVector(modelKey)
		if !ok {
			continue
		}
		out = append(out, search.Candidate{
			Key:        e.Key(),
			Type:       e.Type(),
			SourcePath: e.SourcePath(),
			Vector:     vec,
		})
	}
	return out
}

// Missing returns entities without a fresh vector for modelKey, ordered by key.
func (c *Collection) Missing(modelKey string) []*Entity {
	var out []*Entity
	for _, e := range c.All() {
		if _, ok := e.FreshVector(modelKey); !ok {
			out = append(out, e)
		}
	}
	return out
}
