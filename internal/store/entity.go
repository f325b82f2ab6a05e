// Package store holds entities and their embedding vectors.
//
// Entities live in memory in a Collection and are persisted to SQLite.
// A vector is valid for search only while its embed hash equals the
// entity's current content hash.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"
)

// EntityType is the class of an entity.
type EntityType string

const (
	// TypeSource is a whole source file.
	TypeSource EntityType = "source"
	// TypeBlock is a section of a source file.
	TypeBlock EntityType = "block"
)

// VectorRecord is one embedding of one entity under one model.
type VectorRecord struct {
	EntityKey string
	ModelKey  string
	Vector    []float32
	Tokens    int
	EmbedHash string
	Dims      int
	UpdatedAt time.Time
}

// Loader re-reads the embedding input of an entity whose text is not in memory.
type Loader func(ctx context.Context) (string, error)

// Entity is a unit of content. Safe for concurrent use.
type Entity struct {
	mu          sync.RWMutex
	key         string
	typ         EntityType
	sourcePath  string
	contentHash string
	content     string
	hasContent  bool
	loader      Loader
	attrs       map[string]string
	dirty       bool
	modified    bool
	updatedAt   time.Time
	vectors     map[string]*VectorRecord
}

// NewEntity creates an empty entity.
func NewEntity(key string, typ EntityType, sourcePath string) *Entity {
	return &Entity{
		key:        key,
		typ:        typ,
		sourcePath: sourcePath,
		attrs:      make(map[string]string),
		vectors:    make(map[string]*VectorRecord),
		modified:   true,
	}
}

// HashContent returns the content hash used for staleness checks.
func HashContent(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Key returns the unique entity key.
func (e *Entity) Key() string { return e.key }

// Type returns the entity class as a string.
func (e *Entity) Type() string { return string(e.typ) }

// SourcePath returns the path of the file the entity came from.
func (e *Entity) SourcePath() string { return e.sourcePath }

// ContentHash returns the hash of the last read content.
func (e *Entity) ContentHash() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.contentHash
}

// SetContent records freshly read text. It marks the entity dirty and
// returns true when the hash changed.
func (e *Entity) SetContent(text string) bool {
	hash := HashContent(text)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.content = text
	e.hasContent = true
	if hash == e.contentHash {
		return false
	}
	e.contentHash = hash
	e.dirty = true
	e.modified = true
	e.updatedAt = time.Now()
	return true
}

// SetLoader sets how to re-read content that is not held in memory.
func (e *Entity) SetLoader(l Loader) {
	e.mu.Lock()
	e.loader = l
	e.mu.Unlock()
}

// EmbedInput returns the text to embed.
func (e *Entity) EmbedInput(ctx context.Context) (string, error) {
	text, _, err := e.EmbedSnapshot(ctx)
	return text, err
}

// EmbedSnapshot returns the text to embed with the content hash it was
// read at, so a concurrent SetContent cannot pair old text with a new hash.
func (e *Entity) EmbedSnapshot(ctx context.Context) (string, string, error) {
	e.mu.RLock()
	content, hash, has, loader := e.content, e.contentHash, e.hasContent, e.loader
	e.mu.RUnlock()

	if has {
		return content, hash, nil
	}
	if loader == nil {
		return "", "", fmt.Errorf("entity %s: no content loaded", e.key)
	}
	text, err := loader(ctx)
	if err != nil {
		return "", "", fmt.Errorf("entity %s: %w", e.key, err)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.hasContent {
		// SetContent ran during the load and carries the newer text.
		return e.content, e.contentHash, nil
	}
	return text, hash, nil
}

// IsDirty reports whether the entity needs embedding.
func (e *Entity) IsDirty() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dirty
}

// MarkDirty flags the entity for embedding.
func (e *Entity) MarkDirty() {
	e.mu.Lock()
	e.dirty = true
	e.mu.Unlock()
}

// ClearDirty drops the dirty flag without writing a vector.
func (e *Entity) ClearDirty() {
	e.mu.Lock()
	e.dirty = false
	e.mu.Unlock()
}

// SetEmbedding stores a vector computed from content with embedHash. The
// dirty flag is cleared only if that content is still current.
func (e *Entity) SetEmbedding(modelKey string, vector []float32, tokens int, embedHash string, at time.Time) {
	if len(vector) == 0 {
		return
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.vectors[modelKey] = &VectorRecord{
		EntityKey: e.key,
		ModelKey:  modelKey,
		Vector:    vec,
		Tokens:    tokens,
		EmbedHash: embedHash,
		Dims:      len(vec),
		UpdatedAt: at,
	}
	if embedHash == e.contentHash {
		e.dirty = false
	}
	e.modified = true
}

// Vector returns a copy of the record for modelKey, fresh or not.
func (e *Entity) Vector(modelKey string) (VectorRecord, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, ok := e.vectors[modelKey]
	if !ok {
		return VectorRecord{}, false
	}
	return *rec, true
}

// FreshVector returns the vector for modelKey only if it was computed from
// the current content.
func (e *Entity) FreshVector(modelKey string) ([]float32, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, ok := e.vectors[modelKey]
	if !ok || len(rec.Vector) == 0 || rec.EmbedHash != e.contentHash {
		return nil, false
	}
	return rec.Vector, true
}

// ModelKeys lists the models this entity has vectors for, sorted.
func (e *Entity) ModelKeys() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	keys := make([]string, 0, len(e.vectors))
	for k := range e.vectors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Attr returns an extra attribute.
func (e *Entity) Attr(name string) string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.attrs[name]
}

// SetAttr sets an extra attribute.
func (e *Entity) SetAttr(name, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.attrs[name] == value {
		return
	}
	e.attrs[name] = value
	e.modified = true
}

// EntityRecord is the persisted form of an entity row.
type EntityRecord struct {
	Key         string
	Type        EntityType
	SourcePath  string
	ContentHash string
	Attrs       map[string]string
	UpdatedAt   time.Time
}

// snapshot copies the persisted fields and vectors.
func (e *Entity) snapshot() (EntityRecord, []VectorRecord) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	attrs := make(map[string]string, len(e.attrs))
	for k, v := range e.attrs {
		attrs[k] = v
	}
	rec := EntityRecord{
		Key:         e.key,
		Type:        e.typ,
		SourcePath:  e.sourcePath,
		ContentHash: e.contentHash,
		Attrs:       attrs,
		UpdatedAt:   e.updatedAt,
	}
	vecs := make([]VectorRecord, 0, len(e.vectors))
	for _, v := range e.vectors {
		vecs = append(vecs, *v)
	}
	sort.Slice(vecs, func(i, j int) bool { return vecs[i].ModelKey < vecs[j].ModelKey })
	return rec, vecs
}

// entityFromRecord rebuilds a clean entity from persisted rows. Vectors that
// are missing for the active model are detected by the caller.
func entityFromRecord(rec EntityRecord, vecs []VectorRecord) *Entity {
	e := NewEntity(rec.Key, rec.Type, rec.SourcePath)
	e.contentHash = rec.ContentHash
	e.updatedAt = rec.UpdatedAt
	for k, v := range rec.Attrs {
		e.attrs[k] = v
	}
	for i := range vecs {
		v := vecs[i]
		e.vectors[v.ModelKey] = &v
	}
	e.modified = false
	return e
}

func (e *Entity) isModified() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.modified
}

func (e *Entity) clearModified() {
	e.mu.Lock()
	e.modified = false
	e.mu.Unlock()
}
