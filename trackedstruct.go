package weave

import (
	"fmt"
	"hash/fnv"

	"github.com/mayaframework/weave/internal/database"
	"github.com/mayaframework/weave/internal/trackedstruct"
)

// TrackedStructConfig describes one declared tracked-struct type's field
// layout (spec.md §4.7).
type TrackedStructConfig = trackedstruct.Config

// TrackedStruct is an identity-bearing derived value created inside a
// tracked function's body, with per-field revision stamps and cascade
// delete when the creating query stops recreating it.
type TrackedStruct struct {
	db  *Database
	ing *trackedstruct.Ingredient
}

// NewTrackedStruct declares a new tracked-struct type. cfg.OnRemoved and
// cfg.OnEvent are managed by the database façade: cascade delete reaches
// every function later declared KeyedBy this struct's Index.
func NewTrackedStruct(db *Database, name string, cfg TrackedStructConfig) *TrackedStruct {
	return &TrackedStruct{db: db, ing: database.RegisterTrackedStruct(db.inner, name, cfg)}
}

// Index returns this tracked-struct type's ingredient index, to pass as
// NewFunction's keyedBy argument.
func (s *TrackedStruct) Index() Index { return s.ing.Index() }

// HashFields combines a tracked struct's identity fields into the hash
// GetOrCreate needs, the way torua's shard registry hashes a shard key:
// format each field and fold it through FNV-1a.
func HashFields(fields ...any) uint64 {
	h := fnv.New64a()
	for _, f := range fields {
		fmt.Fprintf(h, "%v\x00", f)
	}
	return h.Sum64()
}

// GetOrCreate implements spec.md §4.7 steps 1-6. It must be called from
// within a tracked function's Compute body: it reads the calling
// function's own key and running durability off the active query frame,
// which is how the creating query is recorded as this struct's creator
// and how cascade delete finds it again. Per spec.md §4.7 step 4,
// created_at is the database's true current revision, not the frame's
// accumulated changed_at (the running max of dependency stamps seen so
// far can be older than the current revision, e.g. when the only reads
// were of a pinned interned field or a backdated struct field).
func (s *TrackedStruct) GetOrCreate(idFieldsHash uint64, fields ...any) Id {
	f := activeFrame("TrackedStruct.GetOrCreate")
	disambig := disambiguate(idFieldsHash)
	now := s.db.inner.Revisions().Current()
	return s.ing.GetOrCreate(f.Key, idFieldsHash, disambig, fields, f.Durability(), now)
}

// Field reads field of id.
func (s *TrackedStruct) Field(id Id, field int) any {
	return s.ing.Field(id, field)
}

// SetLateField writes a write-once field declared Late in cfg.Late. Must
// be called from within the same tracked function that created id; a
// second call, or a call from a different query, panics. Like
// GetOrCreate, the field's changed_at stamp is the database's true
// current revision (spec.md §4.7 step 4), not the frame's accumulated
// changed_at.
func (s *TrackedStruct) SetLateField(id Id, field int, value any) {
	f := activeFrame("TrackedStruct.SetLateField")
	now := s.db.inner.Revisions().Current()
	s.ing.SetLateField(id, field, value, f.Key, now)
}
