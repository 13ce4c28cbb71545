// Package store provides the row reading and schema contracts the sync
// engine runs against, to allow for easy extensibility to support various
// datastores.
package store

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/Fliegerweb/searchsync/x"
)

var log = x.Log("store")

// Query narrows a collection read. A nil Fields slice reads every column.
// Limit and Offset page through query reads and are ignored by ReadMany.
type Query struct {
	Fields []string
	Filter x.Filter
	Limit  int
	Offset int
}

// Relation is one foreign key edge: Collection holds Field, which points at
// the primary key of Related. Field can be empty when the store knows two
// collections are linked but cannot name the linking column.
type Relation struct {
	Collection string
	Field      string
	Related    string
}

// CollectionSchema describes one collection.
type CollectionSchema struct {
	PrimaryKey string
}

// Schema is the store layout as seen at one point in time. Presence in
// Collections is what makes a collection known to the engine.
type Schema struct {
	Collections map[string]CollectionSchema
	Relations   []Relation
}

// PrimaryKey returns the primary key column of a collection, and whether
// the collection is known and keyed at all.
func (s *Schema) PrimaryKey(collection string) (string, bool) {
	if s == nil {
		return "", false
	}
	cs, ok := s.Collections[collection]
	if !ok || cs.PrimaryKey == "" {
		return "", false
	}
	return cs.PrimaryKey, true
}

// RelationsInto returns the foreign key edges that point at the given
// collection.
func (s *Schema) RelationsInto(collection string) []Relation {
	if s == nil {
		return nil
	}
	var out []Relation
	for _, rel := range s.Relations {
		if rel.Related == collection {
			out = append(out, rel)
		}
	}
	return out
}

// Reader is the row access surface the engine needs from a store.
// Implement this interface (plus SchemaProvider) to add support for a
// datastore.
type Reader interface {
	// ReadByQuery returns rows matching the query, honoring Fields,
	// Filter, Limit and Offset.
	ReadByQuery(ctx context.Context, collection string, q Query) ([]x.Row, error)

	// ReadMany returns the rows whose primary keys are in ids, further
	// narrowed by q.Fields and q.Filter. Missing ids are simply absent
	// from the result.
	ReadMany(ctx context.Context, collection string, ids []interface{}, q Query) ([]x.Row, error)

	// KeysByQuery returns just the primary key values of rows matching
	// the filter.
	KeysByQuery(ctx context.Context, collection string, filter x.Filter) ([]interface{}, error)
}

// SchemaProvider serves the store layout. Implementations may cache; the
// engine asks once per logical operation.
type SchemaProvider interface {
	Schema(ctx context.Context) (*Schema, error)
}

// Store is what a full datastore driver provides.
type Store interface {
	Reader
	SchemaProvider

	// Init is used to initialize the store driver from string arguments,
	// e.g. a DSN.
	Init(args ...string) error
}

var (
	mutex   sync.RWMutex
	drivers = make(map[string]Store)
	driver  Store
)

// Register makes a store driver available under a name. Drivers call this
// from their init functions.
func Register(name string, store Store) {
	mutex.Lock()
	defer mutex.Unlock()
	if store == nil {
		log.WithField("driver", name).Fatal("Nil store")
		return
	}
	if _, dup := drivers[name]; dup {
		log.WithField("driver", name).Fatal("Register called twice for driver")
		return
	}
	log.WithField("driver", name).Debug("Registering store driver")
	drivers[name] = store
}

// Init picks the named driver and initializes it. The picked driver is what
// Get hands out afterwards.
func Init(name string, args ...string) error {
	mutex.Lock()
	defer mutex.Unlock()
	st, present := drivers[name]
	if !present {
		return errors.Errorf("store: no driver registered as %q", name)
	}
	if err := st.Init(args...); err != nil {
		return errors.Wrapf(err, "store: initializing %q", name)
	}
	driver = st
	return nil
}

// Get returns the driver picked by Init.
func Get() Store {
	mutex.RLock()
	defer mutex.RUnlock()
	if driver == nil {
		log.Fatal("No store driver initialized")
		return nil
	}
	return driver
}
