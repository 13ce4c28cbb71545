// Package memstore implements the store on in-memory fixtures. Tests and
// the example build their worlds with it: declare collections and foreign
// keys, put rows in, and the engine sees a fully working datastore with
// filters, projections and paging.
package memstore

import (
	"context"
	"sync"

	"github.com/Fliegerweb/searchsync/store"
	"github.com/Fliegerweb/searchsync/x"
)

var log = x.Log("memstore")

type MemStore struct {
	mu    sync.RWMutex
	rows  map[string][]x.Row
	pks   map[string]string
	edges []store.Relation
}

// New returns an empty store, without going through the registry.
func New() *MemStore {
	ms := new(MemStore)
	ms.reset()
	return ms
}

func (ms *MemStore) reset() {
	ms.rows = make(map[string][]x.Row)
	ms.pks = make(map[string]string)
	ms.edges = nil
}

func (ms *MemStore) Init(args ...string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.reset()
	return nil
}

// AddCollection declares a collection and its primary key column. Returns
// the store for chaining.
func (ms *MemStore) AddCollection(name, pk string) *MemStore {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.pks[name] = pk
	if _, present := ms.rows[name]; !present {
		ms.rows[name] = nil
	}
	return ms
}

// AddRelation declares a foreign key: collection.field points at the
// primary key of related. An empty field declares an edge whose linking
// column the store cannot name.
func (ms *MemStore) AddRelation(collection, field, related string) *MemStore {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.edges = append(ms.edges, store.Relation{
		Collection: collection,
		Field:      field,
		Related:    related,
	})
	return ms
}

// Put upserts rows by primary key value, keeping first-insert order.
func (ms *MemStore) Put(collection string, rows ...x.Row) *MemStore {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	pk, present := ms.pks[collection]
	if !present {
		log.WithField("collection", collection).Fatal("Put into undeclared collection")
		return ms
	}
next:
	for _, row := range rows {
		key := x.KeyString(row[pk])
		for i, have := range ms.rows[collection] {
			if x.KeyString(have[pk]) == key {
				ms.rows[collection][i] = row
				continue next
			}
		}
		ms.rows[collection] = append(ms.rows[collection], row)
	}
	return ms
}

// Remove deletes the row with the given primary key value. Reports whether
// anything was there.
func (ms *MemStore) Remove(collection string, id interface{}) bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	pk, present := ms.pks[collection]
	if !present {
		return false
	}
	key := x.KeyString(id)
	rows := ms.rows[collection]
	for i, have := range rows {
		if x.KeyString(have[pk]) == key {
			ms.rows[collection] = append(rows[:i:i], rows[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of rows in a collection.
func (ms *MemStore) Len(collection string) int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.rows[collection])
}

func (ms *MemStore) ReadByQuery(ctx context.Context, collection string,
	q store.Query) ([]x.Row, error) {

	ms.mu.RLock()
	defer ms.mu.RUnlock()
	var out []x.Row
	skipped := 0
	for _, row := range ms.rows[collection] {
		if !match(row, q.Filter) {
			continue
		}
		if skipped < q.Offset {
			skipped++
			continue
		}
		out = append(out, project(row, q.Fields))
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (ms *MemStore) ReadMany(ctx context.Context, collection string,
	ids []interface{}, q store.Query) ([]x.Row, error) {

	ms.mu.RLock()
	defer ms.mu.RUnlock()
	pk, present := ms.pks[collection]
	if !present {
		return nil, nil
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[x.KeyString(id)] = true
	}
	var out []x.Row
	for _, row := range ms.rows[collection] {
		if !want[x.KeyString(row[pk])] {
			continue
		}
		if !match(row, q.Filter) {
			continue
		}
		out = append(out, project(row, q.Fields))
	}
	return out, nil
}

func (ms *MemStore) KeysByQuery(ctx context.Context, collection string,
	filter x.Filter) ([]interface{}, error) {

	ms.mu.RLock()
	defer ms.mu.RUnlock()
	pk, present := ms.pks[collection]
	if !present {
		return nil, nil
	}
	var out []interface{}
	for _, row := range ms.rows[collection] {
		if match(row, filter) {
			out = append(out, row[pk])
		}
	}
	return out, nil
}

func (ms *MemStore) Schema(ctx context.Context) (*store.Schema, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	schema := &store.Schema{
		Collections: make(map[string]store.CollectionSchema, len(ms.pks)),
	}
	for name, pk := range ms.pks {
		schema.Collections[name] = store.CollectionSchema{PrimaryKey: pk}
	}
	schema.Relations = append(schema.Relations, ms.edges...)
	return schema, nil
}

// project clones the row, narrowed to the top-level columns covering the
// requested field paths. Nil fields means everything.
func project(row x.Row, fields []string) x.Row {
	if len(fields) == 0 {
		return row.Clone()
	}
	out := make(x.Row)
	for _, col := range x.Columns(fields) {
		if val, present := row[col]; present {
			out[col] = val
		}
	}
	return out
}

func init() {
	log.Info("Initing memstore")
	store.Register("memstore", new(MemStore))
}
