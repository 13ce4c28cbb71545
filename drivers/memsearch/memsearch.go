// Package memsearch implements the search client on plain in-memory maps.
// It backs the test suites and local development, counts the calls it sees,
// and can save its contents to disk and load them back.
package memsearch

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/Fliegerweb/searchsync/search"
	"github.com/Fliegerweb/searchsync/x"
)

var log = x.Log("memsearch")

// Counts carries the number of calls a MemSearch has seen, by operation.
type Counts struct {
	Creates  int
	Clears   int
	Settings int
	Upserts  int
	Deletes  int
}

type MemSearch struct {
	mu       sync.RWMutex
	indexes  map[string]map[string]x.Document
	settings map[string]map[string]interface{}
	counts   Counts
}

// New returns a ready to use backend, without going through the registry.
func New() *MemSearch {
	ms := new(MemSearch)
	ms.reset()
	return ms
}

func (ms *MemSearch) reset() {
	ms.indexes = make(map[string]map[string]x.Document)
	ms.settings = make(map[string]map[string]interface{})
	ms.counts = Counts{}
}

func (ms *MemSearch) Init(args ...string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.reset()
	return nil
}

func (ms *MemSearch) CreateIndex(ctx context.Context, name string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.counts.Creates++
	if _, present := ms.indexes[name]; present {
		// Real backends complain here too; callers shrug it off.
		return errors.Errorf("memsearch: index %q already exists", name)
	}
	ms.indexes[name] = make(map[string]x.Document)
	return nil
}

func (ms *MemSearch) DeleteAllItems(ctx context.Context, name string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.counts.Clears++
	ms.indexes[name] = make(map[string]x.Document)
	return nil
}

func (ms *MemSearch) UpdateIndexSettings(ctx context.Context, name string,
	settings map[string]interface{}) error {

	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.counts.Settings++
	ms.settings[name] = settings
	return nil
}

func (ms *MemSearch) UpsertItem(ctx context.Context, name string,
	key interface{}, doc x.Document) error {

	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.counts.Upserts++
	idx := ms.indexes[name]
	if idx == nil {
		idx = make(map[string]x.Document)
		ms.indexes[name] = idx
	}
	idx[x.KeyString(key)] = doc
	return nil
}

func (ms *MemSearch) DeleteItem(ctx context.Context, name string, key interface{}) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.counts.Deletes++
	if idx := ms.indexes[name]; idx != nil {
		delete(idx, x.KeyString(key))
	}
	return nil
}

// Get returns the stored document under key.
func (ms *MemSearch) Get(name string, key interface{}) (x.Document, bool) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	idx := ms.indexes[name]
	if idx == nil {
		return nil, false
	}
	doc, present := idx[x.KeyString(key)]
	return doc, present
}

// All returns every document of an index, in no particular order.
func (ms *MemSearch) All(name string) []x.Document {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	var dup []x.Document
	for _, doc := range ms.indexes[name] {
		dup = append(dup, doc)
	}
	return dup
}

// Len returns how many documents an index holds.
func (ms *MemSearch) Len(name string) int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.indexes[name])
}

// Settings returns the settings last applied to an index.
func (ms *MemSearch) Settings(name string) map[string]interface{} {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.settings[name]
}

// Counts returns a snapshot of the call counts.
func (ms *MemSearch) Counts() Counts {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.counts
}

func init() {
	log.Info("Initing memsearch")
	search.Register("memsearch", new(MemSearch))
}
