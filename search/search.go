// Package search provides an interface for search index operations, to
// allow for easy extensibility to support various search backends.
package search

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/Fliegerweb/searchsync/x"
)

var log = x.Log("search")

// All index operations are run via this Client interface. Implement it to
// add support for a search backend. Operations act on one index, named by
// the engine, and must be safe to retry: upserting the same document or
// deleting an already absent one is not an error.
type Client interface {
	// Init is used to initialize the backend driver from string
	// arguments, e.g. a cluster URL.
	Init(args ...string) error

	// CreateIndex creates the named index. Backends are free to fail
	// when the index already exists; callers treat that as fine.
	CreateIndex(ctx context.Context, name string) error

	// DeleteAllItems removes every document from the index, leaving the
	// index itself in place.
	DeleteAllItems(ctx context.Context, name string) error

	// UpdateIndexSettings applies backend specific settings to the index.
	UpdateIndexSettings(ctx context.Context, name string, settings map[string]interface{}) error

	// UpsertItem writes a document under the given key, replacing any
	// previous version.
	UpsertItem(ctx context.Context, name string, key interface{}, doc x.Document) error

	// DeleteItem removes the document under the given key. Deleting a
	// missing document is not an error.
	DeleteItem(ctx context.Context, name string, key interface{}) error
}

var (
	mutex   sync.RWMutex
	drivers = make(map[string]Client)
	driver  Client
)

// Register makes a backend driver available under a name. Drivers call
// this from their init functions.
func Register(name string, client Client) {
	mutex.Lock()
	defer mutex.Unlock()
	if client == nil {
		log.WithField("driver", name).Fatal("Nil search client")
		return
	}
	if _, dup := drivers[name]; dup {
		log.WithField("driver", name).Fatal("Register called twice for driver")
		return
	}
	log.WithField("driver", name).Debug("Registering search driver")
	drivers[name] = client
}

// Init picks the named backend and initializes it. An unknown name is a
// configuration mistake and comes back as an error for the caller to treat
// as fatal.
func Init(name string, args ...string) error {
	mutex.Lock()
	defer mutex.Unlock()
	cl, present := drivers[name]
	if !present {
		return errors.Errorf("search: no backend registered as %q", name)
	}
	if err := cl.Init(args...); err != nil {
		return errors.Wrapf(err, "search: initializing %q", name)
	}
	driver = cl
	return nil
}

// Get returns the backend picked by Init.
func Get() Client {
	mutex.RLock()
	defer mutex.RUnlock()
	if driver == nil {
		log.Fatal("No search backend initialized")
		return nil
	}
	return driver
}
