// Package conf holds the static configuration for the sync engine: which
// search backend to talk to, and how each store collection maps onto an
// index. Configuration is read from a JSON file; transform and primary key
// hooks are attached in code.
package conf

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"github.com/Fliegerweb/searchsync/x"
)

// DefaultBatchLimit is the page size used when walking a collection and no
// batchLimit is configured.
const DefaultBatchLimit = 100

// Toolkit is handed to transform hooks so custom documents can reuse the
// engine's own helpers.
type Toolkit interface {
	StripTags(s string) string
	Flatten(row x.Row) x.Row
	FilterFields(row x.Row, fields []string) x.Row
	MapValues(row x.Row, fn func(field string, value interface{}) interface{}) x.Row
}

// TransformFunc builds the indexed document for a row. The row passed in is
// a copy, safe to take apart.
type TransformFunc func(row x.Row, tk Toolkit, collection string) x.Document

// PrimaryKeyFunc derives the search document key for a row, when the
// primary key column alone is not it.
type PrimaryKeyFunc func(row x.Row, collection string) interface{}

// Collection configures how one store collection maps onto a search index.
type Collection struct {
	Name            string                 `json:"collection"`
	IndexName       string                 `json:"indexName,omitempty"`
	Fields          []string               `json:"fields,omitempty"`
	Filter          x.Filter               `json:"filter,omitempty"`
	CollectionField string                 `json:"collectionField,omitempty"`
	Settings        map[string]interface{} `json:"settings,omitempty"`

	// Hooks never come from the config file.
	Transform TransformFunc  `json:"-"`
	ComputePK PrimaryKeyFunc `json:"-"`
}

// Config ties one search backend to the collections kept in sync with it.
// Collections keep their file order; relation lookups walk them in that
// order.
type Config struct {
	Backend     string       `json:"backend"`
	URL         string       `json:"url,omitempty"`
	MaxRPS      float64      `json:"maxRps,omitempty"`
	BatchLimit  int          `json:"batchLimit,omitempty"`
	Collections []Collection `json:"collections"`
}

// Get returns the configuration block for the named collection. The pointer
// aims into the Collections slice, so hooks can be attached through it.
func (c *Config) Get(name string) (*Collection, bool) {
	for i := range c.Collections {
		if c.Collections[i].Name == name {
			return &c.Collections[i], true
		}
	}
	return nil, false
}

// PageLimit returns the batch size for paging reads.
func (c *Config) PageLimit() int {
	if c.BatchLimit <= 0 {
		return DefaultBatchLimit
	}
	return c.BatchLimit
}

// Validate checks for the mistakes that should stop a process at startup.
func (c *Config) Validate() error {
	if c.Backend == "" {
		return errors.New("conf: missing backend")
	}
	seen := make(map[string]bool, len(c.Collections))
	for _, coll := range c.Collections {
		if coll.Name == "" {
			return errors.New("conf: collection with empty name")
		}
		if seen[coll.Name] {
			return errors.Errorf("conf: collection %q configured twice", coll.Name)
		}
		seen[coll.Name] = true
	}
	return nil
}

// Parse decodes and validates a JSON configuration.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, "conf: parsing config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load reads a JSON configuration file from disk.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "conf: reading config")
	}
	return Parse(data)
}
