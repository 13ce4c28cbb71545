package indexer

import (
	"github.com/Fliegerweb/searchsync/conf"
	"github.com/Fliegerweb/searchsync/x"
)

// toolkit is the helper set handed to transform hooks.
type toolkit struct{}

func (toolkit) StripTags(s string) string { return x.StripTags(s) }

func (toolkit) Flatten(row x.Row) x.Row { return x.Flatten(row) }

func (toolkit) FilterFields(row x.Row, fields []string) x.Row {
	return x.Project(row, fields)
}

func (toolkit) MapValues(row x.Row, fn func(field string, value interface{}) interface{}) x.Row {
	out := make(x.Row, len(row))
	for k, v := range row {
		out[k] = fn(k, v)
	}
	return out
}

var _ conf.Toolkit = toolkit{}

// BuildDocument turns a raw store row into the document body for its index.
// A transform hook wins over a fields projection, which wins over passing
// the row through whole. The input row is never modified.
func (in *Indexer) BuildDocument(row x.Row, collection string) x.Document {
	c, ok := in.cfg.Get(collection)
	if !ok {
		return x.Document(row.Clone())
	}

	var doc x.Document
	switch {
	case c.Transform != nil:
		doc = c.Transform(row.Clone(), toolkit{}, collection)
	case len(c.Fields) > 0:
		doc = x.Document(x.Project(x.Flatten(row), c.Fields))
	default:
		doc = x.Document(row.Clone())
	}
	if doc == nil {
		doc = x.Document{}
	}
	if c.CollectionField != "" {
		doc[c.CollectionField] = collection
	}
	return doc
}
