package indexer

import (
	"context"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"

	"github.com/Fliegerweb/searchsync/conf"
	"github.com/Fliegerweb/searchsync/search"
	"github.com/Fliegerweb/searchsync/store"
	"github.com/Fliegerweb/searchsync/x"
)

var log = x.Log("indexer")

const defaultRoutines = 4

// Indexer drives one search backend from one store, as told by its config.
// All methods are safe for concurrent use.
type Indexer struct {
	cfg    *conf.Config
	store  store.Store
	search search.Client

	routines int

	// Indexes already cleared and configured during this process run.
	initialized *xsync.MapOf[string, struct{}]
}

// Option tweaks an Indexer at construction.
type Option func(*Indexer)

// WithRoutines bounds the goroutines used when one change fans out to
// documents in several collections.
func WithRoutines(n int) Option {
	return func(in *Indexer) {
		if n > 0 {
			in.routines = n
		}
	}
}

// New returns an engine wiring the given store to the given search backend.
func New(cfg *conf.Config, st store.Store, cl search.Client, opts ...Option) *Indexer {
	in := &Indexer{
		cfg:         cfg,
		store:       st,
		search:      cl,
		routines:    defaultRoutines,
		initialized: xsync.NewMapOf[string, struct{}](),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// IndexName maps a collection to the index holding its documents: the
// configured override when there is one, the collection name otherwise.
func (in *Indexer) IndexName(collection string) string {
	if c, ok := in.cfg.Get(collection); ok && c.IndexName != "" {
		return c.IndexName
	}
	return collection
}

// DocumentKey derives the search document key for a row, pk being the
// collection's primary key column. A configured ComputePK hook wins over
// the row's own primary key value.
func (in *Indexer) DocumentKey(row x.Row, collection, pk string) interface{} {
	if c, ok := in.cfg.Get(collection); ok && c.ComputePK != nil {
		return c.ComputePK(row, collection)
	}
	return row[pk]
}

// EnsureIndex creates the collection's index. Backends answer with an error
// when it already exists, which is the common case and only worth a log
// line.
func (in *Indexer) EnsureIndex(ctx context.Context, collection string) {
	name := in.IndexName(collection)
	if err := in.search.CreateIndex(ctx, name); err != nil {
		x.LogErr(log, err).WithField("index", name).
			Warn("Create index did not go through, assuming it exists")
	}
}

// InitAllIndexes rebuilds every configured collection in config order, each
// one through EnsureIndex and InitCollectionIndex.
func (in *Indexer) InitAllIndexes(ctx context.Context) error {
	for _, c := range in.cfg.Collections {
		in.EnsureIndex(ctx, c.Name)
		if err := in.InitCollectionIndex(ctx, c.Name); err != nil {
			return err
		}
	}
	return nil
}

// InitCollectionIndex rebuilds one collection's index whole. The first
// rebuild of an index in this process clears it and applies the configured
// settings; later calls, and later collections sharing the index, skip that
// step so they cannot wipe documents written moments ago. Rows are then
// walked page by page through the same path live updates take.
func (in *Indexer) InitCollectionIndex(ctx context.Context, collection string) error {
	c, ok := in.cfg.Get(collection)
	if !ok {
		log.WithField("collection", collection).
			Warn("Collection not configured, nothing to rebuild")
		return nil
	}
	schema, err := in.store.Schema(ctx)
	if err != nil {
		x.LogErr(log, err).Error("While fetching schema")
		return err
	}
	pk, ok := schema.PrimaryKey(collection)
	if !ok {
		log.WithField("collection", collection).
			Warn("Collection unknown to store schema, skipping")
		return nil
	}

	name := in.IndexName(collection)
	if _, done := in.initialized.LoadOrStore(name, struct{}{}); !done {
		if err := in.search.DeleteAllItems(ctx, name); err != nil {
			x.LogErr(log, err).WithField("index", name).
				Warn("While clearing index")
		}
		if len(c.Settings) > 0 {
			if err := in.search.UpdateIndexSettings(ctx, name, c.Settings); err != nil {
				x.LogErr(log, err).WithField("index", name).
					Warn("While applying index settings")
			}
		}
		IndexResets.WithLabelValues(name).Inc()
	}

	limit := in.cfg.PageLimit()
	for offset := 0; ; offset += limit {
		rows, err := in.store.ReadByQuery(ctx, collection, store.Query{
			Fields: []string{pk},
			Filter: c.Filter,
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			x.LogErr(log, err).WithField("collection", collection).
				Error("While paging collection")
			return err
		}
		if len(rows) == 0 {
			break
		}
		ids := make([]interface{}, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row[pk])
		}
		if err := in.UpdateItems(ctx, collection, ids); err != nil {
			return err
		}
	}
	return nil
}

// UpdateItems reconciles the index after rows changed. When the collection
// is configured its own documents are rewritten; when it is not, the change
// fans out one foreign key hop to the configured collections embedding it.
// Ids whose rows no longer come back from the store have their documents
// deleted.
func (in *Indexer) UpdateItems(ctx context.Context, collection string, ids []interface{}) error {
	if len(ids) == 0 {
		return nil
	}
	schema, err := in.store.Schema(ctx)
	if err != nil {
		x.LogErr(log, err).Error("While fetching schema")
		return err
	}

	var targets []target
	if _, ok := in.cfg.Get(collection); ok {
		targets = []target{{collection: collection, ids: ids}}
	} else {
		related := in.relatedUpdates(ctx, schema, collection, ids)
		if len(related) == 0 {
			log.WithField("collection", collection).
				Debug("Change does not reach any configured collection")
			return nil
		}
		targets = make([]target, 0, len(related))
		for coll, rids := range related {
			targets = append(targets, target{collection: coll, ids: rids})
		}
	}

	in.runTargets(ctx, schema, targets)
	return nil
}

// DeleteItems removes the documents of rows about to be deleted from the
// store. It runs before the rows disappear, so their keys can still be
// computed from data; ids that already return nothing produce no delete
// here and are swept out by the update path instead. No relation fan out
// happens on this path.
func (in *Indexer) DeleteItems(ctx context.Context, collection string, ids []interface{}) error {
	if len(ids) == 0 {
		return nil
	}
	c, ok := in.cfg.Get(collection)
	if !ok {
		log.WithField("collection", collection).
			Debug("Collection not configured, nothing to delete")
		return nil
	}
	schema, err := in.store.Schema(ctx)
	if err != nil {
		x.LogErr(log, err).Error("While fetching schema")
		return err
	}
	pk, ok := schema.PrimaryKey(collection)
	if !ok {
		log.WithField("collection", collection).
			Warn("Collection unknown to store schema, skipping")
		return nil
	}

	name := in.IndexName(collection)
	rows, err := in.store.ReadMany(ctx, collection, ids, store.Query{
		Fields: readFields(c.Fields, pk),
		Filter: c.Filter,
	})
	if err != nil {
		x.LogErr(log, err).WithField("collection", collection).
			Error("While reading rows marked for deletion")
		return err
	}
	for _, row := range rows {
		key := in.DocumentKey(row, collection, pk)
		if err := in.search.DeleteItem(ctx, name, key); err != nil {
			x.LogErr(log, err).WithFields(logrus.Fields{
				"index": name,
				"key":   x.KeyString(key),
			}).Warn("While deleting document")
			ItemFailures.WithLabelValues(collection, "delete").Inc()
			continue
		}
		ItemsDeleted.WithLabelValues(collection).Inc()
	}
	return nil
}

// target is one configured collection with the ids to reconcile in it.
type target struct {
	collection string
	ids        []interface{}
}

// runTargets works the targets off a channel with a bounded set of
// goroutines and returns once all are done. Rows within a target stay
// sequential.
func (in *Indexer) runTargets(ctx context.Context, schema *store.Schema, targets []target) {
	if len(targets) == 1 {
		in.updateTarget(ctx, schema, targets[0])
		return
	}

	routines := in.routines
	if routines > len(targets) {
		routines = len(targets)
	}
	ch := make(chan target)
	wg := new(sync.WaitGroup)
	for i := 0; i < routines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range ch {
				in.updateTarget(ctx, schema, t)
			}
		}()
	}
	for _, t := range targets {
		ch <- t
	}
	close(ch)
	wg.Wait()
}

// updateTarget rewrites the documents of one configured collection. Ids
// with no surviving row become index deletes, keyed from the id alone.
func (in *Indexer) updateTarget(ctx context.Context, schema *store.Schema, t target) {
	c, ok := in.cfg.Get(t.collection)
	if !ok {
		return
	}
	pk, ok := schema.PrimaryKey(t.collection)
	if !ok {
		log.WithField("collection", t.collection).
			Warn("Collection unknown to store schema, skipping")
		return
	}

	name := in.IndexName(t.collection)
	rows, err := in.store.ReadMany(ctx, t.collection, t.ids, store.Query{
		Fields: readFields(c.Fields, pk),
		Filter: c.Filter,
	})
	if err != nil {
		x.LogErr(log, err).WithFields(logrus.Fields{
			"collection": t.collection,
			"index":      name,
		}).Error("While reading rows, leaving their documents alone")
		return
	}

	alive := make(map[string]bool, len(rows))
	for _, row := range rows {
		alive[x.KeyString(row[pk])] = true
		key := in.DocumentKey(row, t.collection, pk)
		doc := in.BuildDocument(row, t.collection)
		if err := in.search.UpsertItem(ctx, name, key, doc); err != nil {
			x.LogErr(log, err).WithFields(logrus.Fields{
				"index": name,
				"key":   x.KeyString(key),
			}).Warn("While upserting document")
			ItemFailures.WithLabelValues(t.collection, "upsert").Inc()
			continue
		}
		ItemsIndexed.WithLabelValues(t.collection).Inc()
	}

	// Requested ids that came back without a row are gone from the store,
	// or fell out of the configured filter. Their documents go too.
	for _, id := range t.ids {
		if alive[x.KeyString(id)] {
			continue
		}
		key := in.DocumentKey(x.Row{pk: id}, t.collection, pk)
		if err := in.search.DeleteItem(ctx, name, key); err != nil {
			x.LogErr(log, err).WithFields(logrus.Fields{
				"index": name,
				"key":   x.KeyString(key),
			}).Warn("While deleting document")
			ItemFailures.WithLabelValues(t.collection, "delete").Inc()
			continue
		}
		ItemsDeleted.WithLabelValues(t.collection).Inc()
	}
}

// readFields is the store projection for a collection: its configured
// fields plus the primary key, which the engine always needs back. Nil
// means every column.
func readFields(fields []string, pk string) []string {
	if len(fields) == 0 {
		return nil
	}
	for _, f := range fields {
		if f == pk {
			return fields
		}
	}
	out := make([]string, 0, len(fields)+1)
	out = append(out, fields...)
	return append(out, pk)
}
