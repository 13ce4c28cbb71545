package indexer_test

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fliegerweb/searchsync/conf"
	"github.com/Fliegerweb/searchsync/drivers/memsearch"
	"github.com/Fliegerweb/searchsync/drivers/memstore"
	"github.com/Fliegerweb/searchsync/indexer"
	"github.com/Fliegerweb/searchsync/x"
)

func blogStore() *memstore.MemStore {
	ms := memstore.New().
		AddCollection("articles", "id").
		AddCollection("comments", "id")
	ms.Put("articles",
		x.Row{"id": 1, "title": "alpha", "status": "published"},
		x.Row{"id": 2, "title": "beta", "status": "published"},
		x.Row{"id": 3, "title": "gamma", "status": "draft"},
		x.Row{"id": 4, "title": "delta", "status": "published"},
		x.Row{"id": 5, "title": "epsilon", "status": "published"},
	)
	ms.Put("comments",
		x.Row{"id": 1, "article_id": 1, "text": "one"},
		x.Row{"id": 2, "article_id": 1, "text": "two"},
		x.Row{"id": 3, "article_id": 2, "text": "three"},
		x.Row{"id": 4, "article_id": 2, "text": "four"},
	)
	return ms
}

func TestUpdateItems(t *testing.T) {
	ctx := context.Background()
	st := blogStore()
	cl := memsearch.New()
	cfg := &conf.Config{
		Backend:     "memsearch",
		Collections: []conf.Collection{{Name: "articles"}},
	}
	in := indexer.New(cfg, st, cl)

	require.NoError(t, in.UpdateItems(ctx, "articles", []interface{}{1, 2}))
	assert.Equal(t, 2, cl.Len("articles"))

	doc, ok := cl.Get("articles", 1)
	require.True(t, ok)
	assert.Equal(t, "alpha", doc["title"])
	assert.Equal(t, "published", doc["status"])

	// Running the same notification again converges to the same state.
	require.NoError(t, in.UpdateItems(ctx, "articles", []interface{}{1, 2}))
	assert.Equal(t, 2, cl.Len("articles"))
}

func TestUpdateItemsEmpty(t *testing.T) {
	cl := memsearch.New()
	in := indexer.New(&conf.Config{
		Backend:     "memsearch",
		Collections: []conf.Collection{{Name: "articles"}},
	}, blogStore(), cl)

	require.NoError(t, in.UpdateItems(context.Background(), "articles", nil))
	assert.Equal(t, memsearch.Counts{}, cl.Counts())
}

func TestUpdateItemsUnconfigured(t *testing.T) {
	cl := memsearch.New()
	in := indexer.New(&conf.Config{
		Backend:     "memsearch",
		Collections: []conf.Collection{{Name: "articles"}},
	}, blogStore(), cl)

	require.NoError(t, in.UpdateItems(context.Background(), "drafts", []interface{}{1}))
	assert.Equal(t, memsearch.Counts{}, cl.Counts(), "no relations, nothing to do")
}

func TestIndexName(t *testing.T) {
	cfg := &conf.Config{
		Backend: "memsearch",
		Collections: []conf.Collection{
			{Name: "articles", IndexName: "articles_v2"},
			{Name: "comments"},
		},
	}
	in := indexer.New(cfg, blogStore(), memsearch.New())

	assert.Equal(t, "articles_v2", in.IndexName("articles"))
	assert.Equal(t, "comments", in.IndexName("comments"))
	assert.Equal(t, "ghosts", in.IndexName("ghosts"))
}

func TestIndexNameOverrideIsUsed(t *testing.T) {
	ctx := context.Background()
	cl := memsearch.New()
	in := indexer.New(&conf.Config{
		Backend:     "memsearch",
		Collections: []conf.Collection{{Name: "articles", IndexName: "articles_v2"}},
	}, blogStore(), cl)

	require.NoError(t, in.UpdateItems(ctx, "articles", []interface{}{1}))
	assert.Equal(t, 1, cl.Len("articles_v2"))
	assert.Equal(t, 0, cl.Len("articles"))
}

func TestUpdateItemsTombstones(t *testing.T) {
	ctx := context.Background()
	st := blogStore()
	cl := memsearch.New()
	in := indexer.New(&conf.Config{
		Backend:     "memsearch",
		Collections: []conf.Collection{{Name: "comments"}},
	}, st, cl)

	// Five ids notified, only four rows exist. The fifth becomes a delete.
	require.NoError(t, in.UpdateItems(ctx, "comments", []interface{}{1, 2, 3, 4, 5}))
	assert.Equal(t, 4, cl.Len("comments"))
	_, ok := cl.Get("comments", 5)
	assert.False(t, ok)
	assert.Equal(t, 1, cl.Counts().Deletes)
}

func TestUpdateItemsTombstoneRemovesStaleDoc(t *testing.T) {
	ctx := context.Background()
	st := blogStore()
	cl := memsearch.New()
	in := indexer.New(&conf.Config{
		Backend:     "memsearch",
		Collections: []conf.Collection{{Name: "comments"}},
	}, st, cl)

	require.NoError(t, in.UpdateItems(ctx, "comments", []interface{}{1}))
	require.Equal(t, 1, cl.Len("comments"))

	// The row disappears from the store; a late notification sweeps the
	// document out.
	require.True(t, st.Remove("comments", 1))
	require.NoError(t, in.UpdateItems(ctx, "comments", []interface{}{1}))
	assert.Equal(t, 0, cl.Len("comments"))
}

func TestUpdateItemsFilterNarrows(t *testing.T) {
	ctx := context.Background()
	st := blogStore()
	cl := memsearch.New()
	in := indexer.New(&conf.Config{
		Backend: "memsearch",
		Collections: []conf.Collection{{
			Name:   "articles",
			Filter: x.Filter{"status": "published"},
		}},
	}, st, cl)

	// Article 3 is a draft: it falls out of the filter and is treated
	// like a missing row.
	require.NoError(t, in.UpdateItems(ctx, "articles", []interface{}{1, 3}))
	assert.Equal(t, 1, cl.Len("articles"))

	// Article 1 later turns draft; the next notification removes its doc.
	st.Put("articles", x.Row{"id": 1, "title": "alpha", "status": "draft"})
	require.NoError(t, in.UpdateItems(ctx, "articles", []interface{}{1}))
	assert.Equal(t, 0, cl.Len("articles"))
}

func TestUpdateItemsKeyNormalization(t *testing.T) {
	ctx := context.Background()
	st := blogStore()
	cl := memsearch.New()
	in := indexer.New(&conf.Config{
		Backend:     "memsearch",
		Collections: []conf.Collection{{Name: "comments"}},
	}, st, cl)

	// Ids arriving as float64 from JSON still match the int rows in the
	// store, so no bogus tombstones are issued.
	require.NoError(t, in.UpdateItems(ctx, "comments", []interface{}{float64(1), float64(2)}))
	assert.Equal(t, 2, cl.Len("comments"))
	assert.Equal(t, 0, cl.Counts().Deletes)
}

type flakySearch struct {
	*memsearch.MemSearch
	failKey string
}

func (fs *flakySearch) UpsertItem(ctx context.Context, name string,
	key interface{}, doc x.Document) error {

	if x.KeyString(key) == fs.failKey {
		return errors.New("backend said no")
	}
	return fs.MemSearch.UpsertItem(ctx, name, key, doc)
}

func TestUpdateItemsContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	cl := &flakySearch{MemSearch: memsearch.New(), failKey: "2"}
	in := indexer.New(&conf.Config{
		Backend:     "memsearch",
		Collections: []conf.Collection{{Name: "articles"}},
	}, blogStore(), cl)

	require.NoError(t, in.UpdateItems(ctx, "articles", []interface{}{1, 2, 3}))
	assert.Equal(t, 2, cl.Len("articles"), "the failing row is skipped, not fatal")
	_, ok := cl.Get("articles", 1)
	assert.True(t, ok)
	_, ok = cl.Get("articles", 3)
	assert.True(t, ok)
}

func TestDeleteItems(t *testing.T) {
	ctx := context.Background()
	st := blogStore()
	cl := memsearch.New()
	in := indexer.New(&conf.Config{
		Backend:     "memsearch",
		Collections: []conf.Collection{{Name: "comments"}},
	}, st, cl)

	require.NoError(t, in.UpdateItems(ctx, "comments", []interface{}{1, 2, 3}))
	require.Equal(t, 3, cl.Len("comments"))

	// Rows are still present when the engine is told about the deletion.
	require.NoError(t, in.DeleteItems(ctx, "comments", []interface{}{1, 2}))
	assert.Equal(t, 1, cl.Len("comments"))
	_, ok := cl.Get("comments", 3)
	assert.True(t, ok)
}

func TestDeleteItemsGoneRows(t *testing.T) {
	ctx := context.Background()
	st := blogStore()
	cl := memsearch.New()
	in := indexer.New(&conf.Config{
		Backend:     "memsearch",
		Collections: []conf.Collection{{Name: "comments"}},
	}, st, cl)

	require.NoError(t, in.UpdateItems(ctx, "comments", []interface{}{1}))
	deletesBefore := cl.Counts().Deletes

	// Ids whose rows are already gone produce no delete on this path; the
	// update path's sweep owns those.
	require.NoError(t, in.DeleteItems(ctx, "comments", []interface{}{99}))
	assert.Equal(t, deletesBefore, cl.Counts().Deletes)
	assert.Equal(t, 1, cl.Len("comments"))
}

func TestDeleteItemsUnconfigured(t *testing.T) {
	cl := memsearch.New()
	in := indexer.New(&conf.Config{
		Backend:     "memsearch",
		Collections: []conf.Collection{{Name: "articles"}},
	}, blogStore(), cl)

	require.NoError(t, in.DeleteItems(context.Background(), "drafts", []interface{}{1}))
	assert.Equal(t, memsearch.Counts{}, cl.Counts())
}

func TestInitCollectionIndex(t *testing.T) {
	ctx := context.Background()
	st := blogStore()
	cl := memsearch.New()
	in := indexer.New(&conf.Config{
		Backend:     "memsearch",
		BatchLimit:  2,
		Collections: []conf.Collection{{Name: "articles"}},
	}, st, cl)

	// A stale document from a previous run is wiped by the rebuild.
	require.NoError(t, cl.UpsertItem(ctx, "articles", "stale", x.Document{"old": true}))

	require.NoError(t, in.InitCollectionIndex(ctx, "articles"))
	assert.Equal(t, 5, cl.Len("articles"))
	_, ok := cl.Get("articles", "stale")
	assert.False(t, ok)
	assert.Equal(t, 1, cl.Counts().Clears)
}

func TestInitCollectionIndexClearsOncePerProcess(t *testing.T) {
	ctx := context.Background()
	st := blogStore()
	cl := memsearch.New()
	in := indexer.New(&conf.Config{
		Backend:     "memsearch",
		Collections: []conf.Collection{{Name: "articles"}},
	}, st, cl)

	require.NoError(t, in.InitCollectionIndex(ctx, "articles"))
	require.Equal(t, 1, cl.Counts().Clears)

	// A second rebuild in the same process must not wipe the index again.
	require.NoError(t, cl.UpsertItem(ctx, "articles", "survivor", x.Document{"v": 1}))
	require.NoError(t, in.InitCollectionIndex(ctx, "articles"))
	assert.Equal(t, 1, cl.Counts().Clears)
	_, ok := cl.Get("articles", "survivor")
	assert.True(t, ok)
}

func TestInitSharedIndexClearsOnce(t *testing.T) {
	ctx := context.Background()
	st := blogStore()
	cl := memsearch.New()

	// Collections sharing one index keep their keys apart with a hook.
	prefixed := func(prefix string) conf.PrimaryKeyFunc {
		return func(row x.Row, collection string) interface{} {
			return prefix + "-" + x.KeyString(row["id"])
		}
	}
	in := indexer.New(&conf.Config{
		Backend: "memsearch",
		Collections: []conf.Collection{
			{Name: "articles", IndexName: "everything", CollectionField: "_type",
				ComputePK: prefixed("articles")},
			{Name: "comments", IndexName: "everything", CollectionField: "_type",
				ComputePK: prefixed("comments")},
		},
	}, st, cl)

	// Both collections feed one index; the second rebuild must not wipe
	// what the first just wrote.
	require.NoError(t, in.InitAllIndexes(ctx))
	assert.Equal(t, 1, cl.Counts().Clears)
	assert.Equal(t, 9, cl.Len("everything"), "five articles and four comments")

	doc, ok := cl.Get("everything", "comments-3")
	require.True(t, ok)
	assert.Equal(t, "comments", doc["_type"])
}

func TestInitCollectionIndexConcurrent(t *testing.T) {
	ctx := context.Background()
	st := blogStore()
	cl := memsearch.New()
	in := indexer.New(&conf.Config{
		Backend:     "memsearch",
		Collections: []conf.Collection{{Name: "articles"}},
	}, st, cl)

	wg := new(sync.WaitGroup)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, in.InitCollectionIndex(ctx, "articles"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, cl.Counts().Clears, "exactly one goroutine clears")
	assert.Equal(t, 5, cl.Len("articles"))
}

func TestInitAppliesSettingsOnce(t *testing.T) {
	ctx := context.Background()
	cl := memsearch.New()
	in := indexer.New(&conf.Config{
		Backend: "memsearch",
		Collections: []conf.Collection{{
			Name:     "articles",
			Settings: map[string]interface{}{"number_of_replicas": 0},
		}},
	}, blogStore(), cl)

	require.NoError(t, in.InitCollectionIndex(ctx, "articles"))
	require.NoError(t, in.InitCollectionIndex(ctx, "articles"))
	assert.Equal(t, 1, cl.Counts().Settings)
	assert.NotNil(t, cl.Settings("articles"))
}

func TestInitAllIndexes(t *testing.T) {
	ctx := context.Background()
	cl := memsearch.New()
	in := indexer.New(&conf.Config{
		Backend: "memsearch",
		Collections: []conf.Collection{
			{Name: "articles"},
			{Name: "comments"},
		},
	}, blogStore(), cl)

	require.NoError(t, in.InitAllIndexes(ctx))
	assert.Equal(t, 5, cl.Len("articles"))
	assert.Equal(t, 4, cl.Len("comments"))
	assert.Equal(t, 2, cl.Counts().Creates, "one create per index")
}

func TestInitUnknownCollection(t *testing.T) {
	ctx := context.Background()
	cl := memsearch.New()
	in := indexer.New(&conf.Config{
		Backend: "memsearch",
		Collections: []conf.Collection{
			{Name: "articles"},
			{Name: "phantom"},
		},
	}, blogStore(), cl)

	// "phantom" is configured but the store has never heard of it. The
	// rebuild warns and moves on instead of failing the whole run.
	require.NoError(t, in.InitAllIndexes(ctx))
	assert.Equal(t, 5, cl.Len("articles"))
	assert.Equal(t, 0, cl.Len("phantom"))

	// Entirely unconfigured collections are a no-op.
	require.NoError(t, in.InitCollectionIndex(ctx, "ghost"))
}

func TestEnsureIndex(t *testing.T) {
	ctx := context.Background()
	cl := memsearch.New()
	in := indexer.New(&conf.Config{
		Backend:     "memsearch",
		Collections: []conf.Collection{{Name: "articles", IndexName: "articles_v2"}},
	}, blogStore(), cl)

	in.EnsureIndex(ctx, "articles")
	in.EnsureIndex(ctx, "articles")
	assert.Equal(t, 2, cl.Counts().Creates, "second create fails quietly inside the backend")
}
