package indexer_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fliegerweb/searchsync/conf"
	"github.com/Fliegerweb/searchsync/drivers/memsearch"
	"github.com/Fliegerweb/searchsync/drivers/memstore"
	"github.com/Fliegerweb/searchsync/indexer"
	"github.com/Fliegerweb/searchsync/x"
)

// libraryStore builds the classic authors and books world: authors are not
// indexed themselves, books embed their author and carry the foreign key.
func libraryStore() *memstore.MemStore {
	ms := memstore.New().
		AddCollection("authors", "id").
		AddCollection("books", "id").
		AddRelation("books", "author_id", "authors")
	ms.Put("authors",
		x.Row{"id": "a1", "name": "jane"},
		x.Row{"id": "a2", "name": "marc"},
	)
	ms.Put("books",
		x.Row{"id": 1, "title": "one", "author_id": "a1"},
		x.Row{"id": 2, "title": "two", "author_id": "a1"},
		x.Row{"id": 3, "title": "three", "author_id": "a2"},
	)
	return ms
}

func TestPropagation(t *testing.T) {
	ctx := context.Background()
	st := libraryStore()
	cl := memsearch.New()
	in := indexer.New(&conf.Config{
		Backend:     "memsearch",
		Collections: []conf.Collection{{Name: "books"}},
	}, st, cl)

	// Authors have no index of their own; renaming one refreshes the
	// books that reference it.
	require.NoError(t, in.UpdateItems(ctx, "authors", []interface{}{"a1"}))
	assert.Equal(t, 2, cl.Len("books"))
	_, ok := cl.Get("books", 3)
	assert.False(t, ok, "the other author's book stays untouched")
}

func TestPropagationIsOneHop(t *testing.T) {
	ctx := context.Background()
	st := libraryStore()
	st.AddCollection("reviews", "id").
		AddRelation("reviews", "book_id", "books")
	st.Put("reviews", x.Row{"id": 100, "book_id": 1, "stars": 5})

	cl := memsearch.New()
	in := indexer.New(&conf.Config{
		Backend: "memsearch",
		Collections: []conf.Collection{
			{Name: "books"},
			{Name: "reviews"},
		},
	}, st, cl)

	require.NoError(t, in.UpdateItems(ctx, "authors", []interface{}{"a1"}))
	assert.Equal(t, 2, cl.Len("books"))
	assert.Equal(t, 0, cl.Len("reviews"), "no second hop through books")
}

func TestPropagationSkipsUnconfiguredOwner(t *testing.T) {
	ctx := context.Background()
	st := libraryStore()
	st.AddCollection("memos", "id").
		AddRelation("memos", "author_id", "authors")
	st.Put("memos", x.Row{"id": 50, "author_id": "a1"})

	cl := memsearch.New()
	in := indexer.New(&conf.Config{
		Backend:     "memsearch",
		Collections: []conf.Collection{{Name: "books"}},
	}, st, cl)

	require.NoError(t, in.UpdateItems(ctx, "authors", []interface{}{"a1"}))
	assert.Equal(t, 2, cl.Len("books"))
	assert.Equal(t, 0, cl.Len("memos"))
}

func TestPropagationSkipsUnknownFKColumn(t *testing.T) {
	ctx := context.Background()
	st := memstore.New().
		AddCollection("authors", "id").
		AddCollection("books", "id").
		AddRelation("books", "", "authors") // edge known, column not
	st.Put("authors", x.Row{"id": "a1"})
	st.Put("books", x.Row{"id": 1, "author_id": "a1"})

	cl := memsearch.New()
	in := indexer.New(&conf.Config{
		Backend:     "memsearch",
		Collections: []conf.Collection{{Name: "books"}},
	}, st, cl)

	require.NoError(t, in.UpdateItems(ctx, "authors", []interface{}{"a1"}))
	assert.Equal(t, 0, cl.Len("books"))
}

func TestPropagationHonorsFieldList(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name    string
		fields  []string
		indexed int
	}{
		{"fk included", []string{"title", "author_id"}, 2},
		{"fk missing", []string{"title"}, 0},
		{"fk as path root", []string{"author_id.name"}, 2},
		{"similar column name does not count", []string{"author_id2"}, 0},
		{"no field list reads everything", nil, 2},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cl := memsearch.New()
			in := indexer.New(&conf.Config{
				Backend:     "memsearch",
				Collections: []conf.Collection{{Name: "books", Fields: c.fields}},
			}, libraryStore(), cl)

			require.NoError(t, in.UpdateItems(ctx, "authors", []interface{}{"a1"}))
			assert.Equal(t, c.indexed, cl.Len("books"))
		})
	}
}

func TestPropagationDedupes(t *testing.T) {
	ctx := context.Background()
	st := memstore.New().
		AddCollection("authors", "id").
		AddCollection("books", "id").
		AddRelation("books", "author_id", "authors").
		AddRelation("books", "editor_id", "authors")
	st.Put("authors", x.Row{"id": "a1", "name": "jane"})
	// The same person wrote and edited this one.
	st.Put("books", x.Row{"id": 1, "title": "one", "author_id": "a1", "editor_id": "a1"})

	cl := memsearch.New()
	in := indexer.New(&conf.Config{
		Backend:     "memsearch",
		Collections: []conf.Collection{{Name: "books"}},
	}, st, cl)

	require.NoError(t, in.UpdateItems(ctx, "authors", []interface{}{"a1"}))
	assert.Equal(t, 1, cl.Len("books"))
	assert.Equal(t, 1, cl.Counts().Upserts, "the book is written once, not per edge")
}

func TestDirectUpdateDoesNotPropagate(t *testing.T) {
	ctx := context.Background()
	st := memstore.New().
		AddCollection("articles", "id").
		AddCollection("comments", "id").
		AddRelation("comments", "article_id", "articles")
	st.Put("articles", x.Row{"id": 1, "title": "alpha"})
	st.Put("comments", x.Row{"id": 10, "article_id": 1, "text": "hi"})

	cl := memsearch.New()
	in := indexer.New(&conf.Config{
		Backend: "memsearch",
		Collections: []conf.Collection{
			{Name: "articles"},
			{Name: "comments"},
		},
	}, st, cl)

	// A configured collection handles its own ids; embedding collections
	// are left for their own notifications.
	require.NoError(t, in.UpdateItems(ctx, "articles", []interface{}{1}))
	assert.Equal(t, 1, cl.Len("articles"))
	assert.Equal(t, 0, cl.Len("comments"))
}

func TestPropagationFansOutToSeveralCollections(t *testing.T) {
	ctx := context.Background()
	st := libraryStore()
	st.AddCollection("talks", "id").
		AddRelation("talks", "speaker_id", "authors")
	st.Put("talks",
		x.Row{"id": "t1", "speaker_id": "a1", "topic": "go"},
		x.Row{"id": "t2", "speaker_id": "a2", "topic": "sql"},
	)

	cl := memsearch.New()
	in := indexer.New(&conf.Config{
		Backend: "memsearch",
		Collections: []conf.Collection{
			{Name: "books"},
			{Name: "talks"},
		},
	}, st, cl, indexer.WithRoutines(2))

	// One author change lands in both owning collections, worked off in
	// parallel, and everything is written by the time the call returns.
	require.NoError(t, in.UpdateItems(ctx, "authors", []interface{}{"a1"}))
	assert.Equal(t, 2, cl.Len("books"))
	assert.Equal(t, 1, cl.Len("talks"))
	_, ok := cl.Get("talks", "t1")
	assert.True(t, ok)
}
