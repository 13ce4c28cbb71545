// Package testx carries fixtures shared by tests in other packages: a
// small blog shaped datastore, a config that indexes part of it, and an
// empty in-memory search backend to reconcile against.
package testx

import (
	"testing"

	"github.com/Fliegerweb/searchsync/conf"
	"github.com/Fliegerweb/searchsync/drivers/memsearch"
	"github.com/Fliegerweb/searchsync/drivers/memstore"
	"github.com/Fliegerweb/searchsync/x"
)

// World bundles everything a reconciliation test needs. Articles point at
// authors and categories, comments point at articles. Articles and authors
// are indexed, categories and comments are not.
type World struct {
	Config *conf.Config
	Store  *memstore.MemStore
	Search *memsearch.MemSearch
}

func NewWorld() *World {
	st := memstore.New()
	st.AddCollection("articles", "id").
		AddCollection("authors", "id").
		AddCollection("categories", "id").
		AddCollection("comments", "id").
		AddRelation("articles", "author_id", "authors").
		AddRelation("articles", "category_id", "categories").
		AddRelation("comments", "article_id", "articles")

	st.Put("authors", x.Row{"id": 1, "name": "Ada", "bio": "writes about <b>compilers</b>"})
	st.Put("authors", x.Row{"id": 2, "name": "Grace", "bio": "writes about ships"})
	st.Put("categories", x.Row{"id": 1, "label": "tech"})
	st.Put("categories", x.Row{"id": 2, "label": "sea"})
	st.Put("articles", x.Row{"id": 1, "title": "On Compilers", "body": "Long read.", "author_id": 1, "category_id": 1, "status": "published"})
	st.Put("articles", x.Row{"id": 2, "title": "On Ships", "body": "Longer read.", "author_id": 2, "category_id": 2, "status": "published"})
	st.Put("articles", x.Row{"id": 3, "title": "Unfinished", "body": "", "author_id": 1, "category_id": 1, "status": "draft"})
	st.Put("comments", x.Row{"id": 1, "article_id": 1, "text": "Nice one"})
	st.Put("comments", x.Row{"id": 2, "article_id": 2, "text": "Agreed"})

	cfg := &conf.Config{
		Backend: "memsearch",
		Collections: []conf.Collection{
			{
				Name:   "articles",
				Fields: []string{"id", "title", "body", "author_id", "category_id", "status"},
			},
			{
				Name:            "authors",
				IndexName:       "people",
				CollectionField: "_type",
			},
		},
	}
	return &World{Config: cfg, Store: st, Search: memsearch.New()}
}

// CheckArticle fails the test unless the article with the given id made it
// into the index with the expected title.
func CheckArticle(t *testing.T, se *memsearch.MemSearch, id interface{}, title string) {
	t.Helper()
	doc, ok := se.Get("articles", id)
	if !ok {
		t.Fatalf("article %v should be indexed", id)
	}
	if got := doc["title"]; got != title {
		t.Errorf("article %v title: expected %q, got %v", id, title, got)
	}
}
