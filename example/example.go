// A self contained tour of the engine: an in-memory datastore and search
// backend, a config with a transform hook, and reconciliation between
// them. Run it with go run.
package main

import (
	"context"
	"fmt"

	"github.com/Fliegerweb/searchsync/conf"
	"github.com/Fliegerweb/searchsync/drivers/memsearch"
	"github.com/Fliegerweb/searchsync/drivers/memstore"
	"github.com/Fliegerweb/searchsync/indexer"
	"github.com/Fliegerweb/searchsync/x"
)

var log = x.Log("example")

func seed() *memstore.MemStore {
	st := memstore.New()
	st.AddCollection("articles", "id").
		AddCollection("authors", "id").
		AddRelation("articles", "author_id", "authors")

	st.Put("authors",
		x.Row{"id": 1, "name": "Ada", "bio": "Writes about <b>compilers</b>."})
	st.Put("articles",
		x.Row{"id": 1, "title": "On Compilers", "author_id": 1, "status": "published"},
		x.Row{"id": 2, "title": "Unfinished", "author_id": 1, "status": "draft"})
	return st
}

func config() *conf.Config {
	return &conf.Config{
		Backend: "memsearch",
		Collections: []conf.Collection{
			{
				Name:   "articles",
				Fields: []string{"id", "title", "author_id"},
				Filter: x.Filter{"status": "published"},
			},
			{
				Name:            "authors",
				IndexName:       "people",
				CollectionField: "_type",
				Transform: func(row x.Row, tk conf.Toolkit, collection string) x.Document {
					bio, _ := row["bio"].(string)
					return x.Document{
						"id":   row["id"],
						"name": row["name"],
						"bio":  tk.StripTags(bio),
					}
				},
			},
		},
	}
}

func main() {
	ctx := context.Background()
	st := seed()
	se := memsearch.New()
	engine := indexer.New(config(), st, se)

	// Full rebuild: drafts stay out, the author document is transformed.
	if err := engine.InitAllIndexes(ctx); err != nil {
		x.LogErr(log, err).Fatal("Rebuilding indexes")
	}
	fmt.Println("articles indexed:", se.Len("articles"))
	if doc, ok := se.Get("people", 1); ok {
		fmt.Printf("author: %v (%v)\n", doc["name"], doc["bio"])
	}

	// Publishing the draft and notifying brings it into the index.
	st.Put("articles",
		x.Row{"id": 2, "title": "Finished After All", "author_id": 1, "status": "published"})
	if err := engine.UpdateItems(ctx, "articles", []interface{}{2}); err != nil {
		x.LogErr(log, err).Fatal("Updating items")
	}
	fmt.Println("articles indexed:", se.Len("articles"))

	// An author change fans out through the relation only when authors
	// themselves are not indexed; here they are, so this touches people.
	if err := engine.UpdateItems(ctx, "authors", []interface{}{1}); err != nil {
		x.LogErr(log, err).Fatal("Updating items")
	}

	// Deletes are announced before the rows go away.
	if err := engine.DeleteItems(ctx, "articles", []interface{}{1}); err != nil {
		x.LogErr(log, err).Fatal("Deleting items")
	}
	st.Remove("articles", 1)
	fmt.Println("articles indexed:", se.Len("articles"))
}
