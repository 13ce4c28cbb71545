package conf_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fliegerweb/searchsync/conf"
	"github.com/Fliegerweb/searchsync/x"
)

const sample = `{
	"backend": "elasticsearch",
	"url": "http://localhost:9200",
	"batchLimit": 50,
	"collections": [
		{
			"collection": "articles",
			"indexName": "articles_v2",
			"fields": ["title", "body", "author.name"],
			"collectionField": "_collection",
			"settings": {"index": {"number_of_replicas": 0}}
		},
		{
			"collection": "comments",
			"filter": {"status": {"_eq": "published"}}
		}
	]
}`

func TestParse(t *testing.T) {
	c, err := conf.Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "elasticsearch", c.Backend)
	assert.Equal(t, "http://localhost:9200", c.URL)
	assert.Equal(t, 50, c.PageLimit())
	require.Len(t, c.Collections, 2)

	articles, ok := c.Get("articles")
	require.True(t, ok)
	assert.Equal(t, "articles_v2", articles.IndexName)
	assert.Equal(t, []string{"title", "body", "author.name"}, articles.Fields)
	assert.Equal(t, "_collection", articles.CollectionField)

	comments, ok := c.Get("comments")
	require.True(t, ok)
	assert.NotNil(t, comments.Filter)

	_, ok = c.Get("authors")
	assert.False(t, ok)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "searchsync.json")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	c, err := conf.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "elasticsearch", c.Backend)

	_, err = conf.Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestDefaultBatchLimit(t *testing.T) {
	c := &conf.Config{Backend: "memsearch"}
	assert.Equal(t, conf.DefaultBatchLimit, c.PageLimit())
}

func TestValidate(t *testing.T) {
	_, err := conf.Parse([]byte(`{"collections": []}`))
	assert.Error(t, err, "backend is required")

	_, err = conf.Parse([]byte(`{"backend": "memsearch", "collections": [{"collection": ""}]}`))
	assert.Error(t, err, "collection names are required")

	_, err = conf.Parse([]byte(`{"backend": "memsearch",
		"collections": [{"collection": "a"}, {"collection": "a"}]}`))
	assert.Error(t, err, "duplicate collections are rejected")

	_, err = conf.Parse([]byte(`{"backend": "memsearch"`))
	assert.Error(t, err, "truncated JSON is rejected")
}

func TestHooksAttachThroughGet(t *testing.T) {
	c, err := conf.Parse([]byte(sample))
	require.NoError(t, err)

	articles, ok := c.Get("articles")
	require.True(t, ok)
	articles.ComputePK = func(row x.Row, collection string) interface{} {
		return "x"
	}

	again, _ := c.Get("articles")
	assert.NotNil(t, again.ComputePK, "hook sticks to the config")
}
