package indexer

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/Fliegerweb/searchsync/store"
	"github.com/Fliegerweb/searchsync/x"
)

// relatedUpdates resolves a change to rows of an unconfigured collection
// into the configured rows embedding them, one foreign key hop away. For
// each relation pointing at the changed collection it asks the store which
// owner rows reference the changed ids, and returns those owner ids grouped
// by collection, deduplicated.
//
// Relations are skipped when the owning collection is not configured, when
// the store could not name the foreign key column, or when the owner has a
// fields list that leaves the foreign key out; in the last case the
// document cannot contain the changed data, so rewriting it would be busy
// work. Store failures here are logged and cost only that one relation.
func (in *Indexer) relatedUpdates(ctx context.Context, schema *store.Schema,
	collection string, ids []interface{}) map[string][]interface{} {

	out := make(map[string][]interface{})
	seen := make(map[string]map[string]bool)

	for _, rel := range schema.RelationsInto(collection) {
		owner, ok := in.cfg.Get(rel.Collection)
		if !ok {
			continue
		}
		if rel.Field == "" {
			log.WithFields(logrus.Fields{
				"collection": rel.Collection,
				"related":    rel.Related,
			}).Debug("Relation has no usable foreign key column")
			continue
		}
		if len(owner.Fields) > 0 && !fieldListCovers(owner.Fields, rel.Field) {
			continue
		}

		keys, err := in.store.KeysByQuery(ctx, rel.Collection,
			x.Filter{rel.Field: x.Filter{"_in": ids}})
		if err != nil {
			x.LogErr(log, err).WithFields(logrus.Fields{
				"collection": rel.Collection,
				"field":      rel.Field,
			}).Warn("While resolving related rows")
			continue
		}

		dedup := seen[rel.Collection]
		if dedup == nil {
			dedup = make(map[string]bool)
			seen[rel.Collection] = dedup
		}
		for _, key := range keys {
			ks := x.KeyString(key)
			if dedup[ks] {
				continue
			}
			dedup[ks] = true
			out[rel.Collection] = append(out[rel.Collection], key)
		}
		RelatedFanout.WithLabelValues(rel.Collection).Add(float64(len(keys)))
	}
	return out
}

// fieldListCovers reports whether any configured field path equals the
// column or descends into it.
func fieldListCovers(fields []string, column string) bool {
	for _, f := range fields {
		if x.PathWithin(f, column) {
			return true
		}
	}
	return false
}
