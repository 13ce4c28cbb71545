package indexer

import "github.com/prometheus/client_golang/prometheus"

var ItemsIndexed = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "searchsync",
	Subsystem: "indexer",
	Name:      "items_indexed",
}, []string{"collection"})

var ItemsDeleted = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "searchsync",
	Subsystem: "indexer",
	Name:      "items_deleted",
}, []string{"collection"})

var ItemFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "searchsync",
	Subsystem: "indexer",
	Name:      "item_failures",
}, []string{"collection", "op"})

var IndexResets = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "searchsync",
	Subsystem: "indexer",
	Name:      "index_resets",
}, []string{"index"})

var RelatedFanout = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "searchsync",
	Subsystem: "indexer",
	Name:      "related_fanout",
}, []string{"collection"})

func init() {
	prometheus.MustRegister(ItemsIndexed, ItemsDeleted, ItemFailures,
		IndexResets, RelatedFanout)
}
