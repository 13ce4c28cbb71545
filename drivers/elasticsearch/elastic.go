// Package elasticsearch implements the search client on an ElasticSearch
// cluster.
package elasticsearch

import (
	"context"
	"math"
	"strconv"

	elastic "github.com/olivere/elastic/v7"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/Fliegerweb/searchsync/search"
	"github.com/Fliegerweb/searchsync/x"
)

var log = x.Log("elasticsearch")

// Elastic encapsulates the elastic search client, and implements the
// methods declared by search.Client.
type Elastic struct {
	client  *elastic.Client
	limiter *rate.Limiter
}

// Init connects to the cluster. It wants the cluster URL, and optionally a
// request budget in calls per second, to stay polite on shared clusters.
// Note that Init does NOT set up field mappings; those belong in the per
// collection settings.
func (es *Elastic) Init(args ...string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.Errorf("elasticsearch: want URL and optional rate, got %d args", len(args))
	}
	url := args[0]
	if len(args) == 2 {
		rps, err := strconv.ParseFloat(args[1], 64)
		if err != nil || rps <= 0 {
			return errors.Errorf("elasticsearch: bad request rate %q", args[1])
		}
		es.limiter = rate.NewLimiter(rate.Limit(rps), int(math.Ceil(rps)))
	}

	log.Debug("Initializing connection to ElasticSearch")
	var opts []elastic.ClientOptionFunc
	opts = append(opts, elastic.SetURL(url))
	opts = append(opts, elastic.SetSniff(false))
	client, err := elastic.NewClient(opts...)
	if err != nil {
		return errors.Wrap(err, "elasticsearch: connecting")
	}
	version, err := client.ElasticsearchVersion(url)
	if err != nil {
		return errors.Wrap(err, "elasticsearch: querying version")
	}
	log.WithField("version", version).Debug("ElasticSearch version")

	es.client = client
	log.Debug("Connected with ElasticSearch")
	return nil
}

func (es *Elastic) throttle(ctx context.Context) error {
	if es.limiter == nil {
		return nil
	}
	return es.limiter.Wait(ctx)
}

// reason digs the backend's own explanation out of an error. Failing that,
// the error's text; failing everything, a generic message.
func reason(err error) string {
	if err == nil {
		return "unknown failure"
	}
	var ee *elastic.Error
	if errors.As(err, &ee) && ee.Details != nil && ee.Details.Reason != "" {
		return ee.Details.Reason
	}
	return err.Error()
}

func (es *Elastic) CreateIndex(ctx context.Context, name string) error {
	if err := es.throttle(ctx); err != nil {
		return err
	}
	if _, err := es.client.CreateIndex(name).Do(ctx); err != nil {
		return errors.Errorf("elasticsearch: creating index %s: %s", name, reason(err))
	}
	return nil
}

func (es *Elastic) DeleteAllItems(ctx context.Context, name string) error {
	if err := es.throttle(ctx); err != nil {
		return err
	}
	_, err := es.client.DeleteByQuery(name).
		Query(elastic.NewMatchAllQuery()).
		ProceedOnVersionConflict().
		Refresh("true").
		Do(ctx)
	if err != nil {
		return errors.Errorf("elasticsearch: clearing index %s: %s", name, reason(err))
	}
	return nil
}

func (es *Elastic) UpdateIndexSettings(ctx context.Context, name string,
	settings map[string]interface{}) error {

	if err := es.throttle(ctx); err != nil {
		return err
	}
	if _, err := es.client.IndexPutSettings(name).BodyJson(settings).Do(ctx); err != nil {
		return errors.Errorf("elasticsearch: applying settings on %s: %s", name, reason(err))
	}
	return nil
}

func (es *Elastic) UpsertItem(ctx context.Context, name string,
	key interface{}, doc x.Document) error {

	if err := es.throttle(ctx); err != nil {
		return err
	}
	id := x.KeyString(key)
	_, err := es.client.Index().Index(name).Id(id).BodyJson(doc).Do(ctx)
	if err != nil {
		return errors.Errorf("elasticsearch: indexing %s/%s: %s", name, id, reason(err))
	}
	return nil
}

func (es *Elastic) DeleteItem(ctx context.Context, name string, key interface{}) error {
	if err := es.throttle(ctx); err != nil {
		return err
	}
	id := x.KeyString(key)
	_, err := es.client.Delete().Index(name).Id(id).Do(ctx)
	if elastic.IsNotFound(err) {
		// Deleting what is not there achieves what was asked.
		return nil
	}
	if err != nil {
		return errors.Errorf("elasticsearch: deleting %s/%s: %s", name, id, reason(err))
	}
	return nil
}

func init() {
	log.Info("Initing elasticsearch")
	search.Register("elasticsearch", new(Elastic))
}
