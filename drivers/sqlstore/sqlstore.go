// Package sqlstore implements the store on a SQL database, speaking both
// the postgres and mysql dialects. Primary keys and foreign keys are
// discovered from information_schema, so the engine's relation fan out
// works without any hand written schema description.
package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"

	"github.com/Fliegerweb/searchsync/store"
	"github.com/Fliegerweb/searchsync/x"
)

var log = x.Log("sqlstore")

const defaultSchemaTTL = time.Minute

type dialect int

const (
	postgres dialect = iota
	mysql
)

func (d dialect) String() string {
	if d == postgres {
		return "postgres"
	}
	return "mysql"
}

type SqlStore struct {
	db    *sql.DB
	d     dialect
	ttl   time.Duration
	cache *expirable.LRU[string, *store.Schema]
}

// Option tweaks a SqlStore at construction.
type Option func(*SqlStore)

// WithSchemaTTL sets how long an introspected schema is served before the
// database is asked again.
func WithSchemaTTL(ttl time.Duration) Option {
	return func(s *SqlStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// New opens a database for the given database/sql driver name, which also
// picks the SQL dialect. The connection is established lazily.
func New(driver, dsn string, opts ...Option) (*SqlStore, error) {
	var d dialect
	switch driver {
	case "postgres":
		d = postgres
	case "mysql":
		d = mysql
	default:
		return nil, errors.Errorf("sqlstore: unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlstore: opening database")
	}
	s := &SqlStore{db: db, d: d, ttl: defaultSchemaTTL}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = expirable.NewLRU[string, *store.Schema](1, nil, s.ttl)
	return s, nil
}

// Init wires the driver through the registry: driver name, DSN, and an
// optional schema cache TTL such as "30s". It pings the database so a dead
// DSN surfaces at startup instead of on the first notification.
func (s *SqlStore) Init(args ...string) error {
	if len(args) < 2 || len(args) > 3 {
		return errors.Errorf("sqlstore: want driver, DSN and optional schema TTL, got %d args", len(args))
	}
	var opts []Option
	if len(args) == 3 {
		ttl, err := time.ParseDuration(args[2])
		if err != nil {
			return errors.Wrapf(err, "sqlstore: bad schema TTL %q", args[2])
		}
		opts = append(opts, WithSchemaTTL(ttl))
	}
	ns, err := New(args[0], args[1], opts...)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ns.db.PingContext(ctx); err != nil {
		return errors.Wrap(err, "sqlstore: pinging database")
	}
	*s = *ns
	log.WithField("dialect", ns.d.String()).Debug("Connected with SQL database")
	return nil
}

// Close releases the underlying connection pool.
func (s *SqlStore) Close() error {
	return s.db.Close()
}

func (s *SqlStore) ReadByQuery(ctx context.Context, collection string,
	q store.Query) ([]x.Row, error) {

	schema, err := s.Schema(ctx)
	if err != nil {
		return nil, err
	}
	pk, ok := schema.PrimaryKey(collection)
	if !ok {
		return nil, errors.Errorf("sqlstore: unknown table %q", collection)
	}
	query, args, err := s.selectQuery(collection, q.Fields, pk, q.Filter, q.Limit, q.Offset)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "sqlstore: querying %s", collection)
	}
	defer rows.Close()
	return scanRows(rows)
}

func (s *SqlStore) ReadMany(ctx context.Context, collection string,
	ids []interface{}, q store.Query) ([]x.Row, error) {

	if len(ids) == 0 {
		return nil, nil
	}
	schema, err := s.Schema(ctx)
	if err != nil {
		return nil, err
	}
	pk, ok := schema.PrimaryKey(collection)
	if !ok {
		return nil, errors.Errorf("sqlstore: unknown table %q", collection)
	}
	query, args, err := s.readManyQuery(collection, pk, q.Fields, ids, q.Filter)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "sqlstore: querying %s", collection)
	}
	defer rows.Close()
	return scanRows(rows)
}

func (s *SqlStore) KeysByQuery(ctx context.Context, collection string,
	filter x.Filter) ([]interface{}, error) {

	schema, err := s.Schema(ctx)
	if err != nil {
		return nil, err
	}
	pk, ok := schema.PrimaryKey(collection)
	if !ok {
		return nil, errors.Errorf("sqlstore: unknown table %q", collection)
	}
	query, args, err := s.keysQuery(collection, pk, filter)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "sqlstore: querying keys of %s", collection)
	}
	defer rows.Close()

	var keys []interface{}
	for rows.Next() {
		var key interface{}
		if err := rows.Scan(&key); err != nil {
			return nil, errors.Wrap(err, "sqlstore: scanning key")
		}
		if b, ok := key.([]byte); ok {
			key = string(b)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// scanRows turns a generic result set into rows keyed by column name.
// Byte slices become strings, since every SQL driver hands text over as
// []byte at least some of the time.
func scanRows(rows *sql.Rows) ([]x.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, "sqlstore: reading column names")
	}
	var out []x.Row
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrap(err, "sqlstore: scanning row")
		}
		row := make(x.Row, len(cols))
		for i, col := range cols {
			v := vals[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[col] = v
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func init() {
	log.Info("Initing sqlstore")
	store.Register("sqlstore", new(SqlStore))
}
