package sqlstore

import (
	"context"

	"github.com/pkg/errors"

	"github.com/Fliegerweb/searchsync/store"
)

const schemaCacheKey = "schema"

// Primary keys per table, restricted to the schema the connection lives
// in. Tables with composite keys come back with several rows.
const pgPrimaryKeys = `
SELECT tc.table_name, kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name
 AND kcu.table_schema = tc.table_schema
WHERE tc.constraint_type = 'PRIMARY KEY'
  AND tc.table_schema = current_schema()`

const pgForeignKeys = `
SELECT tc.table_name, kcu.column_name, ccu.table_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name
 AND kcu.table_schema = tc.table_schema
JOIN information_schema.constraint_column_usage ccu
  ON ccu.constraint_name = tc.constraint_name
 AND ccu.table_schema = tc.table_schema
WHERE tc.constraint_type = 'FOREIGN KEY'
  AND tc.table_schema = current_schema()`

const myPrimaryKeys = `
SELECT table_name, column_name
FROM information_schema.key_column_usage
WHERE table_schema = DATABASE()
  AND constraint_name = 'PRIMARY'`

const myForeignKeys = `
SELECT table_name, column_name, referenced_table_name
FROM information_schema.key_column_usage
WHERE table_schema = DATABASE()
  AND referenced_table_name IS NOT NULL`

// Schema introspects primary and foreign keys from information_schema.
// Results are cached for the configured TTL, so a busy feed does not hammer
// the catalog on every notification.
func (s *SqlStore) Schema(ctx context.Context) (*store.Schema, error) {
	if schema, ok := s.cache.Get(schemaCacheKey); ok {
		return schema, nil
	}
	schema, err := s.introspect(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.Add(schemaCacheKey, schema)
	return schema, nil
}

// InvalidateSchema drops the cached schema, forcing a fresh introspection
// on the next read. Call it after running migrations.
func (s *SqlStore) InvalidateSchema() {
	s.cache.Remove(schemaCacheKey)
}

func (s *SqlStore) introspect(ctx context.Context) (*store.Schema, error) {
	pkQuery, fkQuery := pgPrimaryKeys, pgForeignKeys
	if s.d == mysql {
		pkQuery, fkQuery = myPrimaryKeys, myForeignKeys
	}

	pkCols := make(map[string][]string)
	rows, err := s.db.QueryContext(ctx, pkQuery)
	if err != nil {
		return nil, errors.Wrap(err, "sqlstore: introspecting primary keys")
	}
	defer rows.Close()
	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return nil, errors.Wrap(err, "sqlstore: scanning primary key")
		}
		pkCols[table] = append(pkCols[table], column)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlstore: introspecting primary keys")
	}

	schema := &store.Schema{
		Collections: make(map[string]store.CollectionSchema, len(pkCols)),
	}
	for table, cols := range pkCols {
		if len(cols) != 1 {
			// Rows behind composite keys cannot be addressed by a single
			// id, so the table stays out of sight.
			log.WithField("table", table).Debug("Skipping table with composite primary key")
			continue
		}
		schema.Collections[table] = store.CollectionSchema{PrimaryKey: cols[0]}
	}

	frows, err := s.db.QueryContext(ctx, fkQuery)
	if err != nil {
		return nil, errors.Wrap(err, "sqlstore: introspecting foreign keys")
	}
	defer frows.Close()
	for frows.Next() {
		var table, column, related string
		if err := frows.Scan(&table, &column, &related); err != nil {
			return nil, errors.Wrap(err, "sqlstore: scanning foreign key")
		}
		schema.Relations = append(schema.Relations, store.Relation{
			Collection: table,
			Field:      column,
			Related:    related,
		})
	}
	if err := frows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlstore: introspecting foreign keys")
	}
	return schema, nil
}
