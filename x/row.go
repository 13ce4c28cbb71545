package x

import "strings"

// Row is a single record as read from a store, keyed by column name. Nested
// objects show up as nested maps, the way encoding/json leaves them.
type Row map[string]interface{}

// Document is the flat body that gets written to a search index.
type Document map[string]interface{}

// Filter is a predicate over rows. A plain value means equality; a nested
// map holds operators: _eq, _neq, _in, _nin, _gt, _gte, _lt, _lte, _null
// and _nnull.
type Filter map[string]interface{}

// Clone returns a copy of the row one level deep. Nested values are shared.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Flatten converts nested objects into dotted-path keys, so
// {"author": {"name": "x"}} becomes {"author.name": "x"}. Slices and
// scalars are kept as they are. The input row is left untouched.
func Flatten(r Row) Row {
	out := make(Row, len(r))
	flattenInto(out, "", r)
	return out
}

func flattenInto(out Row, prefix string, m map[string]interface{}) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch nested := v.(type) {
		case map[string]interface{}:
			flattenInto(out, key, nested)
		case Row:
			flattenInto(out, key, nested)
		case Document:
			flattenInto(out, key, nested)
		default:
			out[key] = v
		}
	}
}

// PathWithin reports whether the dotted path is the root itself or lies
// underneath it. Comparison is by whole segments, so "author_id" does not
// cover "author_id2".
func PathWithin(path, root string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+".")
}

// Project keeps only the keys of a flattened row that fall within one of
// the given field paths. A new row is returned.
func Project(r Row, fields []string) Row {
	out := make(Row)
	for k, v := range r {
		for _, f := range fields {
			if PathWithin(k, f) {
				out[k] = v
				break
			}
		}
	}
	return out
}

// Columns reduces a list of possibly dotted field paths to the unique
// top-level column names, preserving first appearance order.
func Columns(fields []string) []string {
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		col := f
		if idx := strings.IndexByte(f, '.'); idx >= 0 {
			col = f[:idx]
		}
		if col == "" || seen[col] {
			continue
		}
		seen[col] = true
		out = append(out, col)
	}
	return out
}
