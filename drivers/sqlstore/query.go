package sqlstore

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/Fliegerweb/searchsync/x"
)

// Identifiers come from config files and schema introspection, never from
// request payloads, but they still get checked before landing in SQL text.
var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func checkIdent(name string) error {
	if !identRe.MatchString(name) {
		return errors.Errorf("sqlstore: refusing identifier %q", name)
	}
	return nil
}

func (d dialect) quote(ident string) string {
	if d == postgres {
		return `"` + ident + `"`
	}
	return "`" + ident + "`"
}

// placeholder renders the n-th bind marker, counting from one. Postgres
// numbers its placeholders, mysql repeats a question mark.
func (d dialect) placeholder(n int) string {
	if d == postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *SqlStore) columnList(fields []string, pk string) (string, error) {
	cols := x.Columns(fields)
	if len(cols) == 0 {
		return "*", nil
	}
	havePk := false
	for _, col := range cols {
		if col == pk {
			havePk = true
			break
		}
	}
	if !havePk {
		cols = append(cols, pk)
	}
	quoted := make([]string, len(cols))
	for i, col := range cols {
		if err := checkIdent(col); err != nil {
			return "", err
		}
		quoted[i] = s.d.quote(col)
	}
	return strings.Join(quoted, ", "), nil
}

func (s *SqlStore) selectQuery(table string, fields []string, pk string,
	filter x.Filter, limit, offset int) (string, []interface{}, error) {

	if err := checkIdent(table); err != nil {
		return "", nil, err
	}
	if err := checkIdent(pk); err != nil {
		return "", nil, err
	}
	cols, err := s.columnList(fields, pk)
	if err != nil {
		return "", nil, err
	}
	argn := 1
	where, args, err := s.compileFilter(filter, &argn)
	if err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(cols)
	sb.WriteString(" FROM ")
	sb.WriteString(s.d.quote(table))
	if where != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
	}
	sb.WriteString(" ORDER BY ")
	sb.WriteString(s.d.quote(pk))
	if limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d OFFSET %d", limit, offset)
	}
	return sb.String(), args, nil
}

func (s *SqlStore) readManyQuery(table, pk string, fields []string,
	ids []interface{}, filter x.Filter) (string, []interface{}, error) {

	if err := checkIdent(table); err != nil {
		return "", nil, err
	}
	if err := checkIdent(pk); err != nil {
		return "", nil, err
	}
	cols, err := s.columnList(fields, pk)
	if err != nil {
		return "", nil, err
	}
	argn := 1
	in, args := s.inClause(s.d.quote(pk), ids, &argn)
	where, wargs, err := s.compileFilter(filter, &argn)
	if err != nil {
		return "", nil, err
	}
	args = append(args, wargs...)

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(cols)
	sb.WriteString(" FROM ")
	sb.WriteString(s.d.quote(table))
	sb.WriteString(" WHERE ")
	sb.WriteString(in)
	if where != "" {
		sb.WriteString(" AND ")
		sb.WriteString(where)
	}
	return sb.String(), args, nil
}

func (s *SqlStore) keysQuery(table, pk string, filter x.Filter) (string, []interface{}, error) {
	if err := checkIdent(table); err != nil {
		return "", nil, err
	}
	if err := checkIdent(pk); err != nil {
		return "", nil, err
	}
	argn := 1
	where, args, err := s.compileFilter(filter, &argn)
	if err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(s.d.quote(pk))
	sb.WriteString(" FROM ")
	sb.WriteString(s.d.quote(table))
	if where != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
	}
	return sb.String(), args, nil
}

// inClause renders `col IN (...)` for an already quoted column.
func (s *SqlStore) inClause(col string, vals []interface{}, argn *int) (string, []interface{}) {
	ph := make([]string, len(vals))
	args := make([]interface{}, len(vals))
	for i, v := range vals {
		ph[i] = s.d.placeholder(*argn)
		args[i] = v
		*argn++
	}
	return col + " IN (" + strings.Join(ph, ", ") + ")", args
}

// compileFilter renders a filter into a WHERE fragment. Conditions join
// with AND, fields and operators in sorted order so the same filter always
// produces the same SQL. An empty filter yields an empty fragment.
func (s *SqlStore) compileFilter(filter x.Filter, argn *int) (string, []interface{}, error) {
	if len(filter) == 0 {
		return "", nil, nil
	}
	fields := make([]string, 0, len(filter))
	for field := range filter {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var conds []string
	var args []interface{}
	for _, field := range fields {
		if err := checkIdent(field); err != nil {
			return "", nil, err
		}
		col := s.d.quote(field)
		switch cond := filter[field].(type) {
		case x.Filter:
			c, a, err := s.compileOps(col, cond, argn)
			if err != nil {
				return "", nil, err
			}
			conds = append(conds, c...)
			args = append(args, a...)
		case map[string]interface{}:
			c, a, err := s.compileOps(col, cond, argn)
			if err != nil {
				return "", nil, err
			}
			conds = append(conds, c...)
			args = append(args, a...)
		default:
			conds = append(conds, col+" = "+s.d.placeholder(*argn))
			args = append(args, cond)
			*argn++
		}
	}
	return strings.Join(conds, " AND "), args, nil
}

func (s *SqlStore) compileOps(col string, ops map[string]interface{},
	argn *int) ([]string, []interface{}, error) {

	names := make([]string, 0, len(ops))
	for op := range ops {
		names = append(names, op)
	}
	sort.Strings(names)

	var conds []string
	var args []interface{}
	for _, op := range names {
		c, a, err := s.compileOp(col, op, ops[op], argn)
		if err != nil {
			return nil, nil, err
		}
		if c != "" {
			conds = append(conds, c)
			args = append(args, a...)
		}
	}
	return conds, args, nil
}

func (s *SqlStore) compileOp(col, op string, val interface{},
	argn *int) (string, []interface{}, error) {

	bindOne := func(sqlOp string) (string, []interface{}, error) {
		ph := s.d.placeholder(*argn)
		*argn++
		return col + " " + sqlOp + " " + ph, []interface{}{val}, nil
	}
	switch op {
	case "_eq":
		return bindOne("=")
	case "_neq":
		return bindOne("<>")
	case "_gt":
		return bindOne(">")
	case "_gte":
		return bindOne(">=")
	case "_lt":
		return bindOne("<")
	case "_lte":
		return bindOne("<=")
	case "_in", "_nin":
		list, ok := val.([]interface{})
		if !ok {
			return "", nil, errors.Errorf("sqlstore: %s wants a list, got %T", op, val)
		}
		if len(list) == 0 {
			if op == "_in" {
				// Nothing can be in an empty list.
				return "1 = 0", nil, nil
			}
			return "", nil, nil
		}
		in, args := s.inClause(col, list, argn)
		if op == "_nin" {
			in = strings.Replace(in, " IN ", " NOT IN ", 1)
		}
		return in, args, nil
	case "_null":
		if want, _ := val.(bool); want {
			return col + " IS NULL", nil, nil
		}
		return col + " IS NOT NULL", nil, nil
	case "_nnull":
		if want, _ := val.(bool); want {
			return col + " IS NOT NULL", nil, nil
		}
		return col + " IS NULL", nil, nil
	default:
		return "", nil, errors.Errorf("sqlstore: unknown filter operator %q", op)
	}
}
