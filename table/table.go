// table/table.go
package table

import (
	"errors"
	"fmt"
	"slices"
	"sort"
)

// ErrKeyOrder is returned when a row would break strictly increasing date order.
var ErrKeyOrder = errors.New("keys must be strictly increasing")

// Table is an immutable, date-keyed view of a processed table. Every method
// that changes content returns a new Table; the receiver is never modified.
type Table struct {
	schema Schema
	keys   []string
	rows   [][]string
}

// New returns an empty table.
func New(s Schema) Table {
	return Table{schema: s}
}

// FromRows builds a table from parallel keys and rows, validating order and kinds.
func FromRows(s Schema, keys []string, rows [][]string) (Table, error) {
	if len(keys) != len(rows) {
		return Table{}, fmt.Errorf("table %s: %d keys for %d rows", s.Name, len(keys), len(rows))
	}
	t := Table{schema: s, keys: make([]string, len(keys)), rows: make([][]string, len(rows))}
	for i, k := range keys {
		if i > 0 && k <= keys[i-1] {
			return Table{}, fmt.Errorf("table %s: %q after %q: %w", s.Name, k, keys[i-1], ErrKeyOrder)
		}
		if err := s.CheckRow(k, rows[i]); err != nil {
			return Table{}, err
		}
		t.keys[i] = k
		t.rows[i] = append([]string(nil), rows[i]...)
	}
	return t, nil
}

func (t Table) Schema() Schema { return t.schema }
func (t Table) Len() int       { return len(t.keys) }

// Keys returns a copy of the ordered keys.
func (t Table) Keys() []string {
	return append([]string(nil), t.keys...)
}

func (t Table) find(key string) (int, bool) {
	i := sort.SearchStrings(t.keys, key)
	return i, i < len(t.keys) && t.keys[i] == key
}

// Has reports whether key is committed.
func (t Table) Has(key string) bool {
	_, ok := t.find(key)
	return ok
}

// Row returns a copy of the row for key.
func (t Table) Row(key string) ([]string, bool) {
	i, ok := t.find(key)
	if !ok {
		return nil, false
	}
	return append([]string(nil), t.rows[i]...), true
}

// At returns the key and a copy of the row at position i.
func (t Table) At(i int) (string, []string) {
	return t.keys[i], append([]string(nil), t.rows[i]...)
}

// Last returns the most recent row.
func (t Table) Last() (string, []string, bool) {
	if len(t.keys) == 0 {
		return "", nil, false
	}
	k, row := t.At(len(t.keys) - 1)
	return k, row, true
}

// Equal reports whether both tables hold the same keys and cells.
func (t Table) Equal(o Table) bool {
	return slices.Equal(t.keys, o.keys) && slices.EqualFunc(t.rows, o.rows, slices.Equal[[]string])
}

// Column returns a copy of one field across all rows.
func (t Table) Column(name string) ([]string, error) {
	idx := t.schema.Index(name)
	if idx < 0 {
		return nil, fmt.Errorf("table %s has no field %q", t.schema.Name, name)
	}
	out := make([]string, len(t.rows))
	for i, row := range t.rows {
		out[i] = row[idx]
	}
	return out, nil
}

// Append returns a new table with one more row. The key must sort after every committed key.
func (t Table) Append(key string, values []string) (Table, error) {
	if n := len(t.keys); n > 0 && key <= t.keys[n-1] {
		return Table{}, fmt.Errorf("table %s: append %q after %q: %w", t.schema.Name, key, t.keys[n-1], ErrKeyOrder)
	}
	if err := t.schema.CheckRow(key, values); err != nil {
		return Table{}, err
	}
	keys := make([]string, len(t.keys), len(t.keys)+1)
	copy(keys, t.keys)
	rows := make([][]string, len(t.rows), len(t.rows)+1)
	copy(rows, t.rows)
	return Table{
		schema: t.schema,
		keys:   append(keys, key),
		rows:   append(rows, append([]string(nil), values...)),
	}, nil
}

// IsSentinel reports whether every value of a row is NA.
func IsSentinel(values []string) bool {
	if len(values) == 0 {
		return false
	}
	for _, v := range values {
		if v != NA {
			return false
		}
	}
	return true
}

// SentinelRow returns n NA cells.
func SentinelRow(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = NA
	}
	return out
}

// RecentCommitted returns up to n of the most recent non-sentinel rows, newest first.
func (t Table) RecentCommitted(n int) (keys []string, rows [][]string) {
	for i := len(t.rows) - 1; i >= 0 && len(keys) < n; i-- {
		if IsSentinel(t.rows[i]) {
			continue
		}
		keys = append(keys, t.keys[i])
		rows = append(rows, append([]string(nil), t.rows[i]...))
	}
	return keys, rows
}
