// table/schema.go
package table

import (
	"fmt"
	"strconv"
)

// NA is the sentinel committed in place of a value the upstream re-served unchanged.
const NA = "na"

// Kind is the value type of a field.
type Kind int

const (
	Int Kind = iota
	Float
	Text
)

func (k Kind) String() string {
	switch k {
	case Int:
		return "int"
	case Float:
		return "float"
	default:
		return "text"
	}
}

// Field is one typed column of a table.
type Field struct {
	Name     string
	Kind     Kind
	Decimals int // formatting precision for Float fields
}

// Layout is the on-disk orientation of a table.
type Layout int

const (
	// Long stores one row per date.
	Long Layout = iota
	// Wide stores one row per entity and one column per date.
	Wide
)

// Schema pins the name, orientation and typed fields of a processed table.
// For Long tables Key is the header of the date column; for Wide tables it is
// the header of the entity column and Fields are the entities.
type Schema struct {
	Name   string
	Key    string
	Layout Layout
	Fields []Field
}

// IntFields builds Int fields from names.
func IntFields(names ...string) []Field {
	out := make([]Field, len(names))
	for i, n := range names {
		out[i] = Field{Name: n, Kind: Int}
	}
	return out
}

// FieldNames returns the ordered field names.
func (s Schema) FieldNames() []string {
	out := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Name
	}
	return out
}

// Index returns the position of a field or -1.
func (s Schema) Index(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// ParseError reports a cell that does not match its field kind.
type ParseError struct {
	Table string
	Key   string
	Field string
	Kind  Kind
	Value string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("table %s: %s/%s: %q is not a valid %s", e.Table, e.Key, e.Field, e.Value, e.Kind)
}

// CheckRow validates every cell of a row against the schema. NA is valid for every kind.
func (s Schema) CheckRow(key string, values []string) error {
	if len(values) != len(s.Fields) {
		return fmt.Errorf("table %s: row %s has %d values, schema has %d fields", s.Name, key, len(values), len(s.Fields))
	}
	for i, v := range values {
		f := s.Fields[i]
		if v == NA || f.Kind == Text {
			continue
		}
		var err error
		switch f.Kind {
		case Int:
			_, err = strconv.ParseInt(v, 10, 64)
		case Float:
			_, err = strconv.ParseFloat(v, 64)
		}
		if err != nil {
			return &ParseError{Table: s.Name, Key: key, Field: f.Name, Kind: f.Kind, Value: v}
		}
	}
	return nil
}

// FormatInt renders an integer cell.
func FormatInt(v int64) string { return strconv.FormatInt(v, 10) }

// FormatFloat renders a float cell with a fixed number of decimals.
func FormatFloat(v float64, decimals int) string {
	return strconv.FormatFloat(v, 'f', decimals, 64)
}

// Number parses a numeric cell. NA and empty cells are reported as absent.
func Number(cell string) (float64, bool) {
	if cell == NA || cell == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
