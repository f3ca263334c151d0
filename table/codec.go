// table/codec.go
package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/jeremymoreau/covid19mtl/models"
)

// Load reads a processed table from disk. A missing file is an empty table.
func Load(path string, s Schema) (Table, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return New(s), nil
	}
	if err != nil {
		return Table{}, fmt.Errorf("open table %s: %w", path, err)
	}
	defer f.Close()
	t, err := Decode(f, s)
	if err != nil {
		return Table{}, fmt.Errorf("read table %s: %w", path, err)
	}
	return t, nil
}

// Decode parses a table in its schema's layout and validates the header
// against the schema before any row is accepted.
func Decode(r io.Reader, s Schema) (Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return Table{}, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return New(s), nil
	}
	if s.Layout == Wide {
		return decodeWide(records, s)
	}
	return decodeLong(records, s)
}

func decodeLong(records [][]string, s Schema) (Table, error) {
	want := append([]string{s.Key}, s.FieldNames()...)
	if !slices.Equal(records[0], want) {
		return Table{}, headerDrift(s, records[0][min(1, len(records[0])):], s.FieldNames())
	}
	keys := make([]string, 0, len(records)-1)
	rows := make([][]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) != len(want) {
			return Table{}, fmt.Errorf("table %s: row %q has %d cells, want %d", s.Name, rec[0], len(rec), len(want))
		}
		keys = append(keys, rec[0])
		rows = append(rows, rec[1:])
	}
	return FromRows(s, keys, rows)
}

func decodeWide(records [][]string, s Schema) (Table, error) {
	header := records[0]
	if len(header) == 0 || header[0] != s.Key {
		return Table{}, &models.SchemaDriftError{Resource: s.Name, Detail: fmt.Sprintf("first header is not %q", s.Key)}
	}
	entities := make([]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) != len(header) {
			return Table{}, fmt.Errorf("table %s: entity %q has %d cells, want %d", s.Name, rec[0], len(rec), len(header))
		}
		entities = append(entities, rec[0])
	}
	if !slices.Equal(entities, s.FieldNames()) {
		return Table{}, headerDrift(s, entities, s.FieldNames())
	}
	dates := header[1:]
	rows := make([][]string, len(dates))
	for j := range dates {
		row := make([]string, len(entities))
		for i := range entities {
			row[i] = records[i+1][j+1]
		}
		rows[j] = row
	}
	return FromRows(s, dates, rows)
}

func headerDrift(s Schema, got, want []string) error {
	var missing []string
	for _, w := range want {
		if !slices.Contains(got, w) {
			missing = append(missing, w)
		}
	}
	detail := ""
	if len(missing) == 0 {
		detail = fmt.Sprintf("fields %v do not match schema %v", got, want)
	}
	return &models.SchemaDriftError{Resource: s.Name, Missing: missing, Detail: detail}
}

// Encode writes a table in its schema's layout.
func Encode(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	s := t.schema
	if s.Layout == Wide {
		header := append([]string{s.Key}, t.keys...)
		if err := cw.Write(header); err != nil {
			return err
		}
		for i, f := range s.Fields {
			rec := make([]string, 0, len(t.keys)+1)
			rec = append(rec, f.Name)
			for _, row := range t.rows {
				rec = append(rec, row[i])
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
	} else {
		if err := cw.Write(append([]string{s.Key}, s.FieldNames()...)); err != nil {
			return err
		}
		for i, k := range t.keys {
			if err := cw.Write(append([]string{k}, t.rows[i]...)); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// Save rewrites the whole table file. The new content is written to a
// temporary file in the same directory and renamed over the old one.
func Save(path string, t Table) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create table dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file for %s: %w", path, err)
	}
	if err := Encode(tmp, t); err != nil {
		tmp.Close()
		return fmt.Errorf("write table %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace table %s: %w", path, err)
	}
	return nil
}
