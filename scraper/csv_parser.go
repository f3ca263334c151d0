// scraper/csv_parser.go
package scraper

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/jszwec/csvutil"

	"github.com/jeremymoreau/covid19mtl/models"
)

// ErrDayNotPublished is returned when a source does not carry a row for the requested date.
var ErrDayNotPublished = errors.New("day not published")

// Frame is a positional view of an upstream CSV, as used by freshness checks
// and by the ';'-separated Santé Montréal files.
type Frame struct {
	Resource string
	Header   []string
	Rows     [][]string
}

// ReadFrame parses content. Rows whose cells are all empty are dropped.
func ReadFrame(resource, content string, comma rune, header bool) (*Frame, error) {
	r := csv.NewReader(strings.NewReader(strings.TrimPrefix(content, "\ufeff")))
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", resource, err)
	}
	f := &Frame{Resource: resource}
	for _, rec := range records {
		if f.Header == nil && header {
			f.Header = rec
			continue
		}
		if isBlank(rec) {
			continue
		}
		f.Rows = append(f.Rows, rec)
	}
	return f, nil
}

func isBlank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Cell returns the trimmed cell at a data row and column. Negative rows count from the end.
func (f *Frame) Cell(row, col int) (string, error) {
	if row < 0 {
		row += len(f.Rows)
	}
	if row < 0 || row >= len(f.Rows) || col < 0 || col >= len(f.Rows[row]) {
		return "", &models.SchemaDriftError{
			Resource: f.Resource,
			Detail:   fmt.Sprintf("no cell at row %d, column %d (%d rows)", row, col, len(f.Rows)),
		}
	}
	return strings.TrimSpace(f.Rows[row][col]), nil
}

// Col returns the position of a header.
func (f *Frame) Col(name string) (int, error) {
	i := slices.Index(f.Header, name)
	if i < 0 {
		return -1, &models.SchemaDriftError{Resource: f.Resource, Missing: []string{name}}
	}
	return i, nil
}

// Column returns the row labels (first column) and the cells of the named column.
func (f *Frame) Column(name string) (labels, values []string, err error) {
	col, err := f.Col(name)
	if err != nil {
		return nil, nil, err
	}
	for _, row := range f.Rows {
		if col >= len(row) {
			return nil, nil, &models.SchemaDriftError{Resource: f.Resource, Detail: fmt.Sprintf("short row %q", row[0])}
		}
		labels = append(labels, strings.TrimSpace(row[0]))
		values = append(values, strings.TrimSpace(row[col]))
	}
	return labels, values, nil
}

// Lookup returns the cell at the row labelled label and the named column.
func (f *Frame) Lookup(label, column string) (string, error) {
	labels, values, err := f.Column(column)
	if err != nil {
		return "", err
	}
	i := slices.Index(labels, label)
	if i < 0 {
		return "", &models.SchemaDriftError{Resource: f.Resource, Missing: []string{label}}
	}
	return values[i], nil
}

// Find returns the first data row whose first cell is label, with the header as labels.
func (f *Frame) Find(label string) (Record, bool) {
	for _, row := range f.Rows {
		if strings.TrimSpace(row[0]) != label {
			continue
		}
		values := make([]string, len(row))
		for i, c := range row {
			values[i] = strings.TrimSpace(c)
		}
		return Record{Labels: f.Header, Values: values}, true
	}
	return Record{}, false
}

// Record is one upstream row with its header.
type Record struct {
	Labels []string
	Values []string
}

// Get returns the value under a label.
func (r Record) Get(label string) (string, bool) {
	i := slices.Index(r.Labels, label)
	if i < 0 {
		return "", false
	}
	return r.Values[i], true
}

// RegionRow holds the selector columns of INSPQ region-crossed CSVs
// (covid19-hist.csv, vaccination.csv).
type RegionRow struct {
	Date     string `csv:"Date"`
	Group    string `csv:"Regroupement"`
	Crossing string `csv:"Croisement"`
}

// RPARow holds the selector column of the INSPQ death location table.
type RPARow struct {
	RSS string `csv:"RSS"`
}

// decodeRows runs csvutil over content, pinning the columns of T, and calls
// match for every decoded row until it returns true.
func decodeRows[T any](resource, content string, match func(T) bool) (Record, error) {
	r := csv.NewReader(strings.NewReader(strings.TrimPrefix(content, "\ufeff")))
	r.FieldsPerRecord = -1
	dec, err := csvutil.NewDecoder(r)
	if err != nil {
		return Record{}, fmt.Errorf("failed to create CSV decoder for %s: %w", resource, err)
	}
	dec.DisallowMissingColumns = true
	header := slices.Clone(dec.Header())

	for {
		var row T
		err := dec.Decode(&row)
		if err == io.EOF {
			return Record{}, ErrDayNotPublished
		}
		if err != nil {
			var missing *csvutil.MissingColumnsError
			if errors.As(err, &missing) {
				return Record{}, &models.SchemaDriftError{Resource: resource, Missing: missing.Columns}
			}
			return Record{}, fmt.Errorf("failed to decode %s: %w", resource, err)
		}
		if match(row) {
			return Record{Labels: header, Values: slices.Clone(dec.Record())}, nil
		}
	}
}

// FindRegionDay returns the row of an INSPQ region-crossed CSV for one date,
// grouping and crossing (e.g. "Région"/"RSS99" for all of Québec).
func FindRegionDay(resource, content, date, group, crossing string) (Record, error) {
	rec, err := decodeRows(resource, content, func(r RegionRow) bool {
		return strings.TrimSpace(r.Date) == date && r.Group == group && r.Crossing == crossing
	})
	if errors.Is(err, ErrDayNotPublished) {
		return Record{}, fmt.Errorf("%s has no %s/%s row for %s: %w", resource, group, crossing, date, err)
	}
	return rec, err
}

// FindRPARow returns the first row of the death location table whose RSS
// column contains region.
func FindRPARow(resource, content, region string) (Record, error) {
	rec, err := decodeRows(resource, content, func(r RPARow) bool {
		return strings.Contains(r.RSS, region)
	})
	if errors.Is(err, ErrDayNotPublished) {
		return Record{}, &models.SchemaDriftError{Resource: resource, Missing: []string{region}}
	}
	return rec, err
}
