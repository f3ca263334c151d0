// merge/merger.go
package merge

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jeremymoreau/covid19mtl/models"
	"github.com/jeremymoreau/covid19mtl/table"
	"github.com/jeremymoreau/covid19mtl/utils"
)

// Outcome of merging one day into one table.
type Outcome int

const (
	Appended Outcome = iota
	Sentinel
	AlreadyCommitted
	// Replaced marks a table rebuilt in full from the latest snapshot.
	Replaced
)

func (o Outcome) String() string {
	switch o {
	case Appended:
		return "appended"
	case Sentinel:
		return "sentinel"
	case Replaced:
		return "replaced"
	default:
		return "already committed"
	}
}

func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *Outcome) UnmarshalText(text []byte) error {
	for _, c := range []Outcome{Appended, Sentinel, AlreadyCommitted, Replaced} {
		if c.String() == string(text) {
			*o = c
			return nil
		}
	}
	return fmt.Errorf("unknown merge outcome %q", text)
}

// Day is one day's raw upstream values, labelled the way the upstream labels them.
type Day struct {
	Date     string
	Resource string
	Labels   []string
	Values   []string
	// Unpublished marks a day the upstream skipped; it is committed as a sentinel row.
	Unpublished bool
}

// Plan tells the merger how a payload maps onto a table.
type Plan struct {
	Map FieldMap
	// Aggregates are labels of trailing total or unknown rows, matched by
	// case-insensitive prefix and dropped before mapping.
	Aggregates []string
}

// Result describes what MergeDay did.
type Result struct {
	Table       string  `json:"table"`
	Date        string  `json:"date"`
	Outcome     Outcome `json:"outcome"`
	DuplicateOf string  `json:"duplicate_of,omitempty"`
}

// Merger folds one day of upstream data into a processed table.
type Merger struct {
	// Lookback is how many recent committed rows a new day is compared with
	// when looking for a re-served payload.
	Lookback int
	Logger   *utils.Logger
}

// MergeDay returns t with day appended, or with a sentinel row when the
// payload repeats a recently committed row. Merging a date that is already
// committed returns t unchanged.
func (m *Merger) MergeDay(t table.Table, day Day, plan Plan) (table.Table, Result, error) {
	s := t.Schema()
	res := Result{Table: s.Name, Date: day.Date}
	if t.Has(day.Date) {
		res.Outcome = AlreadyCommitted
		m.Logger.Info("[merge] %s: %s already committed, nothing to do", s.Name, day.Date)
		return t, res, nil
	}
	if _, err := time.Parse(models.DateLayout, day.Date); err != nil {
		return t, res, fmt.Errorf("merge %s: invalid date %q: %w", s.Name, day.Date, err)
	}

	if day.Unpublished {
		out, err := t.Append(day.Date, table.SentinelRow(len(s.Fields)))
		if err != nil {
			return t, res, fmt.Errorf("merge %s: %w", s.Name, err)
		}
		res.Outcome = Sentinel
		m.Logger.Info("[merge] %s: %s not published upstream, committing %q", s.Name, day.Date, table.NA)
		return out, res, nil
	}

	labels, values := DropAggregates(day.Labels, day.Values, plan.Aggregates)
	ordered, err := plan.Map.Apply(day.Resource, labels, values, s)
	if err != nil {
		return t, res, fmt.Errorf("merge %s: %w", s.Name, err)
	}
	row := make([]string, len(ordered))
	for i, raw := range ordered {
		v, err := Clean(raw, s.Fields[i])
		if err != nil {
			return t, res, fmt.Errorf("merge %s: field %q: %w", s.Name, s.Fields[i].Name,
				&models.SchemaDriftError{Resource: day.Resource, Detail: err.Error()})
		}
		row[i] = v
	}

	keys, recent := t.RecentCommitted(max(m.Lookback, 1))
	for i, prev := range recent {
		if slices.Equal(prev, row) {
			res.Outcome = Sentinel
			res.DuplicateOf = keys[i]
			row = table.SentinelRow(len(row))
			m.Logger.Info("[merge] %s: values for %s repeat %s, committing %q", s.Name, day.Date, keys[i], table.NA)
			break
		}
	}

	if last, _, ok := t.Last(); ok {
		if next, err := models.AddDays(last, 1); err == nil && day.Date > next {
			m.Logger.Warn("[merge] %s: gap between %s and %s", s.Name, last, day.Date)
		}
	}
	out, err := t.Append(day.Date, row)
	if err != nil {
		return t, res, fmt.Errorf("merge %s: %w", s.Name, err)
	}
	if res.Outcome == Appended {
		m.Logger.Info("[merge] %s: appended %s", s.Name, day.Date)
	}
	return out, res, nil
}

// MergeFile loads the table at path, merges day into it and rewrites the
// file when a row was added.
func (m *Merger) MergeFile(path string, s table.Schema, day Day, plan Plan) (Result, error) {
	t, err := table.Load(path, s)
	if err != nil {
		return Result{Table: s.Name, Date: day.Date}, err
	}
	out, res, err := m.MergeDay(t, day, plan)
	if err != nil || res.Outcome == AlreadyCommitted {
		return res, err
	}
	if err := table.Save(path, out); err != nil {
		return res, err
	}
	return res, nil
}

// DropAggregates strips trailing total or unknown rows whose label starts with one of aggregates.
func DropAggregates(labels, values []string, aggregates []string) ([]string, []string) {
	n := len(labels)
	for n > 0 && isAggregate(labels[n-1], aggregates) {
		n--
	}
	return labels[:n], values[:min(n, len(values))]
}

func isAggregate(label string, aggregates []string) bool {
	l := strings.ToLower(strings.TrimSpace(label))
	for _, a := range aggregates {
		if strings.HasPrefix(l, strings.ToLower(a)) {
			return true
		}
	}
	return false
}
