// metrics/series.go
package metrics

import (
	"fmt"
	"time"

	"github.com/jeremymoreau/covid19mtl/models"
	"github.com/jeremymoreau/covid19mtl/table"
)

// Series is a date-keyed numeric column. Absent points (sentinel or empty
// cells) are missing days and never count as zero.
type Series struct {
	Dates   []string
	Values  []float64
	Present []bool
	days    []int64
}

// NewSeries builds a series from ordered ISO dates and table cells.
func NewSeries(dates, cells []string) (Series, error) {
	if len(dates) != len(cells) {
		return Series{}, fmt.Errorf("series has %d dates and %d cells", len(dates), len(cells))
	}
	s := Series{
		Dates:   append([]string(nil), dates...),
		Values:  make([]float64, len(dates)),
		Present: make([]bool, len(dates)),
		days:    make([]int64, len(dates)),
	}
	for i, d := range dates {
		t, err := time.Parse(models.DateLayout, d)
		if err != nil {
			return Series{}, fmt.Errorf("series date %q: %w", d, err)
		}
		s.days[i] = t.Unix() / 86400
		s.Values[i], s.Present[i] = table.Number(cells[i])
	}
	return s, nil
}

// Column extracts a field of a table as a series.
func Column(t table.Table, field string) (Series, error) {
	cells, err := t.Column(field)
	if err != nil {
		return Series{}, err
	}
	return NewSeries(t.Keys(), cells)
}

func (s Series) empty() Series {
	return Series{
		Dates:   s.Dates,
		Values:  make([]float64, len(s.Dates)),
		Present: make([]bool, len(s.Dates)),
		days:    s.days,
	}
}

// Lookup returns the value at a date.
func (s Series) Lookup(date string) (float64, bool) {
	for i, d := range s.Dates {
		if d == date {
			return s.Values[i], s.Present[i]
		}
	}
	return 0, false
}

// Diff returns first differences between consecutive present points. The
// first present point has no predecessor and is absent.
func Diff(s Series) Series {
	out := s.empty()
	prev, seen := 0.0, false
	for i, ok := range s.Present {
		if !ok {
			continue
		}
		if seen {
			out.Values[i] = s.Values[i] - prev
			out.Present[i] = true
		}
		prev, seen = s.Values[i], true
	}
	return out
}

// RollingSum sums present values whose date lies in [d-(days-1), d] for
// every date d of the series. A window without present values is absent.
func RollingSum(s Series, days int) Series {
	return rolling(s, days, func(sum float64, n int) float64 { return sum })
}

// RollingMean averages present values over the same calendar window as RollingSum.
func RollingMean(s Series, days int) Series {
	return rolling(s, days, func(sum float64, n int) float64 { return sum / float64(n) })
}

func rolling(s Series, days int, agg func(sum float64, n int) float64) Series {
	out := s.empty()
	lo := 0
	sum, n := 0.0, 0
	for hi := range s.Dates {
		if s.Present[hi] {
			sum += s.Values[hi]
			n++
		}
		for s.days[lo] <= s.days[hi]-int64(days) {
			if s.Present[lo] {
				sum -= s.Values[lo]
				n--
			}
			lo++
		}
		if n > 0 {
			out.Values[hi] = agg(sum, n)
			out.Present[hi] = true
		}
	}
	return out
}

// ClampNegative replaces negative values, produced by upstream corrections, with zero.
func ClampNegative(s Series) Series {
	out := s.empty()
	copy(out.Present, s.Present)
	for i, v := range s.Values {
		out.Values[i] = max(v, 0)
	}
	return out
}

// Map applies fn to every present value.
func Map(s Series, fn func(float64) float64) Series {
	out := s.empty()
	copy(out.Present, s.Present)
	for i, v := range s.Values {
		if s.Present[i] {
			out.Values[i] = fn(v)
		}
	}
	return out
}

// Cells renders the series as table cells with NA for absent points.
func (s Series) Cells(decimals int) []string {
	out := make([]string, len(s.Values))
	for i, v := range s.Values {
		if !s.Present[i] {
			out[i] = table.NA
			continue
		}
		out[i] = table.FormatFloat(Round(v, decimals), decimals)
	}
	return out
}
