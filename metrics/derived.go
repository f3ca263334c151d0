// metrics/derived.go
package metrics

import (
	"fmt"
	"sort"

	"github.com/jeremymoreau/covid19mtl/models"
	"github.com/jeremymoreau/covid19mtl/table"
)

// Window is the trailing incidence window in calendar days.
const Window = 7

// Populations maps an entity or region to its fixed population.
type Populations map[string]float64

// columns assembles a long table from named series sharing the same dates.
type columns struct {
	fields []table.Field
	cells  [][]string
}

func (c *columns) add(f table.Field, cells []string) {
	c.fields = append(c.fields, f)
	c.cells = append(c.cells, cells)
}

func (c *columns) build(name string, dates []string) (table.Table, error) {
	rows := make([][]string, len(dates))
	for i := range dates {
		row := make([]string, len(c.fields))
		for j := range c.fields {
			row[j] = c.cells[j][i]
		}
		rows[i] = row
	}
	s := table.Schema{Name: name, Key: "date", Layout: table.Long, Fields: c.fields}
	return table.FromRows(s, dates, rows)
}

func intField(name string) table.Field { return table.Field{Name: name, Kind: table.Int} }

func floatField(name string, decimals int) table.Field {
	return table.Field{Name: name, Kind: table.Float, Decimals: decimals}
}

func textField(name string) table.Field { return table.Field{Name: name, Kind: table.Text} }

// incidence is the clamped 7-day sum of daily new counts derived from a cumulative series.
func incidence(cumulative Series) (daily, weekly Series) {
	daily = Diff(cumulative)
	weekly = ClampNegative(RollingSum(daily, Window))
	return daily, weekly
}

// BoroughIncidence derives, for every borough with a known population, its
// cumulative cases, daily new cases, 7-day incidence, 7-day incidence per
// 100,000 and incidence band. Entities without a population are skipped.
func BoroughIncidence(name string, cases table.Table, pops Populations) (table.Table, error) {
	var c columns
	for _, f := range cases.Schema().Fields {
		pop, ok := pops[f.Name]
		if !ok {
			continue
		}
		cum, err := Column(cases, f.Name)
		if err != nil {
			return table.Table{}, err
		}
		daily, weekly := incidence(cum)
		per100k := Map(weekly, func(v float64) float64 { return Round(Per100k(v, pop), 0) })
		bands := make([]string, len(per100k.Values))
		for i, v := range per100k.Values {
			bands[i] = table.NA
			if per100k.Present[i] {
				bands[i] = Band(v)
			}
		}
		c.add(intField(f.Name+"_cases"), cum.Cells(0))
		c.add(intField(f.Name+"_new_cases"), daily.Cells(0))
		c.add(intField(f.Name+"_7day_incidence"), weekly.Cells(0))
		c.add(intField(f.Name+"_7day_incidence_per100k"), per100k.Cells(0))
		c.add(textField(f.Name+"_7day_incidence_rate"), bands)
	}
	return c.build(name, cases.Keys())
}

// CasesPer1000 derives a wide table of cumulative cases per 1,000
// inhabitants, rounded to one decimal, for entities with a known population.
func CasesPer1000(name string, cases table.Table, pops Populations) (table.Table, error) {
	src := cases.Schema()
	var fields []table.Field
	var idx []int
	for i, f := range src.Fields {
		if _, ok := pops[f.Name]; ok {
			fields = append(fields, floatField(f.Name, 1))
			idx = append(idx, i)
		}
	}
	keys := cases.Keys()
	rows := make([][]string, len(keys))
	for r := range keys {
		_, in := cases.At(r)
		row := make([]string, len(idx))
		for j, i := range idx {
			row[j] = table.NA
			if v, ok := table.Number(in[i]); ok {
				row[j] = table.FormatFloat(Round(Per1000(v, pops[src.Fields[i].Name]), 1), 1)
			}
		}
		rows[r] = row
	}
	s := table.Schema{Name: name, Key: src.Key, Layout: table.Wide, Fields: fields}
	return table.FromRows(s, keys, rows)
}

// AgeBreakdown derives, per age-group field, cases per 100,000 and the share
// (in percent) of both total cases and total per-100,000 rates.
func AgeBreakdown(name string, ages table.Table, pops Populations) (table.Table, error) {
	src := ages.Schema()
	for _, f := range src.Fields {
		if _, ok := pops[f.Name]; !ok {
			return table.Table{}, fmt.Errorf("no population for age group %q", f.Name)
		}
	}
	keys := ages.Keys()
	n := len(src.Fields)
	per100k := make([][]string, n)
	norm := make([][]string, n)
	per100kNorm := make([][]string, n)
	for i := range src.Fields {
		per100k[i] = make([]string, len(keys))
		norm[i] = make([]string, len(keys))
		per100kNorm[i] = make([]string, len(keys))
	}
	for r := range keys {
		_, row := ages.At(r)
		values := make([]float64, n)
		rates := make([]float64, n)
		complete := true
		var total, totalRate float64
		for i, f := range src.Fields {
			v, ok := table.Number(row[i])
			if !ok {
				complete = false
				break
			}
			values[i] = v
			rates[i] = Per100k(v, pops[f.Name])
			total += v
			totalRate += rates[i]
		}
		for i := range src.Fields {
			if !complete {
				per100k[i][r], norm[i][r], per100kNorm[i][r] = table.NA, table.NA, table.NA
				continue
			}
			per100k[i][r] = table.FormatFloat(Round(rates[i], 1), 1)
			norm[i][r] = table.FormatFloat(Round(PerCapita(values[i], total, 100), 1), 1)
			per100kNorm[i][r] = table.FormatFloat(Round(PerCapita(rates[i], totalRate, 100), 1), 1)
		}
	}
	var c columns
	for i, f := range src.Fields {
		c.add(floatField(f.Name+"_per100k", 1), per100k[i])
		c.add(floatField(f.Name+"_norm", 1), norm[i])
		c.add(floatField(f.Name+"_per100k_norm", 1), per100kNorm[i])
	}
	return c.build(name, keys)
}

// VaccineUsage derives daily doses administered and received, their 7-day
// mean, and the share of received doses already administered.
func VaccineUsage(name string, vaccines table.Table, administered, received string) (table.Table, error) {
	doses, err := Column(vaccines, administered)
	if err != nil {
		return table.Table{}, err
	}
	recv, err := Column(vaccines, received)
	if err != nil {
		return table.Table{}, err
	}
	newDoses := Diff(doses)
	used := doses.empty()
	for i := range doses.Values {
		if doses.Present[i] && recv.Present[i] {
			used.Values[i] = PerCapita(doses.Values[i], recv.Values[i], 100)
			used.Present[i] = true
		}
	}
	var c columns
	c.add(intField("new_doses"), newDoses.Cells(0))
	c.add(intField("new_doses_received"), Diff(recv).Cells(0))
	c.add(intField("new_doses_7d_mean"), RollingMean(newDoses, Window).Cells(0))
	c.add(floatField("percent_used", 1), used.Cells(1))
	return c.build(name, vaccines.Keys())
}

// NewCounts derives daily first differences and their 7-day mean for each
// listed cumulative field.
func NewCounts(name string, t table.Table, fields ...string) (table.Table, error) {
	var c columns
	for _, f := range fields {
		cum, err := Column(t, f)
		if err != nil {
			return table.Table{}, err
		}
		daily := Diff(cum)
		c.add(intField("new_"+f), daily.Cells(0))
		c.add(floatField("new_"+f+"_7d_mean", 1), RollingMean(daily, Window).Cells(1))
	}
	return c.build(name, t.Keys())
}

// Region is one cumulative case series summarised by IncidenceSummary.
type Region struct {
	Name       string
	Table      table.Table
	Field      string
	Population float64
}

// IncidenceSummary derives, per region and date, the 7-day incidence per
// 100,000, the same figure one week earlier, the percent change between the
// two and the incidence band. Dates are the union of the regions' dates.
func IncidenceSummary(name string, regions ...Region) (table.Table, error) {
	dateSet := make(map[string]bool)
	for _, r := range regions {
		for _, k := range r.Table.Keys() {
			dateSet[k] = true
		}
	}
	dates := make([]string, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	var c columns
	for _, r := range regions {
		cum, err := Column(r.Table, r.Field)
		if err != nil {
			return table.Table{}, err
		}
		_, weekly := incidence(cum)
		rate := make(map[string]float64, len(weekly.Dates))
		for i, d := range weekly.Dates {
			if weekly.Present[i] {
				rate[d] = Round(Per100k(weekly.Values[i], r.Population), 1)
			}
		}
		cur := make([]string, len(dates))
		prev := make([]string, len(dates))
		change := make([]string, len(dates))
		band := make([]string, len(dates))
		for i, d := range dates {
			cur[i], prev[i], change[i], band[i] = table.NA, table.NA, table.NA, table.NA
			now, ok := rate[d]
			if !ok {
				continue
			}
			cur[i] = table.FormatFloat(now, 1)
			band[i] = Band(now)
			weekAgo, err := models.AddDays(d, -Window)
			if err != nil {
				return table.Table{}, err
			}
			if before, ok := rate[weekAgo]; ok {
				prev[i] = table.FormatFloat(before, 1)
				change[i] = table.FormatFloat(Round(PercentChange(now, before), 1), 1)
			}
		}
		c.add(floatField(r.Name+"_7day_incidence_per100k", 1), cur)
		c.add(floatField(r.Name+"_prev_7day_incidence_per100k", 1), prev)
		c.add(floatField(r.Name+"_perc_change", 1), change)
		c.add(textField(r.Name+"_7day_incidence_rate"), band)
	}
	return c.build(name, dates)
}
