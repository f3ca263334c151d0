// services/published.go
package services

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/jeremymoreau/covid19mtl/merge"
	"github.com/jeremymoreau/covid19mtl/models"
	"github.com/jeremymoreau/covid19mtl/scraper"
	"github.com/jeremymoreau/covid19mtl/table"
)

// Tables below are published whole by the upstream and replaced on every
// commit instead of growing by one day.

const (
	qcVaccinationByAge    = "data_qc_vaccination_by_age.csv"
	qcCasesByStatus       = "data_qc_cases_by_vaccination_status.csv"
	qcHospByStatus        = "data_qc_hosp_by_vaccination_status.csv"
	mtlVaccinationByAge   = "data_mtl_vaccination_by_age.json"
	unknownVaccinalStatus = "Inconnu"
)

// doseKeys index the by-age tables. "0d" is the unvaccinated count.
var doseKeys = []string{"0d", "1d", "2d", "3d"}

// ageSchema lays out one row per age group and one column per dose count.
func ageSchema(name string, groups []string) table.Schema {
	return table.Schema{Name: name, Key: "age", Layout: table.Wide, Fields: table.IntFields(groups...)}
}

var qcAgeGroups = []string{"0-4", "5-11", "12-17", "18-29", "30-39", "40-49", "50-59", "60-69", "70-79", "80+", "5+", "total"}

// qcAgeSources lists the upstream age brackets summed into each of the first ten groups.
var qcAgeSources = [][]string{
	{"0_4"}, {"5_11"}, {"12_17"},
	{"18_24", "25_29"}, {"30_34", "35_39"}, {"40_44", "45_49"},
	{"50_54", "55_59"}, {"60_64", "65_69"}, {"70_74", "75_79"}, {"80_84", "85_110"},
}

func qcAgeSchema() table.Schema { return ageSchema("data_qc_vaccination_age", qcAgeGroups) }

// qcVaccinationAge reads the cumulative doses per age on the last row of the
// MSSS file. The province publishes no unvaccinated count, so 0d is NA.
func qcVaccinationAge(content string) (table.Table, error) {
	frame, err := scraper.ReadFrame(qcVaccinationByAge, content, ',', true)
	if err != nil {
		return table.Table{}, err
	}
	s := qcAgeSchema()
	rows := [][]string{table.SentinelRow(len(qcAgeGroups))}
	for dose := 1; dose <= 3; dose++ {
		counts := make([]int64, 0, len(qcAgeGroups))
		var all int64
		for _, brackets := range qcAgeSources {
			var n int64
			for _, b := range brackets {
				v, err := lastCount(frame, fmt.Sprintf("Age_%s_ans_DOSE_Numero%d_cumu", b, dose))
				if err != nil {
					return table.Table{}, err
				}
				n += v
			}
			counts = append(counts, n)
			all += n
		}
		counts = append(counts, all-counts[0], all)
		row := make([]string, len(counts))
		for i, n := range counts {
			row[i] = table.FormatInt(n)
		}
		rows = append(rows, row)
	}
	return table.FromRows(s, doseKeys, rows)
}

// lastCount reads the named column on the last row. Empty cells count as zero.
func lastCount(frame *scraper.Frame, column string) (int64, error) {
	col, err := frame.Col(column)
	if err != nil {
		return 0, err
	}
	cell, err := frame.Cell(-1, col)
	if err != nil {
		return 0, err
	}
	if cell == "" {
		return 0, nil
	}
	n, err := merge.CleanInt(cell)
	if err != nil {
		return 0, &models.SchemaDriftError{Resource: frame.Resource, Detail: fmt.Sprintf("%s: %v", column, err)}
	}
	return n, nil
}

func statusSchema(name string) table.Schema { return longSchema(name, table.IntFields(doseKeys...)) }

// byVaccinationStatus sums the daily counts per vaccination status. Rows of
// unknown status are dropped. The five remaining statuses, in sorted order,
// are children under five, then unvaccinated and one to three doses; the
// children are counted as unvaccinated.
func byVaccinationStatus(s table.Schema, resource, content string) (table.Table, error) {
	frame, err := scraper.ReadFrame(resource, content, ',', true)
	if err != nil {
		return table.Table{}, err
	}
	dateCol, err := frame.Col("Date")
	if err != nil {
		return table.Table{}, err
	}
	statusCol, err := frame.Col("Statut_Vaccinal")
	if err != nil {
		return table.Table{}, err
	}
	countCol := -1
	for i, h := range frame.Header {
		if i == 0 || i == dateCol || i == statusCol || strings.HasPrefix(h, "Groupe") {
			continue
		}
		if countCol >= 0 {
			return table.Table{}, &models.SchemaDriftError{
				Resource: resource,
				Detail:   fmt.Sprintf("more than one count column: %q and %q", frame.Header[countCol], h),
			}
		}
		countCol = i
	}
	if countCol < 0 {
		return table.Table{}, &models.SchemaDriftError{Resource: resource, Detail: "no count column"}
	}

	sums := map[string]map[string]int64{}
	var statuses []string
	for i := range frame.Rows {
		date, _ := frame.Cell(i, dateCol)
		status, _ := frame.Cell(i, statusCol)
		cell, err := frame.Cell(i, countCol)
		if err != nil {
			return table.Table{}, err
		}
		if status == unknownVaccinalStatus {
			continue
		}
		if _, err := time.Parse(models.DateLayout, date); err != nil {
			return table.Table{}, &models.SchemaDriftError{Resource: resource, Detail: fmt.Sprintf("row %d: bad date %q", i+1, date)}
		}
		var n int64
		if cell != "" {
			if n, err = merge.CleanInt(cell); err != nil {
				return table.Table{}, &models.SchemaDriftError{Resource: resource, Detail: fmt.Sprintf("row %d: %v", i+1, err)}
			}
		}
		if sums[date] == nil {
			sums[date] = map[string]int64{}
		}
		sums[date][status] += n
		if !slices.Contains(statuses, status) {
			statuses = append(statuses, status)
		}
	}
	sort.Strings(statuses)
	if len(statuses) != len(doseKeys)+1 {
		return table.Table{}, &models.SchemaDriftError{
			Resource: resource,
			Detail:   fmt.Sprintf("%d vaccination statuses %q, want %d", len(statuses), statuses, len(doseKeys)+1),
		}
	}

	dates := make([]string, 0, len(sums))
	for d := range sums {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	rows := make([][]string, len(dates))
	for i, d := range dates {
		byStatus := sums[d]
		row := make([]string, len(doseKeys))
		row[0] = table.FormatInt(byStatus[statuses[0]] + byStatus[statuses[1]])
		for j := 1; j < len(doseKeys); j++ {
			row[j] = table.FormatInt(byStatus[statuses[j+1]])
		}
		rows[i] = row
	}
	return table.FromRows(s, dates, rows)
}

var mtlAgeGroups = []string{"0-4", "5-11", "12-17", "18-29", "30-39", "40-49", "50-59", "60-69", "70-79", "80+", "12+", "total"}

// mtlAgeSources are the upstream age labels of the first ten groups and of the total.
var mtlAgeSources = []string{
	"0-4 ans", "5-11 ans", "12-17 ans", "18-29 ans", "30-39 ans",
	"40-49 ans", "50-59 ans", "60-69 ans", "70-79 ans", "80 ans et plus",
}

const mtlAllAges = "Tous les âges"

func mtlAgeSchema() table.Schema { return ageSchema("data_mtl_vaccination_age", mtlAgeGroups) }

// arcgisQuery is the part of an ArcGIS feature query response the pipeline reads.
type arcgisQuery struct {
	Features []struct {
		Attributes mtlVaccinationAttributes `json:"attributes"`
	} `json:"features"`
}

type mtlVaccinationAttributes struct {
	AgeGroup     string   `json:"Groupe_d_âge"`
	Unvaccinated *float64 `json:"Nombre_de_personnes_non_vacciné"`
	Dose1        *float64 `json:"Nombre_de_personnes_ayant_reçu_"`
	Dose2        *float64 `json:"Nombre_de_personnes_ayant_reçu1"`
}

// mtlVaccinationAge reads people per dose count and age group from the
// ArcGIS feed. Null counts are zero and no third dose is published.
func mtlVaccinationAge(content string) (table.Table, error) {
	var q arcgisQuery
	if err := json.Unmarshal([]byte(content), &q); err != nil {
		return table.Table{}, &models.SchemaDriftError{Resource: mtlVaccinationByAge, Detail: err.Error()}
	}
	byGroup := make(map[string]mtlVaccinationAttributes, len(q.Features))
	for _, f := range q.Features {
		byGroup[f.Attributes.AgeGroup] = f.Attributes
	}
	var missing []string
	for _, g := range append(slices.Clone(mtlAgeSources), mtlAllAges) {
		if _, ok := byGroup[g]; !ok {
			missing = append(missing, g)
		}
	}
	if len(missing) > 0 {
		return table.Table{}, &models.SchemaDriftError{Resource: mtlVaccinationByAge, Missing: missing}
	}

	count := func(v *float64) int64 {
		if v == nil {
			return 0
		}
		return int64(*v)
	}
	doses := []func(mtlVaccinationAttributes) int64{
		func(a mtlVaccinationAttributes) int64 { return count(a.Unvaccinated) },
		func(a mtlVaccinationAttributes) int64 { return count(a.Dose1) },
		func(a mtlVaccinationAttributes) int64 { return count(a.Dose2) },
	}
	rows := make([][]string, 0, len(doseKeys))
	for _, dose := range doses {
		row := make([]string, 0, len(mtlAgeGroups))
		var twelvePlus int64
		for i, g := range mtlAgeSources {
			n := dose(byGroup[g])
			if i >= 2 {
				twelvePlus += n
			}
			row = append(row, table.FormatInt(n))
		}
		row = append(row, table.FormatInt(twelvePlus), table.FormatInt(dose(byGroup[mtlAllAges])))
		rows = append(rows, row)
	}
	zero := make([]string, len(mtlAgeGroups))
	for i := range zero {
		zero[i] = "0"
	}
	rows = append(rows, zero)
	return table.FromRows(mtlAgeSchema(), doseKeys, rows)
}
