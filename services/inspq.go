// services/inspq.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jeremymoreau/covid19mtl/config"
	"github.com/jeremymoreau/covid19mtl/merge"
	"github.com/jeremymoreau/covid19mtl/metrics"
	"github.com/jeremymoreau/covid19mtl/models"
	"github.com/jeremymoreau/covid19mtl/scraper"
	"github.com/jeremymoreau/covid19mtl/table"
)

const (
	inspqHistory     = "data_qc.csv"
	inspqManual      = "data_qc_manual_data.csv"
	inspqDeathLoc    = "data_qc_death_loc_by_region.csv"
	inspqVaccination = "data_qc_vaccination.csv"
	inspqVariants    = "data_qc_variants.csv"

	regionGroup = "Région"
	rssQuebec   = "RSS99"
	rssMontreal = "RSS06"
)

var historyMap = merge.FieldMap{
	{Source: "cas_cum_tot_n", Field: "cases"},
	{Source: "cas_quo_tot_n", Field: "new_cases"},
	{Source: "act_cum_tot_n", Field: "active_cases"},
	{Source: "ret_cum_tot_n", Field: "recovered"},
	{Source: "ret_quo_tot_n", Field: "new_recovered"},
	{Source: "dec_cum_tot_n", Field: "deaths"},
	{Source: "dec_cum_chs_n", Field: "deaths_chsld"},
	{Source: "dec_cum_rpa_n", Field: "deaths_psr"},
	{Source: "dec_cum_dom_n", Field: "deaths_home"},
	{Source: "dec_cum_aut_n", Field: "deaths_other"},
	{Source: "dec_quo_tot_n", Field: "new_deaths"},
	{Source: "psi_cum_inf_n", Field: "negative_tests"},
	{Source: "psi_quo_inf_n", Field: "new_negative_tests"},
}

var vaccinationMap = merge.FieldMap{
	{Source: "vac_quo_1_n", Field: "new_doses_1d"},
	{Source: "vac_quo_2_n", Field: "new_doses_2d"},
	{Source: "vac_quo_3_n", Field: "new_doses_3d"},
	{Source: "vac_cum_1_n", Field: "total_doses_1d"},
	{Source: "vac_cum_2_n", Field: "total_doses_2d"},
	{Source: "vac_cum_3_n", Field: "total_doses_3d"},
	{Source: "vac_quo_tot_n", Field: "new_doses"},
	{Source: "vac_cum_tot_n", Field: "total_doses"},
	{Source: "cvac_cum_tot_1_p", Field: "perc_1d"},
	{Source: "cvac_cum_tot_2_p", Field: "perc_2d"},
	{Source: "cvac_cum_tot_3_p", Field: "perc_3d"},
}

// deathLocMap reads the Montréal row of the death location table. "Inconnue"
// is no longer published and is filled with 0.
var deathLocMap = merge.FieldMap{
	{Source: "CH", Field: "ch"},
	{Source: "CHSLD", Field: "chsld"},
	{Source: "Domicile", Field: "home"},
	{Source: "RI", Field: "ri"},
	{Source: "RPA", Field: "rpa"},
	{Source: "Autre", Field: "other"},
	{Source: "Inconnue", Field: "unknown"},
	{Source: "Décès (n)", Field: "total"},
}

func longSchema(name string, fields []table.Field) table.Schema {
	return table.Schema{Name: name, Key: "date", Layout: table.Long, Fields: fields}
}

func mappedFields(m merge.FieldMap) []string {
	out := make([]string, len(m))
	for i, mp := range m {
		out[i] = mp.Field
	}
	return out
}

func vaccinationSchema(name string) table.Schema {
	fields := table.IntFields(mappedFields(vaccinationMap)...)
	for i := range fields {
		if strings.HasPrefix(fields[i].Name, "perc_") {
			fields[i] = table.Field{Name: fields[i].Name, Kind: table.Float, Decimals: 2}
		}
	}
	return longSchema(name, fields)
}

// inspq handles the INSPQ open data: provincial and Montréal history,
// vaccination, death location and variant screening.
type inspq struct {
	store  tableStore
	source models.Source
	oracle scraper.Oracle
	popQC  float64
	popMTL float64

	qc, mtl                       table.Schema
	qcTotals, mtlTotals           table.Schema
	qcVaccination, mtlVaccination table.Schema
	deathLoc, variants            table.Schema
}

func newINSPQ(cfg *config.Config, get scraper.Getter, store tableStore) (*inspq, error) {
	src := cfg.Source(models.FamilyINSPQ)
	oracle := &scraper.INSPQOracle{Get: get, Logger: store.logger}
	var err error
	if oracle.ManualURL, err = resourceURL(src, inspqManual); err != nil {
		return nil, err
	}
	if oracle.HistoryURL, err = resourceURL(src, inspqHistory); err != nil {
		return nil, err
	}
	for _, name := range []string{inspqDeathLoc, inspqVaccination, inspqVariants} {
		if _, err := resourceURL(src, name); err != nil {
			return nil, err
		}
	}

	history := table.IntFields(mappedFields(historyMap)...)
	return &inspq{
		store:          store,
		source:         src,
		oracle:         oracle,
		popQC:          cfg.Populations.QC,
		popMTL:         cfg.Populations.MTL,
		qc:             longSchema("data_qc", history),
		mtl:            longSchema("data_mtl", history),
		qcTotals:       longSchema("data_qc_totals", history),
		mtlTotals:      longSchema("data_mtl_totals", history),
		qcVaccination:  vaccinationSchema("data_qc_vaccination"),
		mtlVaccination: vaccinationSchema("data_mtl_vaccination"),
		deathLoc:       longSchema("data_mtl_death_loc", table.IntFields(mappedFields(deathLocMap)...)),
		variants: longSchema("data_variants", table.IntFields(
			"sequenced", "presumptive", "presumptive_total", "sequenced_mtl", "presumptive_total_mtl",
		)),
	}, nil
}

func (f *inspq) Name() models.Family   { return models.FamilyINSPQ }
func (f *inspq) Source() models.Source { return f.source }

func (f *inspq) Detect(ctx context.Context, expected string) (*models.FreshnessReport, error) {
	return f.oracle.Check(ctx, expected)
}

func (f *inspq) LastCommitted() (string, error) { return f.store.lastDate(f.qc) }

// Merge appends every INSPQ table for date. data_qc is the marker and goes last.
func (f *inspq) Merge(snap models.Snapshot, date string) ([]merge.Result, error) {
	var results []merge.Result
	step := func(res merge.Result, err error) error {
		if err != nil {
			return err
		}
		results = append(results, res)
		return nil
	}

	history, err := readResource(snap, inspqHistory)
	if err != nil {
		return results, err
	}
	vaccination, err := readResource(snap, inspqVaccination)
	if err != nil {
		return results, err
	}

	if err := step(f.vaccinationDay(vaccination, f.qcVaccination, date, rssQuebec)); err != nil {
		return results, err
	}
	if err := step(f.vaccinationDay(vaccination, f.mtlVaccination, date, rssMontreal)); err != nil {
		return results, err
	}
	if err := step(f.deathLocDay(snap, date)); err != nil {
		return results, err
	}
	if err := step(f.variantsDay(snap, date)); err != nil {
		return results, err
	}
	if err := step(f.historyDay(history, f.mtl, date, rssMontreal)); err != nil {
		return results, err
	}
	if err := step(f.store.appendLatest(f.mtl, f.mtlTotals)); err != nil {
		return results, err
	}
	if err := step(f.historyDay(history, f.qc, date, rssQuebec)); err != nil {
		return results, err
	}
	if err := step(f.store.appendLatest(f.qc, f.qcTotals)); err != nil {
		return results, err
	}
	return results, nil
}

func (f *inspq) historyDay(content string, s table.Schema, date, rss string) (merge.Result, error) {
	rec, err := scraper.FindRegionDay(inspqHistory, content, date, regionGroup, rss)
	if err != nil {
		return merge.Result{Table: s.Name, Date: date}, err
	}
	return f.store.merge(s,
		merge.Day{Date: date, Resource: inspqHistory, Labels: rec.Labels, Values: rec.Values},
		merge.Plan{Map: historyMap},
	)
}

// vaccinationDay commits a sentinel when the vaccination CSV skipped date.
func (f *inspq) vaccinationDay(content string, s table.Schema, date, rss string) (merge.Result, error) {
	day := merge.Day{Date: date, Resource: inspqVaccination}
	rec, err := scraper.FindRegionDay(inspqVaccination, content, date, regionGroup, rss)
	switch {
	case errors.Is(err, scraper.ErrDayNotPublished):
		day.Unpublished = true
	case err != nil:
		return merge.Result{Table: s.Name, Date: date}, err
	default:
		day.Labels, day.Values = rec.Labels, rec.Values
	}
	return f.store.merge(s, day, merge.Plan{Map: vaccinationMap})
}

func (f *inspq) deathLocDay(snap models.Snapshot, date string) (merge.Result, error) {
	content, err := readResource(snap, inspqDeathLoc)
	if err != nil {
		return merge.Result{}, err
	}
	rec, err := scraper.FindRPARow(inspqDeathLoc, content, "Montr")
	if err != nil {
		return merge.Result{Table: f.deathLoc.Name, Date: date}, err
	}
	if _, ok := rec.Get("Inconnue"); !ok {
		rec.Labels = append(append([]string(nil), rec.Labels...), "Inconnue")
		rec.Values = append(append([]string(nil), rec.Values...), "0")
	}
	return f.store.merge(f.deathLoc,
		merge.Day{Date: date, Resource: inspqDeathLoc, Labels: rec.Labels, Values: rec.Values},
		merge.Plan{Map: deathLocMap},
	)
}

// variantsDay reads cumulative screening and sequencing counts. Presumptive
// cases are screened cases not yet sequenced.
func (f *inspq) variantsDay(snap models.Snapshot, date string) (merge.Result, error) {
	content, err := readResource(snap, inspqVariants)
	if err != nil {
		return merge.Result{}, err
	}
	frame, err := scraper.ReadFrame(inspqVariants, content, ',', true)
	if err != nil {
		return merge.Result{}, err
	}
	cell := func(region, column string) (int64, error) {
		raw, err := frame.Lookup(region, column)
		if err != nil {
			return 0, err
		}
		n, err := merge.CleanInt(raw)
		if err != nil {
			return 0, &models.SchemaDriftError{Resource: inspqVariants, Detail: fmt.Sprintf("%s/%s: %v", region, column, err)}
		}
		return n, nil
	}
	var counts [4]int64
	for i, q := range []struct{ region, column string }{
		{"Ensemble du Québec", "TOTAL SÉQUENCAGE"},
		{"Ensemble du Québec", "CRIBLAGE"},
		{"06 - Montréal", "TOTAL SÉQUENCAGE"},
		{"06 - Montréal", "CRIBLAGE"},
	} {
		if counts[i], err = cell(q.region, q.column); err != nil {
			return merge.Result{Table: f.variants.Name, Date: date}, err
		}
	}
	values := []string{
		table.FormatInt(counts[0]),
		table.FormatInt(counts[1] - counts[0]),
		table.FormatInt(counts[1]),
		table.FormatInt(counts[2]),
		table.FormatInt(counts[3]),
	}
	return f.store.merge(f.variants,
		merge.Day{Date: date, Resource: inspqVariants, Labels: f.variants.FieldNames(), Values: values},
		merge.Plan{},
	)
}

func (f *inspq) Recompute() error {
	variants, err := f.store.load(f.variants)
	if err != nil {
		return err
	}
	if err := f.store.derive(func() (table.Table, error) {
		return metrics.NewCounts("data_variants_metrics", variants, "sequenced", "presumptive_total", "sequenced_mtl", "presumptive_total_mtl")
	}); err != nil {
		return err
	}

	qc, err := f.store.load(f.qc)
	if err != nil {
		return err
	}
	mtl, err := f.store.load(f.mtl)
	if err != nil {
		return err
	}
	return f.store.derive(func() (table.Table, error) {
		return metrics.IncidenceSummary("data_incidence_summary",
			metrics.Region{Name: "qc", Table: qc, Field: "cases", Population: f.popQC},
			metrics.Region{Name: "mtl", Table: mtl, Field: "cases", Population: f.popMTL},
		)
	})
}
