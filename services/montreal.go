// services/montreal.go
package services

import (
	"context"
	"fmt"

	"github.com/jeremymoreau/covid19mtl/config"
	"github.com/jeremymoreau/covid19mtl/merge"
	"github.com/jeremymoreau/covid19mtl/metrics"
	"github.com/jeremymoreau/covid19mtl/models"
	"github.com/jeremymoreau/covid19mtl/scraper"
	"github.com/jeremymoreau/covid19mtl/table"
)

const (
	mtlPage      = "data_mtl.html"
	mtlMunicipal = "data_mtl_municipal.csv"
	mtlAge       = "data_mtl_age.csv"

	cumulativeCasesColumn = "Nombre de cas cumulatif, depuis le début de la pandémie"
	// unassignedTerritory is the municipal row for cases not yet placed in a borough.
	unassignedTerritory = "Territoire à confirmer"
)

// montreal handles Santé Montréal: cumulative cases per borough and per age group.
type montreal struct {
	store    tableStore
	source   models.Source
	oracle   scraper.Oracle
	boroughs metrics.Populations
	ages     metrics.Populations

	cases    table.Schema
	casesMap merge.FieldMap
	age      table.Schema
}

func newMontreal(cfg *config.Config, get scraper.Getter, store tableStore) (*montreal, error) {
	src := cfg.Source(models.FamilyMTL)
	oracle := &scraper.MontrealOracle{
		Get:           get,
		DateSelector:  cfg.Selectors.MTLDate,
		CasesSelector: cfg.Selectors.MTLNewCases,
		Logger:        store.logger,
	}
	var err error
	if oracle.PageURL, err = resourceURL(src, mtlPage); err != nil {
		return nil, err
	}
	if oracle.MunicipalURL, err = resourceURL(src, mtlMunicipal); err != nil {
		return nil, err
	}
	if oracle.AgeURL, err = resourceURL(src, mtlAge); err != nil {
		return nil, err
	}
	if _, err = resourceURL(src, mtlVaccinationByAge); err != nil {
		return nil, err
	}

	var entities []string
	var casesMap merge.FieldMap
	for _, b := range cfg.Populations.Boroughs {
		label := b.Source
		if label == "" {
			label = b.Name
		}
		entities = append(entities, b.Name)
		casesMap = append(casesMap, merge.Mapping{Source: label, Field: b.Name})
	}
	entities = append(entities, unassignedTerritory)
	casesMap = append(casesMap, merge.Mapping{Source: unassignedTerritory, Field: unassignedTerritory})

	var ageFields []string
	for _, a := range cfg.Populations.AgeGroups {
		ageFields = append(ageFields, a.Name)
	}

	m := &montreal{
		store:    store,
		source:   src,
		oracle:   oracle,
		boroughs: populationsOf(cfg.Populations.Boroughs),
		ages:     populationsOf(cfg.Populations.AgeGroups),
		cases:    table.Schema{Name: "cases", Key: "borough", Layout: table.Wide, Fields: table.IntFields(entities...)},
		casesMap: casesMap,
		age:      table.Schema{Name: "data_mtl_age", Key: "date", Layout: table.Long, Fields: table.IntFields(ageFields...)},
	}
	if err := casesMap.Validate(m.cases); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *montreal) Name() models.Family   { return models.FamilyMTL }
func (m *montreal) Source() models.Source { return m.source }

func (m *montreal) Detect(ctx context.Context, expected string) (*models.FreshnessReport, error) {
	return m.oracle.Check(ctx, expected)
}

func (m *montreal) LastCommitted() (string, error) { return m.store.lastDate(m.cases) }

// Merge replaces the vaccination table, appends the age breakdown and
// appends the borough cases (the marker) last.
func (m *montreal) Merge(snap models.Snapshot, date string) ([]merge.Result, error) {
	var results []merge.Result

	vaccination, err := readResource(snap, mtlVaccinationByAge)
	if err != nil {
		return results, err
	}
	res, err := m.store.replace(date, func() (table.Table, error) { return mtlVaccinationAge(vaccination) })
	if err != nil {
		return results, err
	}
	results = append(results, res)

	ageDay, err := m.ageDay(snap, date)
	if err != nil {
		return results, err
	}
	res, err = m.store.merge(m.age, ageDay, merge.Plan{})
	if err != nil {
		return results, err
	}
	results = append(results, res)

	content, err := readResource(snap, mtlMunicipal)
	if err != nil {
		return results, err
	}
	frame, err := scraper.ReadFrame(mtlMunicipal, content, ';', true)
	if err != nil {
		return results, err
	}
	labels, values, err := frame.Column(cumulativeCasesColumn)
	if err != nil {
		return results, err
	}
	res, err = m.store.merge(m.cases,
		merge.Day{Date: date, Resource: mtlMunicipal, Labels: labels, Values: values},
		merge.Plan{Map: m.casesMap, Aggregates: []string{"Total"}},
	)
	if err != nil {
		return results, err
	}
	return append(results, res), nil
}

// ageDay relabels the age CSV rows by position once the missing-age and
// total rows are dropped.
func (m *montreal) ageDay(snap models.Snapshot, date string) (merge.Day, error) {
	content, err := readResource(snap, mtlAge)
	if err != nil {
		return merge.Day{}, err
	}
	frame, err := scraper.ReadFrame(mtlAge, content, ';', true)
	if err != nil {
		return merge.Day{}, err
	}
	labels, values, err := frame.Column(cumulativeCasesColumn)
	if err != nil {
		return merge.Day{}, err
	}
	_, values = merge.DropAggregates(labels, values, []string{"Manquant", "Total"})
	fields := m.age.FieldNames()
	if len(values) != len(fields) {
		return merge.Day{}, &models.SchemaDriftError{
			Resource: mtlAge,
			Detail:   fmt.Sprintf("%d age groups, want %d", len(values), len(fields)),
		}
	}
	return merge.Day{Date: date, Resource: mtlAge, Labels: fields, Values: values}, nil
}

func (m *montreal) Recompute() error {
	cases, err := m.store.load(m.cases)
	if err != nil {
		return err
	}
	if err := m.store.derive(func() (table.Table, error) {
		return metrics.CasesPer1000("cases_per1000", cases, m.boroughs)
	}); err != nil {
		return err
	}
	if err := m.store.derive(func() (table.Table, error) {
		return metrics.BoroughIncidence("data_mtl_boroughs", cases, m.boroughs)
	}); err != nil {
		return err
	}

	ages, err := m.store.load(m.age)
	if err != nil {
		return err
	}
	return m.store.derive(func() (table.Table, error) {
		return metrics.AgeBreakdown("data_mtl_age_metrics", ages, m.ages)
	})
}
