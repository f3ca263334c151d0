// services/quebec.go
package services

import (
	"context"

	"github.com/jeremymoreau/covid19mtl/config"
	"github.com/jeremymoreau/covid19mtl/merge"
	"github.com/jeremymoreau/covid19mtl/metrics"
	"github.com/jeremymoreau/covid19mtl/models"
	"github.com/jeremymoreau/covid19mtl/scraper"
	"github.com/jeremymoreau/covid19mtl/table"
)

const (
	qcSituationPage   = "QC_situation.html"
	qcVaccinationPage = "QC_vaccination.html"
	qcReceived        = "data_qc_vaccines_received.csv"
	qcSituation       = "data_qc_vaccines_situation.csv"
)

var vaccinesMap = merge.FieldMap{
	{Source: "Doses du vaccin COVID-19 administrées (cumulatif)", Field: "qc_doses"},
	{Source: "Doses du vaccin COVID-19 reçues (cumulatif)", Field: "qc_doses_received"},
}

// quebec handles the Québec.ca portal: cumulative doses administered and received.
type quebec struct {
	store    tableStore
	source   models.Source
	oracle   scraper.Oracle
	vaccines table.Schema

	casesByStatus, hospByStatus table.Schema
}

func newQuebec(cfg *config.Config, get scraper.Getter, store tableStore) (*quebec, error) {
	src := cfg.Source(models.FamilyQC)
	oracle := &scraper.QCPortalOracle{Get: get, ParagraphSelector: cfg.Selectors.QCSourceLine, Logger: store.logger}
	var err error
	if oracle.ReceivedURL, err = resourceURL(src, qcReceived); err != nil {
		return nil, err
	}
	if oracle.SituationCSVURL, err = resourceURL(src, qcSituation); err != nil {
		return nil, err
	}
	if oracle.SituationPageURL, err = resourceURL(src, qcSituationPage); err != nil {
		return nil, err
	}
	if oracle.VaccinationPage, err = resourceURL(src, qcVaccinationPage); err != nil {
		return nil, err
	}
	for _, name := range []string{qcVaccinationByAge, qcCasesByStatus, qcHospByStatus} {
		if _, err := resourceURL(src, name); err != nil {
			return nil, err
		}
	}
	return &quebec{
		store:    store,
		source:   src,
		oracle:   oracle,
		vaccines: longSchema("data_vaccines", table.IntFields(mappedFields(vaccinesMap)...)),

		casesByStatus: statusSchema("data_qc_cases_by_vaccination_status"),
		hospByStatus:  statusSchema("data_qc_hosp_by_vaccination_status"),
	}, nil
}

func (q *quebec) Name() models.Family   { return models.FamilyQC }
func (q *quebec) Source() models.Source { return q.source }

func (q *quebec) Detect(ctx context.Context, expected string) (*models.FreshnessReport, error) {
	return q.oracle.Check(ctx, expected)
}

func (q *quebec) LastCommitted() (string, error) { return q.store.lastDate(q.vaccines) }

// Merge replaces the age and vaccination status tables, then appends the
// doses row of date. A date missing from the CSV is committed as a sentinel.
func (q *quebec) Merge(snap models.Snapshot, date string) ([]merge.Result, error) {
	results, err := q.replaceTables(snap, date)
	if err != nil {
		return results, err
	}
	content, err := readResource(snap, qcReceived)
	if err != nil {
		return results, err
	}
	frame, err := scraper.ReadFrame(qcReceived, content, ';', true)
	if err != nil {
		return results, err
	}
	day := merge.Day{Date: date, Resource: qcReceived}
	if rec, ok := frame.Find(date); ok {
		day.Labels, day.Values = rec.Labels, rec.Values
	} else {
		day.Unpublished = true
	}
	res, err := q.store.merge(q.vaccines, day, merge.Plan{Map: vaccinesMap})
	if err != nil {
		return results, err
	}
	return append(results, res), nil
}

func (q *quebec) replaceTables(snap models.Snapshot, date string) ([]merge.Result, error) {
	builds := []struct {
		resource string
		build    func(content string) (table.Table, error)
	}{
		{qcVaccinationByAge, qcVaccinationAge},
		{qcCasesByStatus, func(c string) (table.Table, error) { return byVaccinationStatus(q.casesByStatus, qcCasesByStatus, c) }},
		{qcHospByStatus, func(c string) (table.Table, error) { return byVaccinationStatus(q.hospByStatus, qcHospByStatus, c) }},
	}
	var results []merge.Result
	for _, b := range builds {
		content, err := readResource(snap, b.resource)
		if err != nil {
			return results, err
		}
		res, err := q.store.replace(date, func() (table.Table, error) { return b.build(content) })
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (q *quebec) Recompute() error {
	vaccines, err := q.store.load(q.vaccines)
	if err != nil {
		return err
	}
	return q.store.derive(func() (table.Table, error) {
		return metrics.VaccineUsage("data_vaccines_metrics", vaccines, "qc_doses", "qc_doses_received")
	})
}
