package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jeremymoreau/covid19mtl/config"
	"github.com/jeremymoreau/covid19mtl/merge"
	"github.com/jeremymoreau/covid19mtl/models"
	"github.com/jeremymoreau/covid19mtl/utils"
)

const (
	fixtureMTLPage = `<html><body><div class="csc-textpic-text">
<table class="contenttable"><tr><td><h3>3 605</h3></td><td><h3>+ 12</h3></td></tr></table>
<p class="bodytext">Data extracted on June 1, 2021</p></div></body></html>`

	fixtureMunicipal = "Arrondissement;Nouveaux cas;Nombre de cas cumulatif, depuis le début de la pandémie\n" +
		"Anjou;5;1 200\n" +
		"Verdun;6;2 400\n" +
		"Territoire à confirmer;1;<5\n" +
		"Total à Montréal;12;3 605\n"

	fixtureAge = "Groupe d'âge;Nouveaux cas;Nombre de cas cumulatif, depuis le début de la pandémie\n" +
		"0-39 ans;7;2 000\n" +
		"40 ans et plus;5;1 500\n" +
		"Manquant;0;105\n" +
		"Total;12;3 605\n"

	fixtureHistory = "Date,Regroupement,Croisement,Nom,cas_cum_tot_n,cas_quo_tot_n,act_cum_tot_n,ret_cum_tot_n,ret_quo_tot_n," +
		"dec_cum_tot_n,dec_cum_chs_n,dec_cum_rpa_n,dec_cum_dom_n,dec_cum_aut_n,dec_quo_tot_n,psi_cum_inf_n,psi_quo_inf_n\n" +
		"2021-05-31,Région,RSS99,Ensemble du Québec,369800,190,2100,359750,240,10997,5999,1999,1000,1999,2,7980000,19000\n" +
		"2021-06-01,Région,RSS99,Ensemble du Québec,370000,200,2000,360000,250,11000,6000,2000,1000,2000,3,8000000,20000\n" +
		"2021-06-01,Région,RSS06,Montréal,160000,80,800,155000,90,5500,3000,1000,500,1000,1,3000000,8000\n"

	fixtureManual = "a,b,c,d,e,f,g\n1,2,3,4,5,6,x\n1,2,3,4,5,6,2<sup>e</sup> juin 2021\n"

	fixtureVaccination = "Date,Regroupement,Croisement,vac_quo_1_n,vac_quo_2_n,vac_quo_3_n,vac_cum_1_n,vac_cum_2_n,vac_cum_3_n," +
		"vac_quo_tot_n,vac_cum_tot_n,cvac_cum_tot_1_p,cvac_cum_tot_2_p,cvac_cum_tot_3_p\n" +
		"2021-06-01,Région,RSS99,1000,2000,,5000000,1000000,,3000,6000000,58.5,12.25,\n"

	fixtureDeathLoc = "Région,RSS,CH,CHSLD,Domicile,RI,RPA,Autre,Décès (n),Décès (%)\n" +
		"1,01 - Bas-Saint-Laurent,1,2,3,4,5,6,21,0.2\n" +
		"6,06 - Montréal,500,3000,400,200,1000,100,5200,47.0\n"

	fixtureVariants = "Région,TOTAL SÉQUENCAGE,CRIBLAGE\nEnsemble du Québec,1000,5000\n06 - Montréal,400,2500\n"

	fixtureReceived = "Date;Doses du vaccin COVID-19 administrées (cumulatif);Doses du vaccin COVID-19 reçues (cumulatif)\n" +
		"2021-06-01;6 000 000;7 000 000\n" +
		"2021-05-31;5 900 000;7 000 000\n"

	fixtureSituation = "Mise à jour;2021-06-02\n"
)

func qcPage(lines ...string) string {
	var b strings.Builder
	b.WriteString(`<div class="ce-textpic"><div class="ce-bodytext">`)
	for _, l := range lines {
		b.WriteString("<p>" + l + "</p>")
	}
	b.WriteString(`</div></div>`)
	return b.String()
}

// upstream serves fixture documents by resource name.
type upstream struct {
	mu    sync.Mutex
	docs  map[string]string
	calls int
}

func (u *upstream) set(name, body string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.docs[name] = body
}

func (u *upstream) requests() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	body, ok := u.docs[strings.TrimPrefix(r.URL.Path, "/")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Write([]byte(body))
}

func newUpstream() *upstream {
	return &upstream{docs: map[string]string{
		mtlPage:           fixtureMTLPage,
		mtlMunicipal:      fixtureMunicipal,
		mtlAge:            fixtureAge,
		inspqHistory:      fixtureHistory,
		inspqManual:       fixtureManual,
		inspqDeathLoc:     fixtureDeathLoc,
		inspqVaccination:  fixtureVaccination,
		inspqVariants:     fixtureVariants,
		qcReceived:        fixtureReceived,
		qcSituation:       fixtureSituation,
		qcSituationPage:   qcPage("Source: TSP, MSSS (Updated on June 1, 2021 at 4 p.m.)"),
		qcVaccinationPage: qcPage("Source: CIUSSSCN-CIUSSSCOMTL-MSSS, June 2, 2021, 11 a.m."),

		qcVaccinationByAge:  qcAgeFixture(),
		qcCasesByStatus:     fixtureByStatus,
		qcHospByStatus:      fixtureByStatus,
		mtlVaccinationByAge: mtlVaccinationFixture(),
	}}
}

func resources(base string, names ...string) []models.Resource {
	out := make([]models.Resource, len(names))
	for i, n := range names {
		out[i] = models.Resource{Name: n, URL: base + "/" + n}
	}
	return out
}

func newTestPipeline(t *testing.T) (*Pipeline, *upstream) {
	t.Helper()
	up := newUpstream()
	srv := httptest.NewServer(up)
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Fetch.Retries = 1
	cfg.Fetch.BaseDelay = time.Millisecond
	cfg.Fetch.RequestsPerSecond = 0
	cfg.Sources = config.SourcesConfig{
		MTL:   resources(srv.URL, mtlPage, mtlMunicipal, mtlAge, mtlVaccinationByAge),
		INSPQ: resources(srv.URL, inspqHistory, inspqManual, inspqDeathLoc, inspqVaccination, inspqVariants),
		QC:    resources(srv.URL, qcSituationPage, qcVaccinationPage, qcReceived, qcSituation, qcVaccinationByAge, qcCasesByStatus, qcHospByStatus),
	}
	cfg.Populations.Boroughs = []config.Population{
		{Name: "Anjou", Population: 40000},
		{Name: "Verdun", Population: 60000},
	}
	cfg.Populations.AgeGroups = []config.Population{
		{Name: "cases_mtl_0-39", Population: 1000000},
		{Name: "cases_mtl_40+", Population: 1000000},
	}

	p, err := NewPipeline(cfg, utils.Discard(), nil)
	if err != nil {
		t.Fatal(err)
	}
	p.Now = func() time.Time { return time.Date(2021, 6, 2, 15, 0, 0, 0, time.UTC) }
	return p, up
}

func readProcessed(t *testing.T, p *Pipeline, name string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(p.Config.ProcessedDir(), name))
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func countDirs(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	return len(entries)
}

func outcomes(r *RunReport) map[models.Family]models.Outcome {
	out := make(map[models.Family]models.Outcome)
	for _, f := range r.Families {
		out[f.Family] = f.Outcome
	}
	return out
}

func TestRunAutoCommitsFreshFamilies(t *testing.T) {
	p, _ := newTestPipeline(t)

	report, err := p.Run(context.Background(), RunOptions{Mode: ModeAuto})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.ExpectedDate != "2021-06-01" {
		t.Errorf("ExpectedDate = %s", report.ExpectedDate)
	}
	for fam, o := range outcomes(report) {
		if o != models.OutcomeCommitted {
			t.Errorf("%s outcome = %s; want committed", fam, o)
		}
	}
	if !report.Done() {
		t.Error("Done() = false after every family committed")
	}

	if got := readProcessed(t, p, "cases.csv"); got != "borough,2021-06-01\nAnjou,1200\nVerdun,2400\nTerritoire à confirmer,5\n" {
		t.Errorf("cases.csv = %q", got)
	}
	if got := readProcessed(t, p, "data_mtl_age.csv"); got != "date,cases_mtl_0-39,cases_mtl_40+\n2021-06-01,2000,1500\n" {
		t.Errorf("data_mtl_age.csv = %q", got)
	}
	if got := readProcessed(t, p, "data_mtl_death_loc.csv"); !strings.HasSuffix(got, "2021-06-01,500,3000,400,200,1000,100,0,5200\n") {
		t.Errorf("data_mtl_death_loc.csv = %q", got)
	}
	if got := readProcessed(t, p, "data_variants.csv"); !strings.HasSuffix(got, "2021-06-01,1000,4000,5000,400,2500\n") {
		t.Errorf("data_variants.csv = %q", got)
	}
	if got := readProcessed(t, p, "data_mtl_vaccination.csv"); !strings.HasSuffix(got, "2021-06-01,na,na,na,na,na,na,na,na,na,na,na\n") {
		t.Errorf("data_mtl_vaccination.csv = %q; want a sentinel row for the unpublished region", got)
	}
	if got := readProcessed(t, p, "data_qc_vaccination.csv"); !strings.HasSuffix(got, "2021-06-01,1000,2000,na,5000000,1000000,na,3000,6000000,58.50,12.25,na\n") {
		t.Errorf("data_qc_vaccination.csv = %q", got)
	}
	if got := readProcessed(t, p, "data_qc_totals.csv"); !strings.Contains(got, "2021-06-01,370000,200,") {
		t.Errorf("data_qc_totals.csv = %q", got)
	}
	if got := readProcessed(t, p, "data_vaccines.csv"); got != "date,qc_doses,qc_doses_received\n2021-06-01,6000000,7000000\n" {
		t.Errorf("data_vaccines.csv = %q", got)
	}
	if got := readProcessed(t, p, "data_qc_vaccination_age.csv"); !strings.HasSuffix(got, "total,na,1700,3400,5100\n") {
		t.Errorf("data_qc_vaccination_age.csv = %q", got)
	}
	if got := readProcessed(t, p, "data_qc_hosp_by_vaccination_status.csv"); got != "date,0d,1d,2d,3d\n2021-05-31,8,0,2,0\n2021-06-01,17,4,3,1\n" {
		t.Errorf("data_qc_hosp_by_vaccination_status.csv = %q", got)
	}
	if got := readProcessed(t, p, "data_mtl_vaccination_age.csv"); !strings.HasSuffix(got, "12+,80,800,400,0\ntotal,200,900,450,0\n") {
		t.Errorf("data_mtl_vaccination_age.csv = %q", got)
	}
	for _, derived := range []string{
		"cases_per1000.csv", "data_mtl_boroughs.csv", "data_mtl_age_metrics.csv",
		"data_variants_metrics.csv", "data_incidence_summary.csv", "data_vaccines_metrics.csv",
	} {
		readProcessed(t, p, derived)
	}
	if got := readProcessed(t, p, "cases_per1000.csv"); got != "borough,2021-06-01\nAnjou,30.0\nVerdun,40.0\n" {
		t.Errorf("cases_per1000.csv = %q", got)
	}

	for _, f := range report.Families {
		for _, r := range f.Tables {
			if r.Date != "2021-06-01" {
				t.Errorf("%s %s merged %s", f.Family, r.Table, r.Date)
			}
		}
		for _, res := range p.Config.Resources(f.Family) {
			if _, err := os.Stat(filepath.Join(f.Snapshot, res.Name)); err != nil {
				t.Errorf("%s snapshot is missing %s: %v", f.Family, res.Name, err)
			}
		}
	}
	if n := countDirs(t, p.Config.SourcesDir()); n != 3 {
		t.Errorf("%d snapshot dirs; want one per family", n)
	}
	if _, err := os.Stat(filepath.Join(p.Config.BackupsDir(), "2021-06-02")); err != nil {
		t.Errorf("backup missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(p.Config.BackupsDir(), "2021-06-02_v2")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("auto mode backed up more than once: %v", err)
	}
}

func TestRunAutoTwiceIsNoOp(t *testing.T) {
	p, up := newTestPipeline(t)
	if _, err := p.Run(context.Background(), RunOptions{Mode: ModeAuto}); err != nil {
		t.Fatal(err)
	}
	before := readProcessed(t, p, "data_qc.csv")
	calls := up.requests()

	report, err := p.Run(context.Background(), RunOptions{Mode: ModeAuto})
	if err != nil {
		t.Fatal(err)
	}
	for fam, o := range outcomes(report) {
		if o != models.OutcomeSkipped {
			t.Errorf("%s outcome = %s; want already_committed", fam, o)
		}
	}
	if n := up.requests() - calls; n != 0 {
		t.Errorf("second auto run made %d upstream requests; want 0", n)
	}
	if after := readProcessed(t, p, "data_qc.csv"); after != before {
		t.Errorf("data_qc.csv changed:\n%s\n%s", before, after)
	}
	if n := countDirs(t, p.Config.SourcesDir()); n != 3 {
		t.Errorf("%d snapshot dirs after a second auto run; want 3", n)
	}
}

func TestRunAutoWaitsForStaleFamily(t *testing.T) {
	p, up := newTestPipeline(t)
	up.set(mtlPage, strings.Replace(fixtureMTLPage, "June 1, 2021", "May 31, 2021", 1))

	report, err := p.Run(context.Background(), RunOptions{Mode: ModeAuto})
	if err != nil {
		t.Fatal(err)
	}
	got := outcomes(report)
	if got[models.FamilyMTL] != models.OutcomeNotFresh {
		t.Errorf("mtl outcome = %s; want not_fresh", got[models.FamilyMTL])
	}
	if got[models.FamilyINSPQ] != models.OutcomeCommitted || got[models.FamilyQC] != models.OutcomeCommitted {
		t.Errorf("outcomes = %v", got)
	}
	if report.Done() {
		t.Error("Done() = true with a stale family")
	}
	if _, err := os.Stat(filepath.Join(p.Config.ProcessedDir(), "cases.csv")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("stale family wrote cases.csv: %v", err)
	}
}

func TestRunIsolatesFamilyFailures(t *testing.T) {
	p, up := newTestPipeline(t)
	up.set(inspqVaccination, strings.Replace(fixtureVaccination, "vac_cum_tot_n", "vac_cum_total", 1))

	report, err := p.Run(context.Background(), RunOptions{Mode: ModeAuto})
	if !errors.Is(err, models.ErrSchemaDrift) {
		t.Fatalf("Run() error = %v; want schema drift", err)
	}
	got := outcomes(report)
	if got[models.FamilyINSPQ] != models.OutcomeFailed {
		t.Errorf("inspq outcome = %s; want failed", got[models.FamilyINSPQ])
	}
	if got[models.FamilyMTL] != models.OutcomeCommitted || got[models.FamilyQC] != models.OutcomeCommitted {
		t.Errorf("outcomes = %v; other families should commit", got)
	}
	if _, err := os.Stat(filepath.Join(p.Config.ProcessedDir(), "data_qc.csv")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("failed family committed its marker table: %v", err)
	}
}

func TestRunManualReprocesses(t *testing.T) {
	p, _ := newTestPipeline(t)
	if _, err := p.Run(context.Background(), RunOptions{Mode: ModeAuto}); err != nil {
		t.Fatal(err)
	}
	before := readProcessed(t, p, "cases.csv")

	report, err := p.Run(context.Background(), RunOptions{Mode: ModeManual})
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range report.Families {
		if f.Outcome != models.OutcomeCommitted {
			t.Errorf("%s outcome = %s; want committed", f.Family, f.Outcome)
		}
		for _, res := range f.Tables {
			if res.Outcome != merge.AlreadyCommitted {
				t.Errorf("%s %s outcome = %s; want already committed", f.Family, res.Table, res.Outcome)
			}
		}
	}
	if after := readProcessed(t, p, "cases.csv"); after != before {
		t.Errorf("manual rerun changed cases.csv:\n%s\n%s", before, after)
	}
	if n := countDirs(t, p.Config.SourcesDir()); n != 6 {
		t.Errorf("%d snapshot dirs; want 6 after a manual rerun", n)
	}
	if _, err := os.Stat(filepath.Join(p.Config.BackupsDir(), "2021-06-02_v2")); err != nil {
		t.Errorf("manual run did not back up again: %v", err)
	}

	// --no-download reuses each family's newest snapshot and --no-backup skips the copy.
	reused, err := p.Run(context.Background(), RunOptions{Mode: ModeManual, NoDownload: true, NoBackup: true})
	if err != nil {
		t.Fatal(err)
	}
	for i, f := range reused.Families {
		if f.Snapshot != report.Families[i].Snapshot {
			t.Errorf("%s reused %s; want %s", f.Family, f.Snapshot, report.Families[i].Snapshot)
		}
	}
	if n := countDirs(t, p.Config.SourcesDir()); n != 6 {
		t.Errorf("--no-download archived a snapshot: %d dirs", n)
	}
	if _, err := os.Stat(filepath.Join(p.Config.BackupsDir(), "2021-06-02_v3")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("--no-backup still backed up: %v", err)
	}
}

func TestRunRejectsBadOptionsAndHeldLock(t *testing.T) {
	p, _ := newTestPipeline(t)
	if _, err := p.Run(context.Background(), RunOptions{Mode: ModeAuto, NoDownload: true}); err == nil {
		t.Error("auto mode with --no-download was accepted")
	}
	if _, err := p.Run(context.Background(), RunOptions{Mode: "sometimes"}); err == nil {
		t.Error("unknown mode was accepted")
	}

	held := utils.FileLock{Path: p.Config.LockPath(), TTL: time.Hour}
	if err := held.Acquire(); err != nil {
		t.Fatal(err)
	}
	defer held.Release()
	if _, err := p.Run(context.Background(), RunOptions{Mode: ModeAuto}); !errors.Is(err, utils.ErrLocked) {
		t.Errorf("Run() with held lock error = %v; want ErrLocked", err)
	}
}

func TestStatus(t *testing.T) {
	p, _ := newTestPipeline(t)
	if _, err := p.Run(context.Background(), RunOptions{Mode: ModeAuto, Families: []models.Family{models.FamilyQC}}); err != nil {
		t.Fatal(err)
	}
	st, err := p.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range st.Families {
		want := f.Family == models.FamilyQC
		if f.UpToDate != want {
			t.Errorf("%s UpToDate = %v; want %v (last %q)", f.Family, f.UpToDate, want, f.LastCommitted)
		}
	}
}
