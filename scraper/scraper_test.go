package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jeremymoreau/covid19mtl/models"
	"github.com/jeremymoreau/covid19mtl/utils"
)

type fakeGetter map[string]string

func (f fakeGetter) Fetch(ctx context.Context, url string) (string, error) {
	body, ok := f[url]
	if !ok {
		return "", &FetchError{URL: url, Err: errors.New("not found")}
	}
	return body, nil
}

func TestParseLooseDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2021-06-01", "2021-06-01"},
		{"2021-06-01 11:00", "2021-06-01"},
		{" January 11, 2021 at 4&nbsp;p.m.", "2021-01-11"},
		{"January 13, 2021, 11 a.m.", "2021-01-13"},
		{"1<sup>er</sup> février 2021", "2021-02-01"},
		{"10 août 2021 à 11 h", "2021-08-10"},
		{"Data extracted on June 2, 2021", "2021-06-02"},
	}
	for _, tt := range tests {
		got, err := ParseLooseDate(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseLooseDate(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
	if _, err := ParseLooseDate("no date here"); err == nil {
		t.Error("ParseLooseDate(no date) returned nil error")
	}
}

func TestFetcherRetriesAndBustsCache(t *testing.T) {
	var calls int32
	var lastQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastQuery = r.URL.RawQuery
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		// "Montréal" in windows-1252
		w.Write([]byte{'M', 'o', 'n', 't', 'r', 0xe9, 'a', 'l'})
	}))
	defer srv.Close()

	f := NewFetcher(FetchOptions{Retries: 3, Timeout: time.Second}, utils.Discard())
	body, err := f.Fetch(context.Background(), srv.URL+"/municipal.csv?f=json")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if body != "Montréal" {
		t.Errorf("Fetch() = %q; want Montréal", body)
	}
	if calls != 3 {
		t.Errorf("server saw %d calls; want 3", calls)
	}
	if !strings.HasPrefix(lastQuery, "f=json&_=") {
		t.Errorf("query = %q; want cache-busting parameter appended", lastQuery)
	}
}

func TestFetcherGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := NewFetcher(FetchOptions{Retries: 3, Timeout: time.Second}, utils.Discard())
	_, err := f.Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("Fetch() error = %v; want ErrFetch", err)
	}
}

func TestFetchAllIsAllOrNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	f := NewFetcher(FetchOptions{Retries: 1, Timeout: time.Second}, utils.Discard())
	src := models.Source{Family: models.FamilyMTL, Resources: []models.Resource{
		{Name: "a.csv", URL: srv.URL + "/a"},
		{Name: "b.csv", URL: srv.URL + "/missing"},
	}}
	files, err := f.FetchAll(context.Background(), src)
	if err == nil || files != nil {
		t.Fatalf("FetchAll() = %v, %v; want nil files and an error", files, err)
	}
}

func TestFrameCells(t *testing.T) {
	content := "Arrondissement;Nouveaux cas;Cumul\nAnjou;1;1 200\nVerdun;<5;300\n;;\nTotal à Montréal;5;1 500\n\n"
	f, err := ReadFrame("municipal.csv", content, ';', true)
	if err != nil {
		t.Fatal(err)
	}
	if cell, _ := f.Cell(-1, 1); cell != "5" {
		t.Errorf("Cell(-1, 1) = %q; want 5", cell)
	}
	labels, values, err := f.Column("Cumul")
	if err != nil {
		t.Fatal(err)
	}
	if len(labels) != 3 || labels[2] != "Total à Montréal" || values[0] != "1 200" {
		t.Errorf("Column(Cumul) = %v %v", labels, values)
	}
	if _, _, err := f.Column("Décès"); !errors.Is(err, models.ErrSchemaDrift) {
		t.Errorf("Column(missing) error = %v; want schema drift", err)
	}
	if _, err := f.Cell(10, 0); !errors.Is(err, models.ErrSchemaDrift) {
		t.Errorf("Cell(out of range) error = %v; want schema drift", err)
	}
}

const history = "Date,Regroupement,Croisement,Nom,cas_cum_tot_n\n" +
	"Date inconnue,Région,RSS99,Ensemble du Québec,3\n" +
	"2021-06-01,Région,RSS99,Ensemble du Québec,370000\n" +
	"2021-06-01,Région,RSS06,Montréal,160000\n"

func TestFindRegionDay(t *testing.T) {
	rec, err := FindRegionDay("covid19-hist.csv", history, "2021-06-01", "Région", "RSS06")
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := rec.Get("cas_cum_tot_n"); v != "160000" {
		t.Errorf("cas_cum_tot_n = %q; want 160000", v)
	}
	_, err = FindRegionDay("covid19-hist.csv", history, "2021-06-02", "Région", "RSS06")
	if !errors.Is(err, ErrDayNotPublished) {
		t.Errorf("missing day error = %v; want ErrDayNotPublished", err)
	}
	_, err = FindRegionDay("covid19-hist.csv", "Date,Croisement\n2021-06-01,RSS06\n", "2021-06-01", "Région", "RSS06")
	if !errors.Is(err, models.ErrSchemaDrift) {
		t.Errorf("drifted header error = %v; want schema drift", err)
	}
}

func TestFindRPARow(t *testing.T) {
	content := "Région,RSS,CH,CHSLD\n1,01 - Bas-Saint-Laurent,3,4\n6,06 - Montréal,10,20\n"
	rec, err := FindRPARow("tableau-rpa-new.csv", content, "Montr")
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := rec.Get("CHSLD"); v != "20" {
		t.Errorf("CHSLD = %q; want 20", v)
	}
}

const mtlPage = `<html><body>
<div class="csc-textpic-text"><table class="contenttable"><tr>
<td><h3>1 234</h3></td><td><h3>+ 120</h3></td></tr></table>
<p class="bodytext">Data extracted on May 31, 2021</p>
<p class="bodytext">Data extracted on June 1, 2021</p></div>
</body></html>`

func mtlOracle(municipalTotal string) *MontrealOracle {
	return &MontrealOracle{
		Get: fakeGetter{
			"page":      mtlPage,
			"municipal": "Arrondissement;Nouveaux cas\nAnjou;3\nTotal à Montréal;" + municipalTotal + "\n",
			"age":       "Groupe d'âge;Nouveaux cas\n0-4 ans;1\nTotal;120\n",
		},
		PageURL:       "page",
		MunicipalURL:  "municipal",
		AgeURL:        "age",
		DateSelector:  "div.csc-textpic-text p.bodytext",
		CasesSelector: "div.csc-textpic-text table.contenttable",
		Logger:        utils.Discard(),
	}
}

func TestMontrealOracle(t *testing.T) {
	report, err := mtlOracle("120").Check(context.Background(), "2021-06-01")
	if err != nil {
		t.Fatal(err)
	}
	if !report.Fresh() {
		t.Errorf("report %s should be fresh", report)
	}
	report, err = mtlOracle("118").Check(context.Background(), "2021-06-01")
	if err != nil {
		t.Fatal(err)
	}
	if report.Fresh() {
		t.Errorf("report %s should be stale: municipal CSV disagrees with the page", report)
	}
	report, _ = mtlOracle("120").Check(context.Background(), "2021-06-02")
	if report.Fresh() {
		t.Errorf("report %s should be stale: page date is yesterday's", report)
	}
}

func TestCounterValueKeepsSign(t *testing.T) {
	tests := []struct {
		text string
		want int64
	}{
		{"+ 120", 120},
		{" +1 204 ", 1204},
		{"- 3", -3},
		{"−7", -7},
		{"42", 42},
	}
	for _, tt := range tests {
		got, err := counterValue(tt.text)
		if err != nil || got != tt.want {
			t.Errorf("counterValue(%q) = %d, %v; want %d", tt.text, got, err, tt.want)
		}
	}
}

func TestINSPQOracle(t *testing.T) {
	o := &INSPQOracle{
		Get: fakeGetter{
			"manual":  "a,b,c,d,e,f,g\n1,2,3,4,5,6,x\n1,2,3,4,5,6,2<sup>e</sup> juin 2021\n",
			"history": "Date,Regroupement\n2021-05-31,Région\n2021-06-01,Région\n",
		},
		ManualURL:  "manual",
		HistoryURL: "history",
		Logger:     utils.Discard(),
	}
	report, err := o.Check(context.Background(), "2021-06-01")
	if err != nil {
		t.Fatal(err)
	}
	if !report.Fresh() {
		t.Errorf("report %s should be fresh", report)
	}
}

func TestQCPortalOracle(t *testing.T) {
	page := func(lines ...string) string {
		var b strings.Builder
		b.WriteString(`<div class="ce-textpic"><div class="ce-bodytext">`)
		for _, l := range lines {
			b.WriteString("<p>" + l + "</p>")
		}
		b.WriteString(`</div></div>`)
		return b.String()
	}
	o := &QCPortalOracle{
		Get: fakeGetter{
			"received":  "Date;Doses\n2021-06-01;100\n",
			"situation": "Mise à jour;2021-06-02\n",
			"page":      page("Intro", "Source: TSP, MSSS (Updated on May 31, 2021 at 4 p.m.)", "Source: TSP, MSSS (Updated on June 1, 2021 at 4 p.m.)"),
			"vaccine":   page("Source: CIUSSSCN-CIUSSSCOMTL-MSSS, June 2, 2021, 11 a.m."),
		},
		ReceivedURL:       "received",
		SituationCSVURL:   "situation",
		SituationPageURL:  "page",
		VaccinationPage:   "vaccine",
		ParagraphSelector: "div.ce-textpic div.ce-bodytext p",
		Logger:            utils.Discard(),
	}
	report, err := o.Check(context.Background(), "2021-06-01")
	if err != nil {
		t.Fatal(err)
	}
	if !report.Fresh() || len(report.Signals) != 4 {
		t.Errorf("report %s should be fresh with 4 signals", report)
	}
}
