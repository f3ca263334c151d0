// scraper/freshness.go
package scraper

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jeremymoreau/covid19mtl/merge"
	"github.com/jeremymoreau/covid19mtl/models"
	"github.com/jeremymoreau/covid19mtl/utils"
)

// Oracle decides whether a family has published the expected day. Checks
// fetch what they need themselves and have no side effects.
type Oracle interface {
	Family() models.Family
	Check(ctx context.Context, expected string) (*models.FreshnessReport, error)
}

// MontrealOracle checks Santé Montréal: the "extracted on" date under the
// last table of the situation page, and the new-case count shown on the page
// against the municipal and age CSVs.
type MontrealOracle struct {
	Get           Getter
	PageURL       string
	MunicipalURL  string
	AgeURL        string
	DateSelector  string
	CasesSelector string
	Logger        *utils.Logger
}

func (o *MontrealOracle) Family() models.Family { return models.FamilyMTL }

func (o *MontrealOracle) Check(ctx context.Context, expected string) (*models.FreshnessReport, error) {
	report := &models.FreshnessReport{Family: models.FamilyMTL, ExpectedDate: expected}

	doc, err := fetchDocument(ctx, o.Get, o.PageURL)
	if err != nil {
		return nil, err
	}
	var dateText string
	doc.Find(o.DateSelector).Each(func(i int, s *goquery.Selection) {
		if strings.Contains(s.Text(), "extracted on") {
			dateText = s.Text()
		}
	})
	if dateText == "" {
		return nil, &models.SchemaDriftError{Resource: o.PageURL, Detail: fmt.Sprintf("no %q element mentions 'extracted on'", o.DateSelector)}
	}
	pageDate, err := ParseLooseDate(dateText[strings.LastIndex(dateText, "extracted on ")+len("extracted on "):])
	if err != nil {
		return nil, fmt.Errorf("montreal page date: %w", err)
	}
	report.Add("page extraction date", pageDate, expected)

	counter := doc.Find(o.CasesSelector).First().Find("td h3").Eq(1)
	if counter.Length() == 0 {
		return nil, &models.SchemaDriftError{Resource: o.PageURL, Detail: "new cases counter not found"}
	}
	pageCases, err := counterValue(counter.Text())
	if err != nil {
		return nil, &models.SchemaDriftError{Resource: o.PageURL, Detail: err.Error()}
	}
	want := fmt.Sprint(pageCases)

	for _, csvURL := range []string{o.MunicipalURL, o.AgeURL} {
		got, err := o.lastNewCases(ctx, csvURL)
		if err != nil {
			return nil, err
		}
		report.Add("new cases in "+csvURL, got, want)
	}
	o.Logger.Debug("[oracle:mtl] %s", report)
	return report, nil
}

// lastNewCases reads the second column of the last non-empty row (the total row).
// counterValue reads a signed daily counter such as "+ 12" or "- 3".
func counterValue(text string) (int64, error) {
	return merge.CleanInt(strings.TrimPrefix(strings.TrimSpace(text), "+"))
}

func (o *MontrealOracle) lastNewCases(ctx context.Context, url string) (string, error) {
	content, err := o.Get.Fetch(ctx, url)
	if err != nil {
		return "", err
	}
	frame, err := ReadFrame(url, content, ';', true)
	if err != nil {
		return "", err
	}
	cell, err := frame.Cell(-1, 1)
	if err != nil {
		return "", err
	}
	n, err := merge.CleanInt(cell)
	if err != nil {
		return "", &models.SchemaDriftError{Resource: url, Detail: err.Error()}
	}
	return fmt.Sprint(n), nil
}

// INSPQOracle checks INSPQ: the "as of" date in the manual data CSV (one day
// after the data date) and the last date of the historical CSV.
type INSPQOracle struct {
	Get        Getter
	ManualURL  string
	HistoryURL string
	Logger     *utils.Logger
}

func (o *INSPQOracle) Family() models.Family { return models.FamilyINSPQ }

func (o *INSPQOracle) Check(ctx context.Context, expected string) (*models.FreshnessReport, error) {
	report := &models.FreshnessReport{Family: models.FamilyINSPQ, ExpectedDate: expected}
	updated, err := models.AddDays(expected, 1)
	if err != nil {
		return nil, err
	}

	manualDate, err := o.dateCell(ctx, o.ManualURL, 1, 6)
	if err != nil {
		return nil, err
	}
	report.Add("manual data update date", manualDate, updated)

	historyDate, err := o.dateCell(ctx, o.HistoryURL, -1, 0)
	if err != nil {
		return nil, err
	}
	report.Add("history last date", historyDate, expected)

	o.Logger.Debug("[oracle:inspq] %s", report)
	return report, nil
}

func (o *INSPQOracle) dateCell(ctx context.Context, url string, row, col int) (string, error) {
	return csvDateCell(ctx, o.Get, url, ',', true, row, col)
}

// QCPortalOracle checks Québec.ca: the doses-received and vaccination
// situation CSVs and the "Source:" lines of the situation and vaccination pages.
type QCPortalOracle struct {
	Get               Getter
	ReceivedURL       string
	SituationCSVURL   string
	SituationPageURL  string
	VaccinationPage   string
	ParagraphSelector string
	Logger            *utils.Logger
}

func (o *QCPortalOracle) Family() models.Family { return models.FamilyQC }

func (o *QCPortalOracle) Check(ctx context.Context, expected string) (*models.FreshnessReport, error) {
	report := &models.FreshnessReport{Family: models.FamilyQC, ExpectedDate: expected}
	sameDay, err := models.AddDays(expected, 1)
	if err != nil {
		return nil, err
	}

	received, err := csvDateCell(ctx, o.Get, o.ReceivedURL, ';', true, 0, 0)
	if err != nil {
		return nil, err
	}
	report.Add("doses received date", received, expected)

	situation, err := csvDateCell(ctx, o.Get, o.SituationCSVURL, ';', false, 0, 1)
	if err != nil {
		return nil, err
	}
	report.Add("vaccination situation date", situation, sameDay)

	// "Source: TSP, MSSS (Updated on January 11, 2021 at 4 p.m.)"
	lines, err := o.sourceLines(ctx, o.SituationPageURL)
	if err != nil {
		return nil, err
	}
	text := lines[len(lines)-1]
	if i := strings.LastIndex(text, "Updated on"); i >= 0 {
		text = text[i+len("Updated on"):]
	}
	text, _, _ = strings.Cut(text, ")")
	pageDate, err := ParseLooseDate(text)
	if err != nil {
		return nil, fmt.Errorf("situation page date: %w", err)
	}
	report.Add("situation page date", pageDate, expected)

	// "Source: CIUSSSCN-CIUSSSCOMTL-MSSS, January 13, 2021, 11 a.m."
	lines, err = o.sourceLines(ctx, o.VaccinationPage)
	if err != nil {
		return nil, err
	}
	_, text, _ = strings.Cut(lines[0], ", ")
	vaccDate, err := ParseLooseDate(text)
	if err != nil {
		return nil, fmt.Errorf("vaccination page date: %w", err)
	}
	report.Add("vaccination page date", vaccDate, sameDay)

	o.Logger.Debug("[oracle:qc] %s", report)
	return report, nil
}

func (o *QCPortalOracle) sourceLines(ctx context.Context, url string) ([]string, error) {
	doc, err := fetchDocument(ctx, o.Get, url)
	if err != nil {
		return nil, err
	}
	var lines []string
	doc.Find(o.ParagraphSelector).Each(func(i int, s *goquery.Selection) {
		if t := s.Text(); strings.Contains(t, "Source: ") {
			lines = append(lines, strings.TrimSpace(t))
		}
	})
	if len(lines) == 0 {
		return nil, &models.SchemaDriftError{Resource: url, Detail: fmt.Sprintf("no %q element with a 'Source: ' line", o.ParagraphSelector)}
	}
	return lines, nil
}

func fetchDocument(ctx context.Context, get Getter, url string) (*goquery.Document, error) {
	content, err := get.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML from %s: %w", url, err)
	}
	return doc, nil
}

func csvDateCell(ctx context.Context, get Getter, url string, comma rune, header bool, row, col int) (string, error) {
	content, err := get.Fetch(ctx, url)
	if err != nil {
		return "", err
	}
	frame, err := ReadFrame(url, content, comma, header)
	if err != nil {
		return "", err
	}
	cell, err := frame.Cell(row, col)
	if err != nil {
		return "", err
	}
	date, err := ParseLooseDate(cell)
	if err != nil {
		return "", &models.SchemaDriftError{Resource: url, Detail: err.Error()}
	}
	return date, nil
}
