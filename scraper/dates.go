// scraper/dates.go
package scraper

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/jeremymoreau/covid19mtl/models"
)

var (
	isoDateRegex    = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	monthFirstRegex = regexp.MustCompile(`([a-z]+)\.?\s+(\d{1,2}),?\s+(\d{4})`)
	dayFirstRegex   = regexp.MustCompile(`(\d{1,2})\s+([a-z]+)\.?,?\s+(\d{4})`)
	markupRegex     = regexp.MustCompile(`<[^>]*>`)
	ordinalRegex    = regexp.MustCompile(`\b(\d{1,2})(er|e|st|nd|rd|th)\b`)
)

var months = map[string]string{
	"january": "January", "jan": "January", "janvier": "January",
	"february": "February", "feb": "February", "février": "February", "fevrier": "February",
	"march": "March", "mar": "March", "mars": "March",
	"april": "April", "apr": "April", "avril": "April",
	"may": "May", "mai": "May",
	"june": "June", "jun": "June", "juin": "June",
	"july": "July", "jul": "July", "juillet": "July",
	"august": "August", "aug": "August", "août": "August", "aout": "August",
	"september": "September", "sep": "September", "sept": "September", "septembre": "September",
	"october": "October", "oct": "October", "octobre": "October",
	"november": "November", "nov": "November", "novembre": "November",
	"december": "December", "dec": "December", "décembre": "December", "decembre": "December",
}

// ParseLooseDate finds the first calendar date in free text such as
// "Updated on January 11, 2021 at 4 p.m." or "1<sup>er</sup> février 2021"
// and returns it as an ISO date.
func ParseLooseDate(text string) (string, error) {
	s := markupRegex.ReplaceAllString(text, "")
	s = strings.NewReplacer("\u00a0", " ", "&nbsp;", " ").Replace(s)
	s = strings.ToLower(strings.TrimSpace(s))
	s = ordinalRegex.ReplaceAllString(s, "$1")

	if m := isoDateRegex.FindString(s); m != "" {
		return normalise(m, text)
	}
	for _, m := range monthFirstRegex.FindAllStringSubmatch(s, -1) {
		if month, ok := months[m[1]]; ok {
			return normalise(fmt.Sprintf("%s %s, %s", month, m[2], m[3]), text)
		}
	}
	// Go's regexp treats accented letters as non-[a-z]; match them explicitly.
	for _, m := range dayFirstRegex.FindAllStringSubmatch(asciiMonths(s), -1) {
		if month, ok := months[m[2]]; ok {
			return normalise(fmt.Sprintf("%s %s, %s", month, m[1], m[3]), text)
		}
	}
	return "", fmt.Errorf("no date found in %q", text)
}

func asciiMonths(s string) string {
	return strings.NewReplacer("février", "fevrier", "août", "aout", "décembre", "decembre").Replace(s)
}

func normalise(fragment, original string) (string, error) {
	t, err := dateparse.ParseIn(fragment, time.UTC)
	if err != nil {
		return "", fmt.Errorf("parse date %q (from %q): %w", fragment, original, err)
	}
	return t.Format(models.DateLayout), nil
}
