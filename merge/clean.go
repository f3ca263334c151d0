// merge/clean.go
package merge

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jeremymoreau/covid19mtl/table"
)

var (
	// Spaces and inequality markers seen in upstream counts ("1 234", "<5").
	intNoise = strings.NewReplacer(
		" ", "", "\u00a0", "", "\u202f", "",
		"<", "", ">", "", "≤", "", "≥", "", "−", "-",
	)
	// A "." or "," in a count is only accepted as a thousands separator ("1.234", "12,345").
	groupedInt = regexp.MustCompile(`^-?\d{1,3}([.,]\d{3})+$`)
	separators = strings.NewReplacer(".", "", ",", "")
	floatNoise = strings.NewReplacer(
		" ", "", "\u00a0", "", "\u202f", "", "<", "", ">", "", "≤", "", "≥", "", "%", "",
	)
)

// CleanInt coerces an upstream count to an integer.
func CleanInt(raw string) (int64, error) {
	s := strings.TrimSuffix(intNoise.Replace(strings.TrimSpace(raw)), ".0")
	if strings.ContainsAny(s, ".,") {
		if !groupedInt.MatchString(s) {
			return 0, fmt.Errorf("not an integer: %q", raw)
		}
		s = separators.Replace(s)
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("not an integer: %q", raw)
	}
	return v, nil
}

// CleanFloat coerces an upstream decimal, accepting a comma as decimal separator.
func CleanFloat(raw string) (float64, error) {
	s := floatNoise.Replace(strings.TrimSpace(raw))
	s = strings.Replace(s, ",", ".", 1)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", raw)
	}
	return v, nil
}

// Clean normalises one raw cell to the canonical text of its field kind.
// Empty upstream cells become NA.
func Clean(raw string, f table.Field) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.EqualFold(trimmed, table.NA) {
		return table.NA, nil
	}
	switch f.Kind {
	case table.Int:
		v, err := CleanInt(trimmed)
		if err != nil {
			return "", err
		}
		return table.FormatInt(v), nil
	case table.Float:
		v, err := CleanFloat(trimmed)
		if err != nil {
			return "", err
		}
		return table.FormatFloat(v, f.Decimals), nil
	default:
		return trimmed, nil
	}
}
