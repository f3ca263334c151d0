// metrics/incidence.go
package metrics

import "math"

// Band boundaries of the 7-day incidence per 100,000. Each band is closed on
// the left: 10 falls in "> 10-25", not "< 10".
var bandEdges = []float64{10, 25, 50, 100, 200, 300, 500, 1000, 1500}

// BandLabels are the legend labels, in ascending order.
var BandLabels = []string{
	"< 10", "> 10-25", "> 25-50", "> 50-100", "> 100-200",
	"> 200-300", "> 300-500", "> 500-1000", "> 1000-1500", "> 1500",
}

// Band maps a 7-day incidence per 100,000 to its legend label.
func Band(v float64) string {
	for i, edge := range bandEdges {
		if v < edge {
			return BandLabels[i]
		}
	}
	return BandLabels[len(BandLabels)-1]
}

// PerCapita scales a count to a rate per `per` inhabitants.
func PerCapita(v, population, per float64) float64 {
	if population <= 0 {
		return 0
	}
	return v / population * per
}

// Per100k is PerCapita per 100,000 inhabitants.
func Per100k(v, population float64) float64 { return PerCapita(v, population, 100_000) }

// Per1000 is PerCapita per 1,000 inhabitants.
func Per1000(v, population float64) float64 { return PerCapita(v, population, 1_000) }

// PercentChange of cur relative to prev. A zero prev yields 0.
func PercentChange(cur, prev float64) float64 {
	if prev == 0 {
		return 0
	}
	return (cur - prev) / prev * 100
}

// Round rounds half to even at the given number of decimals.
func Round(v float64, decimals int) float64 {
	p := math.Pow10(decimals)
	return math.RoundToEven(v*p) / p
}
