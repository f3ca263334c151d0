// models/freshness.go
package models

import (
	"fmt"
	"strings"
)

// Signal is one observation taken by a freshness check.
type Signal struct {
	Name     string `json:"name"`
	Observed string `json:"observed"`
	Want     string `json:"want"`
}

// OK reports whether the observation matches what is wanted.
func (s Signal) OK() bool { return s.Observed == s.Want }

// FreshnessReport is the verdict for one family and expected date.
// The family is fresh only if every signal agrees.
type FreshnessReport struct {
	Family       Family   `json:"family"`
	ExpectedDate string   `json:"expected_date"`
	Signals      []Signal `json:"signals"`
}

// Fresh is the AND of all signals. A report without signals is never fresh.
func (r *FreshnessReport) Fresh() bool {
	if r == nil || len(r.Signals) == 0 {
		return false
	}
	for _, s := range r.Signals {
		if !s.OK() {
			return false
		}
	}
	return true
}

// Add appends a signal.
func (r *FreshnessReport) Add(name, observed, want string) {
	r.Signals = append(r.Signals, Signal{Name: name, Observed: observed, Want: want})
}

func (r *FreshnessReport) String() string {
	parts := make([]string, 0, len(r.Signals))
	for _, s := range r.Signals {
		mark := "ok"
		if !s.OK() {
			mark = "stale"
		}
		parts = append(parts, fmt.Sprintf("%s=%s(want %s, %s)", s.Name, s.Observed, s.Want, mark))
	}
	return strings.Join(parts, " ")
}
