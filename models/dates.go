// models/dates.go
package models

import (
	"fmt"
	"time"
)

// DateLayout is the ISO calendar date layout used for every table key and snapshot directory.
const DateLayout = "2006-01-02"

// ExpectedDate is the day whose numbers should be published by now: yesterday in loc.
func ExpectedDate(now time.Time, loc *time.Location) string {
	return now.In(loc).AddDate(0, 0, -1).Format(DateLayout)
}

// Today is the calendar date of now in loc.
func Today(now time.Time, loc *time.Location) string {
	return now.In(loc).Format(DateLayout)
}

// AddDays shifts an ISO date by n days.
func AddDays(date string, n int) (string, error) {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: %w", date, err)
	}
	return t.AddDate(0, 0, n).Format(DateLayout), nil
}
