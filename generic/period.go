package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - Closed reporting window
// =============================================================================

// Period is a closed, inclusive range of calendar days [Start, End].
// Revenue classification always runs over a period; two periods used for the
// same report series must not overlap or a booking would be counted twice.
//
// Examples:
//   - Calendar month: Mar 1 - Mar 31
//   - Tax year 2025: Jan 1 - Dec 31
type Period struct {
	Start TimePoint
	End   TimePoint
}

// NewPeriod validates and builds a period.
func NewPeriod(start, end TimePoint) (Period, error) {
	p := Period{Start: start, End: end}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() || p.End.Before(p.Start) {
		return fmt.Errorf("%w: %s", ErrInvalidPeriod, p)
	}
	return nil
}

// Contains returns true if the date is within the period [Start, End]
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// ContainsTime returns true if the calendar date of t is within the period.
func (p Period) ContainsTime(t time.Time) bool {
	return p.Contains(DateOf(t))
}

// Overlaps reports whether the two periods share at least one day.
func (p Period) Overlaps(o Period) bool {
	return p.Start.BeforeOrEqual(o.End) && o.Start.BeforeOrEqual(p.End)
}

// Days returns the number of days in the period, inclusive.
func (p Period) Days() int {
	return DaysBetween(p.Start, p.End) + 1
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// Key is a stable identifier for persistence, e.g. "2025-03-01_2025-03-31".
func (p Period) Key() string {
	return p.Start.String() + "_" + p.End.String()
}

// TaxYear returns the calendar-year period for the given year.
func TaxYear(year int) Period {
	return Period{Start: StartOfYear(year), End: EndOfYear(year)}
}

// MonthOf returns the calendar month containing the date.
func MonthOf(t TimePoint) Period {
	start := NewTimePoint(t.Year(), t.Month(), 1)
	end := TimePoint{Time: start.Time.AddDate(0, 1, -1)}
	return Period{Start: start, End: end}
}
