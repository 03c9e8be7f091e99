package generic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoney_SplitIsConservative(t *testing.T) {
	// GIVEN: Amounts whose share lands on a half cent or repeats
	cases := []struct {
		amount, rate, share, rest string
	}{
		{"33.33", "0.30", "10.00", "23.33"},
		{"0.05", "0.10", "0.01", "0.04"},
		{"100.00", "0.30", "30.00", "70.00"},
		{"0.00", "0.25", "0.00", "0.00"},
	}
	for _, tc := range cases {
		m := USD(tc.amount)

		// WHEN: Splitting
		share, rest := m.Split(MustRate(tc.rate))

		// THEN: Share rounds half away from zero, remainder closes exactly
		assert.Equal(t, tc.share, share.String(), tc.amount)
		assert.Equal(t, tc.rest, rest.String(), tc.amount)
		assert.True(t, share.Add(rest).Equal(m))
	}
}

func TestRate_Helpers(t *testing.T) {
	assert.Equal(t, "0.25", RateFromPercent(25).String())
	assert.Equal(t, "25", RateFromPercent(25).Percent().String())
	assert.True(t, RateFromPercent(0).InUnitInterval())
	assert.False(t, RateFromPercent(100).InUnitInterval())
	assert.False(t, MustRate("-0.1").InUnitInterval())
	assert.Equal(t, "0.75", RateFromPercent(25).Complement().String())
}

func TestPeriod_Helpers(t *testing.T) {
	feb := MonthOf(NewTimePoint(2024, time.February, 10))
	assert.Equal(t, "2024-02-01_2024-02-29", feb.Key())
	assert.Equal(t, 29, feb.Days())

	assert.True(t, feb.ContainsTime(time.Date(2024, time.February, 29, 23, 59, 0, 0, time.UTC)))
	assert.False(t, feb.ContainsTime(time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)))

	_, err := NewPeriod(NewTimePoint(2025, time.March, 2), NewTimePoint(2025, time.March, 1))
	assert.ErrorIs(t, err, ErrInvalidPeriod)

	year := TaxYear(2025)
	assert.Equal(t, "2025-12-31", year.End.String())
}

func TestTime_Helpers(t *testing.T) {
	assert.Equal(t, 2, CeilDays(36*time.Hour))
	assert.Equal(t, 0, CeilDays(-12*time.Hour))

	d, err := ParseDate("2025-03-31")
	require.NoError(t, err)
	assert.Equal(t, NewTimePoint(2025, time.April, 3), d.AddDays(3))

	start := time.Date(2025, time.March, 10, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, -30.0, HoursBetween(start, start.Add(-30*time.Hour)))
}
