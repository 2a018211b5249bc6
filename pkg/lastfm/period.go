package lastfm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPeriod reports a period that is neither canonical nor an alias.
var ErrInvalidPeriod = errors.New("lastfm: invalid period")

// Period is one chart window.
type Period string

const (
	// PeriodOverall covers the whole listening history.
	PeriodOverall Period = "overall"
	// Period12Months covers the last twelve months.
	Period12Months Period = "12month"
	// Period6Months covers the last six months.
	Period6Months Period = "6month"
	// Period3Months covers the last three months.
	Period3Months Period = "3month"
	// Period1Month covers the last month.
	Period1Month Period = "1month"
	// Period7Days covers the last seven days.
	Period7Days Period = "7days"
)

var periodAliases = map[string]Period{
	"7d":   Period7Days,
	"7day": Period7Days,
	"1m":   Period1Month,
	"3m":   Period3Months,
	"6m":   Period6Months,
	"12m":  Period12Months,
	"1y":   PeriodOverall,
	"y":    PeriodOverall,
	"all":  PeriodOverall,
}

var periodNames = map[Period]string{
	PeriodOverall:  "All Time",
	Period12Months: "Last 12 Months",
	Period6Months:  "Last 6 Months",
	Period3Months:  "Last 3 Months",
	Period1Month:   "Last Month",
	Period7Days:    "Last 7 Days",
}

// Periods lists canonical periods in display order.
func Periods() []Period {
	return []Period{PeriodOverall, Period12Months, Period6Months, Period3Months, Period1Month, Period7Days}
}

// ParsePeriod resolves raw case-insensitively. Empty input selects
// PeriodOverall.
func ParsePeriod(raw string) (Period, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return PeriodOverall, nil
	}
	if period, ok := periodAliases[normalized]; ok {
		return period, nil
	}
	period := Period(normalized)
	if _, ok := periodNames[period]; ok {
		return period, nil
	}

	return "", fmt.Errorf("%w %q", ErrInvalidPeriod, raw)
}

// APIValue returns the wire value Last.fm expects.
func (p Period) APIValue() string {
	if p == Period7Days {
		return "7day"
	}
	if p == "" {
		return string(PeriodOverall)
	}

	return string(p)
}

// DisplayName returns a human label.
func (p Period) DisplayName() string {
	if name, ok := periodNames[p]; ok {
		return name
	}

	return string(p)
}
