package campaign

import (
	"fmt"
	"time"
	_ "time/tzdata" // reporting timezones must resolve on minimal images
)

const (
	PeriodToday      = "today"
	PeriodYesterday  = "yesterday"
	PeriodLast7Days  = "last_7_days"
	PeriodLast30Days = "last_30_days"
	PeriodAllTime    = "all_time"
)

const dateLayout = "2006-01-02"

// Window is a reporting date range. The attribution tracker reports in
// its own timezone while the ad platform takes UTC dates, so each side
// carries its own since/until pair.
type Window struct {
	Period        string `json:"period"`
	PlatformSince string `json:"platform_since"`
	PlatformUntil string `json:"platform_until"`
	TrackerSince  string `json:"tracker_since"`
	TrackerUntil  string `json:"tracker_until"`
}

func (w Window) String() string {
	return fmt.Sprintf("%s → %s (%s)", w.TrackerSince, w.TrackerUntil, w.Period)
}

// WindowFor computes the window for period at now in loc. Unknown periods
// fall back to the last 30 days.
func WindowFor(period string, now time.Time, loc *time.Location) Window {
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)
	midnight := func(t time.Time) time.Time {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	}

	var start, end time.Time
	switch period {
	case PeriodToday:
		start, end = midnight(now), now
	case PeriodYesterday:
		y := now.AddDate(0, 0, -1)
		start = midnight(y)
		end = time.Date(y.Year(), y.Month(), y.Day(), 23, 59, 59, 0, loc)
	case PeriodLast7Days:
		start, end = midnight(now.AddDate(0, 0, -6)), now
	case PeriodAllTime:
		start, end = midnight(now.AddDate(0, 0, -730)), now
	default:
		period = PeriodLast30Days
		start, end = midnight(now.AddDate(0, 0, -29)), now
	}

	return Window{
		Period:        period,
		PlatformSince: start.UTC().Format(dateLayout),
		PlatformUntil: end.UTC().Format(dateLayout),
		TrackerSince:  start.Format(dateLayout),
		TrackerUntil:  end.Format(dateLayout),
	}
}

// ValidPeriod reports whether p is one of the known period names.
func ValidPeriod(p string) bool {
	switch p {
	case PeriodToday, PeriodYesterday, PeriodLast7Days, PeriodLast30Days, PeriodAllTime:
		return true
	}
	return false
}
