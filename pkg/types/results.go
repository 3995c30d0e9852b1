package types

import "time"

// DateRange is the span of event timestamps in a scope.
// Both bounds are nil when the scope holds no events; that means
// "no data", not a range of zero width.
type DateRange struct {
	Start *time.Time `json:"start"`
	End   *time.Time `json:"end"`
}

// Empty reports whether the range carries no data.
func (r DateRange) Empty() bool {
	return r.Start == nil && r.End == nil
}

// EventPage is one window of events ordered by recency.
type EventPage struct {
	TotalCount int64    `json:"total_count"`
	Limit      int      `json:"limit"`
	Offset     int      `json:"offset"`
	Events     []*Event `json:"events"`
}

// Summary combines the headline aggregates of a scope.
//
// The fields are computed by independent store reads. Under concurrent
// ingestion they may reflect slightly different points in time, so for
// example the sum of EventsByType can briefly differ from TotalEvents.
type Summary struct {
	TotalEvents    int64            `json:"total_events"`
	UniqueUsers    int64            `json:"unique_users"`
	UniqueSessions int64            `json:"unique_sessions"`
	EventsByType   map[string]int64 `json:"events_by_type"`
	DateRange      DateRange        `json:"date_range"`
}

// TopEvent is one row of the ranked top-N report.
type TopEvent struct {
	EventName   string `json:"event_name"`
	Count       int64  `json:"count"`
	UniqueUsers int64  `json:"unique_users"`
	// Percentage is the share of all events in scope, rounded half-up to a whole number.
	Percentage int64 `json:"percentage"`
}

// Period is the bucket width of a time series.
type Period string

const (
	PeriodHour Period = "hour"
	PeriodDay  Period = "day"
)

// Duration returns the bucket width, or 0 for an unknown period.
func (p Period) Duration() time.Duration {
	switch p {
	case PeriodHour:
		return time.Hour
	case PeriodDay:
		return 24 * time.Hour
	default:
		return 0
	}
}

// TimeBucket counts events whose timestamp falls in [Start, Start+width).
type TimeBucket struct {
	Start time.Time `json:"date"`
	Count int64     `json:"count"`
}

// TimeSeries is a sequence of non-empty buckets in ascending order.
type TimeSeries struct {
	Period      Period       `json:"period"`
	Data        []TimeBucket `json:"data"`
	TotalEvents int64        `json:"total_events"`
}
