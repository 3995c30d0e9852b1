// Package types provides core data types for eventlens.
package types

import (
	"math"
	"time"
)

// Field length limits applied at ingestion.
const (
	MaxEventNameLen = 255
	MaxUserIDLen    = 255
	MaxSessionIDLen = 255
	MaxIPAddressLen = 45
	MaxUserAgentLen = 512
)

// Event timestamps are persisted as Unix nanoseconds, which bounds the
// representable range.
var (
	MinTimestamp = time.Unix(0, math.MinInt64).UTC()
	MaxTimestamp = time.Unix(0, math.MaxInt64).UTC()
)

// TimestampInRange reports whether t can be stored without loss.
func TimestampInRange(t time.Time) bool {
	return !t.Before(MinTimestamp) && !t.After(MaxTimestamp)
}

// Event is a single immutable occurrence stored in the event log.
type Event struct {
	// ID is assigned by the store at insert time and increases monotonically.
	ID int64 `json:"id"`

	// EventName classifies the event (e.g., "page_view", "purchase").
	EventName string `json:"event_name"`

	// UserID identifies the actor; nil for anonymous events.
	UserID *string `json:"user_id"`

	// SessionID identifies the activity session; nil when sessions are not tracked.
	SessionID *string `json:"session_id"`

	// Properties holds event-specific attributes, opaque to aggregation.
	Properties Properties `json:"properties"`

	// UserProperties describes the actor at event time, opaque to aggregation.
	UserProperties Properties `json:"user_properties"`

	// Timestamp is when the event logically occurred.
	// A zero value is replaced with the insertion time by the store.
	Timestamp time.Time `json:"timestamp"`

	IPAddress *string `json:"ip_address,omitempty"`
	UserAgent *string `json:"user_agent,omitempty"`

	// CreatedAt is assigned by the store and never taken from the caller.
	CreatedAt time.Time `json:"created_at"`

	// ProjectID is the slug of the owning project, nil when unscoped.
	ProjectID *string `json:"project_id,omitempty"`
}

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	cp := *e
	cp.UserID = cloneString(e.UserID)
	cp.SessionID = cloneString(e.SessionID)
	cp.IPAddress = cloneString(e.IPAddress)
	cp.UserAgent = cloneString(e.UserAgent)
	cp.ProjectID = cloneString(e.ProjectID)
	cp.Properties = e.Properties.Clone()
	cp.UserProperties = e.UserProperties.Clone()
	return &cp
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StringValue dereferences p, returning "" for nil.
func StringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
