package types

import "time"

// Project defaults applied when a project is created without explicit settings.
const (
	DefaultRetentionDays     = 90
	DefaultMonthlyEventLimit = 10000
)

// Project is an administrative scope that owns events through its slug.
// Projects are never deleted; IsActive is the only way to retire one.
type Project struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description,omitempty"`

	// EventRetentionDays and MonthlyEventLimit are recorded settings only;
	// nothing in eventlens enforces them.
	EventRetentionDays int `json:"event_retention_days"`
	MonthlyEventLimit  int `json:"monthly_event_limit"`

	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProjectUpdate carries the mutable project settings. Nil fields are left unchanged.
type ProjectUpdate struct {
	Name               *string `json:"name,omitempty"`
	Description        *string `json:"description,omitempty"`
	EventRetentionDays *int    `json:"event_retention_days,omitempty"`
	MonthlyEventLimit  *int    `json:"monthly_event_limit,omitempty"`
	IsActive           *bool   `json:"is_active,omitempty"`
}

// Apply copies the non-nil fields of u onto p.
func (u ProjectUpdate) Apply(p *Project) {
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Description != nil {
		p.Description = *u.Description
	}
	if u.EventRetentionDays != nil {
		p.EventRetentionDays = *u.EventRetentionDays
	}
	if u.MonthlyEventLimit != nil {
		p.MonthlyEventLimit = *u.MonthlyEventLimit
	}
	if u.IsActive != nil {
		p.IsActive = *u.IsActive
	}
}
