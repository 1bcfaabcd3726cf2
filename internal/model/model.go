package model

import (
	"fmt"
	"strings"
	"time"
)

// VisitorType classifies a visitor at check-in.
type VisitorType string

const (
	VisitorGeneral    VisitorType = "general"
	VisitorContractor VisitorType = "contractor"
)

// ParseVisitorType accepts the wire form of a visitor type. An empty value means general.
func ParseVisitorType(s string) (VisitorType, error) {
	switch VisitorType(strings.ToLower(strings.TrimSpace(s))) {
	case "", VisitorGeneral:
		return VisitorGeneral, nil
	case VisitorContractor:
		return VisitorContractor, nil
	}
	return "", fmt.Errorf("unknown visitor type %q", s)
}

// TrainingType records which orientation a visitor last completed.
type TrainingType string

const (
	TrainingNone       TrainingType = "none"
	TrainingContractor TrainingType = "contractor"
	TrainingGeneral    TrainingType = "general"
)

// Visitor is a person who may check in. Name is the primary matching key.
type Visitor struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Email        string      `json:"email"`
	Phone        string      `json:"phone"`
	Company      string      `json:"company"`
	BadgeNumber  string      `json:"badge_number,omitempty"`
	StaffContact string      `json:"staff_contact,omitempty"`
	Type         VisitorType `json:"visitor_type"`

	TrainingType           TrainingType `json:"training_type"`
	LastTrainingDate       *time.Time   `json:"last_training_date,omitempty"`
	TrainingExpirationDate *time.Time   `json:"training_expiration_date,omitempty"`

	ContractorOrientationCompleted bool `json:"contractor_orientation_completed"`
	GeneralOrientationCompleted    bool `json:"general_orientation_completed"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Contact holds the fields refreshed on every check-in by the same identity.
type Contact struct {
	Email        string
	Phone        string
	Company      string
	BadgeNumber  string
	StaffContact string
}

// ApplyContact overwrites contact fields with the non-empty values in c.
func (v *Visitor) ApplyContact(c Contact) {
	set := func(dst *string, src string) {
		if src = strings.TrimSpace(src); src != "" {
			*dst = src
		}
	}
	set(&v.Email, c.Email)
	set(&v.Phone, c.Phone)
	set(&v.Company, c.Company)
	set(&v.BadgeNumber, c.BadgeNumber)
	set(&v.StaffContact, c.StaffContact)
}

// PresenceRecord is one physical visit. A nil CheckedOutAt means the visitor is on site.
type PresenceRecord struct {
	ID           string     `json:"id"`
	VisitorID    string     `json:"visitor_id"`
	DeviceID     string     `json:"device_id,omitempty"`
	CheckedInAt  time.Time  `json:"checked_in_at"`
	CheckedOutAt *time.Time `json:"checked_out_at,omitempty"`
}

// Open reports whether the visit has not been closed yet.
func (p PresenceRecord) Open() bool { return p.CheckedOutAt == nil }

// DurationMinutes is checkout minus checkin, or now minus checkin while open, in whole minutes.
func (p PresenceRecord) DurationMinutes(now time.Time) int {
	end := now
	if p.CheckedOutAt != nil {
		end = *p.CheckedOutAt
	}
	d := end.Sub(p.CheckedInAt)
	if d < 0 {
		return 0
	}
	return int(d / time.Minute)
}

// Visit joins a presence record with its visitor for listings and reports.
type Visit struct {
	PresenceRecord
	Visitor Visitor `json:"visitor"`
}

// Candidate is a search hit before ranking.
type Candidate struct {
	Visitor     Visitor
	LastVisitAt *time.Time
}

// VisitFilter narrows the visit history report.
type VisitFilter struct {
	From      time.Time
	To        time.Time
	VisitorID string
	Limit     int
}

// DateOf returns the calendar day containing t in loc. Civil dates are
// carried as midnight UTC so they survive a DATE column round trip unchanged.
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Date builds a civil date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// FormatDate renders a civil date as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format("2006-01-02")
}
