package config

import (
	"errors"
	"time"

	"visitorlog/internal/model"
)

// ImportDatePolicy decides what happens to CSV rows whose training date is
// missing or unparseable.
type ImportDatePolicy string

const (
	// ImportDateToday substitutes the current date and reports a warning for the row.
	ImportDateToday ImportDatePolicy = "today"
	// ImportDateReject turns the row into a row error.
	ImportDateReject ImportDatePolicy = "reject"
)

// TypeRequirements describes what a visitor type must satisfy at check-in.
type TypeRequirements struct {
	OrientationRequired bool
	// ExpirationMonths is zero when completed orientation never expires.
	ExpirationMonths int
}

// Policy is the domain configuration handed to each component at construction.
// It is a value; components keep their own copy.
type Policy struct {
	Location *time.Location

	General    TypeRequirements
	Contractor TypeRequirements

	ExpiringSoonDays   int
	RetentionMonths    int
	SearchDefaultLimit int
	SearchMaxLimit     int
	ImportDates        ImportDatePolicy
}

// DefaultPolicy mirrors the defaults of a fresh installation.
func DefaultPolicy() Policy {
	return Policy{
		Location:           time.UTC,
		General:            TypeRequirements{},
		Contractor:         TypeRequirements{OrientationRequired: true, ExpirationMonths: 12},
		ExpiringSoonDays:   30,
		RetentionMonths:    24,
		SearchDefaultLimit: 10,
		SearchMaxLimit:     50,
		ImportDates:        ImportDateToday,
	}
}

// Requirements returns the typed requirements for a visitor type.
func (p Policy) Requirements(t model.VisitorType) TypeRequirements {
	if t == model.VisitorContractor {
		return p.Contractor
	}
	return p.General
}

// Validate rejects settings the components cannot work with.
func (p Policy) Validate() error {
	if p.Location == nil {
		return errors.New("policy: location is required")
	}
	if p.Contractor.ExpirationMonths < 0 || p.General.ExpirationMonths < 0 {
		return errors.New("policy: expiration months must not be negative")
	}
	if p.RetentionMonths <= 0 {
		return errors.New("policy: retention months must be positive")
	}
	if p.ExpiringSoonDays < 0 {
		return errors.New("policy: expiring-soon window must not be negative")
	}
	if p.SearchDefaultLimit <= 0 || p.SearchMaxLimit < p.SearchDefaultLimit {
		return errors.New("policy: search limits are inconsistent")
	}
	return nil
}

// Today returns the civil date containing t in the policy time zone.
func (p Policy) Today(t time.Time) time.Time {
	return model.DateOf(t, p.Location)
}
