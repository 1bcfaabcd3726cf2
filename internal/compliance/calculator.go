// Package compliance derives training status from the dates stored on a visitor.
//
// Per visitor the derivable states are:
//
//	NONE -> CONTRACTOR_CURRENT | GENERAL_COMPLETE   (orientation completed)
//	CONTRACTOR_CURRENT -> CONTRACTOR_EXPIRED       (expiration date passes)
//	CONTRACTOR_EXPIRED -> CONTRACTOR_CURRENT       (orientation re-completed)
//
// General orientation never expires.
package compliance

import (
	"fmt"
	"time"

	"visitorlog/internal/clock"
	"visitorlog/internal/config"
	"visitorlog/internal/model"
)

// Status is the compliance snapshot state.
type Status string

const (
	StatusNoRecord     Status = "no_record"
	StatusCurrent      Status = "current"
	StatusExpiringSoon Status = "expiring_soon"
	StatusExpired      Status = "expired"
)

// ParseStatus accepts the wire form of a status.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusNoRecord, StatusCurrent, StatusExpiringSoon, StatusExpired:
		return st, true
	}
	return "", false
}

// Snapshot is computed at request time and never persisted.
type Snapshot struct {
	Status           Status             `json:"status"`
	TrainingType     model.TrainingType `json:"training_type"`
	LastTrainingDate *time.Time         `json:"last_training_date,omitempty"`
	ExpirationDate   *time.Time         `json:"expiration_date,omitempty"`
	// DaysRemaining is negative once expired and absent when nothing expires.
	DaysRemaining *int `json:"days_remaining,omitempty"`
}

// Decision is the outcome of the orientation check made at check-in.
type Decision struct {
	NeedsOrientation bool
	TrainingExpired  bool
	Warning          string
	Snapshot         Snapshot
}

// Calculator applies the configured per-type requirements.
type Calculator struct {
	policy config.Policy
	clock  clock.Clock
}

func NewCalculator(policy config.Policy, clk clock.Clock) *Calculator {
	if clk == nil {
		clk = clock.System
	}
	return &Calculator{policy: policy, clock: clk}
}

// Today is the current civil date in the configured time zone.
func (c *Calculator) Today() time.Time {
	return c.policy.Today(c.clock.Now())
}

// ExpirationFor returns lastTraining plus the configured months for t, or nil
// when that type never expires.
func (c *Calculator) ExpirationFor(t model.VisitorType, lastTraining time.Time) *time.Time {
	months := c.policy.Requirements(t).ExpirationMonths
	if months <= 0 {
		return nil
	}
	exp := model.DateOf(lastTraining, time.UTC).AddDate(0, months, 0)
	return &exp
}

func hasContractorRecord(v *model.Visitor) bool {
	return v != nil && (v.ContractorOrientationCompleted || v.TrainingType == model.TrainingContractor)
}

func (c *Calculator) expiration(v *model.Visitor) *time.Time {
	if v.TrainingExpirationDate != nil {
		exp := *v.TrainingExpirationDate
		return &exp
	}
	if v.LastTrainingDate != nil {
		return c.ExpirationFor(model.VisitorContractor, *v.LastTrainingDate)
	}
	return nil
}

// Snapshot derives the compliance status of v as of today.
func (c *Calculator) Snapshot(v *model.Visitor) Snapshot {
	if v == nil {
		return Snapshot{Status: StatusNoRecord, TrainingType: model.TrainingNone}
	}
	snap := Snapshot{TrainingType: v.TrainingType, LastTrainingDate: v.LastTrainingDate}
	if snap.TrainingType == "" {
		snap.TrainingType = model.TrainingNone
	}

	switch {
	case hasContractorRecord(v):
		snap.Status = StatusCurrent
		exp := c.expiration(v)
		if exp == nil {
			return snap
		}
		snap.ExpirationDate = exp
		days := int(exp.Sub(c.Today()) / (24 * time.Hour))
		snap.DaysRemaining = &days
		switch {
		case days < 0:
			snap.Status = StatusExpired
		case days <= c.policy.ExpiringSoonDays:
			snap.Status = StatusExpiringSoon
		}
	case v.GeneralOrientationCompleted || v.TrainingType == model.TrainingGeneral:
		snap.Status = StatusCurrent
	default:
		snap.Status = StatusNoRecord
	}
	return snap
}

// NeedsOrientation decides whether v must complete orientation before
// checking in as requested. v is nil for a first-time visitor.
func (c *Calculator) NeedsOrientation(v *model.Visitor, requested model.VisitorType) Decision {
	snap := c.Snapshot(v)
	d := Decision{Snapshot: snap}
	if requested != model.VisitorContractor || !c.policy.Requirements(requested).OrientationRequired {
		return d
	}
	if !hasContractorRecord(v) {
		d.NeedsOrientation = true
		return d
	}
	switch snap.Status {
	case StatusExpired:
		d.NeedsOrientation = true
		d.TrainingExpired = true
	case StatusExpiringSoon:
		d.Warning = expiryWarning(*snap.DaysRemaining, *snap.ExpirationDate)
	}
	return d
}

func expiryWarning(days int, exp time.Time) string {
	switch days {
	case 0:
		return fmt.Sprintf("Your contractor training expires today (%s). Please renew your orientation.", model.FormatDate(exp))
	case 1:
		return fmt.Sprintf("Your contractor training expires tomorrow (%s). Please renew your orientation soon.", model.FormatDate(exp))
	}
	return fmt.Sprintf("Your contractor training expires in %d days (%s). Please renew your orientation soon.", days, model.FormatDate(exp))
}

// MarkOrientationCompleted records a completed orientation of type t as of today.
// A contractor completion renews the certification; a general completion never
// overwrites an existing training classification.
func (c *Calculator) MarkOrientationCompleted(v *model.Visitor, t model.VisitorType) {
	switch t {
	case model.VisitorContractor:
		v.ContractorOrientationCompleted = true
		v.TrainingType = model.TrainingContractor
		c.SetTrainingDate(v, c.Today())
	default:
		v.GeneralOrientationCompleted = true
		if v.TrainingType == "" || v.TrainingType == model.TrainingNone {
			v.TrainingType = model.TrainingGeneral
		}
	}
}

// SetTrainingDate stores a contractor training date and recomputes the expiration.
// It is the single place expiration is computed, whether the date comes from a
// kiosk completion, an admin edit or a bulk import.
func (c *Calculator) SetTrainingDate(v *model.Visitor, date time.Time) {
	d := model.DateOf(date, time.UTC)
	v.LastTrainingDate = &d
	v.TrainingExpirationDate = c.ExpirationFor(model.VisitorContractor, d)
}
