// Package presence manages open and closed visits. At most one visit per
// visitor may be open; the store enforces this atomically, so two racing
// check-ins cannot both succeed.
package presence

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"visitorlog/internal/apperr"
	"visitorlog/internal/audit"
	"visitorlog/internal/clock"
	"visitorlog/internal/model"
)

// Store is the persistence the tracker needs.
type Store interface {
	GetVisitor(ctx context.Context, id string) (*model.Visitor, error)
	OpenPresence(ctx context.Context, rec *model.PresenceRecord) error
	ClosePresence(ctx context.Context, visitorID string, at time.Time) (model.PresenceRecord, error)
	HasOpenPresence(ctx context.Context, visitorID string) (bool, error)
	ListOpenPresence(ctx context.Context) ([]model.Visit, error)
	ListVisits(ctx context.Context, f model.VisitFilter) ([]model.Visit, error)
}

// Metrics receives check-in and check-out outcomes.
type Metrics interface {
	ObserveCheckIn(result string)
	ObserveCheckOut(result string)
	SetPresent(n int)
}

// Tracker opens and closes presence records.
type Tracker struct {
	store   Store
	audit   audit.Recorder
	metrics Metrics
	clock   clock.Clock
	loc     *time.Location
	logger  *slog.Logger
}

// NewTracker builds a tracker. Timestamps are taken in loc.
func NewTracker(store Store, rec audit.Recorder, m Metrics, clk clock.Clock, loc *time.Location, logger *slog.Logger) *Tracker {
	if rec == nil {
		rec = audit.Discard{}
	}
	if m == nil {
		m = nopMetrics{}
	}
	if clk == nil {
		clk = clock.System
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: store, audit: rec, metrics: m, clock: clk, loc: loc, logger: logger}
}

// CheckIn opens a visit. Fails with ErrDuplicatePresence while one is open.
func (t *Tracker) CheckIn(ctx context.Context, visitorID, deviceID string) (model.PresenceRecord, error) {
	rec, err := t.checkIn(ctx, visitorID, deviceID)
	evt := audit.Event{Action: audit.ActionCheckIn, VisitorID: visitorID, DeviceID: deviceID, Outcome: audit.OutcomeSuccess}
	if err != nil {
		evt.Outcome = audit.OutcomeFailure
		evt.Detail = apperr.PublicMessage(err)
		t.metrics.ObserveCheckIn(resultLabel(err))
	} else {
		t.metrics.ObserveCheckIn("ok")
	}
	t.audit.Record(ctx, evt)
	return rec, err
}

func (t *Tracker) checkIn(ctx context.Context, visitorID, deviceID string) (model.PresenceRecord, error) {
	if _, err := t.store.GetVisitor(ctx, visitorID); err != nil {
		return model.PresenceRecord{}, err
	}
	rec := model.PresenceRecord{
		VisitorID:   visitorID,
		DeviceID:    deviceID,
		CheckedInAt: t.clock.Now().In(t.loc),
	}
	if err := t.store.OpenPresence(ctx, &rec); err != nil {
		if !errors.Is(err, apperr.ErrDuplicatePresence) {
			t.logger.Error("open presence failed", "visitor_id", visitorID, "error", err)
		}
		return model.PresenceRecord{}, err
	}
	t.logger.Info("visitor checked in", "visitor_id", visitorID, "presence_id", rec.ID, "device_id", deviceID)
	return rec, nil
}

// CheckOut closes the most recent open visit. Fails with ErrNotPresent when none is open.
func (t *Tracker) CheckOut(ctx context.Context, visitorID string) (model.PresenceRecord, error) {
	rec, err := t.checkOut(ctx, visitorID)
	evt := audit.Event{Action: audit.ActionCheckOut, VisitorID: visitorID, Outcome: audit.OutcomeSuccess}
	if err != nil {
		evt.Outcome = audit.OutcomeFailure
		evt.Detail = apperr.PublicMessage(err)
		t.metrics.ObserveCheckOut(resultLabel(err))
	} else {
		evt.DeviceID = rec.DeviceID
		t.metrics.ObserveCheckOut("ok")
	}
	t.audit.Record(ctx, evt)
	return rec, err
}

func (t *Tracker) checkOut(ctx context.Context, visitorID string) (model.PresenceRecord, error) {
	if _, err := t.store.GetVisitor(ctx, visitorID); err != nil {
		return model.PresenceRecord{}, err
	}
	rec, err := t.store.ClosePresence(ctx, visitorID, t.clock.Now().In(t.loc))
	if err != nil {
		if !errors.Is(err, apperr.ErrNotPresent) {
			t.logger.Error("close presence failed", "visitor_id", visitorID, "error", err)
		}
		return model.PresenceRecord{}, err
	}
	t.logger.Info("visitor checked out", "visitor_id", visitorID, "presence_id", rec.ID,
		"minutes", rec.DurationMinutes(t.clock.Now()))
	return rec, nil
}

// IsPresent reports whether the visitor has an open visit.
func (t *Tracker) IsPresent(ctx context.Context, visitorID string) (bool, error) {
	return t.store.HasOpenPresence(ctx, visitorID)
}

// PresentVisitor is an open visit with its duration so far.
type PresentVisitor struct {
	model.Visit
	DurationMinutes int `json:"duration_minutes"`
}

// ListCurrentlyPresent returns every open visit, newest check-in first.
func (t *Tracker) ListCurrentlyPresent(ctx context.Context) ([]PresentVisitor, error) {
	visits, err := t.store.ListOpenPresence(ctx)
	if err != nil {
		return nil, err
	}
	t.metrics.SetPresent(len(visits))
	return t.withDurations(visits), nil
}

// History returns past and current visits for reporting.
func (t *Tracker) History(ctx context.Context, f model.VisitFilter) ([]PresentVisitor, error) {
	visits, err := t.store.ListVisits(ctx, f)
	if err != nil {
		return nil, err
	}
	return t.withDurations(visits), nil
}

func (t *Tracker) withDurations(visits []model.Visit) []PresentVisitor {
	now := t.clock.Now()
	out := make([]PresentVisitor, 0, len(visits))
	for _, v := range visits {
		out = append(out, PresentVisitor{Visit: v, DurationMinutes: v.DurationMinutes(now)})
	}
	return out
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, apperr.ErrDuplicatePresence):
		return "already_present"
	case errors.Is(err, apperr.ErrNotPresent):
		return "not_present"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	}
	return "error"
}

type nopMetrics struct{}

func (nopMetrics) ObserveCheckIn(string)  {}
func (nopMetrics) ObserveCheckOut(string) {}
func (nopMetrics) SetPresent(int)         {}
