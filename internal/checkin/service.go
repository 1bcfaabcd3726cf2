// Package checkin runs the kiosk check-in flow: resolve the identity, decide
// whether orientation is required, then open a presence record.
package checkin

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"visitorlog/internal/apperr"
	"visitorlog/internal/audit"
	"visitorlog/internal/compliance"
	"visitorlog/internal/identity"
	"visitorlog/internal/model"
	"visitorlog/internal/presence"
)

// VisitorStore creates and updates visitor records.
type VisitorStore interface {
	GetVisitor(ctx context.Context, id string) (*model.Visitor, error)
	CreateVisitor(ctx context.Context, v *model.Visitor) error
	UpdateVisitor(ctx context.Context, v *model.Visitor) error
}

// Metrics receives orientation decisions.
type Metrics interface {
	ObserveOrientationRequired(reason string)
}

// Request is the kiosk check-in payload.
type Request struct {
	VisitorID    string `json:"visitor_id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	Company      string `json:"company"`
	VisitorType  string `json:"visitor_type"`
	BadgeNumber  string `json:"badge_number"`
	StaffContact string `json:"staff_contact"`
	DeviceID     string `json:"device_id"`
}

func (r Request) contact() model.Contact {
	return model.Contact{
		Email:        r.Email,
		Phone:        r.Phone,
		Company:      r.Company,
		BadgeNumber:  r.BadgeNumber,
		StaffContact: r.StaffContact,
	}
}

// Result is returned by CheckIn. When NeedsOrientation is set the visitor
// has not been checked in yet.
type Result struct {
	VisitorID        string `json:"visitor_id"`
	NeedsOrientation bool   `json:"needs_orientation"`
	TrainingExpired  bool   `json:"training_expired,omitempty"`
	Warning          string `json:"warning,omitempty"`
	CheckedIn        bool   `json:"checked_in"`
	PresenceID       string `json:"presence_id,omitempty"`
}

// OrientationRequest completes orientation and checks in in one step.
type OrientationRequest struct {
	Request
	OrientationCompleted bool `json:"orientation_completed"`
}

// Service orchestrates identity, compliance and presence.
type Service struct {
	resolver   *identity.Resolver
	calculator *compliance.Calculator
	tracker    *presence.Tracker
	visitors   VisitorStore
	audit      audit.Recorder
	metrics    Metrics
	logger     *slog.Logger
}

func NewService(resolver *identity.Resolver, calc *compliance.Calculator, tracker *presence.Tracker,
	visitors VisitorStore, rec audit.Recorder, m Metrics, logger *slog.Logger) *Service {
	if rec == nil {
		rec = audit.Discard{}
	}
	if m == nil {
		m = nopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		resolver:   resolver,
		calculator: calc,
		tracker:    tracker,
		visitors:   visitors,
		audit:      rec,
		metrics:    m,
		logger:     logger,
	}
}

func validate(req Request) (model.VisitorType, error) {
	if strings.TrimSpace(req.Name) == "" && req.VisitorID == "" {
		return "", apperr.Validation("name is required")
	}
	vt, err := model.ParseVisitorType(req.VisitorType)
	if err != nil {
		return "", apperr.Validation("visitor_type must be general or contractor")
	}
	return vt, nil
}

// CheckIn records or refreshes the visitor and, unless orientation is
// required first, opens a presence record.
func (s *Service) CheckIn(ctx context.Context, req Request) (Result, error) {
	vt, err := validate(req)
	if err != nil {
		return Result{}, err
	}
	v, err := s.lookup(ctx, req)
	if err != nil {
		return Result{}, err
	}

	decision := s.calculator.NeedsOrientation(v, vt)
	if v, err = s.save(ctx, v, req, vt); err != nil {
		return Result{}, err
	}
	res := Result{
		VisitorID:        v.ID,
		NeedsOrientation: decision.NeedsOrientation,
		TrainingExpired:  decision.TrainingExpired,
		Warning:          decision.Warning,
	}
	if decision.NeedsOrientation {
		reason := "no_record"
		if decision.TrainingExpired {
			reason = "expired"
		}
		s.metrics.ObserveOrientationRequired(reason)
		s.logger.Info("orientation required before check-in", "visitor_id", v.ID, "reason", reason)
		return res, nil
	}

	rec, err := s.tracker.CheckIn(ctx, v.ID, req.DeviceID)
	if err != nil {
		return Result{}, err
	}
	res.CheckedIn = true
	res.PresenceID = rec.ID
	return res, nil
}

// CompleteOrientationAndCheckIn records a completed orientation of the
// requested type and checks the visitor in.
func (s *Service) CompleteOrientationAndCheckIn(ctx context.Context, req OrientationRequest) (Result, error) {
	vt, err := validate(req.Request)
	if err != nil {
		return Result{}, err
	}
	if !req.OrientationCompleted {
		return Result{}, apperr.Validation("orientation must be completed before check-in")
	}
	v, err := s.lookup(ctx, req.Request)
	if err != nil {
		return Result{}, err
	}
	if v == nil {
		v = &model.Visitor{Name: strings.TrimSpace(req.Name), TrainingType: model.TrainingNone}
	}
	s.calculator.MarkOrientationCompleted(v, vt)
	if v, err = s.save(ctx, v, req.Request, vt); err != nil {
		return Result{}, err
	}
	s.audit.Record(ctx, audit.Event{
		Action:    audit.ActionOrientation,
		VisitorID: v.ID,
		DeviceID:  req.DeviceID,
		Outcome:   audit.OutcomeSuccess,
		Detail:    string(vt),
	})

	rec, err := s.tracker.CheckIn(ctx, v.ID, req.DeviceID)
	if err != nil {
		return Result{VisitorID: v.ID}, err
	}
	return Result{VisitorID: v.ID, CheckedIn: true, PresenceID: rec.ID}, nil
}

// CheckOut closes the visitor's open visit.
func (s *Service) CheckOut(ctx context.Context, visitorID string) (model.PresenceRecord, error) {
	if strings.TrimSpace(visitorID) == "" {
		return model.PresenceRecord{}, apperr.Validation("visitor_id is required")
	}
	return s.tracker.CheckOut(ctx, visitorID)
}

// lookup prefers an explicit visitor id (chosen from search results) over the typed name.
func (s *Service) lookup(ctx context.Context, req Request) (*model.Visitor, error) {
	if req.VisitorID != "" {
		return s.visitors.GetVisitor(ctx, req.VisitorID)
	}
	return s.resolver.FindByName(ctx, req.Name)
}

// save creates v when it has no id yet, otherwise refreshes its contact fields.
func (s *Service) save(ctx context.Context, v *model.Visitor, req Request, vt model.VisitorType) (*model.Visitor, error) {
	if v == nil {
		v = &model.Visitor{Name: strings.TrimSpace(req.Name), TrainingType: model.TrainingNone}
	}
	v.ApplyContact(req.contact())
	v.Type = vt
	if v.ID == "" {
		if err := s.visitors.CreateVisitor(ctx, v); err != nil {
			s.logger.Error("create visitor failed", "error", err)
			return nil, err
		}
		return v, nil
	}
	if err := s.visitors.UpdateVisitor(ctx, v); err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			s.logger.Error("update visitor failed", "visitor_id", v.ID, "error", err)
		}
		return nil, err
	}
	return v, nil
}

type nopMetrics struct{}

func (nopMetrics) ObserveOrientationRequired(string) {}
