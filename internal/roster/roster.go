// Package roster serves the admin views of individual visitors and the
// contractor compliance report.
package roster

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"visitorlog/internal/apperr"
	"visitorlog/internal/compliance"
	"visitorlog/internal/model"
)

// Store reads and updates visitors.
type Store interface {
	GetVisitor(ctx context.Context, id string) (*model.Visitor, error)
	UpdateVisitor(ctx context.Context, v *model.Visitor) error
	HasOpenPresence(ctx context.Context, visitorID string) (bool, error)
	ListVisitorsByTraining(ctx context.Context, t model.TrainingType) ([]model.Visitor, error)
}

// Detail is a visitor with derived compliance and presence.
type Detail struct {
	Visitor    model.Visitor       `json:"visitor"`
	Compliance compliance.Snapshot `json:"compliance"`
	Present    bool                `json:"present"`
}

// Entry is one line of the compliance report.
type Entry struct {
	Visitor    model.Visitor       `json:"visitor"`
	Compliance compliance.Snapshot `json:"compliance"`
}

type Roster struct {
	store      Store
	calculator *compliance.Calculator
	logger     *slog.Logger
}

func New(store Store, calc *compliance.Calculator, logger *slog.Logger) *Roster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Roster{store: store, calculator: calc, logger: logger}
}

// Visitor returns one visitor with its compliance snapshot.
func (r *Roster) Visitor(ctx context.Context, id string) (Detail, error) {
	v, err := r.store.GetVisitor(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	present, err := r.store.HasOpenPresence(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	return Detail{Visitor: *v, Compliance: r.calculator.Snapshot(v), Present: present}, nil
}

// SetTrainingDate is the manual admin edit of a contractor's training date.
func (r *Roster) SetTrainingDate(ctx context.Context, id, date string) (Detail, error) {
	d, err := time.Parse("2006-01-02", strings.TrimSpace(date))
	if err != nil {
		return Detail{}, apperr.Validation("training_date must be YYYY-MM-DD")
	}
	v, err := r.store.GetVisitor(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	r.calculator.SetTrainingDate(v, d)
	v.ContractorOrientationCompleted = true
	v.TrainingType = model.TrainingContractor
	if err := r.store.UpdateVisitor(ctx, v); err != nil {
		return Detail{}, err
	}
	r.logger.Info("training date set", "visitor_id", id, "training_date", model.FormatDate(*v.LastTrainingDate))
	return r.Visitor(ctx, id)
}

// ComplianceReport lists visitors holding contractor training, optionally
// filtered by status. An empty status returns all of them.
func (r *Roster) ComplianceReport(ctx context.Context, status string) ([]Entry, error) {
	var want compliance.Status
	if status != "" {
		st, ok := compliance.ParseStatus(status)
		if !ok {
			return nil, apperr.Validation("unknown status %q", status)
		}
		want = st
	}
	visitors, err := r.store.ListVisitorsByTraining(ctx, model.TrainingContractor)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(visitors))
	for i := range visitors {
		snap := r.calculator.Snapshot(&visitors[i])
		if want != "" && snap.Status != want {
			continue
		}
		out = append(out, Entry{Visitor: visitors[i], Compliance: snap})
	}
	return out, nil
}
