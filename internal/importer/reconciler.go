// Package importer reconciles bulk training CSV uploads against existing
// visitors. A bad row never aborts the batch.
package importer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"visitorlog/internal/audit"
	"visitorlog/internal/compliance"
	"visitorlog/internal/config"
	"visitorlog/internal/identity"
	"visitorlog/internal/model"
)

// Store persists reconciled visitors.
type Store interface {
	CreateVisitor(ctx context.Context, v *model.Visitor) error
	UpdateVisitor(ctx context.Context, v *model.Visitor) error
}

// Metrics receives per-row outcomes.
type Metrics interface {
	ObserveImportRow(outcome string)
}

// RowError describes a row that was not imported.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

func (e RowError) String() string {
	if e.Row <= 0 {
		return e.Message
	}
	return fmt.Sprintf("row %d: %s", e.Row, e.Message)
}

// Summary is returned for every import, however many rows failed.
type Summary struct {
	ImportedCount  int      `json:"imported_count"`
	CreatedCount   int      `json:"created_count"`
	UpdatedCount   int      `json:"updated_count"`
	ErrorCount     int      `json:"error_count"`
	Errors         []string `json:"errors"`
	Warnings       []string `json:"warnings"`
	TotalProcessed int      `json:"total_processed"`
}

// Reconciler matches or creates contractor records from training rows.
type Reconciler struct {
	resolver   *identity.Resolver
	calculator *compliance.Calculator
	store      Store
	datePolicy config.ImportDatePolicy
	audit      audit.Recorder
	metrics    Metrics
	logger     *slog.Logger
}

func NewReconciler(resolver *identity.Resolver, calc *compliance.Calculator, store Store, policy config.Policy,
	rec audit.Recorder, m Metrics, logger *slog.Logger) *Reconciler {
	if rec == nil {
		rec = audit.Discard{}
	}
	if m == nil {
		m = nopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		resolver:   resolver,
		calculator: calc,
		store:      store,
		datePolicy: policy.ImportDates,
		audit:      rec,
		metrics:    m,
		logger:     logger,
	}
}

// Import processes raw CSV bytes row by row.
func (r *Reconciler) Import(ctx context.Context, raw []byte) Summary {
	parsed := ParseRows(raw)
	sum := Summary{Errors: []string{}, Warnings: append([]string{}, parsed.Warnings...)}
	for _, row := range parsed.Rows {
		sum.TotalProcessed++
		if row.Problem != "" {
			sum.fail(RowError{Row: row.Line, Message: row.Problem})
			r.metrics.ObserveImportRow("error")
			continue
		}
		created, warning, rowErr := r.importRow(ctx, row)
		if warning != "" {
			sum.Warnings = append(sum.Warnings, RowError{Row: row.Line, Message: warning}.String())
		}
		if rowErr != nil {
			sum.fail(*rowErr)
			r.metrics.ObserveImportRow("error")
			continue
		}
		sum.ImportedCount++
		if created {
			sum.CreatedCount++
			r.metrics.ObserveImportRow("created")
		} else {
			sum.UpdatedCount++
			r.metrics.ObserveImportRow("updated")
		}
	}

	outcome := audit.OutcomeSuccess
	if sum.ErrorCount > 0 {
		outcome = audit.OutcomeFailure
	}
	r.audit.Record(ctx, audit.Event{
		Action:  audit.ActionImport,
		Outcome: outcome,
		Detail:  fmt.Sprintf("imported=%d errors=%d total=%d", sum.ImportedCount, sum.ErrorCount, sum.TotalProcessed),
	})
	r.logger.Info("training import finished", "imported", sum.ImportedCount, "created", sum.CreatedCount,
		"updated", sum.UpdatedCount, "errors", sum.ErrorCount, "warnings", len(sum.Warnings))
	return sum
}

func (s *Summary) fail(e RowError) {
	s.ErrorCount++
	s.Errors = append(s.Errors, e.String())
}

// importRow never panics the batch: every failure comes back as a RowError.
func (r *Reconciler) importRow(ctx context.Context, row Row) (created bool, warning string, rowErr *RowError) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("import row panicked", "line", row.Line, "panic", p)
			created, rowErr = false, &RowError{Row: row.Line, Message: "unexpected error"}
		}
	}()
	fail := func(msg string) (bool, string, *RowError) {
		return false, warning, &RowError{Row: row.Line, Message: msg}
	}

	name := strings.TrimSpace(row.Name)
	if name == "" {
		return fail("missing name")
	}
	if strings.IndexFunc(name, unicode.IsControl) >= 0 {
		return fail("name contains control characters")
	}

	date, ok := ParseDate(row.TrainingDate)
	if !ok {
		what := "missing"
		if strings.TrimSpace(row.TrainingDate) != "" {
			what = fmt.Sprintf("unrecognized (%q)", row.TrainingDate)
		}
		if r.datePolicy == config.ImportDateReject {
			return fail("training date " + what)
		}
		date = r.calculator.Today()
		warning = fmt.Sprintf("training date %s, defaulted to %s", what, model.FormatDate(date))
	}

	v, err := r.resolver.Resolve(ctx, name, row.Email)
	if err != nil {
		r.logger.Error("import lookup failed", "line", row.Line, "error", err)
		return fail("could not look up visitor")
	}

	contact := model.Contact{Email: row.Email, Phone: row.Phone, Company: row.Company}
	if v != nil {
		v.ApplyContact(contact)
		v.Type = model.VisitorContractor
		r.calculator.MarkOrientationCompleted(v, model.VisitorContractor)
		r.calculator.SetTrainingDate(v, date)
		if err := r.store.UpdateVisitor(ctx, v); err != nil {
			r.logger.Error("import update failed", "line", row.Line, "visitor_id", v.ID, "error", err)
			return fail("could not update visitor")
		}
		return false, warning, nil
	}

	v = &model.Visitor{Name: name, Type: model.VisitorContractor, TrainingType: model.TrainingNone}
	v.ApplyContact(contact)
	r.calculator.MarkOrientationCompleted(v, model.VisitorContractor)
	r.calculator.SetTrainingDate(v, date)
	if err := r.store.CreateVisitor(ctx, v); err != nil {
		r.logger.Error("import create failed", "line", row.Line, "error", err)
		return fail("could not create visitor")
	}
	return true, warning, nil
}

type nopMetrics struct{}

func (nopMetrics) ObserveImportRow(string) {}
