// Package retention deletes visitors who have not visited within the
// configured horizon. It runs at most once per calendar day.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"visitorlog/internal/audit"
	"visitorlog/internal/clock"
	"visitorlog/internal/config"
	"visitorlog/internal/model"
)

// Store selects and deletes stale visitors. PurgeVisitors must remove the
// presence records before the visitors, atomically, and skip any candidate
// with a check-in at or after cutoff.
type Store interface {
	StaleVisitors(ctx context.Context, cutoff time.Time) ([]model.Visitor, error)
	PurgeVisitors(ctx context.Context, ids []string, cutoff time.Time) (visits int, deleted []string, err error)
}

// Metrics receives the number of purged visitors.
type Metrics interface {
	ObservePurged(n int)
}

// Report describes one purge invocation.
type Report struct {
	Day             string    `json:"day"`
	Skipped         bool      `json:"skipped"`
	Cutoff          time.Time `json:"cutoff,omitempty"`
	DeletedCount    int       `json:"deleted_count"`
	DeletedVisits   int       `json:"deleted_visits"`
	DeletedVisitors []string  `json:"deleted_visitors,omitempty"`
}

// Purger applies the retention horizon.
type Purger struct {
	store   Store
	marker  Marker
	months  int
	loc     *time.Location
	clock   clock.Clock
	audit   audit.Recorder
	metrics Metrics
	logger  *slog.Logger
}

func NewPurger(store Store, marker Marker, policy config.Policy, clk clock.Clock, rec audit.Recorder, m Metrics, logger *slog.Logger) *Purger {
	if clk == nil {
		clk = clock.System
	}
	if rec == nil {
		rec = audit.Discard{}
	}
	if m == nil {
		m = nopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	loc := policy.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Purger{
		store:   store,
		marker:  marker,
		months:  policy.RetentionMonths,
		loc:     loc,
		clock:   clk,
		audit:   rec,
		metrics: m,
		logger:  logger,
	}
}

// Run purges once for today. A second call on the same day is a no-op and
// reports Skipped. On failure nothing is deleted and the day stays unclaimed.
func (p *Purger) Run(ctx context.Context) (Report, error) {
	today := model.DateOf(p.clock.Now(), p.loc)
	day := model.FormatDate(today)
	rep := Report{Day: day}

	claimed, err := p.marker.Claim(ctx, day)
	if err != nil {
		return rep, err
	}
	if !claimed {
		rep.Skipped = true
		return rep, nil
	}

	if err := p.purge(ctx, today, &rep); err != nil {
		if rerr := p.marker.Release(ctx, day); rerr != nil {
			p.logger.Error("release purge marker failed", "day", day, "error", rerr)
		}
		p.audit.Record(ctx, audit.Event{Action: audit.ActionPurge, Outcome: audit.OutcomeFailure, Detail: "purge failed"})
		return Report{Day: day}, err
	}
	if err := p.marker.Commit(ctx, day); err != nil {
		p.logger.Error("commit purge marker failed", "day", day, "error", err)
	}
	return rep, nil
}

func (p *Purger) purge(ctx context.Context, today time.Time, rep *Report) error {
	// The cutoff is midnight in the configured zone, months before today.
	cutoffDate := today.AddDate(0, -p.months, 0)
	rep.Cutoff = time.Date(cutoffDate.Year(), cutoffDate.Month(), cutoffDate.Day(), 0, 0, 0, 0, p.loc)

	stale, err := p.store.StaleVisitors(ctx, rep.Cutoff)
	if err != nil {
		return fmt.Errorf("select stale visitors: %w", err)
	}
	if len(stale) == 0 {
		p.logger.Info("retention purge found nothing to delete", "cutoff", rep.Cutoff)
		return nil
	}

	ids := make([]string, 0, len(stale))
	names := make(map[string]string, len(stale))
	for _, v := range stale {
		ids = append(ids, v.ID)
		names[v.ID] = v.Name
	}
	visits, deleted, err := p.store.PurgeVisitors(ctx, ids, rep.Cutoff)
	if err != nil {
		return fmt.Errorf("purge visitors: %w", err)
	}
	if skipped := len(ids) - len(deleted); skipped > 0 {
		p.logger.Info("retention purge kept visitors who checked in meanwhile", "kept", skipped)
	}
	labels := make([]string, 0, len(deleted))
	for _, id := range deleted {
		labels = append(labels, fmt.Sprintf("%s (%s)", names[id], id))
	}
	visitors := len(deleted)
	rep.DeletedCount = visitors
	rep.DeletedVisits = visits
	rep.DeletedVisitors = labels

	p.metrics.ObservePurged(visitors)
	p.audit.Record(ctx, audit.Event{
		Action:  audit.ActionPurge,
		Outcome: audit.OutcomeSuccess,
		Detail:  fmt.Sprintf("deleted %d visitors and %d visits: %s", visitors, visits, strings.Join(labels, ", ")),
	})
	p.logger.Info("retention purge finished", "cutoff", rep.Cutoff, "visitors", visitors, "visits", visits,
		"deleted", labels)
	return nil
}

// RunOpportunistically runs the purge for unattended callers: failures are
// logged, never returned.
func (p *Purger) RunOpportunistically(ctx context.Context) Report {
	rep, err := p.Run(ctx)
	if err != nil {
		p.logger.Error("retention purge failed", "day", rep.Day, "error", err)
	}
	return rep
}

type nopMetrics struct{}

func (nopMetrics) ObservePurged(int) {}
