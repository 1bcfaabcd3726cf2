//go:build integration

package store_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"visitorlog/internal/apperr"
	"visitorlog/internal/audit"
	"visitorlog/internal/model"
	"visitorlog/internal/store"
	"visitorlog/internal/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.Postgres
	ctx      context.Context
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.ctx = context.Background()
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
	s.Require().NoError(s.store.InitSchema(s.ctx))
	s.Require().NoError(s.store.InitSchema(s.ctx), "schema setup is idempotent")
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(s.ctx, "presence_records", "visitors", "devices", "refresh_tokens", "audit_log")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) visitor(name string) *model.Visitor {
	v := &model.Visitor{Name: name, Type: model.VisitorGeneral, TrainingType: model.TrainingNone}
	s.Require().NoError(s.store.CreateVisitor(s.ctx, v))
	return v
}

func (s *PostgresStoreSuite) TestVisitorRoundTrip() {
	trained := model.Date(2024, 2, 29)
	expires := model.Date(2025, 2, 28)
	v := &model.Visitor{
		Name: "Lena Marsh", Email: "lena@marsh.dev", Company: "Marsh & Co",
		Type: model.VisitorContractor, TrainingType: model.TrainingContractor,
		LastTrainingDate: &trained, TrainingExpirationDate: &expires,
		ContractorOrientationCompleted: true,
	}
	s.Require().NoError(s.store.CreateVisitor(s.ctx, v))

	got, err := s.store.GetVisitor(s.ctx, v.ID)
	s.Require().NoError(err)
	s.Equal("Marsh & Co", got.Company)
	s.Equal(trained, *got.LastTrainingDate, "civil dates come back as midnight UTC")
	s.Equal(expires, *got.TrainingExpirationDate)
	s.True(got.ContractorOrientationCompleted)

	byName, err := s.store.FindVisitorByName(s.ctx, "LENA MARSH")
	s.Require().NoError(err)
	s.Require().NotNil(byName)
	s.Equal(v.ID, byName.ID)

	byEmail, err := s.store.FindVisitorByEmail(s.ctx, "Lena@marsh.dev")
	s.Require().NoError(err)
	s.Nil(byEmail, "email matching is exact")

	got.Phone = "555-0199"
	got.LastTrainingDate = nil
	s.Require().NoError(s.store.UpdateVisitor(s.ctx, got))
	again, err := s.store.GetVisitor(s.ctx, v.ID)
	s.Require().NoError(err)
	s.Equal("555-0199", again.Phone)
	s.Nil(again.LastTrainingDate)

	_, err = s.store.GetVisitor(s.ctx, "missing")
	s.ErrorIs(err, apperr.ErrNotFound)
	s.ErrorIs(s.store.UpdateVisitor(s.ctx, &model.Visitor{ID: "missing"}), apperr.ErrNotFound)
}

func (s *PostgresStoreSuite) TestOpenPresenceIndexRejectsConcurrentCheckIns() {
	v := s.visitor("Mo Nash")

	const goroutines = 20
	var (
		wg     sync.WaitGroup
		ok     atomic.Int32
		dup    atomic.Int32
		others atomic.Int32
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.store.OpenPresence(s.ctx, &model.PresenceRecord{VisitorID: v.ID, CheckedInAt: time.Now()})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, apperr.ErrDuplicatePresence):
				dup.Add(1)
			default:
				others.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), ok.Load())
	s.Equal(int32(goroutines-1), dup.Load())
	s.Zero(others.Load())

	rec, err := s.store.ClosePresence(s.ctx, v.ID, time.Now())
	s.Require().NoError(err)
	s.NotNil(rec.CheckedOutAt)

	_, err = s.store.ClosePresence(s.ctx, v.ID, time.Now())
	s.ErrorIs(err, apperr.ErrNotPresent)
	s.NoError(s.store.OpenPresence(s.ctx, &model.PresenceRecord{VisitorID: v.ID, CheckedInAt: time.Now()}),
		"a closed visit frees the slot")
}

func (s *PostgresStoreSuite) TestListingsAndSearch() {
	a := s.visitor("Odile Park")
	b := s.visitor("Piet Quist")
	base := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

	s.Require().NoError(s.store.OpenPresence(s.ctx, &model.PresenceRecord{VisitorID: a.ID, DeviceID: "lobby", CheckedInAt: base}))
	_, err := s.store.ClosePresence(s.ctx, a.ID, base.Add(2*time.Hour))
	s.Require().NoError(err)
	s.Require().NoError(s.store.OpenPresence(s.ctx, &model.PresenceRecord{VisitorID: b.ID, CheckedInAt: base.Add(time.Hour)}))

	open, err := s.store.ListOpenPresence(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(open, 1)
	s.Equal("Piet Quist", open[0].Visitor.Name)

	visits, err := s.store.ListVisits(s.ctx, model.VisitFilter{From: base, To: base.Add(24 * time.Hour)})
	s.Require().NoError(err)
	s.Require().Len(visits, 2)
	s.Equal(b.ID, visits[0].VisitorID, "newest first")
	s.Equal("lobby", visits[1].DeviceID)

	limited, err := s.store.ListVisits(s.ctx, model.VisitFilter{VisitorID: a.ID, Limit: 5})
	s.Require().NoError(err)
	s.Len(limited, 1)

	hits, err := s.store.SearchVisitors(s.ctx, "park")
	s.Require().NoError(err)
	s.Require().Len(hits, 1)
	s.Require().NotNil(hits[0].LastVisitAt)
	s.True(base.Equal(*hits[0].LastVisitAt))

	none, err := s.store.SearchVisitors(s.ctx, "100%")
	s.Require().NoError(err)
	s.Empty(none, "like wildcards in the query are literal")
}

func (s *PostgresStoreSuite) TestRetentionCascade() {
	cutoff := time.Date(2023, 6, 15, 0, 0, 0, 0, time.UTC)
	stale := s.visitor("Stale Visitor")
	fresh := s.visitor("Fresh Visitor")
	never := s.visitor("Never Visited")

	s.Require().NoError(s.store.OpenPresence(s.ctx, &model.PresenceRecord{VisitorID: stale.ID, CheckedInAt: cutoff.Add(-48 * time.Hour)}))
	_, err := s.store.ClosePresence(s.ctx, stale.ID, cutoff.Add(-47*time.Hour))
	s.Require().NoError(err)
	s.Require().NoError(s.store.OpenPresence(s.ctx, &model.PresenceRecord{VisitorID: fresh.ID, CheckedInAt: cutoff}))

	candidates, err := s.store.StaleVisitors(s.ctx, cutoff)
	s.Require().NoError(err)
	ids := make([]string, 0, len(candidates))
	for _, v := range candidates {
		ids = append(ids, v.ID)
	}
	s.ElementsMatch([]string{stale.ID, never.ID}, ids)

	// fresh is not a candidate but is passed anyway; the re-check keeps it.
	visits, deleted, err := s.store.PurgeVisitors(s.ctx, append(ids, fresh.ID), cutoff)
	s.Require().NoError(err)
	s.Equal(1, visits)
	s.ElementsMatch([]string{stale.ID, never.ID}, deleted)

	_, err = s.store.GetVisitor(s.ctx, stale.ID)
	s.ErrorIs(err, apperr.ErrNotFound)
	present, err := s.store.HasOpenPresence(s.ctx, fresh.ID)
	s.Require().NoError(err)
	s.True(present)
}

func (s *PostgresStoreSuite) TestTokensAndAudit() {
	s.Require().NoError(s.store.UpsertDevice(s.ctx, "lobby"))
	s.Require().NoError(s.store.UpsertDevice(s.ctx, "lobby"))

	s.Require().NoError(s.store.SaveRefreshToken(s.ctx, "lobby", "tok-1", time.Now().Add(time.Hour)))
	ok, err := s.store.ConsumeRefreshToken(s.ctx, "tok-1")
	s.Require().NoError(err)
	s.True(ok)
	ok, err = s.store.ConsumeRefreshToken(s.ctx, "tok-1")
	s.Require().NoError(err)
	s.False(ok)

	at := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	s.Require().NoError(s.store.AppendAudit(s.ctx, audit.Event{Timestamp: at, Action: audit.ActionCheckIn, Outcome: audit.OutcomeSuccess}))
	s.Require().NoError(s.store.AppendAudit(s.ctx, audit.Event{Timestamp: at.Add(time.Minute), Action: audit.ActionCheckOut, Outcome: audit.OutcomeSuccess}))
	events, err := s.store.ListAudit(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(audit.ActionCheckOut, events[0].Action)
}
