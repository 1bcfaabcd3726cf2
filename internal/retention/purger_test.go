package retention

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"visitorlog/internal/apperr"
	"visitorlog/internal/clock"
	"visitorlog/internal/config"
	"visitorlog/internal/model"
	"visitorlog/internal/store"
)

type PurgerSuite struct {
	suite.Suite
	ctx    context.Context
	store  *store.Memory
	clock  *clock.Fixed
	marker *FileMarker
	purger *Purger
}

func TestPurgerSuite(t *testing.T) {
	suite.Run(t, new(PurgerSuite))
}

func (s *PurgerSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = store.NewMemory()
	s.clock = clock.NewFixed(time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC))
	s.marker = NewFileMarker(filepath.Join(s.T().TempDir(), "purge", "last_purge"))
	s.purger = NewPurger(s.store, s.marker, config.DefaultPolicy(), s.clock, nil, nil, nil)
}

func (s *PurgerSuite) visitWith(name string, checkIns ...time.Time) string {
	v := &model.Visitor{Name: name, TrainingType: model.TrainingNone}
	s.Require().NoError(s.store.CreateVisitor(s.ctx, v))
	for _, at := range checkIns {
		rec := &model.PresenceRecord{VisitorID: v.ID, CheckedInAt: at}
		s.Require().NoError(s.store.OpenPresence(s.ctx, rec))
		_, err := s.store.ClosePresence(s.ctx, v.ID, at.Add(time.Hour))
		s.Require().NoError(err)
	}
	return v.ID
}

func (s *PurgerSuite) TestDeletesStaleVisitorsAndTheirVisits() {
	stale := s.visitWith("Old Timer",
		time.Date(2022, 1, 10, 9, 0, 0, 0, time.UTC),
		time.Date(2023, 6, 1, 9, 0, 0, 0, time.UTC))
	fresh := s.visitWith("Regular",
		time.Date(2021, 1, 1, 9, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	onCutoff := s.visitWith("Borderline", time.Date(2023, 6, 15, 0, 0, 0, 0, time.UTC))

	rep, err := s.purger.Run(s.ctx)
	s.Require().NoError(err)

	s.False(rep.Skipped)
	s.Equal("2025-06-15", rep.Day)
	s.Equal(time.Date(2023, 6, 15, 0, 0, 0, 0, time.UTC), rep.Cutoff)
	s.Equal(1, rep.DeletedCount)
	s.Equal(2, rep.DeletedVisits)

	_, err = s.store.GetVisitor(s.ctx, stale)
	s.ErrorIs(err, apperr.ErrNotFound)
	s.Zero(s.store.PresenceCount(stale), "no orphaned presence records")

	_, err = s.store.GetVisitor(s.ctx, fresh)
	s.NoError(err)
	s.Equal(2, s.store.PresenceCount(fresh))
	_, err = s.store.GetVisitor(s.ctx, onCutoff)
	s.NoError(err)
}

func (s *PurgerSuite) TestVisitorsWithoutVisitsArePurged() {
	never := s.visitWith("Never Came")

	rep, err := s.purger.Run(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, rep.DeletedCount)
	_, err = s.store.GetVisitor(s.ctx, never)
	s.ErrorIs(err, apperr.ErrNotFound)
}

func (s *PurgerSuite) TestRunsOncePerDay() {
	s.visitWith("First Stale", time.Date(2020, 1, 1, 9, 0, 0, 0, time.UTC))
	rep, err := s.purger.Run(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, rep.DeletedCount)

	s.visitWith("Second Stale", time.Date(2020, 1, 1, 9, 0, 0, 0, time.UTC))
	s.clock.Advance(6 * time.Hour)
	rep, err = s.purger.Run(s.ctx)
	s.Require().NoError(err)
	s.True(rep.Skipped)
	s.Zero(rep.DeletedCount)

	s.clock.Advance(24 * time.Hour)
	rep, err = s.purger.Run(s.ctx)
	s.Require().NoError(err)
	s.False(rep.Skipped)
	s.Equal(1, rep.DeletedCount)
}

type failingStore struct {
	*store.Memory
	err error
}

func (f failingStore) PurgeVisitors(context.Context, []string, time.Time) (int, []string, error) {
	return 0, nil, f.err
}

// lateArrival opens a visit for one candidate between selection and delete.
type lateArrival struct {
	*store.Memory
	visitorID string
	at        time.Time
}

func (l lateArrival) StaleVisitors(ctx context.Context, cutoff time.Time) ([]model.Visitor, error) {
	stale, err := l.Memory.StaleVisitors(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	return stale, l.Memory.OpenPresence(ctx, &model.PresenceRecord{VisitorID: l.visitorID, CheckedInAt: l.at})
}

func (s *PurgerSuite) TestVisitorWhoChecksInDuringPurgeIsKept() {
	returning := s.visitWith("Returning", time.Date(2020, 1, 1, 9, 0, 0, 0, time.UTC))
	gone := s.visitWith("Gone", time.Date(2020, 1, 1, 9, 0, 0, 0, time.UTC))
	racing := NewPurger(lateArrival{Memory: s.store, visitorID: returning, at: s.clock.Now()}, s.marker,
		config.DefaultPolicy(), s.clock, nil, nil, nil)

	rep, err := racing.Run(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, rep.DeletedCount)
	s.Equal(1, rep.DeletedVisits)
	s.Equal([]string{"Gone (" + gone + ")"}, rep.DeletedVisitors)

	_, err = s.store.GetVisitor(s.ctx, returning)
	s.Require().NoError(err)
	present, err := s.store.HasOpenPresence(s.ctx, returning)
	s.Require().NoError(err)
	s.True(present)
}

func (s *PurgerSuite) TestFailureLeavesTheDayUnclaimed() {
	id := s.visitWith("Stale", time.Date(2020, 1, 1, 9, 0, 0, 0, time.UTC))
	boom := errors.New("disk on fire")
	broken := NewPurger(failingStore{Memory: s.store, err: boom}, s.marker, config.DefaultPolicy(), s.clock, nil, nil, nil)

	rep := broken.RunOpportunistically(s.ctx)
	s.Zero(rep.DeletedCount)
	_, err := s.store.GetVisitor(s.ctx, id)
	s.NoError(err)

	_, err = broken.Run(s.ctx)
	s.ErrorIs(err, boom, "a failed run does not mark the day as done")

	rep, err = s.purger.Run(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, rep.DeletedCount)
}

func TestFileMarker(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "last_purge")
	m := NewFileMarker(path)

	ok, err := m.Claim(ctx, "2025-06-15")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Claim(ctx, "2025-06-15")
	require.NoError(t, err)
	assert.False(t, ok, "a run in progress blocks a second claim")

	require.NoError(t, m.Commit(ctx, "2025-06-15"))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "2025-06-15\n", string(raw))

	ok, err = NewFileMarker(path).Claim(ctx, "2025-06-15")
	require.NoError(t, err)
	assert.False(t, ok, "the committed day survives a restart")

	ok, err = m.Claim(ctx, "2025-06-16")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, m.Release(ctx, "2025-06-16"))

	ok, err = m.Claim(ctx, "2025-06-16")
	require.NoError(t, err)
	assert.True(t, ok, "a released day may be claimed again")
}
