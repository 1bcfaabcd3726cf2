//go:build integration

package retention

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"visitorlog/internal/clock"
	"visitorlog/internal/config"
	"visitorlog/internal/model"
	"visitorlog/internal/store"
	"visitorlog/internal/testutil/containers"
)

type RedisMarkerSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	ctx   context.Context
}

func TestRedisMarkerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisMarkerSuite))
}

func (s *RedisMarkerSuite) SetupSuite() {
	s.ctx = context.Background()
	s.redis = containers.GetManager().GetRedis(s.T())
}

func (s *RedisMarkerSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(s.ctx))
}

func (s *RedisMarkerSuite) TestClaimCommitRelease() {
	m := NewRedisMarker(s.redis.Client, "")

	ok, err := m.Claim(s.ctx, "2025-06-15")
	s.Require().NoError(err)
	s.True(ok)

	ok, err = NewRedisMarker(s.redis.Client, "").Claim(s.ctx, "2025-06-15")
	s.Require().NoError(err)
	s.False(ok, "a second instance cannot claim the same day")

	s.Require().NoError(m.Commit(s.ctx, "2025-06-15"))
	val, err := s.redis.Client.Get(s.ctx, "visitorlog:purge:2025-06-15").Result()
	s.Require().NoError(err)
	s.Equal("done", val)
	ttl, err := s.redis.Client.TTL(s.ctx, "visitorlog:purge:2025-06-15").Result()
	s.Require().NoError(err)
	s.Greater(ttl, 24*time.Hour)

	ok, err = m.Claim(s.ctx, "2025-06-16")
	s.Require().NoError(err)
	s.True(ok)
	s.Require().NoError(m.Release(s.ctx, "2025-06-16"))
	ok, err = m.Claim(s.ctx, "2025-06-16")
	s.Require().NoError(err)
	s.True(ok, "a released day may be claimed again")
}

func (s *RedisMarkerSuite) TestInstancesShareOnePurgePerDay() {
	mem := store.NewMemory()
	v := &model.Visitor{Name: "Long Gone", TrainingType: model.TrainingNone}
	s.Require().NoError(mem.CreateVisitor(s.ctx, v))

	clk := clock.NewFixed(time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC))
	first := NewPurger(mem, NewRedisMarker(s.redis.Client, ""), config.DefaultPolicy(), clk, nil, nil, nil)
	second := NewPurger(mem, NewRedisMarker(s.redis.Client, ""), config.DefaultPolicy(), clk, nil, nil, nil)

	rep, err := first.Run(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, rep.DeletedCount)

	rep, err = second.Run(s.ctx)
	s.Require().NoError(err)
	s.True(rep.Skipped)
}
