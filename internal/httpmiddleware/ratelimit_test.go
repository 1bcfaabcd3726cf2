package httpmiddleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitorlog/internal/auth"
)

func TestTokenBucket(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewTokenBucket(2, 60)
	l.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "a")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := l.Allow(ctx, "a")
	assert.False(t, ok, "bucket exhausted")

	ok, _ = l.Allow(ctx, "b")
	assert.True(t, ok, "keys are independent")

	now = now.Add(2 * time.Second)
	ok, _ = l.Allow(ctx, "a")
	assert.True(t, ok, "tokens refill at 60/min")
}

type stubLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (s *stubLimiter) Allow(_ context.Context, key string) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allow, s.err
}

func serve(l Limiter, claims *auth.Claims) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", func(c *gin.Context) {
		if claims != nil {
			c.Set(auth.ClaimsKey, *claims)
		}
		c.Next()
	}, Middleware(l, slog.New(slog.NewTextHandler(io.Discard, nil))), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:4242"
	r.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware(t *testing.T) {
	t.Run("keys anonymous callers by ip", func(t *testing.T) {
		l := &stubLimiter{allow: true}
		rec := serve(l, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, []string{"ip:10.0.0.7"}, l.keys)
	})

	t.Run("keys authenticated callers by subject", func(t *testing.T) {
		l := &stubLimiter{allow: true}
		claims := &auth.Claims{Role: auth.RoleKiosk}
		claims.Subject = "kiosk-1"
		serve(l, claims)
		assert.Equal(t, []string{"sub:kiosk-1"}, l.keys)
	})

	t.Run("rejects over the limit", func(t *testing.T) {
		rec := serve(&stubLimiter{allow: false}, nil)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	})

	t.Run("fails open when the limiter errors", func(t *testing.T) {
		rec := serve(&stubLimiter{err: errors.New("redis down")}, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}
