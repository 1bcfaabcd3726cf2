package config

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitorlog/internal/model"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"HTTP_PORT", "STORE_BACKEND", "QUEUE_BACKEND", "ACCESS_TTL", "RATE_LIMIT_PER_MIN",
		"RATE_LIMIT_BACKEND", "PURGE_LOCK_BACKEND", "TIMEZONE", "IMPORT_DATE_POLICY",
		"CONTRACTOR_ORIENTATION_REQUIRED", "CONTRACTOR_EXPIRATION_MONTHS", "RETENTION_MONTHS",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8081", cfg.HTTPPort)
	assert.Equal(t, "postgres", cfg.StoreBackend)
	assert.Equal(t, "redis", cfg.QueueBackend)
	assert.Equal(t, 12*time.Hour, cfg.AccessTTL)
	assert.Equal(t, 120, cfg.RateLimitPerMin)
	assert.Equal(t, "memory", cfg.RateLimitBackend)
	assert.Equal(t, "file", cfg.PurgeLockBackend)
	assert.Equal(t, DefaultPolicy(), cfg.Policy)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("ACCESS_TTL", "15m")
	t.Setenv("RATE_LIMIT_PER_MIN", "30")
	t.Setenv("TIMEZONE", "America/New_York")
	t.Setenv("IMPORT_DATE_POLICY", "REJECT")
	t.Setenv("CONTRACTOR_ORIENTATION_REQUIRED", "false")
	t.Setenv("CONTRACTOR_EXPIRATION_MONTHS", "6")
	t.Setenv("RETENTION_MONTHS", "36")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Equal(t, 15*time.Minute, cfg.AccessTTL)
	assert.Equal(t, 30, cfg.RateLimitPerMin)
	assert.Equal(t, "America/New_York", cfg.Policy.Location.String())
	assert.Equal(t, ImportDateReject, cfg.Policy.ImportDates)
	assert.False(t, cfg.Policy.Contractor.OrientationRequired)
	assert.Equal(t, 6, cfg.Policy.Contractor.ExpirationMonths)
	assert.Equal(t, 36, cfg.Policy.RetentionMonths)
}

func TestLoadFallsBackOnMalformedNumbers(t *testing.T) {
	t.Setenv("ACCESS_TTL", "soon")
	t.Setenv("RATE_LIMIT_PER_MIN", "lots")
	t.Setenv("CONTRACTOR_ORIENTATION_REQUIRED", "maybe")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 12*time.Hour, cfg.AccessTTL)
	assert.Equal(t, 120, cfg.RateLimitPerMin)
	assert.True(t, cfg.Policy.Contractor.OrientationRequired)
}

func TestLoadRejectsInvalidPolicy(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{name: "unknown time zone", key: "TIMEZONE", value: "Mars/Olympus"},
		{name: "unknown import policy", key: "IMPORT_DATE_POLICY", value: "guess"},
		{name: "zero retention", key: "RETENTION_MONTHS", value: "0"},
		{name: "negative expiration", key: "CONTRACTOR_EXPIRATION_MONTHS", value: "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestPolicyValidate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())

	p := DefaultPolicy()
	p.Location = nil
	assert.Error(t, p.Validate())

	p = DefaultPolicy()
	p.SearchMaxLimit = 5
	assert.Error(t, p.Validate(), "max below default")

	p = DefaultPolicy()
	p.ExpiringSoonDays = -1
	assert.Error(t, p.Validate())
}

func TestPolicyRequirements(t *testing.T) {
	p := DefaultPolicy()
	assert.True(t, p.Requirements(model.VisitorContractor).OrientationRequired)
	assert.False(t, p.Requirements(model.VisitorGeneral).OrientationRequired)
}

func TestPolicyToday(t *testing.T) {
	p := DefaultPolicy()
	p.Location = time.FixedZone("UTC-5", -5*3600)
	late := time.Date(2025, 3, 2, 3, 0, 0, 0, time.UTC)
	assert.Equal(t, model.Date(2025, 3, 1), p.Today(late))
}
