// Package auth issues and checks bearer tokens for kiosk devices and admins.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"visitorlog/internal/apperr"
)

var (
	ErrAdminDisabled      = errors.New("admin access is not configured")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// TokenStore keeps devices and refresh tokens.
type TokenStore interface {
	UpsertDevice(ctx context.Context, deviceID string) error
	SaveRefreshToken(ctx context.Context, subject, token string, expiresAt time.Time) error
	ConsumeRefreshToken(ctx context.Context, token string) (bool, error)
}

// Options configures token issuance.
type Options struct {
	Issuer       string
	SigningKey   string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	AdminKeyHash string
}

// Service issues device and admin tokens and rotates refresh tokens.
type Service struct {
	store  TokenStore
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store TokenStore, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, opts: opts, logger: logger, now: time.Now}
}

// RegisterDevice records a kiosk and issues its first token pair.
func (s *Service) RegisterDevice(ctx context.Context, deviceID string) (TokenPair, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return TokenPair{}, apperr.Validation("device_id is required")
	}
	if err := s.store.UpsertDevice(ctx, deviceID); err != nil {
		return TokenPair{}, err
	}
	s.logger.Info("device registered", "device_id", deviceID)
	return s.issue(ctx, deviceID, RoleKiosk)
}

// AdminToken exchanges the admin API key for a token pair.
func (s *Service) AdminToken(ctx context.Context, apiKey string) (TokenPair, error) {
	if s.opts.AdminKeyHash == "" {
		return TokenPair{}, ErrAdminDisabled
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.opts.AdminKeyHash), []byte(apiKey)); err != nil {
		s.logger.Warn("admin token rejected")
		return TokenPair{}, ErrInvalidCredentials
	}
	return s.issue(ctx, "admin", RoleAdmin)
}

// Refresh revokes a refresh token and issues a new pair for the same subject.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := Parse(refreshToken, s.opts.SigningKey, s.opts.Issuer)
	if err != nil || claims.Kind != KindRefresh {
		return TokenPair{}, ErrInvalidCredentials
	}
	ok, err := s.store.ConsumeRefreshToken(ctx, refreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	if !ok {
		s.logger.Warn("refresh token reuse or unknown token", "subject", claims.Subject)
		return TokenPair{}, ErrInvalidCredentials
	}
	return s.issue(ctx, claims.Subject, claims.Role)
}

func (s *Service) issue(ctx context.Context, subject, role string) (TokenPair, error) {
	tokens, err := Issue(subject, role, s.opts.Issuer, s.opts.SigningKey, s.opts.AccessTTL, s.opts.RefreshTTL, s.now())
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.store.SaveRefreshToken(ctx, subject, tokens.RefreshToken, tokens.RefreshExp); err != nil {
		return TokenPair{}, err
	}
	return tokens, nil
}
