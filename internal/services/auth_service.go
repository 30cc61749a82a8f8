package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/mobiledetail/backend/internal/apperr"
	"github.com/mobiledetail/backend/internal/config"
	jwtpkg "github.com/mobiledetail/backend/pkg/jwt"
)

var ErrInvalidCredentials = fmt.Errorf("invalid credentials: %w", apperr.ErrUnauthorized)

// AuthService is the admin gate: a single admin account configured through
// the environment, authenticated with bcrypt and JWT access tokens.
type AuthService struct {
	redis        *redis.Client
	cfg          *config.Config
	log          zerolog.Logger
	passwordHash []byte
}

// NewAuthService prepares the admin credential. ADMIN_PASSWORD_HASH wins over
// ADMIN_PASSWORD, which is hashed here. Without either, login is disabled.
func NewAuthService(redisClient *redis.Client, cfg *config.Config, log zerolog.Logger) (*AuthService, error) {
	s := &AuthService{
		redis: redisClient,
		cfg:   cfg,
		log:   log.With().Str("service", "auth").Logger(),
	}
	switch {
	case cfg.AdminPasswordHash != "":
		if _, err := bcrypt.Cost([]byte(cfg.AdminPasswordHash)); err != nil {
			return nil, fmt.Errorf("ADMIN_PASSWORD_HASH is not a bcrypt hash: %w", err)
		}
		s.passwordHash = []byte(cfg.AdminPasswordHash)
	case cfg.AdminPassword != "":
		cost := cfg.BcryptCost
		if cost < bcrypt.MinCost {
			cost = bcrypt.DefaultCost
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), cost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash admin password: %w", err)
		}
		s.passwordHash = hash
	default:
		s.log.Warn().Msg("no admin password configured, admin login is disabled")
	}
	return s, nil
}

// Login checks the admin credentials and returns a signed access token with its claims.
func (s *AuthService) Login(email, password string) (string, *jwtpkg.Claims, error) {
	if s.passwordHash == nil || s.cfg.AdminEmail == "" {
		return "", nil, ErrInvalidCredentials
	}
	email = strings.TrimSpace(strings.ToLower(email))
	emailOK := subtle.ConstantTimeCompare([]byte(email), []byte(strings.ToLower(s.cfg.AdminEmail))) == 1
	passwordErr := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password))
	if !emailOK || passwordErr != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, claims, err := jwtpkg.GenerateToken(email, jwtpkg.RoleAdmin, jwtpkg.AccessToken, s.cfg.JWTSecret, s.cfg.JWTAccessTokenDuration)
	if err != nil {
		return "", nil, err
	}
	return token, claims, nil
}

// ValidateAccessToken validates an access token and returns its claims.
// Revoked tokens are rejected while Redis is reachable; if it is not, the
// token is accepted.
func (s *AuthService) ValidateAccessToken(ctx context.Context, token string) (*jwtpkg.Claims, error) {
	claims, err := jwtpkg.ValidateToken(token, s.cfg.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, apperr.ErrUnauthorized)
	}
	if claims.TokenType != jwtpkg.AccessToken || claims.Role != jwtpkg.RoleAdmin {
		return nil, fmt.Errorf("invalid token type: %w", apperr.ErrUnauthorized)
	}

	if s.redis != nil {
		exists, err := s.redis.Exists(ctx, blacklistKey(claims.ID)).Result()
		if err != nil {
			s.log.Warn().Err(err).Msg("could not check token blacklist")
		} else if exists > 0 {
			return nil, fmt.Errorf("token is revoked: %w", apperr.ErrUnauthorized)
		}
	}
	return claims, nil
}

// IsAdmin reports whether token grants admin access.
func (s *AuthService) IsAdmin(ctx context.Context, token string) bool {
	if token == "" {
		return false
	}
	_, err := s.ValidateAccessToken(ctx, token)
	return err == nil
}

// Logout revokes the token until it would have expired anyway.
func (s *AuthService) Logout(ctx context.Context, claims *jwtpkg.Claims) error {
	if s.redis == nil || claims == nil || claims.ExpiresAt == nil {
		return nil
	}
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return nil
	}
	if err := s.redis.Set(ctx, blacklistKey(claims.ID), 1, ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

func blacklistKey(jti string) string {
	return "blacklist:token:" + jti
}

// IsInvalidCredentials reports whether err came from a failed login.
func IsInvalidCredentials(err error) bool {
	return errors.Is(err, ErrInvalidCredentials)
}
