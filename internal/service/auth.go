// Package service contains application services: accounts, the shop,
// streak repair and the daily reconciler.
package service

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	pkgcrypto "github.com/and161185/streakkeeper/internal/crypto"
	"github.com/and161185/streakkeeper/internal/errs"
	"github.com/and161185/streakkeeper/internal/limiter"
	"github.com/and161185/streakkeeper/internal/model"
	"github.com/and161185/streakkeeper/internal/repository"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
)

const maxUsernameLen = 64

// AuthService defines registration and login.
type AuthService interface {
	// Register creates a new user and its gamification record.
	Register(ctx context.Context, username, password string) (userID string, err error)
	// LoginWithIP applies rate-limiting and authenticates the user.
	LoginWithIP(ctx context.Context, username, password string, ip string) (tokens model.Tokens, user model.User, err error)
}

type AuthServiceImpl struct {
	users        repository.UserRepository
	signKey      []byte
	accessTTL    time.Duration
	lim          limiter.Limiter
	startingGems int64
	hashing      pkgcrypto.Params
}

// NewAuthService constructs AuthService with required dependencies.
// New accounts start with startingGems in their balance.
func NewAuthService(users repository.UserRepository, signKey []byte, accessTTL time.Duration, lim limiter.Limiter, startingGems int64) *AuthServiceImpl {
	return &AuthServiceImpl{
		users:        users,
		signKey:      signKey,
		accessTTL:    accessTTL,
		lim:          lim,
		startingGems: startingGems,
		hashing:      pkgcrypto.Default,
	}
}

// Register creates a new user record with a per-user salt.
func (s *AuthServiceImpl) Register(ctx context.Context, username, password string) (string, error) {
	if username == "" || password == "" {
		return "", fmt.Errorf("%w: empty username/password", errs.ErrInvalidArgument)
	}
	if utf8.RuneCountInString(username) > maxUsernameLen {
		return "", fmt.Errorf("%w: username longer than %d", errs.ErrInvalidArgument, maxUsernameLen)
	}
	uid, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	hash, salt, err := s.hashing.NewCredential([]byte(password))
	if err != nil {
		return "", err
	}

	u := &model.User{
		ID:       uid,
		Username: username,
		PwdHash:  hash,
		SaltAuth: salt,
	}
	if err := s.users.Create(ctx, u, s.startingGems); err != nil {
		return "", err
	}
	return uid.String(), nil
}

// LoginWithIP authenticates with rate limiting by (username, ip).
func (s *AuthServiceImpl) LoginWithIP(ctx context.Context, username, password, ip string) (model.Tokens, model.User, error) {
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, username, ipHash)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	if !allowed {
		return model.Tokens{}, model.User{}, errs.ErrRateLimited
	}

	u, err := s.users.GetByUsername(ctx, username)
	if err != nil || !s.hashing.Verify([]byte(password), u.SaltAuth, u.PwdHash) {
		if blocked, _, ferr := s.lim.Failure(ctx, username, ipHash); ferr == nil && blocked {
			return model.Tokens{}, model.User{}, errs.ErrRateLimited
		}
		// missing user and wrong password look the same
		return model.Tokens{}, model.User{}, errs.ErrUnauthorized
	}

	_ = s.lim.Success(ctx, username, ipHash)

	access, exp, err := s.issueAccessToken(u.ID)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	return model.Tokens{AccessToken: access, ExpiresAt: exp}, *u, nil
}

// issueAccessToken creates a signed HS256 JWT for the given subject.
func (s *AuthServiceImpl) issueAccessToken(userID uuid.UUID) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(s.accessTTL)
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.signKey)
	return signed, exp, err
}
