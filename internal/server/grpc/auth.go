package grpcserver

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/and161185/streakkeeper/internal/api"
)

// clockSkew is tolerated on exp/nbf/iat.
const clockSkew = 30 * time.Second

var (
	errNoToken    = errors.New("no bearer token")
	errBadToken   = errors.New("invalid token")
	errBadSubject = errors.New("bad subject")
)

// publicMethods are callable without a bearer token.
var publicMethods = map[string]bool{
	api.FullMethod("Register"): true,
	api.FullMethod("Login"):    true,
}

type userKey struct{}

// WithUserID stores the authenticated user ID in context.
func WithUserID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, userKey{}, id)
}

// UserIDFromCtx fetches the user ID stored by AuthUnary.
func UserIDFromCtx(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userKey{}).(uuid.UUID)
	return id, ok
}

// AuthUnary verifies the bearer token of every non-public method and stores
// the caller's id in the context.
func AuthUnary(s *Server) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if publicMethods[info.FullMethod] {
			return next(ctx, req)
		}
		id, err := s.userIDFromCtx(ctx)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "no auth")
		}
		return next(WithUserID(ctx, id), req)
	}
}

// caller returns the authenticated user: from the context when AuthUnary ran,
// otherwise from the bearer token.
func (s *Server) caller(ctx context.Context) (uuid.UUID, error) {
	if id, ok := UserIDFromCtx(ctx); ok {
		return id, nil
	}
	id, err := s.userIDFromCtx(ctx)
	if err != nil {
		return uuid.Nil, status.Error(codes.Unauthenticated, "no auth")
	}
	return id, nil
}

func (s *Server) userIDFromCtx(ctx context.Context) (uuid.UUID, error) {
	tok, err := bearerTokenFromMD(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	return parseAccessToken(tok, s.signKey)
}

// parseAccessToken verifies an HS256 access token and returns its subject.
func parseAccessToken(tok string, key []byte) (uuid.UUID, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tok, &claims,
		func(*jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(clockSkew),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return uuid.Nil, errBadToken
	}
	id, err := uuid.FromString(claims.Subject)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, errBadSubject
	}
	return id, nil
}

// bearerTokenFromMD returns the first non-empty "Bearer" authorization value.
func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errNoToken
	}
	for _, v := range md.Get("authorization") {
		scheme, tok, found := strings.Cut(strings.TrimSpace(v), " ")
		if !found || !strings.EqualFold(scheme, "bearer") {
			continue
		}
		if tok = strings.TrimSpace(tok); tok != "" {
			return tok, nil
		}
	}
	return "", errNoToken
}
