// Package grpcserver exposes the StreakKeeper gRPC API handlers.
package grpcserver

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/and161185/streakkeeper/internal/api"
	"github.com/and161185/streakkeeper/internal/convert"
	"github.com/and161185/streakkeeper/internal/errs"
	"github.com/and161185/streakkeeper/internal/service"
)

// Server wires services into gRPC handlers.
type Server struct {
	auth         service.AuthService
	shop         service.ShopService
	streaks      service.StreakService
	signKey      []byte
	repairWindow time.Duration
	log          *zap.Logger
}

var _ api.StreakKeeperServer = (*Server)(nil)

// New constructs a gRPC server with injected services.
func New(auth service.AuthService, shop service.ShopService, streaks service.StreakService, signKey []byte, repairWindow time.Duration, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{auth: auth, shop: shop, streaks: streaks, signKey: signKey, repairWindow: repairWindow, log: log}
}

// --- Auth ---

// Register creates a new user account.
func (s *Server) Register(ctx context.Context, req *api.RegisterRequest) (*api.RegisterResponse, error) {
	if req.Username == "" || req.Password == "" {
		return nil, status.Error(codes.InvalidArgument, "empty username/password")
	}
	userID, err := s.auth.Register(ctx, req.Username, req.Password)
	if err != nil {
		return nil, s.toStatus("register", err)
	}
	return &api.RegisterResponse{UserID: userID}, nil
}

func remoteIP(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return ""
}

// Login authenticates a user and returns an access token.
func (s *Server) Login(ctx context.Context, req *api.LoginRequest) (*api.LoginResponse, error) {
	tok, u, err := s.auth.LoginWithIP(ctx, req.Username, req.Password, remoteIP(ctx))
	if err != nil {
		return nil, s.toStatus("login", err)
	}
	return &api.LoginResponse{AccessToken: tok.AccessToken, ExpiresAt: tok.ExpiresAt, UserID: u.ID.String()}, nil
}

// --- Gamification ---

// GetProfile returns the caller's streak, XP and gem state.
func (s *Server) GetProfile(ctx context.Context, _ *api.GetProfileRequest) (*api.Profile, error) {
	userID, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	st, err := s.streaks.Profile(ctx, userID)
	if err != nil {
		return nil, s.toStatus("get profile", err)
	}
	return convert.ToProfile(*st, s.repairWindow), nil
}

// GetShopCatalog lists shop items.
func (s *Server) GetShopCatalog(ctx context.Context, req *api.GetShopCatalogRequest) (*api.GetShopCatalogResponse, error) {
	if _, err := s.caller(ctx); err != nil {
		return nil, err
	}
	items, err := s.shop.Catalog(ctx, req.IncludeDisabled)
	if err != nil {
		return nil, s.toStatus("get catalog", err)
	}
	return &api.GetShopCatalogResponse{Items: convert.ToShopItems(items)}, nil
}

// GetOwnedItems lists the caller's holdings.
func (s *Server) GetOwnedItems(ctx context.Context, _ *api.GetOwnedItemsRequest) (*api.GetOwnedItemsResponse, error) {
	userID, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	owned, err := s.shop.OwnedItems(ctx, userID)
	if err != nil {
		return nil, s.toStatus("get owned items", err)
	}
	return &api.GetOwnedItemsResponse{Items: convert.ToOwnedItems(owned)}, nil
}

// PurchaseItem buys an item for gems.
func (s *Server) PurchaseItem(ctx context.Context, req *api.PurchaseItemRequest) (*api.PurchaseItemResponse, error) {
	userID, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	res, err := s.shop.Purchase(ctx, userID, req.ItemID, req.Quantity)
	if err != nil {
		return nil, s.toStatus("purchase", err)
	}
	return convert.ToPurchaseResponse(res), nil
}

// RepairStreak spends an elixir to restore a lost streak.
func (s *Server) RepairStreak(ctx context.Context, _ *api.RepairStreakRequest) (*api.RepairStreakResponse, error) {
	userID, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	res, err := s.streaks.Repair(ctx, userID)
	if err != nil {
		return nil, s.toStatus("repair", err)
	}
	return convert.ToRepairResponse(res), nil
}

// --- helpers ---

// toStatus maps service errors to gRPC status codes. Unclassified errors are
// logged and hidden behind codes.Internal.
func (s *Server) toStatus(op string, err error) error {
	switch {
	case errors.Is(err, errs.ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, errs.ErrFailedPrecondition):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, errs.ErrVersionConflict):
		return status.Error(codes.Aborted, "concurrent update, retry")
	case errors.Is(err, errs.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "bad credentials")
	case errors.Is(err, errs.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, "rate limited")
	case errors.Is(err, errs.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, "already exists")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	default:
		s.log.Error(op, zap.Error(err))
		return status.Error(codes.Internal, "internal")
	}
}
