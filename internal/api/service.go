package api

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "streakkeeper.v1.StreakKeeper"

// FullMethod returns "/streakkeeper.v1.StreakKeeper/<method>".
func FullMethod(method string) string { return "/" + ServiceName + "/" + method }

// StreakKeeperServer is the server API for the StreakKeeper service.
type StreakKeeperServer interface {
	Register(context.Context, *RegisterRequest) (*RegisterResponse, error)
	Login(context.Context, *LoginRequest) (*LoginResponse, error)
	GetProfile(context.Context, *GetProfileRequest) (*Profile, error)
	GetShopCatalog(context.Context, *GetShopCatalogRequest) (*GetShopCatalogResponse, error)
	GetOwnedItems(context.Context, *GetOwnedItemsRequest) (*GetOwnedItemsResponse, error)
	PurchaseItem(context.Context, *PurchaseItemRequest) (*PurchaseItemResponse, error)
	RepairStreak(context.Context, *RepairStreakRequest) (*RepairStreakResponse, error)
}

// unary builds a method handler that decodes Req and dispatches to call,
// going through the server's interceptor chain.
func unary[Req, Resp any](method string, call func(StreakKeeperServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(StreakKeeperServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(StreakKeeperServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes the StreakKeeper service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StreakKeeperServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Register", StreakKeeperServer.Register),
		unary("Login", StreakKeeperServer.Login),
		unary("GetProfile", StreakKeeperServer.GetProfile),
		unary("GetShopCatalog", StreakKeeperServer.GetShopCatalog),
		unary("GetOwnedItems", StreakKeeperServer.GetOwnedItems),
		unary("PurchaseItem", StreakKeeperServer.PurchaseItem),
		unary("RepairStreak", StreakKeeperServer.RepairStreak),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "streakkeeper/v1/streakkeeper.json",
}

// RegisterStreakKeeperServer registers srv on s.
func RegisterStreakKeeperServer(s grpc.ServiceRegistrar, srv StreakKeeperServer) {
	s.RegisterService(&ServiceDesc, srv)
}
