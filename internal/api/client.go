package api

import (
	"context"

	"google.golang.org/grpc"
)

// Client is the client API for the StreakKeeper service.
// Every call is sent with the JSON content-subtype.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a connection.
func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*RegisterResponse, error) {
	return invoke[RegisterResponse](ctx, c.cc, "Register", in, opts)
}

func (c *Client) Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*LoginResponse, error) {
	return invoke[LoginResponse](ctx, c.cc, "Login", in, opts)
}

func (c *Client) GetProfile(ctx context.Context, in *GetProfileRequest, opts ...grpc.CallOption) (*Profile, error) {
	return invoke[Profile](ctx, c.cc, "GetProfile", in, opts)
}

func (c *Client) GetShopCatalog(ctx context.Context, in *GetShopCatalogRequest, opts ...grpc.CallOption) (*GetShopCatalogResponse, error) {
	return invoke[GetShopCatalogResponse](ctx, c.cc, "GetShopCatalog", in, opts)
}

func (c *Client) GetOwnedItems(ctx context.Context, in *GetOwnedItemsRequest, opts ...grpc.CallOption) (*GetOwnedItemsResponse, error) {
	return invoke[GetOwnedItemsResponse](ctx, c.cc, "GetOwnedItems", in, opts)
}

func (c *Client) PurchaseItem(ctx context.Context, in *PurchaseItemRequest, opts ...grpc.CallOption) (*PurchaseItemResponse, error) {
	return invoke[PurchaseItemResponse](ctx, c.cc, "PurchaseItem", in, opts)
}

func (c *Client) RepairStreak(ctx context.Context, in *RepairStreakRequest, opts ...grpc.CallOption) (*RepairStreakResponse, error) {
	return invoke[RepairStreakResponse](ctx, c.cc, "RepairStreak", in, opts)
}
