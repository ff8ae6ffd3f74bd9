package grpcserver

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/and161185/streakkeeper/internal/api"
	"github.com/and161185/streakkeeper/internal/catalog"
	"github.com/and161185/streakkeeper/internal/errs"
	"github.com/and161185/streakkeeper/internal/gamification"
	"github.com/and161185/streakkeeper/internal/limiter"
	"github.com/and161185/streakkeeper/internal/repository/memory"
	"github.com/and161185/streakkeeper/internal/service"
)

const bufSize = 1 << 20

var testKey = []byte("test-sign-key")

type harness struct {
	client *api.Client
	store  *memory.Store
}

// startBufGRPC serves real services over an in-memory store through bufconn.
func startBufGRPC(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	log := zaptest.NewLogger(t)

	store := memory.New()
	items, err := catalog.Default()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	shop := service.NewShopService(store, nil, nil, log, nil)
	if err := shop.SeedCatalog(ctx, items); err != nil {
		t.Fatalf("seed: %v", err)
	}
	auth := service.NewAuthService(store, testKey, time.Hour, limiter.NewMemory(limiter.Policy{}), 1000)
	streaks := service.NewStreakService(store, gamification.RepairWindow, log, nil)
	srv := New(auth, shop, streaks, testKey, gamification.RepairWindow, log)

	lis := bufconn.Listen(bufSize)
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(RecoverUnary(log), AuthUnary(srv), LoggingUnary(log)))
	api.RegisterStreakKeeperServer(gs, srv)
	go func() { _ = gs.Serve(lis) }()

	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }
	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = cc.Close(); gs.Stop(); _ = lis.Close() })
	return &harness{client: api.NewClient(cc), store: store}
}

func withToken(tok string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+tok)
}

func wantCode(t *testing.T, err error, code codes.Code) {
	t.Helper()
	if st, ok := status.FromError(err); !ok || st.Code() != code {
		t.Fatalf("want %v, got %v", code, err)
	}
}

/************ helpers ************/
func jwtFor(t *testing.T, sub string, key []byte, ttl time.Duration) string {
	t.Helper()
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   sub,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl + 5*time.Second)),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign jwt: %v", err)
	}
	return s
}

func TestServer_E2E_BasicFlow(t *testing.T) {
	h := startBufGRPC(t)
	ctx := context.Background()

	reg, err := h.client.Register(ctx, &api.RegisterRequest{Username: "alice", Password: "pw"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	login, err := h.client.Login(ctx, &api.LoginRequest{Username: "alice", Password: "pw"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if login.UserID != reg.UserID || login.AccessToken == "" {
		t.Fatalf("login mismatch: %+v vs %+v", login, reg)
	}
	authed := withToken(login.AccessToken)

	prof, err := h.client.GetProfile(authed, &api.GetProfileRequest{})
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if prof.UserID != reg.UserID || prof.GemsBalance != 1000 || prof.CurrentStreak != 0 {
		t.Fatalf("fresh profile: %+v", prof)
	}

	cat, err := h.client.GetShopCatalog(authed, &api.GetShopCatalogRequest{})
	if err != nil {
		t.Fatalf("GetShopCatalog: %v", err)
	}
	if len(cat.Items) == 0 {
		t.Fatalf("empty catalog")
	}

	buy, err := h.client.PurchaseItem(authed, &api.PurchaseItemRequest{ItemID: "STREAK_FREEZE", Quantity: 2})
	if err != nil {
		t.Fatalf("PurchaseItem: %v", err)
	}
	if !buy.Success || buy.GemsBalance != 600 || buy.Quantity != 2 {
		t.Fatalf("purchase: %+v", buy)
	}

	owned, err := h.client.GetOwnedItems(authed, &api.GetOwnedItemsRequest{})
	if err != nil {
		t.Fatalf("GetOwnedItems: %v", err)
	}
	if len(owned.Items) != 1 || owned.Items[0].ShopItemID != "STREAK_FREEZE" || owned.Items[0].Quantity != 2 {
		t.Fatalf("owned: %+v", owned.Items)
	}

	prof, err = h.client.GetProfile(authed, &api.GetProfileRequest{})
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if prof.GemsBalance != 600 || prof.StreakFreezes != 2 {
		t.Fatalf("profile after purchase: %+v", prof)
	}
}

func TestServer_E2E_Repair(t *testing.T) {
	h := startBufGRPC(t)
	ctx := context.Background()

	reg, err := h.client.Register(ctx, &api.RegisterRequest{Username: "bob", Password: "pw"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	authed := withToken(jwtFor(t, reg.UserID, testKey, time.Minute))

	_, err = h.client.RepairStreak(authed, &api.RepairStreakRequest{})
	wantCode(t, err, codes.FailedPrecondition)

	if _, err := h.client.PurchaseItem(authed, &api.PurchaseItemRequest{ItemID: gamification.ItemStreakRevivalElixir, Quantity: 1}); err != nil {
		t.Fatalf("buy elixir: %v", err)
	}

	uid := uuid.FromStringOrNil(reg.UserID)
	st, err := h.store.State(ctx, uid)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	lostAt := time.Now().UTC().Add(-time.Hour)
	st.LostStreakValue, st.LostStreakAt, st.LongestStreak = 9, &lostAt, 9
	h.store.PutState(*st)

	prof, err := h.client.GetProfile(authed, &api.GetProfileRequest{})
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if prof.RepairDeadline == nil || !prof.RepairDeadline.Equal(lostAt.Add(gamification.RepairWindow)) {
		t.Fatalf("repair deadline: %v", prof.RepairDeadline)
	}

	rep, err := h.client.RepairStreak(authed, &api.RepairStreakRequest{})
	if err != nil {
		t.Fatalf("RepairStreak: %v", err)
	}
	if !rep.Success || rep.RestoredStreak != 9 {
		t.Fatalf("repair: %+v", rep)
	}

	// the elixir is spent and the snapshot cleared
	_, err = h.client.RepairStreak(authed, &api.RepairStreakRequest{})
	wantCode(t, err, codes.FailedPrecondition)
}

func TestServer_E2E_ErrorCodes(t *testing.T) {
	h := startBufGRPC(t)
	ctx := context.Background()

	reg, err := h.client.Register(ctx, &api.RegisterRequest{Username: "carol", Password: "pw"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, err = h.client.Register(ctx, &api.RegisterRequest{Username: "carol", Password: "pw2"})
	wantCode(t, err, codes.AlreadyExists)

	_, err = h.client.Login(ctx, &api.LoginRequest{Username: "carol", Password: "wrong"})
	wantCode(t, err, codes.Unauthenticated)

	_, err = h.client.GetProfile(ctx, &api.GetProfileRequest{})
	wantCode(t, err, codes.Unauthenticated)

	_, err = h.client.PurchaseItem(withToken("garbage"), &api.PurchaseItemRequest{ItemID: "DARK_THEME", Quantity: 1})
	wantCode(t, err, codes.Unauthenticated)

	authed := withToken(jwtFor(t, reg.UserID, testKey, time.Minute))

	_, err = h.client.PurchaseItem(authed, &api.PurchaseItemRequest{ItemID: "NO_SUCH_ITEM", Quantity: 1})
	wantCode(t, err, codes.NotFound)

	_, err = h.client.PurchaseItem(authed, &api.PurchaseItemRequest{ItemID: "DARK_THEME", Quantity: 0})
	wantCode(t, err, codes.InvalidArgument)

	_, err = h.client.PurchaseItem(authed, &api.PurchaseItemRequest{ItemID: "GOLD_BADGE", Quantity: 1})
	wantCode(t, err, codes.FailedPrecondition)

	// a valid token for a user that does not exist
	ghost := withToken(jwtFor(t, uuid.Must(uuid.NewV4()).String(), testKey, time.Minute))
	_, err = h.client.GetProfile(ghost, &api.GetProfileRequest{})
	wantCode(t, err, codes.NotFound)
}

func Test_remoteIP_EmptyIsOk(t *testing.T) {
	t.Parallel()
	if got := remoteIP(context.Background()); got != "" {
		t.Fatalf("want empty, got %q", got)
	}
}

func Test_Register_EmptyFields(t *testing.T) {
	t.Parallel()
	s := &Server{}
	_, err := s.Register(context.Background(), &api.RegisterRequest{})
	wantCode(t, err, codes.InvalidArgument)
}

func Test_Handlers_UnauthenticatedWithoutToken(t *testing.T) {
	t.Parallel()
	s := &Server{signKey: []byte("k")}
	ctx := context.Background()

	_, err := s.GetProfile(ctx, &api.GetProfileRequest{})
	wantCode(t, err, codes.Unauthenticated)
	_, err = s.GetShopCatalog(ctx, &api.GetShopCatalogRequest{})
	wantCode(t, err, codes.Unauthenticated)
	_, err = s.GetOwnedItems(ctx, &api.GetOwnedItemsRequest{})
	wantCode(t, err, codes.Unauthenticated)
	_, err = s.PurchaseItem(ctx, &api.PurchaseItemRequest{ItemID: "X", Quantity: 1})
	wantCode(t, err, codes.Unauthenticated)
	_, err = s.RepairStreak(ctx, &api.RepairStreakRequest{})
	wantCode(t, err, codes.Unauthenticated)
}

func Test_toStatus(t *testing.T) {
	t.Parallel()
	s := New(nil, nil, nil, nil, 0, zaptest.NewLogger(t))

	cases := []struct {
		err  error
		code codes.Code
	}{
		{errs.ErrInsufficientFunds, codes.FailedPrecondition},
		{errs.ErrRepairExpired, codes.FailedPrecondition},
		{errs.ErrNotFound, codes.NotFound},
		{errs.ErrInvalidArgument, codes.InvalidArgument},
		{errs.ErrVersionConflict, codes.Aborted},
		{errs.ErrUnauthorized, codes.Unauthenticated},
		{errs.ErrRateLimited, codes.ResourceExhausted},
		{errs.ErrAlreadyExists, codes.AlreadyExists},
		{context.Canceled, codes.Canceled},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
	}
	for _, c := range cases {
		if got := status.Code(s.toStatus("op", c.err)); got != c.code {
			t.Fatalf("%v: want %v, got %v", c.err, c.code, got)
		}
	}

	err := s.toStatus("op", errors.New("pq: password leaked in message"))
	st, _ := status.FromError(err)
	if st.Code() != codes.Internal || st.Message() != "internal" {
		t.Fatalf("internal details must be hidden: %v", err)
	}
}

type loopbackAddr struct{}

func (loopbackAddr) Network() string { return "tcp" }
func (loopbackAddr) String() string  { return "127.0.0.1:5555" }

func Test_remoteIP_WithPeer(t *testing.T) {
	t.Parallel()
	pctx := peer.NewContext(context.Background(), &peer.Peer{Addr: loopbackAddr{}})
	if got := remoteIP(pctx); got != "127.0.0.1:5555" {
		t.Fatalf("remoteIP=%q", got)
	}
}
