// Command sk-server starts the StreakKeeper gRPC server, the ops HTTP
// endpoint and the daily reconciliation schedule.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/streakkeeper/internal/api"
	"github.com/and161185/streakkeeper/internal/cache"
	"github.com/and161185/streakkeeper/internal/catalog"
	"github.com/and161185/streakkeeper/internal/config"
	"github.com/and161185/streakkeeper/internal/limiter"
	"github.com/and161185/streakkeeper/internal/metrics"
	"github.com/and161185/streakkeeper/internal/migrate"
	"github.com/and161185/streakkeeper/internal/model"
	"github.com/and161185/streakkeeper/internal/repository"
	"github.com/and161185/streakkeeper/internal/repository/memory"
	"github.com/and161185/streakkeeper/internal/repository/postgres"
	"github.com/and161185/streakkeeper/internal/scheduler"
	grpcserver "github.com/and161185/streakkeeper/internal/server/grpc"
	"github.com/and161185/streakkeeper/internal/server/ops"
	"github.com/and161185/streakkeeper/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// backend bundles the storage chosen by configuration.
type backend struct {
	users   repository.UserRepository
	store   repository.GamificationStore
	limiter limiter.Limiter
	ping    func(ctx context.Context) error
	close   func()
}

func openBackend(ctx context.Context, cfg config.Config, log *zap.Logger) (*backend, error) {
	policy := limiter.Policy{Window: cfg.LoginWindow, MaxFails: cfg.LoginMaxFails, BlockFor: cfg.LoginBlockFor}

	if cfg.Store == "memory" {
		log.Warn("using in-memory store: state is lost on restart")
		st := memory.New()
		return &backend{users: st, store: st, limiter: limiter.NewMemory(policy), close: func() {}}, nil
	}

	if err := migrate.Up(ctx, cfg.DatabaseDSN, log); err != nil {
		return nil, err
	}
	db, err := postgres.New(ctx, cfg.DatabaseDSN, cfg.DBMaxConns)
	if err != nil {
		return nil, err
	}
	return &backend{
		users:   postgres.NewUserRepo(db),
		store:   postgres.NewGamificationRepo(db),
		limiter: limiter.NewPG(db.Pool, policy),
		ping:    db.Ping,
		close:   db.Close,
	}, nil
}

func loadCatalog(path string) ([]model.ShopItem, error) {
	if path == "" {
		return catalog.Default()
	}
	return catalog.Load(path)
}

// main loads configuration, opens storage and serves until SIGINT/SIGTERM.
func main() {
	cfgPath := flag.String("config", "", "path to a config file (yaml, json or toml)")
	flag.Parse()

	logger, _ := zap.NewProduction()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("grpc", cfg.GRPCAddr),
		zap.String("ops", cfg.OpsAddr),
		zap.String("store", cfg.Store),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("exiting", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("shutdown complete")
	_ = logger.Sync()
}

// run serves until ctx is done or a listener fails.
func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer be.close()

	m := metrics.New()

	var catalogCache service.CatalogCache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, catalog reads go to the store", zap.Error(err))
		}
		catalogCache = cache.NewCatalog(rdb, cfg.CatalogCacheTTL)
	}

	// Services
	authSvc := service.NewAuthService(be.users, []byte(cfg.JWTKey), cfg.AccessTTL, be.limiter, cfg.StartingGems)
	shopSvc := service.NewShopService(be.store, nil, catalogCache, logger.Named("shop"), m)
	streakSvc := service.NewStreakService(be.store, cfg.RepairWindow, logger.Named("streak"), m)
	reconciler := service.NewReconciler(be.store, cfg.ReconcilePageSize, logger.Named("reconcile"), m)

	items, err := loadCatalog(cfg.CatalogFile)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	if err := shopSvc.SeedCatalog(ctx, items); err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}

	sched, err := scheduler.New(cfg.ReconcileSchedule, reconciler, 0, logger.Named("scheduler"))
	if err != nil {
		return err
	}
	sched.Start(ctx)
	defer sched.Stop()

	// gRPC server with interceptors
	app := grpcserver.New(authSvc, shopSvc, streakSvc, []byte(cfg.JWTKey), cfg.RepairWindow, logger)
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(logger),
			metrics.UnaryServerInterceptor(m),
			grpcserver.AuthUnary(app),
			grpcserver.LoggingUnary(logger),
		),
	}
	if cfg.TLSCert != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return fmt.Errorf("load TLS cert/key: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	} else {
		logger.Warn("TLS disabled")
	}
	s := grpc.NewServer(opts...)
	api.RegisterStreakKeeperServer(s, app)

	// Health & reflection (dev)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	hs.SetServingStatus(api.ServiceName, healthpb.HealthCheckResponse_SERVING)
	if cfg.Dev {
		reflection.Register(s)
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr), zap.Bool("tls", cfg.TLSCert != ""))
		errCh <- s.Serve(lis)
	}()

	var opsSrv *http.Server
	if cfg.OpsAddr != "" {
		opsSrv = &http.Server{
			Addr: cfg.OpsAddr,
			Handler: ops.NewRouter(ops.Deps{
				Ping:       be.ping,
				Reconciler: sched,
				Granter:    streakSvc,
				Metrics:    m,
				AdminToken: cfg.AdminToken,
				Log:        logger.Named("ops"),
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("ops listening", zap.String("addr", cfg.OpsAddr))
			if err := opsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	// Wait for stop
	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	hs.Shutdown()
	if opsSrv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = opsSrv.Shutdown(sctx)
		cancel()
	}

	// graceful shutdown
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.Stop()
	}

	return serveErr
}
