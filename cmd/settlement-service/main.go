package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"github.com/jcmexdev/dvp-settlement/internal/api/grpcx"
	"github.com/jcmexdev/dvp-settlement/internal/api/httpx"
	"github.com/jcmexdev/dvp-settlement/internal/api/httpx/middlewares"
	"github.com/jcmexdev/dvp-settlement/internal/config"
	"github.com/jcmexdev/dvp-settlement/internal/coordinator"
	"github.com/jcmexdev/dvp-settlement/internal/eventlog"
	"github.com/jcmexdev/dvp-settlement/internal/ledger"
	ledgerredis "github.com/jcmexdev/dvp-settlement/internal/ledger/redis"
	"github.com/jcmexdev/dvp-settlement/internal/pkg/cache"
	"github.com/jcmexdev/dvp-settlement/internal/pkg/interceptors"
	"github.com/jcmexdev/dvp-settlement/internal/pkg/telemetry"
	"github.com/jcmexdev/dvp-settlement/internal/registry"
	"github.com/jcmexdev/dvp-settlement/internal/settlement"
	"github.com/jcmexdev/dvp-settlement/internal/storage/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := telemetry.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("settlement service stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if cfg.TracingEnabled {
		shutdown, err := telemetry.SetupTracer(ctx, telemetry.TracerConfig{
			ServiceName: cfg.ServiceName,
			Endpoint:    cfg.OTLPEndpoint,
			Environment: cfg.Environment,
			SampleRatio: cfg.SampleRatio,
		})
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Error("tracer shutdown error", "error", err)
			}
		}()
	}

	st, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.close(); err != nil {
			logger.Error("failed to close storage", "error", err)
		}
	}()

	ledgers, closeLedgers, err := openLedgers(cfg, logger)
	if err != nil {
		return err
	}
	defer closeLedgers()

	bus := eventlog.NewBus(logger)
	events := eventlog.New(st.events, bus, logger)

	reg := registry.New(registry.Config{
		Address: settlement.Address(cfg.RegistryAddress),
		Admin:   settlement.Address(cfg.AdminAddress),
		Name:    cfg.RegistryName,
		Symbol:  cfg.RegistrySymbol,
		BaseURI: cfg.RegistryBaseURI,
	}, st.orders, events, registry.WithLogger(logger))

	registries := coordinator.NewRegistryDirectory()
	registries.Register(reg.Address(), reg)

	coord, err := coordinator.New(ctx, coordinator.Config{
		Address:    settlement.Address(cfg.CoordinatorAddress),
		Admin:      settlement.Address(cfg.AdminAddress),
		StaleAfter: cfg.StaleAfter,
	}, st.coordinator, registries, ledgers, events, coordinator.WithLogger(logger))
	if err != nil {
		return err
	}
	if !coord.Initialized() {
		if err := coord.Initialize(ctx, coord.Admin(), reg.Address()); err != nil {
			return fmt.Errorf("initialize coordinator: %w", err)
		}
	}
	logger.Info("coordinator ready",
		"address", coord.Address(), "registry", coord.RegistryRef(), "version", coord.Version(), "paused", coord.Paused())

	if cfg.WatchIssuance {
		go coordinator.NewWatcher(coord, bus, logger).Run(ctx)
	}

	var extra []func(http.Handler) http.Handler
	if cfg.RedisAddr != "" {
		idemCache := cache.NewRedisCache(cfg.RedisAddr, cfg.ServiceName)
		extra = append(extra, middlewares.Idempotency(idemCache, cfg.IdempotencyTTL, logger))
	}
	httpSrv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           httpx.NewRouter(httpx.NewHandler(reg, coord, events, logger), extra...),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcAddr := ":" + cfg.GRPCPort
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", grpcAddr, err)
	}
	grpcSrv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.UnaryServerInterceptor(),
			interceptors.TraceServerInterceptor(logger),
		),
	)
	grpcx.RegisterSettlementServer(grpcSrv, grpcx.NewServer(reg, coord, logger))

	errCh := make(chan error, 2)
	go func() {
		logger.Info("settlement service HTTP running", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		logger.Info("settlement service gRPC running", "addr", grpcAddr)
		if err := grpcSrv.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if sErr := httpSrv.Shutdown(shutdownCtx); sErr != nil {
		logger.Error("http shutdown error", "error", sErr)
	}
	grpcSrv.GracefulStop()
	return err
}

type stores struct {
	orders      registry.Store
	coordinator coordinator.StateStore
	events      eventlog.Repository
	close       func() error
}

// openStores uses SQLite when a path is configured and memory otherwise.
func openStores(cfg config.Config, logger *slog.Logger) (stores, error) {
	if cfg.SQLitePath == "" {
		logger.Warn("SQLITE_PATH not set, state is kept in memory only")
		return stores{
			orders:      registry.NewMemoryStore(),
			coordinator: coordinator.NewMemoryStateStore(),
			events:      eventlog.NewMemoryRepository(),
			close:       func() error { return nil },
		}, nil
	}

	db, err := sqlite.Open(cfg.SQLitePath)
	if err != nil {
		return stores{}, err
	}
	logger.Info("sqlite storage opened", "path", cfg.SQLitePath)
	return stores{
		orders:      db.Orders(),
		coordinator: db.Coordinator(),
		events:      db.Events(),
		close:       db.Close,
	}, nil
}

// openLedgers registers one ledger client per configured reference. Redis
// ledgers share a client and each sits behind its own circuit breaker.
func openLedgers(cfg config.Config, logger *slog.Logger) (*ledger.Directory, func(), error) {
	dir := ledger.NewDirectory()

	if cfg.LedgerBackend == config.LedgerMemory {
		logger.Warn("using in-memory ledgers, balances are lost on restart", "refs", cfg.LedgerRefs)
		for _, ref := range cfg.LedgerRefs {
			dir.Register(settlement.Address(ref), ledger.NewMemory())
		}
		return dir, func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.LedgerRedisAddr})
	for _, ref := range cfg.LedgerRefs {
		l := ledgerredis.New(client, ref)
		dir.Register(settlement.Address(ref), ledger.WithBreaker(l, ledger.BreakerConfig{
			Name:                "ledger-" + ref,
			MaxRequests:         cfg.BreakerMaxRequests,
			Interval:            cfg.BreakerInterval,
			Timeout:             cfg.BreakerTimeout,
			ConsecutiveFailures: cfg.BreakerConsecutiveFailures,
		}, logger))
	}
	logger.Info("redis ledgers configured", "addr", cfg.LedgerRedisAddr, "refs", cfg.LedgerRefs)

	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Error("failed to close ledger client", "error", err)
		}
	}
	return dir, closeFn, nil
}
