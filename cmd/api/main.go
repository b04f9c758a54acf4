package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/PaulBabatuyi/realtyhub/internal/access"
	"github.com/PaulBabatuyi/realtyhub/internal/accounts"
	"github.com/PaulBabatuyi/realtyhub/internal/auth"
	"github.com/PaulBabatuyi/realtyhub/internal/config"
	"github.com/PaulBabatuyi/realtyhub/internal/contacts"
	"github.com/PaulBabatuyi/realtyhub/internal/data"
	"github.com/PaulBabatuyi/realtyhub/internal/db"
	"github.com/PaulBabatuyi/realtyhub/internal/events"
	"github.com/PaulBabatuyi/realtyhub/internal/folders"
	"github.com/PaulBabatuyi/realtyhub/internal/httpapi"
	"github.com/PaulBabatuyi/realtyhub/internal/integrations"
	"github.com/PaulBabatuyi/realtyhub/internal/live"
	"github.com/PaulBabatuyi/realtyhub/internal/memstore"
	"github.com/PaulBabatuyi/realtyhub/internal/middleware"
	"github.com/PaulBabatuyi/realtyhub/internal/notify"
	"github.com/PaulBabatuyi/realtyhub/internal/obs"
	"github.com/PaulBabatuyi/realtyhub/internal/orgs"
	"github.com/PaulBabatuyi/realtyhub/internal/rooms"
)

const (
	// inbound live events per connection
	liveEventsPerMinute = 120
	liveEventBurst      = 20

	shutdownTimeout = 15 * time.Second
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger, err := obs.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server exit", "err", err)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := obs.NewMetrics(reg)

	// Initialize auth manager. With JWT_KEYS the signing secret can be
	// rotated; otherwise a single JWT_SECRET is used.
	var jwtMgr *auth.JWTManager
	if len(cfg.JWTKeys) > 0 {
		jwtMgr = auth.NewJWTManagerFromKeys(cfg.JWTKeys, cfg.JWTActiveKid, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	} else {
		jwtMgr = auth.NewJWTManager(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	}

	storage := integrations.NewMemoryStorage(cfg.StorageURL, logger)
	mailer := integrations.NewLogMailer(logger)
	notifier := notify.New(store, mailer, integrations.NewLogPusher(logger), logger)

	resolver := access.NewResolver(store)
	rm := rooms.NewManager(store, resolver, nil, logger, rooms.WithNotifier(notifier), rooms.WithMetrics(metrics))

	hub := live.NewHub(metrics, logger)
	broker, closeBroker, err := openBroker(ctx, cfg, hub, logger)
	if err != nil {
		return err
	}
	defer closeBroker()
	rm.SetEmitter(broker)

	// connections this node owned before a restart are gone
	if n, err := rm.ReconcileNode(ctx, cfg.NodeID); err != nil {
		logger.Warn("presence reconciliation failed", "node", cfg.NodeID, "err", err)
	} else if n > 0 {
		logger.Info("cleared stale presence", "node", cfg.NodeID, "users", n)
	}

	authLimiter := middleware.NewLimiterStore(cfg.RateLimitRPM, 3, time.Minute)
	defer authLimiter.Stop()
	liveLimiter := middleware.NewLimiterStore(liveEventsPerMinute, liveEventBurst, 10*time.Minute)
	defer liveLimiter.Stop()

	channel := live.NewChannel(jwtMgr, rm, hub, liveLimiter, cfg.NodeID, logger)

	api := httpapi.New(httpapi.Deps{
		Accounts:       accounts.NewService(store, jwtMgr, logger),
		Orgs:           orgs.NewService(store, logger),
		Contacts:       contacts.NewService(store, resolver, rm, mailer, cfg.InviteURL, logger),
		Rooms:          rm,
		Folders:        folders.NewService(store, resolver, storage, metrics, logger),
		Resolver:       resolver,
		JWT:            jwtMgr,
		Live:           live.NewWSHandler(channel, cfg.AllowedOrigins, logger),
		Metrics:        metrics,
		AuthLimiter:    authLimiter,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer, err := newGRPCServer(cfg, channel, authLimiter, logger)
	if err != nil {
		return err
	}
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
	}

	errc := make(chan error, 2)
	go func() {
		logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
		errc <- grpcServer.Serve(lis)
	}()
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr, "node", cfg.NodeID)
		var err error
		if cfg.TLSCert != "" {
			err = httpSrv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errc <- err
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			return err
		}
	}

	shutdown(logger, httpSrv, grpcServer, notifier)
	return nil
}

// shutdown stops both servers, then waits for background work started by
// requests they served.
func shutdown(logger *log.Logger, httpSrv *http.Server, grpcServer *grpc.Server, background interface{ Wait() }) {
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	grpcServer.GracefulStop()
	// offline pushes and emails still in flight
	background.Wait()
}

func newGRPCServer(cfg *config.Config, channel *live.Channel, limiter *middleware.LimiterStore, logger *log.Logger) (*grpc.Server, error) {
	var serverOpts []grpc.ServerOption

	// If TLS certs are configured, create server credentials
	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return nil, fmt.Errorf("load TLS certs: %w", err)
		}
		serverOpts = append(serverOpts, grpc.Creds(creds))
	}
	serverOpts = append(serverOpts, grpc.ChainStreamInterceptor(
		middleware.RateLimitStreamInterceptor(limiter, map[string]bool{liveConnectMethod: true}),
		bundleStreamInterceptor(),
	))

	s := grpc.NewServer(serverOpts...)
	registerService(s, newServer(channel, logger))
	return s, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *log.Logger) (data.Store, func(), error) {
	if cfg.Store == config.StoreMemory {
		logger.Warn("using in-memory entity store; data is lost on exit")
		s, err := memstore.New()
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	}

	client, err := db.New(ctx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to DB: %w", err)
	}
	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Close(ctx)
	}
	if err := client.CreateIndexes(ctx); err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("create indexes: %w", err)
	}
	return data.NewMongoStore(client), closeFn, nil
}

// openBroker picks Redis fan-out when REDIS_URL is set, so several
// processes can share the live channel; otherwise delivery is local only.
func openBroker(ctx context.Context, cfg *config.Config, hub *live.Hub, logger *log.Logger) (events.Emitter, func(), error) {
	if cfg.RedisURL == "" {
		return live.NewLocalBroker(hub, logger), func() {}, nil
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	broker := live.NewRedisBroker(rdb, hub, cfg.NodeID, logger)
	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		if err := broker.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("redis broker stopped", "err", err)
		}
	}()
	return broker, func() {
		cancel()
		_ = rdb.Close()
	}, nil
}
