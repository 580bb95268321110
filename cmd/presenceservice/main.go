package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/example/kinsync/internal/auth"
	"github.com/example/kinsync/internal/cache"
	"github.com/example/kinsync/internal/geo"
	"github.com/example/kinsync/internal/geocode"
	ratelimit "github.com/example/kinsync/internal/http/middleware"
	"github.com/example/kinsync/internal/hub"
	"github.com/example/kinsync/internal/presence"
	"github.com/example/kinsync/internal/presence/domain"
	"github.com/example/kinsync/internal/presence/handler"
	"github.com/example/kinsync/internal/roster"
	"github.com/example/kinsync/pkg/observability"
)

type appConfig struct {
	HTTPAddr      string
	GRPCAddr      string
	RedisAddr     string
	CachePath     string
	NATSURL       string
	GeocodeURL    string
	UserID        string
	DeviceID      string
	JWTSecret     string
	RateLimit     float64
	RateBurst     float64
	WatchInterval time.Duration
	WatchDistance float64
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.SetupLogger("presence-service")
	defer logger.Sync() //nolint:errcheck

	shutdown, err := observability.SetupTracer(ctx, "presence-service")
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background())
	}

	cfg := loadConfig()
	clock := domain.SystemClock{}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", zap.Error(err))
		}
		defer redisClient.Close()
	}

	var store domain.RosterStore
	if redisClient != nil {
		store = roster.NewRedisStore(redisClient, "", clock)
	} else {
		logger.Warn("redis not configured, roster is in-memory only")
		store = roster.NewMemoryStore(clock)
	}

	var presenceCache domain.PresenceCache
	if cfg.CachePath != "" {
		sqlCache, err := cache.OpenSQLite(cfg.CachePath)
		if err != nil {
			logger.Fatal("open presence cache", zap.Error(err))
		}
		defer sqlCache.Close()
		presenceCache = sqlCache
	} else {
		presenceCache = cache.NewMemoryCache()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		if conn, err := nats.Connect(cfg.NATSURL, nats.Name("presenceservice")); err == nil {
			natsConn = conn
			defer conn.Drain()
		} else {
			logger.Warn("nats connection failed", zap.Error(err))
		}
	}

	var geocoder domain.Geocoder
	if cfg.GeocodeURL != "" {
		geocoder = geocode.NewHTTPGeocoder(cfg.GeocodeURL, 3*time.Second)
	}

	feed := geo.NewFeed(cfg.DeviceID, logger.Named("feed"), clock)
	sampler := geo.NewSampler(feed, logger.Named("sampler"))
	events := hub.New(logger.Named("hub"))
	alerts := presence.NewAlertDispatcher(sampler, store, geocoder, natsConn, clock, logger.Named("alerts"))

	engine := presence.New(presence.Config{
		UserID: cfg.UserID,
		Watch: domain.WatchOptions{
			Accuracy:     domain.AccuracyHigh,
			MinInterval:  cfg.WatchInterval,
			MinDistanceM: cfg.WatchDistance,
		},
	}, sampler, store, presenceCache, events, alerts, clock, logger.Named("engine"))

	if err := engine.Initialize(ctx); err != nil {
		logger.Warn("engine initialization degraded", zap.Error(err))
	}
	defer engine.Cleanup()

	if natsConn != nil {
		bridge := hub.NewBridge(natsConn, "", engine.UserID(), logger.Named("bridge"))
		detach := bridge.Attach(events)
		defer detach()
	}

	go runGRPC(logger, cfg.GRPCAddr, feed)

	var limiter *ratelimit.RateLimiter
	if redisClient != nil {
		limiter = ratelimit.NewRateLimiter(redisClient, ratelimit.RateConfig{Rate: cfg.RateLimit, Burst: cfg.RateBurst})
	}

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(cfg.JWTSecret))
		r.Use(limiter.Middleware)
		r.Mount("/", handler.New(engine).Router())
	})
	r.Mount("/observability", observability.MetricsRouter())

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("presence service listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func runGRPC(logger *zap.Logger, addr string, feed *geo.Feed) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatal("listen grpc", zap.Error(err))
	}

	srv := grpc.NewServer()
	geo.RegisterDeviceFeedServer(srv, feed)
	logger.Info("device feed grpc listening", zap.String("addr", lis.Addr().String()))
	if err := srv.Serve(lis); err != nil {
		logger.Fatal("grpc serve", zap.Error(err))
	}
}

func loadConfig() appConfig {
	return appConfig{
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		GRPCAddr:      getenv("GRPC_ADDR", ":9090"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		CachePath:     getenv("CACHE_PATH", "presence.db"),
		NATSURL:       os.Getenv("NATS_URL"),
		GeocodeURL:    os.Getenv("GEOCODE_URL"),
		UserID:        os.Getenv("USER_ID"),
		DeviceID:      os.Getenv("DEVICE_ID"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		RateLimit:     parseFloatEnv("RATE_LIMIT_RPS", 10),
		RateBurst:     parseFloatEnv("RATE_LIMIT_BURST", 20),
		WatchInterval: time.Duration(parseIntEnv("WATCH_INTERVAL_MS", 5000)) * time.Millisecond,
		WatchDistance: parseFloatEnv("WATCH_DISTANCE_M", 10),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseIntEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func parseFloatEnv(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
