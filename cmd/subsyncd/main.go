package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/subsync-io/subsync/pkg/billing"
	"github.com/subsync-io/subsync/pkg/config"
	"github.com/subsync-io/subsync/pkg/httpserver"
	"github.com/subsync-io/subsync/pkg/logger"
	"github.com/subsync-io/subsync/pkg/mongo"
	"github.com/subsync-io/subsync/pkg/redis"
)

type appConfig struct {
	Env         string        `env:"APP_ENV" envDefault:"development"`
	CatalogPath string        `env:"TIER_CATALOG_PATH" envDefault:"catalog.yaml"`
	RedisDedup  bool          `env:"REDIS_DEDUP_ENABLED" envDefault:"false"`
	DedupTTL    time.Duration `env:"DEDUP_TTL" envDefault:"24h"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var appCfg appConfig
	config.MustLoad(&appCfg)

	log := logger.New(logger.WithEnvironment(appCfg.Env, "subsyncd"))
	logger.SetAsDefault(log)

	if err := run(ctx, appCfg, log); err != nil {
		log.Error("subsyncd exited", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, appCfg appConfig, log *slog.Logger) error {
	catalog, err := billing.LoadCatalogFile(appCfg.CatalogPath)
	if err != nil {
		return err
	}

	var stripeCfg billing.StripeConfig
	config.MustLoad(&stripeCfg)
	provider, err := billing.NewStripeProvider(stripeCfg)
	if err != nil {
		return err
	}

	var mongoCfg mongo.Config
	config.MustLoad(&mongoCfg)
	mongoClient, db, err := mongo.ConnectDatabase(ctx, mongoCfg)
	if err != nil {
		return err
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := mongoClient.Disconnect(disconnectCtx); err != nil {
			log.Warn("mongo disconnect failed", logger.Error(err))
		}
	}()

	store := billing.NewMongoStore(db)
	if err := store.EnsureIndexes(ctx); err != nil {
		return err
	}

	probes := []httpserver.Probe{mongo.Healthcheck(mongoClient)}

	var reconcilerOpts []billing.ReconcilerOption
	if appCfg.RedisDedup {
		var redisCfg redis.Config
		config.MustLoad(&redisCfg)
		redisClient, err := redis.Connect(ctx, redisCfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.Warn("redis close failed", logger.Error(err))
			}
		}()
		reconcilerOpts = append(reconcilerOpts,
			billing.WithDeduper(billing.NewRedisDeduper(redisClient, appCfg.DedupTTL)))
		probes = append(probes, redis.Healthcheck(redisClient))
	}

	resolver := billing.NewCustomerResolver(store, provider, catalog, log)
	reconciler := billing.NewReconciler(store, provider, resolver, catalog, log, reconcilerOpts...)
	broker := billing.NewSessionBroker(catalog, resolver, provider, store, log)
	gateway := billing.NewGateway(provider, reconciler, log)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Get("/healthz", httpserver.HealthHandler(probes...))
	router.Mount("/billing", billing.Router(broker, gateway, store, log))

	var httpCfg httpserver.Config
	config.MustLoad(&httpCfg)
	srv := httpserver.New(httpCfg, router, httpserver.WithLogger(log))
	return srv.Run(ctx)
}
