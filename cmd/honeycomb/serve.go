// README: serve command; loads config, wires services, runs the HTTP API and zone schedulers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"honeycomb/internal/config"
	httptransport "honeycomb/internal/http"
	"honeycomb/internal/infra"
	"honeycomb/internal/logger"
	"honeycomb/internal/modules/aggregator"
	"honeycomb/internal/modules/cellmetrics"
	"honeycomb/internal/modules/dispatch"
	"honeycomb/internal/modules/location"
	"honeycomb/internal/modules/matching"
	"honeycomb/internal/modules/ride"
	"honeycomb/internal/modules/zoneconfig"
	"honeycomb/internal/telemetry"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the per-zone schedulers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger.SetLevel(cfg.Logging.Level)
	log := logger.New("honeycomb")

	if cfg.Firebase.ProjectID == "" {
		return fmt.Errorf("firebase.project_id is required")
	}
	verifier, err := infra.NewFirebaseVerifier(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		return fmt.Errorf("firebase init: %w", err)
	}
	db, err := infra.NewDB(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer db.Close()
	rdb, err := infra.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	metrics, err := telemetry.New(nil)
	if err != nil {
		return err
	}

	var publisher dispatch.Publisher
	var samples location.SamplePublisher
	if cfg.Kafka.Enabled {
		kp, err := infra.NewKafkaPublisher(cfg.Kafka)
		if err != nil {
			return err
		}
		defer kp.Close()
		publisher = kp
		if cfg.Kafka.RouteRetention {
			samples = kp
		}
	}

	settingsCache := zoneconfig.NewRedisCache(rdb, cfg.Redis.SettingsTTL())
	settings, err := zoneconfig.NewService(zoneconfig.NewPgStore(db), settingsCache, settingsCache, cfg.Defaults, logger.New("zoneconfig"))
	if err != nil {
		return err
	}

	agg := aggregator.New(time.Now)
	metricsStore := cellmetrics.NewPgStore(db)
	dwell := cellmetrics.NewDwellBuffer()

	locationSvc := location.NewService(cfg.Ingest, location.Deps{
		Aggregator: agg,
		Zones:      settings,
		Store:      location.NewStore(rdb),
		Dwell:      dwell,
		Samples:    samples,
		Metrics:    metrics,
		Log:        logger.New("location"),
	})

	offers := matching.NewStore(rdb)
	matcher := matching.NewMatcher(cfg.Matching, matching.Deps{
		Aggregator: agg,
		Notifier:   offers,
		Offers:     offers,
		Metrics:    metrics,
		Log:        logger.New("matching"),
	})
	rides := ride.NewService(ride.Deps{
		Store:      ride.NewPgStore(db),
		Aggregator: agg,
		Matcher:    matcher,
		Zones:      settings,
		Log:        logger.New("ride"),
	})

	scheduler := dispatch.NewManager(cfg.Scheduler, dispatch.Deps{
		Aggregator:  agg,
		Zones:       settings,
		Sink:        metricsStore,
		Publisher:   publisher,
		Dwell:       dwell,
		DwellWriter: metricsStore,
		Metrics:     metrics,
		Log:         logger.New("dispatch"),
	})

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Location: locationSvc,
		Rides:    rides,
		Metrics:  cellmetrics.NewService(metricsStore, nil),
		Settings: settings,
		Verifier: verifier,
		Log:      logger.New("http"),
	})
	server := httptransport.NewServer(cfg.HTTP.Addr, router,
		time.Duration(cfg.HTTP.ShutdownTimeoutSeconds)*time.Second, logger.New("http"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return scheduler.Run(gctx, settingsCache.Subscribe(gctx)) })
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownTimeoutSeconds)*time.Second)
		defer cancel()
		return rides.Shutdown(sctx)
	})
	err = g.Wait()
	log.Infof("stopped")
	return err
}
