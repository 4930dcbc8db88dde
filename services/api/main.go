package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/02loveslollipop/gios-airquality/internal/config"
	"github.com/02loveslollipop/gios-airquality/internal/db"
	"github.com/02loveslollipop/gios-airquality/internal/events"
	"github.com/02loveslollipop/gios-airquality/internal/gios"
	"github.com/02loveslollipop/gios-airquality/internal/ingest"
	"github.com/02loveslollipop/gios-airquality/internal/liveness"
	"github.com/02loveslollipop/gios-airquality/internal/log"
	"github.com/02loveslollipop/gios-airquality/internal/metadata"
	httpserver "github.com/02loveslollipop/gios-airquality/services/api/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := log.Init(cfg.Debug); err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connection error: %v", err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("db migration error: %v", err)
	}

	client := gios.NewClient(cfg.BaseURL, cfg.RequestTimeout, cfg.RateLimit)

	publisher := events.New(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer publisher.Close()

	ingestor := ingest.NewIngestor(client, store)
	scheduler := ingest.NewScheduler(ctx, ingestor, cfg.IngestInterval, publisher)
	defer scheduler.Stop()

	if len(cfg.IngestSensorIDs) > 0 {
		log.Infow("starting periodic ingest from config", "sensors", len(cfg.IngestSensorIDs), "interval", cfg.IngestInterval)
		scheduler.Start(cfg.IngestSensorIDs)
	}

	srv := httpserver.New(cfg, httpserver.Deps{
		Store: store,
		Liveness: liveness.NewService(
			store,
			liveness.NewProber(client, cfg.LivenessConcurrency, cfg.LivenessCooldown),
			liveness.NewReconciler(store, cfg.ReconcileBatchSize),
		),
		Ingester:  ingestor,
		Scheduler: scheduler,
		Metadata:  metadata.NewLoader(client, store, cfg.PageCooldown),
	})
	log.Infof("REST API listening on %s", cfg.ListenAddr())

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
