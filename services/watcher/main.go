package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/02loveslollipop/gios-airquality/internal/config"
	"github.com/02loveslollipop/gios-airquality/internal/db"
	"github.com/02loveslollipop/gios-airquality/internal/gios"
	"github.com/02loveslollipop/gios-airquality/internal/ingest"
	"github.com/02loveslollipop/gios-airquality/internal/liveness"
	"github.com/02loveslollipop/gios-airquality/internal/log"
	"github.com/02loveslollipop/gios-airquality/internal/metadata"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("watcher failed: %v", err)
	}
}

func run() error {
	mode := flag.String("mode", "ingest", "ingest | liveness | metadata")
	sensors := flag.String("sensors", "", "comma separated sensor ids (ingest mode; defaults to INGEST_SENSOR_IDS)")
	timeout := flag.Duration("timeout", 30*time.Minute, "upper bound for the whole run")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := log.Init(cfg.Debug); err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	client := gios.NewClient(cfg.BaseURL, cfg.RequestTimeout, cfg.RateLimit)
	start := time.Now()

	switch *mode {
	case "ingest":
		ids := cfg.IngestSensorIDs
		if *sensors != "" {
			if ids, err = config.ParseSensorIDs(*sensors); err != nil {
				return err
			}
		}
		if len(ids) == 0 {
			return fmt.Errorf("no sensor ids: pass -sensors or set INGEST_SENSOR_IDS")
		}
		inserted, err := ingest.NewIngestor(client, store).WithDryRun(cfg.DryRun).Ingest(ctx, ids)
		if err != nil {
			return err
		}
		log.Infof("inserted %d measurements for %d sensors in %s (dry-run=%v)", inserted, len(ids), time.Since(start), cfg.DryRun)

	case "liveness":
		prober := liveness.NewProber(client, cfg.LivenessConcurrency, cfg.LivenessCooldown)
		if cfg.DryRun {
			ids, err := store.AllSensorIDs(ctx)
			if err != nil {
				return err
			}
			known := make(map[int64]struct{}, len(ids))
			for _, id := range ids {
				known[id] = struct{}{}
			}
			live, err := prober.Probe(ctx, known)
			if err != nil {
				return err
			}
			log.Infof("dry-run: %d of %d sensors report data; skipping reconcile", len(live), len(known))
			return nil
		}
		res, err := liveness.NewService(store, prober, liveness.NewReconciler(store, cfg.ReconcileBatchSize)).Run(ctx)
		if err != nil {
			return err
		}
		log.Infof("liveness pass %s: %d of %d sensors live in %s", res.RunID, res.Live, res.Known, res.Duration)

	case "metadata":
		if cfg.DryRun {
			log.Infof("dry-run: skipping metadata load")
			return nil
		}
		loader := metadata.NewLoader(client, store, cfg.PageCooldown)
		stations, err := loader.LoadStations(ctx)
		if err != nil {
			return err
		}
		added, err := loader.LoadSensors(ctx)
		if err != nil {
			return err
		}
		log.Infof("loaded %d stations, added %d sensors", stations, added)

	default:
		return fmt.Errorf("unknown mode %q", *mode)
	}
	return nil
}
