package liveness

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/02loveslollipop/gios-airquality/internal/log"
)

// SensorStore is what a full liveness pass needs from persistence.
type SensorStore interface {
	StateWriter
	AllSensorIDs(ctx context.Context) ([]int64, error)
}

// Result summarizes one liveness pass.
type Result struct {
	RunID    string        `json:"run_id"`
	Known    int           `json:"known"`
	Live     int           `json:"live"`
	Duration time.Duration `json:"duration"`
}

// Service probes every stored sensor and reconciles the outcome.
type Service struct {
	store      SensorStore
	prober     *Prober
	reconciler *Reconciler
}

func NewService(store SensorStore, prober *Prober, reconciler *Reconciler) *Service {
	return &Service{store: store, prober: prober, reconciler: reconciler}
}

// Run performs one pass over all known sensors.
func (s *Service) Run(ctx context.Context) (Result, error) {
	res := Result{RunID: uuid.NewString()}
	start := time.Now()

	ids, err := s.store.AllSensorIDs(ctx)
	if err != nil {
		return res, err
	}
	known := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		known[id] = struct{}{}
	}
	res.Known = len(known)

	log.Infow("liveness pass started", "run_id", res.RunID, "sensors", res.Known)

	live, err := s.prober.Probe(ctx, known)
	if err != nil {
		return res, fmt.Errorf("liveness probe interrupted: %w", err)
	}
	res.Live = len(live)

	if err := s.reconciler.Reconcile(ctx, live, known); err != nil {
		return res, err
	}

	res.Duration = time.Since(start)
	log.Infow("liveness pass finished", "run_id", res.RunID, "sensors", res.Known, "live", res.Live, "duration", res.Duration)
	return res, nil
}
