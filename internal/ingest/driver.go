package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/02loveslollipop/gios-airquality/internal/events"
	"github.com/02loveslollipop/gios-airquality/internal/log"
	"github.com/02loveslollipop/gios-airquality/internal/metrics"
)

const DefaultInterval = 15 * time.Minute

// Runner is satisfied by *Ingestor.
type Runner interface {
	Ingest(ctx context.Context, ids []int64) (int, error)
}

// CycleStatus is the outcome of one periodic ingest cycle.
type CycleStatus struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Inserted  int           `json:"inserted"`
	Error     string        `json:"error,omitempty"`
}

// Driver runs an ingest for a fixed sensor list immediately and then on
// every tick until its context ends. Cycles never overlap.
type Driver struct {
	runner    Runner
	ids       []int64
	interval  time.Duration
	publisher events.Publisher

	mu     sync.Mutex
	last   *CycleStatus
	cycles int
}

func NewDriver(runner Runner, ids []int64, interval time.Duration, publisher events.Publisher) *Driver {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Driver{
		runner:    runner,
		ids:       append([]int64(nil), ids...),
		interval:  interval,
		publisher: publisher,
	}
}

// Run blocks until ctx is cancelled. Cycle failures are logged and recorded;
// they never stop the loop.
func (d *Driver) Run(ctx context.Context) {
	log.Infow("periodic ingest started", "sensors", len(d.ids), "interval", d.interval)
	defer log.Infow("periodic ingest stopped", "sensors", len(d.ids))

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		d.cycle(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *Driver) cycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	st := CycleStatus{RunID: uuid.NewString(), StartedAt: time.Now().UTC()}
	inserted, err := d.runner.Ingest(ctx, d.ids)
	st.Duration = time.Since(st.StartedAt)
	st.Inserted = inserted

	status := "ok"
	if err != nil {
		if ctx.Err() != nil {
			// stopped mid-cycle; not a failure
			status = "cancelled"
		} else {
			status = "error"
			log.Errorw("periodic ingest cycle failed", "run_id", st.RunID, "inserted", inserted, "error", err)
		}
		st.Error = err.Error()
	} else {
		log.Infow("periodic ingest cycle done", "run_id", st.RunID, "inserted", inserted, "duration", st.Duration)
	}
	metrics.IngestCycles.WithLabelValues(status).Inc()

	d.mu.Lock()
	d.last = &st
	d.cycles++
	d.mu.Unlock()

	if status == "cancelled" {
		return
	}
	ev := events.CycleEvent{
		RunID:     st.RunID,
		StartedAt: st.StartedAt,
		Duration:  st.Duration.String(),
		Sensors:   len(d.ids),
		Inserted:  inserted,
		Status:    status,
		Error:     st.Error,
	}
	if err := d.publisher.Publish(ctx, ev); err != nil {
		log.Warnw("publish cycle event failed", "run_id", st.RunID, "error", err)
	}
}

// Last returns the most recent cycle status, or nil before the first cycle.
func (d *Driver) Last() *CycleStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return nil
	}
	st := *d.last
	return &st
}

// Cycles reports how many cycles have finished.
func (d *Driver) Cycles() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cycles
}

// SensorIDs returns the sensors this driver ingests.
func (d *Driver) SensorIDs() []int64 {
	return append([]int64(nil), d.ids...)
}
