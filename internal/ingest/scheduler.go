package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/02loveslollipop/gios-airquality/internal/events"
)

// Status is the scheduler view served by the API.
type Status struct {
	Running   bool         `json:"running"`
	SensorIDs []int64      `json:"sensor_ids"`
	Interval  string       `json:"interval"`
	Cycles    int          `json:"cycles"`
	Last      *CycleStatus `json:"last,omitempty"`
}

// Scheduler owns at most one running Driver. Drivers are children of the
// context passed to NewScheduler, so cancelling it stops everything.
type Scheduler struct {
	parent    context.Context
	runner    Runner
	interval  time.Duration
	publisher events.Publisher

	mu      sync.Mutex
	driver  *Driver
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

func NewScheduler(parent context.Context, runner Runner, interval time.Duration, publisher events.Publisher) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{parent: parent, runner: runner, interval: interval, publisher: publisher}
}

// Start replaces any running driver with one for ids and returns without
// waiting for the first cycle.
func (s *Scheduler) Start(ids []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()

	ctx, cancel := context.WithCancel(s.parent)
	d := NewDriver(s.runner, ids, s.interval, s.publisher)
	done := make(chan struct{})

	s.driver, s.cancel, s.done, s.running = d, cancel, done, true
	go func() {
		defer close(done)
		d.Run(ctx)
	}()
}

// Stop cancels the running driver and waits for it to exit. It is a no-op
// when nothing runs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel, s.done, s.running = nil, nil, false
}

// Running reports whether a driver is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	select {
	case <-s.done:
		// parent context ended underneath us
		return false
	default:
		return true
	}
}

// Status describes the current or most recent driver.
func (s *Scheduler) Status() Status {
	running := s.Running()

	s.mu.Lock()
	d := s.driver
	s.mu.Unlock()

	st := Status{Running: running, SensorIDs: []int64{}, Interval: s.interval.String()}
	if d != nil {
		st.SensorIDs = d.SensorIDs()
		st.Cycles = d.Cycles()
		st.Last = d.Last()
	}
	return st
}
