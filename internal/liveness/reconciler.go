package liveness

import (
	"context"

	"github.com/02loveslollipop/gios-airquality/internal/metrics"
	"github.com/02loveslollipop/gios-airquality/internal/utils"
)

const DefaultReconcileBatch = 500

// StateWriter commits one batch of sensor liveness changes atomically.
type StateWriter interface {
	ApplySensorStates(ctx context.Context, activate, deactivate []int64) error
}

// Reconciler overwrites stored liveness flags with a freshly probed live set.
type Reconciler struct {
	store     StateWriter
	batchSize int
}

func NewReconciler(store StateWriter, batchSize int) *Reconciler {
	if batchSize <= 0 {
		batchSize = DefaultReconcileBatch
	}
	return &Reconciler{store: store, batchSize: batchSize}
}

// Reconcile sets is_active = (id in live) for every id in known, one
// transaction per batch. Live ids outside known are ignored. The first
// failing batch aborts the pass; earlier batches stay committed.
func (r *Reconciler) Reconcile(ctx context.Context, live, known map[int64]struct{}) error {
	activeCount := 0
	for _, batch := range utils.Batches(utils.SortedIDs(known), r.batchSize) {
		activate, deactivate := Partition(batch, live)
		if err := r.store.ApplySensorStates(ctx, activate, deactivate); err != nil {
			return err
		}
		activeCount += len(activate)
	}
	metrics.ActiveSensors.Set(float64(activeCount))
	return nil
}

// Partition splits ids into those present in live and the rest, preserving order.
func Partition(ids []int64, live map[int64]struct{}) (activate, deactivate []int64) {
	for _, id := range ids {
		if _, ok := live[id]; ok {
			activate = append(activate, id)
		} else {
			deactivate = append(deactivate, id)
		}
	}
	return activate, deactivate
}
