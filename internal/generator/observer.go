package generator

import (
	"time"

	"github.com/nvandessel/pathsim/internal/models"
	"github.com/nvandessel/pathsim/internal/restriction"
)

// BatchEvent reports one evaluated batch.
type BatchEvent struct {
	Order      *models.Order
	Iteration  int
	Drawn      int
	Accepted   int
	Created    int
	Rejections []restriction.Rejection
}

// OrderEvent reports how an order ended.
type OrderEvent struct {
	Order    *models.Order
	State    State
	Created  int
	Batches  int
	Drawn    int
	Duration time.Duration
	Err      error
}

// Observer is notified of generator progress. Implementations used by
// parallel runs must be safe for concurrent use.
type Observer interface {
	BatchEvaluated(ev BatchEvent)
	OrderFinished(ev OrderEvent)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) BatchEvaluated(BatchEvent) {}
func (NopObserver) OrderFinished(OrderEvent)  {}

// Observers fans events out to each member in order. Nil members are skipped.
type Observers []Observer

func (obs Observers) BatchEvaluated(ev BatchEvent) {
	for _, o := range obs {
		if o != nil {
			o.BatchEvaluated(ev)
		}
	}
}

func (obs Observers) OrderFinished(ev OrderEvent) {
	for _, o := range obs {
		if o != nil {
			o.OrderFinished(ev)
		}
	}
}
