package logging

import (
	"context"
	"log/slog"

	"github.com/nvandessel/pathsim/internal/generator"
)

// Observer reports generator progress through a slog.Logger: order outcomes
// at info (warn when an order fails), batches at trace.
type Observer struct {
	logger *slog.Logger
}

// NewObserver wraps logger. A nil logger discards everything.
func NewObserver(logger *slog.Logger) *Observer {
	return &Observer{logger: logger}
}

// BatchEvaluated implements generator.Observer.
func (o *Observer) BatchEvaluated(ev generator.BatchEvent) {
	if o == nil || o.logger == nil {
		return
	}
	attrs := []slog.Attr{
		slog.Int("order", ev.Order.Index),
		slog.Int("batch", ev.Iteration),
		slog.Int("drawn", ev.Drawn),
		slog.Int("accepted", ev.Accepted),
		slog.Int("created", ev.Created),
		slog.Int("quota", ev.Order.Quota),
	}
	for _, r := range ev.Rejections {
		attrs = append(attrs, slog.Int("rejected_"+r.Predicate, r.Count))
	}
	o.logger.LogAttrs(context.Background(), LevelTrace, "batch evaluated", attrs...)
}

// OrderFinished implements generator.Observer.
func (o *Observer) OrderFinished(ev generator.OrderEvent) {
	if o == nil || o.logger == nil {
		return
	}
	attrs := []slog.Attr{
		slog.Int("order", ev.Order.Index),
		slog.String("state", ev.State.String()),
		slog.Int("created", ev.Created),
		slog.Int("quota", ev.Order.Quota),
		slog.Int("batches", ev.Batches),
		slog.Int("drawn", ev.Drawn),
		slog.Duration("elapsed", ev.Duration),
	}
	if ev.Err != nil {
		attrs = append(attrs, slog.String("error", ev.Err.Error()))
		o.logger.LogAttrs(context.Background(), slog.LevelWarn, "order failed", attrs...)
		return
	}
	o.logger.LogAttrs(context.Background(), slog.LevelInfo, "order complete", attrs...)
}

// BatchEvaluated implements generator.Observer by recording one
// "batch" decision per generator iteration.
func (dl *DecisionLogger) BatchEvaluated(ev generator.BatchEvent) {
	if dl == nil {
		return
	}
	rejected := make(map[string]int, len(ev.Rejections))
	for _, r := range ev.Rejections {
		rejected[r.Predicate] = r.Count
	}
	dl.Record(Decision{
		Event:    "batch",
		Order:    ev.Order.Index,
		Batch:    ev.Iteration,
		Drawn:    ev.Drawn,
		Accepted: ev.Accepted,
		Created:  ev.Created,
		Rejected: rejected,
	})
}

// OrderFinished implements generator.Observer.
func (dl *DecisionLogger) OrderFinished(ev generator.OrderEvent) {
	if dl == nil {
		return
	}
	d := Decision{
		Event:   "order",
		Order:   ev.Order.Index,
		State:   ev.State.String(),
		Quota:   ev.Order.Quota,
		Created: ev.Created,
		Batches: ev.Batches,
		Drawn:   ev.Drawn,
	}
	if ev.Err != nil {
		d.Error = ev.Err.Error()
	}
	dl.Record(d)
}

var (
	_ generator.Observer = (*Observer)(nil)
	_ generator.Observer = (*DecisionLogger)(nil)
)
