// Package fanout delivers notification events to every live connection of
// the target identity.
//
// Delivery is best effort and at most once per connection that is open at
// dispatch time. There is no queue: an event for an identity without open
// connections is dropped.
package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/marmos91/dittoshare/internal/logger"
	"github.com/marmos91/dittoshare/pkg/metrics"
	"github.com/marmos91/dittoshare/pkg/notify"
	"github.com/marmos91/dittoshare/pkg/registry"
)

// Result reports what one dispatch did.
type Result struct {
	// Delivered counts connections the message was handed to
	Delivered int

	// Skipped counts connections that were closed, closing or saturated
	Skipped int
}

// Dispatcher fans events out through a connection registry.
type Dispatcher struct {
	registry *registry.Registry
	metrics  metrics.FanoutMetrics
}

// New creates a Dispatcher. Nil metrics discards observations.
func New(reg *registry.Registry, m metrics.FanoutMetrics) *Dispatcher {
	if m == nil {
		m = metrics.NewNoopFanoutMetrics()
	}
	return &Dispatcher{registry: reg, metrics: m}
}

// Dispatch sends event to every open connection of its target.
//
// A connection that refuses the message is skipped; it never stops delivery
// to the identity's other connections. An error is only returned when the
// event itself is unusable.
func (d *Dispatcher) Dispatch(ctx context.Context, event notify.Event) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if err := event.Validate(); err != nil {
		return Result{}, err
	}

	msg, err := json.Marshal(event.Message())
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode %s: %w", event.Kind, err)
	}

	var res Result
	for _, conn := range d.registry.ConnectionsFor(event.TargetIdentity) {
		if !conn.Open() {
			res.Skipped++
			continue
		}

		if err := conn.Send(msg); err != nil {
			if !errors.Is(err, registry.ErrConnectionClosed) {
				logger.Warn("Dropping %s for connection %s of %s: %v", event.Kind, conn.ID(), event.TargetIdentity, err)
			}
			res.Skipped++
			continue
		}
		res.Delivered++
	}

	d.metrics.RecordDispatch(string(event.Kind), res.Delivered, res.Skipped)
	logger.Debug("Dispatched %s for file %s to %s: delivered=%d skipped=%d",
		event.Kind, event.FileID, event.TargetIdentity, res.Delivered, res.Skipped)

	return res, nil
}

// Publish implements notify.Publisher so the file service can dispatch
// in-process when both services share a binary.
func (d *Dispatcher) Publish(ctx context.Context, event notify.Event) error {
	_, err := d.Dispatch(ctx, event)
	return err
}
