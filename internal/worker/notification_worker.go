package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-tracker/internal/events"
)

const drainTimeout = 5 * time.Second

// Deliverer sends one event to its sinks.
type Deliverer interface {
	Deliver(ctx context.Context, event events.Event) error
}

// NotificationWorker moves ticket events off the request path. Events are queued by a
// dispatcher subscription and delivered one at a time by Run.
type NotificationWorker struct {
	deliverer Deliverer
	queue     chan events.Event
	logger    *zap.Logger
}

// NewNotificationWorker builds a worker with a bounded queue.
func NewNotificationWorker(deliverer Deliverer, queueSize int, logger *zap.Logger) *NotificationWorker {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &NotificationWorker{
		deliverer: deliverer,
		queue:     make(chan events.Event, queueSize),
		logger:    logger,
	}
}

// Subscribe registers the worker for every ticket event.
func (w *NotificationWorker) Subscribe(dispatcher events.Dispatcher) {
	for _, eventType := range []events.EventType{
		events.EventTicketCreated,
		events.EventTicketUpdated,
		events.EventTicketStatusChanged,
	} {
		dispatcher.Subscribe(eventType, w.enqueue)
	}
}

// enqueue never blocks the publisher; a full queue drops the event.
func (w *NotificationWorker) enqueue(_ context.Context, event events.Event) error {
	select {
	case w.queue <- event:
	default:
		w.logger.Warn("notification queue full, dropping event",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
		)
	}
	return nil
}

// Run delivers queued events until ctx is cancelled, then drains what is left.
func (w *NotificationWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return nil
		case event := <-w.queue:
			w.deliver(ctx, event)
		}
	}
}

func (w *NotificationWorker) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case event := <-w.queue:
			w.deliver(ctx, event)
		default:
			return
		}
	}
}

func (w *NotificationWorker) deliver(ctx context.Context, event events.Event) {
	if err := w.deliverer.Deliver(ctx, event); err != nil {
		w.logger.Warn("ticket event delivery failed",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err),
		)
	}
}
