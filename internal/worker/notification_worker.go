package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-tracker/internal/events"
	"github.com/spec-kit/ticket-tracker/internal/service"
)

const defaultQueueSize = 256

type job struct {
	event   events.Event
	handler events.EventHandler
}

// NotificationWorker runs notification handlers off the request path. Events
// published on the dispatcher are queued and handled by one goroutine.
type NotificationWorker struct {
	queue  chan job
	logger *zap.Logger
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// StartNotificationWorker subscribes the notification handlers on dispatcher
// and starts draining them until ctx is done or Stop is called.
func StartNotificationWorker(ctx context.Context, dispatcher events.Dispatcher, notifications *service.NotificationService, logger *zap.Logger, queueSize int) *NotificationWorker {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &NotificationWorker{
		queue:  make(chan job, queueSize),
		logger: logger,
	}
	if dispatcher == nil || notifications == nil {
		w.closed = true
		close(w.queue)
		return w
	}

	for eventType, handler := range notifications.Handlers() {
		handler := handler
		dispatcher.Subscribe(eventType, func(_ context.Context, event events.Event) error {
			w.enqueue(job{event: event, handler: handler})
			return nil
		})
	}

	w.wg.Add(1)
	go w.run(ctx)
	return w
}

func (w *NotificationWorker) enqueue(j job) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	select {
	case w.queue <- j:
	default:
		w.logger.Warn("notification queue full; dropping event",
			zap.String("event_type", string(j.event.Type)),
			zap.String("ticket_id", j.event.TicketID))
	}
}

func (w *NotificationWorker) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			w.drain()
			return
		case j, ok := <-w.queue:
			if !ok {
				return
			}
			w.handle(ctx, j)
		}
	}
}

func (w *NotificationWorker) drain() {
	for j := range w.queue {
		w.handle(context.Background(), j)
	}
}

func (w *NotificationWorker) handle(ctx context.Context, j job) {
	if err := j.handler(ctx, j.event); err != nil {
		w.logger.Warn("notification handler failed",
			zap.String("event_type", string(j.event.Type)),
			zap.Error(err))
	}
}

// Stop stops accepting events. Queued events are still handled.
func (w *NotificationWorker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.queue)
}

// Wait blocks until every queued event has been handled. Call after Stop.
func (w *NotificationWorker) Wait() {
	w.wg.Wait()
}
