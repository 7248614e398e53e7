package notification

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/booking-engine/pkg/logger"
	"github.com/jwalitptl/booking-engine/pkg/metrics"
)

// ErrQueueFull is returned when the dispatcher drops a notification.
var ErrQueueFull = errors.New("notification queue is full")

var ErrClosed = errors.New("notification dispatcher is closed")

type job struct {
	userID    uuid.UUID
	eventType string
	payload   interface{}
}

type DispatcherConfig struct {
	Workers   int
	QueueSize int
	// SendTimeout bounds one delivery to the sink.
	SendTimeout time.Duration
}

// Dispatcher makes a sink fire-and-forget: Notify enqueues and returns at once,
// and worker goroutines deliver in the background.
type Dispatcher struct {
	sink    Notifier
	name    string
	cfg     DispatcherConfig
	queue   chan job
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewDispatcher(sink Notifier, name string, cfg DispatcherConfig, log *logger.Logger, m *metrics.Metrics) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	d := &Dispatcher{
		sink:    sink,
		name:    name,
		cfg:     cfg,
		queue:   make(chan job, cfg.QueueSize),
		logger:  log,
		metrics: m,
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	return d
}

// Notify never blocks. The error only reports a dropped notification.
func (d *Dispatcher) Notify(_ context.Context, userID uuid.UUID, eventType string, payload interface{}) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}

	select {
	case d.queue <- job{userID: userID, eventType: eventType, payload: payload}:
		return nil
	default:
		d.metrics.NotificationsDropped.Inc()
		d.logger.Warn("dropping notification", "event_type", eventType, "user_id", userID.String())
		return ErrQueueFull
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for j := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
		err := d.sink.Notify(ctx, j.userID, j.eventType, j.payload)
		cancel()

		if err != nil {
			d.metrics.NotificationsSent.WithLabelValues(d.name, "error").Inc()
			d.logger.Error(err, "failed to deliver notification",
				"event_type", j.eventType,
				"user_id", j.userID.String())
			continue
		}
		d.metrics.NotificationsSent.WithLabelValues(d.name, "success").Inc()
	}
}

// Close stops accepting notifications and waits for the queue to drain or ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
