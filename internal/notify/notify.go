package notify

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"crypto-tracker/internal/metrics"
	"crypto-tracker/internal/types"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultQueueSize   = 64
	defaultSendTimeout = 10 * time.Second
)

// Notifier accepts triggered events without blocking and never reports delivery failures.
type Notifier interface {
	Notify(event types.TriggeredEvent)
}

// Sink is one delivery channel for triggered events.
type Sink interface {
	Name() string
	Send(ctx context.Context, event types.TriggeredEvent) error
}

// Dispatcher is a bounded queue drained by a single worker that fans events out to sinks.
// When the queue is full the oldest pending event is dropped.
type Dispatcher struct {
	sinks       []Sink
	metrics     *metrics.Metrics
	sendTimeout time.Duration

	mu     sync.Mutex
	queue  chan types.TriggeredEvent
	closed bool

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

func NewDispatcher(size int, m *metrics.Metrics, sinks ...Sink) *Dispatcher {
	if size < 1 {
		size = DefaultQueueSize
	}
	if m == nil {
		m = metrics.New()
	}
	return &Dispatcher{
		sinks:       sinks,
		metrics:     m,
		sendTimeout: defaultSendTimeout,
		queue:       make(chan types.TriggeredEvent, size),
		done:        make(chan struct{}),
	}
}

// Start launches the delivery worker. Calling it more than once has no effect.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		go d.run()
	})
}

func (d *Dispatcher) Notify(event types.TriggeredEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		log.WithField("alert_id", event.AlertID).Warn("Notification dropped, dispatcher is closed")
		d.metrics.NotificationsDropped.Inc()
		return
	}

	for {
		select {
		case d.queue <- event:
			return
		default:
		}

		select {
		case dropped := <-d.queue:
			d.metrics.NotificationsDropped.Inc()
			log.WithFields(log.Fields{"alert_id": dropped.AlertID, "symbol": dropped.Symbol}).
				Warn("Notification queue full, dropping oldest event")
		default:
		}
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for event := range d.queue {
		for _, sink := range d.sinks {
			d.deliver(sink, event)
		}
	}
}

func (d *Dispatcher) deliver(sink Sink, event types.TriggeredEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.NotificationsSent.WithLabelValues(sink.Name(), "panic").Inc()
			log.Errorf("Recovered from panic in %s sink: %v\nStack trace: %s", sink.Name(), r, debug.Stack())
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
	defer cancel()

	if err := sink.Send(ctx, event); err != nil {
		d.metrics.NotificationsSent.WithLabelValues(sink.Name(), "error").Inc()
		log.WithFields(log.Fields{"sink": sink.Name(), "alert_id": event.AlertID}).
			Errorf("Failed to send alert notification: %v", err)
		return
	}
	d.metrics.NotificationsSent.WithLabelValues(sink.Name(), "ok").Inc()
}

// Close stops accepting events and waits for the queue to drain or ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})
	d.Start()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "notification queue not drained")
	}
}
