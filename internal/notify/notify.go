// Package notify delivers dispatch events to drivers and admins without
// blocking the caller. Events are queued and fanned out to sinks by a single
// worker; when the queue is full new events are dropped.
package notify

import (
	"context"
	"sync"
	"time"

	"dispatch/internal/logger"
	"dispatch/internal/metrics"
)

// AdminChannel receives escalations and operational summaries.
const AdminChannel = "admin-notifications"

// DriverChannel returns the private channel of a driver.
func DriverChannel(driverID string) string {
	return "driver-" + driverID
}

// DriversChannel broadcasts to every online driver.
const DriversChannel = "drivers"

// Message is one event on one channel.
type Message struct {
	Channel string         `json:"channel"`
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`
	At      time.Time      `json:"at"`
}

// Sink delivers messages to one transport.
type Sink interface {
	Send(ctx context.Context, msg Message) error
}

// Dispatcher queues messages and delivers them to every sink in the
// background.
type Dispatcher struct {
	sinks   []Sink
	queue   chan Message
	log     logger.Logger
	metrics metrics.Recorder
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher with a queue of the given size and
// starts its worker.
func NewDispatcher(size int, log logger.Logger, rec metrics.Recorder, sinks ...Sink) *Dispatcher {
	if size < 1 {
		size = 1
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	d := &Dispatcher{
		sinks:   sinks,
		queue:   make(chan Message, size),
		log:     log,
		metrics: rec,
		timeout: 3 * time.Second,
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Publish enqueues an event. It never blocks and never fails; events are
// dropped when the queue is full or the dispatcher is closed.
func (d *Dispatcher) Publish(ctx context.Context, channel, event string, payload map[string]any) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.Warnf("notification %s on %s dropped: dispatcher closed", event, channel)
		return
	}
	msg := Message{Channel: channel, Event: event, Payload: payload, At: time.Now().UTC()}
	select {
	case d.queue <- msg:
	default:
		d.metrics.NotificationDropped()
		d.log.Warnf("notification %s on %s dropped: queue full", event, channel)
	}
}

// Close stops accepting events and waits for queued ones to be delivered or
// for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
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

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for msg := range d.queue {
		for _, s := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			if err := s.Send(ctx, msg); err != nil {
				d.log.Errorf("notification %s on %s failed: %v", msg.Event, msg.Channel, err)
			}
			cancel()
		}
	}
}

// LogSink writes every message to the log.
type LogSink struct {
	log logger.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(log logger.Logger) *LogSink {
	return &LogSink{log: log}
}

// Send logs the message.
func (s *LogSink) Send(_ context.Context, msg Message) error {
	s.log.Infow("notification", map[string]any{
		"channel": msg.Channel,
		"event":   msg.Event,
		"payload": msg.Payload,
	})
	return nil
}
