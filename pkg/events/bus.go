package events

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jscharber/convosense/pkg/logger"
	"github.com/jscharber/convosense/pkg/metrics"
)

var (
	ErrBusStopped = errors.New("event bus is not running")
	ErrQueueFull  = errors.New("event queue is full")
)

// BusConfig contains configuration for the event bus
type BusConfig struct {
	QueueSize      int           `yaml:"queue_size" json:"queue_size" env:"EVENTS_QUEUE_SIZE" default:"1024"`
	WorkerCount    int           `yaml:"worker_count" json:"worker_count" env:"EVENTS_WORKER_COUNT" default:"2"`
	HandlerTimeout time.Duration `yaml:"handler_timeout" json:"handler_timeout" env:"EVENTS_HANDLER_TIMEOUT" default:"10s"`
}

// DefaultBusConfig returns default configuration
func DefaultBusConfig() BusConfig {
	return BusConfig{
		QueueSize:      1024,
		WorkerCount:    2,
		HandlerTimeout: 10 * time.Second,
	}
}

type subscription struct {
	name    string
	types   map[string]bool
	handler Handler
}

func (s subscription) wants(eventType string) bool {
	return len(s.types) == 0 || s.types[eventType]
}

// Bus queues published events and fans them out to subscribers on a worker pool.
// Each worker owns one queue and events are routed by conversation id, so events
// for the same conversation are handled in publish order.
// Publish never blocks on a subscriber.
type Bus struct {
	config  BusConfig
	queues  []chan queued
	tracer  trace.Tracer
	logger  *logger.Logger
	metrics *metrics.ServiceMetrics

	mu      sync.RWMutex
	subs    []subscription
	running bool
	wg      sync.WaitGroup
}

type queued struct {
	ctx   context.Context
	event *Event
}

// NewBus creates a stopped bus.
func NewBus(config BusConfig, log *logger.Logger, m *metrics.ServiceMetrics) *Bus {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultBusConfig().QueueSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}
	if config.HandlerTimeout <= 0 {
		config.HandlerTimeout = DefaultBusConfig().HandlerTimeout
	}
	if log == nil {
		log = logger.GetDefault()
	}

	// QueueSize bounds the total across workers
	perWorker := (config.QueueSize + config.WorkerCount - 1) / config.WorkerCount
	queues := make([]chan queued, config.WorkerCount)
	for i := range queues {
		queues[i] = make(chan queued, perWorker)
	}
	return &Bus{
		config:  config,
		queues:  queues,
		tracer:  otel.Tracer("convosense/events"),
		logger:  log.WithField("component", "event-bus"),
		metrics: m,
	}
}

// Subscribe registers handler for eventTypes, or for every type when none are given.
func (b *Bus) Subscribe(name string, handler Handler, eventTypes ...string) {
	types := make(map[string]bool, len(eventTypes))
	for _, t := range eventTypes {
		types[t] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{name: name, types: types, handler: handler})
}

// Start launches the worker pool.
func (b *Bus) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return fmt.Errorf("event bus is already running")
	}
	b.running = true

	for _, queue := range b.queues {
		b.wg.Add(1)
		go func(queue <-chan queued) {
			defer b.wg.Done()
			for q := range queue {
				b.dispatch(q.ctx, q.event)
			}
		}(queue)
	}
	return nil
}

// Stop drains queued events and waits for the workers to exit.
func (b *Bus) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	for _, queue := range b.queues {
		close(queue)
	}
	b.mu.Unlock()

	b.wg.Wait()
}

// Publish enqueues event. The caller's trace context is carried over but its
// cancellation is not.
func (b *Bus) Publish(ctx context.Context, event *Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.running {
		return ErrBusStopped
	}

	detached := trace.ContextWithSpanContext(context.Background(), trace.SpanContextFromContext(ctx))
	select {
	case b.queueFor(event.ConversationID) <- queued{ctx: detached, event: event}:
		return nil
	default:
		b.logger.WithField("event_type", event.Type).Warn("Dropping event, queue full")
		if b.metrics != nil {
			b.metrics.EventPublishFailures.Inc()
		}
		return ErrQueueFull
	}
}

func (b *Bus) queueFor(conversationID string) chan<- queued {
	if len(b.queues) == 1 {
		return b.queues[0]
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(conversationID))
	return b.queues[h.Sum32()%uint32(len(b.queues))]
}

func (b *Bus) dispatch(ctx context.Context, event *Event) {
	ctx, span := b.tracer.Start(ctx, "events.dispatch",
		trace.WithAttributes(
			attribute.String("event.id", event.ID),
			attribute.String("event.type", event.Type),
			attribute.String("conversation.id", event.ConversationID),
		),
	)
	defer span.End()

	b.mu.RLock()
	subs := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.wants(event.Type) {
			subs = append(subs, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range subs {
		if err := b.deliver(ctx, s, event); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			b.logger.WithFields(map[string]interface{}{
				"subscriber": s.name,
				"event_type": event.Type,
				"event_id":   event.ID,
				"error":      err.Error(),
			}).Error("Event handler failed")
			if b.metrics != nil {
				b.metrics.EventPublishFailures.Inc()
			}
			continue
		}
		if b.metrics != nil {
			b.metrics.EventsPublished.Inc()
		}
	}
}

func (b *Bus) deliver(ctx context.Context, s subscription, event *Event) (err error) {
	ctx, cancel := context.WithTimeout(ctx, b.config.HandlerTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return s.handler.HandleEvent(ctx, event)
}
