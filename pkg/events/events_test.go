package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jscharber/convosense/pkg/logger"
	"github.com/jscharber/convosense/pkg/metrics"
)

type recorder struct {
	mu     sync.Mutex
	events []*Event
}

func (r *recorder) HandleEvent(ctx context.Context, e *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func newTestBus(t *testing.T) (*Bus, *metrics.ServiceMetrics) {
	t.Helper()
	m := metrics.NewServiceMetrics(metrics.NewRegistry())
	bus := NewBus(BusConfig{QueueSize: 16, WorkerCount: 1}, logger.NewNopLogger(), m)
	return bus, m
}

func TestNewEvent(t *testing.T) {
	e := NewEvent(EventConversationCreated, "abc", map[string]string{"k": "v"})
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "abc", e.ConversationID)
	assert.False(t, e.Time.IsZero())
}

func TestBus_FiltersByType(t *testing.T) {
	bus, m := newTestBus(t)
	all := &recorder{}
	deletes := &recorder{}
	bus.Subscribe("all", all)
	bus.Subscribe("deletes", deletes, EventConversationDeleted)
	require.NoError(t, bus.Start())

	require.NoError(t, bus.Publish(context.Background(), NewEvent(EventConversationCreated, "1", nil)))
	require.NoError(t, bus.Publish(context.Background(), NewEvent(EventConversationDeleted, "1", nil)))
	bus.Stop()

	assert.Equal(t, []string{EventConversationCreated, EventConversationDeleted}, all.types())
	assert.Equal(t, []string{EventConversationDeleted}, deletes.types())
	assert.Equal(t, int64(3), m.EventsPublished.Value())
}

func TestBus_HandlerFailureDoesNotStopDelivery(t *testing.T) {
	bus, m := newTestBus(t)
	ok := &recorder{}
	bus.Subscribe("failing", HandlerFunc(func(ctx context.Context, e *Event) error {
		return errors.New("broker down")
	}))
	bus.Subscribe("panicking", HandlerFunc(func(ctx context.Context, e *Event) error {
		panic("boom")
	}))
	bus.Subscribe("ok", ok)
	require.NoError(t, bus.Start())

	require.NoError(t, bus.Publish(context.Background(), NewEvent(EventConversationUpdated, "1", nil)))
	bus.Stop()

	assert.Equal(t, []string{EventConversationUpdated}, ok.types())
	assert.Equal(t, int64(2), m.EventPublishFailures.Value())
}

func TestBus_PublishWhenStopped(t *testing.T) {
	bus, _ := newTestBus(t)
	assert.ErrorIs(t, bus.Publish(context.Background(), NewEvent(EventConversationCreated, "1", nil)), ErrBusStopped)

	require.NoError(t, bus.Start())
	assert.Error(t, bus.Start())
	bus.Stop()
	bus.Stop()
}

func TestBus_QueueFull(t *testing.T) {
	m := metrics.NewServiceMetrics(metrics.NewRegistry())
	bus := NewBus(BusConfig{QueueSize: 1, WorkerCount: 1}, logger.NewNopLogger(), m)

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	bus.Subscribe("slow", HandlerFunc(func(ctx context.Context, e *Event) error {
		started <- struct{}{}
		<-release
		return nil
	}))
	require.NoError(t, bus.Start())
	defer bus.Stop()
	defer close(release)

	require.NoError(t, bus.Publish(context.Background(), NewEvent(EventConversationCreated, "1", nil)))
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not start")
	}
	require.NoError(t, bus.Publish(context.Background(), NewEvent(EventConversationCreated, "2", nil)))
	assert.ErrorIs(t, bus.Publish(context.Background(), NewEvent(EventConversationCreated, "3", nil)), ErrQueueFull)
}

func TestBus_PreservesOrderPerConversation(t *testing.T) {
	bus := NewBus(BusConfig{QueueSize: 256, WorkerCount: 4}, logger.NewNopLogger(), nil)

	var mu sync.Mutex
	seen := map[string][]string{}
	bus.Subscribe("room", HandlerFunc(func(ctx context.Context, e *Event) error {
		// a slow first event lets later ones overtake it if they reach another worker
		if e.Type == EventConversationCreated {
			time.Sleep(5 * time.Millisecond)
		}
		mu.Lock()
		seen[e.ConversationID] = append(seen[e.ConversationID], e.Type)
		mu.Unlock()
		return nil
	}))
	require.NoError(t, bus.Start())

	sequence := []string{EventConversationCreated, EventConversationUpdated, EventConversationUpdated, EventConversationDeleted}
	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, eventType := range sequence {
		for _, id := range ids {
			require.NoError(t, bus.Publish(context.Background(), NewEvent(eventType, id, nil)))
		}
	}
	bus.Stop()

	for _, id := range ids {
		assert.Equal(t, sequence, seen[id], "conversation %s", id)
	}
}

func TestBus_QueueForIsStable(t *testing.T) {
	bus := NewBus(BusConfig{QueueSize: 8, WorkerCount: 3}, logger.NewNopLogger(), nil)
	require.Len(t, bus.queues, 3)
	assert.Equal(t, 3, cap(bus.queues[0]))

	first := bus.queueFor("6f1c2a34-9d7e-4b1a-8c55-0e2d3f4a5b6c")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, bus.queueFor("6f1c2a34-9d7e-4b1a-8c55-0e2d3f4a5b6c"))
	}
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), NewEvent(EventConversationCreated, "1", nil)))
}

func TestKafkaConfig_Validate(t *testing.T) {
	cfg := DefaultKafkaConfig()
	assert.NoError(t, cfg.Validate())

	cfg.Enabled = true
	assert.NoError(t, cfg.Validate())

	cfg.Brokers = nil
	assert.Error(t, cfg.Validate())

	cfg = DefaultKafkaConfig()
	cfg.Enabled = true
	cfg.SecurityProtocol = "SASL_SSL"
	assert.Error(t, cfg.Validate())
}

func TestKafkaConfig_ConfigMap(t *testing.T) {
	cfg := DefaultKafkaConfig()
	cfg.Brokers = []string{"a:9092", "b:9092"}
	cm := cfg.configMap()

	v, err := cm.Get("bootstrap.servers", "")
	require.NoError(t, err)
	assert.Equal(t, "a:9092,b:9092", v)

	v, err = cm.Get("sasl.mechanism", nil)
	require.NoError(t, err)
	assert.Nil(t, v, "plaintext connections carry no SASL settings")
}

func TestBuildMessage(t *testing.T) {
	e := NewEvent(EventConversationUpdated, "conv-1", map[string]int{"n": 1})
	msg, err := buildMessage(context.Background(), "topic", e)
	require.NoError(t, err)

	assert.Equal(t, "topic", *msg.TopicPartition.Topic)
	assert.Equal(t, []byte("conv-1"), msg.Key)
	require.NotEmpty(t, msg.Headers)
	assert.Equal(t, "event-type", msg.Headers[0].Key)
	assert.Equal(t, EventConversationUpdated, string(msg.Headers[0].Value))

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, e.ID, decoded.ID)
}
