// Package bustest provides an in-memory bus.Broker for tests: it
// records publishes, pumps deliveries through a subscribed handler with
// at-least-once redelivery semantics, and can be rigged to fail
// publishes of a chosen message type.
package bustest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/hoofworks/paddock/go/bus"
	"github.com/hoofworks/paddock/go/messages"
)

// Envelope is one recorded publish, as a broker would frame it.
type Envelope struct {
	Destination   string
	Subject       string
	MessageType   string
	MessageID     string
	CorrelationID string
	Metadata      map[string]string
	Body          []byte

	deliveries int
}

// Broker is an in-memory bus.Broker. All methods are safe for
// concurrent use; delivery is driven explicitly via DeliverAll so tests
// stay deterministic.
type Broker struct {
	mu        sync.Mutex
	connected bool
	handler   bus.Handler
	rootCtx   context.Context

	queue      []*Envelope
	published  []*Envelope
	deadLetter []Envelope

	failType map[string]error
	failNext error

	// MaxRedeliveries bounds requeue loops in DeliverAll. Default 5.
	MaxRedeliveries int
}

// NewBroker returns an empty in-memory broker.
func NewBroker() *Broker {
	return &Broker{failType: make(map[string]error), MaxRedeliveries: 5}
}

var _ bus.Broker = (*Broker)(nil)

// Connect marks the broker connected. As in the real adapters, |ctx|
// spans the connection and is the context handlers are invoked on.
// Idempotent.
func (b *Broker) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	b.rootCtx = ctx
	return nil
}

// FailNextPublish rigs the next publish of any type to fail with |err|.
func (b *Broker) FailNextPublish(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNext = err
}

// FailPublishesOf rigs every publish of |typeName| to fail with |err|,
// until cleared with a nil err.
func (b *Broker) FailPublishesOf(typeName string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.failType, typeName)
	} else {
		b.failType[typeName] = err
	}
}

// Publish records the message and enqueues it for delivery.
func (b *Broker) Publish(_ context.Context, value any, opts bus.PublishOptions) error {
	if value == nil {
		return bus.ErrNilMessage
	}
	var typeName = bus.TypeName(value)

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return fmt.Errorf("bustest broker is not connected")
	}
	if err := b.failNext; err != nil {
		b.failNext = nil
		bus.CountPublish(typeName, err)
		return err
	}
	if err, ok := b.failType[typeName]; ok {
		bus.CountPublish(typeName, err)
		return err
	}

	var body, err = json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", typeName, err)
	}
	var messageID = uuid.NewString()
	var correlationID = messageID
	if c, ok := value.(messages.Correlated); ok {
		correlationID = c.Correlation().String()
	}
	var env = &Envelope{
		Destination:   opts.Destination,
		Subject:       opts.Subject,
		MessageType:   typeName,
		MessageID:     messageID,
		CorrelationID: correlationID,
		Metadata:      opts.Metadata,
		Body:          body,
	}
	b.published = append(b.published, env)
	b.queue = append(b.queue, env)
	bus.CountPublish(typeName, nil)
	return nil
}

// Subscribe binds the handler used by DeliverAll.
func (b *Broker) Subscribe(handler bus.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return fmt.Errorf("bustest broker is not connected")
	}
	b.handler = handler
	return nil
}

// DeliverAll pumps queued messages through the subscribed handler until
// the queue drains. Requeued messages are redelivered (bounded by
// MaxRedeliveries, then dead-lettered); rejected messages dead-letter
// immediately. Returns the number of handler invocations.
func (b *Broker) DeliverAll(ctx context.Context) int {
	var delivered int
	for {
		b.mu.Lock()
		if len(b.queue) == 0 || b.handler == nil {
			b.mu.Unlock()
			return delivered
		}
		var env = b.queue[0]
		b.queue = b.queue[1:]
		var handler = b.handler
		var hctx = b.handlerContextLocked(ctx)
		b.mu.Unlock()

		delivered++
		b.deliverOne(hctx, handler, env)
	}
}

// DeliverConcurrently pumps like DeliverAll, but invokes the handler on
// up to |limit| goroutines, mirroring the adapters' concurrency
// ceiling.
func (b *Broker) DeliverConcurrently(ctx context.Context, limit int) int {
	var sem = semaphore.NewWeighted(int64(limit))
	var wg sync.WaitGroup
	var delivered atomic.Int64

	for {
		b.mu.Lock()
		if len(b.queue) == 0 || b.handler == nil {
			b.mu.Unlock()
			// The queue may refill while handlers requeue; re-check
			// once every in-flight delivery has settled.
			wg.Wait()
			b.mu.Lock()
			var done = len(b.queue) == 0 || b.handler == nil
			b.mu.Unlock()
			if done {
				break
			}
			continue
		}
		var env = b.queue[0]
		b.queue = b.queue[1:]
		var handler = b.handler
		var hctx = b.handlerContextLocked(ctx)
		b.mu.Unlock()

		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(env *Envelope) {
			defer wg.Done()
			defer sem.Release(1)
			delivered.Add(1)
			b.deliverOne(hctx, handler, env)
		}(env)
	}
	wg.Wait()
	return int(delivered.Load())
}

// Handlers run on the Connect context, as the broker adapters run them
// on theirs; cancelling it models host shutdown reaching a processor.
func (b *Broker) handlerContextLocked(fallback context.Context) context.Context {
	if b.rootCtx != nil {
		return b.rootCtx
	}
	return fallback
}

func (b *Broker) deliverOne(ctx context.Context, handler bus.Handler, env *Envelope) {
	b.mu.Lock()
	env.deliveries++
	var attempt = env.deliveries
	b.mu.Unlock()

	var mc = bus.MessageContext{
		MessageID:     env.MessageID,
		CorrelationID: env.CorrelationID,
		MessageType:   env.MessageType,
		DeliveryTag:   uint64(attempt),
		Redelivered:   attempt > 1,
		Metadata:      env.Metadata,
	}
	var result = handler(ctx, env.Body, mc)
	bus.CountAck("bustest", result)

	b.mu.Lock()
	switch {
	case result.Ok():
		// Acked; dropped.
	case result.Requeue() && attempt <= b.MaxRedeliveries:
		b.queue = append(b.queue, env)
	default:
		b.deadLetter = append(b.deadLetter, *env)
	}
	b.mu.Unlock()
}

// Disconnect drops the handler. Safe without a prior Connect.
func (b *Broker) Disconnect(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	b.handler = nil
	return nil
}

// Published returns every successfully published envelope, in order.
func (b *Broker) Published() []Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out = make([]Envelope, len(b.published))
	for i, env := range b.published {
		out[i] = *env
	}
	return out
}

// PublishedOf returns published envelopes of |typeName|, in order.
func (b *Broker) PublishedOf(typeName string) []Envelope {
	var out []Envelope
	for _, env := range b.Published() {
		if env.MessageType == typeName {
			out = append(out, env)
		}
	}
	return out
}

// DeadLettered returns envelopes routed to the dead-letter queue.
func (b *Broker) DeadLettered() []Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Envelope(nil), b.deadLetter...)
}

// Deliveries reports how many times the message |messageID| was
// delivered to the handler.
func (b *Broker) Deliveries(messageID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, env := range b.published {
		if env.MessageID == messageID {
			return env.deliveries
		}
	}
	return 0
}
