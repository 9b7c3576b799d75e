// Package rabbit is the topic/exchange broker adapter, implemented over
// RabbitMQ with github.com/rabbitmq/amqp091-go.
//
// Connect declares a topic exchange, a durable queue bound to it, and a
// dead-letter exchange the queue routes rejected messages to. Prefetch
// mirrors the consumer concurrency ceiling. Handlers run concurrently,
// but ack/nack calls are serialized per channel: the amqp channel is
// not safe for concurrent acknowledgements.
package rabbit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"

	"github.com/hoofworks/paddock/go/bus"
	"github.com/hoofworks/paddock/go/messages"
)

// Config configures one Rabbit adapter instance.
type Config struct {
	// URI is the amqp(s):// connection string.
	URI string
	// Exchange is the adapter-default publish destination.
	Exchange string
	// Consumer configures the consuming queue, when subscribing.
	Consumer bus.ConsumerConfig
}

// DLXSuffix names the dead-letter exchange declared next to Exchange.
const DLXSuffix = ".dlx"

// Rabbit is a bus.Broker over a single AMQP connection.
type Rabbit struct {
	cfg Config

	mu        sync.Mutex // guards connection state
	conn      *amqp.Connection
	pubCh     *amqp.Channel
	subCh     *amqp.Channel
	handler   bus.Handler
	connected bool
	closing   bool

	ackMu sync.Mutex // serializes ack/nack on subCh

	rootCtx  context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	inFlight sync.WaitGroup
}

// New returns an unconnected adapter for |cfg|.
func New(cfg Config) *Rabbit {
	return &Rabbit{cfg: cfg}
}

var _ bus.Broker = (*Rabbit)(nil)

// Connect dials the broker and declares the exchange, the dead-letter
// exchange, and (when a consumer queue is configured) the queue and its
// bindings. |ctx| spans the life of the connection: its cancellation
// propagates into in-flight handler invocations, so handlers observe
// host shutdown. Idempotent: a second call on a live connection is a
// no-op.
func (r *Rabbit) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.connected {
		return nil
	}
	if err := r.dialAndDeclareLocked(); err != nil {
		return err
	}
	r.rootCtx, r.cancel = context.WithCancel(ctx)
	r.connected = true

	// Watch for transient connection loss and reconnect.
	var closeCh = r.conn.NotifyClose(make(chan *amqp.Error, 1))
	r.wg.Add(1)
	go r.watchConnection(closeCh)
	return nil
}

func (r *Rabbit) dialAndDeclareLocked() error {
	var conn, err = amqp.Dial(r.cfg.URI)
	if err != nil {
		return fmt.Errorf("dialing rabbit: %w", err)
	}
	pubCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("opening publish channel: %w", err)
	}

	if r.cfg.Exchange != "" {
		if err = pubCh.ExchangeDeclare(r.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
			conn.Close()
			return fmt.Errorf("declaring exchange %q: %w", r.cfg.Exchange, err)
		}
		if err = pubCh.ExchangeDeclare(r.cfg.Exchange+DLXSuffix, "topic", true, false, false, false, nil); err != nil {
			conn.Close()
			return fmt.Errorf("declaring dead-letter exchange: %w", err)
		}
	}

	var subCh *amqp.Channel
	if r.cfg.Consumer.Queue != "" {
		if err = (&r.cfg.Consumer).Validate(); err != nil {
			conn.Close()
			return err
		}
		if subCh, err = conn.Channel(); err != nil {
			conn.Close()
			return fmt.Errorf("opening consume channel: %w", err)
		}
		if err = r.declareQueue(subCh); err != nil {
			conn.Close()
			return err
		}
		if err = subCh.Qos(r.cfg.Consumer.PrefetchCount, 0, false); err != nil {
			conn.Close()
			return fmt.Errorf("setting prefetch: %w", err)
		}
	}

	r.conn, r.pubCh, r.subCh = conn, pubCh, subCh
	return nil
}

func (r *Rabbit) declareQueue(ch *amqp.Channel) error {
	var queue = r.cfg.Consumer.Queue
	var args amqp.Table
	if r.cfg.Exchange != "" {
		args = amqp.Table{"x-dead-letter-exchange": r.cfg.Exchange + DLXSuffix}
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declaring queue %q: %w", queue, err)
	}
	if r.cfg.Exchange == "" {
		return nil
	}
	// The queue receives every subject published to the exchange; the
	// statically-typed consumer owns schema dispatch.
	if err := ch.QueueBind(queue, "#", r.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("binding queue %q: %w", queue, err)
	}
	// Dead-lettered messages land on a mirror queue for operators.
	if _, err := ch.QueueDeclare(queue+".dlq", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring dead-letter queue: %w", err)
	}
	if err := ch.QueueBind(queue+".dlq", "#", r.cfg.Exchange+DLXSuffix, false, nil); err != nil {
		return fmt.Errorf("binding dead-letter queue: %w", err)
	}
	return nil
}

// Publish serializes |value| to JSON and publishes it to the effective
// destination with the subject as routing key. A zero Destination falls
// back to the adapter's configured exchange.
func (r *Rabbit) Publish(ctx context.Context, value any, opts bus.PublishOptions) error {
	if value == nil {
		return bus.ErrNilMessage
	}
	r.mu.Lock()
	var ch, connected = r.pubCh, r.connected
	r.mu.Unlock()
	if !connected {
		return fmt.Errorf("rabbit adapter is not connected")
	}

	var body, err = json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", bus.TypeName(value), err)
	}

	var typeName = bus.TypeName(value)
	var messageID = uuid.NewString()
	var correlationID = messageID
	if c, ok := value.(messages.Correlated); ok {
		correlationID = c.Correlation().String()
	}

	var headers = amqp.Table{"MessageType": typeName}
	for k, v := range opts.Metadata {
		headers[k] = v
	}

	var exchange = opts.Destination
	if exchange == "" {
		exchange = r.cfg.Exchange
	}
	var key = opts.Subject
	if key == "" {
		key = typeName
	}

	err = ch.PublishWithContext(ctx, exchange, key, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     messageID,
		CorrelationId: correlationID,
		Type:          typeName,
		Timestamp:     time.Now().UTC(),
		Headers:       headers,
		Body:          body,
	})
	bus.CountPublish(typeName, err)
	if err != nil {
		return fmt.Errorf("publishing %s to %q: %w", typeName, exchange, err)
	}
	return nil
}

// Subscribe starts consuming the configured queue, dispatching each
// delivery to |handler| on its own goroutine. Concurrency is capped by
// the channel prefetch set at Connect.
func (r *Rabbit) Subscribe(handler bus.Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.connected {
		return fmt.Errorf("rabbit adapter is not connected")
	}
	if r.subCh == nil {
		return fmt.Errorf("no consumer queue configured")
	}
	r.handler = handler
	return r.startConsumeLocked()
}

func (r *Rabbit) startConsumeLocked() error {
	var deliveries, err = r.subCh.Consume(r.cfg.Consumer.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consuming %q: %w", r.cfg.Consumer.Queue, err)
	}
	r.wg.Add(1)
	go r.consumeLoop(deliveries)
	return nil
}

func (r *Rabbit) consumeLoop(deliveries <-chan amqp.Delivery) {
	defer r.wg.Done()
	for d := range deliveries {
		bus.CountDelivery(r.cfg.Consumer.Queue)
		r.inFlight.Add(1)
		go func(d amqp.Delivery) {
			defer r.inFlight.Done()
			r.dispatch(d)
		}(d)
	}
}

// settlement is the broker action taken for one handler result.
type settlement int

const (
	settleAck settlement = iota
	settleRequeue
	settleReject
)

// settlementFor maps a handler result onto the AMQP settlement: ack,
// nack-with-requeue, or nack-without-requeue (routed to the DLX).
func settlementFor(result bus.ProcessingResult) settlement {
	switch {
	case result.Ok():
		return settleAck
	case result.Requeue():
		return settleRequeue
	default:
		return settleReject
	}
}

func (r *Rabbit) dispatch(d amqp.Delivery) {
	var mc = bus.MessageContext{
		MessageID:     d.MessageId,
		CorrelationID: d.CorrelationId,
		MessageType:   d.Type,
		DeliveryTag:   d.DeliveryTag,
		Redelivered:   d.Redelivered,
		Metadata:      headerStrings(d.Headers),
	}
	if mc.MessageType == "" {
		if t, ok := d.Headers["MessageType"].(string); ok {
			mc.MessageType = t
		}
	}

	var result = r.invoke(d.Body, mc)
	bus.CountAck(r.cfg.Consumer.Queue, result)

	r.ackMu.Lock()
	defer r.ackMu.Unlock()
	var err error
	switch settlementFor(result) {
	case settleAck:
		err = d.Ack(false)
	case settleRequeue:
		err = d.Nack(false, true)
	default:
		err = d.Nack(false, false)
	}
	if err != nil {
		log.WithFields(log.Fields{
			"messageId":   mc.MessageID,
			"deliveryTag": mc.DeliveryTag,
			"error":       err,
		}).Error("failed to settle delivery")
	}
}

// invoke runs the handler, converting a panic or escaped error into a
// poison response (nack without requeue).
func (r *Rabbit) invoke(body []byte, mc bus.MessageContext) (result bus.ProcessingResult) {
	defer func() {
		if p := recover(); p != nil {
			log.WithFields(log.Fields{
				"messageId":   mc.MessageID,
				"deliveryTag": mc.DeliveryTag,
				"panic":       p,
			}).Error("handler panicked")
			result = bus.Failure(fmt.Errorf("handler panic: %v", p), false)
		}
	}()
	result = r.handler(r.rootCtx, body, mc)
	if err := result.Err(); err != nil {
		log.WithFields(log.Fields{
			"messageId":   mc.MessageID,
			"deliveryTag": mc.DeliveryTag,
			"requeue":     result.Requeue(),
			"error":       err,
		}).Warn("handler failed")
	}
	return result
}

func (r *Rabbit) watchConnection(closeCh <-chan *amqp.Error) {
	defer r.wg.Done()
	var amqpErr, ok = <-closeCh
	if !ok || amqpErr == nil {
		return // Deliberate close.
	}
	log.WithField("error", amqpErr).Warn("rabbit connection lost; reconnecting")

	for attempt := 1; ; attempt++ {
		r.mu.Lock()
		if r.closing {
			r.mu.Unlock()
			return
		}
		var err = r.dialAndDeclareLocked()
		if err == nil && r.handler != nil {
			err = r.startConsumeLocked()
		}
		if err == nil {
			var next = r.conn.NotifyClose(make(chan *amqp.Error, 1))
			r.wg.Add(1)
			go r.watchConnection(next)
			r.mu.Unlock()
			log.Info("rabbit reconnected")
			return
		}
		r.mu.Unlock()

		var backoff = time.Duration(attempt) * time.Second
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
		log.WithFields(log.Fields{"attempt": attempt, "error": err}).Warn("rabbit reconnect failed")
		time.Sleep(backoff)
	}
}

// Disconnect cancels in-flight handlers, waits for their ack/nack to
// settle, and closes the channels and connection. Safe to call without
// a prior Connect.
func (r *Rabbit) Disconnect(ctx context.Context) error {
	r.mu.Lock()
	if !r.connected {
		r.mu.Unlock()
		return nil
	}
	r.closing = true
	r.connected = false
	var conn, cancel = r.conn, r.cancel
	r.mu.Unlock()

	// Cancel first so handlers stop promptly; the drain wait below is
	// for settlement only.
	cancel()
	var drained = make(chan struct{})
	go func() {
		r.inFlight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
	}

	if err := conn.Close(); err != nil {
		return fmt.Errorf("closing rabbit connection: %w", err)
	}
	r.wg.Wait()
	return nil
}

func headerStrings(t amqp.Table) map[string]string {
	if len(t) == 0 {
		return nil
	}
	var out = make(map[string]string, len(t))
	for k, v := range t {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
