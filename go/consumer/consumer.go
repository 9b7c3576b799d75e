// Package consumer bridges broker deliveries to domain processors. A
// Consumer[M] deserializes each delivery into its statically-known
// message type, opens a fresh per-message scope, and translates the
// processor's verdict into the broker ack/nack.
package consumer

import (
	"context"
	"encoding/json"

	log "github.com/sirupsen/logrus"

	"github.com/hoofworks/paddock/go/bus"
)

// Processor executes the domain work for one delivered message.
// Implementations must honor ctx cancellation at every I/O boundary and
// return Failure(err, true) when cancelled mid-flight.
type Processor[M any] interface {
	Process(ctx context.Context, msg M, mc bus.MessageContext) bus.ProcessingResult
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc[M any] func(ctx context.Context, msg M, mc bus.MessageContext) bus.ProcessingResult

func (f ProcessorFunc[M]) Process(ctx context.Context, msg M, mc bus.MessageContext) bus.ProcessingResult {
	return f(ctx, msg, mc)
}

// Scope opens the per-message dependency scope: it returns a processor
// wired to fresh scoped collaborators, plus a release function invoked
// once the message is handled.
type Scope[M any] func() (Processor[M], func())

// Singleton adapts a long-lived processor into a trivial Scope.
func Singleton[M any](p Processor[M]) Scope[M] {
	return func() (Processor[M], func()) { return p, func() {} }
}

// Consumer subscribes one message type on one broker queue.
type Consumer[M any] struct {
	name   string
	broker bus.Broker
	scope  Scope[M]
}

// New returns a Consumer of M reading from |broker|. |name| labels logs
// and is typically the queue name.
func New[M any](name string, broker bus.Broker, scope Scope[M]) *Consumer[M] {
	return &Consumer[M]{name: name, broker: broker, scope: scope}
}

// Start connects the broker and subscribes the bridge handler.
func (c *Consumer[M]) Start(ctx context.Context) error {
	if err := c.broker.Connect(ctx); err != nil {
		return err
	}
	return c.broker.Subscribe(c.handle)
}

// Stop disconnects the broker, draining in-flight deliveries. It never
// returns an error: shutdown failures are logged and swallowed.
func (c *Consumer[M]) Stop(ctx context.Context) {
	if err := c.broker.Disconnect(ctx); err != nil {
		log.WithFields(log.Fields{"consumer": c.name, "error": err}).Warn("broker disconnect failed")
	}
}

func (c *Consumer[M]) handle(ctx context.Context, body []byte, mc bus.MessageContext) bus.ProcessingResult {
	var zero M
	var want = bus.TypeName(zero)

	// An unrecognized schema is logged and acknowledged rather than
	// poison-looped through redelivery.
	if mc.MessageType != "" && mc.MessageType != want {
		log.WithFields(log.Fields{
			"consumer":    c.name,
			"messageId":   mc.MessageID,
			"messageType": mc.MessageType,
			"expected":    want,
		}).Warn("skipping message of unexpected type")
		return bus.Success()
	}

	var msg M
	if err := json.Unmarshal(body, &msg); err != nil {
		log.WithFields(log.Fields{
			"consumer":    c.name,
			"messageId":   mc.MessageID,
			"deliveryTag": mc.DeliveryTag,
			"error":       err,
		}).Warn("skipping undecodable message")
		return bus.Success()
	}

	var processor, release = c.scope()
	defer release()
	return processor.Process(ctx, msg, mc)
}
