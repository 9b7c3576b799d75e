// Package bus is the provider-agnostic message bus of the paddock
// workers. It defines the publish/subscribe contract implemented by the
// broker adapters (go/bus/rabbit, go/bus/sbus), the routing publisher
// that maps message types to destinations, and provider selection.
package bus

import (
	"context"
	"errors"
	"reflect"
)

// ErrNilMessage is returned by publishers handed a nil message value.
var ErrNilMessage = errors.New("cannot publish a nil message")

// PublishOptions carry per-publish overrides. Zero values defer to the
// routing configuration and finally to the adapter defaults.
type PublishOptions struct {
	// Destination is an exchange (Rabbit) or queue/topic (Service Bus).
	Destination string
	// Subject is a routing key (Rabbit) or message subject (Service Bus).
	Subject string
	// Metadata is copied into provider-native message headers.
	Metadata map[string]string
}

// MessageContext describes a single broker delivery to its handler.
type MessageContext struct {
	MessageID     string
	CorrelationID string
	// MessageType is the simple type name of the published value.
	MessageType string
	// DeliveryTag identifies the delivery for ack bookkeeping. Its
	// meaning is provider-specific; it is carried for logging.
	DeliveryTag uint64
	Redelivered bool
	Metadata    map[string]string
}

// ProcessingResult is the handler's verdict on a delivery, bridged by
// the adapter into ack/nack.
type ProcessingResult struct {
	ok      bool
	requeue bool
	err     error
}

// Success acks the delivery.
func Success() ProcessingResult { return ProcessingResult{ok: true} }

// Failure nacks the delivery. With requeue the broker redelivers;
// without it the message routes to the broker's dead-letter mechanism.
func Failure(err error, requeue bool) ProcessingResult {
	return ProcessingResult{requeue: requeue, err: err}
}

func (r ProcessingResult) Ok() bool      { return r.ok }
func (r ProcessingResult) Requeue() bool { return r.requeue }
func (r ProcessingResult) Err() error    { return r.err }

// Handler consumes one raw delivery. Adapters invoke handlers
// concurrently up to the configured concurrency ceiling.
type Handler func(ctx context.Context, body []byte, mc MessageContext) ProcessingResult

// Publisher publishes a message value. Implementations serialize the
// value to a JSON body and stamp MessageType and CorrelationId headers.
type Publisher interface {
	Publish(ctx context.Context, value any, opts PublishOptions) error
}

// Broker is the uniform adapter contract over a concrete provider.
// A single Broker is safe for concurrent publishers, and Subscribe
// delivers messages concurrently up to the prefetch ceiling.
type Broker interface {
	Publisher

	// Connect establishes the connection and declares the configured
	// destination. It is idempotent.
	Connect(ctx context.Context) error

	// Subscribe binds the handler to the configured queue or
	// subscription. Connect must have succeeded first.
	Subscribe(handler Handler) error

	// Disconnect drains in-flight acks and closes the connection.
	// Safe to call without a prior Connect.
	Disconnect(ctx context.Context) error
}

// TypeName returns the simple type name used as the routing key space
// for a message value, dereferencing pointers.
func TypeName(value any) string {
	var t = reflect.TypeOf(value)
	if t == nil {
		return ""
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}
