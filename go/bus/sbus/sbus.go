// Package sbus is the cloud queue/topic broker adapter, implemented
// over Azure Service Bus with the azservicebus SDK.
//
// Destinations are queues or topics; consuming binds either a queue or
// a topic subscription. Nack-without-requeue maps to the broker-native
// dead-letter sub-queue, nack-with-requeue to message abandonment.
package sbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/hoofworks/paddock/go/bus"
	"github.com/hoofworks/paddock/go/messages"
)

// Config configures one Service Bus adapter instance.
type Config struct {
	// ConnectionString authenticates against the namespace.
	ConnectionString string
	// Destination is the adapter-default queue or topic to publish to.
	Destination string
	// Topic, when set, consumes Consumer.Queue as a subscription of it;
	// otherwise Consumer.Queue names a queue.
	Topic string
	// Consumer configures the consuming queue or subscription.
	Consumer bus.ConsumerConfig
}

// ServiceBus is a bus.Broker over one azservicebus.Client.
type ServiceBus struct {
	cfg Config

	mu        sync.Mutex
	client    *azservicebus.Client
	senders   map[string]*azservicebus.Sender
	receiver  *azservicebus.Receiver
	connected bool

	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New returns an unconnected adapter for |cfg|.
func New(cfg Config) *ServiceBus {
	return &ServiceBus{cfg: cfg, senders: make(map[string]*azservicebus.Sender)}
}

var _ bus.Broker = (*ServiceBus)(nil)

// Connect builds the namespace client and, when a consumer is
// configured, its receiver. |ctx| spans the life of the connection:
// its cancellation propagates into in-flight handler invocations, so
// handlers observe host shutdown. Idempotent.
func (s *ServiceBus) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}
	var client, err = azservicebus.NewClientFromConnectionString(s.cfg.ConnectionString, nil)
	if err != nil {
		return fmt.Errorf("building service bus client: %w", err)
	}

	var receiver *azservicebus.Receiver
	if s.cfg.Consumer.Queue != "" {
		if err = (&s.cfg.Consumer).Validate(); err != nil {
			return err
		}
		if s.cfg.Topic != "" {
			receiver, err = client.NewReceiverForSubscription(s.cfg.Topic, s.cfg.Consumer.Queue, nil)
		} else {
			receiver, err = client.NewReceiverForQueue(s.cfg.Consumer.Queue, nil)
		}
		if err != nil {
			return fmt.Errorf("building receiver for %q: %w", s.cfg.Consumer.Queue, err)
		}
	}

	s.client, s.receiver = client, receiver
	s.rootCtx, s.cancel = context.WithCancel(ctx)
	s.connected = true
	return nil
}

// Publish serializes |value| to JSON and sends it to the effective
// destination. A zero Destination falls back to the adapter default.
func (s *ServiceBus) Publish(ctx context.Context, value any, opts bus.PublishOptions) error {
	if value == nil {
		return bus.ErrNilMessage
	}
	var destination = opts.Destination
	if destination == "" {
		destination = s.cfg.Destination
	}
	var sender, err = s.senderFor(ctx, destination)
	if err != nil {
		return err
	}

	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", bus.TypeName(value), err)
	}

	var typeName = bus.TypeName(value)
	var messageID = uuid.NewString()
	var correlationID = messageID
	if c, ok := value.(messages.Correlated); ok {
		correlationID = c.Correlation().String()
	}
	var subject = opts.Subject
	if subject == "" {
		subject = typeName
	}

	var props = map[string]any{"MessageType": typeName}
	for k, v := range opts.Metadata {
		props[k] = v
	}
	var contentType = "application/json"

	err = sender.SendMessage(ctx, &azservicebus.Message{
		MessageID:             &messageID,
		CorrelationID:         &correlationID,
		Subject:               &subject,
		ContentType:           &contentType,
		Body:                  body,
		ApplicationProperties: props,
	}, nil)
	bus.CountPublish(typeName, err)
	if err != nil {
		return fmt.Errorf("sending %s to %q: %w", typeName, destination, err)
	}
	return nil
}

func (s *ServiceBus) senderFor(ctx context.Context, destination string) (*azservicebus.Sender, error) {
	if destination == "" {
		return nil, fmt.Errorf("no destination configured for publish")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, fmt.Errorf("service bus adapter is not connected")
	}
	if sender, ok := s.senders[destination]; ok {
		return sender, nil
	}
	var sender, err = s.client.NewSender(destination, nil)
	if err != nil {
		return nil, fmt.Errorf("building sender for %q: %w", destination, err)
	}
	s.senders[destination] = sender
	return sender, nil
}

// Subscribe starts the receive loop, dispatching deliveries to
// |handler| with at most Consumer.Concurrency in flight.
func (s *ServiceBus) Subscribe(handler bus.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return fmt.Errorf("service bus adapter is not connected")
	}
	if s.receiver == nil {
		return fmt.Errorf("no consumer queue configured")
	}
	s.wg.Add(1)
	go s.receiveLoop(handler)
	return nil
}

func (s *ServiceBus) receiveLoop(handler bus.Handler) {
	defer s.wg.Done()
	var sem = semaphore.NewWeighted(int64(s.cfg.Consumer.Concurrency))

	for {
		var received, err = s.receiver.ReceiveMessages(s.rootCtx, s.cfg.Consumer.PrefetchCount, nil)
		if err != nil {
			if s.rootCtx.Err() != nil {
				return
			}
			log.WithField("error", err).Warn("service bus receive failed; retrying")
			continue
		}
		for _, msg := range received {
			if err = sem.Acquire(s.rootCtx, 1); err != nil {
				return
			}
			bus.CountDelivery(s.cfg.Consumer.Queue)
			s.wg.Add(1)
			go func(msg *azservicebus.ReceivedMessage) {
				defer s.wg.Done()
				defer sem.Release(1)
				s.dispatch(handler, msg)
			}(msg)
		}
	}
}

// settlement is the broker action taken for one handler result.
type settlement int

const (
	settleComplete settlement = iota
	settleAbandon
	settleDeadLetter
)

// settlementFor maps a handler result onto the Service Bus settlement:
// complete, abandon (redelivered), or dead-letter.
func settlementFor(result bus.ProcessingResult) settlement {
	switch {
	case result.Ok():
		return settleComplete
	case result.Requeue():
		return settleAbandon
	default:
		return settleDeadLetter
	}
}

func (s *ServiceBus) dispatch(handler bus.Handler, msg *azservicebus.ReceivedMessage) {
	var seq uint64
	if msg.SequenceNumber != nil {
		seq = uint64(*msg.SequenceNumber)
	}
	var mc = bus.MessageContext{
		MessageID:   msg.MessageID,
		DeliveryTag: seq,
		Redelivered: msg.DeliveryCount > 1,
		Metadata:    propertyStrings(msg.ApplicationProperties),
	}
	if msg.CorrelationID != nil {
		mc.CorrelationID = *msg.CorrelationID
	}
	if t, ok := msg.ApplicationProperties["MessageType"].(string); ok {
		mc.MessageType = t
	} else if msg.Subject != nil {
		mc.MessageType = *msg.Subject
	}

	var result = s.invoke(handler, msg.Body, mc)
	bus.CountAck(s.cfg.Consumer.Queue, result)

	// Settlement runs on a background context: the delivery must be
	// settled even while the adapter is shutting down.
	var ctx = context.Background()
	var err error
	switch settlementFor(result) {
	case settleComplete:
		err = s.receiver.CompleteMessage(ctx, msg, nil)
	case settleAbandon:
		err = s.receiver.AbandonMessage(ctx, msg, nil)
	default:
		var reason = "processing failed"
		var detail string
		if result.Err() != nil {
			detail = result.Err().Error()
		}
		err = s.receiver.DeadLetterMessage(ctx, msg, &azservicebus.DeadLetterOptions{
			Reason:           &reason,
			ErrorDescription: &detail,
		})
	}
	if err != nil {
		log.WithFields(log.Fields{
			"messageId":      mc.MessageID,
			"sequenceNumber": msg.SequenceNumber,
			"error":          err,
		}).Error("failed to settle delivery")
	}
}

func (s *ServiceBus) invoke(handler bus.Handler, body []byte, mc bus.MessageContext) (result bus.ProcessingResult) {
	defer func() {
		if p := recover(); p != nil {
			log.WithFields(log.Fields{
				"messageId": mc.MessageID,
				"panic":     p,
			}).Error("handler panicked")
			result = bus.Failure(fmt.Errorf("handler panic: %v", p), false)
		}
	}()
	result = handler(s.rootCtx, body, mc)
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

// Disconnect stops receiving, waits for in-flight handlers, and closes
// senders, receiver and client. Safe to call without a prior Connect.
func (s *ServiceBus) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return nil
	}
	s.connected = false
	var client, receiver, cancel = s.client, s.receiver, s.cancel
	var senders = s.senders
	s.senders = make(map[string]*azservicebus.Sender)
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	for destination, sender := range senders {
		if err := sender.Close(ctx); err != nil {
			log.WithFields(log.Fields{"destination": destination, "error": err}).Warn("closing sender")
		}
	}
	if receiver != nil {
		if err := receiver.Close(ctx); err != nil {
			log.WithField("error", err).Warn("closing receiver")
		}
	}
	if err := client.Close(ctx); err != nil {
		return fmt.Errorf("closing service bus client: %w", err)
	}
	return nil
}

func propertyStrings(props map[string]any) map[string]string {
	if len(props) == 0 {
		return nil
	}
	var out = make(map[string]string, len(props))
	for k, v := range props {
		if str, ok := v.(string); ok {
			out[k] = str
		}
	}
	return out
}
