package bus

import "fmt"

// MessageRoute is the per-type routing entry of RoutingConfig.
// RoutingKey is preferred; Subject is accepted as an alias.
type MessageRoute struct {
	Destination string
	RoutingKey  string
	Subject     string
	Metadata    map[string]string
}

// RoutingConfig configures the routing publisher and provider choice.
type RoutingConfig struct {
	// Provider is Rabbit, ServiceBus, or Auto (case-insensitive).
	Provider string `long:"provider" env:"PROVIDER" default:"Auto" description:"Message bus provider (Rabbit, ServiceBus, or Auto)"`
	// DefaultDestination is used when a route omits its destination.
	DefaultDestination string `long:"default-destination" env:"DEFAULT_DESTINATION" description:"Fallback publish destination"`
	// DefaultRoutingKey is used when a route omits its routing key.
	DefaultRoutingKey string `long:"default-routing-key" env:"DEFAULT_ROUTING_KEY" description:"Fallback routing key"`
	// Routes maps a message type name to its route.
	Routes map[string]MessageRoute
}

// ConsumerConfig configures one consuming subscription.
type ConsumerConfig struct {
	// Queue is the queue (Rabbit) or subscription (Service Bus) name.
	Queue string `long:"queue" env:"QUEUE" description:"Queue or subscription to consume"`
	// Concurrency caps in-flight handlers, mirrored to broker prefetch.
	Concurrency int `long:"concurrency" env:"CONCURRENCY" default:"5" description:"Maximum in-flight message handlers"`
	// MaxRetries is advisory, consumed by provider retry policies.
	MaxRetries int `long:"max-retries" env:"MAX_RETRIES" default:"3" description:"Advisory delivery retry ceiling"`
	// PrefetchCount overrides the broker prefetch. Zero means use
	// Concurrency.
	PrefetchCount int `long:"prefetch" env:"PREFETCH" description:"Broker prefetch count (defaults to concurrency)"`
}

// Validate applies defaults and rejects nonsense values.
func (c *ConsumerConfig) Validate() error {
	if c.Queue == "" {
		return fmt.Errorf("consumer queue is required")
	}
	if c.Concurrency < 0 || c.MaxRetries < 0 || c.PrefetchCount < 0 {
		return fmt.Errorf("consumer concurrency, retries and prefetch must be non-negative")
	}
	if c.Concurrency == 0 {
		c.Concurrency = 5
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.PrefetchCount == 0 {
		c.PrefetchCount = c.Concurrency
	}
	return nil
}

// ConnectionStrings are the recognized broker connection settings.
type ConnectionStrings struct {
	// Messaging is the topic/exchange broker (RabbitMQ) URI.
	Messaging string `long:"messaging" env:"MESSAGING" description:"RabbitMQ connection URI"`
	// ServiceBus is the cloud queue/topic broker connection string.
	ServiceBus string `long:"servicebus" env:"SERVICEBUS" description:"Azure Service Bus connection string"`
}
