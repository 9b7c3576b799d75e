package bus

import (
	"fmt"
	"strings"
)

// Provider identifies a concrete broker implementation.
type Provider int

const (
	ProviderRabbit Provider = iota
	ProviderServiceBus
)

func (p Provider) String() string {
	if p == ProviderServiceBus {
		return "ServiceBus"
	}
	return "Rabbit"
}

// SelectProvider resolves the configured provider. An explicit Rabbit
// or ServiceBus setting wins; Auto (or empty) inspects which connection
// strings are present and prefers Rabbit when both are configured.
func SelectProvider(routing RoutingConfig, conn ConnectionStrings) (Provider, error) {
	switch strings.ToLower(routing.Provider) {
	case "rabbit":
		return ProviderRabbit, nil
	case "servicebus":
		return ProviderServiceBus, nil
	case "auto", "":
		// Fall through to connection-string inspection.
	default:
		return 0, fmt.Errorf("unknown message bus provider %q (expected Rabbit, ServiceBus, or Auto)", routing.Provider)
	}

	var haveRabbit = conn.Messaging != ""
	var haveServiceBus = conn.ServiceBus != ""
	switch {
	case haveRabbit:
		return ProviderRabbit, nil
	case haveServiceBus:
		return ProviderServiceBus, nil
	default:
		return 0, fmt.Errorf(
			"no broker connection configured: set ConnectionStrings.messaging (RabbitMQ) or ConnectionStrings.servicebus (Azure Service Bus)")
	}
}
