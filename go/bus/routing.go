package bus

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"
)

// RoutingPublisher decorates a Publisher, resolving each message's
// destination and subject from RoutingConfig by concrete type name.
// Resolution is cached per type for the publisher's lifetime.
type RoutingPublisher struct {
	inner Publisher
	cfg   RoutingConfig
	cache *lru.Cache[string, resolvedRoute]
}

type resolvedRoute struct {
	destination string
	subject     string
	metadata    map[string]string
}

// NewRoutingPublisher wraps |inner| with route resolution from |cfg|.
func NewRoutingPublisher(inner Publisher, cfg RoutingConfig) *RoutingPublisher {
	// Error cannot occur for a positive size.
	var cache, _ = lru.New[string, resolvedRoute](256)
	return &RoutingPublisher{inner: inner, cfg: cfg, cache: cache}
}

// Publish resolves the effective destination and subject and delegates.
//
// Merge precedence:
//   - destination: explicit option > route > DefaultDestination > adapter default
//   - subject: explicit option > route RoutingKey > route Subject >
//     DefaultRoutingKey > the type's simple name
//   - metadata: route metadata, with user metadata winning on collision
func (p *RoutingPublisher) Publish(ctx context.Context, value any, opts PublishOptions) error {
	if value == nil {
		return ErrNilMessage
	}
	var name = TypeName(value)
	var route = p.resolve(name)

	var effective = PublishOptions{
		Destination: opts.Destination,
		Subject:     opts.Subject,
	}
	if effective.Destination == "" {
		effective.Destination = route.destination
	}
	if effective.Subject == "" {
		effective.Subject = route.subject
	}
	effective.Metadata = mergeMetadata(route.metadata, opts.Metadata)

	log.WithFields(log.Fields{
		"messageType": name,
		"destination": effective.Destination,
		"subject":     effective.Subject,
	}).Debug("routing publish")

	return p.inner.Publish(ctx, value, effective)
}

func (p *RoutingPublisher) resolve(typeName string) resolvedRoute {
	if cached, ok := p.cache.Get(typeName); ok {
		return cached
	}

	var out resolvedRoute
	var route, ok = p.cfg.Routes[typeName]
	if ok {
		out.destination = route.Destination
		out.metadata = route.Metadata
		if route.RoutingKey != "" {
			out.subject = route.RoutingKey
		} else {
			out.subject = route.Subject
		}
	}
	if out.destination == "" {
		out.destination = p.cfg.DefaultDestination
	}
	if out.subject == "" {
		out.subject = p.cfg.DefaultRoutingKey
	}
	if out.subject == "" {
		out.subject = typeName
	}

	p.cache.Add(typeName, out)
	return out
}

func mergeMetadata(route, user map[string]string) map[string]string {
	if len(route) == 0 {
		return user
	}
	var merged = make(map[string]string, len(route)+len(user))
	for k, v := range route {
		merged[k] = v
	}
	for k, v := range user {
		merged[k] = v
	}
	return merged
}
