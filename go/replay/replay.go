// Package replay re-publishes the originating Requested messages of
// request rows stuck in non-terminal states, either one at a time or in
// bounded-parallel bulk. Redelivered messages are harmless: they land
// on the lifecycle guards.
package replay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/hoofworks/paddock/go/bus"
	"github.com/hoofworks/paddock/go/model"
	"github.com/hoofworks/paddock/go/store"
)

// DefaultMaxParallel bounds bulk replay when the caller passes zero.
const DefaultMaxParallel = 10

// Source exposes one domain's replayable requests.
type Source interface {
	// Service tags the domain for operator dispatch.
	Service() model.ServiceType

	// Message reconstructs the originating Requested message for |id|,
	// or store.ErrNotFound.
	Message(ctx context.Context, id uuid.UUID) (any, error)

	// NonComplete reconstructs messages for every request in Pending
	// or Failed, plus InProgress rows older than |stuckBefore| when
	// non-nil.
	NonComplete(ctx context.Context, stuckBefore *time.Time) ([]any, error)
}

// Replayer republishes one domain's requests.
type Replayer struct {
	Source    Source
	Publisher bus.Publisher

	// StuckThreshold, when positive, also selects InProgress rows not
	// updated within the threshold. Zero leaves crashed InProgress
	// rows to operators, which is the default posture.
	StuckThreshold time.Duration
}

// ReplayOne republishes the originating message of request |id|.
// It reports false without error when the request does not exist.
func (r *Replayer) ReplayOne(ctx context.Context, id uuid.UUID) (bool, error) {
	var msg, err = r.Source.Message(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("loading request %s: %w", id, err)
	}
	if err = r.Publisher.Publish(ctx, msg, bus.PublishOptions{}); err != nil {
		return false, fmt.Errorf("republishing request %s: %w", id, err)
	}
	log.WithFields(log.Fields{
		"service":   r.Source.Service(),
		"requestId": id,
	}).Info("replayed request")
	return true, nil
}

// ReplayAllNonComplete republishes every Pending or Failed request,
// fanning out with at most |maxParallel| concurrent publishes, and
// returns the count of successful publishes. Individual publish
// failures are logged and skipped.
func (r *Replayer) ReplayAllNonComplete(ctx context.Context, maxParallel int) (int, error) {
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}

	var stuckBefore *time.Time
	if r.StuckThreshold > 0 {
		var cutoff = time.Now().UTC().Add(-r.StuckThreshold)
		stuckBefore = &cutoff
	}
	var msgs, err = r.Source.NonComplete(ctx, stuckBefore)
	if err != nil {
		return 0, fmt.Errorf("listing non-complete requests: %w", err)
	}

	var sem = semaphore.NewWeighted(int64(maxParallel))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var published int

	for _, msg := range msgs {
		if err = sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(msg any) {
			defer wg.Done()
			defer sem.Release(1)
			if pubErr := r.Publisher.Publish(ctx, msg, bus.PublishOptions{}); pubErr != nil {
				log.WithFields(log.Fields{
					"service": r.Source.Service(),
					"error":   pubErr,
				}).Warn("bulk replay publish failed")
				return
			}
			mu.Lock()
			published++
			mu.Unlock()
		}(msg)
	}
	wg.Wait()

	log.WithFields(log.Fields{
		"service":    r.Source.Service(),
		"candidates": len(msgs),
		"published":  published,
	}).Info("bulk replay finished")
	return published, ctx.Err()
}

// Aggregate dispatches replay operations by service type, for operator
// tooling that fronts all four domains.
type Aggregate struct {
	replayers map[model.ServiceType]*Replayer
}

// NewAggregate indexes |replayers| by their source's service type.
func NewAggregate(replayers ...*Replayer) *Aggregate {
	var byService = make(map[model.ServiceType]*Replayer, len(replayers))
	for _, r := range replayers {
		byService[r.Source.Service()] = r
	}
	return &Aggregate{replayers: byService}
}

// ReplayOne dispatches a single replay to |service|.
func (a *Aggregate) ReplayOne(ctx context.Context, service model.ServiceType, id uuid.UUID) (bool, error) {
	var r, ok = a.replayers[service]
	if !ok {
		return false, fmt.Errorf("unknown service type %q", service)
	}
	return r.ReplayOne(ctx, id)
}

// ReplayAll dispatches a bulk replay to |service|.
func (a *Aggregate) ReplayAll(ctx context.Context, service model.ServiceType, maxParallel int) (int, error) {
	var r, ok = a.replayers[service]
	if !ok {
		return 0, fmt.Errorf("unknown service type %q", service)
	}
	return r.ReplayAllNonComplete(ctx, maxParallel)
}
