// Package lifecycle implements the claim-and-process state machine
// shared by every domain processor: load the request row, guard
// terminal and concurrent states, claim it InProgress, execute the
// domain work in one transaction, publish the Completed event, and
// translate failures into the broker's ack/nack vocabulary.
package lifecycle

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/hoofworks/paddock/go/bus"
	"github.com/hoofworks/paddock/go/model"
)

// PublishFailedPrefix marks a Completed row whose event publish failed
// after commit. Such rows are repaired by republishing on redelivery.
const PublishFailedPrefix = "Publish failed: "

// Request is the engine's view of a persisted request row.
type Request struct {
	ID            uuid.UUID
	Status        model.RequestStatus
	FailureReason string
}

// Hooks binds the engine to one domain's persistence and work.
type Hooks[M any] interface {
	// Load fetches the request row addressed by |msg|, or (nil, nil)
	// when no such row exists.
	Load(ctx context.Context, msg M) (*Request, error)

	// Claim transitions the row to InProgress and bumps UpdatedDate.
	Claim(ctx context.Context, id uuid.UUID) error

	// Execute performs the domain work inside one transaction: write
	// side effects, set the output pointer, and mark the row Completed
	// with ProcessedDate. It returns the Completed event to publish.
	Execute(ctx context.Context, msg M) (event any, err error)

	// CompletedEvent rebuilds the Completed event from the persisted
	// row, for republishing after an annotated publish failure.
	CompletedEvent(ctx context.Context, msg M) (event any, err error)

	// Fail marks the row Failed with |reason| and sets ProcessedDate.
	Fail(ctx context.Context, id uuid.UUID, reason string) error

	// NotePublishFailure annotates a Completed row with |reason|,
	// leaving its status untouched.
	NotePublishFailure(ctx context.Context, id uuid.UUID, reason string) error

	// ClearPublishFailure removes the annotation once the event has
	// been republished.
	ClearPublishFailure(ctx context.Context, id uuid.UUID) error
}

// Engine drives the request lifecycle for one domain.
type Engine[M any] struct {
	// Domain labels log lines, e.g. "breeding".
	Domain    string
	Hooks     Hooks[M]
	Publisher bus.Publisher
}

// Process runs the lifecycle for one delivered message and returns the
// broker disposition. It is safe against redelivery: a Completed row is
// never reprocessed, and an InProgress row is assumed held elsewhere.
func (e *Engine[M]) Process(ctx context.Context, msg M, mc bus.MessageContext) bus.ProcessingResult {
	var logger = log.WithFields(log.Fields{
		"domain":      e.Domain,
		"messageId":   mc.MessageID,
		"deliveryTag": mc.DeliveryTag,
	})

	var req, err = e.Hooks.Load(ctx, msg)
	if err != nil {
		logger.WithField("error", err).Warn("failed to load request; requeueing")
		return bus.Failure(err, true)
	}
	if req == nil {
		// Already reconciled, or fabricated. Ack and move on.
		logger.Warn("no request row for message; acknowledging")
		return bus.Success()
	}
	logger = logger.WithField("requestId", req.ID)

	switch req.Status {
	case model.StatusCompleted:
		if strings.HasPrefix(req.FailureReason, PublishFailedPrefix) {
			return e.republish(ctx, msg, req, logger)
		}
		logger.Debug("request already completed; acknowledging")
		return bus.Success()

	case model.StatusInProgress:
		// Another worker holds the lease, or a prior attempt crashed
		// between claim and commit; recovery is operator replay.
		logger.Info("request already in progress; acknowledging")
		return bus.Success()

	case model.StatusFailed:
		logger.Info("reviving failed request")
	}

	if err = e.Hooks.Claim(ctx, req.ID); err != nil {
		// The claim raced another worker. Re-read and decide.
		var current, readErr = e.Hooks.Load(ctx, msg)
		if readErr == nil && current != nil && current.Status == model.StatusInProgress {
			logger.Info("lost claim race; acknowledging")
			return bus.Success()
		}
		logger.WithField("error", err).Warn("claim persist failed; proceeding optimistically")
	}

	var event any
	if event, err = e.Hooks.Execute(ctx, msg); err != nil {
		if canceled(ctx, err) {
			logger.WithField("error", err).Warn("processing cancelled; requeueing")
			return bus.Failure(err, true)
		}
		logger.WithField("error", err).Error("domain work failed")
		if failErr := e.Hooks.Fail(ctx, req.ID, err.Error()); failErr != nil {
			logger.WithField("error", failErr).Error("failed to persist failure status")
		}
		return bus.Failure(err, false)
	}

	if err = e.publish(ctx, event); err != nil {
		// The side effects are committed; the row stays Completed and
		// carries the annotation for the republish path.
		logger.WithField("error", err).Error("completed event publish failed after commit")
		if noteErr := e.Hooks.NotePublishFailure(ctx, req.ID, PublishFailedPrefix+err.Error()); noteErr != nil {
			logger.WithField("error", noteErr).Error("failed to annotate publish failure")
		}
		return bus.Failure(err, false)
	}

	logger.Info("request completed")
	return bus.Success()
}

// republish repairs a Completed row annotated with a publish failure by
// re-emitting its Completed event.
func (e *Engine[M]) republish(ctx context.Context, msg M, req *Request, logger *log.Entry) bus.ProcessingResult {
	logger.Info("republishing completed event after earlier publish failure")

	var event, err = e.Hooks.CompletedEvent(ctx, msg)
	if err != nil {
		logger.WithField("error", err).Error("failed to rebuild completed event")
		return bus.Failure(err, false)
	}
	if err = e.publish(ctx, event); err != nil {
		logger.WithField("error", err).Error("republish failed")
		return bus.Failure(err, false)
	}
	if err = e.Hooks.ClearPublishFailure(ctx, req.ID); err != nil {
		logger.WithField("error", err).Warn("failed to clear publish-failure annotation")
	}
	return bus.Success()
}

func (e *Engine[M]) publish(ctx context.Context, event any) error {
	if event == nil {
		return nil
	}
	return e.Publisher.Publish(ctx, event, bus.PublishOptions{})
}

func canceled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
