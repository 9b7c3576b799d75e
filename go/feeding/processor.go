// Package feeding implements the feed-a-horse processor: applying a
// catalog feed's happiness and stat boosts, scaled by the horse's
// per-feed preference, which is rolled the first time it samples a feed.
package feeding

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/hoofworks/paddock/go/bus"
	"github.com/hoofworks/paddock/go/lifecycle"
	"github.com/hoofworks/paddock/go/messages"
	"github.com/hoofworks/paddock/go/model"
	"github.com/hoofworks/paddock/go/store"
)

// happinessCeil caps a horse's happiness.
const happinessCeil = 100

// Processor handles FeedingRequested messages.
type Processor struct {
	engine lifecycle.Engine[messages.FeedingRequested]
}

// NewProcessor builds a feeding Processor over |st|.
func NewProcessor(st store.Store, pub bus.Publisher, rng *rand.Rand) *Processor {
	return &Processor{
		engine: lifecycle.Engine[messages.FeedingRequested]{
			Domain:    "feeding",
			Hooks:     &hooks{store: st, rand: rng},
			Publisher: pub,
		},
	}
}

// Process runs the request lifecycle for one delivered message.
func (p *Processor) Process(ctx context.Context, msg messages.FeedingRequested, mc bus.MessageContext) bus.ProcessingResult {
	return p.engine.Process(ctx, msg, mc)
}

type hooks struct {
	store store.Store
	rand  *rand.Rand
}

func (h *hooks) Load(ctx context.Context, msg messages.FeedingRequested) (*lifecycle.Request, error) {
	var req, err = h.store.FeedingRequests().Get(ctx, msg.RequestID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return &lifecycle.Request{
		ID:            req.RequestID,
		Status:        req.Status,
		FailureReason: req.FailureReason,
	}, nil
}

func (h *hooks) Claim(ctx context.Context, id uuid.UUID) error {
	var req, err = h.store.FeedingRequests().Get(ctx, id)
	if err != nil {
		return err
	}
	req.Status = model.StatusInProgress
	req.UpdatedDate = time.Now().UTC()
	return h.store.FeedingRequests().Update(ctx, req)
}

func (h *hooks) Execute(ctx context.Context, msg messages.FeedingRequested) (any, error) {
	var event messages.FeedingCompleted

	var err = h.store.Transact(ctx, func(ctx context.Context, tx store.Store) error {
		var req, err = tx.FeedingRequests().Get(ctx, msg.RequestID)
		if err != nil {
			return fmt.Errorf("loading request: %w", err)
		}

		var horse *model.Horse
		if horse, err = tx.Horses().Get(ctx, req.HorseID); err != nil {
			return fmt.Errorf("loading horse %s: %w", req.HorseID, err)
		}
		var feed *model.Feeding
		if feed, err = tx.Feedings().Get(ctx, req.FeedingID); err != nil {
			return fmt.Errorf("loading feeding %d: %w", req.FeedingID, err)
		}

		var liked bool
		if liked, err = h.preference(ctx, tx, horse.ID, feed.ID); err != nil {
			return err
		}

		var happinessDelta, statDelta = feedResponse(feed, liked)
		horse.Happiness += happinessDelta
		if horse.Happiness > happinessCeil {
			horse.Happiness = happinessCeil
		}
		if horse.Happiness < 0 {
			horse.Happiness = 0
		}
		if statDelta != 0 {
			if stat := horse.Stat(feed.BoostedStat); stat != nil {
				stat.Actual += statDelta
				if stat.Actual > stat.DominantPotential {
					stat.Actual = stat.DominantPotential
				}
			}
		}
		if err = tx.Horses().Update(ctx, horse); err != nil {
			return fmt.Errorf("updating horse: %w", err)
		}

		var now = time.Now().UTC()
		var session = model.FeedingSession{
			ID:             uuid.New(),
			SessionID:      req.SessionID,
			HorseID:        horse.ID,
			FeedingID:      feed.ID,
			UserID:         req.UserID,
			HappinessDelta: happinessDelta,
			StatDelta:      statDelta,
			FedAt:          now,
		}
		if err = tx.FeedingSessions().Insert(ctx, &session); err != nil {
			return fmt.Errorf("inserting feeding session: %w", err)
		}

		req.Status = model.StatusCompleted
		req.FeedingSessionID = &session.ID
		req.FailureReason = ""
		req.UpdatedDate = now
		req.ProcessedDate = &now
		if err = tx.FeedingRequests().Update(ctx, req); err != nil {
			return fmt.Errorf("completing request: %w", err)
		}

		event = messages.FeedingCompleted{
			RequestID:        req.RequestID,
			HorseID:          req.HorseID,
			FeedingID:        req.FeedingID,
			SessionID:        req.SessionID,
			FeedingSessionID: session.ID,
			UserID:           req.UserID,
			CompletedAt:      now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

// preference returns the horse's stored preference for the feed, rolling
// and persisting one on its first sample.
func (h *hooks) preference(ctx context.Context, tx store.Store, horseID uuid.UUID, feedingID uint8) (bool, error) {
	var pref, err = tx.FeedingPreferences().Get(ctx, horseID, feedingID)
	if err == nil {
		return pref.Liked, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("loading feeding preference: %w", err)
	}

	var liked = h.rand.Intn(2) == 0
	err = tx.FeedingPreferences().Insert(ctx, &model.HorseFeedingPreference{
		HorseID:   horseID,
		FeedingID: feedingID,
		Liked:     liked,
	})
	if err != nil {
		return false, fmt.Errorf("inserting feeding preference: %w", err)
	}
	return liked, nil
}

// feedResponse scales the catalog boosts by preference: a liked feed
// gives half again the happiness, a disliked one half and no stat gain.
func feedResponse(feed *model.Feeding, liked bool) (happinessDelta, statDelta int) {
	happinessDelta = feed.HappinessBoost
	statDelta = feed.StatBoost
	if liked {
		happinessDelta += feed.HappinessBoost / 2
	} else {
		happinessDelta /= 2
		statDelta = 0
	}
	return happinessDelta, statDelta
}

func (h *hooks) CompletedEvent(ctx context.Context, msg messages.FeedingRequested) (any, error) {
	var req, err = h.store.FeedingRequests().Get(ctx, msg.RequestID)
	if err != nil {
		return nil, err
	}
	if req.FeedingSessionID == nil {
		return nil, fmt.Errorf("completed request %s has no feeding session", req.RequestID)
	}
	var completedAt = req.UpdatedDate
	if req.ProcessedDate != nil {
		completedAt = *req.ProcessedDate
	}
	return messages.FeedingCompleted{
		RequestID:        req.RequestID,
		HorseID:          req.HorseID,
		FeedingID:        req.FeedingID,
		SessionID:        req.SessionID,
		FeedingSessionID: *req.FeedingSessionID,
		UserID:           req.UserID,
		CompletedAt:      completedAt,
	}, nil
}

func (h *hooks) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	var req, err = h.store.FeedingRequests().Get(ctx, id)
	if err != nil {
		return err
	}
	if req.Status == model.StatusCompleted {
		return nil
	}
	var now = time.Now().UTC()
	req.Status = model.StatusFailed
	req.FailureReason = reason
	req.UpdatedDate = now
	req.ProcessedDate = &now
	return h.store.FeedingRequests().Update(ctx, req)
}

func (h *hooks) NotePublishFailure(ctx context.Context, id uuid.UUID, reason string) error {
	var req, err = h.store.FeedingRequests().Get(ctx, id)
	if err != nil {
		return err
	}
	req.FailureReason = reason
	req.UpdatedDate = time.Now().UTC()
	return h.store.FeedingRequests().Update(ctx, req)
}

func (h *hooks) ClearPublishFailure(ctx context.Context, id uuid.UUID) error {
	var req, err = h.store.FeedingRequests().Get(ctx, id)
	if err != nil {
		return err
	}
	req.FailureReason = ""
	req.UpdatedDate = time.Now().UTC()
	return h.store.FeedingRequests().Update(ctx, req)
}
