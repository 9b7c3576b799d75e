package racing

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

// Processor handles RaceRequested messages.
type Processor struct {
	engine lifecycle.Engine[messages.RaceRequested]
}

// NewProcessor builds a racing Processor over |st|.
func NewProcessor(st store.Store, pub bus.Publisher, rng *rand.Rand) *Processor {
	return &Processor{
		engine: lifecycle.Engine[messages.RaceRequested]{
			Domain:    "racing",
			Hooks:     &hooks{store: st, rand: rng},
			Publisher: pub,
		},
	}
}

// Process runs the request lifecycle for one delivered message.
func (p *Processor) Process(ctx context.Context, msg messages.RaceRequested, mc bus.MessageContext) bus.ProcessingResult {
	return p.engine.Process(ctx, msg, mc)
}

type hooks struct {
	store store.Store
	rand  *rand.Rand
}

func (h *hooks) Load(ctx context.Context, msg messages.RaceRequested) (*lifecycle.Request, error) {
	var req, err = h.store.RaceRequests().Get(ctx, msg.RequestID)
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
	var req, err = h.store.RaceRequests().Get(ctx, id)
	if err != nil {
		return err
	}
	req.Status = model.StatusInProgress
	req.UpdatedDate = time.Now().UTC()
	return h.store.RaceRequests().Update(ctx, req)
}

func (h *hooks) Execute(ctx context.Context, msg messages.RaceRequested) (any, error) {
	var event messages.RaceCompleted

	var err = h.store.Transact(ctx, func(ctx context.Context, tx store.Store) error {
		var req, err = tx.RaceRequests().Get(ctx, msg.RequestID)
		if err != nil {
			return fmt.Errorf("loading request: %w", err)
		}

		var horse *model.Horse
		if horse, err = tx.Horses().Get(ctx, req.HorseID); err != nil {
			return fmt.Errorf("loading horse %s: %w", req.HorseID, err)
		}
		var race *model.Race
		if race, err = tx.Races().Get(ctx, req.RaceID); err != nil {
			return fmt.Errorf("loading race %d: %w", req.RaceID, err)
		}

		var rivals []model.Horse
		if rivals, err = tx.Horses().Sample(ctx, FieldSize-1, horse.ID); err != nil {
			return fmt.Errorf("sampling rivals: %w", err)
		}
		var field = make([]*model.Horse, 0, 1+len(rivals))
		field = append(field, horse)
		for i := range rivals {
			field = append(field, &rivals[i])
		}

		var now = time.Now().UTC()
		var run = simulate(h.rand, race, field, now)
		if err = tx.RaceRuns().Insert(ctx, run); err != nil {
			return fmt.Errorf("inserting race run: %w", err)
		}

		// Career updates for every participant; racing also resets the
		// one-training-per-race gate.
		var winner = run.Horses[0].HorseID
		for _, participant := range field {
			participant.RacesRun++
			if participant.ID == winner {
				participant.RacesWon++
			}
			participant.HasTrainedSinceLastRace = false
			if err = tx.Horses().Update(ctx, participant); err != nil {
				return fmt.Errorf("updating participant %s: %w", participant.ID, err)
			}
		}

		req.Status = model.StatusCompleted
		req.RaceRunID = &run.ID
		req.FailureReason = ""
		req.UpdatedDate = now
		req.ProcessedDate = &now
		if err = tx.RaceRequests().Update(ctx, req); err != nil {
			return fmt.Errorf("completing request: %w", err)
		}

		event = messages.RaceCompleted{
			RequestID:   req.RequestID,
			RaceID:      req.RaceID,
			HorseID:     req.HorseID,
			RaceRunID:   run.ID,
			OwnerID:     req.OwnerID,
			CompletedAt: now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

func (h *hooks) CompletedEvent(ctx context.Context, msg messages.RaceRequested) (any, error) {
	var req, err = h.store.RaceRequests().Get(ctx, msg.RequestID)
	if err != nil {
		return nil, err
	}
	if req.RaceRunID == nil {
		return nil, fmt.Errorf("completed request %s has no race run", req.RequestID)
	}
	var completedAt = req.UpdatedDate
	if req.ProcessedDate != nil {
		completedAt = *req.ProcessedDate
	}
	return messages.RaceCompleted{
		RequestID:   req.RequestID,
		RaceID:      req.RaceID,
		HorseID:     req.HorseID,
		RaceRunID:   *req.RaceRunID,
		OwnerID:     req.OwnerID,
		CompletedAt: completedAt,
	}, nil
}

func (h *hooks) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	var req, err = h.store.RaceRequests().Get(ctx, id)
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
	return h.store.RaceRequests().Update(ctx, req)
}

func (h *hooks) NotePublishFailure(ctx context.Context, id uuid.UUID, reason string) error {
	var req, err = h.store.RaceRequests().Get(ctx, id)
	if err != nil {
		return err
	}
	req.FailureReason = reason
	req.UpdatedDate = time.Now().UTC()
	return h.store.RaceRequests().Update(ctx, req)
}

func (h *hooks) ClearPublishFailure(ctx context.Context, id uuid.UUID) error {
	var req, err = h.store.RaceRequests().Get(ctx, id)
	if err != nil {
		return err
	}
	req.FailureReason = ""
	req.UpdatedDate = time.Now().UTC()
	return h.store.RaceRequests().Update(ctx, req)
}
