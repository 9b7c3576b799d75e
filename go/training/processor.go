package training

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

// Processor handles TrainingRequested messages.
type Processor struct {
	engine lifecycle.Engine[messages.TrainingRequested]
}

// NewProcessor builds a training Processor over |st|.
func NewProcessor(st store.Store, pub bus.Publisher, rng *rand.Rand) *Processor {
	return &Processor{
		engine: lifecycle.Engine[messages.TrainingRequested]{
			Domain:    "training",
			Hooks:     &hooks{store: st, rand: rng},
			Publisher: pub,
		},
	}
}

// Process runs the request lifecycle for one delivered message.
func (p *Processor) Process(ctx context.Context, msg messages.TrainingRequested, mc bus.MessageContext) bus.ProcessingResult {
	return p.engine.Process(ctx, msg, mc)
}

type hooks struct {
	store store.Store
	rand  *rand.Rand
}

func (h *hooks) Load(ctx context.Context, msg messages.TrainingRequested) (*lifecycle.Request, error) {
	var req, err = h.store.TrainingRequests().Get(ctx, msg.RequestID)
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
	var req, err = h.store.TrainingRequests().Get(ctx, id)
	if err != nil {
		return err
	}
	req.Status = model.StatusInProgress
	req.UpdatedDate = time.Now().UTC()
	return h.store.TrainingRequests().Update(ctx, req)
}

func (h *hooks) Execute(ctx context.Context, msg messages.TrainingRequested) (any, error) {
	var event messages.TrainingCompleted

	var err = h.store.Transact(ctx, func(ctx context.Context, tx store.Store) error {
		var req, err = tx.TrainingRequests().Get(ctx, msg.RequestID)
		if err != nil {
			return fmt.Errorf("loading request: %w", err)
		}

		var horse *model.Horse
		if horse, err = tx.Horses().Get(ctx, req.HorseID); err != nil {
			return fmt.Errorf("loading horse %s: %w", req.HorseID, err)
		}
		var program *model.Training
		if program, err = tx.Trainings().Get(ctx, req.TrainingID); err != nil {
			return fmt.Errorf("loading training %d: %w", req.TrainingID, err)
		}

		if horse.HasTrainedSinceLastRace {
			return fmt.Errorf("horse %s has already trained since its last race", horse.ID)
		}
		if horse.Happiness < HappinessFloor {
			return fmt.Errorf("horse %s happiness %d is below the training floor %d",
				horse.ID, horse.Happiness, HappinessFloor)
		}
		var stat = horse.Stat(program.TrainedStat)
		if stat == nil {
			return fmt.Errorf("horse %s has no %s statistic", horse.ID, program.TrainedStat)
		}

		var now = time.Now().UTC()
		var gain = gainFor(horse, stat, program, now)
		var cost = happinessCostFor(h.rand, program)

		stat.Actual += gain
		horse.Happiness -= cost
		if horse.Happiness < 0 {
			horse.Happiness = 0
		}
		horse.HasTrainedSinceLastRace = true
		horse.TrainedDays++
		if err = tx.Horses().Update(ctx, horse); err != nil {
			return fmt.Errorf("updating horse: %w", err)
		}

		var session = model.TrainingSession{
			ID:            uuid.New(),
			SessionID:     req.SessionID,
			HorseID:       horse.ID,
			TrainingID:    program.ID,
			UserID:        req.UserID,
			TrainedStat:   program.TrainedStat,
			Gain:          gain,
			HappinessCost: cost,
			TrainedAt:     now,
		}
		if err = tx.TrainingSessions().Insert(ctx, &session); err != nil {
			return fmt.Errorf("inserting training session: %w", err)
		}

		req.Status = model.StatusCompleted
		req.TrainingSessionID = &session.ID
		req.FailureReason = ""
		req.UpdatedDate = now
		req.ProcessedDate = &now
		if err = tx.TrainingRequests().Update(ctx, req); err != nil {
			return fmt.Errorf("completing request: %w", err)
		}

		event = messages.TrainingCompleted{
			RequestID:         req.RequestID,
			HorseID:           req.HorseID,
			TrainingID:        req.TrainingID,
			SessionID:         req.SessionID,
			TrainingSessionID: session.ID,
			UserID:            req.UserID,
			CompletedAt:       now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

func (h *hooks) CompletedEvent(ctx context.Context, msg messages.TrainingRequested) (any, error) {
	var req, err = h.store.TrainingRequests().Get(ctx, msg.RequestID)
	if err != nil {
		return nil, err
	}
	if req.TrainingSessionID == nil {
		return nil, fmt.Errorf("completed request %s has no training session", req.RequestID)
	}
	var completedAt = req.UpdatedDate
	if req.ProcessedDate != nil {
		completedAt = *req.ProcessedDate
	}
	return messages.TrainingCompleted{
		RequestID:         req.RequestID,
		HorseID:           req.HorseID,
		TrainingID:        req.TrainingID,
		SessionID:         req.SessionID,
		TrainingSessionID: *req.TrainingSessionID,
		UserID:            req.UserID,
		CompletedAt:       completedAt,
	}, nil
}

func (h *hooks) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	var req, err = h.store.TrainingRequests().Get(ctx, id)
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
	return h.store.TrainingRequests().Update(ctx, req)
}

func (h *hooks) NotePublishFailure(ctx context.Context, id uuid.UUID, reason string) error {
	var req, err = h.store.TrainingRequests().Get(ctx, id)
	if err != nil {
		return err
	}
	req.FailureReason = reason
	req.UpdatedDate = time.Now().UTC()
	return h.store.TrainingRequests().Update(ctx, req)
}

func (h *hooks) ClearPublishFailure(ctx context.Context, id uuid.UUID) error {
	var req, err = h.store.TrainingRequests().Get(ctx, id)
	if err != nil {
		return err
	}
	req.FailureReason = ""
	req.UpdatedDate = time.Now().UTC()
	return h.store.TrainingRequests().Update(ctx, req)
}
