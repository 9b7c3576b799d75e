package breeding

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hoofworks/paddock/go/bus"
	"github.com/hoofworks/paddock/go/lifecycle"
	"github.com/hoofworks/paddock/go/messages"
	"github.com/hoofworks/paddock/go/model"
	"github.com/hoofworks/paddock/go/namegen"
	"github.com/hoofworks/paddock/go/store"
)

// Processor handles BreedingRequested messages.
type Processor struct {
	engine lifecycle.Engine[messages.BreedingRequested]
}

// NewProcessor builds a breeding Processor over |st|, publishing
// Completed events through |pub|.
func NewProcessor(st store.Store, pub bus.Publisher, names *namegen.Generator, rng *rand.Rand) *Processor {
	return &Processor{
		engine: lifecycle.Engine[messages.BreedingRequested]{
			Domain: "breeding",
			Hooks: &hooks{
				store: st,
				names: names,
				rand:  rng,
			},
			Publisher: pub,
		},
	}
}

// Process runs the request lifecycle for one delivered message.
func (p *Processor) Process(ctx context.Context, msg messages.BreedingRequested, mc bus.MessageContext) bus.ProcessingResult {
	return p.engine.Process(ctx, msg, mc)
}

// hooks binds the lifecycle engine to breeding persistence.
type hooks struct {
	store store.Store
	names *namegen.Generator
	rand  *rand.Rand

	// The coat-color catalog is static; cache the first successful load.
	// A failed load is not latched, so the next request retries it.
	colorsMu sync.Mutex
	colors   []model.Color
}

func (h *hooks) catalog(ctx context.Context) ([]model.Color, error) {
	h.colorsMu.Lock()
	defer h.colorsMu.Unlock()
	if h.colors != nil {
		return h.colors, nil
	}
	var colors, err = h.store.Colors().List(ctx)
	if err != nil {
		return nil, err
	}
	h.colors = colors
	return colors, nil
}

func (h *hooks) Load(ctx context.Context, msg messages.BreedingRequested) (*lifecycle.Request, error) {
	var req, err = h.store.BreedingRequests().Get(ctx, msg.RequestID)
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
	var req, err = h.store.BreedingRequests().Get(ctx, id)
	if err != nil {
		return err
	}
	req.Status = model.StatusInProgress
	req.UpdatedDate = time.Now().UTC()
	return h.store.BreedingRequests().Update(ctx, req)
}

func (h *hooks) Execute(ctx context.Context, msg messages.BreedingRequested) (any, error) {
	var event messages.BreedingCompleted

	var err = h.store.Transact(ctx, func(ctx context.Context, tx store.Store) error {
		var req, err = tx.BreedingRequests().Get(ctx, msg.RequestID)
		if err != nil {
			return fmt.Errorf("loading request: %w", err)
		}

		var sire *model.Horse
		if sire, err = tx.Horses().Get(ctx, req.SireID); err != nil {
			return fmt.Errorf("loading Sire %s: %w", req.SireID, err)
		}
		var dam *model.Horse
		if dam, err = tx.Horses().Get(ctx, req.DamID); err != nil {
			return fmt.Errorf("loading Dam %s: %w", req.DamID, err)
		}
		if sire.Sex != model.SexStallion {
			return fmt.Errorf("Sire %s is not a stallion", sire.ID)
		}
		if dam.Sex != model.SexMare {
			return fmt.Errorf("Dam %s is not a mare", dam.ID)
		}

		var catalog []model.Color
		if catalog, err = h.catalog(ctx); err != nil {
			return fmt.Errorf("loading color catalog: %w", err)
		}

		var foal *model.Horse
		if foal, err = h.breed(req, sire, dam, catalog); err != nil {
			return err
		}
		if err = tx.Horses().Insert(ctx, foal); err != nil {
			return fmt.Errorf("inserting foal: %w", err)
		}

		// Both parents gain a career parenting credit.
		sire.Parented++
		dam.Parented++
		if err = tx.Horses().Update(ctx, sire); err != nil {
			return fmt.Errorf("updating sire: %w", err)
		}
		if err = tx.Horses().Update(ctx, dam); err != nil {
			return fmt.Errorf("updating dam: %w", err)
		}

		var now = time.Now().UTC()
		req.Status = model.StatusCompleted
		req.FoalID = &foal.ID
		req.FailureReason = ""
		req.UpdatedDate = now
		req.ProcessedDate = &now
		if err = tx.BreedingRequests().Update(ctx, req); err != nil {
			return fmt.Errorf("completing request: %w", err)
		}

		event = messages.BreedingCompleted{
			RequestID:   req.RequestID,
			SireID:      req.SireID,
			DamID:       req.DamID,
			FoalID:      foal.ID,
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

// breed assembles the newborn from both parents' genetics.
func (h *hooks) breed(req *model.BreedingRequest, sire, dam *model.Horse, catalog []model.Color) (*model.Horse, error) {
	var foalID = uuid.New()

	var stats, err = inheritStatistics(h.rand, foalID, sire, dam)
	if err != nil {
		return nil, err
	}

	var specialParents int
	for _, parent := range []*model.Horse{sire, dam} {
		for _, c := range catalog {
			if c.ID == parent.ColorID && c.IsSpecial {
				specialParents++
				break
			}
		}
	}
	var color model.Color
	if color, err = sampleColor(h.rand, catalog, specialParents); err != nil {
		return nil, err
	}

	return &model.Horse{
		ID:         foalID,
		Name:       h.names.FoalName(),
		OwnerID:    req.OwnerID,
		SireID:     &sire.ID,
		DamID:      &dam.ID,
		ColorID:    color.ID,
		Sex:        inheritSex(h.rand),
		LegType:    inheritLegType(h.rand),
		Statistics: stats,
		Happiness:  50,
		BornAt:     time.Now().UTC(),
	}, nil
}

func (h *hooks) CompletedEvent(ctx context.Context, msg messages.BreedingRequested) (any, error) {
	var req, err = h.store.BreedingRequests().Get(ctx, msg.RequestID)
	if err != nil {
		return nil, err
	}
	if req.FoalID == nil {
		return nil, fmt.Errorf("completed request %s has no foal", req.RequestID)
	}
	var completedAt = req.UpdatedDate
	if req.ProcessedDate != nil {
		completedAt = *req.ProcessedDate
	}
	return messages.BreedingCompleted{
		RequestID:   req.RequestID,
		SireID:      req.SireID,
		DamID:       req.DamID,
		FoalID:      *req.FoalID,
		OwnerID:     req.OwnerID,
		CompletedAt: completedAt,
	}, nil
}

func (h *hooks) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	var req, err = h.store.BreedingRequests().Get(ctx, id)
	if err != nil {
		return err
	}
	// Never regress a committed completion.
	if req.Status == model.StatusCompleted {
		return nil
	}
	var now = time.Now().UTC()
	req.Status = model.StatusFailed
	req.FailureReason = reason
	req.UpdatedDate = now
	req.ProcessedDate = &now
	return h.store.BreedingRequests().Update(ctx, req)
}

func (h *hooks) NotePublishFailure(ctx context.Context, id uuid.UUID, reason string) error {
	var req, err = h.store.BreedingRequests().Get(ctx, id)
	if err != nil {
		return err
	}
	req.FailureReason = reason
	req.UpdatedDate = time.Now().UTC()
	return h.store.BreedingRequests().Update(ctx, req)
}

func (h *hooks) ClearPublishFailure(ctx context.Context, id uuid.UUID) error {
	var req, err = h.store.BreedingRequests().Get(ctx, id)
	if err != nil {
		return err
	}
	req.FailureReason = ""
	req.UpdatedDate = time.Now().UTC()
	return h.store.BreedingRequests().Update(ctx, req)
}
