package replay

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hoofworks/paddock/go/messages"
	"github.com/hoofworks/paddock/go/model"
	"github.com/hoofworks/paddock/go/store"
)

// nonCompleteQueries builds the status queries of a bulk replay: one
// for Pending|Failed rows, and optionally one for stuck InProgress.
func nonCompleteQueries(stuckBefore *time.Time) []store.RequestQuery {
	var queries = []store.RequestQuery{
		{Statuses: []model.RequestStatus{model.StatusPending, model.StatusFailed}},
	}
	if stuckBefore != nil {
		queries = append(queries, store.RequestQuery{
			Statuses:      []model.RequestStatus{model.StatusInProgress},
			UpdatedBefore: stuckBefore,
		})
	}
	return queries
}

// BreedingSource replays breeding requests.
type BreedingSource struct {
	Requests store.BreedingRequests
}

func (s BreedingSource) Service() model.ServiceType { return model.ServiceBreeding }

func (s BreedingSource) Message(ctx context.Context, id uuid.UUID) (any, error) {
	var req, err = s.Requests.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return breedingMessage(req), nil
}

func (s BreedingSource) NonComplete(ctx context.Context, stuckBefore *time.Time) ([]any, error) {
	var out []any
	for _, q := range nonCompleteQueries(stuckBefore) {
		var reqs, err = s.Requests.List(ctx, q)
		if err != nil {
			return nil, err
		}
		for i := range reqs {
			out = append(out, breedingMessage(&reqs[i]))
		}
	}
	return out, nil
}

func breedingMessage(req *model.BreedingRequest) messages.BreedingRequested {
	return messages.BreedingRequested{
		RequestID: req.RequestID,
		SireID:    req.SireID,
		DamID:     req.DamID,
		OwnerID:   req.OwnerID,
	}
}

// FeedingSource replays feeding requests.
type FeedingSource struct {
	Requests store.FeedingRequests
}

func (s FeedingSource) Service() model.ServiceType { return model.ServiceFeeding }

func (s FeedingSource) Message(ctx context.Context, id uuid.UUID) (any, error) {
	var req, err = s.Requests.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return feedingMessage(req), nil
}

func (s FeedingSource) NonComplete(ctx context.Context, stuckBefore *time.Time) ([]any, error) {
	var out []any
	for _, q := range nonCompleteQueries(stuckBefore) {
		var reqs, err = s.Requests.List(ctx, q)
		if err != nil {
			return nil, err
		}
		for i := range reqs {
			out = append(out, feedingMessage(&reqs[i]))
		}
	}
	return out, nil
}

func feedingMessage(req *model.FeedingRequest) messages.FeedingRequested {
	return messages.FeedingRequested{
		RequestID: req.RequestID,
		HorseID:   req.HorseID,
		FeedingID: req.FeedingID,
		SessionID: req.SessionID,
		UserID:    req.UserID,
	}
}

// TrainingSource replays training requests.
type TrainingSource struct {
	Requests store.TrainingRequests
}

func (s TrainingSource) Service() model.ServiceType { return model.ServiceTraining }

func (s TrainingSource) Message(ctx context.Context, id uuid.UUID) (any, error) {
	var req, err = s.Requests.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return trainingMessage(req), nil
}

func (s TrainingSource) NonComplete(ctx context.Context, stuckBefore *time.Time) ([]any, error) {
	var out []any
	for _, q := range nonCompleteQueries(stuckBefore) {
		var reqs, err = s.Requests.List(ctx, q)
		if err != nil {
			return nil, err
		}
		for i := range reqs {
			out = append(out, trainingMessage(&reqs[i]))
		}
	}
	return out, nil
}

func trainingMessage(req *model.TrainingRequest) messages.TrainingRequested {
	return messages.TrainingRequested{
		RequestID:  req.RequestID,
		HorseID:    req.HorseID,
		TrainingID: req.TrainingID,
		SessionID:  req.SessionID,
		UserID:     req.UserID,
	}
}

// RacingSource replays race requests.
type RacingSource struct {
	Requests store.RaceRequests
}

func (s RacingSource) Service() model.ServiceType { return model.ServiceRacing }

func (s RacingSource) Message(ctx context.Context, id uuid.UUID) (any, error) {
	var req, err = s.Requests.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return racingMessage(req), nil
}

func (s RacingSource) NonComplete(ctx context.Context, stuckBefore *time.Time) ([]any, error) {
	var out []any
	for _, q := range nonCompleteQueries(stuckBefore) {
		var reqs, err = s.Requests.List(ctx, q)
		if err != nil {
			return nil, err
		}
		for i := range reqs {
			out = append(out, racingMessage(&reqs[i]))
		}
	}
	return out, nil
}

func racingMessage(req *model.RaceRequest) messages.RaceRequested {
	return messages.RaceRequested{
		RequestID: req.RequestID,
		RaceID:    req.RaceID,
		HorseID:   req.HorseID,
		OwnerID:   req.OwnerID,
	}
}
