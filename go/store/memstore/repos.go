package memstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/hoofworks/paddock/go/model"
	"github.com/hoofworks/paddock/go/store"
)

type breedingRepo struct{ a accessor }

func (r breedingRepo) Get(_ context.Context, id uuid.UUID) (*model.BreedingRequest, error) {
	var out *model.BreedingRequest
	var err = r.a.with(func(d *data) error {
		if req, ok := d.breeding[id]; ok {
			out = &req
			return nil
		}
		return store.ErrNotFound
	})
	return out, err
}

func (r breedingRepo) Insert(_ context.Context, req *model.BreedingRequest) error {
	return r.a.with(func(d *data) error {
		if _, ok := d.breeding[req.RequestID]; ok {
			return fmt.Errorf("breeding request %s already exists", req.RequestID)
		}
		d.breeding[req.RequestID] = *req
		return nil
	})
}

func (r breedingRepo) Update(_ context.Context, req *model.BreedingRequest) error {
	return r.a.with(func(d *data) error {
		if _, ok := d.breeding[req.RequestID]; !ok {
			return store.ErrNotFound
		}
		d.breeding[req.RequestID] = *req
		return nil
	})
}

func (r breedingRepo) List(_ context.Context, q store.RequestQuery) ([]model.BreedingRequest, error) {
	var out []model.BreedingRequest
	_ = r.a.with(func(d *data) error {
		for _, req := range d.breeding {
			if q.Matches(req.Status, req.UpdatedDate) {
				out = append(out, req)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedDate.Before(out[j].CreatedDate) })
	return out, nil
}

type feedingReqRepo struct{ a accessor }

func (r feedingReqRepo) Get(_ context.Context, id uuid.UUID) (*model.FeedingRequest, error) {
	var out *model.FeedingRequest
	var err = r.a.with(func(d *data) error {
		if req, ok := d.feeding[id]; ok {
			out = &req
			return nil
		}
		return store.ErrNotFound
	})
	return out, err
}

func (r feedingReqRepo) Insert(_ context.Context, req *model.FeedingRequest) error {
	return r.a.with(func(d *data) error {
		if _, ok := d.feeding[req.RequestID]; ok {
			return fmt.Errorf("feeding request %s already exists", req.RequestID)
		}
		d.feeding[req.RequestID] = *req
		return nil
	})
}

func (r feedingReqRepo) Update(_ context.Context, req *model.FeedingRequest) error {
	return r.a.with(func(d *data) error {
		if _, ok := d.feeding[req.RequestID]; !ok {
			return store.ErrNotFound
		}
		d.feeding[req.RequestID] = *req
		return nil
	})
}

func (r feedingReqRepo) List(_ context.Context, q store.RequestQuery) ([]model.FeedingRequest, error) {
	var out []model.FeedingRequest
	_ = r.a.with(func(d *data) error {
		for _, req := range d.feeding {
			if q.Matches(req.Status, req.UpdatedDate) {
				out = append(out, req)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedDate.Before(out[j].CreatedDate) })
	return out, nil
}

type trainingReqRepo struct{ a accessor }

func (r trainingReqRepo) Get(_ context.Context, id uuid.UUID) (*model.TrainingRequest, error) {
	var out *model.TrainingRequest
	var err = r.a.with(func(d *data) error {
		if req, ok := d.training[id]; ok {
			out = &req
			return nil
		}
		return store.ErrNotFound
	})
	return out, err
}

func (r trainingReqRepo) Insert(_ context.Context, req *model.TrainingRequest) error {
	return r.a.with(func(d *data) error {
		if _, ok := d.training[req.RequestID]; ok {
			return fmt.Errorf("training request %s already exists", req.RequestID)
		}
		d.training[req.RequestID] = *req
		return nil
	})
}

func (r trainingReqRepo) Update(_ context.Context, req *model.TrainingRequest) error {
	return r.a.with(func(d *data) error {
		if _, ok := d.training[req.RequestID]; !ok {
			return store.ErrNotFound
		}
		d.training[req.RequestID] = *req
		return nil
	})
}

func (r trainingReqRepo) List(_ context.Context, q store.RequestQuery) ([]model.TrainingRequest, error) {
	var out []model.TrainingRequest
	_ = r.a.with(func(d *data) error {
		for _, req := range d.training {
			if q.Matches(req.Status, req.UpdatedDate) {
				out = append(out, req)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedDate.Before(out[j].CreatedDate) })
	return out, nil
}

type raceReqRepo struct{ a accessor }

func (r raceReqRepo) Get(_ context.Context, id uuid.UUID) (*model.RaceRequest, error) {
	var out *model.RaceRequest
	var err = r.a.with(func(d *data) error {
		if req, ok := d.race[id]; ok {
			out = &req
			return nil
		}
		return store.ErrNotFound
	})
	return out, err
}

func (r raceReqRepo) Insert(_ context.Context, req *model.RaceRequest) error {
	return r.a.with(func(d *data) error {
		if _, ok := d.race[req.RequestID]; ok {
			return fmt.Errorf("race request %s already exists", req.RequestID)
		}
		d.race[req.RequestID] = *req
		return nil
	})
}

func (r raceReqRepo) Update(_ context.Context, req *model.RaceRequest) error {
	return r.a.with(func(d *data) error {
		if _, ok := d.race[req.RequestID]; !ok {
			return store.ErrNotFound
		}
		d.race[req.RequestID] = *req
		return nil
	})
}

func (r raceReqRepo) List(_ context.Context, q store.RequestQuery) ([]model.RaceRequest, error) {
	var out []model.RaceRequest
	_ = r.a.with(func(d *data) error {
		for _, req := range d.race {
			if q.Matches(req.Status, req.UpdatedDate) {
				out = append(out, req)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedDate.Before(out[j].CreatedDate) })
	return out, nil
}

type horsesRepo struct{ a accessor }

func (r horsesRepo) Get(_ context.Context, id uuid.UUID) (*model.Horse, error) {
	var out *model.Horse
	var err = r.a.with(func(d *data) error {
		if h, ok := d.horses[id]; ok {
			h.Statistics = append([]model.Statistic(nil), h.Statistics...)
			out = &h
			return nil
		}
		return store.ErrNotFound
	})
	return out, err
}

func (r horsesRepo) Insert(_ context.Context, horse *model.Horse) error {
	return r.a.with(func(d *data) error {
		if _, ok := d.horses[horse.ID]; ok {
			return fmt.Errorf("horse %s already exists", horse.ID)
		}
		var h = *horse
		h.Statistics = append([]model.Statistic(nil), horse.Statistics...)
		d.horses[h.ID] = h
		return nil
	})
}

func (r horsesRepo) Update(_ context.Context, horse *model.Horse) error {
	return r.a.with(func(d *data) error {
		if _, ok := d.horses[horse.ID]; !ok {
			return store.ErrNotFound
		}
		var h = *horse
		h.Statistics = append([]model.Statistic(nil), horse.Statistics...)
		d.horses[h.ID] = h
		return nil
	})
}

func (r horsesRepo) Sample(_ context.Context, n int, exclude uuid.UUID) ([]model.Horse, error) {
	var out []model.Horse
	_ = r.a.with(func(d *data) error {
		for id, h := range d.horses {
			if id == exclude {
				continue
			}
			h.Statistics = append([]model.Statistic(nil), h.Statistics...)
			out = append(out, h)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

type colorsRepo struct{ a accessor }

func (r colorsRepo) Get(_ context.Context, id uuid.UUID) (*model.Color, error) {
	var out *model.Color
	var err = r.a.with(func(d *data) error {
		if c, ok := d.colors[id]; ok {
			out = &c
			return nil
		}
		return store.ErrNotFound
	})
	return out, err
}

func (r colorsRepo) List(_ context.Context) ([]model.Color, error) {
	var out []model.Color
	_ = r.a.with(func(d *data) error {
		for _, c := range d.colors {
			out = append(out, c)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type feedingsRepo struct{ a accessor }

func (r feedingsRepo) Get(_ context.Context, id uint8) (*model.Feeding, error) {
	var out *model.Feeding
	var err = r.a.with(func(d *data) error {
		if f, ok := d.feedings[id]; ok {
			out = &f
			return nil
		}
		return store.ErrNotFound
	})
	return out, err
}

type trainingsRepo struct{ a accessor }

func (r trainingsRepo) Get(_ context.Context, id uint8) (*model.Training, error) {
	var out *model.Training
	var err = r.a.with(func(d *data) error {
		if t, ok := d.trainings[id]; ok {
			out = &t
			return nil
		}
		return store.ErrNotFound
	})
	return out, err
}

type racesRepo struct{ a accessor }

func (r racesRepo) Get(_ context.Context, id uint8) (*model.Race, error) {
	var out *model.Race
	var err = r.a.with(func(d *data) error {
		if race, ok := d.races[id]; ok {
			out = &race
			return nil
		}
		return store.ErrNotFound
	})
	return out, err
}

type feedSessionsRepo struct{ a accessor }

func (r feedSessionsRepo) Insert(_ context.Context, session *model.FeedingSession) error {
	return r.a.with(func(d *data) error {
		d.feedSessions = append(d.feedSessions, *session)
		return nil
	})
}

type feedPrefsRepo struct{ a accessor }

func (r feedPrefsRepo) Get(_ context.Context, horseID uuid.UUID, feedingID uint8) (*model.HorseFeedingPreference, error) {
	var out *model.HorseFeedingPreference
	var err = r.a.with(func(d *data) error {
		if p, ok := d.feedPrefs[prefKey{horseID, feedingID}]; ok {
			out = &p
			return nil
		}
		return store.ErrNotFound
	})
	return out, err
}

func (r feedPrefsRepo) Insert(_ context.Context, pref *model.HorseFeedingPreference) error {
	return r.a.with(func(d *data) error {
		d.feedPrefs[prefKey{pref.HorseID, pref.FeedingID}] = *pref
		return nil
	})
}

type trainSessionsRepo struct{ a accessor }

func (r trainSessionsRepo) Insert(_ context.Context, session *model.TrainingSession) error {
	return r.a.with(func(d *data) error {
		d.trainSessions = append(d.trainSessions, *session)
		return nil
	})
}

type raceRunsRepo struct{ a accessor }

func (r raceRunsRepo) Insert(_ context.Context, run *model.RaceRun) error {
	return r.a.with(func(d *data) error {
		var copied = *run
		copied.Horses = append([]model.RaceRunHorse(nil), run.Horses...)
		copied.Ticks = append([]model.RaceRunTick(nil), run.Ticks...)
		d.raceRuns = append(d.raceRuns, copied)
		return nil
	})
}

// Seeding and inspection helpers for tests and local development.

// SeedColor adds a catalog color.
func (s *Store) SeedColor(c model.Color) { _ = s.with(func(d *data) error { d.colors[c.ID] = c; return nil }) }

// SeedFeeding adds a catalog feed.
func (s *Store) SeedFeeding(f model.Feeding) {
	_ = s.with(func(d *data) error { d.feedings[f.ID] = f; return nil })
}

// SeedTraining adds a catalog training program.
func (s *Store) SeedTraining(t model.Training) {
	_ = s.with(func(d *data) error { d.trainings[t.ID] = t; return nil })
}

// SeedRace adds a catalog race.
func (s *Store) SeedRace(race model.Race) {
	_ = s.with(func(d *data) error { d.races[race.ID] = race; return nil })
}

// FeedingSessionCount reports the number of persisted feeding sessions.
func (s *Store) FeedingSessionCount() int {
	var n int
	_ = s.with(func(d *data) error { n = len(d.feedSessions); return nil })
	return n
}

// TrainingSessionCount reports the number of persisted training sessions.
func (s *Store) TrainingSessionCount() int {
	var n int
	_ = s.with(func(d *data) error { n = len(d.trainSessions); return nil })
	return n
}

// RaceRunCount reports the number of persisted race runs.
func (s *Store) RaceRunCount() int {
	var n int
	_ = s.with(func(d *data) error { n = len(d.raceRuns); return nil })
	return n
}

// HorseCount reports the number of persisted horses.
func (s *Store) HorseCount() int {
	var n int
	_ = s.with(func(d *data) error { n = len(d.horses); return nil })
	return n
}
