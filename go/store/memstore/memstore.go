// Package memstore is an in-memory store.Store used by tests and local
// development. Transact takes a copy-on-write snapshot of the full data
// set: mutations made inside the transaction become visible only when
// the transaction function returns nil.
package memstore

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/hoofworks/paddock/go/model"
	"github.com/hoofworks/paddock/go/store"
)

type prefKey struct {
	horseID   uuid.UUID
	feedingID uint8
}

type data struct {
	breeding  map[uuid.UUID]model.BreedingRequest
	feeding   map[uuid.UUID]model.FeedingRequest
	training  map[uuid.UUID]model.TrainingRequest
	race      map[uuid.UUID]model.RaceRequest
	horses    map[uuid.UUID]model.Horse
	colors    map[uuid.UUID]model.Color
	feedings  map[uint8]model.Feeding
	trainings map[uint8]model.Training
	races     map[uint8]model.Race

	feedSessions  []model.FeedingSession
	feedPrefs     map[prefKey]model.HorseFeedingPreference
	trainSessions []model.TrainingSession
	raceRuns      []model.RaceRun
}

func newData() *data {
	return &data{
		breeding:  make(map[uuid.UUID]model.BreedingRequest),
		feeding:   make(map[uuid.UUID]model.FeedingRequest),
		training:  make(map[uuid.UUID]model.TrainingRequest),
		race:      make(map[uuid.UUID]model.RaceRequest),
		horses:    make(map[uuid.UUID]model.Horse),
		colors:    make(map[uuid.UUID]model.Color),
		feedings:  make(map[uint8]model.Feeding),
		trainings: make(map[uint8]model.Training),
		races:     make(map[uint8]model.Race),
		feedPrefs: make(map[prefKey]model.HorseFeedingPreference),
	}
}

func (d *data) clone() *data {
	var out = &data{
		breeding:  make(map[uuid.UUID]model.BreedingRequest, len(d.breeding)),
		feeding:   make(map[uuid.UUID]model.FeedingRequest, len(d.feeding)),
		training:  make(map[uuid.UUID]model.TrainingRequest, len(d.training)),
		race:      make(map[uuid.UUID]model.RaceRequest, len(d.race)),
		horses:    make(map[uuid.UUID]model.Horse, len(d.horses)),
		colors:    make(map[uuid.UUID]model.Color, len(d.colors)),
		feedings:  make(map[uint8]model.Feeding, len(d.feedings)),
		trainings: make(map[uint8]model.Training, len(d.trainings)),
		races:     make(map[uint8]model.Race, len(d.races)),
		feedPrefs: make(map[prefKey]model.HorseFeedingPreference, len(d.feedPrefs)),

		feedSessions:  append([]model.FeedingSession(nil), d.feedSessions...),
		trainSessions: append([]model.TrainingSession(nil), d.trainSessions...),
		raceRuns:      append([]model.RaceRun(nil), d.raceRuns...),
	}
	for k, v := range d.breeding {
		out.breeding[k] = v
	}
	for k, v := range d.feeding {
		out.feeding[k] = v
	}
	for k, v := range d.training {
		out.training[k] = v
	}
	for k, v := range d.race {
		out.race[k] = v
	}
	for k, v := range d.horses {
		v.Statistics = append([]model.Statistic(nil), v.Statistics...)
		out.horses[k] = v
	}
	for k, v := range d.colors {
		out.colors[k] = v
	}
	for k, v := range d.feedings {
		out.feedings[k] = v
	}
	for k, v := range d.trainings {
		out.trainings[k] = v
	}
	for k, v := range d.races {
		out.races[k] = v
	}
	for k, v := range d.feedPrefs {
		out.feedPrefs[k] = v
	}
	return out
}

// Store is the in-memory store.Store.
type Store struct {
	mu sync.Mutex
	d  *data
}

// New returns an empty in-memory store.
func New() *Store { return &Store{d: newData()} }

var _ store.Store = (*Store)(nil)

// Transact snapshots the data set, runs |fn| against the snapshot, and
// swaps it in when |fn| returns nil. Transactions are serialized.
func (s *Store) Transact(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var clone = s.d.clone()
	if err := fn(ctx, &txStore{d: clone}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.d = clone
	return nil
}

func (s *Store) BreedingRequests() store.BreedingRequests { return breedingRepo{s} }
func (s *Store) FeedingRequests() store.FeedingRequests   { return feedingReqRepo{s} }
func (s *Store) TrainingRequests() store.TrainingRequests { return trainingReqRepo{s} }
func (s *Store) RaceRequests() store.RaceRequests         { return raceReqRepo{s} }
func (s *Store) Horses() store.Horses                     { return horsesRepo{s} }
func (s *Store) Colors() store.Colors                     { return colorsRepo{s} }
func (s *Store) Feedings() store.Feedings                 { return feedingsRepo{s} }
func (s *Store) Trainings() store.Trainings               { return trainingsRepo{s} }
func (s *Store) Races() store.Races                       { return racesRepo{s} }
func (s *Store) FeedingSessions() store.FeedingSessions   { return feedSessionsRepo{s} }
func (s *Store) FeedingPreferences() store.FeedingPreferences {
	return feedPrefsRepo{s}
}
func (s *Store) TrainingSessions() store.TrainingSessions { return trainSessionsRepo{s} }
func (s *Store) RaceRuns() store.RaceRuns                 { return raceRunsRepo{s} }

// with runs |fn| holding the store mutex, against the live data set.
func (s *Store) with(fn func(d *data) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.d)
}

// txStore is the transactional view: it operates directly on the
// snapshot, without locking, and joins nested Transact calls.
type txStore struct {
	d *data
}

var _ store.Store = (*txStore)(nil)

func (t *txStore) Transact(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	return fn(ctx, t)
}

func (t *txStore) with(fn func(d *data) error) error { return fn(t.d) }

func (t *txStore) BreedingRequests() store.BreedingRequests { return breedingRepo{t} }
func (t *txStore) FeedingRequests() store.FeedingRequests   { return feedingReqRepo{t} }
func (t *txStore) TrainingRequests() store.TrainingRequests { return trainingReqRepo{t} }
func (t *txStore) RaceRequests() store.RaceRequests         { return raceReqRepo{t} }
func (t *txStore) Horses() store.Horses                     { return horsesRepo{t} }
func (t *txStore) Colors() store.Colors                     { return colorsRepo{t} }
func (t *txStore) Feedings() store.Feedings                 { return feedingsRepo{t} }
func (t *txStore) Trainings() store.Trainings               { return trainingsRepo{t} }
func (t *txStore) Races() store.Races                       { return racesRepo{t} }
func (t *txStore) FeedingSessions() store.FeedingSessions   { return feedSessionsRepo{t} }
func (t *txStore) FeedingPreferences() store.FeedingPreferences {
	return feedPrefsRepo{t}
}
func (t *txStore) TrainingSessions() store.TrainingSessions { return trainSessionsRepo{t} }
func (t *txStore) RaceRuns() store.RaceRuns                 { return raceRunsRepo{t} }

// accessor abstracts the live store and the transactional view.
type accessor interface {
	with(fn func(d *data) error) error
}
