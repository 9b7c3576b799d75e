package racing

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/hoofworks/paddock/go/bus"
	"github.com/hoofworks/paddock/go/bus/bustest"
	"github.com/hoofworks/paddock/go/messages"
	"github.com/hoofworks/paddock/go/model"
	"github.com/hoofworks/paddock/go/store/memstore"
)

const testRaceID uint8 = 4

func testHorse(name string, speed int) *model.Horse {
	var h = &model.Horse{
		ID:                      uuid.New(),
		Name:                    name,
		LegType:                 model.LegAllRounder,
		Happiness:               60,
		HasTrainedSinceLastRace: true,
		BornAt:                  time.Now().UTC().AddDate(-3, 0, 0),
	}
	for _, kind := range model.HeritableStats {
		h.Statistics = append(h.Statistics, model.Statistic{
			ID:                uuid.New(),
			HorseID:           h.ID,
			Kind:              kind,
			DominantPotential: 80,
			Actual:            speed,
		})
	}
	return h
}

type fixture struct {
	store     *memstore.Store
	broker    *bustest.Broker
	processor *Processor
	horse     *model.Horse
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	var st = memstore.New()
	var broker = bustest.NewBroker()
	require.NoError(t, broker.Connect(context.Background()))

	st.SeedRace(model.Race{ID: testRaceID, Name: "Maiden Stakes", Distance: 1200, Purse: 500})

	var horse = testHorse("Dobbin", 55)
	require.NoError(t, st.Horses().Insert(context.Background(), horse))
	for i, name := range []string{"Rival A", "Rival B", "Rival C"} {
		require.NoError(t, st.Horses().Insert(context.Background(), testHorse(name, 40+i*5)))
	}

	return &fixture{
		store:     st,
		broker:    broker,
		processor: NewProcessor(st, broker, rand.New(rand.NewSource(5))),
		horse:     horse,
	}
}

func (f *fixture) seedRequest(t *testing.T) messages.RaceRequested {
	t.Helper()
	var now = time.Now().UTC()
	var req = model.RaceRequest{
		RequestID:   uuid.New(),
		Status:      model.StatusPending,
		RaceID:      testRaceID,
		HorseID:     f.horse.ID,
		OwnerID:     uuid.New(),
		CreatedDate: now,
		UpdatedDate: now,
	}
	require.NoError(t, f.store.RaceRequests().Insert(context.Background(), &req))
	return messages.RaceRequested{
		RequestID: req.RequestID,
		RaceID:    req.RaceID,
		HorseID:   req.HorseID,
		OwnerID:   req.OwnerID,
	}
}

func TestRacingHappyPath(t *testing.T) {
	var f = newFixture(t)
	var msg = f.seedRequest(t)

	var result = f.processor.Process(context.Background(), msg, bus.MessageContext{})
	require.True(t, result.Ok())

	var req, err = f.store.RaceRequests().Get(context.Background(), msg.RequestID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, req.Status)
	require.NotNil(t, req.RaceRunID)
	require.Equal(t, 1, f.store.RaceRunCount())

	// All participants raced; the training gate reopened.
	horse, err := f.store.Horses().Get(context.Background(), f.horse.ID)
	require.NoError(t, err)
	require.Equal(t, 1, horse.RacesRun)
	require.False(t, horse.HasTrainedSinceLastRace)

	var events = f.broker.PublishedOf("RaceCompleted")
	require.Len(t, events, 1)
	require.Equal(t, msg.RequestID.String(), events[0].CorrelationID)
}

func TestRacingMissingRaceFails(t *testing.T) {
	var f = newFixture(t)
	var msg = f.seedRequest(t)

	var req, err = f.store.RaceRequests().Get(context.Background(), msg.RequestID)
	require.NoError(t, err)
	req.RaceID = 99
	require.NoError(t, f.store.RaceRequests().Update(context.Background(), req))

	var result = f.processor.Process(context.Background(), msg, bus.MessageContext{})
	require.False(t, result.Ok())

	req, err = f.store.RaceRequests().Get(context.Background(), msg.RequestID)
	require.NoError(t, err)
	require.Equal(t, model.StatusFailed, req.Status)
	require.Contains(t, req.FailureReason, "loading race")
	require.Equal(t, 0, f.store.RaceRunCount())
}

func TestRacingRedeliveryIsIdempotent(t *testing.T) {
	var f = newFixture(t)
	var msg = f.seedRequest(t)

	require.True(t, f.processor.Process(context.Background(), msg, bus.MessageContext{}).Ok())
	require.True(t, f.processor.Process(context.Background(), msg, bus.MessageContext{Redelivered: true}).Ok())

	require.Equal(t, 1, f.store.RaceRunCount(), "redelivery must not rerun the race")
	var horse, err = f.store.Horses().Get(context.Background(), f.horse.ID)
	require.NoError(t, err)
	require.Equal(t, 1, horse.RacesRun)
}

func TestSimulateProducesCompleteRun(t *testing.T) {
	var r = rand.New(rand.NewSource(9))
	var race = &model.Race{ID: testRaceID, Distance: 1200}
	var field = []*model.Horse{
		testHorse("A", 60), testHorse("B", 50), testHorse("C", 40),
	}

	var run = simulate(r, race, field, time.Now().UTC())
	require.Equal(t, race.ID, run.RaceID)
	require.Len(t, run.Horses, len(field))
	require.NotEmpty(t, run.Ticks)

	// Placements are a complete 1..N ranking and every horse finished.
	var placements = make(map[int]uuid.UUID)
	for _, h := range run.Horses {
		placements[h.Placement] = h.HorseID
		require.Greater(t, h.FinishedAtTick, 0)
		require.Equal(t, run.ID, h.RaceRunID)
	}
	require.Len(t, placements, len(field))
	for place := 1; place <= len(field); place++ {
		require.Contains(t, placements, place)
	}

	// The winner finished no later than anyone else.
	var byID = make(map[uuid.UUID]model.RaceRunHorse)
	for _, h := range run.Horses {
		byID[h.HorseID] = h
	}
	var winner = byID[placements[1]]
	for _, h := range run.Horses {
		require.LessOrEqual(t, winner.FinishedAtTick, h.FinishedAtTick)
	}

	// Per-horse positions never decrease across ticks.
	var last = make(map[uuid.UUID]float64)
	for _, tick := range run.Ticks {
		require.GreaterOrEqual(t, tick.Position, last[tick.HorseID])
		require.LessOrEqual(t, tick.Position, float64(race.Distance))
		last[tick.HorseID] = tick.Position
	}
}

func TestSimulateFavorsStrongerField(t *testing.T) {
	var wins int
	for seed := int64(0); seed < 20; seed++ {
		var r = rand.New(rand.NewSource(seed))
		var strong = testHorse("Strong", 75)
		var field = []*model.Horse{strong, testHorse("Weak", 25)}
		var run = simulate(r, &model.Race{ID: testRaceID, Distance: 1200}, field, time.Now().UTC())
		if run.Horses[0].HorseID == strong.ID {
			wins++
		}
	}
	require.Greater(t, wins, 15, "a far stronger horse wins the large majority of runs")
}
