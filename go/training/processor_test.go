package training

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

const testProgramID uint8 = 2

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

	st.SeedTraining(model.Training{
		ID:            testProgramID,
		Name:          "Sprints",
		TrainedStat:   model.StatSpeed,
		Intensity:     2,
		HappinessCost: 10,
	})

	var horse = &model.Horse{
		ID:        uuid.New(),
		Name:      "Dobbin",
		LegType:   model.LegFrontRunner,
		Happiness: 80,
		BornAt:    time.Now().UTC().AddDate(-2, 0, 0),
		Statistics: []model.Statistic{
			{ID: uuid.New(), Kind: model.StatSpeed, DominantPotential: 70, Actual: 40},
		},
	}
	horse.Statistics[0].HorseID = horse.ID
	require.NoError(t, st.Horses().Insert(context.Background(), horse))

	return &fixture{
		store:     st,
		broker:    broker,
		processor: NewProcessor(st, broker, rand.New(rand.NewSource(5))),
		horse:     horse,
	}
}

func (f *fixture) seedRequest(t *testing.T) messages.TrainingRequested {
	t.Helper()
	var now = time.Now().UTC()
	var req = model.TrainingRequest{
		RequestID:   uuid.New(),
		Status:      model.StatusPending,
		HorseID:     f.horse.ID,
		TrainingID:  testProgramID,
		SessionID:   uuid.New(),
		UserID:      uuid.New(),
		CreatedDate: now,
		UpdatedDate: now,
	}
	require.NoError(t, f.store.TrainingRequests().Insert(context.Background(), &req))
	return messages.TrainingRequested{
		RequestID:  req.RequestID,
		HorseID:    req.HorseID,
		TrainingID: req.TrainingID,
		SessionID:  req.SessionID,
		UserID:     req.UserID,
	}
}

func TestTrainingHappyPath(t *testing.T) {
	var f = newFixture(t)
	var msg = f.seedRequest(t)

	var result = f.processor.Process(context.Background(), msg, bus.MessageContext{})
	require.True(t, result.Ok())

	var req, err = f.store.TrainingRequests().Get(context.Background(), msg.RequestID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, req.Status)
	require.NotNil(t, req.TrainingSessionID)
	require.Equal(t, 1, f.store.TrainingSessionCount())

	horse, err := f.store.Horses().Get(context.Background(), f.horse.ID)
	require.NoError(t, err)
	require.True(t, horse.HasTrainedSinceLastRace)
	require.Equal(t, 1, horse.TrainedDays)
	require.Greater(t, horse.Stat(model.StatSpeed).Actual, 40)
	require.LessOrEqual(t, horse.Stat(model.StatSpeed).Actual, 70)
	require.Less(t, horse.Happiness, 80, "training costs happiness")

	var events = f.broker.PublishedOf("TrainingCompleted")
	require.Len(t, events, 1)
	require.Equal(t, msg.RequestID.String(), events[0].CorrelationID)
}

func TestTrainingRejectsSecondSessionBeforeNextRace(t *testing.T) {
	var f = newFixture(t)
	f.horse.HasTrainedSinceLastRace = true
	require.NoError(t, f.store.Horses().Update(context.Background(), f.horse))
	var msg = f.seedRequest(t)

	var result = f.processor.Process(context.Background(), msg, bus.MessageContext{})
	require.False(t, result.Ok())
	require.False(t, result.Requeue())

	var req, _ = f.store.TrainingRequests().Get(context.Background(), msg.RequestID)
	require.Equal(t, model.StatusFailed, req.Status)
	require.Contains(t, req.FailureReason, "already trained")
	require.Equal(t, 0, f.store.TrainingSessionCount())
}

func TestTrainingRejectsUnhappyHorse(t *testing.T) {
	var f = newFixture(t)
	f.horse.Happiness = HappinessFloor - 1
	require.NoError(t, f.store.Horses().Update(context.Background(), f.horse))
	var msg = f.seedRequest(t)

	var result = f.processor.Process(context.Background(), msg, bus.MessageContext{})
	require.False(t, result.Ok())

	var req, _ = f.store.TrainingRequests().Get(context.Background(), msg.RequestID)
	require.Equal(t, model.StatusFailed, req.Status)
	require.Contains(t, req.FailureReason, "below the training floor")
}

func TestTrainingRedeliveryIsIdempotent(t *testing.T) {
	var f = newFixture(t)
	var msg = f.seedRequest(t)

	require.True(t, f.processor.Process(context.Background(), msg, bus.MessageContext{}).Ok())
	require.True(t, f.processor.Process(context.Background(), msg, bus.MessageContext{Redelivered: true}).Ok())

	require.Equal(t, 1, f.store.TrainingSessionCount())
	require.Len(t, f.broker.PublishedOf("TrainingCompleted"), 1)
}

func TestGainClampsAtPotential(t *testing.T) {
	var now = time.Now().UTC()
	var horse = &model.Horse{
		ID:        uuid.New(),
		LegType:   model.LegAllRounder,
		Happiness: 100,
		BornAt:    now.AddDate(0, -6, 0),
	}
	var stat = &model.Statistic{Kind: model.StatSpeed, DominantPotential: 50, Actual: 49}
	var program = &model.Training{TrainedStat: model.StatSpeed, Intensity: 3}

	var gain = gainFor(horse, stat, program, now)
	require.Equal(t, 1, gain, "gain never pushes actual past the potential")

	stat.Actual = 50
	require.Zero(t, gainFor(horse, stat, program, now))
}

func TestGainScalesWithCareerPhase(t *testing.T) {
	var now = time.Now().UTC()
	var stat = model.Statistic{Kind: model.StatSpeed, DominantPotential: 80, Actual: 30}
	var program = &model.Training{TrainedStat: model.StatSpeed, Intensity: 1}
	var horseAt = func(age time.Duration) *model.Horse {
		return &model.Horse{
			ID:        uuid.New(),
			LegType:   model.LegStalker,
			Happiness: 50,
			BornAt:    now.Add(-age),
		}
	}

	var young = gainFor(horseAt(100*24*time.Hour), &stat, program, now)
	var prime = gainFor(horseAt(800*24*time.Hour), &stat, program, now)
	var veteran = gainFor(horseAt(3000*24*time.Hour), &stat, program, now)
	require.Greater(t, young, prime)
	require.Greater(t, prime, veteran)
}

func TestLegTypeBonusFavorsMatchingStat(t *testing.T) {
	require.Greater(t, legTypeBonus(model.LegFrontRunner, model.StatSpeed), 1.0)
	require.Equal(t, 1.0, legTypeBonus(model.LegFrontRunner, model.StatStamina))
	require.Greater(t, legTypeBonus(model.LegCloser, model.StatStamina), 1.0)
	require.Greater(t, legTypeBonus(model.LegAllRounder, model.StatStrength), 1.0)
}

func TestHappinessCostOverworkRoll(t *testing.T) {
	var r = rand.New(rand.NewSource(3))
	var program = &model.Training{HappinessCost: 10}
	var saw = make(map[int]int)
	for i := 0; i < 1000; i++ {
		saw[happinessCostFor(r, program)]++
	}
	require.Greater(t, saw[10], 0)
	require.Greater(t, saw[20], 0, "overwork doubles the cost")
	require.Greater(t, saw[10], saw[20])
	require.Len(t, saw, 2)
}
