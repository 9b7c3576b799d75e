package breeding

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/hoofworks/paddock/go/bus"
	"github.com/hoofworks/paddock/go/bus/bustest"
	"github.com/hoofworks/paddock/go/messages"
	"github.com/hoofworks/paddock/go/model"
	"github.com/hoofworks/paddock/go/namegen"
	"github.com/hoofworks/paddock/go/store"
	"github.com/hoofworks/paddock/go/store/memstore"
)

type fixture struct {
	store     *memstore.Store
	broker    *bustest.Broker
	processor *Processor
	sire, dam *model.Horse
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	var st = memstore.New()
	var broker = bustest.NewBroker()
	require.NoError(t, broker.Connect(context.Background()))

	st.SeedColor(model.Color{ID: uuid.New(), Name: "Bay", Weight: 1})
	st.SeedColor(model.Color{ID: uuid.New(), Name: "Chestnut", Weight: 2})

	var sire = testParent(model.SexStallion, 70, 50)
	var dam = testParent(model.SexMare, 60, 40)
	require.NoError(t, st.Horses().Insert(context.Background(), sire))
	require.NoError(t, st.Horses().Insert(context.Background(), dam))

	var rng = rand.New(rand.NewSource(5))
	return &fixture{
		store:     st,
		broker:    broker,
		processor: NewProcessor(st, broker, namegen.New(rng), rng),
		sire:      sire,
		dam:       dam,
	}
}

func (f *fixture) seedRequest(t *testing.T, sireID, damID uuid.UUID) messages.BreedingRequested {
	t.Helper()
	var now = time.Now().UTC()
	var req = model.BreedingRequest{
		RequestID:   uuid.New(),
		Status:      model.StatusPending,
		SireID:      sireID,
		DamID:       damID,
		OwnerID:     uuid.New(),
		CreatedDate: now,
		UpdatedDate: now,
	}
	require.NoError(t, f.store.BreedingRequests().Insert(context.Background(), &req))
	return messages.BreedingRequested{
		RequestID: req.RequestID,
		SireID:    req.SireID,
		DamID:     req.DamID,
		OwnerID:   req.OwnerID,
	}
}

func TestBreedingHappyPath(t *testing.T) {
	var f = newFixture(t)
	var msg = f.seedRequest(t, f.sire.ID, f.dam.ID)

	var result = f.processor.Process(context.Background(), msg, bus.MessageContext{})
	require.True(t, result.Ok())

	var req, err = f.store.BreedingRequests().Get(context.Background(), msg.RequestID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, req.Status)
	require.NotNil(t, req.FoalID)
	require.NotNil(t, req.ProcessedDate)
	require.Empty(t, req.FailureReason)

	foal, err := f.store.Horses().Get(context.Background(), *req.FoalID)
	require.NoError(t, err)
	require.NotEmpty(t, foal.Name)
	require.Equal(t, msg.OwnerID, foal.OwnerID)
	require.Equal(t, f.sire.ID, *foal.SireID)
	require.Equal(t, f.dam.ID, *foal.DamID)
	require.Len(t, foal.Statistics, len(model.HeritableStats)+1)
	require.Zero(t, foal.RacesRun)
	require.Zero(t, foal.Parented)

	// Both parents gained a parenting credit.
	sire, err := f.store.Horses().Get(context.Background(), f.sire.ID)
	require.NoError(t, err)
	require.Equal(t, 1, sire.Parented)
	dam, err := f.store.Horses().Get(context.Background(), f.dam.ID)
	require.NoError(t, err)
	require.Equal(t, 1, dam.Parented)

	var events = f.broker.PublishedOf("BreedingCompleted")
	require.Len(t, events, 1)
	require.Equal(t, msg.RequestID.String(), events[0].CorrelationID)
}

func TestBreedingMissingSireFails(t *testing.T) {
	var f = newFixture(t)
	var msg = f.seedRequest(t, uuid.New(), f.dam.ID)

	var result = f.processor.Process(context.Background(), msg, bus.MessageContext{})
	require.False(t, result.Ok())
	require.False(t, result.Requeue())

	var req, err = f.store.BreedingRequests().Get(context.Background(), msg.RequestID)
	require.NoError(t, err)
	require.Equal(t, model.StatusFailed, req.Status)
	require.Contains(t, req.FailureReason, "Sire")
	require.Empty(t, f.broker.PublishedOf("BreedingCompleted"))
}

func TestBreedingMissingDamFails(t *testing.T) {
	var f = newFixture(t)
	var msg = f.seedRequest(t, f.sire.ID, uuid.New())

	var result = f.processor.Process(context.Background(), msg, bus.MessageContext{})
	require.False(t, result.Ok())

	var req, _ = f.store.BreedingRequests().Get(context.Background(), msg.RequestID)
	require.Equal(t, model.StatusFailed, req.Status)
	require.Contains(t, req.FailureReason, "Dam")
}

func TestBreedingParentMissingStatFailsWithoutSideEffects(t *testing.T) {
	var f = newFixture(t)
	f.dam.Statistics = f.dam.Statistics[:2]
	require.NoError(t, f.store.Horses().Update(context.Background(), f.dam))
	var msg = f.seedRequest(t, f.sire.ID, f.dam.ID)
	var horsesBefore = f.store.HorseCount()

	var result = f.processor.Process(context.Background(), msg, bus.MessageContext{})
	require.False(t, result.Ok())

	var req, _ = f.store.BreedingRequests().Get(context.Background(), msg.RequestID)
	require.Equal(t, model.StatusFailed, req.Status)
	require.Contains(t, req.FailureReason, "both parents must carry")

	// The transaction rolled back: no foal, no parenting credits.
	require.Equal(t, horsesBefore, f.store.HorseCount())
	var sire, _ = f.store.Horses().Get(context.Background(), f.sire.ID)
	require.Zero(t, sire.Parented)
}

func TestBreedingRedeliveryOverCompletedIsIdempotent(t *testing.T) {
	var f = newFixture(t)
	var msg = f.seedRequest(t, f.sire.ID, f.dam.ID)

	require.True(t, f.processor.Process(context.Background(), msg, bus.MessageContext{}).Ok())
	var horsesAfterFirst = f.store.HorseCount()

	// Redelivery acks without breeding a second foal or re-publishing.
	require.True(t, f.processor.Process(context.Background(), msg, bus.MessageContext{Redelivered: true}).Ok())
	require.Equal(t, horsesAfterFirst, f.store.HorseCount())
	require.Len(t, f.broker.PublishedOf("BreedingCompleted"), 1)

	var sire, _ = f.store.Horses().Get(context.Background(), f.sire.ID)
	require.Equal(t, 1, sire.Parented)
}

func TestBreedingPublishFailureThenRedeliveryRepublishes(t *testing.T) {
	var f = newFixture(t)
	var msg = f.seedRequest(t, f.sire.ID, f.dam.ID)

	f.broker.FailPublishesOf("BreedingCompleted", errors.New("broker gone"))
	var result = f.processor.Process(context.Background(), msg, bus.MessageContext{})
	require.False(t, result.Ok())
	require.False(t, result.Requeue())

	// The work is committed: row Completed with the publish annotation.
	var req, err = f.store.BreedingRequests().Get(context.Background(), msg.RequestID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, req.Status)
	require.NotNil(t, req.FoalID)
	require.Contains(t, req.FailureReason, "Publish failed: ")

	// Redelivery re-publishes the rebuilt event and clears the note.
	f.broker.FailPublishesOf("BreedingCompleted", nil)
	require.True(t, f.processor.Process(context.Background(), msg, bus.MessageContext{Redelivered: true}).Ok())

	req, err = f.store.BreedingRequests().Get(context.Background(), msg.RequestID)
	require.NoError(t, err)
	require.Empty(t, req.FailureReason)

	var events = f.broker.PublishedOf("BreedingCompleted")
	require.Len(t, events, 1)

	// No duplicate foal was bred.
	var sire, _ = f.store.Horses().Get(context.Background(), f.sire.ID)
	require.Equal(t, 1, sire.Parented)
}

func TestBreedingUnknownRequestRowIsAcked(t *testing.T) {
	var f = newFixture(t)
	var msg = messages.BreedingRequested{RequestID: uuid.New(), SireID: f.sire.ID, DamID: f.dam.ID}

	require.True(t, f.processor.Process(context.Background(), msg, bus.MessageContext{}).Ok())
	require.Empty(t, f.broker.Published())
}

func TestBreedingRejectsMismatchedSexes(t *testing.T) {
	var f = newFixture(t)
	// Swap the parents: dam in the sire slot.
	var msg = f.seedRequest(t, f.dam.ID, f.sire.ID)

	var result = f.processor.Process(context.Background(), msg, bus.MessageContext{})
	require.False(t, result.Ok())

	var req, _ = f.store.BreedingRequests().Get(context.Background(), msg.RequestID)
	require.Equal(t, model.StatusFailed, req.Status)
	require.Contains(t, req.FailureReason, "not a stallion")
}

// flakyColorStore fails the next |remaining| color-catalog reads.
type flakyColorStore struct {
	store.Store
	remaining int
}

func (s *flakyColorStore) Colors() store.Colors {
	return &flakyColors{Colors: s.Store.Colors(), store: s}
}

type flakyColors struct {
	store.Colors
	store *flakyColorStore
}

func (c *flakyColors) List(ctx context.Context) ([]model.Color, error) {
	if c.store.remaining > 0 {
		c.store.remaining--
		return nil, errors.New("transient db outage")
	}
	return c.Colors.List(ctx)
}

func TestBreedingColorCatalogRetriesAfterTransientFailure(t *testing.T) {
	var f = newFixture(t)
	var flaky = &flakyColorStore{Store: f.store, remaining: 1}
	var rng = rand.New(rand.NewSource(5))
	var processor = NewProcessor(flaky, f.broker, namegen.New(rng), rng)

	var first = f.seedRequest(t, f.sire.ID, f.dam.ID)
	require.False(t, processor.Process(context.Background(), first, bus.MessageContext{}).Ok())

	var req, err = f.store.BreedingRequests().Get(context.Background(), first.RequestID)
	require.NoError(t, err)
	require.Equal(t, model.StatusFailed, req.Status)
	require.Contains(t, req.FailureReason, "loading color catalog")

	// The store recovered; the next request must not see a stale error.
	var second = f.seedRequest(t, f.sire.ID, f.dam.ID)
	require.True(t, processor.Process(context.Background(), second, bus.MessageContext{}).Ok())

	// A redelivery of the failed request revives it and succeeds too.
	require.True(t, processor.Process(context.Background(), first, bus.MessageContext{Redelivered: true}).Ok())
	req, err = f.store.BreedingRequests().Get(context.Background(), first.RequestID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, req.Status)
}

func TestBreedingEndToEndThroughConsumerLoop(t *testing.T) {
	var f = newFixture(t)
	var msg = f.seedRequest(t, f.sire.ID, f.dam.ID)

	require.NoError(t, f.broker.Subscribe(func(ctx context.Context, body []byte, mc bus.MessageContext) bus.ProcessingResult {
		if mc.MessageType != "BreedingRequested" {
			return bus.Success()
		}
		return f.processor.Process(ctx, msg, mc)
	}))
	require.NoError(t, f.broker.Publish(context.Background(), msg, bus.PublishOptions{}))

	// Two deliveries: the request, then its published Completed event.
	require.Equal(t, 2, f.broker.DeliverAll(context.Background()))

	var req, err = f.store.BreedingRequests().Get(context.Background(), msg.RequestID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, req.Status)
}
