package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/hoofworks/paddock/go/model"
	"github.com/hoofworks/paddock/go/store"
)

func TestTransactCommitsOnNil(t *testing.T) {
	var st = New()
	var id = uuid.New()

	var err = st.Transact(context.Background(), func(ctx context.Context, tx store.Store) error {
		return tx.Horses().Insert(ctx, &model.Horse{ID: id, Name: "Dobbin", BornAt: time.Now().UTC()})
	})
	require.NoError(t, err)

	var horse, getErr = st.Horses().Get(context.Background(), id)
	require.NoError(t, getErr)
	require.Equal(t, "Dobbin", horse.Name)
}

func TestTransactRollsBackOnError(t *testing.T) {
	var st = New()
	var id = uuid.New()
	var boom = errors.New("boom")

	var err = st.Transact(context.Background(), func(ctx context.Context, tx store.Store) error {
		if err := tx.Horses().Insert(ctx, &model.Horse{ID: id, Name: "Ghost"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, getErr := st.Horses().Get(context.Background(), id)
	require.ErrorIs(t, getErr, store.ErrNotFound)
}

func TestNestedTransactJoinsOuter(t *testing.T) {
	var st = New()
	var id = uuid.New()
	var boom = errors.New("inner failure")

	var err = st.Transact(context.Background(), func(ctx context.Context, outer store.Store) error {
		if err := outer.Horses().Insert(ctx, &model.Horse{ID: id}); err != nil {
			return err
		}
		return outer.Transact(ctx, func(ctx context.Context, inner store.Store) error {
			// The nested transaction sees the outer insert.
			var _, err = inner.Horses().Get(ctx, id)
			if err != nil {
				return err
			}
			return boom
		})
	})
	require.ErrorIs(t, err, boom)

	// The inner failure rolled back the whole transaction.
	_, getErr := st.Horses().Get(context.Background(), id)
	require.ErrorIs(t, getErr, store.ErrNotFound)
}

func TestGetReturnsIsolatedCopies(t *testing.T) {
	var st = New()
	var id = uuid.New()
	require.NoError(t, st.Horses().Insert(context.Background(), &model.Horse{
		ID:         id,
		Happiness:  50,
		Statistics: []model.Statistic{{ID: uuid.New(), HorseID: id, Kind: model.StatSpeed, Actual: 40}},
	}))

	var first, err = st.Horses().Get(context.Background(), id)
	require.NoError(t, err)
	first.Happiness = 0
	first.Statistics[0].Actual = 99

	second, err := st.Horses().Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, 50, second.Happiness)
	require.Equal(t, 40, second.Statistics[0].Actual)
}

func TestUpdateMissingRowReturnsNotFound(t *testing.T) {
	var st = New()
	var err = st.BreedingRequests().Update(context.Background(), &model.BreedingRequest{RequestID: uuid.New()})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestListFiltersByQuery(t *testing.T) {
	var st = New()
	var now = time.Now().UTC()
	var mk = func(status model.RequestStatus, updated time.Time) {
		require.NoError(t, st.FeedingRequests().Insert(context.Background(), &model.FeedingRequest{
			RequestID:   uuid.New(),
			Status:      status,
			CreatedDate: now,
			UpdatedDate: updated,
		}))
	}
	mk(model.StatusPending, now)
	mk(model.StatusFailed, now)
	mk(model.StatusCompleted, now)
	mk(model.StatusInProgress, now.Add(-2*time.Hour))
	mk(model.StatusInProgress, now)

	var got, err = st.FeedingRequests().List(context.Background(), store.RequestQuery{
		Statuses: []model.RequestStatus{model.StatusPending, model.StatusFailed},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	var cutoff = now.Add(-time.Hour)
	got, err = st.FeedingRequests().List(context.Background(), store.RequestQuery{
		Statuses:      []model.RequestStatus{model.StatusInProgress},
		UpdatedBefore: &cutoff,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestSampleExcludesAndBounds(t *testing.T) {
	var st = New()
	var exclude = uuid.New()
	require.NoError(t, st.Horses().Insert(context.Background(), &model.Horse{ID: exclude}))
	for i := 0; i < 4; i++ {
		require.NoError(t, st.Horses().Insert(context.Background(), &model.Horse{ID: uuid.New()}))
	}

	var got, err = st.Horses().Sample(context.Background(), 3, exclude)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for _, h := range got {
		require.NotEqual(t, exclude, h.ID)
	}

	got, err = st.Horses().Sample(context.Background(), 10, exclude)
	require.NoError(t, err)
	require.Len(t, got, 4)
}
