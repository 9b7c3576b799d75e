package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/hoofworks/paddock/go/bus"
	"github.com/hoofworks/paddock/go/model"
)

type testMsg struct {
	ID uuid.UUID `json:"id"`
}

// mockHooks implements Hooks[testMsg] with pluggable behaviors.
type mockHooks struct {
	loadFn    func() (*Request, error)
	claimErr  error
	executeFn func() (any, error)

	claimed        []uuid.UUID
	failed         map[uuid.UUID]string
	publishNotes   map[uuid.UUID]string
	clearedNotes   []uuid.UUID
	completedEvent any
	completedErr   error
}

func newMockHooks() *mockHooks {
	return &mockHooks{
		failed:       make(map[uuid.UUID]string),
		publishNotes: make(map[uuid.UUID]string),
	}
}

func (m *mockHooks) Load(context.Context, testMsg) (*Request, error) { return m.loadFn() }

func (m *mockHooks) Claim(_ context.Context, id uuid.UUID) error {
	m.claimed = append(m.claimed, id)
	return m.claimErr
}

func (m *mockHooks) Execute(context.Context, testMsg) (any, error) { return m.executeFn() }

func (m *mockHooks) CompletedEvent(context.Context, testMsg) (any, error) {
	return m.completedEvent, m.completedErr
}

func (m *mockHooks) Fail(_ context.Context, id uuid.UUID, reason string) error {
	m.failed[id] = reason
	return nil
}

func (m *mockHooks) NotePublishFailure(_ context.Context, id uuid.UUID, reason string) error {
	m.publishNotes[id] = reason
	return nil
}

func (m *mockHooks) ClearPublishFailure(_ context.Context, id uuid.UUID) error {
	m.clearedNotes = append(m.clearedNotes, id)
	return nil
}

// mockPublisher records publishes and can be rigged to fail.
type mockPublisher struct {
	published []any
	err       error
}

func (p *mockPublisher) Publish(_ context.Context, value any, _ bus.PublishOptions) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, value)
	return nil
}

func newEngine(hooks *mockHooks, pub *mockPublisher) *Engine[testMsg] {
	return &Engine[testMsg]{Domain: "test", Hooks: hooks, Publisher: pub}
}

func TestSuccessfulProcessingPublishesAndAcks(t *testing.T) {
	var id = uuid.New()
	var hooks = newMockHooks()
	hooks.loadFn = func() (*Request, error) {
		return &Request{ID: id, Status: model.StatusPending}, nil
	}
	hooks.executeFn = func() (any, error) { return "event", nil }
	var pub = &mockPublisher{}

	var result = newEngine(hooks, pub).Process(context.Background(), testMsg{ID: id}, bus.MessageContext{})
	require.True(t, result.Ok())
	require.Equal(t, []uuid.UUID{id}, hooks.claimed)
	require.Equal(t, []any{"event"}, pub.published)
	require.Empty(t, hooks.failed)
}

func TestMissingRequestRowIsAcked(t *testing.T) {
	var hooks = newMockHooks()
	hooks.loadFn = func() (*Request, error) { return nil, nil }
	hooks.executeFn = func() (any, error) {
		t.Fatal("execute must not run without a request row")
		return nil, nil
	}

	var result = newEngine(hooks, &mockPublisher{}).Process(context.Background(), testMsg{}, bus.MessageContext{})
	require.True(t, result.Ok())
	require.Empty(t, hooks.claimed)
}

func TestLoadErrorRequeues(t *testing.T) {
	var hooks = newMockHooks()
	hooks.loadFn = func() (*Request, error) { return nil, errors.New("db down") }

	var result = newEngine(hooks, &mockPublisher{}).Process(context.Background(), testMsg{}, bus.MessageContext{})
	require.False(t, result.Ok())
	require.True(t, result.Requeue())
}

func TestCompletedRequestIsNotReprocessed(t *testing.T) {
	var hooks = newMockHooks()
	hooks.loadFn = func() (*Request, error) {
		return &Request{ID: uuid.New(), Status: model.StatusCompleted}, nil
	}
	hooks.executeFn = func() (any, error) {
		t.Fatal("execute must not run for a completed request")
		return nil, nil
	}
	var pub = &mockPublisher{}

	var result = newEngine(hooks, pub).Process(context.Background(), testMsg{}, bus.MessageContext{})
	require.True(t, result.Ok())
	require.Empty(t, pub.published)
}

func TestInProgressRequestIsAckedWithoutWork(t *testing.T) {
	var hooks = newMockHooks()
	hooks.loadFn = func() (*Request, error) {
		return &Request{ID: uuid.New(), Status: model.StatusInProgress}, nil
	}
	hooks.executeFn = func() (any, error) {
		t.Fatal("execute must not run for an in-progress request")
		return nil, nil
	}

	var result = newEngine(hooks, &mockPublisher{}).Process(context.Background(), testMsg{}, bus.MessageContext{})
	require.True(t, result.Ok())
	require.Empty(t, hooks.claimed)
}

func TestFailedRequestIsRevived(t *testing.T) {
	var id = uuid.New()
	var hooks = newMockHooks()
	hooks.loadFn = func() (*Request, error) {
		return &Request{ID: id, Status: model.StatusFailed, FailureReason: "earlier attempt"}, nil
	}
	hooks.executeFn = func() (any, error) { return "event", nil }
	var pub = &mockPublisher{}

	var result = newEngine(hooks, pub).Process(context.Background(), testMsg{ID: id}, bus.MessageContext{})
	require.True(t, result.Ok())
	require.Equal(t, []uuid.UUID{id}, hooks.claimed)
	require.Len(t, pub.published, 1)
}

func TestDomainFailureMarksFailedAndRejects(t *testing.T) {
	var id = uuid.New()
	var hooks = newMockHooks()
	hooks.loadFn = func() (*Request, error) {
		return &Request{ID: id, Status: model.StatusPending}, nil
	}
	hooks.executeFn = func() (any, error) { return nil, errors.New("sire not found") }
	var pub = &mockPublisher{}

	var result = newEngine(hooks, pub).Process(context.Background(), testMsg{ID: id}, bus.MessageContext{})
	require.False(t, result.Ok())
	require.False(t, result.Requeue())
	require.Equal(t, "sire not found", hooks.failed[id])
	require.Empty(t, pub.published)
}

func TestCancellationRequeuesWithoutFailing(t *testing.T) {
	var id = uuid.New()
	var hooks = newMockHooks()
	hooks.loadFn = func() (*Request, error) {
		return &Request{ID: id, Status: model.StatusPending}, nil
	}
	hooks.executeFn = func() (any, error) { return nil, context.Canceled }

	var result = newEngine(hooks, &mockPublisher{}).Process(context.Background(), testMsg{ID: id}, bus.MessageContext{})
	require.False(t, result.Ok())
	require.True(t, result.Requeue())
	require.Empty(t, hooks.failed, "a cancelled attempt must not mark the row Failed")
}

func TestLostClaimRaceIsAcked(t *testing.T) {
	var id = uuid.New()
	var loads int
	var hooks = newMockHooks()
	hooks.claimErr = errors.New("row version conflict")
	hooks.loadFn = func() (*Request, error) {
		loads++
		if loads == 1 {
			return &Request{ID: id, Status: model.StatusPending}, nil
		}
		// The re-read observes the competing worker's claim.
		return &Request{ID: id, Status: model.StatusInProgress}, nil
	}
	hooks.executeFn = func() (any, error) {
		t.Fatal("execute must not run after a lost claim race")
		return nil, nil
	}

	var result = newEngine(hooks, &mockPublisher{}).Process(context.Background(), testMsg{ID: id}, bus.MessageContext{})
	require.True(t, result.Ok())
	require.Equal(t, 2, loads)
}

func TestPublishFailureAfterCommitAnnotatesRow(t *testing.T) {
	var id = uuid.New()
	var hooks = newMockHooks()
	hooks.loadFn = func() (*Request, error) {
		return &Request{ID: id, Status: model.StatusPending}, nil
	}
	hooks.executeFn = func() (any, error) { return "event", nil }
	var pub = &mockPublisher{err: errors.New("broker gone")}

	var result = newEngine(hooks, pub).Process(context.Background(), testMsg{ID: id}, bus.MessageContext{})
	require.False(t, result.Ok())
	require.False(t, result.Requeue())
	require.Equal(t, PublishFailedPrefix+"broker gone", hooks.publishNotes[id])
	// The row is already Completed; it must not be marked Failed.
	require.Empty(t, hooks.failed)
}

func TestRedeliveryOverAnnotatedCompletedRepublishes(t *testing.T) {
	var id = uuid.New()
	var hooks = newMockHooks()
	hooks.loadFn = func() (*Request, error) {
		return &Request{
			ID:            id,
			Status:        model.StatusCompleted,
			FailureReason: PublishFailedPrefix + "broker gone",
		}, nil
	}
	hooks.completedEvent = "rebuilt event"
	hooks.executeFn = func() (any, error) {
		t.Fatal("execute must not rerun committed work")
		return nil, nil
	}
	var pub = &mockPublisher{}

	var result = newEngine(hooks, pub).Process(context.Background(), testMsg{ID: id}, bus.MessageContext{})
	require.True(t, result.Ok())
	require.Equal(t, []any{"rebuilt event"}, pub.published)
	require.Equal(t, []uuid.UUID{id}, hooks.clearedNotes)
}

func TestRepublishFailureLeavesAnnotationForNextRedelivery(t *testing.T) {
	var id = uuid.New()
	var hooks = newMockHooks()
	hooks.loadFn = func() (*Request, error) {
		return &Request{
			ID:            id,
			Status:        model.StatusCompleted,
			FailureReason: PublishFailedPrefix + "broker gone",
		}, nil
	}
	hooks.completedEvent = "rebuilt event"
	var pub = &mockPublisher{err: errors.New("still gone")}

	var result = newEngine(hooks, pub).Process(context.Background(), testMsg{ID: id}, bus.MessageContext{})
	require.False(t, result.Ok())
	require.Empty(t, hooks.clearedNotes)
}

func TestCompletedRowWithOrdinaryReasonIsNotRepublished(t *testing.T) {
	var hooks = newMockHooks()
	hooks.loadFn = func() (*Request, error) {
		return &Request{
			ID:            uuid.New(),
			Status:        model.StatusCompleted,
			FailureReason: "transient note",
		}, nil
	}
	var pub = &mockPublisher{}

	var result = newEngine(hooks, pub).Process(context.Background(), testMsg{}, bus.MessageContext{})
	require.True(t, result.Ok())
	require.Empty(t, pub.published)
}
