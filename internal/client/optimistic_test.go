package client

import (
	"context"
	"errors"
	"maps"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poletrack/internal/database"
)

func cloneInts(m map[string]int) map[string]int { return maps.Clone(m) }

func TestOptimisticRollsBackOnFailure(t *testing.T) {
	o := NewOptimistic(map[string]int{"a": 1}, cloneInts)
	boom := errors.New("boom")

	err := o.Apply(context.Background(),
		func(m *map[string]int) { (*m)["a"] = 2 },
		func(context.Context) error {
			assert.Equal(t, 2, o.Get()["a"], "local change visible before commit returns")
			return boom
		},
	)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, map[string]int{"a": 1}, o.Get())
}

func TestOptimisticKeepsNewerStateOnLateFailure(t *testing.T) {
	o := NewOptimistic(map[string]int{"a": 1}, cloneInts)

	err := o.Apply(context.Background(),
		func(m *map[string]int) { (*m)["a"] = 2 },
		func(context.Context) error {
			o.Set(map[string]int{"a": 3})
			return errors.New("late failure")
		},
	)
	require.Error(t, err)
	assert.Equal(t, 3, o.Get()["a"])
}

type fakeStatusAPI struct {
	fail  error
	saved map[uuid.UUID]Status
	seen  []database.ProgressStatus
}

func (f *fakeStatusAPI) SetStatus(_ context.Context, moveID uuid.UUID, status database.ProgressStatus, note *string) (Status, error) {
	f.seen = append(f.seen, status)
	if f.fail != nil {
		return Status{}, f.fail
	}
	s := Status{MoveID: moveID, Status: status, Note: note}
	if f.saved == nil {
		f.saved = map[uuid.UUID]Status{}
	}
	f.saved[moveID] = s
	return s, nil
}

func (f *fakeStatusAPI) ListStatuses(context.Context, *database.ProgressStatus) ([]Status, error) {
	out := make([]Status, 0, len(f.saved))
	for _, s := range f.saved {
		out = append(out, s)
	}
	return out, nil
}

func TestStatusTrackerRollback(t *testing.T) {
	api := &fakeStatusAPI{}
	tracker := NewStatusTracker(api)
	ctx := context.Background()
	moveID := uuid.New()

	require.NoError(t, tracker.SetStatus(ctx, moveID, database.StatusWant, nil))
	got, ok := tracker.Get(moveID)
	require.True(t, ok)
	assert.Equal(t, database.StatusWant, got.Status)

	api.fail = &HTTPError{StatusCode: 500, Kind: "internal", Message: "internal error"}
	err := tracker.SetStatus(ctx, moveID, database.StatusDone, nil)
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))

	got, _ = tracker.Get(moveID)
	assert.Equal(t, database.StatusWant, got.Status, "failed change is rolled back")

	other := uuid.New()
	require.Error(t, tracker.SetStatus(ctx, other, database.StatusAlmost, nil))
	_, ok = tracker.Get(other)
	assert.False(t, ok, "rollback removes a status that did not exist before")
}

func TestStatusTrackerRefreshReplacesLocalState(t *testing.T) {
	api := &fakeStatusAPI{saved: map[uuid.UUID]Status{}}
	serverMove := uuid.New()
	api.saved[serverMove] = Status{MoveID: serverMove, Status: database.StatusDone}

	tracker := NewStatusTracker(api)
	api.fail = errors.New("offline")
	_ = tracker.SetStatus(context.Background(), uuid.New(), database.StatusWant, nil)

	require.NoError(t, tracker.Refresh(context.Background()))
	snapshot := tracker.Snapshot()
	assert.Len(t, snapshot, 1)
	assert.Equal(t, database.StatusDone, snapshot[serverMove].Status)
}
