package notes

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poletrack/internal/database"
	"poletrack/internal/database/dbtest"
	"poletrack/internal/errcode"
	"poletrack/internal/moves"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func setup(t *testing.T) (*Store, uuid.UUID) {
	t.Helper()
	db := dbtest.New(t)
	clock := &fakeClock{t: time.Date(2024, 7, 1, 18, 0, 0, 0, time.UTC)}
	svc := moves.NewService(db, nil, moves.WithClock(clock.now))

	ctx := context.Background()
	m, err := svc.CreateDraft(ctx, uuid.New(), moves.Content{
		Name:        "Superman",
		Description: "A flying pose on the pole",
		Level:       database.LevelAdvanced,
		Steps: []moves.StepContent{
			{Title: "Climb", Description: "Climb to the top"},
			{Title: "Extend", Description: "Extend both legs"},
		},
	})
	require.NoError(t, err)
	_, err = svc.Publish(ctx, uuid.New(), m.ID)
	require.NoError(t, err)

	return NewStore(db, nil, WithClock(clock.now)), m.ID
}

func TestAddNoteAppends(t *testing.T) {
	store, move := setup(t)
	ctx := context.Background()
	user := uuid.New()

	const n = 5
	ids := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		note, err := store.AddNote(ctx, user, move, fmt.Sprintf("session %d", i))
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, note.ID)
		ids = append(ids, note.ID)
	}

	got, err := store.GetNotes(ctx, user, move)
	require.NoError(t, err)
	require.Len(t, got, n)
	for i, note := range got {
		assert.Equal(t, ids[i], note.ID)
		assert.Equal(t, fmt.Sprintf("session %d", i), note.Content)
	}

	other, err := store.GetNotes(ctx, uuid.New(), move)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestAddNoteValidation(t *testing.T) {
	store, move := setup(t)
	ctx := context.Background()

	_, err := store.AddNote(ctx, uuid.New(), move, "   ")
	assert.Equal(t, errcode.KindValidation, errcode.KindOf(err))

	_, err = store.AddNote(ctx, uuid.New(), move, strings.Repeat("x", MaxContentLength+1))
	assert.Equal(t, errcode.KindValidation, errcode.KindOf(err))

	note, err := store.AddNote(ctx, uuid.New(), move, "  "+strings.Repeat("x", MaxContentLength)+"  ")
	require.NoError(t, err)
	assert.Len(t, note.Content, MaxContentLength)

	_, err = store.AddNote(ctx, uuid.New(), uuid.New(), "hello")
	assert.Equal(t, errcode.KindNotFound, errcode.KindOf(err))
}

func TestDeleteNoteOnlyOwner(t *testing.T) {
	store, move := setup(t)
	ctx := context.Background()
	owner := uuid.New()

	note, err := store.AddNote(ctx, owner, move, "mine")
	require.NoError(t, err)

	deleted, err := store.DeleteNote(ctx, uuid.New(), note.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = store.DeleteNote(ctx, owner, uuid.New())
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = store.DeleteNote(ctx, owner, note.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	got, err := store.GetNotes(ctx, owner, move)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPurgeUser(t *testing.T) {
	store, move := setup(t)
	ctx := context.Background()
	user := uuid.New()
	keep := uuid.New()

	for i := 0; i < 3; i++ {
		_, err := store.AddNote(ctx, user, move, "note")
		require.NoError(t, err)
	}
	_, err := store.AddNote(ctx, keep, move, "note")
	require.NoError(t, err)

	purged, err := store.PurgeUser(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(3), purged)

	left, err := store.GetNotes(ctx, keep, move)
	require.NoError(t, err)
	assert.Len(t, left, 1)
}
