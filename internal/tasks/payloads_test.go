package tasks

import (
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *asynq.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestUserPurgeTaskDedupesAcrossRequests(t *testing.T) {
	client := newTestClient(t)
	userID := uuid.New()

	first, err := NewUserPurgeTask(userID, "req-1")
	require.NoError(t, err)
	info, err := client.Enqueue(first)
	require.NoError(t, err)
	assert.Equal(t, UserPurgeTaskID(userID), info.ID)

	// correlation id 不同也必须命中同一任务。
	second, err := NewUserPurgeTask(userID, "req-2")
	require.NoError(t, err)
	_, err = client.Enqueue(second)
	assert.ErrorIs(t, err, asynq.ErrTaskIDConflict)

	other, err := NewUserPurgeTask(uuid.New(), "req-3")
	require.NoError(t, err)
	_, err = client.Enqueue(other)
	assert.NoError(t, err)
}

func TestUserPurgePayloadKeepsCorrelationID(t *testing.T) {
	userID := uuid.New()
	task, err := NewUserPurgeTask(userID, "req-9")
	require.NoError(t, err)
	assert.Equal(t, TypeUserPurge, task.Type())

	var payload UserPurgePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, userID, payload.UserID)
	assert.Equal(t, "req-9", payload.CorrelationID)
}

func TestMoveAssetsPurgeTaskIsNotDeduped(t *testing.T) {
	client := newTestClient(t)
	moveID := uuid.New()

	for _, corr := range []string{"req-1", "req-2"} {
		task, err := NewMoveAssetsPurgeTask(moveID, corr)
		require.NoError(t, err)
		_, err = client.Enqueue(task)
		require.NoError(t, err)
	}
}
