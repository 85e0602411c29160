package tasks

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypeUserPurge       = "user:purge"
	TypeMoveAssetsPurge = "move:assets:purge"
)

// UserPurgePayload 描述需要清除全部数据的用户。
type UserPurgePayload struct {
	UserID        uuid.UUID `json:"user_id"`
	CorrelationID string    `json:"correlation_id"`
}

// UserPurgeTaskID 是用户清除任务的固定 ID；载荷含 correlation_id，不能依赖 Unique 去重。
func UserPurgeTaskID(userID uuid.UUID) string {
	return TypeUserPurge + ":" + userID.String()
}

// NewUserPurgeTask 构造用户数据清除任务；任务 ID 按用户固定，完成后保留一小时，
// 期间重复入队返回 asynq.ErrTaskIDConflict。
func NewUserPurgeTask(userID uuid.UUID, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(UserPurgePayload{
		UserID:        userID,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeUserPurge, payload,
		asynq.MaxRetry(10),
		asynq.TaskID(UserPurgeTaskID(userID)),
		asynq.Retention(time.Hour),
	), nil
}

// MoveAssetsPurgePayload 描述需要删除对象存储内容的动作。
type MoveAssetsPurgePayload struct {
	MoveID        uuid.UUID `json:"move_id"`
	CorrelationID string    `json:"correlation_id"`
}

// NewMoveAssetsPurgeTask 构造动作配图清理任务。
func NewMoveAssetsPurgeTask(moveID uuid.UUID, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(MoveAssetsPurgePayload{
		MoveID:        moveID,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeMoveAssetsPurge, payload, asynq.MaxRetry(10)), nil
}
