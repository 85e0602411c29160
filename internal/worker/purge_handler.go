package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"poletrack/internal/tasks"
)

// UserDataPurger 删除某个用户在一张表中的全部数据，返回删除行数。
type UserDataPurger interface {
	PurgeUser(ctx context.Context, userID uuid.UUID) (int64, error)
}

// UserDeleter 删除账号与资料。
type UserDeleter interface {
	DeleteUser(ctx context.Context, userID uuid.UUID) (bool, error)
}

// UserPurgeHandler 消费用户数据清除任务：笔记、状态、资料与账号依次删除。
// 每一步都是幂等的，任务失败重试时会从头再来。
type UserPurgeHandler struct {
	notes    UserDataPurger
	statuses UserDataPurger
	users    UserDeleter
	logger   *slog.Logger
}

func NewUserPurgeHandler(notes, statuses UserDataPurger, users UserDeleter, logger *slog.Logger) *UserPurgeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserPurgeHandler{notes: notes, statuses: statuses, users: users, logger: logger}
}

// ProcessTask 实现 asynq.Handler。
func (h *UserPurgeHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload tasks.UserPurgePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("unmarshal task payload failed", slog.Any("error", err))
		return fmt.Errorf("decode user purge payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.UserID == uuid.Nil {
		return fmt.Errorf("user purge payload missing user id: %w", asynq.SkipRetry)
	}

	log := h.logger.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.String("user_id", payload.UserID.String()),
	)

	notes, err := h.notes.PurgeUser(ctx, payload.UserID)
	if err != nil {
		log.Error("purge notes failed", slog.Any("error", err))
		return err
	}
	statuses, err := h.statuses.PurgeUser(ctx, payload.UserID)
	if err != nil {
		log.Error("purge statuses failed", slog.Any("error", err))
		return err
	}
	deleted, err := h.users.DeleteUser(ctx, payload.UserID)
	if err != nil {
		log.Error("delete user failed", slog.Any("error", err))
		return err
	}

	log.Info("user data purged",
		slog.Int64("notes", notes),
		slog.Int64("statuses", statuses),
		slog.Bool("account_deleted", deleted),
	)
	return nil
}

// MoveObjectsDeleter 删除动作名下的对象存储内容。
type MoveObjectsDeleter interface {
	DeleteMoveObjects(ctx context.Context, moveID uuid.UUID) error
}

// MoveAssetsPurgeHandler 在动作被物理删除后清理其配图对象。
type MoveAssetsPurgeHandler struct {
	objects MoveObjectsDeleter
	logger  *slog.Logger
}

func NewMoveAssetsPurgeHandler(objects MoveObjectsDeleter, logger *slog.Logger) *MoveAssetsPurgeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MoveAssetsPurgeHandler{objects: objects, logger: logger}
}

// ProcessTask 实现 asynq.Handler。
func (h *MoveAssetsPurgeHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload tasks.MoveAssetsPurgePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("unmarshal task payload failed", slog.Any("error", err))
		return fmt.Errorf("decode move assets payload: %v: %w", err, asynq.SkipRetry)
	}

	log := h.logger.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.String("move_id", payload.MoveID.String()),
	)
	if err := h.objects.DeleteMoveObjects(ctx, payload.MoveID); err != nil {
		log.Error("delete move objects failed", slog.Any("error", err))
		return err
	}
	log.Info("move objects deleted")
	return nil
}
