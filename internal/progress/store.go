package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"poletrack/internal/database"
	"poletrack/internal/errcode"
	"poletrack/internal/moves"
)

// MaxNoteLength 与 user_move_statuses 上的检查约束一致。
const MaxNoteLength = 2000

// Store 维护每个 (user, move) 的当前状态与附注。
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(db *gorm.DB, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetStatus 以单条 INSERT ... ON CONFLICT 写入状态，返回新的 updated_at。
// 同一行的并发写入按提交顺序后写者生效。
func (s *Store) SetStatus(ctx context.Context, userID, moveID uuid.UUID, status database.ProgressStatus, note *string) (time.Time, error) {
	fields := map[string]string{}
	if !status.Valid() {
		fields["status"] = "must be one of WANT, ALMOST, DONE"
	}
	if note != nil && utf8.RuneCountInString(*note) > MaxNoteLength {
		fields["note"] = fmt.Sprintf("must be at most %d characters", MaxNoteLength)
	}
	if len(fields) > 0 {
		return time.Time{}, errcode.ValidationFields(fields)
	}

	if err := moves.RequireVisible(ctx, s.db, moveID); err != nil {
		return time.Time{}, err
	}

	now := s.now().UTC()
	row := database.UserMoveStatus{
		UserID:    userID,
		MoveID:    moveID,
		Status:    status,
		Note:      note,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "move_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "note", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrForeignKeyViolated) {
			return time.Time{}, errcode.NotFound("move not found")
		}
		return time.Time{}, fmt.Errorf("upsert move status: %w", err)
	}

	s.logger.Debug("move status set",
		slog.String("user_id", userID.String()),
		slog.String("move_id", moveID.String()),
		slog.String("status", string(status)),
	)
	return now, nil
}

// GetStatus 未设置时返回 nil，不会创建行。
func (s *Store) GetStatus(ctx context.Context, userID, moveID uuid.UUID) (*database.UserMoveStatus, error) {
	var row database.UserMoveStatus
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND move_id = ?", userID, moveID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load move status: %w", err)
	}
	return &row, nil
}

// ListStatuses 返回用户的全部状态，可按状态过滤，最近更新在前。
func (s *Store) ListStatuses(ctx context.Context, userID uuid.UUID, status *database.ProgressStatus) ([]database.UserMoveStatus, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if status != nil {
		if !status.Valid() {
			return nil, errcode.ValidationFields(map[string]string{"status": "must be one of WANT, ALMOST, DONE"})
		}
		q = q.Where("status = ?", *status)
	}

	var rows []database.UserMoveStatus
	if err := q.Order("updated_at DESC").Order("move_id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list move statuses: %w", err)
	}
	return rows, nil
}

// PurgeUser 删除用户的全部状态行。
func (s *Store) PurgeUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	res := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&database.UserMoveStatus{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge move statuses: %w", res.Error)
	}
	return res.RowsAffected, nil
}
