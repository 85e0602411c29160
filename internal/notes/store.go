package notes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"poletrack/internal/database"
	"poletrack/internal/errcode"
	"poletrack/internal/moves"
)

// MaxContentLength 同时由 move_notes 的检查约束保证。
const MaxContentLength = 2000

// Store 是按 (user, move) 分组的只追加笔记。
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

// AddNote 追加一条笔记，id 与 created_at 由服务端生成。
func (s *Store) AddNote(ctx context.Context, userID, moveID uuid.UUID, content string) (database.MoveNote, error) {
	content = strings.TrimSpace(content)
	n := utf8.RuneCountInString(content)
	if n == 0 || n > MaxContentLength {
		return database.MoveNote{}, errcode.ValidationFields(map[string]string{
			"content": fmt.Sprintf("must be between 1 and %d characters", MaxContentLength),
		})
	}

	if err := moves.RequireVisible(ctx, s.db, moveID); err != nil {
		return database.MoveNote{}, err
	}

	note := database.MoveNote{
		UserID:    userID,
		MoveID:    moveID,
		Content:   content,
		CreatedAt: s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&note).Error; err != nil {
		if errors.Is(err, gorm.ErrForeignKeyViolated) {
			return database.MoveNote{}, errcode.NotFound("move not found")
		}
		return database.MoveNote{}, fmt.Errorf("create move note: %w", err)
	}
	return note, nil
}

// GetNotes 按创建顺序返回笔记。
func (s *Store) GetNotes(ctx context.Context, userID, moveID uuid.UUID) ([]database.MoveNote, error) {
	var rows []database.MoveNote
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND move_id = ?", userID, moveID).
		Order("created_at ASC").Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list move notes: %w", err)
	}
	return rows, nil
}

// DeleteNote 只删除调用者自己的笔记。不存在与不属于调用者都返回 false。
func (s *Store) DeleteNote(ctx context.Context, userID, noteID uuid.UUID) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", noteID, userID).
		Delete(&database.MoveNote{})
	if res.Error != nil {
		return false, fmt.Errorf("delete move note: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// PurgeUser 删除用户的全部笔记。
func (s *Store) PurgeUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	res := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&database.MoveNote{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge move notes: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.logger.Info("move notes purged",
			slog.String("user_id", userID.String()),
			slog.Int64("count", res.RowsAffected),
		)
	}
	return res.RowsAffected, nil
}
