package moves

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"poletrack/internal/database"
	"poletrack/internal/errcode"
)

// Status 是管理端根据时间戳推导出的动作状态。
type Status string

const (
	StatusPublished   Status = "Published"
	StatusUnpublished Status = "Unpublished"
	StatusDeleted     Status = "Deleted"
)

// 审计事件类型。
const (
	ActionCreate    = "create"
	ActionUpdate    = "update"
	ActionPublish   = "publish"
	ActionUnpublish = "unpublish"
	ActionDelete    = "delete"
	ActionRestore   = "restore"
	ActionImage     = "image"
)

const visibleCondition = "published_at IS NOT NULL AND deleted_at IS NULL"

// StatusOf 推导状态：删除优先，其次看是否发布。
func StatusOf(m database.Move) Status {
	switch {
	case m.DeletedAt != nil:
		return StatusDeleted
	case m.PublishedAt != nil:
		return StatusPublished
	default:
		return StatusUnpublished
	}
}

// Move 是管理端视图，附带推导状态。
type Move struct {
	ID          uuid.UUID      `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Level       database.Level `json:"level"`
	Slug        string         `json:"slug"`
	ImageURL    *string        `json:"imageUrl"`
	PublishedAt *time.Time     `json:"publishedAt"`
	DeletedAt   *time.Time     `json:"deletedAt"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	Status      Status         `json:"status"`
}

func toMove(m database.Move) Move {
	return Move{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		Level:       m.Level,
		Slug:        m.Slug,
		ImageURL:    m.ImageURL,
		PublishedAt: m.PublishedAt,
		DeletedAt:   m.DeletedAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
		Status:      StatusOf(m),
	}
}

// Event 是一条审计记录。
type Event struct {
	ID        uuid.UUID       `json:"id"`
	ActorID   uuid.UUID       `json:"actorId"`
	Action    string          `json:"action"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Service 管理动作的草稿、发布、下线、删除与恢复。
type Service struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Service)

// WithClock 替换时间来源，测试中用于得到确定的时间戳。
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(db *gorm.DB, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{db: db, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC()
}

// CreateDraft 创建未发布的动作，步骤与翻译在同一事务中写入。
func (s *Service) CreateDraft(ctx context.Context, actor uuid.UUID, content Content) (Move, error) {
	content = content.normalized()
	if err := content.validate(); err != nil {
		return Move{}, err
	}

	now := s.timestamp()
	var created database.Move
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureNameAvailable(tx, content.Name, uuid.Nil); err != nil {
			return err
		}
		slug, err := uniqueSlug(tx, content.Name)
		if err != nil {
			return err
		}

		created = database.Move{
			Name:        content.Name,
			Description: content.Description,
			Level:       content.Level,
			Slug:        slug,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.Omit(clause.Associations).Create(&created).Error; err != nil {
			return translateWriteError(err)
		}
		if err := writeContent(tx, created.ID, content); err != nil {
			return err
		}
		return recordEvent(tx, created.ID, actor, ActionCreate, map[string]any{"name": created.Name}, now)
	})
	if err != nil {
		return Move{}, err
	}

	s.logger.Info("move draft created",
		slog.String("move_id", created.ID.String()),
		slog.String("slug", created.Slug),
	)
	return toMove(created), nil
}

// Update 替换未删除动作的文本、难度、步骤和翻译；slug 与发布状态保持不变。
func (s *Service) Update(ctx context.Context, actor, id uuid.UUID, content Content) (Move, error) {
	content = content.normalized()
	if err := content.validate(); err != nil {
		return Move{}, err
	}

	now := s.timestamp()
	var updated database.Move
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := loadMove(tx, id)
		if err != nil {
			return err
		}
		if current.DeletedAt != nil {
			return errcode.NotFound("move not found")
		}
		if err := ensureNameAvailable(tx, content.Name, id); err != nil {
			return err
		}
		res := tx.Model(&database.Move{}).
			Where("id = ? AND deleted_at IS NULL", id).
			UpdateColumns(map[string]any{
				"name":        content.Name,
				"description": content.Description,
				"level":       content.Level,
				"updated_at":  now,
			})
		if res.Error != nil {
			return translateWriteError(res.Error)
		}
		if res.RowsAffected == 0 {
			return errcode.NotFound("move not found")
		}
		if err := clearContent(tx, id); err != nil {
			return err
		}
		if err := writeContent(tx, id, content); err != nil {
			return err
		}
		if err := recordEvent(tx, id, actor, ActionUpdate, nil, now); err != nil {
			return err
		}
		updated, err = loadMove(tx, id)
		return err
	})
	if err != nil {
		return Move{}, err
	}

	s.logger.Info("move updated", slog.String("move_id", id.String()))
	return toMove(updated), nil
}

// transition 描述一次带状态守卫的单行更新。
// 守卫未命中时由 resolve 根据当前行决定：返回 nil 表示幂等空操作。
type transition struct {
	action    string
	guard     string
	guardArgs []any
	updates   func(now time.Time) map[string]any
	resolve   func(current database.Move) error
	before    func(tx *gorm.DB, current database.Move) error
	details   map[string]any
}

func (s *Service) apply(ctx context.Context, actor, id uuid.UUID, t transition) (Move, error) {
	now := s.timestamp()
	var result database.Move
	changed := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if t.before != nil {
			current, err := loadMove(tx, id)
			if err != nil {
				return err
			}
			if err := t.before(tx, current); err != nil {
				return err
			}
		}

		res := tx.Model(&database.Move{}).
			Where("id = ?", id).
			Where(t.guard, t.guardArgs...).
			UpdateColumns(t.updates(now))
		if res.Error != nil {
			return translateWriteError(res.Error)
		}

		current, err := loadMove(tx, id)
		if err != nil {
			return err
		}
		result = current
		if res.RowsAffected == 0 {
			return t.resolve(current)
		}

		changed = true
		return recordEvent(tx, id, actor, t.action, t.details, now)
	})
	if err != nil {
		return Move{}, err
	}

	if changed {
		s.logger.Info("move transitioned",
			slog.String("move_id", id.String()),
			slog.String("action", t.action),
			slog.String("status", string(StatusOf(result))),
		)
	}
	return toMove(result), nil
}

// Publish 设置 published_at；已发布时原样返回。
func (s *Service) Publish(ctx context.Context, actor, id uuid.UUID) (Move, error) {
	return s.apply(ctx, actor, id, transition{
		action: ActionPublish,
		guard:  "deleted_at IS NULL AND published_at IS NULL",
		updates: func(now time.Time) map[string]any {
			return map[string]any{"published_at": now, "updated_at": now}
		},
		resolve: func(current database.Move) error {
			if current.DeletedAt != nil {
				return errcode.NotFound("move not found")
			}
			return nil
		},
	})
}

// Unpublish 清空 published_at，仅对已发布且未删除的动作有效。
func (s *Service) Unpublish(ctx context.Context, actor, id uuid.UUID) (Move, error) {
	return s.apply(ctx, actor, id, transition{
		action: ActionUnpublish,
		guard:  "deleted_at IS NULL AND published_at IS NOT NULL",
		updates: func(now time.Time) map[string]any {
			return map[string]any{"published_at": nil, "updated_at": now}
		},
		resolve: func(current database.Move) error {
			if current.DeletedAt != nil {
				return errcode.NotFound("move not found")
			}
			return errcode.Conflict("move is not published")
		},
	})
}

// Delete 软删除动作，保留 published_at 以便恢复。
func (s *Service) Delete(ctx context.Context, actor, id uuid.UUID) (Move, error) {
	return s.apply(ctx, actor, id, transition{
		action: ActionDelete,
		guard:  "deleted_at IS NULL",
		updates: func(now time.Time) map[string]any {
			return map[string]any{"deleted_at": now, "updated_at": now}
		},
		resolve: func(database.Move) error {
			return errcode.NotFound("move not found")
		},
	})
}

// Restore 清空 deleted_at，动作回到删除前的发布状态。
func (s *Service) Restore(ctx context.Context, actor, id uuid.UUID) (Move, error) {
	return s.apply(ctx, actor, id, transition{
		action: ActionRestore,
		guard:  "deleted_at IS NOT NULL",
		updates: func(now time.Time) map[string]any {
			return map[string]any{"deleted_at": nil, "updated_at": now}
		},
		before: func(tx *gorm.DB, current database.Move) error {
			if current.DeletedAt == nil {
				return nil
			}
			return ensureNameAvailable(tx, current.Name, id)
		},
		resolve: func(database.Move) error {
			return errcode.NotFound("move is not deleted")
		},
	})
}

// SetImage 写入已接受的图片地址；相同地址重复写入为空操作。
func (s *Service) SetImage(ctx context.Context, actor, id uuid.UUID, url string) (Move, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return Move{}, errcode.Validation("image url is required")
	}
	return s.apply(ctx, actor, id, transition{
		action:    ActionImage,
		guard:     "deleted_at IS NULL AND (image_url IS NULL OR image_url <> ?)",
		guardArgs: []any{url},
		updates: func(now time.Time) map[string]any {
			return map[string]any{"image_url": url, "updated_at": now}
		},
		resolve: func(current database.Move) error {
			if current.DeletedAt != nil {
				return errcode.NotFound("move not found")
			}
			return nil
		},
		details: map[string]any{"imageUrl": url},
	})
}

// Purge 物理删除已软删除的动作及其全部关联数据。
func (s *Service) Purge(ctx context.Context, actor, id uuid.UUID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := loadMove(tx, id)
		if err != nil {
			return err
		}
		if current.DeletedAt == nil {
			return errcode.Conflict("move must be deleted before it can be purged")
		}

		if err := clearContent(tx, id); err != nil {
			return err
		}
		for _, model := range []any{&database.UserMoveStatus{}, &database.MoveNote{}, &database.MoveEvent{}} {
			if err := tx.Where("move_id = ?", id).Delete(model).Error; err != nil {
				return fmt.Errorf("purge move children: %w", err)
			}
		}
		res := tx.Where("id = ? AND deleted_at IS NOT NULL", id).Delete(&database.Move{})
		if res.Error != nil {
			return fmt.Errorf("purge move: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errcode.Conflict("move was restored concurrently")
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("move purged",
		slog.String("move_id", id.String()),
		slog.String("actor_id", actor.String()),
	)
	return nil
}

func loadMove(tx *gorm.DB, id uuid.UUID) (database.Move, error) {
	var m database.Move
	if err := tx.Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return database.Move{}, errcode.NotFound("move not found")
		}
		return database.Move{}, fmt.Errorf("load move: %w", err)
	}
	return m, nil
}

// ensureNameAvailable 检查未删除的动作中是否已有同名（忽略大小写）记录。
func ensureNameAvailable(tx *gorm.DB, name string, exclude uuid.UUID) error {
	q := tx.Model(&database.Move{}).
		Where("lower(name) = ? AND deleted_at IS NULL", strings.ToLower(name))
	if exclude != uuid.Nil {
		q = q.Where("id <> ?", exclude)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return fmt.Errorf("check move name: %w", err)
	}
	if count > 0 {
		return errcode.Conflict("a move with this name already exists")
	}
	return nil
}

func translateWriteError(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errcode.Conflict("a move with this name already exists")
	}
	return fmt.Errorf("write move: %w", err)
}

func writeContent(tx *gorm.DB, moveID uuid.UUID, c Content) error {
	steps := make([]database.Step, len(c.Steps))
	for i, st := range c.Steps {
		steps[i] = database.Step{
			MoveID:      moveID,
			OrderIndex:  i + 1,
			Title:       st.Title,
			Description: st.Description,
		}
	}
	if err := tx.Omit(clause.Associations).Create(&steps).Error; err != nil {
		return fmt.Errorf("create steps: %w", err)
	}

	var stepTranslations []database.StepTranslation
	for i, st := range c.Steps {
		for lang, text := range st.Translations {
			stepTranslations = append(stepTranslations, database.StepTranslation{
				StepID:      steps[i].ID,
				Language:    lang,
				Title:       text.Title,
				Description: text.Description,
			})
		}
	}
	if len(stepTranslations) > 0 {
		if err := tx.Create(&stepTranslations).Error; err != nil {
			return fmt.Errorf("create step translations: %w", err)
		}
	}

	var translations []database.MoveTranslation
	for lang, tr := range c.Translations {
		translations = append(translations, database.MoveTranslation{
			MoveID:      moveID,
			Language:    lang,
			Name:        tr.Name,
			Description: tr.Description,
			Slug:        generateSlug(tr.Name),
			Level:       tr.Level,
		})
	}
	if len(translations) > 0 {
		if err := tx.Create(&translations).Error; err != nil {
			return fmt.Errorf("create move translations: %w", err)
		}
	}
	return nil
}

// clearContent 显式删除子表记录，不依赖数据库级联。
func clearContent(tx *gorm.DB, moveID uuid.UUID) error {
	stepIDs := tx.Model(&database.Step{}).Select("id").Where("move_id = ?", moveID)
	if err := tx.Where("step_id IN (?)", stepIDs).Delete(&database.StepTranslation{}).Error; err != nil {
		return fmt.Errorf("delete step translations: %w", err)
	}
	if err := tx.Where("move_id = ?", moveID).Delete(&database.Step{}).Error; err != nil {
		return fmt.Errorf("delete steps: %w", err)
	}
	if err := tx.Where("move_id = ?", moveID).Delete(&database.MoveTranslation{}).Error; err != nil {
		return fmt.Errorf("delete move translations: %w", err)
	}
	return nil
}

func recordEvent(tx *gorm.DB, moveID, actor uuid.UUID, action string, details map[string]any, now time.Time) error {
	event := database.MoveEvent{
		MoveID:    moveID,
		ActorID:   actor,
		Action:    action,
		CreatedAt: now,
	}
	if len(details) > 0 {
		raw, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("marshal event details: %w", err)
		}
		event.Details = datatypes.JSON(raw)
	}
	if err := tx.Create(&event).Error; err != nil {
		return fmt.Errorf("record move event: %w", err)
	}
	return nil
}
