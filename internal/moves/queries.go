package moves

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"poletrack/internal/database"
	"poletrack/internal/errcode"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Page 是分页结果，Total 为过滤后的总数。
type Page[T any] struct {
	Items  []T   `json:"items"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// MoveSummary 是公开目录中的列表项。
type MoveSummary struct {
	ID          uuid.UUID      `json:"id"`
	Slug        string         `json:"slug"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Level       database.Level `json:"level"`
	ImageURL    *string        `json:"imageUrl"`
	PublishedAt *time.Time     `json:"publishedAt"`
}

// MoveDetail 附带有序步骤；Translations 仅在管理端返回。
type MoveDetail struct {
	Move
	Steps        []Step                 `json:"steps"`
	Translations map[string]Translation `json:"translations,omitempty"`
}

type Step struct {
	ID           uuid.UUID           `json:"id"`
	OrderIndex   int                 `json:"orderIndex"`
	Title        string              `json:"title"`
	Description  string              `json:"description"`
	Translations map[string]StepText `json:"translations,omitempty"`
}

// PublicFilter 描述公开目录查询。Limit 为 0 时取默认值。
type PublicFilter struct {
	Level    database.Level
	Query    string
	Limit    int
	Offset   int
	Language string
}

type AdminFilter struct {
	Level  database.Level
	Status Status
	Query  string
	Limit  int
	Offset int
}

func pageBounds(limit, offset int) (int, int, error) {
	fields := map[string]string{}
	if limit < 0 || limit > MaxLimit {
		fields["limit"] = fmt.Sprintf("must be between 1 and %d", MaxLimit)
	}
	if offset < 0 {
		fields["offset"] = "must not be negative"
	}
	if len(fields) > 0 {
		return 0, 0, errcode.ValidationFields(fields)
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	return limit, offset, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func applyTextFilters(q *gorm.DB, level database.Level, query string) *gorm.DB {
	if level != "" {
		q = q.Where("level = ?", level)
	}
	if query = strings.TrimSpace(query); query != "" {
		pattern := "%" + likeEscaper.Replace(strings.ToLower(query)) + "%"
		q = q.Where(`(LOWER(name) LIKE ? ESCAPE '\' OR LOWER(description) LIKE ? ESCAPE '\')`, pattern, pattern)
	}
	return q
}

func normalizeLanguage(lang string) (string, error) {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang != "" && !ValidLanguage(lang) {
		return "", errcode.ValidationFields(map[string]string{"lang": "invalid language code"})
	}
	return lang, nil
}

// ListPublished 只返回可见动作，按发布时间倒序。
func (s *Service) ListPublished(ctx context.Context, f PublicFilter) (Page[MoveSummary], error) {
	limit, offset, err := pageBounds(f.Limit, f.Offset)
	if err != nil {
		return Page[MoveSummary]{}, err
	}
	if f.Level != "" && !f.Level.Valid() {
		return Page[MoveSummary]{}, errcode.ValidationFields(map[string]string{"level": "unknown level"})
	}
	lang, err := normalizeLanguage(f.Language)
	if err != nil {
		return Page[MoveSummary]{}, err
	}

	base := applyTextFilters(
		s.db.WithContext(ctx).Model(&database.Move{}).Where(visibleCondition),
		f.Level, f.Query,
	).Session(&gorm.Session{})

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return Page[MoveSummary]{}, fmt.Errorf("count published moves: %w", err)
	}

	var rows []database.Move
	if err := base.Order("published_at DESC").Order("id DESC").
		Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return Page[MoveSummary]{}, fmt.Errorf("list published moves: %w", err)
	}

	localized, err := s.translationsFor(ctx, rows, lang)
	if err != nil {
		return Page[MoveSummary]{}, err
	}

	items := make([]MoveSummary, 0, len(rows))
	for _, m := range rows {
		if tr, ok := localized[m.ID]; ok {
			m = localize(m, tr)
		}
		items = append(items, MoveSummary{
			ID:          m.ID,
			Slug:        m.Slug,
			Name:        m.Name,
			Description: m.Description,
			Level:       m.Level,
			ImageURL:    m.ImageURL,
			PublishedAt: m.PublishedAt,
		})
	}
	return Page[MoveSummary]{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

// ListAdmin 返回所有动作（含草稿与已删除），按更新时间倒序。
func (s *Service) ListAdmin(ctx context.Context, f AdminFilter) (Page[Move], error) {
	limit, offset, err := pageBounds(f.Limit, f.Offset)
	if err != nil {
		return Page[Move]{}, err
	}
	if f.Level != "" && !f.Level.Valid() {
		return Page[Move]{}, errcode.ValidationFields(map[string]string{"level": "unknown level"})
	}

	q := applyTextFilters(s.db.WithContext(ctx).Model(&database.Move{}), f.Level, f.Query)
	switch f.Status {
	case "":
	case StatusDeleted:
		q = q.Where("deleted_at IS NOT NULL")
	case StatusPublished:
		q = q.Where(visibleCondition)
	case StatusUnpublished:
		q = q.Where("deleted_at IS NULL AND published_at IS NULL")
	default:
		return Page[Move]{}, errcode.ValidationFields(map[string]string{"status": "unknown status"})
	}
	base := q.Session(&gorm.Session{})

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return Page[Move]{}, fmt.Errorf("count moves: %w", err)
	}

	var rows []database.Move
	if err := base.Order("updated_at DESC").Order("id DESC").
		Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return Page[Move]{}, fmt.Errorf("list moves: %w", err)
	}

	items := make([]Move, 0, len(rows))
	for _, m := range rows {
		items = append(items, toMove(m))
	}
	return Page[Move]{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

// Get 返回任意状态的动作。
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Move, error) {
	m, err := loadMove(s.db.WithContext(ctx), id)
	if err != nil {
		return Move{}, err
	}
	return toMove(m), nil
}

// GetPublished 按 slug 查找可见动作；指定语言时也匹配译文 slug，并返回本地化文本。
func (s *Service) GetPublished(ctx context.Context, slug, lang string) (MoveDetail, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return MoveDetail{}, errcode.NotFound("move not found")
	}
	lang, err := normalizeLanguage(lang)
	if err != nil {
		return MoveDetail{}, err
	}

	db := s.db.WithContext(ctx)
	var m database.Move
	err = db.Where("lower(slug) = ?", slug).Where(visibleCondition).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) && lang != "" {
		err = db.Joins("JOIN move_translations ON move_translations.move_id = moves.id").
			Where("lower(move_translations.slug) = ? AND move_translations.language = ?", slug, lang).
			Where("moves.published_at IS NOT NULL AND moves.deleted_at IS NULL").
			First(&m).Error
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return MoveDetail{}, errcode.NotFound("move not found")
		}
		return MoveDetail{}, fmt.Errorf("load published move: %w", err)
	}

	return s.loadDetail(db, m, lang, false)
}

// GetAdmin 返回任意状态的动作详情及全部翻译。
func (s *Service) GetAdmin(ctx context.Context, id uuid.UUID) (MoveDetail, error) {
	db := s.db.WithContext(ctx)
	m, err := loadMove(db, id)
	if err != nil {
		return MoveDetail{}, err
	}
	return s.loadDetail(db, m, "", true)
}

// History 返回动作的审计记录，按时间正序。
func (s *Service) History(ctx context.Context, id uuid.UUID) ([]Event, error) {
	db := s.db.WithContext(ctx)
	if _, err := loadMove(db, id); err != nil {
		return nil, err
	}

	var rows []database.MoveEvent
	if err := db.Where("move_id = ?", id).
		Order("created_at ASC").Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list move events: %w", err)
	}

	events := make([]Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, Event{
			ID:        row.ID,
			ActorID:   row.ActorID,
			Action:    row.Action,
			Details:   json.RawMessage(row.Details),
			CreatedAt: row.CreatedAt,
		})
	}
	return events, nil
}

// RequireVisible 在动作不存在或不可见时返回 NotFound。
func RequireVisible(ctx context.Context, db *gorm.DB, id uuid.UUID) error {
	var count int64
	if err := db.WithContext(ctx).Model(&database.Move{}).
		Where("id = ?", id).Where(visibleCondition).
		Count(&count).Error; err != nil {
		return fmt.Errorf("check move visibility: %w", err)
	}
	if count == 0 {
		return errcode.NotFound("move not found")
	}
	return nil
}

func (s *Service) loadDetail(db *gorm.DB, m database.Move, lang string, withTranslations bool) (MoveDetail, error) {
	var steps []database.Step
	if err := db.Preload("Translations").
		Where("move_id = ?", m.ID).
		Order("order_index ASC").
		Find(&steps).Error; err != nil {
		return MoveDetail{}, fmt.Errorf("load steps: %w", err)
	}

	var translations []database.MoveTranslation
	if err := db.Where("move_id = ?", m.ID).Find(&translations).Error; err != nil {
		return MoveDetail{}, fmt.Errorf("load move translations: %w", err)
	}

	detail := MoveDetail{Steps: make([]Step, 0, len(steps))}
	if lang != "" {
		for _, tr := range translations {
			if tr.Language == lang {
				m = localize(m, tr)
			}
		}
	}
	detail.Move = toMove(m)

	for _, st := range steps {
		step := Step{
			ID:          st.ID,
			OrderIndex:  st.OrderIndex,
			Title:       st.Title,
			Description: st.Description,
		}
		for _, tr := range st.Translations {
			if withTranslations {
				if step.Translations == nil {
					step.Translations = map[string]StepText{}
				}
				step.Translations[tr.Language] = StepText{Title: tr.Title, Description: tr.Description}
			}
			if lang != "" && tr.Language == lang {
				if tr.Title != "" {
					step.Title = tr.Title
				}
				if tr.Description != "" {
					step.Description = tr.Description
				}
			}
		}
		detail.Steps = append(detail.Steps, step)
	}

	if withTranslations && len(translations) > 0 {
		detail.Translations = make(map[string]Translation, len(translations))
		for _, tr := range translations {
			detail.Translations[tr.Language] = Translation{
				Name:        tr.Name,
				Description: tr.Description,
				Level:       tr.Level,
			}
		}
	}
	return detail, nil
}

func (s *Service) translationsFor(ctx context.Context, rows []database.Move, lang string) (map[uuid.UUID]database.MoveTranslation, error) {
	out := map[uuid.UUID]database.MoveTranslation{}
	if lang == "" || len(rows) == 0 {
		return out, nil
	}
	ids := make([]uuid.UUID, 0, len(rows))
	for _, m := range rows {
		ids = append(ids, m.ID)
	}

	var translations []database.MoveTranslation
	if err := s.db.WithContext(ctx).
		Where("move_id IN ? AND language = ?", ids, lang).
		Find(&translations).Error; err != nil {
		return nil, fmt.Errorf("load move translations: %w", err)
	}
	for _, tr := range translations {
		out[tr.MoveID] = tr
	}
	return out, nil
}

// localize 用译文覆盖非空字段；难度枚举不被翻译覆盖。
func localize(m database.Move, tr database.MoveTranslation) database.Move {
	if tr.Name != "" {
		m.Name = tr.Name
	}
	if tr.Description != "" {
		m.Description = tr.Description
	}
	if tr.Slug != "" {
		m.Slug = tr.Slug
	}
	return m
}
