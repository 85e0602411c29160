package database

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Level 表示动作难度。
type Level string

const (
	LevelBeginner     Level = "Beginner"
	LevelIntermediate Level = "Intermediate"
	LevelAdvanced     Level = "Advanced"
)

// Valid 判断难度是否属于枚举。
func (l Level) Valid() bool {
	switch l {
	case LevelBeginner, LevelIntermediate, LevelAdvanced:
		return true
	}
	return false
}

// ProgressStatus 表示用户对某个动作的掌握状态。
type ProgressStatus string

const (
	StatusWant   ProgressStatus = "WANT"
	StatusAlmost ProgressStatus = "ALMOST"
	StatusDone   ProgressStatus = "DONE"
)

func (s ProgressStatus) Valid() bool {
	switch s {
	case StatusWant, StatusAlmost, StatusDone:
		return true
	}
	return false
}

// Account 是内置认证提供方的凭据记录，ID 即全局 userID。
type Account struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Email        string    `gorm:"size:255;not null;uniqueIndex"`
	PasswordHash string    `gorm:"size:255;not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Profile 保存用户资料与管理员标记，每个用户一行。
type Profile struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID      uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`
	IsAdmin     bool      `gorm:"not null;default:false"`
	DisplayName *string   `gorm:"size:100"`
	AvatarURL   *string   `gorm:"size:512"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Move 表示目录中的一个动作。
// 公开可见当且仅当 PublishedAt 非空且 DeletedAt 为空；DeletedAt 与发布状态相互独立。
type Move struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Name        string     `gorm:"size:100;not null;check:chk_moves_name_len,length(name) BETWEEN 3 AND 100"`
	Description string     `gorm:"size:500;not null;check:chk_moves_description_len,length(description) BETWEEN 10 AND 500"`
	Level       Level      `gorm:"size:16;not null;index;check:chk_moves_level,level IN ('Beginner','Intermediate','Advanced')"`
	Slug        string     `gorm:"size:128;not null"`
	ImageURL    *string    `gorm:"size:1024"`
	PublishedAt *time.Time `gorm:"index"`
	DeletedAt   *time.Time `gorm:"index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Translations []MoveTranslation `gorm:"constraint:OnDelete:CASCADE"`
	Steps        []Step            `gorm:"constraint:OnDelete:CASCADE"`
	Statuses     []UserMoveStatus  `gorm:"constraint:OnDelete:CASCADE"`
	Notes        []MoveNote        `gorm:"constraint:OnDelete:CASCADE"`
	Events       []MoveEvent       `gorm:"constraint:OnDelete:CASCADE"`
}

// MoveTranslation 保存动作文本的多语言版本，空字段回退到原文。
type MoveTranslation struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	MoveID      uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:ux_move_translations_move_language"`
	Language    string    `gorm:"size:5;not null;uniqueIndex:ux_move_translations_move_language"`
	Name        string    `gorm:"size:100;not null"`
	Description string    `gorm:"size:500;not null"`
	Slug        string    `gorm:"size:128;not null;index"`
	Level       string    `gorm:"size:32"`
}

// Step 是动作的一个有序步骤。
type Step struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	MoveID      uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:ux_steps_move_order"`
	OrderIndex  int       `gorm:"not null;uniqueIndex:ux_steps_move_order;check:chk_steps_order_positive,order_index > 0"`
	Title       string    `gorm:"size:150;not null;check:chk_steps_title_len,length(title) BETWEEN 3 AND 150"`
	Description string    `gorm:"size:150;not null;check:chk_steps_description_len,length(description) BETWEEN 10 AND 150"`

	Translations []StepTranslation `gorm:"constraint:OnDelete:CASCADE"`
}

type StepTranslation struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	StepID      uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:ux_step_translations_step_language"`
	Language    string    `gorm:"size:5;not null;uniqueIndex:ux_step_translations_step_language"`
	Title       string    `gorm:"size:150;not null"`
	Description string    `gorm:"size:150;not null"`
}

// UserMoveStatus 以 (user_id, move_id) 为复合主键，每个用户对每个动作至多一行。
type UserMoveStatus struct {
	UserID    uuid.UUID      `gorm:"type:uuid;primaryKey"`
	MoveID    uuid.UUID      `gorm:"type:uuid;primaryKey;index"`
	Status    ProgressStatus `gorm:"size:8;not null;default:'WANT';check:chk_user_move_statuses_status,status IN ('WANT','ALMOST','DONE')"`
	Note      *string        `gorm:"type:text;check:chk_user_move_statuses_note_len,note IS NULL OR length(note) <= 2000"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MoveNote 是只追加的用户笔记。
type MoveNote struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index:idx_move_notes_user_move"`
	MoveID    uuid.UUID `gorm:"type:uuid;not null;index:idx_move_notes_user_move"`
	Content   string    `gorm:"type:text;not null;check:chk_move_notes_content_len,length(content) BETWEEN 1 AND 2000"`
	CreatedAt time.Time `gorm:"index"`
}

// MoveEvent 记录管理员对动作的生命周期操作。
type MoveEvent struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey"`
	MoveID    uuid.UUID      `gorm:"type:uuid;not null;index"`
	ActorID   uuid.UUID      `gorm:"type:uuid;not null"`
	Action    string         `gorm:"size:16;not null"`
	Details   datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt time.Time
}

func assignID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

func (a *Account) BeforeCreate(*gorm.DB) error         { assignID(&a.ID); return nil }
func (p *Profile) BeforeCreate(*gorm.DB) error         { assignID(&p.ID); return nil }
func (m *Move) BeforeCreate(*gorm.DB) error            { assignID(&m.ID); return nil }
func (t *MoveTranslation) BeforeCreate(*gorm.DB) error { assignID(&t.ID); return nil }
func (s *Step) BeforeCreate(*gorm.DB) error            { assignID(&s.ID); return nil }
func (t *StepTranslation) BeforeCreate(*gorm.DB) error { assignID(&t.ID); return nil }
func (n *MoveNote) BeforeCreate(*gorm.DB) error        { assignID(&n.ID); return nil }
func (e *MoveEvent) BeforeCreate(*gorm.DB) error       { assignID(&e.ID); return nil }
