package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"poletrack/internal/database"
	"poletrack/internal/errcode"
)

const maxDisplayName = 100

// Principal 是经过认证的调用方，每个请求只解析一次。
type Principal struct {
	UserID  uuid.UUID
	IsAdmin bool
}

// Me 是当前用户的资料视图。
type Me struct {
	UserID      uuid.UUID `json:"userId"`
	Email       string    `json:"email"`
	DisplayName *string   `json:"displayName"`
	AvatarURL   *string   `json:"avatarUrl"`
	IsAdmin     bool      `json:"isAdmin"`
}

// Directory 管理账号与资料表。
type Directory struct {
	db *gorm.DB
}

func NewDirectory(db *gorm.DB) *Directory {
	return &Directory{db: db}
}

// NormalizeEmail 去除空白并转为小写。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateCredentials(email, password string) error {
	fields := map[string]string{}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email || len(email) > 254 {
		fields["email"] = "must be a valid email address"
	}
	if len(password) < minPasswordLen || len(password) > maxPasswordLen {
		fields["password"] = fmt.Sprintf("must be between %d and %d bytes", minPasswordLen, maxPasswordLen)
	}
	if len(fields) > 0 {
		return errcode.ValidationFields(fields)
	}
	return nil
}

// Register 创建账号并同时创建资料行；邮箱忽略大小写唯一。
func (d *Directory) Register(ctx context.Context, email, password string, displayName *string) (database.Account, error) {
	email = NormalizeEmail(email)
	if err := validateCredentials(email, password); err != nil {
		return database.Account{}, err
	}
	if displayName != nil {
		trimmed := strings.TrimSpace(*displayName)
		if utf8.RuneCountInString(trimmed) > maxDisplayName {
			return database.Account{}, errcode.ValidationFields(map[string]string{
				"displayName": fmt.Sprintf("must be at most %d characters", maxDisplayName),
			})
		}
		if trimmed == "" {
			displayName = nil
		} else {
			displayName = &trimmed
		}
	}

	hashed, err := HashPassword(password)
	if err != nil {
		return database.Account{}, err
	}

	account := database.Account{Email: email, PasswordHash: hashed}
	err = d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&account).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errcode.Conflict("email already registered")
			}
			return fmt.Errorf("create account: %w", err)
		}
		return ensureProfile(tx, account.ID, displayName)
	})
	if err != nil {
		return database.Account{}, err
	}
	return account, nil
}

// ensureProfile 在资料不存在时创建；已存在时保持不变。
func ensureProfile(tx *gorm.DB, userID uuid.UUID, displayName *string) error {
	profile := database.Profile{UserID: userID, DisplayName: displayName}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&profile).Error; err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

// Authenticate 校验邮箱与口令；账号不存在与口令错误都返回 Unauthorized。
func (d *Directory) Authenticate(ctx context.Context, email, password string) (database.Account, error) {
	var account database.Account
	err := d.db.WithContext(ctx).Where("email = ?", NormalizeEmail(email)).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			burnPasswordCheck(password)
			return database.Account{}, errcode.Unauthorized("invalid email or password")
		}
		return database.Account{}, fmt.Errorf("load account: %w", err)
	}
	if !CheckPasswordHash(password, account.PasswordHash) {
		return database.Account{}, errcode.Unauthorized("invalid email or password")
	}
	return account, nil
}

// Exists 判断账号是否仍然存在，刷新令牌时使用。
func (d *Directory) Exists(ctx context.Context, userID uuid.UUID) (bool, error) {
	var count int64
	if err := d.db.WithContext(ctx).Model(&database.Account{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("count account: %w", err)
	}
	return count > 0, nil
}

// LoadPrincipal 读取资料行得到管理员标记；资料缺失视为未认证。
func (d *Directory) LoadPrincipal(ctx context.Context, userID uuid.UUID) (Principal, error) {
	var profile database.Profile
	err := d.db.WithContext(ctx).Select("user_id", "is_admin").Where("user_id = ?", userID).First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Principal{}, errcode.Unauthorized("profile not found")
		}
		return Principal{}, fmt.Errorf("load profile: %w", err)
	}
	return Principal{UserID: profile.UserID, IsAdmin: profile.IsAdmin}, nil
}

// Me 返回账号与资料的合并视图。
func (d *Directory) Me(ctx context.Context, userID uuid.UUID) (Me, error) {
	db := d.db.WithContext(ctx)

	var account database.Account
	if err := db.Where("id = ?", userID).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Me{}, errcode.NotFound("user not found")
		}
		return Me{}, fmt.Errorf("load account: %w", err)
	}
	var profile database.Profile
	if err := db.Where("user_id = ?", userID).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Me{}, errcode.NotFound("user not found")
		}
		return Me{}, fmt.Errorf("load profile: %w", err)
	}

	return Me{
		UserID:      account.ID,
		Email:       account.Email,
		DisplayName: profile.DisplayName,
		AvatarURL:   profile.AvatarURL,
		IsAdmin:     profile.IsAdmin,
	}, nil
}

// SetAdmin 按邮箱授予或撤销管理员权限，资料缺失时补建。
func (d *Directory) SetAdmin(ctx context.Context, email string, admin bool) (database.Profile, error) {
	var profile database.Profile
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var account database.Account
		if err := tx.Where("email = ?", NormalizeEmail(email)).First(&account).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errcode.NotFound("account not found")
			}
			return fmt.Errorf("load account: %w", err)
		}
		if err := ensureProfile(tx, account.ID, nil); err != nil {
			return err
		}
		if err := tx.Model(&database.Profile{}).Where("user_id = ?", account.ID).
			Update("is_admin", admin).Error; err != nil {
			return fmt.Errorf("update profile: %w", err)
		}
		return tx.Where("user_id = ?", account.ID).First(&profile).Error
	})
	if err != nil {
		return database.Profile{}, err
	}
	return profile, nil
}

// DeleteUser 删除资料与账号；账号不存在时返回 false。
func (d *Directory) DeleteUser(ctx context.Context, userID uuid.UUID) (bool, error) {
	deleted := false
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&database.Profile{}).Error; err != nil {
			return fmt.Errorf("delete profile: %w", err)
		}
		res := tx.Where("id = ?", userID).Delete(&database.Account{})
		if res.Error != nil {
			return fmt.Errorf("delete account: %w", res.Error)
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	return deleted, err
}
