package database_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"poletrack/internal/database"
	"poletrack/internal/database/dbtest"
)

func newMove(name, slug string) *database.Move {
	now := time.Now().UTC()
	return &database.Move{
		Name:        name,
		Description: "a sufficiently long description",
		Level:       database.LevelBeginner,
		Slug:        slug,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestMigrateActiveNameIndexIgnoresDeleted(t *testing.T) {
	db := dbtest.New(t)

	first := newMove("Fireman Spin", "fireman-spin")
	require.NoError(t, db.Create(first).Error)
	assert.NotEqual(t, uuid.Nil, first.ID)

	err := db.Create(newMove("FIREMAN SPIN", "fireman-spin-2")).Error
	require.Error(t, err)
	assert.True(t, errors.Is(err, gorm.ErrDuplicatedKey))

	deletedAt := time.Now().UTC()
	require.NoError(t, db.Model(first).UpdateColumn("deleted_at", deletedAt).Error)
	require.NoError(t, db.Create(newMove("fireman spin", "fireman-spin-3")).Error)
}

func TestMigrateSlugIndexIsGlobal(t *testing.T) {
	db := dbtest.New(t)

	first := newMove("Chair Spin", "chair-spin")
	require.NoError(t, db.Create(first).Error)
	require.NoError(t, db.Model(first).UpdateColumn("deleted_at", time.Now().UTC()).Error)

	err := db.Create(newMove("Another Chair Spin", "Chair-Spin")).Error
	assert.True(t, errors.Is(err, gorm.ErrDuplicatedKey))
}

func TestMigrateNoteLengthConstraint(t *testing.T) {
	db := dbtest.New(t)

	move := newMove("Pole Sit", "pole-sit")
	require.NoError(t, db.Create(move).Error)

	ok := strings.Repeat("a", 2000)
	require.NoError(t, db.Create(&database.UserMoveStatus{
		UserID: uuid.New(), MoveID: move.ID, Status: database.StatusWant, Note: &ok,
	}).Error)

	tooLong := strings.Repeat("a", 2001)
	err := db.Create(&database.UserMoveStatus{
		UserID: uuid.New(), MoveID: move.ID, Status: database.StatusWant, Note: &tooLong,
	}).Error
	assert.Error(t, err)
}
