package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"poletrack/internal/database"
	"poletrack/internal/errcode"
)

// StatusStore 由 progress.Store 实现。
type StatusStore interface {
	SetStatus(ctx context.Context, userID, moveID uuid.UUID, status database.ProgressStatus, note *string) (time.Time, error)
	GetStatus(ctx context.Context, userID, moveID uuid.UUID) (*database.UserMoveStatus, error)
	ListStatuses(ctx context.Context, userID uuid.UUID, status *database.ProgressStatus) ([]database.UserMoveStatus, error)
}

// NoteStore 由 notes.Store 实现。
type NoteStore interface {
	AddNote(ctx context.Context, userID, moveID uuid.UUID, content string) (database.MoveNote, error)
	GetNotes(ctx context.Context, userID, moveID uuid.UUID) ([]database.MoveNote, error)
	DeleteNote(ctx context.Context, userID, noteID uuid.UUID) (bool, error)
}

// ProgressHandler 负责用户的练习状态与笔记。
type ProgressHandler struct {
	statuses StatusStore
	notes    NoteStore
}

func NewProgressHandler(statuses StatusStore, notes NoteStore) *ProgressHandler {
	return &ProgressHandler{statuses: statuses, notes: notes}
}

type statusResponse struct {
	MoveID    uuid.UUID               `json:"moveId"`
	Status    database.ProgressStatus `json:"status"`
	Note      *string                 `json:"note"`
	UpdatedAt time.Time               `json:"updatedAt"`
}

func toStatusResponse(row database.UserMoveStatus) statusResponse {
	return statusResponse{
		MoveID:    row.MoveID,
		Status:    row.Status,
		Note:      row.Note,
		UpdatedAt: row.UpdatedAt,
	}
}

type noteResponse struct {
	ID        uuid.UUID `json:"id"`
	MoveID    uuid.UUID `json:"moveId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

func toNoteResponse(n database.MoveNote) noteResponse {
	return noteResponse{ID: n.ID, MoveID: n.MoveID, Content: n.Content, CreatedAt: n.CreatedAt}
}

type itemsResponse[T any] struct {
	Items []T `json:"items"`
}

// ListStatuses 返回调用者的全部状态，可用 ?status= 过滤。
func (h *ProgressHandler) ListStatuses(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}

	var filter *database.ProgressStatus
	if raw := c.Query("status"); raw != "" {
		s := database.ProgressStatus(raw)
		filter = &s
	}

	rows, err := h.statuses.ListStatuses(c.Request.Context(), principal.UserID, filter)
	if err != nil {
		RespondError(c, err)
		return
	}
	items := make([]statusResponse, 0, len(rows))
	for _, row := range rows {
		items = append(items, toStatusResponse(row))
	}
	c.JSON(http.StatusOK, itemsResponse[statusResponse]{Items: items})
}

// GetStatus 未设置时返回 JSON null。
func (h *ProgressHandler) GetStatus(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	moveID, ok := uuidParam(c, "id", "move")
	if !ok {
		return
	}

	row, err := h.statuses.GetStatus(c.Request.Context(), principal.UserID, moveID)
	if err != nil {
		RespondError(c, err)
		return
	}
	if row == nil {
		c.JSON(http.StatusOK, nil)
		return
	}
	c.JSON(http.StatusOK, toStatusResponse(*row))
}

type setStatusRequest struct {
	Status database.ProgressStatus `json:"status"`
	Note   *string                 `json:"note"`
}

// SetStatus 覆盖写入状态与可选备注。
func (h *ProgressHandler) SetStatus(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	moveID, ok := uuidParam(c, "id", "move")
	if !ok {
		return
	}

	var req setStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if req.Status == "" {
		RespondError(c, errcode.ValidationFields(map[string]string{"status": "required"}))
		return
	}

	updatedAt, err := h.statuses.SetStatus(c.Request.Context(), principal.UserID, moveID, req.Status, req.Note)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, statusResponse{
		MoveID:    moveID,
		Status:    req.Status,
		Note:      req.Note,
		UpdatedAt: updatedAt,
	})
}

// ListNotes 按创建顺序返回调用者在该动作下的笔记。
func (h *ProgressHandler) ListNotes(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	moveID, ok := uuidParam(c, "id", "move")
	if !ok {
		return
	}

	rows, err := h.notes.GetNotes(c.Request.Context(), principal.UserID, moveID)
	if err != nil {
		RespondError(c, err)
		return
	}
	items := make([]noteResponse, 0, len(rows))
	for _, n := range rows {
		items = append(items, toNoteResponse(n))
	}
	c.JSON(http.StatusOK, itemsResponse[noteResponse]{Items: items})
}

type addNoteRequest struct {
	Content string `json:"content"`
}

func (h *ProgressHandler) AddNote(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	moveID, ok := uuidParam(c, "id", "move")
	if !ok {
		return
	}

	var req addNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	note, err := h.notes.AddNote(c.Request.Context(), principal.UserID, moveID, req.Content)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toNoteResponse(note))
}

// DeleteNote 删除调用者自己的笔记；他人的笔记同样返回 404。
func (h *ProgressHandler) DeleteNote(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	noteID, ok := uuidParam(c, "id", "note")
	if !ok {
		return
	}

	deleted, err := h.notes.DeleteNote(c.Request.Context(), principal.UserID, noteID)
	if err != nil {
		RespondError(c, err)
		return
	}
	if !deleted {
		RespondError(c, errcode.NotFound("note not found"))
		return
	}
	c.Status(http.StatusNoContent)
}
