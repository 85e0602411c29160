package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"poletrack/internal/database"
	"poletrack/internal/moves"
)

// MoveCatalog 是公开目录的只读能力，由 moves.Service 实现。
type MoveCatalog interface {
	ListPublished(ctx context.Context, f moves.PublicFilter) (moves.Page[moves.MoveSummary], error)
	GetPublished(ctx context.Context, slug, lang string) (moves.MoveDetail, error)
}

// MoveHandler 提供匿名可访问的动作目录。
type MoveHandler struct {
	catalog MoveCatalog
}

func NewMoveHandler(catalog MoveCatalog) *MoveHandler {
	return &MoveHandler{catalog: catalog}
}

// List 按难度、关键字分页列出已发布动作。
func (h *MoveHandler) List(c *gin.Context) {
	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}
	offset, ok := intQuery(c, "offset")
	if !ok {
		return
	}

	page, err := h.catalog.ListPublished(c.Request.Context(), moves.PublicFilter{
		Level:    database.Level(c.Query("level")),
		Query:    c.Query("q"),
		Limit:    limit,
		Offset:   offset,
		Language: c.Query("lang"),
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// Get 按 slug 返回已发布动作及其步骤；路由参数与用户接口共用 :id 名称。
func (h *MoveHandler) Get(c *gin.Context) {
	detail, err := h.catalog.GetPublished(c.Request.Context(), c.Param("id"), c.Query("lang"))
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}
