package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"poletrack/internal/api/middleware"
	"poletrack/internal/errcode"
	"poletrack/internal/imaging"
	"poletrack/internal/moves"
)

// ImagePipeline 是配图流水线的三个步骤，由 imaging.Pipeline 实现。
type ImagePipeline interface {
	Upload(ctx context.Context, actor, moveID uuid.UUID, in imaging.Upload) (imaging.Reference, error)
	Generate(ctx context.Context, actor, moveID uuid.UUID, req imaging.GenerateRequest) (imaging.Preview, error)
	Accept(ctx context.Context, actor, moveID uuid.UUID, previewKey string) (moves.Move, error)
}

// ImageHandler 负责管理端的动作配图接口。
type ImageHandler struct {
	pipeline ImagePipeline
}

// NewImageHandler 返回 ImageHandler 实例。
func NewImageHandler(pipeline ImagePipeline) *ImageHandler {
	return &ImageHandler{pipeline: pipeline}
}

// UploadReference 保存参考图，扫描与类型校验在流水线中完成。
func (h *ImageHandler) UploadReference(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	moveID, ok := uuidParam(c, "id", "move")
	if !ok {
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		RespondError(c, errcode.ValidationFields(map[string]string{"file": "missing file"}))
		return
	}

	fileReader, err := file.Open()
	if err != nil {
		RespondError(c, errcode.Internal("open uploaded file", err))
		return
	}
	defer fileReader.Close()

	ref, err := h.pipeline.Upload(c.Request.Context(), principal.UserID, moveID, imaging.Upload{
		Reader:      fileReader,
		Size:        file.Size,
		ContentType: file.Header.Get("Content-Type"),
	})
	if err != nil {
		RespondError(c, err)
		return
	}

	middleware.LoggerFromContext(c).Info("reference image uploaded",
		slog.String("move_id", moveID.String()),
		slog.String("key", ref.Key),
	)
	c.JSON(http.StatusCreated, ref)
}

// Generate 同步等待生成结果，返回限时预览链接。
func (h *ImageHandler) Generate(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	moveID, ok := uuidParam(c, "id", "move")
	if !ok {
		return
	}

	var req imaging.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	preview, err := h.pipeline.Generate(c.Request.Context(), principal.UserID, moveID, req)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

type acceptRequest struct {
	PreviewKey string `json:"previewKey" binding:"required"`
}

// Accept 把预览提升为动作的正式配图。
func (h *ImageHandler) Accept(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	moveID, ok := uuidParam(c, "id", "move")
	if !ok {
		return
	}

	var req acceptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, errcode.ValidationFields(map[string]string{"previewKey": "required"}))
		return
	}

	move, err := h.pipeline.Accept(c.Request.Context(), principal.UserID, moveID, req.PreviewKey)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, move)
}
