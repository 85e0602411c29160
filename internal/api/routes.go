package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"poletrack/internal/api/middleware"
	"poletrack/internal/auth"
	"poletrack/internal/config"
	"poletrack/internal/moves"
)

// Dependencies 汇总路由需要的服务。
type Dependencies struct {
	Auth      *auth.AuthService
	Directory *auth.Directory
	Moves     *moves.Service
	Statuses  StatusStore
	Notes     NoteStore
	Images    ImagePipeline
	Queue     TaskEnqueuer
	Redis     redis.UniversalClient
	Logger    *slog.Logger
	AuthCfg   config.AuthConfig
}

// RegisterRoutes 注册 /v1 下的全部接口。
func RegisterRoutes(router *gin.Engine, deps Dependencies) {
	authHandler := NewAuthHandler(deps.Directory, deps.Auth, deps.Redis, deps.Logger, deps.AuthCfg)
	meHandler := NewMeHandler(deps.Directory, deps.Queue)
	moveHandler := NewMoveHandler(deps.Moves)
	progressHandler := NewProgressHandler(deps.Statuses, deps.Notes)
	adminHandler := NewAdminMoveHandler(deps.Moves, deps.Queue)
	imageHandler := NewImageHandler(deps.Images)
	authMiddleware := middleware.AuthMiddleware(deps.Auth, deps.Directory)

	v1 := router.Group("/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/refresh", authHandler.Refresh)
			authGroup.POST("/logout", authHandler.Logout)
			authGroup.POST("/forgot-password", authHandler.ForgotPassword)
		}

		// 公开目录；/moves/:id 在这里按 slug 解析。
		v1.GET("/moves", moveHandler.List)
		v1.GET("/moves/:id", moveHandler.Get)

		user := v1.Group("")
		user.Use(authMiddleware)
		{
			user.GET("/me", meHandler.Get)
			user.DELETE("/me", meHandler.Delete)

			user.GET("/statuses", progressHandler.ListStatuses)
			user.GET("/moves/:id/status", progressHandler.GetStatus)
			user.PUT("/moves/:id/status", progressHandler.SetStatus)
			user.GET("/moves/:id/notes", progressHandler.ListNotes)
			user.POST("/moves/:id/notes", progressHandler.AddNote)
			user.DELETE("/notes/:id", progressHandler.DeleteNote)
		}

		admin := v1.Group("/admin")
		admin.Use(authMiddleware, middleware.RequireAdmin())
		{
			admin.GET("/moves", adminHandler.List)
			admin.POST("/moves", adminHandler.Create)
			admin.GET("/moves/:id", adminHandler.Get)
			admin.PUT("/moves/:id", adminHandler.Update)
			admin.DELETE("/moves/:id", adminHandler.Delete())
			admin.POST("/moves/:id/publish", adminHandler.Publish())
			admin.POST("/moves/:id/unpublish", adminHandler.Unpublish())
			admin.POST("/moves/:id/restore", adminHandler.Restore())
			admin.DELETE("/moves/:id/purge", adminHandler.Purge)
			admin.GET("/moves/:id/history", adminHandler.History)

			admin.POST("/moves/:id/image/reference", imageHandler.UploadReference)
			admin.POST("/moves/:id/image/generate", imageHandler.Generate)
			admin.POST("/moves/:id/image/accept", imageHandler.Accept)
		}
	}
}
