package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"poletrack/internal/api/middleware"
	"poletrack/internal/auth"
	"poletrack/internal/config"
	"poletrack/internal/database"
	"poletrack/internal/errcode"
	"poletrack/internal/ratelimit"
)

const refreshTokenCookieName = "refresh_token"
const refreshTokenBlacklistKeyPrefix = "auth:refresh:blacklist:"

// UserStore 是认证处理器需要的账号能力，由 auth.Directory 实现。
type UserStore interface {
	Register(ctx context.Context, email, password string, displayName *string) (database.Account, error)
	Authenticate(ctx context.Context, email, password string) (database.Account, error)
	Exists(ctx context.Context, userID uuid.UUID) (bool, error)
}

// AuthHandler 处理注册、登录、刷新、退出与找回密码。
type AuthHandler struct {
	users         UserStore
	authService   *auth.AuthService
	redis         redis.UniversalClient
	logger        *slog.Logger
	loginLimiter  *ratelimit.Limiter
	lockThreshold int
	lockTTL       time.Duration
	cookieDomain  string
}

// NewAuthHandler 构造认证处理器。
func NewAuthHandler(users UserStore, authService *auth.AuthService, redisClient redis.UniversalClient, logger *slog.Logger, cfg config.AuthConfig) *AuthHandler {
	return &AuthHandler{
		users:         users,
		authService:   authService,
		redis:         redisClient,
		logger:        logger,
		loginLimiter:  ratelimit.New(redisClient, "rate:login", cfg.LoginRateLimit, time.Hour),
		lockThreshold: cfg.LoginLockThreshold,
		lockTTL:       cfg.LoginLockTTL,
		cookieDomain:  cfg.CookieDomain,
	}
}

type registerRequest struct {
	Email       string  `json:"email" binding:"required"`
	Password    string  `json:"password" binding:"required"`
	DisplayName *string `json:"displayName"`
}

type registerResponse struct {
	UserID uuid.UUID `json:"userId"`
	Email  string    `json:"email"`
}

// Register 创建账号与资料。
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	account, err := h.users.Register(c.Request.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		RespondError(c, err)
		return
	}

	h.loggerFromContext(c).Info("user registered", slog.String("user_id", account.ID.String()))
	c.JSON(http.StatusCreated, registerResponse{UserID: account.ID, Email: account.Email})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Login 校验口令并返回 Token。
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	email := auth.NormalizeEmail(req.Email)
	logger := h.loggerFromContext(c)

	// 速率限制：每 IP+邮箱 每小时固定次数；Redis 故障时放行。
	if decision, err := h.loginLimiter.Allow(ctx, c.ClientIP()+":"+email); err != nil {
		logger.Warn("login rate limit check failed", slog.Any("error", err))
	} else if !decision.Allowed {
		RespondError(c, errcode.RateLimited("rate limit exceeded"))
		return
	}

	// 锁定检查
	lockKey := "lock:login:" + email
	if ttl, _ := h.redis.TTL(ctx, lockKey).Result(); ttl > 0 {
		RespondError(c, errcode.RateLimited("account temporarily locked"))
		return
	}

	account, err := h.users.Authenticate(ctx, email, req.Password)
	if err != nil {
		if errcode.KindOf(err) == errcode.KindUnauthorized {
			logger.Info("login failed")
			_ = h.incrementLoginFail(ctx, email)
		}
		RespondError(c, err)
		return
	}

	// 登录成功：清理失败计数
	_ = h.redis.Del(ctx, "lock:login:fail:"+email).Err()

	tokenPair, err := h.authService.GenerateTokenPair(account.ID)
	if err != nil {
		RespondError(c, errcode.Internal("generate token pair", err))
		return
	}

	logger.Info("user logged in", slog.String("user_id", account.ID.String()))
	h.replyWithTokenPair(c, tokenPair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh 校验刷新令牌并颁发新的 TokenPair，旧令牌随即作废。
func (h *AuthHandler) Refresh(c *gin.Context) {
	ctx := c.Request.Context()
	logger := h.loggerFromContext(c)

	claims, key, ok := h.validRefreshToken(c)
	if !ok {
		return
	}

	if err := h.redis.Get(ctx, key).Err(); err == nil {
		logger.Info("refresh token revoked", slog.String("jti", claims.ID))
		AbortUnauthorized(c)
		return
	} else if !errors.Is(err, redis.Nil) {
		RespondError(c, errcode.Internal("refresh token blacklist lookup", err))
		return
	}

	exists, err := h.users.Exists(ctx, claims.UserID)
	if err != nil {
		RespondError(c, err)
		return
	}
	if !exists {
		logger.Info("refresh user not found", slog.String("user_id", claims.UserID.String()))
		AbortUnauthorized(c)
		return
	}

	tokenPair, err := h.authService.GenerateTokenPair(claims.UserID)
	if err != nil {
		RespondError(c, errcode.Internal("generate token pair", err))
		return
	}

	// 旋转旧刷新令牌，防止重复使用。
	if err := h.revokeRefreshToken(ctx, key, claims.ExpiresAt); err != nil {
		RespondError(c, errcode.Internal("revoke refresh token", err))
		return
	}

	h.replyWithTokenPair(c, tokenPair)
}

// Logout 将刷新令牌加入黑名单，防止继续使用。
func (h *AuthHandler) Logout(c *gin.Context) {
	claims, key, ok := h.validRefreshToken(c)
	if !ok {
		return
	}

	if err := h.revokeRefreshToken(c.Request.Context(), key, claims.ExpiresAt); err != nil {
		RespondError(c, errcode.Internal("revoke refresh token", err))
		return
	}

	// 清除 Cookie。
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     refreshTokenCookieName,
		Value:    "",
		MaxAge:   -1,
		Path:     "/",
		Secure:   h.isHTTPSRequest(c),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Domain:   h.getCookieDomain(),
	})
	c.Status(http.StatusOK)
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// ForgotPassword 无论邮箱是否存在都返回 202，避免泄露账号信息。
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	_ = c.ShouldBindJSON(&req)

	h.loggerFromContext(c).Info("password reset requested",
		slog.Bool("email_present", strings.TrimSpace(req.Email) != ""),
	)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// validRefreshToken 读取并校验刷新令牌；失败时已写出 401。
func (h *AuthHandler) validRefreshToken(c *gin.Context) (*auth.TokenClaims, string, bool) {
	logger := h.loggerFromContext(c)

	refreshToken := h.extractRefreshToken(c)
	if refreshToken == "" {
		AbortUnauthorized(c)
		return nil, "", false
	}

	claims, err := h.authService.ValidateTokenType(refreshToken, auth.TokenTypeRefresh)
	if err != nil {
		logger.Info("refresh token invalid", slog.Any("error", err))
		AbortUnauthorized(c)
		return nil, "", false
	}
	if claims.ID == "" {
		logger.Info("refresh token missing jti")
		AbortUnauthorized(c)
		return nil, "", false
	}
	return claims, refreshTokenBlacklistKeyPrefix + claims.ID, true
}

func (h *AuthHandler) replyWithTokenPair(c *gin.Context, tokenPair auth.TokenPair) {
	h.setRefreshCookie(c, tokenPair.RefreshToken)
	c.JSON(http.StatusOK, tokenResponse{
		AccessToken: tokenPair.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(h.authService.AccessTokenTTL().Seconds()),
	})
}

func (h *AuthHandler) extractRefreshToken(c *gin.Context) string {
	if token, err := c.Cookie(refreshTokenCookieName); err == nil && token != "" {
		return token
	}

	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err == nil && req.RefreshToken != "" {
		return req.RefreshToken
	}
	return ""
}

func (h *AuthHandler) setRefreshCookie(c *gin.Context, refreshToken string) {
	maxAge := int(h.authService.RefreshTokenTTL().Seconds())
	if maxAge <= 0 {
		maxAge = int(time.Hour.Seconds())
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     refreshTokenCookieName,
		Value:    refreshToken,
		MaxAge:   maxAge,
		Path:     "/",
		Secure:   h.isHTTPSRequest(c),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Domain:   h.getCookieDomain(),
		Expires:  time.Now().Add(h.authService.RefreshTokenTTL()),
	})
}

func (h *AuthHandler) revokeRefreshToken(ctx context.Context, key string, expiresAt *jwt.NumericDate) error {
	var ttl time.Duration
	if expiresAt == nil {
		ttl = h.authService.RefreshTokenTTL()
	} else {
		ttl = time.Until(expiresAt.Time)
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	return h.redis.Set(ctx, key, "revoked", ttl).Err()
}

func (h *AuthHandler) loggerFromContext(c *gin.Context) *slog.Logger {
	if logger := middleware.LoggerFromContext(c); logger != nil {
		return logger
	}
	if h.logger != nil {
		return h.logger
	}
	return slog.Default()
}

func (h *AuthHandler) isHTTPSRequest(c *gin.Context) bool {
	if c.Request == nil {
		return false
	}
	if c.Request.TLS != nil {
		return true
	}
	return strings.EqualFold(c.Request.Header.Get("X-Forwarded-Proto"), "https")
}

func (h *AuthHandler) getCookieDomain() string { return strings.TrimSpace(h.cookieDomain) }

func (h *AuthHandler) incrementLoginFail(ctx context.Context, email string) error {
	failKey := "lock:login:fail:" + email
	count, err := ratelimit.IncrWithTTL(ctx, h.redis, failKey, h.lockTTL)
	if err != nil {
		return err
	}
	if count >= int64(h.lockThreshold) {
		_ = h.redis.Set(ctx, "lock:login:"+email, "1", h.lockTTL).Err()
	}
	return nil
}
