// Package imaging 协调动作配图的上传参考图、AI 生成预览与接受预览三个步骤。
//
// 会话状态不落库：每一步只把结果对象的 key/URL 交给下一步，
// 只有 Accept 会写入 Move.imageUrl。
package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"

	"poletrack/internal/errcode"
	"poletrack/internal/metrics"
	"poletrack/internal/moves"
	"poletrack/internal/ratelimit"
	"poletrack/internal/storage"
)

const (
	DefaultMaxUploadBytes = 10 << 20
	MaxPromptAddition     = 500

	maxOutputBytes = 32 << 20
	sniffLen       = 512
)

// stylePrompt 是每次生成都会使用的固定风格描述。
const stylePrompt = "Studio photograph of a pole dancer performing the move shown in the reference image. " +
	"Clean white background, soft even lighting, full body in frame, no text, no watermark."

var imageExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
}

// ObjectStore 是流水线使用的对象存储能力，由 storage.Client 实现。
type ObjectStore interface {
	UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error)
	CopyObject(ctx context.Context, srcKey, dstKey string) error
	GeneratePresignedURL(ctx context.Context, objectKey string, duration time.Duration) (string, error)
	ObjectURL(objectKey string) string
	KeyFromURL(rawURL string) (string, bool)
	DeletePrefix(ctx context.Context, prefix string) error
}

// MoveCatalog 是流水线读取与写回动作的接口，由 moves.Service 实现。
type MoveCatalog interface {
	Get(ctx context.Context, id uuid.UUID) (moves.Move, error)
	SetImage(ctx context.Context, actor, id uuid.UUID, url string) (moves.Move, error)
}

// Limiter 按管理员限制生成次数。
type Limiter interface {
	Allow(ctx context.Context, subject string) (ratelimit.Decision, error)
}

// Config 控制上传大小与生成轮询。
type Config struct {
	MaxUploadBytes int64
	PollInterval   time.Duration
	Timeout        time.Duration
	PreviewTTL     time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	if c.PreviewTTL <= 0 {
		c.PreviewTTL = time.Hour
	}
	return c
}

// Upload 是一次参考图上传。Size 为 -1 时表示长度未知。
type Upload struct {
	Reader      io.Reader
	Size        int64
	ContentType string
}

// Reference 是已保存的参考图。
type Reference struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// GenerateRequest 描述一次生成。
type GenerateRequest struct {
	ReferenceURL   string `json:"referenceUrl"`
	PromptAddition string `json:"promptAddition"`
}

// Preview 是生成结果；URL 为限时签名链接。
type Preview struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Pipeline 串联对象存储、生成服务与动作目录。
type Pipeline struct {
	store    ObjectStore
	catalog  MoveCatalog
	provider Provider
	limiter  Limiter
	scanner  Scanner
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Pipeline)

// WithScanner 在上传参考图前启用内容扫描。
func WithScanner(scanner Scanner) Option {
	return func(p *Pipeline) { p.scanner = scanner }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func NewPipeline(store ObjectStore, catalog MoveCatalog, provider Provider, limiter Limiter, cfg Config, logger *slog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		store:    store,
		catalog:  catalog,
		provider: provider,
		limiter:  limiter,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func movePrefix(moveID uuid.UUID) string {
	return fmt.Sprintf("moves/%s/", moveID)
}

func previewPrefix(moveID uuid.UUID) string {
	return movePrefix(moveID) + "previews/"
}

// activeMove 确认动作存在且未被删除。
func (p *Pipeline) activeMove(ctx context.Context, moveID uuid.UUID) (moves.Move, error) {
	m, err := p.catalog.Get(ctx, moveID)
	if err != nil {
		return moves.Move{}, err
	}
	if m.DeletedAt != nil {
		return moves.Move{}, errcode.NotFound("move not found")
	}
	return m, nil
}

// Upload 校验并保存参考图，返回其持久地址。
func (p *Pipeline) Upload(ctx context.Context, actor, moveID uuid.UUID, in Upload) (Reference, error) {
	contentType := normalizeContentType(in.ContentType)
	ext, ok := imageExtensions[contentType]
	if !ok {
		return Reference{}, errcode.ValidationFields(map[string]string{
			"file": "must be a JPEG, PNG or WebP image",
		})
	}
	if in.Size == 0 || in.Size > p.cfg.MaxUploadBytes {
		return Reference{}, sizeError(p.cfg.MaxUploadBytes)
	}
	if _, err := p.activeMove(ctx, moveID); err != nil {
		return Reference{}, err
	}

	data, err := io.ReadAll(io.LimitReader(in.Reader, p.cfg.MaxUploadBytes+1))
	if err != nil {
		return Reference{}, errcode.Validation("failed to read upload")
	}
	if len(data) == 0 || int64(len(data)) > p.cfg.MaxUploadBytes {
		return Reference{}, sizeError(p.cfg.MaxUploadBytes)
	}
	if detected := sniff(data); detected != contentType {
		return Reference{}, errcode.ValidationFields(map[string]string{
			"file": fmt.Sprintf("content is %s, not %s", detected, contentType),
		})
	}

	if p.scanner != nil {
		if err := p.scanner.Scan(ctx, bytes.NewReader(data)); err != nil {
			p.logger.Warn("reference upload rejected by scanner",
				slog.String("move_id", moveID.String()),
				slog.Any("error", err),
			)
			return Reference{}, err
		}
	}

	key := fmt.Sprintf("%sreference/%s.%s", movePrefix(moveID), uuid.NewString(), ext)
	if _, err := p.store.UploadFile(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return Reference{}, errcode.Storage("failed to store reference image", err)
	}

	p.logger.Info("reference image uploaded",
		slog.String("move_id", moveID.String()),
		slog.String("actor_id", actor.String()),
		slog.String("object_key", key),
		slog.Int("size", len(data)),
	)
	return Reference{Key: key, URL: p.store.ObjectURL(key)}, nil
}

func sizeError(limit int64) error {
	return errcode.ValidationFields(map[string]string{
		"file": fmt.Sprintf("size must be between 1 byte and %d bytes", limit),
	})
}

func normalizeContentType(raw string) string {
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	if mediaType == "image/jpg" {
		return "image/jpeg"
	}
	return mediaType
}

func sniff(data []byte) string {
	if len(data) > sniffLen {
		data = data[:sniffLen]
	}
	return normalizeContentType(http.DetectContentType(data))
}

// Generate 提交生成任务并轮询直到完成，结果另存为预览对象。
func (p *Pipeline) Generate(ctx context.Context, actor, moveID uuid.UUID, req GenerateRequest) (Preview, error) {
	referenceURL, addition, err := validateGenerate(req)
	if err != nil {
		return Preview{}, err
	}
	if _, err := p.activeMove(ctx, moveID); err != nil {
		return Preview{}, err
	}

	logger := p.logger.With(
		slog.String("move_id", moveID.String()),
		slog.String("actor_id", actor.String()),
	)

	decision, err := p.limiter.Allow(ctx, actor.String())
	if err != nil {
		// Redis 不可用时放行，与登录限流保持一致。
		logger.Error("generation rate limit check failed", slog.Any("error", err))
	} else if !decision.Allowed {
		metrics.CountGenerationRejected("rate_limited")
		return Preview{}, errcode.RateLimited(fmt.Sprintf(
			"image generation limit reached, retry after %s", decision.ResetAt.Format(time.RFC3339)))
	}

	// 参考图在自有存储中时，给服务商一个可下载的签名地址。
	if key, ok := p.store.KeyFromURL(referenceURL); ok {
		signed, err := p.store.GeneratePresignedURL(ctx, key, p.cfg.Timeout+time.Minute)
		if err != nil {
			return Preview{}, errcode.Storage("failed to sign reference image", err)
		}
		referenceURL = signed
	}

	prompt := stylePrompt
	if addition != "" {
		prompt += " " + addition
	}

	started := time.Now()
	jobID, err := p.provider.Submit(ctx, prompt, referenceURL)
	if err != nil {
		metrics.ObserveGeneration("failed", time.Since(started))
		return Preview{}, errcode.GenerationFailed("failed to start image generation", err)
	}
	logger = logger.With(slog.String("job_id", jobID))
	logger.Info("image generation submitted")

	status, err := p.wait(ctx, logger, jobID)
	if err != nil {
		metrics.ObserveGeneration(outcomeOf(err), time.Since(started))
		logger.Warn("image generation did not complete", slog.Any("error", err))
		return Preview{}, err
	}

	preview, err := p.storePreview(ctx, moveID, status.OutputURL)
	if err != nil {
		metrics.ObserveGeneration(outcomeOf(err), time.Since(started))
		return Preview{}, err
	}
	metrics.ObserveGeneration("succeeded", time.Since(started))

	logger.Info("image preview ready", slog.String("object_key", preview.Key))
	return preview, nil
}

func validateGenerate(req GenerateRequest) (string, string, error) {
	fields := map[string]string{}

	referenceURL := strings.TrimSpace(req.ReferenceURL)
	if referenceURL == "" {
		fields["referenceUrl"] = "is required"
	} else if u, err := url.Parse(referenceURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		fields["referenceUrl"] = "must be an absolute http(s) URL"
	}

	addition := strings.TrimSpace(req.PromptAddition)
	if utf8.RuneCountInString(addition) > MaxPromptAddition {
		fields["promptAddition"] = fmt.Sprintf("must be at most %d characters", MaxPromptAddition)
	}

	if len(fields) > 0 {
		return "", "", errcode.ValidationFields(fields)
	}
	return referenceURL, addition, nil
}

// wait 按固定间隔轮询；单次轮询失败视为暂时性错误，直到超时。
func (p *Pipeline) wait(ctx context.Context, logger *slog.Logger, jobID string) (JobStatus, error) {
	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-waitCtx.Done():
			if err := ctx.Err(); err != nil {
				return JobStatus{}, err
			}
			return JobStatus{}, errcode.GenerationTimedOut(
				fmt.Sprintf("image generation did not finish within %s", p.cfg.Timeout))
		case <-ticker.C:
		}

		status, err := p.provider.Poll(waitCtx, jobID)
		if err != nil {
			logger.Warn("poll image generation failed", slog.Any("error", err))
			continue
		}

		switch status.State {
		case JobSucceeded:
			if status.OutputURL == "" {
				return JobStatus{}, errcode.GenerationFailed("image generation returned no output", nil)
			}
			return status, nil
		case JobFailed, JobCanceled:
			msg := "image generation " + string(status.State)
			if status.Error != "" {
				msg += ": " + status.Error
			}
			return JobStatus{}, errcode.GenerationFailed(msg, nil)
		}
	}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errcode.KindOf(err) == errcode.KindGenerationTimeout:
		return "timeout"
	default:
		return "failed"
	}
}

// storePreview 把生成结果复制进自有存储，避免依赖服务商的临时地址。
func (p *Pipeline) storePreview(ctx context.Context, moveID uuid.UUID, outputURL string) (Preview, error) {
	body, _, err := p.provider.Fetch(ctx, outputURL)
	if err != nil {
		return Preview{}, errcode.GenerationFailed("failed to download generated image", err)
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, maxOutputBytes+1))
	if err != nil {
		return Preview{}, errcode.GenerationFailed("failed to download generated image", err)
	}
	if len(data) == 0 || len(data) > maxOutputBytes {
		return Preview{}, errcode.GenerationFailed("generated image has an unexpected size", nil)
	}

	// 以实际内容为准，服务商返回的 Content-Type 常常是 octet-stream。
	contentType := sniff(data)
	ext, ok := imageExtensions[contentType]
	if !ok {
		return Preview{}, errcode.GenerationFailed(
			fmt.Sprintf("generated output has unsupported type %s", contentType), nil)
	}

	key := fmt.Sprintf("%s%s.%s", previewPrefix(moveID), uuid.NewString(), ext)
	if _, err := p.store.UploadFile(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return Preview{}, errcode.Storage("failed to store preview image", err)
	}

	signed, err := p.store.GeneratePresignedURL(ctx, key, p.cfg.PreviewTTL)
	if err != nil {
		return Preview{}, errcode.Storage("failed to sign preview image", err)
	}
	return Preview{
		Key:       key,
		URL:       signed,
		ExpiresAt: p.now().UTC().Add(p.cfg.PreviewTTL),
	}, nil
}

// Accept 把预览复制为动作正式配图并写入 imageUrl；重复接受同一预览不做任何改动。
func (p *Pipeline) Accept(ctx context.Context, actor, moveID uuid.UUID, previewKey string) (moves.Move, error) {
	previewKey = strings.TrimSpace(previewKey)
	prefix := previewPrefix(moveID)
	name := strings.TrimPrefix(previewKey, prefix)
	if !strings.HasPrefix(previewKey, prefix) || name == "" || name != path.Base(name) || name == "." || name == ".." {
		return moves.Move{}, errcode.ValidationFields(map[string]string{
			"previewKey": "must reference a preview of this move",
		})
	}

	m, err := p.activeMove(ctx, moveID)
	if err != nil {
		return moves.Move{}, err
	}

	target := movePrefix(moveID) + "image/" + name
	imageURL := p.store.ObjectURL(target)
	if m.ImageURL != nil && *m.ImageURL == imageURL {
		return m, nil
	}

	if err := p.store.CopyObject(ctx, previewKey, target); err != nil {
		if storage.IsNoSuchKey(err) {
			return moves.Move{}, errcode.NotFound("preview not found")
		}
		return moves.Move{}, errcode.Storage("failed to copy preview image", err)
	}

	updated, err := p.catalog.SetImage(ctx, actor, moveID, imageURL)
	if err != nil {
		return moves.Move{}, err
	}

	p.logger.Info("move image accepted",
		slog.String("move_id", moveID.String()),
		slog.String("actor_id", actor.String()),
		slog.String("object_key", target),
	)
	return updated, nil
}

// DeleteMoveObjects 删除动作名下的全部对象（参考图、预览与正式配图）。
func (p *Pipeline) DeleteMoveObjects(ctx context.Context, moveID uuid.UUID) error {
	if err := p.store.DeletePrefix(ctx, movePrefix(moveID)); err != nil {
		return errcode.Storage("failed to delete move images", err)
	}
	return nil
}
