// Package client 是 poletrack API 的类型化 HTTP 客户端，以及基于它的乐观状态同步。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"poletrack/internal/database"
	"poletrack/internal/moves"
)

const (
	// DefaultRequestsPerSecond 是客户端的默认请求速率上限。
	DefaultRequestsPerSecond = 20
	DefaultBurst             = 40
)

// HTTPError 是服务端返回的错误响应。
type HTTPError struct {
	StatusCode int
	Kind       string
	Code       int
	Message    string
	Fields     map[string]string
}

func (e *HTTPError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("response %d %q", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("response %d %s: %s", e.StatusCode, e.Kind, e.Message)
}

func (e *HTTPError) IsNotFound() bool { return e.StatusCode == http.StatusNotFound }
func (e *HTTPError) IsConflict() bool { return e.StatusCode == http.StatusConflict }

type rateLimitedTransport struct {
	transport http.RoundTripper
	limiter   *rate.Limiter
}

func (t *rateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.transport.RoundTrip(req)
}

// NewRateLimitedHTTPClient 返回按令牌桶限速的 http.Client。
func NewRateLimitedHTTPClient(perSecond float64, burst int) *http.Client {
	return &http.Client{
		Timeout: 150 * time.Second,
		Transport: &rateLimitedTransport{
			transport: http.DefaultTransport,
			limiter:   rate.NewLimiter(rate.Limit(perSecond), burst),
		},
	}
}

// Client 调用 /v1 接口，携带 Bearer 访问令牌。
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: NewRateLimitedHTTPClient(DefaultRequestsPerSecond, DefaultBurst),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken 替换访问令牌，用于刷新之后。
func (c *Client) SetToken(token string) { c.token = token }

// Status 是用户对某个动作的掌握状态。
type Status struct {
	MoveID    uuid.UUID               `json:"moveId"`
	Status    database.ProgressStatus `json:"status"`
	Note      *string                 `json:"note"`
	UpdatedAt time.Time               `json:"updatedAt"`
}

type Note struct {
	ID        uuid.UUID `json:"id"`
	MoveID    uuid.UUID `json:"moveId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

type items[T any] struct {
	Items []T `json:"items"`
}

// ListOptions 对应公开目录的查询参数。
type ListOptions struct {
	Level    database.Level
	Query    string
	Limit    int
	Offset   int
	Language string
}

func (c *Client) ListMoves(ctx context.Context, opts ListOptions) (moves.Page[moves.MoveSummary], error) {
	q := url.Values{}
	if opts.Level != "" {
		q.Set("level", string(opts.Level))
	}
	if opts.Query != "" {
		q.Set("q", opts.Query)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	if opts.Language != "" {
		q.Set("lang", opts.Language)
	}

	path := "/v1/moves"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var page moves.Page[moves.MoveSummary]
	err := c.do(ctx, http.MethodGet, path, nil, &page)
	return page, err
}

// SetStatus 覆盖写入状态，返回服务端确认后的记录。
func (c *Client) SetStatus(ctx context.Context, moveID uuid.UUID, status database.ProgressStatus, note *string) (Status, error) {
	body := map[string]any{"status": status, "note": note}
	var out Status
	err := c.do(ctx, http.MethodPut, "/v1/moves/"+moveID.String()+"/status", body, &out)
	return out, err
}

// GetStatus 未设置时返回 nil。
func (c *Client) GetStatus(ctx context.Context, moveID uuid.UUID) (*Status, error) {
	var out *Status
	if err := c.do(ctx, http.MethodGet, "/v1/moves/"+moveID.String()+"/status", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListStatuses(ctx context.Context, filter *database.ProgressStatus) ([]Status, error) {
	path := "/v1/statuses"
	if filter != nil {
		path += "?status=" + url.QueryEscape(string(*filter))
	}
	var out items[Status]
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Items, err
}

func (c *Client) AddNote(ctx context.Context, moveID uuid.UUID, content string) (Note, error) {
	var out Note
	err := c.do(ctx, http.MethodPost, "/v1/moves/"+moveID.String()+"/notes", map[string]string{"content": content}, &out)
	return out, err
}

func (c *Client) ListNotes(ctx context.Context, moveID uuid.UUID) ([]Note, error) {
	var out items[Note]
	err := c.do(ctx, http.MethodGet, "/v1/moves/"+moveID.String()+"/notes", nil, &out)
	return out.Items, err
}

func (c *Client) DeleteNote(ctx context.Context, noteID uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "/v1/notes/"+noteID.String(), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("construct request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	if err := checkRespErr(res); err != nil {
		return err
	}
	if out == nil || res.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

// checkRespErr 把 4xx/5xx 响应解析为 *HTTPError；非 JSON 响应保留原始文本。
func checkRespErr(res *http.Response) error {
	if res.StatusCode < 400 {
		return nil
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("server responded with %d but the body could not be read: %w", res.StatusCode, err)
	}

	var body struct {
		Error  string            `json:"error"`
		Kind   string            `json:"kind"`
		Code   int               `json:"code"`
		Fields map[string]string `json:"fields"`
	}
	httpErr := &HTTPError{StatusCode: res.StatusCode}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		httpErr.Kind, httpErr.Code, httpErr.Message, httpErr.Fields = body.Kind, body.Code, body.Error, body.Fields
	} else {
		httpErr.Message = strings.TrimRight(string(raw), "\n")
	}
	return httpErr
}
