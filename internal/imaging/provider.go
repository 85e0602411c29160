package imaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// JobState 是生成任务在外部服务中的状态。
type JobState string

const (
	JobStarting   JobState = "starting"
	JobProcessing JobState = "processing"
	JobSucceeded  JobState = "succeeded"
	JobFailed     JobState = "failed"
	JobCanceled   JobState = "canceled"
)

// JobStatus 是一次轮询的结果。
type JobStatus struct {
	State     JobState
	OutputURL string
	Error     string
}

// Provider 是 AI 图像生成服务的窄接口。
type Provider interface {
	Submit(ctx context.Context, prompt, referenceURL string) (string, error)
	Poll(ctx context.Context, jobID string) (JobStatus, error)
	// Fetch 下载生成结果，调用方负责关闭返回的 body。
	Fetch(ctx context.Context, outputURL string) (io.ReadCloser, string, error)
}

// HTTPProvider 对接 prediction 风格的 JSON 接口：
// POST {base}/predictions 提交，GET {base}/predictions/{id} 查询。
type HTTPProvider struct {
	baseURL string
	token   string
	model   string
	client  *http.Client
}

// NewHTTPProvider 构造 HTTPProvider；client 为 nil 时使用 30s 超时的默认客户端。
func NewHTTPProvider(baseURL, token, model string, client *http.Client) *HTTPProvider {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPProvider{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		model:   strings.TrimSpace(model),
		client:  client,
	}
}

type predictionInput struct {
	Prompt string `json:"prompt"`
	Image  string `json:"image,omitempty"`
}

type predictionRequest struct {
	Model string          `json:"model,omitempty"`
	Input predictionInput `json:"input"`
}

type predictionResponse struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  json.RawMessage `json:"error"`
}

// Submit 提交生成任务并返回任务 ID。
func (p *HTTPProvider) Submit(ctx context.Context, prompt, referenceURL string) (string, error) {
	body, err := json.Marshal(predictionRequest{
		Model: p.model,
		Input: predictionInput{Prompt: prompt, Image: referenceURL},
	})
	if err != nil {
		return "", fmt.Errorf("encode prediction request: %w", err)
	}

	var out predictionResponse
	if err := p.do(ctx, http.MethodPost, p.baseURL+"/predictions", bytes.NewReader(body), &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("prediction response missing id")
	}
	return out.ID, nil
}

// Poll 查询任务状态。
func (p *HTTPProvider) Poll(ctx context.Context, jobID string) (JobStatus, error) {
	var out predictionResponse
	target := p.baseURL + "/predictions/" + url.PathEscape(jobID)
	if err := p.do(ctx, http.MethodGet, target, nil, &out); err != nil {
		return JobStatus{}, err
	}

	status := JobStatus{State: JobState(strings.ToLower(out.Status))}
	switch status.State {
	case JobStarting, JobProcessing, JobFailed, JobCanceled:
	case JobSucceeded:
		output, err := firstOutput(out.Output)
		if err != nil {
			return JobStatus{}, err
		}
		status.OutputURL = output
	default:
		return JobStatus{}, fmt.Errorf("unknown prediction status %q", out.Status)
	}
	status.Error = errorText(out.Error)
	return status, nil
}

// Fetch 下载生成结果。
func (p *HTTPProvider) Fetch(ctx context.Context, outputURL string) (io.ReadCloser, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, outputURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build output request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download output: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
		return nil, "", fmt.Errorf("download output status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

func (p *HTTPProvider) do(ctx context.Context, method, target string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("build prediction request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("request prediction api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
		return fmt.Errorf("prediction api status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode prediction response: %w", err)
	}
	return nil
}

// firstOutput 兼容 output 为字符串或字符串数组两种形态。
func firstOutput(raw json.RawMessage) (string, error) {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return single, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		for _, s := range many {
			if s != "" {
				return s, nil
			}
		}
	}
	return "", errors.New("prediction succeeded without output")
}

func errorText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
