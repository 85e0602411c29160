package errcode

import (
	"errors"
	"fmt"
	"net/http"
)

// 错误码约定：
// - 0：无错误
// - 4xxx：调用方可修正的错误（输入、权限、资源缺失、冲突、限流）
// - 5xxx：系统或外部依赖错误（生成服务、对象存储、数据库）
const (
	OK                = 0
	ValidationFailed  = 4000
	Unauthenticated   = 4001
	PermissionDenied  = 4003
	ResourceMissing   = 4004
	ResourceConflict  = 4009
	TooManyRequests   = 4029
	SystemError       = 5000
	GenerationFailure = 5020
	StorageFailure    = 5030
	GenerationTimeout = 5040
)

// Kind 是稳定的机器可读错误类别，随响应返回给客户端。
type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindUnauthorized      Kind = "unauthorized"
	KindForbidden         Kind = "forbidden"
	KindRateLimited       Kind = "rate_limited"
	KindGenerationTimeout Kind = "generation_timeout"
	KindGenerationFailed  Kind = "generation_failed"
	KindStorage           Kind = "storage"
	KindInternal          Kind = "internal"
)

var kindCodes = map[Kind]int{
	KindValidation:        ValidationFailed,
	KindNotFound:          ResourceMissing,
	KindConflict:          ResourceConflict,
	KindUnauthorized:      Unauthenticated,
	KindForbidden:         PermissionDenied,
	KindRateLimited:       TooManyRequests,
	KindGenerationTimeout: GenerationTimeout,
	KindGenerationFailed:  GenerationFailure,
	KindStorage:           StorageFailure,
	KindInternal:          SystemError,
}

var kindStatus = map[Kind]int{
	KindValidation:        http.StatusBadRequest,
	KindNotFound:          http.StatusNotFound,
	KindConflict:          http.StatusConflict,
	KindUnauthorized:      http.StatusUnauthorized,
	KindForbidden:         http.StatusForbidden,
	KindRateLimited:       http.StatusTooManyRequests,
	KindGenerationTimeout: http.StatusGatewayTimeout,
	KindGenerationFailed:  http.StatusBadGateway,
	KindStorage:           http.StatusBadGateway,
	KindInternal:          http.StatusInternalServerError,
}

// Error 是各存储层与服务层直接返回的业务错误。
type Error struct {
	Kind    Kind
	Code    int
	Message string
	// Fields 记录字段级校验失败原因，键为请求字段名。
	Fields map[string]string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is 让 errors.Is 可以按 Kind 比较，例如 errors.Is(err, errcode.NotFound(""))。
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Code: kindCodes[kind], Message: msg, Err: cause}
}

func Validation(msg string) *Error { return newError(KindValidation, msg, nil) }

// ValidationFields 构造携带字段详情的校验错误。
func ValidationFields(fields map[string]string) *Error {
	e := newError(KindValidation, "validation failed", nil)
	e.Fields = fields
	return e
}

func NotFound(msg string) *Error     { return newError(KindNotFound, msg, nil) }
func Conflict(msg string) *Error     { return newError(KindConflict, msg, nil) }
func Unauthorized(msg string) *Error { return newError(KindUnauthorized, msg, nil) }
func Forbidden(msg string) *Error    { return newError(KindForbidden, msg, nil) }
func RateLimited(msg string) *Error  { return newError(KindRateLimited, msg, nil) }

func GenerationTimedOut(msg string) *Error { return newError(KindGenerationTimeout, msg, nil) }

func GenerationFailed(msg string, cause error) *Error {
	return newError(KindGenerationFailed, msg, cause)
}

func Storage(msg string, cause error) *Error { return newError(KindStorage, msg, cause) }

func Internal(msg string, cause error) *Error { return newError(KindInternal, msg, cause) }

// KindOf 返回错误链上第一个业务错误的类别；非业务错误视为 internal。
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus 将错误映射为 HTTP 状态码。
func HTTPStatus(err error) int {
	if status, ok := kindStatus[KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// CodeOf 返回错误对应的数值错误码。
func CodeOf(err error) int {
	if err == nil {
		return OK
	}
	return kindCodes[KindOf(err)]
}

// Response 是统一的错误响应体。
type Response struct {
	Error  string            `json:"error"`
	Kind   Kind              `json:"kind"`
	Code   int               `json:"code"`
	Fields map[string]string `json:"fields,omitempty"`
}

// ResponseOf 返回错误对应的 HTTP 状态码与响应体；非业务错误不向外暴露细节。
func ResponseOf(err error) (int, Response) {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError, Response{
			Error: "internal error",
			Kind:  KindInternal,
			Code:  SystemError,
		}
	}
	msg := e.Message
	if e.Kind == KindInternal {
		msg = "internal error"
	}
	return kindStatus[e.Kind], Response{
		Error:  msg,
		Kind:   e.Kind,
		Code:   e.Code,
		Fields: e.Fields,
	}
}
