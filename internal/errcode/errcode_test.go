package errcode

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("load move: %w", NotFound("move not found"))

	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(err))
	assert.Equal(t, ResourceMissing, CodeOf(err))
	assert.True(t, errors.Is(err, NotFound("")))
	assert.False(t, errors.Is(err, Conflict("")))
}

func TestPlainErrorsAreInternal(t *testing.T) {
	err := errors.New("dial tcp: connection refused")

	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(err))
	assert.Equal(t, SystemError, CodeOf(err))
	assert.Equal(t, OK, CodeOf(nil))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestResponseOf(t *testing.T) {
	status, body := ResponseOf(ValidationFields(map[string]string{"name": "is required"}))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, KindValidation, body.Kind)
	assert.Equal(t, ValidationFailed, body.Code)
	assert.Equal(t, "is required", body.Fields["name"])

	status, body = ResponseOf(Internal("query failed", errors.New("pq: secret detail")))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal error", body.Error)

	status, body = ResponseOf(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, KindInternal, body.Kind)

	status, _ = ResponseOf(GenerationTimedOut("too slow"))
	assert.Equal(t, http.StatusGatewayTimeout, status)
	status, _ = ResponseOf(RateLimited("slow down"))
	assert.Equal(t, http.StatusTooManyRequests, status)
}
