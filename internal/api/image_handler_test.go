package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poletrack/internal/api/middleware"
	"poletrack/internal/auth"
	"poletrack/internal/errcode"
	"poletrack/internal/imaging"
	"poletrack/internal/moves"
)

type fakePipeline struct {
	uploaded    []byte
	contentType string
	size        int64
	generateErr error
	accepted    string
}

func (p *fakePipeline) Upload(_ context.Context, _, moveID uuid.UUID, in imaging.Upload) (imaging.Reference, error) {
	b, err := io.ReadAll(in.Reader)
	if err != nil {
		return imaging.Reference{}, err
	}
	p.uploaded, p.contentType, p.size = b, in.ContentType, in.Size
	key := fmt.Sprintf("moves/%s/reference/ref.png", moveID)
	return imaging.Reference{Key: key, URL: "https://cdn.example.com/" + key}, nil
}

func (p *fakePipeline) Generate(_ context.Context, _, moveID uuid.UUID, req imaging.GenerateRequest) (imaging.Preview, error) {
	if p.generateErr != nil {
		return imaging.Preview{}, p.generateErr
	}
	key := fmt.Sprintf("moves/%s/previews/p.png", moveID)
	return imaging.Preview{Key: key, URL: "https://signed.example.com/" + key, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (p *fakePipeline) Accept(_ context.Context, _, moveID uuid.UUID, previewKey string) (moves.Move, error) {
	p.accepted = previewKey
	url := "https://cdn.example.com/moves/" + moveID.String() + "/image/p.png"
	return moves.Move{ID: moveID, ImageURL: &url}, nil
}

func newMultipartUpload(t *testing.T, filename, contentType string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func newImageContext(t *testing.T, method, path string, body io.Reader, contentType string, moveID string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", contentType)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: moveID}}
	middleware.SetPrincipal(c, auth.Principal{UserID: uuid.New(), IsAdmin: true})
	return c, w
}

func TestUploadReferencePassesFileThrough(t *testing.T) {
	pipeline := &fakePipeline{}
	h := NewImageHandler(pipeline)
	moveID := uuid.New()

	content := []byte("\x89PNG\r\n\x1a\nrest-of-image")
	body, contentType := newMultipartUpload(t, "ref.png", "image/png", content)
	c, w := newImageContext(t, http.MethodPost, "/v1/admin/moves/x/image/reference", body, contentType, moveID.String())

	h.UploadReference(c)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, content, pipeline.uploaded)
	assert.Equal(t, "image/png", pipeline.contentType)
	assert.Equal(t, int64(len(content)), pipeline.size)
	assert.Contains(t, w.Body.String(), "moves/"+moveID.String()+"/reference/")
}

func TestUploadReferenceMissingFile(t *testing.T) {
	h := NewImageHandler(&fakePipeline{})
	c, w := newImageContext(t, http.MethodPost, "/", strings.NewReader(""), "multipart/form-data; boundary=x", uuid.NewString())

	h.UploadReference(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"file"`)
}

func TestUploadReferenceUnknownMove(t *testing.T) {
	h := NewImageHandler(&fakePipeline{})
	body, contentType := newMultipartUpload(t, "ref.png", "image/png", []byte("x"))
	c, w := newImageContext(t, http.MethodPost, "/", body, contentType, "not-a-uuid")

	h.UploadReference(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGenerateMapsPipelineErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"ok", nil, http.StatusOK, ""},
		{"timeout", errcode.GenerationTimedOut("image generation timed out"), http.StatusGatewayTimeout, "generation_timeout"},
		{"limited", errcode.RateLimited("rate limit exceeded"), http.StatusTooManyRequests, "rate_limited"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewImageHandler(&fakePipeline{generateErr: tc.err})
			c, w := newImageContext(t, http.MethodPost, "/", strings.NewReader(`{"referenceUrl":"https://cdn.example.com/a.png"}`), "application/json", uuid.NewString())

			h.Generate(c)

			require.Equal(t, tc.status, w.Code, w.Body.String())
			if tc.kind != "" {
				assert.Contains(t, w.Body.String(), `"kind":"`+tc.kind+`"`)
			} else {
				assert.Contains(t, w.Body.String(), "expiresAt")
			}
		})
	}
}

func TestAcceptRequiresPreviewKey(t *testing.T) {
	pipeline := &fakePipeline{}
	h := NewImageHandler(pipeline)
	moveID := uuid.New()

	c, w := newImageContext(t, http.MethodPost, "/", strings.NewReader(`{}`), "application/json", moveID.String())
	h.Accept(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, pipeline.accepted)

	key := "moves/" + moveID.String() + "/previews/p.png"
	c, w = newImageContext(t, http.MethodPost, "/", strings.NewReader(`{"previewKey":"`+key+`"}`), "application/json", moveID.String())
	h.Accept(c)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, key, pipeline.accepted)
	assert.Contains(t, w.Body.String(), "/image/p.png")
}
