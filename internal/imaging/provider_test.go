package imaging

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProviderSubmitPollFetch(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/predictions":
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
			var req predictionRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "style-model", req.Model)
			assert.Equal(t, "a prompt", req.Input.Prompt)
			assert.Equal(t, "https://example.com/ref.png", req.Input.Image)
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"id":"abc","status":"starting"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/predictions/abc":
			_, _ = io.WriteString(w, `{"id":"abc","status":"succeeded","output":["`+server.URL+`/files/out.png"],"error":null}`)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/predictions/single":
			_, _ = io.WriteString(w, `{"id":"single","status":"succeeded","output":"`+server.URL+`/files/out.png"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/predictions/bad":
			_, _ = io.WriteString(w, `{"id":"bad","status":"failed","error":"out of credits"}`)
		case r.URL.Path == "/files/out.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(pngBytes)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	p := NewHTTPProvider(server.URL+"/v1/", "secret", "style-model", server.Client())
	ctx := context.Background()

	id, err := p.Submit(ctx, "a prompt", "https://example.com/ref.png")
	require.NoError(t, err)
	assert.Equal(t, "abc", id)

	status, err := p.Poll(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, JobSucceeded, status.State)
	assert.Equal(t, server.URL+"/files/out.png", status.OutputURL)

	status, err = p.Poll(ctx, "single")
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/files/out.png", status.OutputURL)

	status, err = p.Poll(ctx, "bad")
	require.NoError(t, err)
	assert.Equal(t, JobFailed, status.State)
	assert.Equal(t, "out of credits", status.Error)

	body, contentType, err := p.Fetch(ctx, server.URL+"/files/out.png")
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "image/png", contentType)
	assert.Equal(t, pngBytes, data)
}

func TestHTTPProviderErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/predictions":
			http.Error(w, "quota exceeded", http.StatusPaymentRequired)
		case "/predictions/weird":
			_, _ = io.WriteString(w, `{"id":"weird","status":"exploded"}`)
		case "/predictions/empty":
			_, _ = io.WriteString(w, `{"id":"empty","status":"succeeded","output":[]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	p := NewHTTPProvider(server.URL, "", "", nil)
	ctx := context.Background()

	_, err := p.Submit(ctx, "prompt", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "402")

	_, err = p.Poll(ctx, "weird")
	assert.Error(t, err)

	_, err = p.Poll(ctx, "empty")
	assert.Error(t, err)

	_, _, err = p.Fetch(ctx, server.URL+"/missing.png")
	assert.Error(t, err)
}
