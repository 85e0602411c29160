package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
)

func TestObjectURLRoundTrip(t *testing.T) {
	c := &Client{bucketName: "moves", publicBase: "https://cdn.example.com/moves"}

	url := c.ObjectURL("moves/abc/image/x.png")
	assert.Equal(t, "https://cdn.example.com/moves/moves/abc/image/x.png", url)

	key, ok := c.KeyFromURL(url + "?X-Amz-Signature=abc")
	assert.True(t, ok)
	assert.Equal(t, "moves/abc/image/x.png", key)

	_, ok = c.KeyFromURL("https://elsewhere.example.com/moves/x.png")
	assert.False(t, ok)
}

func TestIsNoSuchKey(t *testing.T) {
	assert.False(t, IsNoSuchKey(nil))
	assert.True(t, IsNoSuchKey(fmt.Errorf("copy: %w", minio.ErrorResponse{Code: "NoSuchKey"})))
	assert.True(t, IsNoSuchKey(errors.New("The specified key does not exist.")))
	assert.False(t, IsNoSuchKey(errors.New("connection refused")))
}
