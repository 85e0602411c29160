// Package authtest 为测试生成一次性的 RSA 密钥与 AuthService。
package authtest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"poletrack/internal/auth"
)

// KeyPair 返回 PEM 编码的私钥与公钥。
func KeyPair(t testing.TB) ([]byte, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	privatePEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pub})
	return privatePEM, publicPEM
}

// NewService 构造访问令牌 15 分钟、刷新令牌 24 小时的 AuthService。
func NewService(t testing.TB) *auth.AuthService {
	t.Helper()
	privatePEM, publicPEM := KeyPair(t)
	svc, err := auth.NewAuthService(privatePEM, publicPEM, 15*time.Minute, 24*time.Hour)
	if err != nil {
		t.Fatalf("new auth service: %v", err)
	}
	return svc
}
