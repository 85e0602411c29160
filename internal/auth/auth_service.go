package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer 写入并校验每个令牌的 iss。
const Issuer = "poletrack"

// 令牌类型，写入 TokenClaims.TokenType。
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

const clockLeeway = 30 * time.Second

// ErrWrongTokenType 表示签名有效但用途不符，例如用刷新令牌访问接口。
var ErrWrongTokenType = errors.New("wrong token type")

// AuthService 负责 JWT 生成与校验，使用 RS256 签名。
type AuthService struct {
	privateKey      *rsa.PrivateKey
	publicKey       *rsa.PublicKey
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
	now             func() time.Time
	parser          *jwt.Parser
}

// TokenPair 封装访问令牌与刷新令牌。
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// TokenClaims 携带 userID 与令牌用途；每个令牌都有唯一 jti，刷新令牌据此吊销。
type TokenClaims struct {
	UserID    uuid.UUID `json:"uid"`
	TokenType string    `json:"typ"`
	jwt.RegisteredClaims
}

type ServiceOption func(*AuthService)

// WithNow 替换签发与校验使用的时钟。
func WithNow(now func() time.Time) ServiceOption {
	return func(s *AuthService) { s.now = now }
}

// NewAuthService 解析 PEM 密钥并构造服务实例。
func NewAuthService(privateKeyPEM, publicKeyPEM []byte, accessTTL, refreshTTL time.Duration, opts ...ServiceOption) (*AuthService, error) {
	if len(privateKeyPEM) == 0 {
		return nil, errors.New("private key pem is required")
	}
	if len(publicKeyPEM) == 0 {
		return nil, errors.New("public key pem is required")
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, errors.New("token ttl must be positive")
	}

	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse rsa private key: %w", err)
	}
	publicKey, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse rsa public key: %w", err)
	}

	s := &AuthService{
		privateKey:      privateKey,
		publicKey:       publicKey,
		accessTokenTTL:  accessTTL,
		refreshTokenTTL: refreshTTL,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockLeeway),
		jwt.WithTimeFunc(s.now),
	)
	return s, nil
}

// GenerateTokenPair 创建访问令牌与刷新令牌。
func (s *AuthService) GenerateTokenPair(userID uuid.UUID) (TokenPair, error) {
	if userID == uuid.Nil {
		return TokenPair{}, errors.New("user id is required")
	}
	now := s.now()

	accessToken, err := s.issue(userID, TokenTypeAccess, now, s.accessTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refreshToken, err := s.issue(userID, TokenTypeRefresh, now, s.refreshTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

func (s *AuthService) issue(userID uuid.UUID, tokenType string, now time.Time, ttl time.Duration) (string, error) {
	claims := TokenClaims{
		UserID:    userID,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   userID.String(),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", tokenType, err)
	}
	return signed, nil
}

// ValidateToken 校验签名、签发方与有效期，返回 claims。
func (s *AuthService) ValidateToken(tokenString string) (*TokenClaims, error) {
	if tokenString == "" {
		return nil, errors.New("token string is empty")
	}

	claims := &TokenClaims{}
	if _, err := s.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return s.publicKey, nil
	}); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if claims.UserID == uuid.Nil || claims.Subject != claims.UserID.String() {
		return nil, errors.New("token subject mismatch")
	}
	return claims, nil
}

// ValidateTokenType 在 ValidateToken 的基础上要求令牌用途一致。
func (s *AuthService) ValidateTokenType(tokenString, want string) (*TokenClaims, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != want {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrWrongTokenType, claims.TokenType, want)
	}
	return claims, nil
}

func (s *AuthService) AccessTokenTTL() time.Duration  { return s.accessTokenTTL }
func (s *AuthService) RefreshTokenTTL() time.Duration { return s.refreshTokenTTL }
