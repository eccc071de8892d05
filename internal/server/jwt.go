package server

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"

	"github.com/jonathan/commute-matcher/internal/server/middleware"
)

// Claims carries the tenant a bearer token was issued for.
type Claims struct {
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

// GetTenantID returns the tenant ID from the claims.
// This implements the middleware.TenantGetter interface.
func (c *Claims) GetTenantID() string {
	return c.TenantID
}

// TokenService validates tenant tokens issued by the authentication
// subsystem. GenerateToken exists for operators and tests.
type TokenService struct {
	secret     []byte
	expiration time.Duration
}

// NewTokenService creates a token service signing with an HMAC secret.
func NewTokenService(secret string, expiration time.Duration) *TokenService {
	if expiration <= 0 {
		expiration = 24 * time.Hour
	}
	return &TokenService{secret: []byte(secret), expiration: expiration}
}

// AsTokenValidator returns a middleware.TokenValidator adapter for this service.
func (s *TokenService) AsTokenValidator() middleware.TokenValidator {
	return tokenValidator{service: s}
}

type tokenValidator struct {
	service *TokenService
}

func (v tokenValidator) ValidateToken(tokenString string) (middleware.TenantGetter, error) {
	claims, err := v.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// GenerateToken signs a token for tenantID.
func (s *TokenService) GenerateToken(tenantID string) (string, error) {
	if tenantID == "" {
		return "", errors.New("tenant ID is empty")
	}

	now := time.Now()
	claims := &Claims{
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign token")
	}
	return signed, nil
}

// ValidateToken validates a token and returns its claims.
func (s *TokenService) ValidateToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New("token string is empty")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Newf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, errors.Wrap(err, "invalid token signature")
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, errors.Wrap(err, "token expired")
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, errors.Wrap(err, "malformed token")
		}
		return nil, errors.Wrap(err, "failed to parse token")
	}
	if !token.Valid {
		return nil, errors.New("token is not valid")
	}
	if claims.TenantID == "" {
		return nil, errors.New("token has no tenant_id claim")
	}
	return claims, nil
}
