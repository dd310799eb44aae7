package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"hooksync/internal/platform/config"
)

// RoleOperator may replay and quarantine events.
const RoleOperator = "operator"

const issuer = "hooksync"

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type TokenService struct {
	config config.JWTConfig
	now    func() time.Time
}

func NewTokenService(cfg config.JWTConfig) *TokenService {
	return &TokenService{config: cfg, now: time.Now}
}

// GenerateToken mints a bearer token for subject. A ttl of zero uses the
// configured access token lifetime.
func (s *TokenService) GenerateToken(subject, role string, ttl time.Duration) (string, error) {
	if s.config.Secret == "" {
		return "", errors.New("jwt secret is not configured")
	}
	if ttl <= 0 {
		ttl = s.config.AccessTokenTTL
	}
	now := s.now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.Secret))
}

func (s *TokenService) ValidateToken(tokenString string) (*Claims, error) {
	if s.config.Secret == "" {
		return nil, ErrInvalidToken
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.config.Secret), nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(s.now))

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}
