package auth

import (
	"testing"
	"time"

	"hooksync/internal/platform/config"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewTokenService(config.JWTConfig{Secret: "s3cret", AccessTokenTTL: time.Hour})

	token, err := svc.GenerateToken("alice", RoleOperator, 0)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.Subject != "alice" || claims.Role != RoleOperator {
		t.Errorf("claims = %+v", claims)
	}
}

func TestValidateToken_Rejects(t *testing.T) {
	svc := NewTokenService(config.JWTConfig{Secret: "s3cret", AccessTokenTTL: time.Hour})
	other := NewTokenService(config.JWTConfig{Secret: "different", AccessTokenTTL: time.Hour})

	foreign, _ := other.GenerateToken("mallory", RoleOperator, 0)
	expired, _ := svc.GenerateToken("alice", RoleOperator, time.Minute)
	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	tests := []struct {
		name  string
		token string
	}{
		{"wrong secret", foreign},
		{"expired", expired},
		{"garbage", "not.a.token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.ValidateToken(tt.token); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	if _, err := NewTokenService(config.JWTConfig{}).GenerateToken("x", RoleOperator, 0); err == nil {
		t.Error("expected error without a secret")
	}
}
