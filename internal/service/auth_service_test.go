package service

import (
	"testing"
	"time"

	"github.com/stemsi/exstem-guard/internal/config"
)

func TestAdminTokenRoundTrip(t *testing.T) {
	svc := NewAuthService(&config.Config{JWTSecret: "secret", JWTExpiry: time.Hour}, nil)

	token, err := svc.GenerateAdminToken(7, 2, []string{"exams:regrade"})
	if err != nil {
		t.Fatalf("GenerateAdminToken: %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.TokenType != TokenTypeAdmin || claims.UserID != 7 || claims.RoleID != 2 {
		t.Errorf("claims = %+v", claims)
	}
	if len(claims.Permissions) != 1 || claims.Permissions[0] != "exams:regrade" {
		t.Errorf("permissions = %v", claims.Permissions)
	}
}

func TestValidateTokenRejectsForeignSecret(t *testing.T) {
	issuer := NewAuthService(&config.Config{JWTSecret: "one", JWTExpiry: time.Hour}, nil)
	verifier := NewAuthService(&config.Config{JWTSecret: "two", JWTExpiry: time.Hour}, nil)

	token, err := issuer.GenerateAdminToken(1, 1, nil)
	if err != nil {
		t.Fatalf("GenerateAdminToken: %v", err)
	}
	if _, err := verifier.ValidateToken(token); err == nil {
		t.Fatal("token signed with another secret was accepted")
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	svc := NewAuthService(&config.Config{JWTSecret: "secret", JWTExpiry: -time.Minute}, nil)

	token, err := svc.GenerateAdminToken(1, 1, nil)
	if err != nil {
		t.Fatalf("GenerateAdminToken: %v", err)
	}
	if _, err := svc.ValidateToken(token); err == nil {
		t.Fatal("expired token was accepted")
	}
}
