package auth

import (
	"testing"
	"time"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	token, err := NewAccessToken("test-secret", "test-issuer", time.Minute, Claims{
		UserID:   "staff-1",
		UserType: "teacher",
		SchoolID: 8,
	})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	claims, err := ParseToken("test-secret", token)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if claims.UserID != "staff-1" || claims.UserType != "teacher" || claims.SchoolID != 8 {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	token, err := NewAccessToken("test-secret", "test-issuer", time.Minute, Claims{UserID: "staff-1"})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	if _, err := ParseToken("other-secret", token); err == nil {
		t.Fatalf("expected wrong secret to fail")
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	token, err := NewAccessToken("test-secret", "test-issuer", -time.Minute, Claims{UserID: "staff-1"})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	if _, err := ParseToken("test-secret", token); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}
