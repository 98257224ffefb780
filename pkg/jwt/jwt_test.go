package jwt

import (
	"testing"
	"time"
)

func TestGenerateAndValidate(t *testing.T) {
	token, err := GenerateToken("admin", "admin", AccessToken, "secret", time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := ValidateToken(token, "secret")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Username != "admin" || claims.Subject != "admin" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if !IsTokenValid(token, "secret", AccessToken) {
		t.Fatal("expected access token to be valid")
	}
	if IsTokenValid(token, "secret", WorkerToken) {
		t.Fatal("access token must not validate as worker token")
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	token, err := GenerateToken("admin", "admin", AccessToken, "secret", time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := ValidateToken(token, "other"); err == nil {
		t.Fatal("expected signature error")
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	token, err := GenerateToken("admin", "admin", AccessToken, "secret", -time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := ValidateToken(token, "secret"); err == nil {
		t.Fatal("expected expiry error")
	}
}
