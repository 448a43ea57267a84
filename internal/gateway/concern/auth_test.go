package concern

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tracdap/platform-gateway/internal/apperror"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return signed
}

func TestJWTValidator_ValidToken(t *testing.T) {
	v := NewHMACValidator("super-secret", "tracdap-gateway", "gateway-clients", []string{"HS256"})

	tok := signToken(t, "super-secret", jwt.MapClaims{
		"sub": "user-1",
		"iss": "tracdap-gateway",
		"aud": []string{"gateway-clients"},
		"exp": time.Now().Add(time.Hour).Unix(),
		"scope": "jobs:read jobs:write",
	})

	claims, err := v.Validate(nil, tok) //nolint:staticcheck // context unused by this validator path
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Errorf("Subject = %q, want user-1", claims.Subject)
	}
	if len(claims.Scopes) != 2 {
		t.Errorf("Scopes = %v, want 2 entries", claims.Scopes)
	}
}

func TestJWTValidator_WrongIssuerRejected(t *testing.T) {
	v := NewHMACValidator("super-secret", "tracdap-gateway", "", []string{"HS256"})

	tok := signToken(t, "super-secret", jwt.MapClaims{
		"sub": "user-1",
		"iss": "someone-else",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := v.Validate(nil, tok)
	if apperror.Code(err) != apperror.CodeUnauthenticated {
		t.Errorf("error code = %v, want CodeUnauthenticated", apperror.Code(err))
	}
}

func TestJWTValidator_ExpiredTokenRejected(t *testing.T) {
	v := NewHMACValidator("super-secret", "", "", []string{"HS256"})

	tok := signToken(t, "super-secret", jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	_, err := v.Validate(nil, tok)
	if apperror.Code(err) != apperror.CodeUnauthenticated {
		t.Errorf("error code = %v, want CodeUnauthenticated", apperror.Code(err))
	}
}

func TestJWTValidator_WrongSecretRejected(t *testing.T) {
	v := NewHMACValidator("super-secret", "", "", []string{"HS256"})

	tok := signToken(t, "wrong-secret", jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := v.Validate(nil, tok)
	if apperror.Code(err) != apperror.CodeUnauthenticated {
		t.Errorf("error code = %v, want CodeUnauthenticated", apperror.Code(err))
	}
}
