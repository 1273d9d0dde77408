package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGenerateAndValidateToken(t *testing.T) {
	Initialize("test-secret", true)
	t.Cleanup(func() { Initialize("", false) })

	token, err := GenerateToken("alice", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	claims, err := ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.Subject != "alice" {
		t.Errorf("expected subject alice, got %q", claims.Subject)
	}
}

func TestValidateTokenRejectsBadInput(t *testing.T) {
	Initialize("test-secret", true)
	t.Cleanup(func() { Initialize("", false) })

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ValidateToken(tt.token); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestValidateTokenWrongSecret(t *testing.T) {
	Initialize("first-secret", true)
	token, err := GenerateToken("alice", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	Initialize("second-secret", true)
	t.Cleanup(func() { Initialize("", false) })

	if _, err := ValidateToken(token); err == nil {
		t.Error("expected signature validation to fail")
	}
}

func TestValidateTokenExpired(t *testing.T) {
	Initialize("test-secret", true)
	t.Cleanup(func() { Initialize("", false) })

	token, err := GenerateToken("alice", -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if _, err := ValidateToken(token); err == nil {
		t.Error("expected expired token to be rejected")
	}
}

func TestOptionalAuthMiddleware(t *testing.T) {
	next := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }

	t.Run("disabled passes through", func(t *testing.T) {
		Initialize("", false)
		rec := httptest.NewRecorder()
		OptionalAuthMiddleware(next)(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("enabled without token", func(t *testing.T) {
		Initialize("test-secret", true)
		t.Cleanup(func() { Initialize("", false) })

		rec := httptest.NewRecorder()
		OptionalAuthMiddleware(next)(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("enabled with valid token", func(t *testing.T) {
		Initialize("test-secret", true)
		t.Cleanup(func() { Initialize("", false) })

		token, err := GenerateToken("alice", time.Hour)
		if err != nil {
			t.Fatalf("GenerateToken failed: %v", err)
		}

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		handlerRan := false
		OptionalAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
			handlerRan = true
			if r.Context().Value(ClaimsContextKey) == nil {
				t.Error("expected claims in request context")
			}
			w.WriteHeader(http.StatusOK)
		})(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
		if !handlerRan {
			t.Error("expected handler to run")
		}
	})
}
