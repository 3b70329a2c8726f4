package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dialer-platform/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndVerifyAccessToken(t *testing.T) {
	m, err := NewManager(config.AuthConfig{JWTSecret: "secret", JWTIssuer: "issuer", JWTAudience: "aud"})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}

	now := time.Unix(1700000000, 0).UTC()
	tok, err := m.Issue(now, "agent-7", "agent", 15*time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := m.Verify(tok, TokenTypeAccess, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "agent-7" || claims.Role != "agent" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	if _, err := m.Verify(tok, TokenTypeAccess, now.Add(time.Hour)); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}

func TestVerifyRejectsWrongTokenType(t *testing.T) {
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret"})
	now := time.Now()
	tok, err := m.Issue(now, "u", "agent", time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(tok, TokenTypeRefresh, now); !errors.Is(err, ErrTokenType) {
		t.Fatalf("expected token_type mismatch, got %v", err)
	}
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret"})
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
		UserID: "u", Role: "admin", TokenType: TokenTypeAccess,
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Verify(tok, TokenTypeAccess, now); err == nil {
		t.Fatalf("expected signature failure")
	}
}

func TestRequireAccessToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret"})

	r := gin.New()
	r.GET("/me", RequireAccessToken(m), func(c *gin.Context) {
		id, err := IdentityFrom(c.Request.Context())
		if err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, id)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	tok, _ := m.Issue(time.Now(), "a1", "agent", time.Minute)
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := w.Body.String(); got != `{"user_id":"a1","role":"agent"}` {
		t.Fatalf("unexpected body %s", got)
	}
}
