package middleware

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const secret = "middleware-test-secret"

func sign(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func claims(uid string, perms []string) jwt.MapClaims {
	return jwt.MapClaims{
		"uid":   uid,
		"perms": perms,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Recovery(zap.NewNop()), RequestID())
	auth := r.Group("/", JWTAuth(secret))
	auth.GET("/me", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("user_id"))
	})
	auth.GET("/bulk", RequirePermission("vsir:bulk"), func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})
	return r
}

func do(r *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuth(t *testing.T) {
	r := newRouter()

	if w := do(r, "/me", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: expected 401, got %d", w.Code)
	}
	if w := do(r, "/me", "garbage"); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: expected 401, got %d", w.Code)
	}
	wrongKey := sign(t, jwt.SigningMethodHS256, []byte("other"), claims("u1", nil))
	if w := do(r, "/me", wrongKey); w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key: expected 401, got %d", w.Code)
	}
	noUser := sign(t, jwt.SigningMethodHS256, []byte(secret), claims("", nil))
	if w := do(r, "/me", noUser); w.Code != http.StatusUnauthorized {
		t.Fatalf("empty uid: expected 401, got %d", w.Code)
	}

	good := sign(t, jwt.SigningMethodHS256, []byte(secret), claims("u1", nil))
	w := do(r, "/me", good)
	if w.Code != http.StatusOK || w.Body.String() != "u1" {
		t.Fatalf("expected u1, got %d %q", w.Code, w.Body.String())
	}
	if w := do(r, "/me?token="+good, ""); w.Code != http.StatusOK {
		t.Fatalf("query token: expected 200, got %d", w.Code)
	}
}

func TestRequirePermission(t *testing.T) {
	r := newRouter()
	cases := []struct {
		perms []string
		want  int
	}{
		{nil, http.StatusForbidden},
		{[]string{"vsir:read"}, http.StatusForbidden},
		{[]string{"vsir:bulk"}, http.StatusOK},
		{[]string{"*"}, http.StatusOK},
	}
	for _, tc := range cases {
		tok := sign(t, jwt.SigningMethodHS256, []byte(secret), claims("u1", tc.perms))
		if w := do(r, "/bulk", tok); w.Code != tc.want {
			t.Errorf("perms %v: expected %d, got %d", tc.perms, tc.want, w.Code)
		}
	}
}

func TestRecovery(t *testing.T) {
	r := newRouter()
	w := do(r, "/panic", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestRedactQuery(t *testing.T) {
	q := url.Values{"token": {"abc"}, "refresh": {"true"}}
	got := redactQuery(q)
	if strings.Contains(got, "abc") || !strings.Contains(got, "refresh=true") {
		t.Fatalf("unexpected query %q", got)
	}
}
