package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const secret = "jwt-test-secret"

func newRouter(logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger(logger))
	r.GET("/me", JWTAuthMiddleware(secret), func(c *gin.Context) {
		c.String(http.StatusOK, BusinessID(c))
	})
	return r
}

func get(r http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuth(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := newRouter(zap.New(core))

	token, err := GenerateJWT(secret, "biz-1", time.Hour*24)
	require.NoError(t, err)
	w := get(r, token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "biz-1", w.Body.String())
	assert.Empty(t, w.Header().Get("Authorization"))
	assert.Equal(t, 1, logs.FilterMessage("request").Len())
}

func TestJWTAuthRefreshesNearExpiry(t *testing.T) {
	r := newRouter(zap.NewNop())
	token, err := GenerateJWT(secret, "biz-1", 10*time.Minute)
	require.NoError(t, err)

	w := get(r, token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("Authorization"))
}

func TestJWTAuthRejects(t *testing.T) {
	r := newRouter(zap.NewNop())

	wrongKey, err := GenerateJWT("other", "biz-1", time.Hour)
	require.NoError(t, err)
	// GenerateJWT treats ttl<=0 as the default ttl
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		BusinessID:       "biz-1",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))},
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	noBusiness, err := GenerateJWT(secret, "", time.Hour)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"missing":     "",
		"garbage":     "not-a-jwt",
		"wrong key":   wrongKey,
		"expired":     expired,
		"no business": noBusiness,
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, http.StatusUnauthorized, get(r, token).Code)
		})
	}
}
