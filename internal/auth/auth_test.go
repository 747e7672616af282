package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	tok, err := NewToken("secret", 42, 5)
	require.NoError(t, err)

	claims, err := ParseToken("secret", tok)
	require.NoError(t, err)
	require.Equal(t, int64(42), claims.UserID)

	_, err = ParseToken("other", tok)
	require.Error(t, err)
}

func TestExpiredToken(t *testing.T) {
	tok, err := NewToken("secret", 42, -1)
	require.NoError(t, err)
	_, err = ParseToken("secret", tok)
	require.Error(t, err)
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	require.True(t, CheckPassword(hash, "hunter2"))
	require.False(t, CheckPassword(hash, "hunter3"))
	require.False(t, CheckPassword("", ""))
}

func TestJWTMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", JWTMiddleware("secret"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": MustUserID(c)})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	tok, err := NewToken("secret", 7, 5)
	require.NoError(t, err)
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"id":7}`, w.Body.String())
}
