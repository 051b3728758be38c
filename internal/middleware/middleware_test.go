package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/lightningtalk/backend/internal/models"
)

type tokens map[string]*models.Identity

func (tk tokens) Verify(token string) (*models.Identity, error) {
	if id, ok := tk[token]; ok {
		return id, nil
	}
	return nil, errors.New("bad token")
}

var testTokens = tokens{
	"admin":    {UserID: "u-admin", Role: models.RoleAdmin, Email: "admin@example.com"},
	"audience": {UserID: "u-aud", Role: models.RoleAudience},
}

func serve(r http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func whoami(c *gin.Context) {
	if id := Identity(c); id != nil {
		c.String(http.StatusOK, id.UserID)
		return
	}
	c.String(http.StatusOK, "anonymous")
}

func TestJWT(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", JWT(testTokens), whoami)

	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/me", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/me", map[string]string{"Authorization": "Basic abc"}).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/me", map[string]string{"Authorization": "Bearer nope"}).Code)

	w := serve(r, http.MethodGet, "/me", map[string]string{"Authorization": "Bearer admin"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u-admin", w.Body.String())
}

func TestOptionalJWT(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", OptionalJWT(testTokens), whoami)

	w := serve(r, http.MethodGet, "/me", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "anonymous", w.Body.String())

	w = serve(r, http.MethodGet, "/me", map[string]string{"Authorization": "Bearer audience"})
	assert.Equal(t, "u-aud", w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/me", map[string]string{"Authorization": "Bearer nope"}).Code)
}

func TestRequireRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/admin", JWT(testTokens), RequireRole(models.RoleAdmin), whoami)
	r.GET("/bare", RequireRole(models.RoleAdmin), whoami)

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/admin", map[string]string{"Authorization": "Bearer admin"}).Code)
	assert.Equal(t, http.StatusForbidden, serve(r, http.MethodGet, "/admin", map[string]string{"Authorization": "Bearer audience"}).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/bare", nil).Code)
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)

	open := gin.New()
	open.Use(CORS([]string{"*"}))
	open.GET("/x", whoami)
	w := serve(open, http.MethodGet, "/x", map[string]string{"Origin": "https://a.example"})
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	strict := gin.New()
	strict.Use(CORS([]string{"https://a.example"}))
	strict.GET("/x", whoami)
	w = serve(strict, http.MethodGet, "/x", map[string]string{"Origin": "https://a.example"})
	assert.Equal(t, "https://a.example", w.Header().Get("Access-Control-Allow-Origin"))
	w = serve(strict, http.MethodGet, "/x", map[string]string{"Origin": "https://evil.example"})
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	w = serve(strict, http.MethodOptions, "/x", map[string]string{"Origin": "https://a.example"})
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestLoggerRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Logger(zap.NewNop()), Metrics())
	r.GET("/x", whoami)

	w := serve(r, http.MethodGet, "/x", nil)
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))

	w = serve(r, http.MethodGet, "/x", map[string]string{HeaderRequestID: "req-42"})
	assert.Equal(t, "req-42", w.Header().Get(HeaderRequestID))
}
