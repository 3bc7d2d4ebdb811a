package cors

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func request(origins []string, method, origin string, preflight bool) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(New(origins))
	r.GET("/versions", func(c *gin.Context) { c.Status(http.StatusOK) })
	req := httptest.NewRequest(method, "/versions", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	if preflight {
		req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestConfiguredOriginsAllowCredentials(t *testing.T) {
	origins := []string{"https://console.example.com/"}

	w := request(origins, http.MethodGet, "https://console.example.com", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://console.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "Digest")

	w = request(origins, http.MethodGet, "https://evil.example.com", false)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	w = request(origins, http.MethodOptions, "https://evil.example.com", true)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestWildcardNeverAllowsCredentials(t *testing.T) {
	w := request(nil, http.MethodOptions, "https://any.example.com", true)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
}
