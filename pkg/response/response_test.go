package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/release-distribution-api/pkg/errors"
	"github.com/noah-isme/release-distribution-api/pkg/middleware/requestid"
)

func TestErrorCarriesStateDetailsAndRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(requestid.Middleware())
	r.POST("/rollbacks/:id/execute", func(c *gin.Context) {
		Error(c, appErrors.StateError(appErrors.ErrNotApproved, "plan is not approved", "pending"))
	})

	req := httptest.NewRequest(http.MethodPost, "/rollbacks/p-1/execute", nil)
	req.Header.Set("X-Request-ID", "req-7")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	var body struct {
		Error struct {
			Code    string                 `json:"code"`
			Details map[string]interface{} `json:"details"`
		} `json:"error"`
		Meta map[string]interface{} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, appErrors.ErrNotApproved.Code, body.Error.Code)
	assert.Equal(t, "pending", body.Error.Details["currentStatus"])
	assert.Equal(t, "req-7", body.Meta["requestId"])
}

func TestJSONWrapsPagination(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	JSON(c, http.StatusOK, []string{"1.0.0"}, nil, map[string]interface{}{"count": 1})

	assert.JSONEq(t, `{"data":["1.0.0"],"meta":{"count":1}}`, w.Body.String())
}
