package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		name   string
		write  func(c *gin.Context)
		status int
		want   Body
	}{
		{"ok", func(c *gin.Context) { OK(c, "x") }, http.StatusOK, Body{Success: true, Data: "x"}},
		{"created", func(c *gin.Context) { Created(c, "x") }, http.StatusCreated, Body{Success: true, Data: "x"}},
		{"coded error", func(c *gin.Context) { Error(c, http.StatusConflict, "already_voted", "dup") }, http.StatusConflict, Body{Error: "dup", Code: "already_voted"}},
		{"not found", func(c *gin.Context) { NotFound(c, "gone") }, http.StatusNotFound, Body{Error: "gone"}},
		{"internal", func(c *gin.Context) { Internal(c, "boom") }, http.StatusInternalServerError, Body{Error: "boom"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			tc.write(c)
			assert.Equal(t, tc.status, w.Code)
			var got Body
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
			assert.Equal(t, tc.want, got)
		})
	}
}
