package talks

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/lightningtalk/backend/internal/models"
)

type fakeReader map[string]*models.Talk

func (f fakeReader) GetByID(_ context.Context, id string) (*models.Talk, error) {
	if id == "broken" {
		return nil, errors.New("connection reset")
	}
	t, ok := f[id]
	if !ok {
		return nil, ErrTalkNotFound
	}
	return t, nil
}

func TestHandlerGet(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHandler(fakeReader{"T": {ID: "T", Title: "Go in prod", AverageRating: 4.5, TotalVotes: 12}}, zap.NewNop())
	r := gin.New()
	r.GET("/api/talks/:talkId", h.Get)

	cases := []struct {
		path   string
		status int
		body   string
	}{
		{"/api/talks/T", http.StatusOK, `"total_votes":12`},
		{"/api/talks/missing", http.StatusNotFound, "talk not found"},
		{"/api/talks/broken", http.StatusInternalServerError, "failed to load talk"},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.path, nil))
		assert.Equal(t, tc.status, w.Code, tc.path)
		assert.Contains(t, w.Body.String(), tc.body, tc.path)
	}
}
