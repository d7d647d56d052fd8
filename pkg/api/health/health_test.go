package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/LambdaTest/flakewatch/pkg/lumber"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func get(h gin.HandlerFunc) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", h)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	return w
}

func TestHandlerFailsAfterShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	assert.Equal(t, http.StatusOK, get(Handler(ctx)).Code)
	cancel()
	assert.Equal(t, http.StatusInternalServerError, get(Handler(ctx)).Code)
}

func TestReadyHandler(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }
	logger := lumber.NewNoop()

	w := get(ReadyHandler(context.Background(), map[string]Check{"mysql": ok, "redis": ok}, logger))
	assert.Equal(t, http.StatusOK, w.Code)

	w = get(ReadyHandler(context.Background(), map[string]Check{"mysql": ok, "redis": down}, logger))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
	assert.NotContains(t, w.Body.String(), "mysql")
}
