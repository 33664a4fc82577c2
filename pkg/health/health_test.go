package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"smile-ai/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func ok(context.Context) error   { return nil }
func down(context.Context) error { return errors.New("connection refused") }

func serveReady(c *Checker) *httptest.ResponseRecorder {
	r := gin.New()
	r.GET("/health/ready", c.ReadinessHandler())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	return rec
}

func TestReadyWhenDependenciesUp(t *testing.T) {
	c := NewChecker(logger.Discard(), time.Second)
	c.RegisterDatabaseCheck(ok)
	c.RegisterCacheCheck(ok)

	rec := serveReady(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Status     string      `json:"status"`
		Components []Component `json:"components"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	require.Len(t, body.Components, 2)
	assert.Equal(t, "cache", body.Components[0].Name)
	assert.Equal(t, StatusUp, body.Components[1].Status)
}

func TestNotReadyWhenDatabaseDown(t *testing.T) {
	c := NewChecker(logger.Discard(), time.Second)
	c.RegisterDatabaseCheck(down)

	rec := serveReady(c)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestCacheOutageOnlyDegrades(t *testing.T) {
	c := NewChecker(logger.Discard(), time.Second)
	c.RegisterDatabaseCheck(ok)
	c.RegisterCacheCheck(down)

	c.RunChecks(context.Background())

	assert.True(t, c.IsHealthy())
	comps := c.Components()
	assert.Equal(t, StatusDegraded, comps[0].Status)
}

func TestChecksAreBoundedByTimeout(t *testing.T) {
	c := NewChecker(logger.Discard(), 10*time.Millisecond)
	c.RegisterDatabaseCheck(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	c.RunChecks(context.Background())

	assert.False(t, c.IsHealthy())
}

func TestLivenessHandler(t *testing.T) {
	r := gin.New()
	r.GET("/health", LivenessHandler("SMILE AI"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","service":"SMILE AI"}`, rec.Body.String())
}
