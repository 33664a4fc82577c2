package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestHasCodeWalksChain(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := fmt.Errorf("turn failed: %w", NewCompletionError("completion provider failed", cause))

	assert.True(t, HasCode(err, CodeCompletion))
	assert.False(t, HasCode(err, CodePersistence))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, http.StatusBadGateway, GetStatusCode(err))
	assert.Equal(t, CodeCompletion, GetErrorCode(err))
}

func TestFromErrorWrapsPlainErrors(t *testing.T) {
	appErr := FromError(stderrors.New("boom"))

	assert.Equal(t, http.StatusInternalServerError, appErr.StatusCode)
	assert.Equal(t, "INTERNAL_ERROR", appErr.Code)
	assert.Nil(t, FromError(nil))
}

func TestErrorHandlerRendersJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandler())
	r.GET("/", func(c *gin.Context) {
		_ = c.Error(NewVerificationError("request signature does not match"))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t,
		`{"error":{"code":"VERIFICATION_FAILED","message":"request signature does not match","details":null}}`,
		rec.Body.String())
}

func TestRecoveryWithLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RecoveryWithLogger())
	r.GET("/", func(c *gin.Context) { panic("boom") })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "SERVER_ERROR")
}
