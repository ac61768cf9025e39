package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/college-events-api/pkg/config"
	"github.com/noah-isme/college-events-api/pkg/middleware/requestid"
)

func TestGinMiddlewareFields(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)

	r := gin.New()
	r.Use(requestid.Middleware())
	r.Use(GinMiddleware(zap.New(core), func(c *gin.Context) []zap.Field {
		return []zap.Field{zap.String("college_id", c.GetString("college"))}
	}))
	r.GET("/events/:id", func(c *gin.Context) {
		c.Set("college", "college-1")
		c.Status(http.StatusConflict)
	})

	req := httptest.NewRequest(http.MethodGet, "/events/e-1", nil)
	req.Header.Set("X-Request-ID", "req-1")
	r.ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	fields := entry.ContextMap()
	assert.Equal(t, "/events/:id", fields["route"])
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "college-1", fields["college_id"])
	assert.Equal(t, int64(http.StatusConflict), fields["status"])
}

func TestNewHonoursFormatAndLevel(t *testing.T) {
	l, err := New(&config.Config{Env: config.EnvProduction, Log: config.LogConfig{Level: "warn", Format: "console"}})
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))
}
