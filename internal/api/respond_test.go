package api

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/vaultofvirtue/techescape/internal/errors"
	"github.com/vaultofvirtue/techescape/internal/telemetry"
)

// Internal causes must reach the server log while the client only ever sees
// the generic message.
func TestFail_LogsInternalCause(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	e := gin.New()
	e.Use(telemetry.HTTPServerLogger(logger))
	e.GET("/boom", func(c *gin.Context) {
		fail(c, errors.Internal(fmt.Errorf("completions without a team row for user u1")))
	})
	e.GET("/missing", func(c *gin.Context) {
		fail(c, errors.New(errors.CodeNotFound))
	})

	w := httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Contains(t, w.Body.String(), "Server error")
	require.NotContains(t, w.Body.String(), "completions without a team row")

	logged := buf.String()
	require.Contains(t, logged, "level=ERROR")
	require.Contains(t, logged, "route=/boom")
	require.Contains(t, logged, "completions without a team row for user u1")

	// Client-level failures log at info without an error attribute.
	buf.Reset()
	w = httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))

	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, buf.String(), "level=INFO")
	require.NotContains(t, buf.String(), "error=")
}
