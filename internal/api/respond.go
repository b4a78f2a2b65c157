package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vaultofvirtue/techescape/internal/errors"
)

// envelope is the shape of every API response, success or failure. Message
// is always set.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func respond(c *gin.Context, status int, message string, data any) {
	c.JSON(status, envelope{
		Success: true,
		Message: message,
		Data:    data,
	})
}

func fail(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal || e.Code == errors.CodeUnavailable {
		// Surface the cause to the access log; the client only sees the
		// generic message.
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(e.HTTPStatusCode(), envelope{
		Success: false,
		Message: e.Message,
	})
}

func failStatus(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, envelope{
		Success: false,
		Message: message,
	})
}

func badRequest(c *gin.Context, message string) {
	failStatus(c, http.StatusBadRequest, message)
}
