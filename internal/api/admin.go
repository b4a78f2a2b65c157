package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func (a *API) securityLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	logs, err := a.sl.FormattedTail(c.Request.Context(), limit)
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusOK, "Security logs retrieved", gin.H{"logs": logs})
}

func (a *API) listUsers(c *gin.Context) {
	users, err := a.as.Users(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusOK, "Users retrieved", gin.H{"users": users})
}

func (a *API) promote(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" {
		badRequest(c, "Email is required")
		return
	}

	if err := a.as.Promote(c.Request.Context(), req.Email); err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusOK, fmt.Sprintf("User with email %s promoted to admin", req.Email), nil)
}
