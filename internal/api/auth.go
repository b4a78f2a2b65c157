package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vaultofvirtue/techescape/internal/auth"
)

func (a *API) register(c *gin.Context) {
	var req auth.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request payload")
		return
	}

	resp, err := a.as.Register(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusCreated, "Registration successful", resp)
}

func (a *API) login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		TeamName string `json:"teamName"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request payload")
		return
	}

	resp, err := a.as.Login(c.Request.Context(), req.Email, req.TeamName)
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusOK, "Login successful", resp)
}

func (a *API) adminLogin(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request payload")
		return
	}

	resp, err := a.as.AdminLogin(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusOK, "Admin login successful", resp)
}

func (a *API) me(c *gin.Context) {
	u, err := a.currentUser(c)
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusOK, "User retrieved", u)
}

func (a *API) tabSwitch(c *gin.Context) {
	u, err := a.currentUser(c)
	if err != nil {
		fail(c, err)
		return
	}

	res, err := a.qss.RecordSwitch(c.Request.Context(), u)
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusOK, "Tab switch recorded", gin.H{
		"tabSwitchCount":      res.Count,
		"isSessionTerminated": res.Disqualified,
	})
}
