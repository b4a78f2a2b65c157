package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func (a *API) userLeaderboard(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))

	board, err := a.ls.Users(c.Request.Context(), limit, page)
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusOK, "Leaderboard retrieved successfully", board)
}

func (a *API) teamLeaderboard(c *gin.Context) {
	standings, err := a.ls.Teams(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusOK, "Team leaderboard retrieved successfully", gin.H{"leaderboard": standings})
}

func (a *API) teamDetails(c *gin.Context) {
	team, err := a.ls.Team(c.Request.Context(), c.Param("teamId"))
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusOK, "Team details retrieved successfully", team)
}

func (a *API) challengeLeaderboard(c *gin.Context) {
	board, err := a.ls.Challenge(c.Request.Context(), c.Param("challengeId"))
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusOK, "Challenge leaderboard retrieved successfully", board)
}

func (a *API) myRank(c *gin.Context) {
	ranking, err := a.ls.Rank(c.Request.Context(), claimsFrom(c).UID)
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusOK, "User ranking retrieved successfully", ranking)
}
