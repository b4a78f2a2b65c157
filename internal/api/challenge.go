package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vaultofvirtue/techescape/internal/score"
)

func (a *API) listChallenges(c *gin.Context) {
	list, err := a.cs.List(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusOK, "Challenges retrieved", list)
}

func (a *API) getChallenge(c *gin.Context) {
	ch, err := a.cs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusOK, "Challenge retrieved", ch)
}

func (a *API) hint(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		badRequest(c, "Invalid hint index")
		return
	}

	hint, err := a.cs.Hint(c.Request.Context(), claimsFrom(c).UID, c.Param("id"), index)
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusOK, "Hint retrieved", gin.H{"hint": hint})
}

func (a *API) completedChallenges(c *gin.Context) {
	ids, err := a.cs.Completed(c.Request.Context(), claimsFrom(c).UID)
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusOK, "Completed challenges retrieved", gin.H{"completedChallenges": ids})
}

func (a *API) progress(c *gin.Context) {
	p, err := a.cs.Progress(c.Request.Context(), claimsFrom(c).UID)
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusOK, "User progress retrieved", p)
}

func (a *API) submit(c *gin.Context) {
	var req struct {
		ChallengeID string `json:"challengeId"`
		Solution    string `json:"solution"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request payload")
		return
	}

	resp, err := a.ss.Submit(c.Request.Context(), score.SubmitRequest{
		UserID:      claimsFrom(c).UID,
		ChallengeID: req.ChallengeID,
		Solution:    req.Solution,
	})
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusOK, "Challenge completed successfully", resp)
}
