package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vaultofvirtue/techescape/internal/auth"
	"github.com/vaultofvirtue/techescape/internal/domain"
)

const (
	ctxClaims = "api.claims"
	ctxUser   = "api.user"
)

// Authenticate verifies the bearer token and stores the claims for
// downstream handlers.
func (a *API) Authenticate(c *gin.Context) {
	h := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || token == "" {
		failStatus(c, http.StatusUnauthorized, "Authorization token required")
		return
	}

	claims, err := a.as.Verify(token)
	if err != nil {
		fail(c, err)
		return
	}

	c.Set(ctxClaims, claims)
	c.Next()
}

func (a *API) RequireAdmin(c *gin.Context) {
	if !claimsFrom(c).IsAdmin {
		failStatus(c, http.StatusForbidden, "Admin access required")
		return
	}
	c.Next()
}

// RequireSession gates challenge content behind an active challenge
// session. Admins bypass the clock entirely.
func (a *API) RequireSession(c *gin.Context) {
	claims := claimsFrom(c)
	if claims.IsAdmin {
		c.Next()
		return
	}

	u, err := a.as.CurrentUser(c.Request.Context(), claims.UID)
	if err != nil {
		fail(c, err)
		return
	}

	if u.SessionExpiry == nil {
		badRequest(c, "Challenge session not started")
		return
	}
	if a.qss.IsExpired(u) {
		failStatus(c, http.StatusForbidden, "Challenge session has expired")
		return
	}

	c.Set(ctxUser, u)
	c.Next()
}

func claimsFrom(c *gin.Context) auth.Claims {
	claims, _ := c.Get(ctxClaims)
	cl, _ := claims.(auth.Claims)
	return cl
}

// currentUser loads the authenticated user, reusing the record cached by
// RequireSession when present.
func (a *API) currentUser(c *gin.Context) (*domain.User, error) {
	if v, ok := c.Get(ctxUser); ok {
		if u, ok := v.(*domain.User); ok {
			return u, nil
		}
	}
	return a.as.CurrentUser(c.Request.Context(), claimsFrom(c).UID)
}
