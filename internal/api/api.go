// Package api is the HTTP surface: gin handlers over the service layer,
// a uniform response envelope, and the redis pubsub bridge that pushes
// leaderboard and disqualification notifications to connected clients.
package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/vaultofvirtue/techescape/internal/auth"
	"github.com/vaultofvirtue/techescape/internal/challenge"
	"github.com/vaultofvirtue/techescape/internal/domain"
	"github.com/vaultofvirtue/techescape/internal/event"
	"github.com/vaultofvirtue/techescape/internal/leaderboard"
	"github.com/vaultofvirtue/techescape/internal/score"
	"github.com/vaultofvirtue/techescape/internal/seclog"
	"github.com/vaultofvirtue/techescape/internal/session"
)

type Config struct {
	Router       gin.IRouter
	EventBus     *event.Bus
	Auth         *auth.Service
	Session      *session.Service
	Score        *score.Service
	Challenge    *challenge.Service
	Leaderboard  *leaderboard.Service
	SecurityLog  *seclog.Service
	Redis        Redis
	PubsubPrefix string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	as  *auth.Service
	qss *session.Service
	ss  *score.Service
	cs  *challenge.Service
	ls  *leaderboard.Service
	sl  *seclog.Service

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		as:     c.Auth,
		qss:    c.Session,
		ss:     c.Score,
		cs:     c.Challenge,
		ls:     c.Leaderboard,
		sl:     c.SecurityLog,
		redis:  c.Redis,
		prefix: c.PubsubPrefix,
	}

	a.mount(c.Router)

	// Register event handlers
	c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
	})
	c.EventBus.Subscribe(domain.EventNameSessionDisqualified, func(ctx context.Context, e event.Event) error {
		return a.PublishSessionDisqualified(ctx, e.(domain.EventSessionDisqualified))
	})

	return a
}

func (a *API) mount(r gin.IRouter) {
	root := r.Group("/api")

	ar := root.Group("/auth")
	ar.POST("/register", a.register)
	ar.POST("/login", a.login)
	ar.POST("/admin-login", a.adminLogin)
	ar.GET("/me", a.Authenticate, a.me)
	ar.POST("/tab-switch", a.Authenticate, a.tabSwitch)

	cr := root.Group("/challenges")
	cr.GET("", a.listChallenges)
	cr.GET("/user/completed", a.Authenticate, a.completedChallenges)
	cr.GET("/user/progress", a.Authenticate, a.progress)
	cr.POST("/submit", a.Authenticate, a.RequireSession, a.submit)
	cr.GET("/:id", a.Authenticate, a.RequireSession, a.getChallenge)
	cr.GET("/:id/hints/:index", a.Authenticate, a.RequireSession, a.hint)

	lr := root.Group("/leaderboard")
	lr.GET("/users", a.userLeaderboard)
	lr.GET("/teams", a.teamLeaderboard)
	lr.GET("/teams/:teamId", a.teamDetails)
	lr.GET("/challenges/:challengeId", a.challengeLeaderboard)
	lr.GET("/me", a.Authenticate, a.myRank)

	adm := root.Group("/admin", a.Authenticate, a.RequireAdmin)
	adm.GET("/logs", a.securityLogs)
	adm.GET("/users", a.listUsers)
	adm.POST("/promote", a.promote)
}
