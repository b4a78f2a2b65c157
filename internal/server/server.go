// Package server wires infrastructure, services and the HTTP surface
// together and owns the process lifecycle.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/vaultofvirtue/techescape/internal/api"
	"github.com/vaultofvirtue/techescape/internal/auth"
	"github.com/vaultofvirtue/techescape/internal/challenge"
	"github.com/vaultofvirtue/techescape/internal/event"
	"github.com/vaultofvirtue/techescape/internal/leaderboard"
	"github.com/vaultofvirtue/techescape/internal/migrations"
	"github.com/vaultofvirtue/techescape/internal/score"
	"github.com/vaultofvirtue/techescape/internal/seclog"
	"github.com/vaultofvirtue/techescape/internal/session"
	"github.com/vaultofvirtue/techescape/internal/store"
	"github.com/vaultofvirtue/techescape/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	Redis struct {
		Leaderboard struct {
			Addrs  []string
			Pass   string
			Prefix string
		}

		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		Addr string
		User string
		Pass string
		Name string
	}

	Auth struct {
		JWTSecret string
		TokenTTL  time.Duration
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			leaderboard redis.UniversalClient
			pubsub      redis.UniversalClient
		}

		postgres *pgxpool.Pool
		store    *store.Postgres
	}

	service struct {
		auth        *auth.Service
		session     *session.Service
		score       *score.Service
		challenge   *challenge.Service
		leaderboard *leaderboard.Service
		seclog      *seclog.Service
	}

	http *http.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(addrs []string, pass string) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.leaderboard, err = connect(s.c.Redis.Leaderboard.Addrs, s.c.Redis.Leaderboard.Pass)
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dsn := fmt.Sprintf("postgres://%s:%s@%s/%s",
		s.c.Postgres.User, s.c.Postgres.Pass, s.c.Postgres.Addr, s.c.Postgres.Name)

	if err := s.migrate(ctx, dsn); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	cc, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		return err
	}

	s.infra.postgres = db
	s.infra.store = store.NewPostgres(db)
	return nil
}

// migrate applies the embedded schema. goose needs database/sql, so this
// opens a short-lived connection through the pgx stdlib driver.
func (s *Server) migrate(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	return goose.UpContext(ctx, db, ".")
}

func (s *Server) initService() {
	st := s.infra.store

	s.service.seclog = seclog.NewService(seclog.Config{
		Store: st,
	})

	s.service.session = session.NewService(session.Config{
		Store:    st,
		Logs:     s.service.seclog,
		EventBus: s.eb,
	})

	s.service.auth = auth.NewService(auth.Config{
		Store:    st,
		Sessions: s.service.session,
		Issuer:   auth.NewIssuer([]byte(s.c.Auth.JWTSecret), s.c.Auth.TokenTTL),
	})

	s.service.score = score.NewService(score.Config{
		Store:    st,
		Sessions: s.service.session,
		EventBus: s.eb,
	})

	s.service.challenge = challenge.NewService(challenge.Config{
		Store:    st,
		Logs:     s.service.seclog,
		Sessions: s.service.session,
	})

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus: s.eb,
		Store:    st,
		Redis:    s.infra.redis.leaderboard,
		Prefix:   s.c.Redis.Leaderboard.Prefix,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	e.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery(), telemetry.HTTPServerLogger(slog.Default()))

	api.New(api.Config{
		Router:       e,
		EventBus:     s.eb,
		Auth:         s.service.auth,
		Session:      s.service.session,
		Score:        s.service.score,
		Challenge:    s.service.challenge,
		Leaderboard:  s.service.leaderboard,
		SecurityLog:  s.service.seclog,
		Redis:        s.infra.redis.pubsub,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()
	s.infra.postgres.Close()

	slog.InfoContext(ctx, "server: shutdown completed")
}
