package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/vaultofvirtue/techescape/internal/api"
	"github.com/vaultofvirtue/techescape/internal/auth"
	"github.com/vaultofvirtue/techescape/internal/challenge"
	"github.com/vaultofvirtue/techescape/internal/domain"
	"github.com/vaultofvirtue/techescape/internal/event"
	"github.com/vaultofvirtue/techescape/internal/leaderboard"
	"github.com/vaultofvirtue/techescape/internal/score"
	"github.com/vaultofvirtue/techescape/internal/seclog"
	"github.com/vaultofvirtue/techescape/internal/session"
	"github.com/vaultofvirtue/techescape/internal/store"
)

type harness struct {
	engine *gin.Engine
	store  *store.Memory
}

func makeHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := store.NewMemory()
	eb := event.NewBus()
	t.Cleanup(eb.Stop)

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{rs.Addr()}})

	logs := seclog.NewService(seclog.Config{Store: st})
	sessions := session.NewService(session.Config{Store: st, Logs: logs, EventBus: eb})
	as := auth.NewService(auth.Config{
		Store:    st,
		Sessions: sessions,
		Issuer:   auth.NewIssuer([]byte("test-secret"), time.Hour),
	})

	e := gin.New()
	api.New(api.Config{
		Router:   e,
		EventBus: eb,
		Auth:     as,
		Session:  sessions,
		Score: score.NewService(score.Config{
			Store: st, Sessions: sessions, EventBus: eb,
		}),
		Challenge: challenge.NewService(challenge.Config{
			Store: st, Logs: logs, Sessions: sessions,
		}),
		Leaderboard: leaderboard.NewService(leaderboard.Config{
			EventBus: eb, Store: st, Redis: rc, Prefix: "test",
		}),
		SecurityLog:  logs,
		Redis:        rc,
		PubsubPrefix: "test",
	})

	require.NoError(t, st.CreateChallenge(context.Background(), &domain.Challenge{
		ID:       "c1",
		Title:    "List the files",
		Type:     domain.TypeShell,
		Points:   10,
		Hints:    []string{"two letters"},
		Solution: "ls",
	}))

	return &harness{engine: e, store: st}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (h *harness) do(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), "body: %s", w.Body.String())
	return w.Code, env
}

// registerAndLogin returns a participant token with an active session.
func (h *harness) registerAndLogin(t *testing.T, username, team string, create bool) string {
	t.Helper()

	regType := "join"
	if create {
		regType = "create"
	}
	code, _ := h.do(t, http.MethodPost, "/api/auth/register", "", gin.H{
		"username": username, "email": username + "@example.com",
		"password": "hunter2", "teamName": team, "registrationType": regType,
	})
	require.Equal(t, http.StatusCreated, code)

	code, env := h.do(t, http.MethodPost, "/api/auth/login", "", gin.H{
		"email": username + "@example.com", "teamName": team,
	})
	require.Equal(t, http.StatusOK, code)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func TestAPI_AuthFlow(t *testing.T) {
	h := makeHarness(t)

	token := h.registerAndLogin(t, "alice", "red", true)

	code, env := h.do(t, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, code)
	require.True(t, env.Success)

	var u domain.User
	require.NoError(t, json.Unmarshal(env.Data, &u))
	require.Equal(t, "alice", u.Username)
	require.NotNil(t, u.SessionExpiry)

	// No token and a garbage token are both rejected.
	code, env = h.do(t, http.MethodGet, "/api/auth/me", "", nil)
	require.Equal(t, http.StatusUnauthorized, code)
	require.False(t, env.Success)

	code, _ = h.do(t, http.MethodGet, "/api/auth/me", "garbage", nil)
	require.Equal(t, http.StatusUnauthorized, code)
}

func TestAPI_SessionGate(t *testing.T) {
	h := makeHarness(t)

	// Registration alone does not start the challenge clock.
	code, _ := h.do(t, http.MethodPost, "/api/auth/register", "", gin.H{
		"username": "bob", "email": "bob@example.com",
		"password": "hunter2", "teamName": "blue", "registrationType": "create",
	})
	require.Equal(t, http.StatusCreated, code)

	code, env := h.do(t, http.MethodPost, "/api/auth/admin-login", "", gin.H{
		"email": "bob@example.com", "password": "hunter2",
	})
	require.Equal(t, http.StatusForbidden, code)
	require.False(t, env.Success)

	// A token from registration exists, but the session was never started.
	code, env = h.do(t, http.MethodPost, "/api/auth/login", "", gin.H{
		"email": "bob@example.com", "teamName": "blue",
	})
	require.Equal(t, http.StatusOK, code)
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &resp))

	code, _ = h.do(t, http.MethodGet, "/api/challenges/c1", resp.Token, nil)
	require.Equal(t, http.StatusOK, code, "login started the session")

	// The public list needs no token at all.
	code, env = h.do(t, http.MethodGet, "/api/challenges", "", nil)
	require.Equal(t, http.StatusOK, code)

	var list []domain.Challenge
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	require.Empty(t, list[0].Solution)
}

func TestAPI_SessionGate_NeverStarted(t *testing.T) {
	h := makeHarness(t)

	// Register only; the register response token has no session behind it.
	code, env := h.do(t, http.MethodPost, "/api/auth/register", "", gin.H{
		"username": "carol", "email": "carol@example.com",
		"password": "hunter2", "teamName": "green", "registrationType": "create",
	})
	require.Equal(t, http.StatusCreated, code)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &resp))

	code, env = h.do(t, http.MethodGet, "/api/challenges/c1", resp.Token, nil)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "Challenge session not started", env.Message)
}

func TestAPI_Submit(t *testing.T) {
	h := makeHarness(t)
	token := h.registerAndLogin(t, "alice", "red", true)

	code, env := h.do(t, http.MethodPost, "/api/challenges/submit", token, gin.H{
		"challengeId": "c1", "solution": " LS ",
	})
	require.Equal(t, http.StatusOK, code)
	require.True(t, env.Success)

	var resp score.SubmitResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	require.Equal(t, 10, resp.Points)
	require.Equal(t, 10, resp.TotalScore)
	require.Equal(t, []string{"c1"}, resp.CompletedChallenges)

	// Duplicate and incorrect submissions map onto 400 with their messages.
	code, env = h.do(t, http.MethodPost, "/api/challenges/submit", token, gin.H{
		"challengeId": "c1", "solution": "ls",
	})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "Challenge already completed", env.Message)

	code, env = h.do(t, http.MethodPost, "/api/challenges/submit", token, gin.H{
		"challengeId": "nope", "solution": "x",
	})
	require.Equal(t, http.StatusNotFound, code)
	require.False(t, env.Success)
}

func TestAPI_TabSwitch(t *testing.T) {
	h := makeHarness(t)
	token := h.registerAndLogin(t, "alice", "red", true)

	for i := 1; i <= session.MaxTabSwitches; i++ {
		code, env := h.do(t, http.MethodPost, "/api/auth/tab-switch", token, nil)
		require.Equal(t, http.StatusOK, code)

		var resp struct {
			Count      int  `json:"tabSwitchCount"`
			Terminated bool `json:"isSessionTerminated"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &resp))
		require.Equal(t, i, resp.Count)
		require.Equal(t, i == session.MaxTabSwitches, resp.Terminated)
	}

	// The terminated session now blocks challenge access.
	code, _ := h.do(t, http.MethodGet, "/api/challenges/c1", token, nil)
	require.Equal(t, http.StatusForbidden, code)
}

func TestAPI_Leaderboard(t *testing.T) {
	h := makeHarness(t)
	token := h.registerAndLogin(t, "alice", "red", true)

	code, _ := h.do(t, http.MethodPost, "/api/challenges/submit", token, gin.H{
		"challengeId": "c1", "solution": "ls",
	})
	require.Equal(t, http.StatusOK, code)

	code, env := h.do(t, http.MethodGet, "/api/leaderboard/users", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "Leaderboard retrieved successfully", env.Message)

	var page leaderboard.UsersPage
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page.Leaderboard, 1)
	require.Equal(t, "alice", page.Leaderboard[0].Username)
	require.Equal(t, 10, page.Leaderboard[0].Score)

	code, env = h.do(t, http.MethodGet, "/api/leaderboard/me", token, nil)
	require.Equal(t, http.StatusOK, code)

	var rank domain.Ranking
	require.NoError(t, json.Unmarshal(env.Data, &rank))
	require.Equal(t, 1, rank.Rank)
	require.Equal(t, 1, rank.TotalUsers)
}

func TestAPI_AdminGate(t *testing.T) {
	h := makeHarness(t)
	token := h.registerAndLogin(t, "alice", "red", true)

	code, _ := h.do(t, http.MethodGet, "/api/admin/logs", token, nil)
	require.Equal(t, http.StatusForbidden, code)

	require.NoError(t, h.store.PromoteToAdmin(context.Background(), "alice@example.com"))

	code, env := h.do(t, http.MethodPost, "/api/auth/admin-login", "", gin.H{
		"email": "alice@example.com", "password": "hunter2",
	})
	require.Equal(t, http.StatusOK, code)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &resp))

	code, env = h.do(t, http.MethodGet, "/api/admin/logs", resp.Token, nil)
	require.Equal(t, http.StatusOK, code)
	require.True(t, env.Success)

	code, _ = h.do(t, http.MethodPost, "/api/admin/promote", resp.Token, gin.H{
		"email": "alice@example.com",
	})
	require.Equal(t, http.StatusOK, code)
}
