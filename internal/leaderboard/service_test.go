package leaderboard_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/vaultofvirtue/techescape/internal/domain"
	"github.com/vaultofvirtue/techescape/internal/event"
	"github.com/vaultofvirtue/techescape/internal/leaderboard"
	"github.com/vaultofvirtue/techescape/internal/store"
)

func TestService_UpdateMirror(t *testing.T) {
	s := makeService(t)

	err := s.UpdateMirror(context.Background(), domain.EventScoreUpdated{
		UserID:     "u1",
		Username:   "alice",
		TotalScore: 30,
		UpdateTime: time.Now(),
	})
	require.NoError(t, err)

	l, err := s.Snapshot(context.Background())
	require.NoError(t, err)

	want := &domain.Leaderboard{
		Entries: []domain.LeaderboardEntry{
			{Username: "alice", Score: 30},
		},
	}
	require.Equal(t, want, l)
}

func TestService_PublishLeaderboardUpdated(t *testing.T) {
	type (
		inputs struct {
			receivedEvents []domain.EventScoreUpdated
		}

		outputs struct {
			publishedEvents []domain.EventLeaderboardUpdated
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"should publish leaderboard.updated after receiving score.updated": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []domain.EventScoreUpdated{
						{UserID: "u1", Username: "alice", TotalScore: 30, UpdateTime: time.Now()},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1, "should receive 1 leaderboard updated event")
				require.Equal(t, domain.Leaderboard{
					Entries: []domain.LeaderboardEntry{
						{Username: "alice", Score: 30},
					},
				}, out.publishedEvents[0].Leaderboard)
			},
		},

		"should publish 1 event after receiving 2 score.updated within the publish interval": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []domain.EventScoreUpdated{
						{UserID: "u1", Username: "alice", TotalScore: 30, UpdateTime: time.Now()},
						{UserID: "u2", Username: "bob", TotalScore: 20, UpdateTime: time.Now()},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1, "should receive 1 leaderboard updated event")
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in, out := tt.arrange(), outputs{}

			eb := event.NewBus()

			var mu sync.Mutex
			eb.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
				mu.Lock()
				out.publishedEvents = append(out.publishedEvents, e.(domain.EventLeaderboardUpdated))
				mu.Unlock()
				return nil
			})

			s := makeService(t, withEventBus(eb))

			for _, e := range in.receivedEvents {
				err := s.UpdateMirror(context.Background(), e)
				require.NoError(t, err)
			}

			eb.Stop()

			tt.assert(t, out)
		})
	}
}

func TestService_Users(t *testing.T) {
	st := seedStandings(t)
	s := makeService(t, withStore(st))

	page, err := s.Users(context.Background(), 2, 1)
	require.NoError(t, err)

	require.Len(t, page.Leaderboard, 2)
	require.Equal(t, "carol", page.Leaderboard[0].Username, "highest score first")
	require.Equal(t, 1, page.Leaderboard[0].Rank)
	require.Equal(t, "alice", page.Leaderboard[1].Username, "username breaks the alice/dave tie")
	require.Equal(t, 2, page.Leaderboard[1].Rank)

	require.Equal(t, leaderboard.Pagination{
		Total: 4, Page: 1, Limit: 2, Pages: 2, HasMore: true,
	}, page.Pagination)

	page2, err := s.Users(context.Background(), 2, 2)
	require.NoError(t, err)
	require.Len(t, page2.Leaderboard, 2)
	require.Equal(t, "dave", page2.Leaderboard[0].Username)
	require.Equal(t, 3, page2.Leaderboard[0].Rank)
	require.Equal(t, "bob", page2.Leaderboard[1].Username)
	require.Equal(t, 4, page2.Leaderboard[1].Rank)
}

func TestService_Rank(t *testing.T) {
	st := seedStandings(t)
	s := makeService(t, withStore(st))

	users, err := st.ListUsers(context.Background())
	require.NoError(t, err)

	byName := make(map[string]domain.User)
	for _, u := range users {
		byName[u.Username] = u
	}

	r, err := s.Rank(context.Background(), byName["carol"].ID)
	require.NoError(t, err)
	require.Equal(t, 1, r.Rank)
	require.Equal(t, 4, r.TotalUsers)
	require.Equal(t, 100, r.Percentile)

	r, err = s.Rank(context.Background(), byName["bob"].ID)
	require.NoError(t, err)
	require.Equal(t, 4, r.Rank)
	require.Equal(t, 0, r.Percentile)

	// Tied scores share a rank: alice and dave are both second of four.
	for _, name := range []string{"alice", "dave"} {
		r, err = s.Rank(context.Background(), byName[name].ID)
		require.NoError(t, err)
		require.Equal(t, 2, r.Rank)
		require.Equal(t, 67, r.Percentile)
	}
}

func TestService_Teams_UnionCcompletions(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, st.CreateChallenge(ctx, &domain.Challenge{ID: "c1", Title: "one", Solution: "a", Points: 10}))
	require.NoError(t, st.CreateChallenge(ctx, &domain.Challenge{ID: "c2", Title: "two", Solution: "b", Points: 20}))

	alice := register(t, st, "alice", "red", true)
	bob := register(t, st, "bob", "red", false)

	award(t, st, alice.ID, "c1", 10)
	award(t, st, bob.ID, "c1", 10)
	award(t, st, bob.ID, "c2", 20)

	s := makeService(t, withStore(st))

	standings, err := s.Teams(ctx)
	require.NoError(t, err)
	require.Len(t, standings, 1)

	red := standings[0]
	require.Equal(t, 1, red.Rank)
	require.Equal(t, 40, red.Score)
	require.Equal(t, 2, red.MemberCount)
	require.Equal(t, 2, red.CompletedChallenges, "c1 solved by both members counts once")
	require.Equal(t, 20, red.AvgScore)
}

func register(t *testing.T, st *store.Memory, username, team string, create bool) *domain.User {
	t.Helper()
	u, err := st.RegisterUser(context.Background(), store.RegisterParams{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "x",
		TeamName:     team,
		CreateTeam:   create,
	})
	require.NoError(t, err)
	return u
}

func award(t *testing.T, st *store.Memory, userID, challengeID string, points int) {
	t.Helper()
	_, _, err := st.AwardPoints(context.Background(), store.AwardParams{
		UserID:      userID,
		ChallengeID: challengeID,
		Points:      points,
		Attempt:     domain.Attempt{ID: uuid.NewString(), UserID: userID, ChallengeID: challengeID, Success: true, PointsEarned: points, SubmitTime: time.Now()},
		Log:         domain.SecurityLogEntry{ID: uuid.NewString(), Type: domain.LogSuccessfulSolution, UserID: userID, ChallengeID: challengeID, LogTime: time.Now()},
	})
	require.NoError(t, err)
}

// seedStandings creates carol (40), alice and dave (30 each) and bob (20).
func seedStandings(t *testing.T) *store.Memory {
	t.Helper()
	st := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, st.CreateChallenge(ctx, &domain.Challenge{ID: "c1", Title: "one", Solution: "a", Points: 30}))
	require.NoError(t, st.CreateChallenge(ctx, &domain.Challenge{ID: "c2", Title: "two", Solution: "b", Points: 10}))
	require.NoError(t, st.CreateChallenge(ctx, &domain.Challenge{ID: "c3", Title: "three", Solution: "c", Points: 20}))

	carol := register(t, st, "carol", "green", true)
	alice := register(t, st, "alice", "red", true)
	dave := register(t, st, "dave", "yellow", true)
	bob := register(t, st, "bob", "blue", true)

	award(t, st, carol.ID, "c1", 30)
	award(t, st, carol.ID, "c2", 10)
	award(t, st, alice.ID, "c2", 10)
	award(t, st, alice.ID, "c3", 20)
	award(t, st, dave.ID, "c1", 30)
	award(t, st, bob.ID, "c3", 20)

	return st
}

func makeService(t *testing.T, opts ...options) *leaderboard.Service {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	c := leaderboard.Config{
		EventBus: event.NewBus(),
		Store:    store.NewMemory(),
		Redis:    rc,
		Prefix:   "test",
	}

	for _, opt := range opts {
		opt(&c)
	}

	return leaderboard.NewService(c)
}

type options func(c *leaderboard.Config)

func withEventBus(eb *event.Bus) options {
	return func(c *leaderboard.Config) {
		c.EventBus = eb
	}
}

func withStore(st *store.Memory) options {
	return func(c *leaderboard.Config) {
		c.Store = st
	}
}
