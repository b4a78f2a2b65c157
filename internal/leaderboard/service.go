// Package leaderboard derives ranked user and team views from current
// score state. Rankings are computed at read time, never persisted, so
// they always reflect the scoring engine's last committed write. A redis
// sorted-set mirror feeds the push notification channel; SQL state stays
// the source of truth.
package leaderboard

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vaultofvirtue/techescape/internal/domain"
	"github.com/vaultofvirtue/techescape/internal/event"
)

const (
	// publishInterval throttles leaderboard pushes: many scores can change
	// in a short burst, one snapshot per interval is enough.
	publishInterval = 200 * time.Millisecond

	// mirrorTop bounds the pushed snapshot.
	mirrorTop = 50

	defaultPageSize = 50
)

type Store interface {
	UserStandings(ctx context.Context, limit, offset int) ([]domain.UserStanding, error)
	CountUsers(ctx context.Context) (int, error)
	CountUsersWithGreaterScore(ctx context.Context, score int) (int, error)
	TeamStandings(ctx context.Context) ([]domain.TeamStanding, error)
	TeamByID(ctx context.Context, id string) (*domain.Team, error)
	FirstSolves(ctx context.Context, challengeID string) ([]domain.FirstSolve, error)
	UserByID(ctx context.Context, id string) (*domain.User, error)
	ChallengeByID(ctx context.Context, id string) (*domain.Challenge, error)
}

type Config struct {
	EventBus *event.Bus
	Store    Store
	Redis    redis.UniversalClient
	Prefix   string
}

type Service struct {
	eb     *event.Bus
	store  Store
	redis  redis.UniversalClient
	prefix string
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		store:  c.Store,
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	s.eb.Subscribe(domain.EventNameScoreUpdated, func(ctx context.Context, e event.Event) error {
		return s.UpdateMirror(ctx, e.(domain.EventScoreUpdated))
	})

	return s
}

type Pagination struct {
	Total   int  `json:"total"`
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Pages   int  `json:"pages"`
	HasMore bool `json:"hasMore"`
}

type UsersPage struct {
	Leaderboard []domain.UserStanding `json:"leaderboard"`
	Pagination  Pagination            `json:"pagination"`
}

// Users returns one page of the user leaderboard, ordered by score
// descending with username as the tie-break. Rank is the 1-based position
// in that total order.
func (s *Service) Users(ctx context.Context, limit, page int) (*UsersPage, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	standings, err := s.store.UserStandings(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("user standings: %w", err)
	}
	for i := range standings {
		standings[i].Rank = offset + i + 1
	}

	total, err := s.store.CountUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}

	return &UsersPage{
		Leaderboard: standings,
		Pagination: Pagination{
			Total:   total,
			Page:    page,
			Limit:   limit,
			Pages:   (total + limit - 1) / limit,
			HasMore: len(standings) == limit,
		},
	}, nil
}

// Teams returns all teams ordered by aggregate score. A team's completed
// challenge count is the union across members, not the sum.
func (s *Service) Teams(ctx context.Context) ([]domain.TeamStanding, error) {
	standings, err := s.store.TeamStandings(ctx)
	if err != nil {
		return nil, fmt.Errorf("team standings: %w", err)
	}

	for i := range standings {
		standings[i].Rank = i + 1
		if n := standings[i].MemberCount; n > 0 {
			standings[i].AvgScore = int(math.Round(float64(standings[i].Score) / float64(n)))
		}
	}
	return standings, nil
}

func (s *Service) Team(ctx context.Context, teamID string) (*domain.Team, error) {
	return s.store.TeamByID(ctx, teamID)
}

// Rank computes a single user's rank and percentile. Rank is one plus the
// number of strictly greater scores; equal scores share a rank here.
func (s *Service) Rank(ctx context.Context, userID string) (*domain.Ranking, error) {
	u, err := s.store.UserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	greater, err := s.store.CountUsersWithGreaterScore(ctx, u.Score)
	if err != nil {
		return nil, fmt.Errorf("count greater: %w", err)
	}

	total, err := s.store.CountUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}

	rank := greater + 1
	percentile := 100
	if total > 1 {
		percentile = int(math.Round(100 * float64(total-rank) / float64(total-1)))
	}

	return &domain.Ranking{
		Username:       u.Username,
		Score:          u.Score,
		Rank:           rank,
		TotalUsers:     total,
		Percentile:     percentile,
		CompletedCount: len(u.CompletedChallenges),
	}, nil
}

type ChallengeBoard struct {
	ChallengeID   string             `json:"challengeId"`
	ChallengeName string             `json:"challengeName"`
	Leaderboard   []domain.FirstSolve `json:"leaderboard"`
}

// Challenge lists who solved one challenge first, in solve order.
func (s *Service) Challenge(ctx context.Context, challengeID string) (*ChallengeBoard, error) {
	c, err := s.store.ChallengeByID(ctx, challengeID)
	if err != nil {
		return nil, err
	}

	solves, err := s.store.FirstSolves(ctx, challengeID)
	if err != nil {
		return nil, fmt.Errorf("first solves: %w", err)
	}

	return &ChallengeBoard{
		ChallengeID:   c.ID,
		ChallengeName: c.Title,
		Leaderboard:   solves,
	}, nil
}

// UpdateMirror overwrites the user's score in the redis mirror and
// schedules a push.
func (s *Service) UpdateMirror(ctx context.Context, e domain.EventScoreUpdated) error {
	if err := s.redis.ZAdd(ctx, s.mirrorKey(), redis.Z{
		Score:  float64(e.TotalScore),
		Member: e.Username,
	}).Err(); err != nil {
		return fmt.Errorf("update mirror: %w", err)
	}

	return s.schedulePublish(ctx, e)
}

// schedulePublish pushes the snapshot at most once per publishInterval;
// the SetNX key doubles as a cross-instance guard.
func (s *Service) schedulePublish(ctx context.Context, e domain.EventScoreUpdated) error {
	ok, err := s.redis.SetNX(ctx, s.timeKey(), e.UpdateTime.UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	return s.publish(ctx, e)
}

func (s *Service) publish(ctx context.Context, e domain.EventScoreUpdated) error {
	l, err := s.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot failed: %w", err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: *l,
	})

	return s.redis.Set(ctx, s.timeKey(), e.UpdateTime.UnixMilli(), publishInterval).Err()
}

// Snapshot reads the mirror's top entries, highest score first.
func (s *Service) Snapshot(ctx context.Context) (*domain.Leaderboard, error) {
	res, err := s.redis.ZRevRangeWithScores(ctx, s.mirrorKey(), 0, mirrorTop-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read mirror: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, 0, len(res))
	for _, z := range res {
		entries = append(entries, domain.LeaderboardEntry{
			Username: z.Member.(string),
			Score:    int(z.Score),
		})
	}

	return &domain.Leaderboard{Entries: entries}, nil
}

func (s *Service) mirrorKey() string {
	return fmt.Sprintf("%s:users:leaderboard", s.prefix)
}

func (s *Service) timeKey() string {
	return fmt.Sprintf("%s:users:time", s.prefix)
}
