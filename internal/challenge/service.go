// Package challenge serves the challenge catalog. Canonical solutions stay
// server-side; list and get strip them before anything reaches a client.
package challenge

import (
	"context"
	"fmt"
	"time"

	"github.com/vaultofvirtue/techescape/internal/domain"
	"github.com/vaultofvirtue/techescape/internal/errors"
	"github.com/vaultofvirtue/techescape/internal/seclog"
	"github.com/vaultofvirtue/techescape/internal/session"
)

type Store interface {
	ListChallenges(ctx context.Context) ([]domain.Challenge, error)
	ChallengeByID(ctx context.Context, id string) (*domain.Challenge, error)
	CountChallenges(ctx context.Context) (int, error)
	CreateChallenge(ctx context.Context, c *domain.Challenge) error
	UserByID(ctx context.Context, id string) (*domain.User, error)
}

type Config struct {
	Store    Store
	Logs     *seclog.Service
	Sessions *session.Service
}

type Service struct {
	store    Store
	logs     *seclog.Service
	sessions *session.Service
}

func NewService(c Config) *Service {
	return &Service{
		store:    c.Store,
		logs:     c.Logs,
		sessions: c.Sessions,
	}
}

func (s *Service) List(ctx context.Context) ([]domain.Challenge, error) {
	cs, err := s.store.ListChallenges(ctx)
	if err != nil {
		return nil, err
	}
	for i := range cs {
		cs[i].Solution = ""
		cs[i].Hints = nil
	}
	return cs, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Challenge, error) {
	c, err := s.store.ChallengeByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Solution = ""
	c.Hints = nil
	return c, nil
}

// Hint returns the challenge's hint at index and logs the request.
func (s *Service) Hint(ctx context.Context, userID, challengeID string, index int) (string, error) {
	c, err := s.store.ChallengeByID(ctx, challengeID)
	if err != nil {
		return "", err
	}

	if index < 0 || index >= len(c.Hints) {
		return "", errors.New(errors.CodeNotFound, errors.WithMessagef("Hint not found"))
	}

	detail := fmt.Sprintf("Requested hint #%d for challenge: %s", index+1, c.Title)
	if err := s.logs.Append(ctx, domain.LogHintRequested, userID, challengeID, detail); err != nil {
		return "", err
	}

	return c.Hints[index], nil
}

// Create adds a challenge to the catalog; admin seeding and fixtures only.
func (s *Service) Create(ctx context.Context, c *domain.Challenge) error {
	if c.Title == "" || c.Solution == "" || c.Points <= 0 {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("Title, solution and positive points are required"))
	}
	return s.store.CreateChallenge(ctx, c)
}

// Progress summarizes a user's standing and session state.
type Progress struct {
	Score                int        `json:"score"`
	CompletedChallenges  int        `json:"completedChallenges"`
	TotalChallenges      int        `json:"totalChallenges"`
	CompletionPercentage int        `json:"completionPercentage"`
	SessionExpiry        *time.Time `json:"sessionExpiry"`
	SessionActive        bool       `json:"sessionActive"`
	TimeRemaining        int        `json:"timeRemaining"`
	TabSwitchCount       int        `json:"tabSwitchCount"`
}

func (s *Service) Progress(ctx context.Context, userID string) (*Progress, error) {
	u, err := s.store.UserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	total, err := s.store.CountChallenges(ctx)
	if err != nil {
		return nil, err
	}

	p := &Progress{
		Score:               u.Score,
		CompletedChallenges: len(u.CompletedChallenges),
		TotalChallenges:     total,
		SessionExpiry:       u.SessionExpiry,
		SessionActive:       s.sessions.Active(u),
		TabSwitchCount:      u.TabSwitchCount,
	}
	if total > 0 {
		p.CompletionPercentage = 100 * len(u.CompletedChallenges) / total
	}
	if p.SessionActive {
		p.TimeRemaining = s.sessions.Remaining(u)
	}
	return p, nil
}

// Completed returns the user's completed-challenge ids in completion order.
func (s *Service) Completed(ctx context.Context, userID string) ([]string, error) {
	u, err := s.store.UserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return u.CompletedChallenges, nil
}
