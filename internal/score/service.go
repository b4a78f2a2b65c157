// Package score verifies submitted solutions and awards points. The award
// is a single store transaction that re-checks the completed set, bumps the
// user and team aggregates together and appends the attempt and security
// log records, so concurrent duplicate submissions earn credit exactly once.
package score

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/vaultofvirtue/techescape/internal/domain"
	"github.com/vaultofvirtue/techescape/internal/errors"
	"github.com/vaultofvirtue/techescape/internal/event"
	"github.com/vaultofvirtue/techescape/internal/session"
	"github.com/vaultofvirtue/techescape/internal/store"
	"github.com/vaultofvirtue/techescape/internal/telemetry"
)

type Store interface {
	UserByID(ctx context.Context, id string) (*domain.User, error)
	ChallengeByID(ctx context.Context, id string) (*domain.Challenge, error)
	AwardPoints(ctx context.Context, req store.AwardParams) (total int, completed []string, err error)
	RecordFailedAttempt(ctx context.Context, a domain.Attempt, l domain.SecurityLogEntry) error
}

type Config struct {
	Store    Store
	Sessions *session.Service
	EventBus *event.Bus

	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

type Service struct {
	store    Store
	sessions *session.Service
	eb       *event.Bus
	now      func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		store:    c.Store,
		sessions: c.Sessions,
		eb:       c.EventBus,
		now:      c.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type SubmitRequest struct {
	UserID      string
	ChallengeID string
	Solution    string
}

type SubmitResponse struct {
	Points              int      `json:"points"`
	TotalScore          int      `json:"totalScore"`
	CompletedChallenges []string `json:"completedChallenges"`
	Notification        string   `json:"notification"`
}

// Submit verifies the solution and credits the challenge. Preconditions are
// checked in order, each with its own failure code: session expired,
// already completed, challenge unknown, solution incorrect. Only the
// incorrect-solution path leaves a trace (the failed attempt and its log
// entry); every other failure leaves no partial state.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	if req.ChallengeID == "" || req.Solution == "" {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("Challenge ID and solution are required"))
	}

	u, err := s.store.UserByID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	if !s.sessions.Active(u) {
		telemetry.Submissions.WithLabelValues("rejected").Inc()
		return nil, errors.New(errors.CodeSessionExpired)
	}

	// Cheap pre-check; the award transaction re-verifies under the store's
	// serialization to close the concurrent-duplicate race.
	if u.Completed(req.ChallengeID) {
		telemetry.Submissions.WithLabelValues("duplicate").Inc()
		return nil, errors.New(errors.CodeAlreadyCompleted)
	}

	c, err := s.store.ChallengeByID(ctx, req.ChallengeID)
	if err != nil {
		return nil, err
	}

	now := s.now()

	if !Matches(req.Solution, c.Solution) {
		if err := s.recordFailure(ctx, u, c, req.Solution, now); err != nil {
			return nil, err
		}
		telemetry.Submissions.WithLabelValues("incorrect").Inc()
		return nil, errors.New(errors.CodeIncorrectSolution)
	}

	total, completed, err := s.award(ctx, store.AwardParams{
		UserID:      u.ID,
		ChallengeID: c.ID,
		Points:      c.Points,
		Attempt: domain.Attempt{
			ID:             uuid.NewString(),
			UserID:         u.ID,
			Username:       u.Username,
			ChallengeID:    c.ID,
			ChallengeTitle: c.Title,
			Solution:       req.Solution,
			Success:        true,
			PointsEarned:   c.Points,
			SubmitTime:     now,
		},
		Log: domain.SecurityLogEntry{
			ID:          uuid.NewString(),
			Type:        domain.LogSuccessfulSolution,
			UserID:      u.ID,
			ChallengeID: c.ID,
			Detail:      fmt.Sprintf("Successfully completed challenge: %s", c.Title),
			LogTime:     now,
		},
	})
	if errors.CodeOf(err) == errors.CodeAlreadyCompleted {
		telemetry.Submissions.WithLabelValues("duplicate").Inc()
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	telemetry.Submissions.WithLabelValues("accepted").Inc()

	s.eb.Publish(ctx, domain.EventScoreUpdated{
		UserID:     u.ID,
		Username:   u.Username,
		TotalScore: total,
		UpdateTime: now,
	})

	return &SubmitResponse{
		Points:              c.Points,
		TotalScore:          total,
		CompletedChallenges: completed,
		Notification: fmt.Sprintf(
			"Congratulations! You have completed the challenge %q and earned %d points. Your team leaderboard will be updated accordingly.",
			c.Title, c.Points),
	}, nil
}

// award commits the scoring transaction, retrying once on a transient store
// failure. The retry is safe: a commit that succeeded before an unacked
// response hits the completed-set re-check and reports AlreadyCompleted
// instead of double-crediting.
func (s *Service) award(ctx context.Context, p store.AwardParams) (total int, completed []string, err error) {
	err = retry.Do(ctx, retry.WithMaxRetries(1, retry.NewConstant(100*time.Millisecond)), func(ctx context.Context) error {
		var aerr error
		total, completed, aerr = s.store.AwardPoints(ctx, p)
		if errors.IsRetryable(aerr) {
			return retry.RetryableError(aerr)
		}
		return aerr
	})
	return total, completed, err
}

func (s *Service) recordFailure(ctx context.Context, u *domain.User, c *domain.Challenge, solution string, now time.Time) error {
	return s.store.RecordFailedAttempt(ctx,
		domain.Attempt{
			ID:             uuid.NewString(),
			UserID:         u.ID,
			Username:       u.Username,
			ChallengeID:    c.ID,
			ChallengeTitle: c.Title,
			Solution:       solution,
			Success:        false,
			SubmitTime:     now,
		},
		domain.SecurityLogEntry{
			ID:          uuid.NewString(),
			Type:        domain.LogFailedSolution,
			UserID:      u.ID,
			ChallengeID: c.ID,
			Detail:      fmt.Sprintf("Failed solution attempt for challenge: %s", c.Title),
			LogTime:     now,
		})
}

// Matches compares a candidate against the canonical solution, ignoring
// case and surrounding whitespace.
func Matches(candidate, canonical string) bool {
	return strings.EqualFold(strings.TrimSpace(candidate), strings.TrimSpace(canonical))
}
