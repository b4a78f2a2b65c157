// Package session enforces the timed challenge window and the tab-switch
// limit. The challenge session is distinct from token validity: a user may
// hold a valid auth token while their challenge window has expired.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/vaultofvirtue/techescape/internal/domain"
	"github.com/vaultofvirtue/techescape/internal/event"
	"github.com/vaultofvirtue/techescape/internal/seclog"
	"github.com/vaultofvirtue/techescape/internal/store"
	"github.com/vaultofvirtue/techescape/internal/telemetry"
)

const (
	// Duration of one challenge window.
	Duration = time.Hour

	// MaxTabSwitches disqualifies a user once reached.
	MaxTabSwitches = 3
)

type Store interface {
	StartSession(ctx context.Context, userID string, now, expiry time.Time) (store.SessionStart, error)
	RecordTabSwitch(ctx context.Context, userID string, now time.Time, max int) (store.TabSwitchResult, error)
}

type Config struct {
	Store    Store
	Logs     *seclog.Service
	EventBus *event.Bus

	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

type Service struct {
	store Store
	logs  *seclog.Service
	eb    *event.Bus
	now   func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		store: c.Store,
		logs:  c.Logs,
		eb:    c.EventBus,
		now:   c.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Start opens a challenge window for the user unless one is already active.
// An expired window counts as no active session, so re-login after expiry
// grants a fresh hour; re-login during an active window preserves it.
func (s *Service) Start(ctx context.Context, userID string) (store.SessionStart, error) {
	now := s.now()
	st, err := s.store.StartSession(ctx, userID, now, now.Add(Duration))
	if err != nil {
		return store.SessionStart{}, err
	}

	if st.Started {
		telemetry.SessionsStarted.Inc()
		if err := s.logs.Append(ctx, domain.LogSessionStarted, userID, "", "Challenge session initialized"); err != nil {
			return store.SessionStart{}, err
		}
	}

	return st, nil
}

// RecordSwitch counts one tab switch. Admins are exempt. Reaching exactly
// MaxTabSwitches disqualifies the user and terminates the session; further
// calls are no-ops reporting the terminal state.
func (s *Service) RecordSwitch(ctx context.Context, u *domain.User) (store.TabSwitchResult, error) {
	if u.IsAdmin {
		return store.TabSwitchResult{Count: u.TabSwitchCount, Disqualified: u.Disqualified}, nil
	}

	res, err := s.store.RecordTabSwitch(ctx, u.ID, s.now(), MaxTabSwitches)
	if err != nil {
		return store.TabSwitchResult{}, err
	}

	if res.Crossed {
		telemetry.Disqualifications.Inc()
		detail := fmt.Sprintf("User exceeded maximum tab switches (%d/%d)", res.Count, MaxTabSwitches)
		if err := s.logs.Append(ctx, domain.LogExcessiveTabSwitch, u.ID, "", detail); err != nil {
			return res, err
		}

		s.eb.Publish(ctx, domain.EventSessionDisqualified{
			UserID:         u.ID,
			Username:       u.Username,
			TabSwitchCount: res.Count,
		})
	}

	return res, nil
}

// Active reports whether the user's challenge session is currently valid.
func (s *Service) Active(u *domain.User) bool {
	return ActiveAt(u, s.now())
}

// IsExpired is true when the window was never started or has passed.
func (s *Service) IsExpired(u *domain.User) bool {
	return u.SessionExpiry == nil || !u.SessionExpiry.After(s.now())
}

// Remaining returns whole seconds left in the window, never negative.
func (s *Service) Remaining(u *domain.User) int {
	if u.SessionExpiry == nil {
		return 0
	}
	left := u.SessionExpiry.Sub(s.now())
	if left < 0 {
		return 0
	}
	return int(left / time.Second)
}

// ActiveAt is the session predicate at an explicit instant: the window has
// not passed, the tab-switch count is under the limit and the user is not
// disqualified.
func ActiveAt(u *domain.User, now time.Time) bool {
	return u.SessionExpiry != nil &&
		u.SessionExpiry.After(now) &&
		u.TabSwitchCount < MaxTabSwitches &&
		!u.Disqualified
}
