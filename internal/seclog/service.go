// Package seclog appends and reads the security event log: an append-only
// record of suspicious or otherwise interesting actions.
package seclog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vaultofvirtue/techescape/internal/domain"
)

// maxTail caps admin reads; the log itself is unbounded.
const maxTail = 100

type Store interface {
	AppendSecurityLog(ctx context.Context, l domain.SecurityLogEntry) error
	RecentSecurityLogs(ctx context.Context, limit int) ([]domain.SecurityLogEntry, error)
}

type Config struct {
	Store Store
}

type Service struct {
	store Store
}

func NewService(c Config) *Service {
	return &Service{store: c.Store}
}

// Append inserts one entry. No dedup, no size cap.
func (s *Service) Append(ctx context.Context, typ domain.LogType, userID, challengeID, detail string) error {
	return s.store.AppendSecurityLog(ctx, domain.SecurityLogEntry{
		ID:          uuid.NewString(),
		Type:        typ,
		UserID:      userID,
		ChallengeID: challengeID,
		Detail:      detail,
		LogTime:     time.Now(),
	})
}

// Recent returns the newest entries, most recent first.
func (s *Service) Recent(ctx context.Context, limit int) ([]domain.SecurityLogEntry, error) {
	if limit <= 0 || limit > maxTail {
		limit = maxTail
	}
	return s.store.RecentSecurityLogs(ctx, limit)
}

// FormattedTail renders the recent entries as display lines for the admin
// dashboard.
func (s *Service) FormattedTail(ctx context.Context, limit int) ([]string, error) {
	entries, err := s.Recent(ctx, limit)
	if err != nil {
		return nil, err
	}

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("[%s] %s: %s",
			e.LogTime.UTC().Format("2006-01-02 15:04:05"), e.Type, e.Detail))
	}
	return lines, nil
}
