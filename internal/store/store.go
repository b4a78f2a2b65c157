// Package store persists users, teams, challenges and the append-only logs.
// Postgres is the production implementation; Memory backs tests.
//
// The scoring transaction (AwardPoints) is the only operation that needs
// serializable read-modify-write semantics. Both implementations guarantee
// that two concurrent awards for the same (user, challenge) pair observe
// each other: one commits, the other fails with CodeAlreadyCompleted.
package store

import (
	"time"

	"github.com/vaultofvirtue/techescape/internal/domain"
)

// RegisterParams describes a new user joining or founding a team.
type RegisterParams struct {
	Username     string
	Email        string
	PasswordHash string
	TeamName     string
	CreateTeam   bool
}

// AwardParams is the input of the atomic scoring transaction: credit the
// challenge to the user, bump user and team scores, append the attempt and
// the security log entry, all or nothing.
type AwardParams struct {
	UserID      string
	ChallengeID string
	Points      int
	Attempt     domain.Attempt
	Log         domain.SecurityLogEntry
}

// TabSwitchResult is the state after one recorded switch. Crossed is true
// only on the call that triggered disqualification.
type TabSwitchResult struct {
	Count        int
	Disqualified bool
	Crossed      bool
}

// SessionStart reports whether a login opened a fresh challenge window and
// the expiry in effect afterwards.
type SessionStart struct {
	Started bool
	Expiry  time.Time
}
