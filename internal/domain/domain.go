package domain

import (
	"time"
)

// Role of a user inside a team.
type Role string

const (
	RoleLeader Role = "leader"
	RoleMember Role = "member"
)

// ChallengeType selects which simulation component renders the challenge.
// The set is closed; unknown tags resolve to TypeGeneric at load time.
type ChallengeType string

const (
	TypeShell   ChallengeType = "shell"
	TypePython  ChallengeType = "python"
	TypeC       ChallengeType = "c"
	TypeNetwork ChallengeType = "network"
	TypeBinary  ChallengeType = "binary"
	TypeWeb     ChallengeType = "web"
	TypeGeneric ChallengeType = "generic"
)

// ResolveChallengeType maps a stored type tag onto the closed enum.
func ResolveChallengeType(tag string) ChallengeType {
	switch t := ChallengeType(tag); t {
	case TypeShell, TypePython, TypeC, TypeNetwork, TypeBinary, TypeWeb:
		return t
	}
	return TypeGeneric
}

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// User is a registered participant. SessionExpiry, TabSwitchCount and
// Disqualified together form the challenge session state: the session is
// active iff now < SessionExpiry, TabSwitchCount is below the limit and the
// user is not disqualified.
type User struct {
	ID                  string     `json:"uid"`
	Username            string     `json:"username"`
	Email               string     `json:"email"`
	PasswordHash        string     `json:"-"`
	TeamID              string     `json:"teamId,omitempty"`
	TeamName            string     `json:"teamName,omitempty"`
	Role                Role       `json:"role,omitempty"`
	IsAdmin             bool       `json:"isAdmin"`
	Disqualified        bool       `json:"disqualified"`
	Score               int        `json:"score"`
	CompletedChallenges []string   `json:"completedChallenges"`
	SessionExpiry       *time.Time `json:"sessionExpiry"`
	TabSwitchCount      int        `json:"tabSwitchCount"`
	CreatedAt           time.Time  `json:"createdAt"`
}

// Completed reports whether the user already solved the given challenge.
func (u *User) Completed(challengeID string) bool {
	for _, id := range u.CompletedChallenges {
		if id == challengeID {
			return true
		}
	}
	return false
}

// Team aggregates member scores. Team.Score is maintained incrementally by
// the scoring transaction and always equals the sum of member scores.
type Team struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Score     int          `json:"score"`
	Members   []TeamMember `json:"members"`
	CreatedAt time.Time    `json:"createdAt"`
}

type TeamMember struct {
	UserID   string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
	Score    int    `json:"score"`
}

// Challenge is immutable after creation. Solution never reaches a client.
type Challenge struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Difficulty  Difficulty    `json:"difficulty"`
	Type        ChallengeType `json:"type"`
	Points      int           `json:"points"`
	InitialCode string        `json:"initialCode,omitempty"`
	Hints       []string      `json:"-"`
	Solution    string        `json:"-"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// Attempt records one solution submission, successful or not. Append-only.
type Attempt struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	Username       string    `json:"username"`
	ChallengeID    string    `json:"challengeId"`
	ChallengeTitle string    `json:"challengeTitle"`
	Solution       string    `json:"solution"`
	Success        bool      `json:"success"`
	PointsEarned   int       `json:"pointsEarned"`
	SubmitTime     time.Time `json:"timestamp"`
}

// LogType tags a security log entry.
type LogType string

const (
	LogSessionStarted     LogType = "SESSION_STARTED"
	LogFailedSolution     LogType = "FAILED_SOLUTION"
	LogSuccessfulSolution LogType = "SUCCESSFUL_SOLUTION"
	LogHintRequested      LogType = "HINT_REQUESTED"
	LogExcessiveTabSwitch LogType = "EXCESSIVE_TAB_SWITCHING"
)

// SecurityLogEntry is an append-only record of a suspicious or otherwise
// interesting action.
type SecurityLogEntry struct {
	ID          string    `json:"id"`
	Type        LogType   `json:"type"`
	UserID      string    `json:"userId"`
	ChallengeID string    `json:"challengeId,omitempty"`
	Detail      string    `json:"details"`
	LogTime     time.Time `json:"timestamp"`
}

// UserStanding is one row of the user leaderboard, derived at read time.
type UserStanding struct {
	Rank           int    `json:"rank"`
	UserID         string `json:"id"`
	Username       string `json:"username"`
	TeamName       string `json:"teamName,omitempty"`
	Score          int    `json:"score"`
	CompletedCount int    `json:"completedChallenges"`
}

// TeamStanding is one row of the team leaderboard. CompletedChallenges is
// the cardinality of the union of completed-challenge ids across members: a
// challenge solved by any member counts once.
type TeamStanding struct {
	Rank                int    `json:"rank"`
	TeamID              string `json:"id"`
	Name                string `json:"name"`
	Score               int    `json:"score"`
	MemberCount         int    `json:"memberCount"`
	CompletedChallenges int    `json:"completedChallenges"`
	AvgScore            int    `json:"avgScore"`
}

// Ranking is a single user's position relative to everyone else.
type Ranking struct {
	Username       string `json:"username"`
	Score          int    `json:"score"`
	Rank           int    `json:"rank"`
	TotalUsers     int    `json:"totalUsers"`
	Percentile     int    `json:"percentile"`
	CompletedCount int    `json:"completedChallenges"`
}

// FirstSolve is one row of a per-challenge leaderboard: the earliest
// successful attempt of each user, ordered by time.
type FirstSolve struct {
	Rank      int       `json:"rank"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	SolveTime time.Time `json:"timestamp"`
}

// Leaderboard is the snapshot pushed to subscribed clients whenever scores
// change. It mirrors the user leaderboard's top entries.
type Leaderboard struct {
	Entries []LeaderboardEntry
}

type LeaderboardEntry struct {
	Username string
	Score    int
}
