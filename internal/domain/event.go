package domain

import "time"

const (
	EventNameScoreUpdated        = "score.updated"
	EventNameLeaderboardUpdated  = "leaderboard.updated"
	EventNameSessionDisqualified = "session.disqualified"
)

// EventScoreUpdated fires once per committed scoring transaction.
type EventScoreUpdated struct {
	UserID     string
	Username   string
	TotalScore int
	UpdateTime time.Time
}

func (EventScoreUpdated) Name() string { return EventNameScoreUpdated }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }

// EventSessionDisqualified fires exactly once, when a user's tab-switch
// count crosses the limit.
type EventSessionDisqualified struct {
	UserID         string
	Username       string
	TabSwitchCount int
}

func (EventSessionDisqualified) Name() string { return EventNameSessionDisqualified }
