package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vaultofvirtue/techescape/internal/domain"
	"github.com/vaultofvirtue/techescape/internal/errors"
)

// Memory is an in-memory store with the same transactional contract as
// Postgres: one mutex serializes every mutation, so the scoring re-check
// and the tab-switch increment are atomic. Tests run against it.
type Memory struct {
	mu         sync.Mutex
	users      map[string]*domain.User
	teams      map[string]*domain.Team
	challenges map[string]*domain.Challenge
	attempts   []domain.Attempt
	logs       []domain.SecurityLogEntry
}

func NewMemory() *Memory {
	return &Memory{
		users:      make(map[string]*domain.User),
		teams:      make(map[string]*domain.Team),
		challenges: make(map[string]*domain.Challenge),
	}
}

func cloneUser(u *domain.User) *domain.User {
	c := *u
	c.CompletedChallenges = append([]string{}, u.CompletedChallenges...)
	if u.SessionExpiry != nil {
		t := *u.SessionExpiry
		c.SessionExpiry = &t
	}
	return &c
}

// --- users & teams ---

func (m *Memory) RegisterUser(_ context.Context, req RegisterParams) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	email := strings.ToLower(req.Email)
	for _, u := range m.users {
		if u.Email == email {
			return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("Email already in use"))
		}
	}

	teamName := strings.ToLower(req.TeamName)
	u := &domain.User{
		ID:                  uuid.NewString(),
		Username:            req.Username,
		Email:               email,
		PasswordHash:        req.PasswordHash,
		TeamName:            teamName,
		Role:                domain.RoleMember,
		CompletedChallenges: []string{},
		CreatedAt:           time.Now(),
	}

	if req.CreateTeam {
		for _, t := range m.teams {
			if t.Name == teamName {
				return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("Team name already exists"))
			}
		}
		t := &domain.Team{ID: uuid.NewString(), Name: teamName, CreatedAt: time.Now()}
		m.teams[t.ID] = t
		u.TeamID = t.ID
		u.Role = domain.RoleLeader
	} else {
		var found *domain.Team
		for _, t := range m.teams {
			if t.Name == teamName {
				found = t
				break
			}
		}
		if found == nil {
			return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("Team not found"))
		}
		u.TeamID = found.ID
	}

	m.users[u.ID] = u
	return cloneUser(u), nil
}

func (m *Memory) UserByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("User not found"))
	}
	return cloneUser(u), nil
}

func (m *Memory) UserByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	email = strings.ToLower(email)
	for _, u := range m.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("User not found"))
}

func (m *Memory) UserByEmailAndTeam(_ context.Context, email, teamName string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	email, teamName = strings.ToLower(email), strings.ToLower(teamName)
	for _, u := range m.users {
		if u.Email == email && u.TeamName == teamName {
			return cloneUser(u), nil
		}
	}
	return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("User not found"))
}

func (m *Memory) ListUsers(_ context.Context) ([]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	users := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, *cloneUser(u))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (m *Memory) PromoteToAdmin(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	email = strings.ToLower(email)
	for _, u := range m.users {
		if u.Email == email {
			u.IsAdmin = true
			return nil
		}
	}
	return errors.New(errors.CodeNotFound, errors.WithMessagef("User not found"))
}

// --- session state ---

func (m *Memory) StartSession(_ context.Context, userID string, now, expiry time.Time) (SessionStart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return SessionStart{}, errors.New(errors.CodeNotFound, errors.WithMessagef("User not found"))
	}

	if u.SessionExpiry != nil && u.SessionExpiry.After(now) {
		return SessionStart{Started: false, Expiry: *u.SessionExpiry}, nil
	}

	e := expiry
	u.SessionExpiry = &e
	u.TabSwitchCount = 0
	u.Disqualified = false
	return SessionStart{Started: true, Expiry: e}, nil
}

func (m *Memory) RecordTabSwitch(_ context.Context, userID string, now time.Time, max int) (TabSwitchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return TabSwitchResult{}, errors.New(errors.CodeNotFound, errors.WithMessagef("User not found"))
	}

	res := TabSwitchResult{Count: u.TabSwitchCount, Disqualified: u.Disqualified}
	if u.Disqualified || u.TabSwitchCount >= max {
		return res, nil
	}

	u.TabSwitchCount++
	res.Count = u.TabSwitchCount
	if u.TabSwitchCount >= max {
		u.Disqualified = true
		t := now
		u.SessionExpiry = &t
		res.Disqualified = true
		res.Crossed = true
	}
	return res, nil
}

// --- challenges ---

func (m *Memory) CreateChallenge(_ context.Context, c *domain.Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.Type = domain.ResolveChallengeType(string(c.Type))
	cc := *c
	m.challenges[c.ID] = &cc
	return nil
}

func (m *Memory) ChallengeByID(_ context.Context, id string) (*domain.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.challenges[id]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("Challenge not found"))
	}
	cc := *c
	return &cc, nil
}

func (m *Memory) ListChallenges(_ context.Context) ([]domain.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs := make([]domain.Challenge, 0, len(m.challenges))
	for _, c := range m.challenges {
		cs = append(cs, *c)
	}
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].Difficulty != cs[j].Difficulty {
			return cs[i].Difficulty < cs[j].Difficulty
		}
		return cs[i].Points < cs[j].Points
	})
	return cs, nil
}

func (m *Memory) CountChallenges(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.challenges), nil
}

// --- scoring ---

func (m *Memory) AwardPoints(_ context.Context, req AwardParams) (int, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[req.UserID]
	if !ok {
		return 0, nil, errors.New(errors.CodeNotFound, errors.WithMessagef("User not found"))
	}

	// Re-check inside the critical section; this is the at-most-one-credit
	// guarantee.
	if u.Completed(req.ChallengeID) {
		return 0, nil, errors.New(errors.CodeAlreadyCompleted)
	}

	if u.TeamID != "" {
		t, ok := m.teams[u.TeamID]
		if !ok {
			return 0, nil, errors.New(errors.CodeInternal,
				errors.WithMessagef("Server error"),
				errors.WithCause(fmt.Errorf("award: user %s references missing team %s", u.ID, u.TeamID)))
		}
		t.Score += req.Points
	}

	u.CompletedChallenges = append(u.CompletedChallenges, req.ChallengeID)
	u.Score += req.Points
	m.attempts = append(m.attempts, req.Attempt)
	m.logs = append(m.logs, req.Log)

	return u.Score, append([]string{}, u.CompletedChallenges...), nil
}

func (m *Memory) RecordFailedAttempt(_ context.Context, a domain.Attempt, l domain.SecurityLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attempts = append(m.attempts, a)
	m.logs = append(m.logs, l)
	return nil
}

// Attempts returns a copy of all recorded attempts, oldest first.
func (m *Memory) Attempts() []domain.Attempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Attempt{}, m.attempts...)
}

// --- security log ---

func (m *Memory) AppendSecurityLog(_ context.Context, l domain.SecurityLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	m.logs = append(m.logs, l)
	return nil
}

func (m *Memory) RecentSecurityLogs(_ context.Context, limit int) ([]domain.SecurityLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	logs := append([]domain.SecurityLogEntry{}, m.logs...)
	sort.SliceStable(logs, func(i, j int) bool { return logs[i].LogTime.After(logs[j].LogTime) })
	if len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

// --- leaderboard reads ---

func (m *Memory) UserStandings(_ context.Context, limit, offset int) ([]domain.UserStanding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	standings := make([]domain.UserStanding, 0, len(m.users))
	for _, u := range m.users {
		standings = append(standings, domain.UserStanding{
			UserID:         u.ID,
			Username:       u.Username,
			TeamName:       u.TeamName,
			Score:          u.Score,
			CompletedCount: len(u.CompletedChallenges),
		})
	}
	sort.Slice(standings, func(i, j int) bool {
		if standings[i].Score != standings[j].Score {
			return standings[i].Score > standings[j].Score
		}
		return standings[i].Username < standings[j].Username
	})

	if offset >= len(standings) {
		return []domain.UserStanding{}, nil
	}
	standings = standings[offset:]
	if len(standings) > limit {
		standings = standings[:limit]
	}
	return standings, nil
}

func (m *Memory) CountUsers(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users), nil
}

func (m *Memory) CountUsersWithGreaterScore(_ context.Context, score int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, u := range m.users {
		if u.Score > score {
			n++
		}
	}
	return n, nil
}

func (m *Memory) TeamStandings(_ context.Context) ([]domain.TeamStanding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	standings := make([]domain.TeamStanding, 0, len(m.teams))
	for _, t := range m.teams {
		s := domain.TeamStanding{TeamID: t.ID, Name: t.Name, Score: t.Score}
		union := make(map[string]struct{})
		for _, u := range m.users {
			if u.TeamID != t.ID {
				continue
			}
			s.MemberCount++
			for _, id := range u.CompletedChallenges {
				union[id] = struct{}{}
			}
		}
		s.CompletedChallenges = len(union)
		standings = append(standings, s)
	}
	sort.Slice(standings, func(i, j int) bool {
		if standings[i].Score != standings[j].Score {
			return standings[i].Score > standings[j].Score
		}
		return standings[i].Name < standings[j].Name
	})
	return standings, nil
}

func (m *Memory) TeamByID(_ context.Context, id string) (*domain.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.teams[id]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("Team not found"))
	}

	tt := *t
	tt.Members = nil
	for _, u := range m.users {
		if u.TeamID == id {
			tt.Members = append(tt.Members, domain.TeamMember{
				UserID:   u.ID,
				Username: u.Username,
				Email:    u.Email,
				Role:     u.Role,
				Score:    u.Score,
			})
		}
	}
	sort.Slice(tt.Members, func(i, j int) bool {
		if tt.Members[i].Role != tt.Members[j].Role {
			return tt.Members[i].Role < tt.Members[j].Role
		}
		return tt.Members[i].Username < tt.Members[j].Username
	})
	return &tt, nil
}

func (m *Memory) FirstSolves(_ context.Context, challengeID string) ([]domain.FirstSolve, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]struct{})
	var solves []domain.FirstSolve
	for _, a := range m.attempts {
		if a.ChallengeID != challengeID || !a.Success {
			continue
		}
		if _, ok := seen[a.UserID]; ok {
			continue
		}
		seen[a.UserID] = struct{}{}
		solves = append(solves, domain.FirstSolve{
			UserID:    a.UserID,
			Username:  a.Username,
			SolveTime: a.SubmitTime,
		})
	}

	sortFirstSolves(solves)
	for i := range solves {
		solves[i].Rank = i + 1
	}
	return solves, nil
}

func sortFirstSolves(solves []domain.FirstSolve) {
	sort.SliceStable(solves, func(i, j int) bool {
		return solves[i].SolveTime.Before(solves[j].SolveTime)
	})
}
