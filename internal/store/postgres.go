package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vaultofvirtue/techescape/internal/domain"
	"github.com/vaultofvirtue/techescape/internal/errors"
)

const codeUniqueViolation = "23505"

type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

// wrap classifies a low-level error: timeouts and dial failures become
// retryable CodeUnavailable, everything else stays as-is for the caller.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return errors.New(errors.CodeUnavailable,
			errors.WithCause(fmt.Errorf("%s: %w", op, err)))
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUnique(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) &&
		pgErr.Code == codeUniqueViolation &&
		(constraint == "" || strings.Contains(pgErr.ConstraintName, constraint))
}

// --- users & teams ---

func (p *Postgres) RegisterUser(ctx context.Context, req RegisterParams) (u *domain.User, err error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return nil, wrap("register: begin", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	u = &domain.User{
		ID:                  uuid.NewString(),
		Username:            req.Username,
		Email:               strings.ToLower(req.Email),
		PasswordHash:        req.PasswordHash,
		TeamName:            strings.ToLower(req.TeamName),
		Role:                domain.RoleMember,
		CompletedChallenges: []string{},
		CreatedAt:           time.Now(),
	}

	if req.CreateTeam {
		u.TeamID = uuid.NewString()
		u.Role = domain.RoleLeader
		_, err = tx.Exec(ctx,
			`INSERT INTO teams (id, name) VALUES ($1, $2)`,
			u.TeamID, u.TeamName)
		if isUnique(err, "teams_name") {
			return nil, errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("Team name already exists"),
				errors.WithCause(err))
		}
		if err != nil {
			return nil, wrap("register: insert team", err)
		}
	} else {
		err = tx.QueryRow(ctx,
			`SELECT id FROM teams WHERE name = $1`, u.TeamName).Scan(&u.TeamID)
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.New(errors.CodeNotFound,
				errors.WithMessagef("Team not found"))
		}
		if err != nil {
			return nil, wrap("register: find team", err)
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO users (id, username, email, password_hash, team_id, role)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.TeamID, u.Role)
	if isUnique(err, "users_email") {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("Email already in use"),
			errors.WithCause(err))
	}
	if err != nil {
		return nil, wrap("register: insert user", err)
	}

	return u, wrap("register: commit", tx.Commit(ctx))
}

const userColumns = `
	u.id, u.username, u.email, u.password_hash, COALESCE(u.team_id, ''),
	COALESCE(t.name, ''), u.role, u.is_admin, u.disqualified, u.score,
	u.session_expiry, u.tab_switch_count, u.created_at`

func (p *Postgres) scanUser(ctx context.Context, row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.TeamID,
		&u.TeamName, &u.Role, &u.IsAdmin, &u.Disqualified, &u.Score,
		&u.SessionExpiry, &u.TabSwitchCount, &u.CreatedAt,
	)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("User not found"))
	}
	if err != nil {
		return nil, wrap("scan user", err)
	}

	u.CompletedChallenges, err = p.completedIDs(ctx, u.ID)
	if err != nil {
		return nil, err
	}

	return &u, nil
}

func (p *Postgres) completedIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := p.db.Query(ctx,
		`SELECT challenge_id FROM completions WHERE user_id = $1 ORDER BY created_at`,
		userID)
	if err != nil {
		return nil, wrap("completed ids", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, wrap("completed ids", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (p *Postgres) UserByID(ctx context.Context, id string) (*domain.User, error) {
	row := p.db.QueryRow(ctx,
		`SELECT`+userColumns+` FROM users u LEFT JOIN teams t ON t.id = u.team_id WHERE u.id = $1`,
		id)
	return p.scanUser(ctx, row)
}

func (p *Postgres) UserByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := p.db.QueryRow(ctx,
		`SELECT`+userColumns+` FROM users u LEFT JOIN teams t ON t.id = u.team_id WHERE u.email = $1`,
		strings.ToLower(email))
	return p.scanUser(ctx, row)
}

func (p *Postgres) UserByEmailAndTeam(ctx context.Context, email, teamName string) (*domain.User, error) {
	row := p.db.QueryRow(ctx,
		`SELECT`+userColumns+`
		 FROM users u JOIN teams t ON t.id = u.team_id
		 WHERE u.email = $1 AND t.name = $2`,
		strings.ToLower(email), strings.ToLower(teamName))
	return p.scanUser(ctx, row)
}

func (p *Postgres) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := p.db.Query(ctx,
		`SELECT`+userColumns+` FROM users u LEFT JOIN teams t ON t.id = u.team_id ORDER BY u.username`)
	if err != nil {
		return nil, wrap("list users", err)
	}

	users, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.User, error) {
		var u domain.User
		err := r.Scan(
			&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.TeamID,
			&u.TeamName, &u.Role, &u.IsAdmin, &u.Disqualified, &u.Score,
			&u.SessionExpiry, &u.TabSwitchCount, &u.CreatedAt,
		)
		return u, err
	})
	if err != nil {
		return nil, wrap("list users", err)
	}

	for i := range users {
		users[i].CompletedChallenges, err = p.completedIDs(ctx, users[i].ID)
		if err != nil {
			return nil, err
		}
	}

	return users, nil
}

func (p *Postgres) PromoteToAdmin(ctx context.Context, email string) error {
	tag, err := p.db.Exec(ctx,
		`UPDATE users SET is_admin = TRUE WHERE email = $1`, strings.ToLower(email))
	if err != nil {
		return wrap("promote", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("User not found"))
	}
	return nil
}

// --- session state ---

// StartSession opens a fresh challenge window only when no active session
// exists; an active window is preserved untouched so that re-login cannot
// extend time. A fresh start resets the tab-switch count and clears a
// previous disqualification.
func (p *Postgres) StartSession(ctx context.Context, userID string, now, expiry time.Time) (SessionStart, error) {
	var got time.Time
	err := p.db.QueryRow(ctx,
		`UPDATE users
		 SET session_expiry = $3, tab_switch_count = 0, disqualified = FALSE
		 WHERE id = $1 AND (session_expiry IS NULL OR session_expiry <= $2)
		 RETURNING session_expiry`,
		userID, now, expiry).Scan(&got)
	if err == nil {
		return SessionStart{Started: true, Expiry: got}, nil
	}
	if !stderrors.Is(err, pgx.ErrNoRows) {
		return SessionStart{}, wrap("start session", err)
	}

	// Active session already in place; report its expiry.
	var cur *time.Time
	err = p.db.QueryRow(ctx,
		`SELECT session_expiry FROM users WHERE id = $1`, userID).Scan(&cur)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return SessionStart{}, errors.New(errors.CodeNotFound, errors.WithMessagef("User not found"))
	}
	if err != nil {
		return SessionStart{}, wrap("start session: read expiry", err)
	}
	if cur == nil {
		return SessionStart{}, fmt.Errorf("start session: no window opened and none active for user %s", userID)
	}
	return SessionStart{Started: false, Expiry: *cur}, nil
}

// RecordTabSwitch serializes increments per user through a row lock, so the
// count never exceeds max and disqualification fires exactly once.
func (p *Postgres) RecordTabSwitch(ctx context.Context, userID string, now time.Time, max int) (res TabSwitchResult, err error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return res, wrap("tab switch: begin", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	err = tx.QueryRow(ctx,
		`SELECT tab_switch_count, disqualified FROM users WHERE id = $1 FOR UPDATE`,
		userID).Scan(&res.Count, &res.Disqualified)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return res, errors.New(errors.CodeNotFound, errors.WithMessagef("User not found"))
	}
	if err != nil {
		return res, wrap("tab switch: lock user", err)
	}

	if res.Disqualified || res.Count >= max {
		// Terminal state, report as-is.
		return res, wrap("tab switch: commit", tx.Commit(ctx))
	}

	res.Count++
	if res.Count >= max {
		res.Disqualified = true
		res.Crossed = true
		_, err = tx.Exec(ctx,
			`UPDATE users SET tab_switch_count = $2, disqualified = TRUE, session_expiry = $3 WHERE id = $1`,
			userID, res.Count, now)
	} else {
		_, err = tx.Exec(ctx,
			`UPDATE users SET tab_switch_count = $2 WHERE id = $1`,
			userID, res.Count)
	}
	if err != nil {
		return res, wrap("tab switch: update", err)
	}

	return res, wrap("tab switch: commit", tx.Commit(ctx))
}

// --- challenges ---

func (p *Postgres) CreateChallenge(ctx context.Context, c *domain.Challenge) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.Type = domain.ResolveChallengeType(string(c.Type))
	_, err := p.db.Exec(ctx,
		`INSERT INTO challenges (id, title, description, difficulty, type, points, initial_code, hints, solution)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.Title, c.Description, c.Difficulty, c.Type, c.Points, c.InitialCode, c.Hints, c.Solution)
	return wrap("create challenge", err)
}

const challengeColumns = `id, title, description, difficulty, type, points, initial_code, hints, solution, created_at`

func scanChallenge(r pgx.Row) (domain.Challenge, error) {
	var (
		c   domain.Challenge
		tag string
	)
	err := r.Scan(&c.ID, &c.Title, &c.Description, &c.Difficulty, &tag,
		&c.Points, &c.InitialCode, &c.Hints, &c.Solution, &c.CreatedAt)
	c.Type = domain.ResolveChallengeType(tag)
	return c, err
}

func (p *Postgres) ChallengeByID(ctx context.Context, id string) (*domain.Challenge, error) {
	c, err := scanChallenge(p.db.QueryRow(ctx,
		`SELECT `+challengeColumns+` FROM challenges WHERE id = $1`, id))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("Challenge not found"))
	}
	if err != nil {
		return nil, wrap("challenge by id", err)
	}
	return &c, nil
}

func (p *Postgres) ListChallenges(ctx context.Context) ([]domain.Challenge, error) {
	rows, err := p.db.Query(ctx,
		`SELECT `+challengeColumns+` FROM challenges ORDER BY difficulty, points`)
	if err != nil {
		return nil, wrap("list challenges", err)
	}

	cs, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Challenge, error) {
		return scanChallenge(r)
	})
	if err != nil {
		return nil, wrap("list challenges", err)
	}
	return cs, nil
}

func (p *Postgres) CountChallenges(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRow(ctx, `SELECT COUNT(*) FROM challenges`).Scan(&n)
	return n, wrap("count challenges", err)
}

// --- scoring ---

// AwardPoints is the core scoring transaction. The insert into completions
// re-checks the completed set under the table's primary key: a concurrent
// duplicate submission hits the unique violation and the whole transaction
// aborts with CodeAlreadyCompleted, leaving no partial state.
func (p *Postgres) AwardPoints(ctx context.Context, req AwardParams) (total int, completed []string, err error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return 0, nil, wrap("award: begin", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	_, err = tx.Exec(ctx,
		`INSERT INTO completions (user_id, challenge_id, created_at) VALUES ($1, $2, $3)`,
		req.UserID, req.ChallengeID, req.Attempt.SubmitTime)
	if isUnique(err, "completions") {
		return 0, nil, errors.New(errors.CodeAlreadyCompleted, errors.WithCause(err))
	}
	if err != nil {
		return 0, nil, wrap("award: insert completion", err)
	}

	var teamID *string
	err = tx.QueryRow(ctx,
		`UPDATE users SET score = score + $2 WHERE id = $1 RETURNING score, team_id`,
		req.UserID, req.Points).Scan(&total, &teamID)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return 0, nil, errors.New(errors.CodeNotFound, errors.WithMessagef("User not found"))
	}
	if err != nil {
		return 0, nil, wrap("award: update user score", err)
	}

	if teamID != nil && *teamID != "" {
		tag, terr := tx.Exec(ctx,
			`UPDATE teams SET score = score + $2 WHERE id = $1`,
			*teamID, req.Points)
		if terr != nil {
			return 0, nil, wrap("award: update team score", terr)
		}
		if tag.RowsAffected() == 0 {
			// Dangling team reference; surface loudly instead of committing
			// an inconsistent aggregate.
			return 0, nil, errors.New(errors.CodeInternal,
				errors.WithMessagef("Server error"),
				errors.WithCause(fmt.Errorf("award: user %s references missing team %s", req.UserID, *teamID)))
		}
	}

	if err = insertAttempt(ctx, tx, req.Attempt); err != nil {
		return 0, nil, err
	}
	if err = insertLog(ctx, tx, req.Log); err != nil {
		return 0, nil, err
	}

	rows, err := tx.Query(ctx,
		`SELECT challenge_id FROM completions WHERE user_id = $1 ORDER BY created_at`,
		req.UserID)
	if err != nil {
		return 0, nil, wrap("award: completed ids", err)
	}
	completed, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return 0, nil, wrap("award: completed ids", err)
	}

	return total, completed, wrap("award: commit", tx.Commit(ctx))
}

// RecordFailedAttempt appends the failed attempt and its security log entry
// in one transaction. No score state is touched.
func (p *Postgres) RecordFailedAttempt(ctx context.Context, a domain.Attempt, l domain.SecurityLogEntry) (err error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return wrap("failed attempt: begin", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	if err = insertAttempt(ctx, tx, a); err != nil {
		return err
	}
	if err = insertLog(ctx, tx, l); err != nil {
		return err
	}

	return wrap("failed attempt: commit", tx.Commit(ctx))
}

func insertAttempt(ctx context.Context, tx pgx.Tx, a domain.Attempt) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO attempts (id, user_id, username, challenge_id, challenge_title, solution, success, points_earned, submit_time)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.UserID, a.Username, a.ChallengeID, a.ChallengeTitle, a.Solution, a.Success, a.PointsEarned, a.SubmitTime)
	return wrap("insert attempt", err)
}

func insertLog(ctx context.Context, tx pgx.Tx, l domain.SecurityLogEntry) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	var challengeID *string
	if l.ChallengeID != "" {
		challengeID = &l.ChallengeID
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO security_logs (id, type, user_id, challenge_id, detail, log_time)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		l.ID, l.Type, l.UserID, challengeID, l.Detail, l.LogTime)
	return wrap("insert security log", err)
}

// --- security log ---

func (p *Postgres) AppendSecurityLog(ctx context.Context, l domain.SecurityLogEntry) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	var challengeID *string
	if l.ChallengeID != "" {
		challengeID = &l.ChallengeID
	}
	_, err := p.db.Exec(ctx,
		`INSERT INTO security_logs (id, type, user_id, challenge_id, detail, log_time)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		l.ID, l.Type, l.UserID, challengeID, l.Detail, l.LogTime)
	return wrap("append security log", err)
}

func (p *Postgres) RecentSecurityLogs(ctx context.Context, limit int) ([]domain.SecurityLogEntry, error) {
	rows, err := p.db.Query(ctx,
		`SELECT id, type, user_id, COALESCE(challenge_id, ''), detail, log_time
		 FROM security_logs ORDER BY log_time DESC LIMIT $1`,
		limit)
	if err != nil {
		return nil, wrap("recent logs", err)
	}

	logs, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.SecurityLogEntry, error) {
		var l domain.SecurityLogEntry
		err := r.Scan(&l.ID, &l.Type, &l.UserID, &l.ChallengeID, &l.Detail, &l.LogTime)
		return l, err
	})
	if err != nil {
		return nil, wrap("recent logs", err)
	}
	return logs, nil
}

// --- leaderboard reads ---

func (p *Postgres) UserStandings(ctx context.Context, limit, offset int) ([]domain.UserStanding, error) {
	rows, err := p.db.Query(ctx,
		`SELECT u.id, u.username, COALESCE(t.name, ''), u.score,
		        (SELECT COUNT(*) FROM completions c WHERE c.user_id = u.id)
		 FROM users u LEFT JOIN teams t ON t.id = u.team_id
		 ORDER BY u.score DESC, u.username ASC
		 LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, wrap("user standings", err)
	}

	standings, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.UserStanding, error) {
		var s domain.UserStanding
		err := r.Scan(&s.UserID, &s.Username, &s.TeamName, &s.Score, &s.CompletedCount)
		return s, err
	})
	if err != nil {
		return nil, wrap("user standings", err)
	}
	return standings, nil
}

func (p *Postgres) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, wrap("count users", err)
}

func (p *Postgres) CountUsersWithGreaterScore(ctx context.Context, score int) (int, error) {
	var n int
	err := p.db.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE score > $1`, score).Scan(&n)
	return n, wrap("count greater", err)
}

// TeamStandings aggregates per team. Completed challenges count the union
// of member completions: a challenge solved by two members counts once.
func (p *Postgres) TeamStandings(ctx context.Context) ([]domain.TeamStanding, error) {
	rows, err := p.db.Query(ctx,
		`SELECT t.id, t.name, t.score,
		        COUNT(u.id),
		        (SELECT COUNT(DISTINCT c.challenge_id)
		         FROM completions c JOIN users m ON m.id = c.user_id
		         WHERE m.team_id = t.id)
		 FROM teams t LEFT JOIN users u ON u.team_id = t.id
		 GROUP BY t.id, t.name, t.score
		 ORDER BY t.score DESC, t.name ASC`)
	if err != nil {
		return nil, wrap("team standings", err)
	}

	standings, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.TeamStanding, error) {
		var s domain.TeamStanding
		err := r.Scan(&s.TeamID, &s.Name, &s.Score, &s.MemberCount, &s.CompletedChallenges)
		return s, err
	})
	if err != nil {
		return nil, wrap("team standings", err)
	}
	return standings, nil
}

func (p *Postgres) TeamByID(ctx context.Context, id string) (*domain.Team, error) {
	var t domain.Team
	err := p.db.QueryRow(ctx,
		`SELECT id, name, score, created_at FROM teams WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.Score, &t.CreatedAt)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("Team not found"))
	}
	if err != nil {
		return nil, wrap("team by id", err)
	}

	rows, err := p.db.Query(ctx,
		`SELECT id, username, email, role, score FROM users WHERE team_id = $1 ORDER BY role, username`,
		id)
	if err != nil {
		return nil, wrap("team members", err)
	}
	t.Members, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.TeamMember, error) {
		var m domain.TeamMember
		err := r.Scan(&m.UserID, &m.Username, &m.Email, &m.Role, &m.Score)
		return m, err
	})
	if err != nil {
		return nil, wrap("team members", err)
	}

	return &t, nil
}

// FirstSolves lists the earliest successful attempt per user for one
// challenge, ordered by time.
func (p *Postgres) FirstSolves(ctx context.Context, challengeID string) ([]domain.FirstSolve, error) {
	rows, err := p.db.Query(ctx,
		`SELECT DISTINCT ON (user_id) user_id, username, submit_time
		 FROM attempts
		 WHERE challenge_id = $1 AND success
		 ORDER BY user_id, submit_time ASC`,
		challengeID)
	if err != nil {
		return nil, wrap("first solves", err)
	}

	solves, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.FirstSolve, error) {
		var s domain.FirstSolve
		err := r.Scan(&s.UserID, &s.Username, &s.SolveTime)
		return s, err
	})
	if err != nil {
		return nil, wrap("first solves", err)
	}

	sortFirstSolves(solves)
	for i := range solves {
		solves[i].Rank = i + 1
	}
	return solves, nil
}
