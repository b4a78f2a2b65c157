// Package auth covers login, registration and bearer-token identity. The
// credential store keeps bcrypt hashes; a participant login is identified by
// email plus team name, an admin login by email plus password.
package auth

import (
	"context"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/vaultofvirtue/techescape/internal/domain"
	"github.com/vaultofvirtue/techescape/internal/errors"
	"github.com/vaultofvirtue/techescape/internal/session"
	"github.com/vaultofvirtue/techescape/internal/store"
)

type Store interface {
	RegisterUser(ctx context.Context, req store.RegisterParams) (*domain.User, error)
	UserByID(ctx context.Context, id string) (*domain.User, error)
	UserByEmail(ctx context.Context, email string) (*domain.User, error)
	UserByEmailAndTeam(ctx context.Context, email, teamName string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	PromoteToAdmin(ctx context.Context, email string) error
}

type Config struct {
	Store    Store
	Sessions *session.Service
	Issuer   *Issuer
}

type Service struct {
	store    Store
	sessions *session.Service
	issuer   *Issuer
}

func NewService(c Config) *Service {
	return &Service{
		store:    c.Store,
		sessions: c.Sessions,
		issuer:   c.Issuer,
	}
}

type RegisterRequest struct {
	Username         string `json:"username"`
	Email            string `json:"email"`
	Password         string `json:"password"`
	TeamName         string `json:"teamName"`
	RegistrationType string `json:"registrationType"`
}

type AuthResponse struct {
	Token string       `json:"token"`
	User  *domain.User `json:"user"`
}

// Register creates a user and either founds a new team (the creator becomes
// its leader) or joins an existing one.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	if req.Username == "" || req.Email == "" || req.Password == "" || req.TeamName == "" {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("Username, email, password and team name are required"))
	}

	create := false
	switch req.RegistrationType {
	case "create":
		create = true
	case "join", "":
	default:
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("Unknown registration type %q", req.RegistrationType))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Internal(err)
	}

	u, err := s.store.RegisterUser(ctx, store.RegisterParams{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		TeamName:     req.TeamName,
		CreateTeam:   create,
	})
	if err != nil {
		return nil, err
	}

	token, err := s.issuer.Issue(u)
	if err != nil {
		return nil, errors.Internal(err)
	}

	u.PasswordHash = ""
	return &AuthResponse{Token: token, User: u}, nil
}

// Login authenticates a participant by email and team name and starts or
// continues their challenge session. The tab-switch count resets only when
// a fresh window opens.
func (s *Service) Login(ctx context.Context, email, teamName string) (*AuthResponse, error) {
	if email == "" || teamName == "" {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("Email and team name are required"))
	}

	u, err := s.store.UserByEmailAndTeam(ctx, strings.ToLower(email), strings.ToLower(teamName))
	if errors.CodeOf(err) == errors.CodeNotFound {
		return nil, errors.New(errors.CodeUnauthenticated, errors.WithCause(err))
	}
	if err != nil {
		return nil, err
	}

	st, err := s.sessions.Start(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	u.SessionExpiry = &st.Expiry
	if st.Started {
		u.TabSwitchCount = 0
		u.Disqualified = false
	}

	token, err := s.issuer.Issue(u)
	if err != nil {
		return nil, errors.Internal(err)
	}

	u.PasswordHash = ""
	return &AuthResponse{Token: token, User: u}, nil
}

// AdminLogin authenticates by email and password. Admins have no challenge
// clock, so no session is started.
func (s *Service) AdminLogin(ctx context.Context, email, password string) (*AuthResponse, error) {
	if email == "" || password == "" {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("Email and password are required"))
	}

	u, err := s.store.UserByEmail(ctx, strings.ToLower(email))
	if err != nil {
		return nil, err
	}

	if !u.IsAdmin {
		return nil, errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("Not authorized as admin"))
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, errors.New(errors.CodeUnauthenticated)
	}

	token, err := s.issuer.Issue(u)
	if err != nil {
		return nil, errors.Internal(err)
	}

	u.PasswordHash = ""
	return &AuthResponse{Token: token, User: u}, nil
}

// Verify exposes token verification for the HTTP middleware.
func (s *Service) Verify(token string) (Claims, error) {
	return s.issuer.Verify(token)
}

func (s *Service) CurrentUser(ctx context.Context, uid string) (*domain.User, error) {
	u, err := s.store.UserByID(ctx, uid)
	if err != nil {
		return nil, err
	}
	u.PasswordHash = ""
	return u, nil
}

// Users lists every registered user, admin dashboard only.
func (s *Service) Users(ctx context.Context) ([]domain.User, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i].PasswordHash = ""
	}
	return users, nil
}

// Promote grants admin rights to the user with the given email.
func (s *Service) Promote(ctx context.Context, email string) error {
	if email == "" {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("Email is required"))
	}
	return s.store.PromoteToAdmin(ctx, email)
}
