package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/campusfleet/campusfleet/internal/roles"
	"github.com/campusfleet/campusfleet/internal/token"
)

var (
	// ErrNotAuthenticated indicates an operation that requires an
	// authenticated session.
	ErrNotAuthenticated = errors.New("session: not authenticated")
	// ErrRoleNotHeld indicates a role selection outside the session's
	// role list.
	ErrRoleNotHeld = errors.New("session: role not held")
	// ErrSuperseded indicates a login that resolved after a newer
	// transition on the same session; its result was discarded.
	ErrSuperseded = errors.New("session: superseded")
)

// Session is the live authentication state for one client session.
type Session struct {
	ID            string       `json:"-"`
	Token         string       `json:"-"`
	User          *UserProfile `json:"user"`
	Roles         []roles.Role `json:"roles"`
	SelectedRole  *roles.Role  `json:"selected_role"`
	Authenticated bool         `json:"authenticated"`
}

// HasPermission reports whether the selected role grants the
// permission. Always false while no role is selected.
func (s *Session) HasPermission(p roles.Permission) bool {
	if s == nil || !s.Authenticated || s.SelectedRole == nil {
		return false
	}
	return roles.PermissionsFor(s.SelectedRole.ID).Has(p)
}

// HasRole reports whether the selected role has the given id.
func (s *Session) HasRole(roleID int) bool {
	return s != nil && s.SelectedRole != nil && s.SelectedRole.ID == roleID
}

// Credentials is what the authenticate collaborator returns on success.
type Credentials struct {
	Token     string
	RoleNames []string
}

// Authenticator validates user credentials and issues a bearer token.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (Credentials, error)
}

// ProfileFetcher resolves the account behind a bearer token.
type ProfileFetcher interface {
	FetchCurrentUser(ctx context.Context, bearer string) (*UserProfile, error)
}

// Invalidator revokes server-side session artifacts. Best effort; the
// manager never blocks a logout on its result.
type Invalidator interface {
	InvalidateSession(ctx context.Context, sessionID string) error
}

// LoginOutcome classifies a login attempt so callers can branch
// without unwrapping errors.
type LoginOutcome int

const (
	// LoginDenied means the credentials were rejected.
	LoginDenied LoginOutcome = iota
	// LoginOK means the session is authenticated with a selected role.
	LoginOK
	// LoginRoleChoice means the account holds multiple roles and one
	// must be selected before permission checks succeed.
	LoginRoleChoice
)

// LoginResult is the structured result of a login attempt.
type LoginResult struct {
	Outcome LoginOutcome
	Message string
	Session *Session
}

// Manager is the single source of truth for session state and the
// operations that mutate it. Transitions for one session are guarded
// by a per-session generation counter so a login that resolves after
// a logout, or after a newer login, is discarded instead of
// resurrecting stale state.
type Manager struct {
	store       *Store
	auth        Authenticator
	profiles    ProfileFetcher
	invalidator Invalidator
	logger      *slog.Logger

	mu   sync.Mutex
	gens map[string]uint64
}

// NewManager constructs a Manager.
func NewManager(store *Store, auth Authenticator, profiles ProfileFetcher, invalidator Invalidator, logger *slog.Logger) *Manager {
	return &Manager{
		store:       store,
		auth:        auth,
		profiles:    profiles,
		invalidator: invalidator,
		logger:      logger,
		gens:        make(map[string]uint64),
	}
}

// NewSessionID mints a fresh session identifier.
func (m *Manager) NewSessionID() string {
	return uuid.NewString()
}

// Current materializes the session from its persisted record without
// contacting the directory. An absent or expired token degrades to the
// anonymous state and clears the record. This is the per-request
// check; Restore is the full startup restoration.
func (m *Manager) Current(ctx context.Context, sessionID string) *Session {
	rec, err := m.store.Load(ctx, sessionID)
	if err != nil {
		m.logger.Warn("session load failed", slog.Any("error", err))
		return m.anonymous(sessionID)
	}
	if rec.Token == "" || token.IsExpired(rec.Token) {
		if rec.Token != "" {
			m.clear(ctx, sessionID)
		}
		return m.anonymous(sessionID)
	}
	return m.materialize(sessionID, rec)
}

// Restore performs startup restoration: it validates the persisted
// token, refetches the user profile, and auto-selects the role when
// exactly one is held. Any failure degrades to the anonymous state
// with the record cleared, indistinguishable from an expired session.
func (m *Manager) Restore(ctx context.Context, sessionID string) *Session {
	rec, err := m.store.Load(ctx, sessionID)
	if err != nil {
		m.logger.Warn("session restore load failed", slog.Any("error", err))
		return m.anonymous(sessionID)
	}
	if rec.Token == "" || token.IsExpired(rec.Token) {
		m.clear(ctx, sessionID)
		return m.anonymous(sessionID)
	}

	profile, err := m.profiles.FetchCurrentUser(ctx, rec.Token)
	if err != nil {
		m.logger.Warn("session restore profile fetch failed", slog.Any("error", err))
		m.clear(ctx, sessionID)
		return m.anonymous(sessionID)
	}
	rec.User = profile

	if rec.SelectedRole == nil && len(rec.Roles) == 1 {
		rec.SelectedRole = &rec.Roles[0]
	}

	if err := m.store.Save(ctx, sessionID, rec); err != nil {
		m.logger.Warn("session restore save failed", slog.Any("error", err))
	}
	return m.materialize(sessionID, rec)
}

// Login authenticates credentials and populates the session. Rejected
// credentials come back as a LoginDenied result, not an error; errors
// are reserved for infrastructure faults. A profile fetch failure
// after successful authentication is tolerated: the token is already
// proven valid, so the session authenticates with a nil profile.
func (m *Manager) Login(ctx context.Context, sessionID, username, password string) (LoginResult, error) {
	gen := m.generation(sessionID)

	creds, err := m.auth.Authenticate(ctx, username, password)
	if err != nil {
		return LoginResult{
			Outcome: LoginDenied,
			Message: err.Error(),
			Session: m.anonymous(sessionID),
		}, nil
	}

	rec := Record{
		Token: creds.Token,
		Roles: roles.MapRoleNames(creds.RoleNames),
	}

	profile, err := m.profiles.FetchCurrentUser(ctx, creds.Token)
	if err != nil {
		m.logger.Warn("profile fetch after login failed", slog.Any("error", err))
	} else {
		rec.User = profile
	}

	if len(rec.Roles) == 1 {
		rec.SelectedRole = &rec.Roles[0]
	}

	if !m.advance(sessionID, gen) {
		return LoginResult{}, ErrSuperseded
	}

	if err := m.store.Save(ctx, sessionID, rec); err != nil {
		return LoginResult{}, err
	}

	sess := m.materialize(sessionID, rec)
	if rec.SelectedRole == nil {
		return LoginResult{Outcome: LoginRoleChoice, Message: "multiple roles available", Session: sess}, nil
	}
	return LoginResult{Outcome: LoginOK, Session: sess}, nil
}

// SelectRole records the active role for an authenticated session.
// The role must be one of the session's roles.
func (m *Manager) SelectRole(ctx context.Context, sessionID string, role roles.Role) (*Session, error) {
	rec, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if rec.Token == "" || token.IsExpired(rec.Token) {
		return nil, ErrNotAuthenticated
	}
	held := false
	for i := range rec.Roles {
		if rec.Roles[i].ID == role.ID {
			role = rec.Roles[i]
			held = true
			break
		}
	}
	if !held {
		return nil, ErrRoleNotHeld
	}
	rec.SelectedRole = &role
	if err := m.store.Save(ctx, sessionID, rec); err != nil {
		return nil, err
	}
	return m.materialize(sessionID, rec), nil
}

// Logout resets the session to the anonymous state. The server-side
// invalidation is best effort and never blocks the local transition.
func (m *Manager) Logout(ctx context.Context, sessionID string) *Session {
	m.bump(sessionID)
	if m.invalidator != nil {
		if err := m.invalidator.InvalidateSession(ctx, sessionID); err != nil {
			m.logger.Warn("session invalidation failed", slog.Any("error", err))
		}
	}
	m.clear(ctx, sessionID)
	return m.anonymous(sessionID)
}

func (m *Manager) anonymous(sessionID string) *Session {
	return &Session{ID: sessionID, Roles: []roles.Role{}}
}

func (m *Manager) materialize(sessionID string, rec Record) *Session {
	list := rec.Roles
	if list == nil {
		list = []roles.Role{}
	}
	return &Session{
		ID:            sessionID,
		Token:         rec.Token,
		User:          rec.User,
		Roles:         list,
		SelectedRole:  rec.SelectedRole,
		Authenticated: true,
	}
}

func (m *Manager) clear(ctx context.Context, sessionID string) {
	if err := m.store.Clear(ctx, sessionID); err != nil {
		m.logger.Warn("session clear failed", slog.Any("error", err))
	}
}

func (m *Manager) generation(sessionID string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gens[sessionID]
}

// advance commits a transition started at gen. It fails when a newer
// transition has happened in between.
func (m *Manager) advance(sessionID string, gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gens[sessionID] != gen {
		return false
	}
	m.gens[sessionID] = gen + 1
	return true
}

func (m *Manager) bump(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gens[sessionID]++
}
