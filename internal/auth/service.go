package auth

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/unicode/norm"

	"github.com/campusfleet/campusfleet/internal/session"
	"github.com/campusfleet/campusfleet/internal/shared"
	"github.com/campusfleet/campusfleet/internal/token"
)

// Service wraps authentication business rules. It is the concrete
// directory behind the session manager: it validates credentials,
// issues bearer tokens, resolves profiles, and revokes sessions.
type Service struct {
	repo   Repository
	issuer *token.Issuer
	logger *slog.Logger
}

// NewService constructs a new Service.
func NewService(repo Repository, issuer *token.Issuer, logger *slog.Logger) *Service {
	return &Service{repo: repo, issuer: issuer, logger: logger}
}

// Authenticate validates username/password credentials and issues a
// bearer token carrying the account's role names.
func (s *Service) Authenticate(ctx context.Context, username, password string) (session.Credentials, error) {
	user, err := s.repo.FindByUsername(ctx, normalizeUsername(username))
	if err != nil {
		return session.Credentials{}, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return session.Credentials{}, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return session.Credentials{}, shared.ErrInvalidCredentials
	}

	names, err := s.repo.RoleNamesForUser(ctx, user.ID)
	if err != nil {
		return session.Credentials{}, err
	}
	bearer, err := s.issuer.Issue(strconv.FormatInt(user.ID, 10), names)
	if err != nil {
		return session.Credentials{}, err
	}
	return session.Credentials{Token: bearer, RoleNames: names}, nil
}

// FetchCurrentUser resolves the account behind a bearer token. The
// signature is verified here; the advisory decode in the session layer
// is never trusted for this.
func (s *Service) FetchCurrentUser(ctx context.Context, bearer string) (*session.UserProfile, error) {
	claims, err := s.issuer.Verify(bearer)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &session.UserProfile{
		ID:       user.ID,
		Username: user.Username,
		FullName: user.FullName,
		Email:    user.Email,
	}, nil
}

// InvalidateSession deletes the audit record for a session.
func (s *Service) InvalidateSession(ctx context.Context, sessionID string) error {
	return s.repo.DeleteSession(ctx, sessionID)
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, sessionID, bearer, ip, ua string) error {
	claims, err := s.issuer.Verify(bearer)
	if err != nil {
		return err
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return err
	}
	expiresAt := time.Now().Add(s.issuer.TTL())
	if claims.Exp != nil {
		expiresAt = time.Unix(int64(*claims.Exp), 0)
	}
	return s.repo.CreateSession(ctx, sessionID, userID, expiresAt, ip, ua)
}

// ListActiveSessions returns the unexpired audit records.
func (s *Service) ListActiveSessions(ctx context.Context) ([]SessionAudit, error) {
	return s.repo.ListActiveSessions(ctx)
}

// normalizeUsername trims whitespace and applies NFC so visually
// identical usernames compare equal regardless of input method.
func normalizeUsername(username string) string {
	return norm.NFC.String(strings.TrimSpace(username))
}

var (
	_ session.Authenticator  = (*Service)(nil)
	_ session.ProfileFetcher = (*Service)(nil)
	_ session.Invalidator    = (*Service)(nil)
)
