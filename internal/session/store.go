// Package session owns the authentication session: its persisted
// record, the manager that drives login, role selection, logout and
// restoration, and the request-context plumbing.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/campusfleet/campusfleet/internal/roles"
)

// UserProfile is the account snapshot carried by a session. It is
// replaced wholesale on login and restoration, never partially mutated.
type UserProfile struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	FullName string `json:"full_name,omitempty"`
	Email    string `json:"email,omitempty"`
}

// Record is the durable session representation: four independent
// entries with no referential integrity between them. The Manager is
// responsible for keeping them consistent and clearing them together.
type Record struct {
	Token        string
	Roles        []roles.Role
	SelectedRole *roles.Role
	User         *UserProfile
}

const (
	keyToken        = "auth_token"
	keyRoles        = "auth_roles"
	keySelectedRole = "selected_role"
	keyUser         = "auth_user"
)

// Store persists session records in Redis, one key per logical entry.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewStore constructs a Store. Entries expire after ttl.
func NewStore(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Store {
	return &Store{client: client, ttl: ttl, logger: logger}
}

// TTL exposes the configured record lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Save writes each populated field as its own entry. A nil or empty
// field removes its entry rather than writing a null literal.
func (s *Store) Save(ctx context.Context, sessionID string, rec Record) error {
	pipe := s.client.TxPipeline()

	if rec.Token != "" {
		pipe.Set(ctx, s.key(sessionID, keyToken), rec.Token, s.ttl)
	} else {
		pipe.Del(ctx, s.key(sessionID, keyToken))
	}
	if rec.Roles != nil {
		data, err := json.Marshal(rec.Roles)
		if err != nil {
			return fmt.Errorf("session: marshal roles: %w", err)
		}
		pipe.Set(ctx, s.key(sessionID, keyRoles), data, s.ttl)
	} else {
		pipe.Del(ctx, s.key(sessionID, keyRoles))
	}
	if rec.SelectedRole != nil {
		data, err := json.Marshal(rec.SelectedRole)
		if err != nil {
			return fmt.Errorf("session: marshal selected role: %w", err)
		}
		pipe.Set(ctx, s.key(sessionID, keySelectedRole), data, s.ttl)
	} else {
		pipe.Del(ctx, s.key(sessionID, keySelectedRole))
	}
	if rec.User != nil {
		data, err := json.Marshal(rec.User)
		if err != nil {
			return fmt.Errorf("session: marshal user: %w", err)
		}
		pipe.Set(ctx, s.key(sessionID, keyUser), data, s.ttl)
	} else {
		pipe.Del(ctx, s.key(sessionID, keyUser))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: save: %w", err)
	}
	return nil
}

// Load reads all four entries. Each is independently optional and
// independently parsed: a corrupted entry is treated as absent and
// does not prevent the others from loading.
func (s *Store) Load(ctx context.Context, sessionID string) (Record, error) {
	var rec Record

	raw, err := s.get(ctx, sessionID, keyToken)
	if err != nil {
		return rec, err
	}
	rec.Token = string(raw)

	if raw, err = s.get(ctx, sessionID, keyRoles); err != nil {
		return rec, err
	} else if raw != nil {
		var list []roles.Role
		if err := json.Unmarshal(raw, &list); err != nil {
			s.logParseError(sessionID, keyRoles, err)
		} else {
			rec.Roles = list
		}
	}

	if raw, err = s.get(ctx, sessionID, keySelectedRole); err != nil {
		return rec, err
	} else if raw != nil {
		var role roles.Role
		if err := json.Unmarshal(raw, &role); err != nil {
			s.logParseError(sessionID, keySelectedRole, err)
		} else {
			rec.SelectedRole = &role
		}
	}

	if raw, err = s.get(ctx, sessionID, keyUser); err != nil {
		return rec, err
	} else if raw != nil {
		var profile UserProfile
		if err := json.Unmarshal(raw, &profile); err != nil {
			s.logParseError(sessionID, keyUser, err)
		} else {
			rec.User = &profile
		}
	}

	return rec, nil
}

// Clear removes all four entries unconditionally. Safe to call when
// the entries are already absent.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	err := s.client.Del(ctx,
		s.key(sessionID, keyToken),
		s.key(sessionID, keyRoles),
		s.key(sessionID, keySelectedRole),
		s.key(sessionID, keyUser),
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("session: clear: %w", err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, sessionID, field string) ([]byte, error) {
	raw, err := s.client.Get(ctx, s.key(sessionID, field)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: load %s: %w", field, err)
	}
	return raw, nil
}

func (s *Store) key(sessionID, field string) string {
	return "session:" + sessionID + ":" + field
}

func (s *Store) logParseError(sessionID, field string, err error) {
	if s.logger != nil {
		s.logger.Warn("discarding corrupted session entry",
			slog.String("session_id", sessionID),
			slog.String("field", field),
			slog.Any("error", err))
	}
}
