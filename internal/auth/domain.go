package auth

import "time"

// User represents a fleet system account.
type User struct {
	ID           int64
	Username     string
	FullName     string
	Email        string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SessionAudit is one registered login session, kept in postgres for
// auditing and administrative review.
type SessionAudit struct {
	ID        string
	UserID    int64
	Username  string
	CreatedAt time.Time
	ExpiresAt time.Time
	IP        string
	UserAgent string
}
