package session

import (
	"errors"
	"time"

	"github.com/meridian-lab/fathom/internal/models"
)

var (
	// ErrSessionNotFound is returned when the session does not exist or its
	// TTL has elapsed.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionConflict is returned when an update carries a stale version.
	// The caller must re-read the session and reapply its change.
	ErrSessionConflict = errors.New("session version conflict")

	// ErrInvalidSession is returned for updates without a session ID.
	ErrInvalidSession = errors.New("invalid session")
)

// storedSession is the persisted envelope. The expiry rides alongside the
// session so an entry served from the local cache can be aged out on read
// even after Redis has already dropped the key.
type storedSession struct {
	Session   *models.ResearchSession `json:"session"`
	ExpiresAt time.Time               `json:"expiresAt"`
}
