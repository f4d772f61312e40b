// Package identity persists who the pipeline is reporting for, so a
// restarted process keeps its anonymous id, user id and traits.
package identity

import (
	"errors"
	"time"

	"github.com/randalmurphal/beacon/pkg/beacon/event"
)

// Profile is the persisted identity for one project.
type Profile struct {
	AnonymousID string           `json:"anonymous_id"`
	UserID      string           `json:"user_id,omitempty"`
	Traits      event.Properties `json:"traits,omitempty"`
	LastSeen    time.Time        `json:"last_seen"`
}

// Clone returns a deep copy of p.
func (p Profile) Clone() Profile {
	if p.Traits != nil {
		p.Traits = p.Traits.Clone()
	}
	return p
}

// Store persists profiles keyed by project id.
// Implementations must be safe for concurrent use.
type Store interface {
	// Load returns the profile for a project.
	// Returns ErrNotFound if none was saved.
	Load(projectID string) (Profile, error)

	// Save stores a profile, replacing any previous one.
	Save(projectID string, p Profile) error

	// Delete removes a profile.
	// Returns nil if none exists.
	Delete(projectID string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Sentinel errors for identity operations.
var (
	// ErrNotFound indicates no profile was saved for the project.
	ErrNotFound = errors.New("identity not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("identity store closed")
)
