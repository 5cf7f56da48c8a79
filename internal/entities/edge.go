package entities

import (
	"fmt"
	"time"
)

// EdgeStatus is the state of a directed relationship record.
// Rejection is modeled as deletion, so there is no rejected status.
type EdgeStatus string

const (
	EdgeStatusPending  EdgeStatus = "pending"
	EdgeStatusAccepted EdgeStatus = "accepted"
)

// Valid reports whether the status is one the store accepts
func (s EdgeStatus) Valid() bool {
	return s == EdgeStatusPending || s == EdgeStatusAccepted
}

// Edge represents a directed relationship between two users
// Example: u1->u2 (pending) means u1 sent a friend request to u2
type Edge struct {
	ID        string     // Assigned by the store on creation
	FromUser  string     // Requesting side
	ToUser    string     // Receiving side
	Status    EdgeStatus // pending or accepted
	CreatedAt time.Time
	UpdatedAt time.Time
}

// String returns a string representation of the edge
// Format: from->to(status)
func (e *Edge) String() string {
	return fmt.Sprintf("%s->%s(%s)", e.FromUser, e.ToUser, e.Status)
}

// Validate checks if the edge is valid for insertion
func (e *Edge) Validate() error {
	if e.FromUser == "" {
		return fmt.Errorf("from user is required")
	}
	if e.ToUser == "" {
		return fmt.Errorf("to user is required")
	}
	if e.FromUser == e.ToUser {
		return fmt.Errorf("self-edges are not allowed: %s", e.FromUser)
	}
	if !e.Status.Valid() {
		return fmt.Errorf("invalid edge status: %q", e.Status)
	}
	return nil
}

// Reverse returns the ordered pair of the reciprocal edge
func (e *Edge) Reverse() (from, to string) {
	return e.ToUser, e.FromUser
}
