package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type names a relationship event. The NATS subject is "relationships.<type>".
type Type string

const (
	RequestSent      Type = "request.sent"
	RequestAccepted  Type = "request.accepted"
	RequestRejected  Type = "request.rejected"
	RequestCancelled Type = "request.cancelled"
	FriendRemoved    Type = "friend.removed"
)

// SubjectPrefix is the subject namespace for every relationship event
const SubjectPrefix = "relationships"

// Subject returns the NATS subject for t
func (t Type) Subject() string {
	return SubjectPrefix + "." + string(t)
}

// Event is the payload published after a successful mutation
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	Actor      string    `json:"actor"`
	Target     string    `json:"target"`
	EdgeID     string    `json:"edge_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// New builds an event with a fresh id
func New(t Type, actor, target, edgeID string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		Actor:      actor,
		Target:     target,
		EdgeID:     edgeID,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher delivers relationship events
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Nop discards every event
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
