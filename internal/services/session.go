package services

import (
	"context"
	"errors"
	"sync"

	"github.com/asakaida/kizuna/internal/entities"
	"github.com/asakaida/kizuna/internal/services/discovery"
	"go.uber.org/zap"
)

// Session is the per-user actor in front of RelationshipService. It keeps the
// last authoritative view plus a pending delta of requests sent since that view
// was loaded, and reloads the view after every successful mutation.
type Session struct {
	svc    RelationshipServiceInterface
	user   string
	logger *zap.Logger

	mu    sync.Mutex
	view  *entities.RelationshipView
	delta *entities.PendingDelta
	// sentAt records the mutation sequence at which each delta entry was added.
	// A view whose load started after that sequence already contains the edge.
	sentAt map[string]uint64
	seq    uint64
	viewAt uint64
}

// NewSession creates a session for currentUser. An empty user yields an inert
// session whose view stays empty.
func NewSession(svc RelationshipServiceInterface, currentUser string, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		svc:    svc,
		user:   currentUser,
		logger: logger.Named("session").With(zap.String("user", currentUser)),
		view:   entities.EmptyView(),
		delta:  entities.NewPendingDelta(),
		sentAt: map[string]uint64{},
	}
}

// User returns the session's user id
func (s *Session) User() string {
	return s.user
}

// View returns the last successfully loaded view
func (s *Session) View() *entities.RelationshipView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// PendingCount returns the number of optimistic entries not yet confirmed by a view
func (s *Session) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delta.Len()
}

// Exclusion returns the search exclusion set: the current view plus the pending delta
func (s *Session) Exclusion() entities.ExclusionSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view.ExclusionSet(s.user, s.delta)
}

// Refresh reloads the view. On failure the previous view is kept.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	started := s.seq
	s.mu.Unlock()

	view, err := s.svc.LoadView(ctx, s.user)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if started < s.viewAt {
		// a load that began after a later mutation already landed
		return nil
	}
	s.view = view
	s.viewAt = started
	for target, at := range s.sentAt {
		if at <= started {
			s.delta.Remove(target)
			delete(s.sentAt, target)
		}
	}
	return nil
}

// SendRequest sends a request and records it in the pending delta so search
// excludes the target before the next view arrives. A target that is already
// requested or related is excluded the same way and the error is returned.
func (s *Session) SendRequest(ctx context.Context, target string) error {
	err := s.svc.SendRequest(ctx, s.user, target)
	if err != nil && !errors.Is(err, entities.ErrAlreadyRequestedOrRelated) {
		return err
	}

	s.mu.Lock()
	s.seq++
	s.delta.AddOutgoing(target)
	s.sentAt[target] = s.seq
	s.mu.Unlock()

	s.refreshAfterMutation(ctx)
	return err
}

// CancelRequest withdraws an outbound request and drops it from the delta
func (s *Session) CancelRequest(ctx context.Context, target string) error {
	if err := s.svc.CancelRequest(ctx, s.user, target); err != nil {
		return err
	}

	s.mu.Lock()
	s.seq++
	s.delta.Remove(target)
	delete(s.sentAt, target)
	s.mu.Unlock()

	s.refreshAfterMutation(ctx)
	return nil
}

// RespondToRequest accepts or rejects an inbound request. A request that no
// longer exists is reported to the caller and the stale view is reloaded.
func (s *Session) RespondToRequest(ctx context.Context, edgeID, sender string, accept bool) error {
	err := s.svc.RespondToRequest(ctx, edgeID, sender, s.user, accept)
	if err != nil && !errors.Is(err, entities.ErrRequestNoLongerExists) {
		return err
	}

	s.mu.Lock()
	s.seq++
	s.mu.Unlock()

	s.refreshAfterMutation(ctx)
	return err
}

// RemoveFriend dissolves a friendship
func (s *Session) RemoveFriend(ctx context.Context, other string) error {
	if err := s.svc.RemoveFriend(ctx, s.user, other); err != nil {
		return err
	}

	s.mu.Lock()
	s.seq++
	s.mu.Unlock()

	s.refreshAfterMutation(ctx)
	return nil
}

// NewSearch starts a debounced discovery session whose exclusion set tracks
// this session's view and pending delta
func (s *Session) NewSearch(engine *discovery.Engine, opts ...discovery.SessionOption) *discovery.Session {
	return discovery.NewSession(engine, s.Exclusion, opts...)
}

func (s *Session) refreshAfterMutation(ctx context.Context) {
	if err := s.Refresh(ctx); err != nil {
		s.logger.Warn("view refresh after mutation failed", zap.Error(err))
	}
}
