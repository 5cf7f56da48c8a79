package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/asakaida/kizuna/internal/entities"
	"github.com/asakaida/kizuna/internal/events"
	"github.com/asakaida/kizuna/internal/repositories"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RelationshipServiceInterface defines the relationship operations exposed to callers.
// An empty currentUser means no signed-in user: LoadView returns an empty view and
// every other operation fails with entities.ErrUnauthenticated.
type RelationshipServiceInterface interface {
	LoadView(ctx context.Context, currentUser string) (*entities.RelationshipView, error)
	SendRequest(ctx context.Context, currentUser, targetUser string) error
	CancelRequest(ctx context.Context, currentUser, targetUser string) error
	Accept(ctx context.Context, edgeID, senderUser, currentUser string) error
	Reject(ctx context.Context, edgeID, senderUser, currentUser string) error
	RespondToRequest(ctx context.Context, edgeID, senderUser, currentUser string, accept bool) error
	RemoveFriend(ctx context.Context, currentUser, otherUser string) error
	Status(ctx context.Context, currentUser, otherUser string) (entities.RelationshipStatus, error)
	Audience(ctx context.Context, currentUser string) ([]string, error)
}

// publishTimeout bounds how long a mutation waits on the event publisher.
const publishTimeout = 2 * time.Second

// RelationshipService coordinates edge mutations and builds relationship views.
// It holds no per-user state; the store's (from, to) uniqueness constraint is the
// only interlock between concurrent callers.
type RelationshipService struct {
	edges     repositories.EdgeRepository
	profiles  repositories.ProfileRepository
	publisher events.Publisher
	logger    *zap.Logger

	publishTimeout time.Duration
}

// NewRelationshipService creates a new RelationshipService
func NewRelationshipService(
	edges repositories.EdgeRepository,
	profiles repositories.ProfileRepository,
	publisher events.Publisher,
	logger *zap.Logger,
) *RelationshipService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RelationshipService{
		edges:     edges,
		profiles:  profiles,
		publisher: publisher,
		logger:    logger.Named("relationships"),

		publishTimeout: publishTimeout,
	}
}

var _ RelationshipServiceInterface = (*RelationshipService)(nil)

// LoadView fans out the edge queries for currentUser, waits for all of them and
// decorates the result with profiles. Any failure fails the whole view.
func (s *RelationshipService) LoadView(ctx context.Context, currentUser string) (*entities.RelationshipView, error) {
	if currentUser == "" {
		return entities.EmptyView(), nil
	}

	var acceptedOut, acceptedIn, pendingIn, pendingOut []*entities.Edge
	g, gctx := errgroup.WithContext(ctx)
	query := func(dst *[]*entities.Edge, filter *repositories.EdgeFilter) {
		g.Go(func() error {
			edges, err := s.edges.QueryEdges(gctx, filter)
			if err != nil {
				return err
			}
			*dst = edges
			return nil
		})
	}
	query(&acceptedOut, &repositories.EdgeFilter{FromUser: currentUser, Status: entities.EdgeStatusAccepted})
	query(&acceptedIn, &repositories.EdgeFilter{ToUser: currentUser, Status: entities.EdgeStatusAccepted})
	query(&pendingIn, &repositories.EdgeFilter{ToUser: currentUser, Status: entities.EdgeStatusPending})
	query(&pendingOut, &repositories.EdgeFilter{FromUser: currentUser, Status: entities.EdgeStatusPending})

	if err := g.Wait(); err != nil {
		s.logger.Warn("load view failed", zap.String("user", currentUser), zap.Error(err))
		return nil, unavailable("load view", err)
	}

	friendIDs := mutualFriendIDs(acceptedOut, acceptedIn)

	ids := make([]string, 0, len(friendIDs)+len(pendingIn))
	ids = append(ids, friendIDs...)
	for _, e := range pendingIn {
		ids = append(ids, e.FromUser)
	}

	profiles, err := s.profiles.GetByIDs(ctx, ids)
	if err != nil {
		s.logger.Warn("profile lookup failed", zap.String("user", currentUser), zap.Error(err))
		return nil, unavailable("load view profiles", err)
	}

	view := entities.EmptyView()
	for _, id := range friendIDs {
		p, err := requireProfile(profiles, id)
		if err != nil {
			return nil, err
		}
		view.Friends = append(view.Friends, *p)
	}
	for _, e := range pendingIn {
		p, err := requireProfile(profiles, e.FromUser)
		if err != nil {
			return nil, err
		}
		view.IncomingRequests = append(view.IncomingRequests, entities.IncomingRequest{EdgeID: e.ID, Sender: *p})
	}
	for _, e := range pendingOut {
		view.OutgoingRequestTargets[e.ToUser] = struct{}{}
	}

	s.logger.Debug("view loaded",
		zap.String("user", currentUser),
		zap.Int("friends", len(view.Friends)),
		zap.Int("incoming", len(view.IncomingRequests)),
		zap.Int("outgoing", len(view.OutgoingRequestTargets)),
	)
	return view, nil
}

// SendRequest inserts a pending edge from currentUser to targetUser
func (s *RelationshipService) SendRequest(ctx context.Context, currentUser, targetUser string) error {
	if err := checkPair(currentUser, targetUser); err != nil {
		return err
	}

	edge, err := s.edges.InsertEdge(ctx, currentUser, targetUser, entities.EdgeStatusPending)
	if errors.Is(err, repositories.ErrConstraintViolation) {
		s.logger.Debug("request already exists", zap.String("from", currentUser), zap.String("to", targetUser))
		return fmt.Errorf("send request to %s: %w", targetUser, entities.ErrAlreadyRequestedOrRelated)
	}
	if err != nil {
		s.logger.Warn("send request failed", zap.String("from", currentUser), zap.String("to", targetUser), zap.Error(err))
		return unavailable("send request", err)
	}

	s.logger.Debug("request sent", zap.String("edge_id", edge.ID), zap.String("from", currentUser), zap.String("to", targetUser))
	s.publish(ctx, events.New(events.RequestSent, currentUser, targetUser, edge.ID))
	return nil
}

// CancelRequest withdraws a still-pending outbound request. Cancelling a request
// that no longer exists is a no-op.
func (s *RelationshipService) CancelRequest(ctx context.Context, currentUser, targetUser string) error {
	if err := checkPair(currentUser, targetUser); err != nil {
		return err
	}

	n, err := s.edges.DeleteEdges(ctx, &repositories.EdgeFilter{
		FromUser: currentUser,
		ToUser:   targetUser,
		Status:   entities.EdgeStatusPending,
	})
	if err != nil {
		s.logger.Warn("cancel request failed", zap.String("from", currentUser), zap.String("to", targetUser), zap.Error(err))
		return unavailable("cancel request", err)
	}

	s.logger.Debug("request cancelled", zap.String("from", currentUser), zap.String("to", targetUser), zap.Int64("deleted", n))
	if n > 0 {
		s.publish(ctx, events.New(events.RequestCancelled, currentUser, targetUser, ""))
	}
	return nil
}

// Accept turns the inbound request edgeID (senderUser -> currentUser) into a
// mutual friendship: the inbound edge is set to accepted, then the reciprocal
// accepted edge is created. Each step is safe to retry.
func (s *RelationshipService) Accept(ctx context.Context, edgeID, senderUser, currentUser string) error {
	if err := checkPair(currentUser, senderUser); err != nil {
		return err
	}
	if edgeID == "" {
		return fmt.Errorf("edge ID is required: %w", entities.ErrInvalidOperation)
	}
	log := s.logger.With(zap.String("edge_id", edgeID), zap.String("from", senderUser), zap.String("to", currentUser))

	inbound, err := s.edges.QueryEdges(ctx, &repositories.EdgeFilter{ID: edgeID, FromUser: senderUser, ToUser: currentUser})
	if err != nil {
		log.Warn("accept lookup failed", zap.Error(err))
		return unavailable("accept", err)
	}
	if len(inbound) == 0 {
		log.Debug("request already resolved")
		return fmt.Errorf("accept %s: %w", edgeID, entities.ErrRequestNoLongerExists)
	}

	if inbound[0].Status == entities.EdgeStatusPending {
		_, err := s.edges.UpdateEdgeStatus(ctx, edgeID, entities.EdgeStatusAccepted)
		if errors.Is(err, repositories.ErrNotFound) {
			log.Debug("request removed before accept")
			return fmt.Errorf("accept %s: %w", edgeID, entities.ErrRequestNoLongerExists)
		}
		if err != nil {
			log.Warn("accept update failed", zap.Error(err))
			return unavailable("accept", err)
		}
		log.Debug("inbound edge accepted")
	}

	if err := s.ensureReciprocal(ctx, currentUser, senderUser); err != nil {
		log.Warn("reciprocal edge failed", zap.Error(err))
		return unavailable("accept reciprocal", err)
	}

	log.Debug("request accepted")
	s.publish(ctx, events.New(events.RequestAccepted, currentUser, senderUser, edgeID))
	return nil
}

// ensureReciprocal makes sure from -> to exists with status accepted. A
// uniqueness violation means the edge exists already; a pending one is upgraded.
func (s *RelationshipService) ensureReciprocal(ctx context.Context, from, to string) error {
	const attempts = 2
	for i := 0; i < attempts; i++ {
		_, err := s.edges.InsertEdge(ctx, from, to, entities.EdgeStatusAccepted)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repositories.ErrConstraintViolation) {
			return err
		}

		existing, err := s.edges.QueryEdges(ctx, &repositories.EdgeFilter{FromUser: from, ToUser: to})
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			// deleted between the insert and the lookup
			continue
		}
		if existing[0].Status == entities.EdgeStatusAccepted {
			return nil
		}

		_, err = s.edges.UpdateEdgeStatus(ctx, existing[0].ID, entities.EdgeStatusAccepted)
		if errors.Is(err, repositories.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		s.logger.Debug("pending reciprocal upgraded", zap.String("edge_id", existing[0].ID), zap.String("from", from), zap.String("to", to))
		return nil
	}
	return fmt.Errorf("reciprocal edge %s->%s kept changing", from, to)
}

// Reject deletes the pending inbound request edgeID. A request that is already
// gone counts as rejected.
func (s *RelationshipService) Reject(ctx context.Context, edgeID, senderUser, currentUser string) error {
	if currentUser == "" {
		return entities.ErrUnauthenticated
	}
	if edgeID == "" {
		return fmt.Errorf("edge ID is required: %w", entities.ErrInvalidOperation)
	}

	n, err := s.edges.DeleteEdges(ctx, &repositories.EdgeFilter{
		ID:       edgeID,
		FromUser: senderUser,
		ToUser:   currentUser,
		Status:   entities.EdgeStatusPending,
	})
	if err != nil {
		s.logger.Warn("reject failed", zap.String("edge_id", edgeID), zap.String("from", senderUser), zap.String("to", currentUser), zap.Error(err))
		return unavailable("reject", err)
	}

	s.logger.Debug("request rejected", zap.String("edge_id", edgeID), zap.Int64("deleted", n))
	if n > 0 {
		s.publish(ctx, events.New(events.RequestRejected, currentUser, senderUser, edgeID))
	}
	return nil
}

// RespondToRequest accepts or rejects an inbound request
func (s *RelationshipService) RespondToRequest(ctx context.Context, edgeID, senderUser, currentUser string, accept bool) error {
	if accept {
		return s.Accept(ctx, edgeID, senderUser, currentUser)
	}
	return s.Reject(ctx, edgeID, senderUser, currentUser)
}

// RemoveFriend deletes (currentUser, otherUser) and then (otherUser, currentUser).
// Missing edges are fine, so a half-finished removal is repaired by a retry.
func (s *RelationshipService) RemoveFriend(ctx context.Context, currentUser, otherUser string) error {
	if err := checkPair(currentUser, otherUser); err != nil {
		return err
	}

	var removed int64
	for _, pair := range [][2]string{{currentUser, otherUser}, {otherUser, currentUser}} {
		n, err := s.edges.DeleteEdges(ctx, &repositories.EdgeFilter{FromUser: pair[0], ToUser: pair[1]})
		if err != nil {
			s.logger.Warn("remove friend failed", zap.String("from", pair[0]), zap.String("to", pair[1]), zap.Error(err))
			return unavailable("remove friend", err)
		}
		s.logger.Debug("edge removed", zap.String("from", pair[0]), zap.String("to", pair[1]), zap.Int64("deleted", n))
		removed += n
	}

	if removed > 0 {
		s.publish(ctx, events.New(events.FriendRemoved, currentUser, otherUser, ""))
	}
	return nil
}

// Status reports how currentUser relates to otherUser
func (s *RelationshipService) Status(ctx context.Context, currentUser, otherUser string) (entities.RelationshipStatus, error) {
	if err := checkPair(currentUser, otherUser); err != nil {
		return "", err
	}

	var out, in []*entities.Edge
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		out, err = s.edges.QueryEdges(gctx, &repositories.EdgeFilter{FromUser: currentUser, ToUser: otherUser})
		return err
	})
	g.Go(func() error {
		var err error
		in, err = s.edges.QueryEdges(gctx, &repositories.EdgeFilter{FromUser: otherUser, ToUser: currentUser})
		return err
	})
	if err := g.Wait(); err != nil {
		return "", unavailable("status", err)
	}

	switch {
	case len(out) > 0 && len(in) > 0 &&
		out[0].Status == entities.EdgeStatusAccepted && in[0].Status == entities.EdgeStatusAccepted:
		return entities.RelationshipFriends, nil
	case len(in) > 0:
		return entities.RelationshipIncoming, nil
	case len(out) > 0:
		return entities.RelationshipOutgoing, nil
	default:
		return entities.RelationshipNone, nil
	}
}

// Audience returns currentUser followed by every mutual friend, the set of
// authors whose posts the user's feed shows
func (s *RelationshipService) Audience(ctx context.Context, currentUser string) ([]string, error) {
	if currentUser == "" {
		return nil, entities.ErrUnauthenticated
	}

	var out, in []*entities.Edge
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		out, err = s.edges.QueryEdges(gctx, &repositories.EdgeFilter{FromUser: currentUser, Status: entities.EdgeStatusAccepted})
		return err
	})
	g.Go(func() error {
		var err error
		in, err = s.edges.QueryEdges(gctx, &repositories.EdgeFilter{ToUser: currentUser, Status: entities.EdgeStatusAccepted})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, unavailable("audience", err)
	}

	return append([]string{currentUser}, mutualFriendIDs(out, in)...), nil
}

// publish delivers event without letting a slow broker stall the caller. The
// mutation has already committed, so failures are only logged.
func (s *RelationshipService) publish(ctx context.Context, event events.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish event failed",
			zap.String("event", string(event.Type)),
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
	}
}

// mutualFriendIDs returns the targets of accepted outbound edges whose
// reciprocal is also accepted, in outbound order
func mutualFriendIDs(acceptedOut, acceptedIn []*entities.Edge) []string {
	inbound := make(map[string]struct{}, len(acceptedIn))
	for _, e := range acceptedIn {
		inbound[e.FromUser] = struct{}{}
	}

	ids := make([]string, 0, len(acceptedOut))
	for _, e := range acceptedOut {
		if _, ok := inbound[e.ToUser]; ok {
			ids = append(ids, e.ToUser)
		}
	}
	return ids
}

func requireProfile(profiles map[string]*entities.Profile, id string) (*entities.Profile, error) {
	p, ok := profiles[id]
	if !ok || p == nil {
		return nil, fmt.Errorf("profile %s missing: %w", id, entities.ErrUnavailable)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("profile %s malformed: %w: %w", id, entities.ErrUnavailable, err)
	}
	return p, nil
}

func checkPair(currentUser, otherUser string) error {
	if currentUser == "" {
		return entities.ErrUnauthenticated
	}
	if otherUser == "" {
		return fmt.Errorf("target user is required: %w", entities.ErrInvalidOperation)
	}
	if currentUser == otherUser {
		return fmt.Errorf("cannot target yourself: %w", entities.ErrInvalidOperation)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, entities.ErrUnavailable, err)
}
