package handlers

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/asakaida/kizuna/internal/entities"
	"github.com/asakaida/kizuna/internal/identity"
	"github.com/asakaida/kizuna/internal/services"
	"github.com/asakaida/kizuna/internal/services/discovery"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// RelationshipHandler handles Relationships service gRPC requests
type RelationshipHandler struct {
	relationships services.RelationshipServiceInterface
	engine        *discovery.Engine
	identity      identity.Provider
	debounce      time.Duration
	logger        *zap.Logger
}

// NewRelationshipHandler creates a new RelationshipHandler
func NewRelationshipHandler(
	relationships services.RelationshipServiceInterface,
	engine *discovery.Engine,
	provider identity.Provider,
	debounce time.Duration,
	logger *zap.Logger,
) *RelationshipHandler {
	if provider == nil {
		provider = identity.MetadataProvider{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RelationshipHandler{
		relationships: relationships,
		engine:        engine,
		identity:      provider,
		debounce:      debounce,
		logger:        logger.Named("handler"),
	}
}

var _ RelationshipsServer = (*RelationshipHandler)(nil)

func (h *RelationshipHandler) currentUser(ctx context.Context) (string, error) {
	user, ok := h.identity.CurrentUserID(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, entities.ErrUnauthenticated.Error())
	}
	return user, nil
}

func empty() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{}}
}

// LoadView handles the LoadView RPC. A signed-out caller gets the empty view.
func (h *RelationshipHandler) LoadView(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	user, _ := h.identity.CurrentUserID(ctx)
	view, err := h.relationships.LoadView(ctx, user)
	if err != nil {
		return nil, toStatusError(err)
	}
	return viewToStruct(view), nil
}

// SendRequest handles the SendRequest RPC. AlreadyExists is a soft outcome
// the client should surface as "request already sent".
func (h *RelationshipHandler) SendRequest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	user, err := h.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	target, err := requireField(req, "target_user_id")
	if err != nil {
		return nil, err
	}
	if err := h.relationships.SendRequest(ctx, user, target); err != nil {
		return nil, toStatusError(err)
	}
	return empty(), nil
}

// CancelRequest handles the CancelRequest RPC
func (h *RelationshipHandler) CancelRequest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	user, err := h.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	target, err := requireField(req, "target_user_id")
	if err != nil {
		return nil, err
	}
	if err := h.relationships.CancelRequest(ctx, user, target); err != nil {
		return nil, toStatusError(err)
	}
	return empty(), nil
}

// RespondToRequest handles the RespondToRequest RPC
func (h *RelationshipHandler) RespondToRequest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	user, err := h.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	edgeID, err := requireField(req, "edge_id")
	if err != nil {
		return nil, err
	}
	sender, err := requireField(req, "sender_user_id")
	if err != nil {
		return nil, err
	}
	accept, err := requireBool(req, "accept")
	if err != nil {
		return nil, err
	}
	if err := h.relationships.RespondToRequest(ctx, edgeID, sender, user, accept); err != nil {
		return nil, toStatusError(err)
	}
	return empty(), nil
}

// RemoveFriend handles the RemoveFriend RPC
func (h *RelationshipHandler) RemoveFriend(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	user, err := h.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	other, err := requireField(req, "user_id")
	if err != nil {
		return nil, err
	}
	if err := h.relationships.RemoveFriend(ctx, user, other); err != nil {
		return nil, toStatusError(err)
	}
	return empty(), nil
}

// Status handles the Status RPC
func (h *RelationshipHandler) Status(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	user, err := h.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	other, err := requireField(req, "user_id")
	if err != nil {
		return nil, err
	}
	rel, err := h.relationships.Status(ctx, user, other)
	if err != nil {
		return nil, toStatusError(err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"status": structpb.NewStringValue(string(rel)),
	}}, nil
}

// Audience handles the Audience RPC
func (h *RelationshipHandler) Audience(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	user, err := h.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	ids, err := h.relationships.Audience(ctx, user)
	if err != nil {
		return nil, toStatusError(err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"user_ids": stringsToValue(ids),
	}}, nil
}

// Search handles the Search stream.
//
// Inbound messages:
//
//	{"query": "al"}            keystroke; debounced, latest wins
//	{"flush": true}            run the pending query now
//	{"refresh": true}          reload the relationship view
//	{"send_request": "<id>"}   send a request; the target leaves results at once
//	{"cancel_request": "<id>"} cancel an outgoing request
//
// Outbound messages are {"type": "results", ...} per delivered generation and
// {"type": "ack", ...} per mutation or refresh. On half-close the pending
// query is flushed before the stream ends.
func (h *RelationshipHandler) Search(stream SearchServer) error {
	ctx := stream.Context()
	user, err := h.currentUser(ctx)
	if err != nil {
		return err
	}

	session := services.NewSession(h.relationships, user, h.logger)
	if err := session.Refresh(ctx); err != nil {
		return toStatusError(err)
	}

	var opts []discovery.SessionOption
	if h.debounce > 0 {
		opts = append(opts, discovery.WithDebounce(h.debounce))
	}
	search := session.NewSearch(h.engine, opts...)

	var sendMu sync.Mutex
	send := func(msg *structpb.Struct) error {
		sendMu.Lock()
		defer sendMu.Unlock()
		return stream.Send(msg)
	}

	forwarded := make(chan error, 1)
	go func() {
		var sendErr error
		for r := range search.Results() {
			if sendErr != nil {
				continue
			}
			sendErr = send(resultToStruct(r))
		}
		forwarded <- sendErr
	}()

	recvErr := h.receive(ctx, stream, session, search, send)
	if recvErr == nil {
		search.Flush()
	}
	search.Close()
	sendErr := <-forwarded

	if recvErr != nil {
		return recvErr
	}
	return sendErr
}

func (h *RelationshipHandler) receive(
	ctx context.Context,
	stream SearchServer,
	session *services.Session,
	search *discovery.Session,
	send func(*structpb.Struct) error,
) error {
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		fields := msg.GetFields()
		switch {
		case fields["send_request"] != nil:
			target := stringField(msg, "send_request")
			err := session.SendRequest(ctx, target)
			if sendErr := send(ackToStruct("send_request", target, err)); sendErr != nil {
				return sendErr
			}
		case fields["cancel_request"] != nil:
			target := stringField(msg, "cancel_request")
			err := session.CancelRequest(ctx, target)
			if sendErr := send(ackToStruct("cancel_request", target, err)); sendErr != nil {
				return sendErr
			}
		case boolField(msg, "refresh"):
			err := session.Refresh(ctx)
			if err != nil {
				h.logger.Warn("search view refresh failed", zap.String("user", session.User()), zap.Error(err))
			}
			if sendErr := send(ackToStruct("refresh", "", err)); sendErr != nil {
				return sendErr
			}
		case boolField(msg, "flush"):
			search.Flush()
		case fields["query"] != nil:
			search.Update(fields["query"].GetStringValue())
		}
	}
}
