package handlers

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/asakaida/kizuna/internal/entities"
	"github.com/asakaida/kizuna/internal/services/discovery"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// toStatusError maps the domain error taxonomy onto gRPC status codes.
func toStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, entities.ErrUnauthenticated):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, entities.ErrInvalidOperation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, entities.ErrAlreadyRequestedOrRelated):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, entities.ErrRequestNoLongerExists):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, entities.ErrUnavailable), errors.Is(err, entities.ErrSearchFailed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func stringField(s *structpb.Struct, name string) string {
	return strings.TrimSpace(s.GetFields()[name].GetStringValue())
}

func boolField(s *structpb.Struct, name string) bool {
	return s.GetFields()[name].GetBoolValue()
}

// requireBool returns an InvalidArgument status unless name holds a bool.
func requireBool(s *structpb.Struct, name string) (bool, error) {
	v, ok := s.GetFields()[name].GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return false, status.Errorf(codes.InvalidArgument, "%s must be a bool", name)
	}
	return v.BoolValue, nil
}

// requireField returns an InvalidArgument status when name is blank.
func requireField(s *structpb.Struct, name string) (string, error) {
	v := stringField(s, name)
	if v == "" {
		return "", status.Errorf(codes.InvalidArgument, "%s is required", name)
	}
	return v, nil
}

func profileToValue(p entities.Profile) *structpb.Value {
	return structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
		"id":         structpb.NewStringValue(p.ID),
		"username":   structpb.NewStringValue(p.Username),
		"avatar_url": structpb.NewStringValue(p.AvatarURL),
	}})
}

func profilesToValue(profiles []entities.Profile) *structpb.Value {
	values := make([]*structpb.Value, 0, len(profiles))
	for _, p := range profiles {
		values = append(values, profileToValue(p))
	}
	return structpb.NewListValue(&structpb.ListValue{Values: values})
}

func stringsToValue(ids []string) *structpb.Value {
	values := make([]*structpb.Value, 0, len(ids))
	for _, id := range ids {
		values = append(values, structpb.NewStringValue(id))
	}
	return structpb.NewListValue(&structpb.ListValue{Values: values})
}

// viewToStruct renders a RelationshipView. Outgoing targets are sorted so
// responses are stable.
func viewToStruct(v *entities.RelationshipView) *structpb.Struct {
	incoming := make([]*structpb.Value, 0, len(v.IncomingRequests))
	for _, r := range v.IncomingRequests {
		incoming = append(incoming, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"edge_id": structpb.NewStringValue(r.EdgeID),
			"sender":  profileToValue(r.Sender),
		}}))
	}

	outgoing := make([]string, 0, len(v.OutgoingRequestTargets))
	for id := range v.OutgoingRequestTargets {
		outgoing = append(outgoing, id)
	}
	sort.Strings(outgoing)

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"friends":                  profilesToValue(v.Friends),
		"incoming_requests":        structpb.NewListValue(&structpb.ListValue{Values: incoming}),
		"outgoing_request_targets": stringsToValue(outgoing),
	}}
}

// resultToStruct renders one search generation. A failed search carries an
// "error" field so the client can tell it apart from "no matches".
func resultToStruct(r discovery.Result) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"type":       structpb.NewStringValue("results"),
		"generation": structpb.NewNumberValue(float64(r.Generation)),
		"query":      structpb.NewStringValue(r.Query),
		"profiles":   profilesToValue(r.Profiles),
	}
	if r.Err != nil {
		fields["error"] = structpb.NewStringValue(entities.ErrSearchFailed.Error())
	}
	return &structpb.Struct{Fields: fields}
}

// ackToStruct reports the outcome of a mutation sent over the search stream.
func ackToStruct(action, target string, err error) *structpb.Struct {
	st := status.Convert(toStatusError(err))
	fields := map[string]*structpb.Value{
		"type":   structpb.NewStringValue("ack"),
		"action": structpb.NewStringValue(action),
		"target": structpb.NewStringValue(target),
		"code":   structpb.NewStringValue(st.Code().String()),
	}
	if err != nil {
		fields["message"] = structpb.NewStringValue(st.Message())
	}
	return &structpb.Struct{Fields: fields}
}
