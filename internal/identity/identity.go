package identity

import (
	"context"
	"strings"

	"google.golang.org/grpc/metadata"
)

// UserIDHeader is the gRPC metadata key carrying the caller's user id
const UserIDHeader = "x-user-id"

// Provider resolves the signed-in user for a call
type Provider interface {
	CurrentUserID(ctx context.Context) (string, bool)
}

// MetadataProvider reads the user id from incoming gRPC metadata.
// Authentication happens upstream; this only trusts the forwarded header.
type MetadataProvider struct{}

func (MetadataProvider) CurrentUserID(ctx context.Context) (string, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false
	}
	for _, v := range md.Get(UserIDHeader) {
		if id := strings.TrimSpace(v); id != "" {
			return id, true
		}
	}
	return "", false
}

// Static always reports the same user; an empty id means signed out
type Static string

func (s Static) CurrentUserID(context.Context) (string, bool) {
	if s == "" {
		return "", false
	}
	return string(s), true
}
