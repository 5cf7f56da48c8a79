package identity

import (
	"context"
	"testing"

	"google.golang.org/grpc/metadata"
)

func TestMetadataProvider(t *testing.T) {
	tests := []struct {
		name   string
		ctx    context.Context
		wantID string
		wantOK bool
	}{
		{
			name: "no metadata",
			ctx:  context.Background(),
		},
		{
			name:   "header present",
			ctx:    metadata.NewIncomingContext(context.Background(), metadata.Pairs(UserIDHeader, "u1")),
			wantID: "u1",
			wantOK: true,
		},
		{
			name: "blank header",
			ctx:  metadata.NewIncomingContext(context.Background(), metadata.Pairs(UserIDHeader, "  ")),
		},
		{
			name: "other headers only",
			ctx:  metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer x")),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := MetadataProvider{}.CurrentUserID(tt.ctx)
			if id != tt.wantID || ok != tt.wantOK {
				t.Errorf("CurrentUserID() = (%q, %v), want (%q, %v)", id, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}

func TestStatic(t *testing.T) {
	if id, ok := Static("u1").CurrentUserID(context.Background()); id != "u1" || !ok {
		t.Errorf("Static(u1) = (%q, %v)", id, ok)
	}
	if _, ok := Static("").CurrentUserID(context.Background()); ok {
		t.Error("Static(\"\") should report signed out")
	}
}
