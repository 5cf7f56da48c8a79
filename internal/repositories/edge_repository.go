package repositories

import (
	"context"
	"errors"

	"github.com/asakaida/kizuna/internal/entities"
)

// Store-level error classes. Adapters wrap driver errors with one of these
// so the services layer can map them into the domain taxonomy.
var (
	// ErrConstraintViolation is returned when the (from, to) uniqueness
	// constraint rejects an insert.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrNotFound is returned when an update targets a missing row.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable is returned for transport or backend failures.
	ErrUnavailable = errors.New("store unavailable")
)

// EdgeFilter defines filter criteria for querying and deleting edges.
// Empty fields are not constrained.
type EdgeFilter struct {
	ID       string              // Filter by edge ID (optional)
	FromUser string              // Filter by requesting user (optional)
	ToUser   string              // Filter by receiving user (optional)
	Status   entities.EdgeStatus // Filter by status (optional)
}

// IsEmpty reports whether the filter constrains nothing
func (f *EdgeFilter) IsEmpty() bool {
	return f == nil || (f.ID == "" && f.FromUser == "" && f.ToUser == "" && f.Status == "")
}

// EdgeRepository defines the interface for relationship edge access
type EdgeRepository interface {
	// InsertEdge creates a new edge; returns ErrConstraintViolation if the
	// ordered pair already exists
	InsertEdge(ctx context.Context, from, to string, status entities.EdgeStatus) (*entities.Edge, error)

	// UpdateEdgeStatus changes the status of an edge; returns ErrNotFound
	// if no edge has the given id
	UpdateEdgeStatus(ctx context.Context, edgeID string, status entities.EdgeStatus) (*entities.Edge, error)

	// DeleteEdges removes the edges matching the filter and returns how many
	// were removed. Deleting nothing is not an error. An empty filter is rejected.
	DeleteEdges(ctx context.Context, filter *EdgeFilter) (int64, error)

	// QueryEdges retrieves edges matching the filter ordered by creation time
	QueryEdges(ctx context.Context, filter *EdgeFilter) ([]*entities.Edge, error)
}
