package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/asakaida/kizuna/internal/entities"
	"github.com/asakaida/kizuna/internal/repositories"
)

const edgeColumns = `id, user_id, friend_id, status, created_at, updated_at`

// PostgresEdgeRepository implements EdgeRepository using PostgreSQL.
// Edges live in the friends table; user_id is the requesting side.
type PostgresEdgeRepository struct {
	db *sql.DB
}

// NewPostgresEdgeRepository creates a new PostgreSQL edge repository
func NewPostgresEdgeRepository(db *sql.DB) repositories.EdgeRepository {
	return &PostgresEdgeRepository{db: db}
}

// InsertEdge creates a new edge. A second edge for the same ordered pair
// fails with ErrConstraintViolation.
func (r *PostgresEdgeRepository) InsertEdge(ctx context.Context, from, to string, status entities.EdgeStatus) (*entities.Edge, error) {
	edge := &entities.Edge{FromUser: from, ToUser: to, Status: status}
	if err := edge.Validate(); err != nil {
		return nil, fmt.Errorf("invalid edge: %w", err)
	}

	query := `
		INSERT INTO friends (user_id, friend_id, status)
		VALUES ($1, $2, $3)
		RETURNING ` + edgeColumns

	row := r.db.QueryRowContext(ctx, query, from, to, string(status))
	inserted, err := scanEdge(row)
	if err != nil {
		return nil, translateError("failed to insert edge", err)
	}
	return inserted, nil
}

// UpdateEdgeStatus changes the status of an edge identified by id
func (r *PostgresEdgeRepository) UpdateEdgeStatus(ctx context.Context, edgeID string, status entities.EdgeStatus) (*entities.Edge, error) {
	if edgeID == "" {
		return nil, fmt.Errorf("edge ID is required")
	}
	if !status.Valid() {
		return nil, fmt.Errorf("invalid edge status: %q", status)
	}

	query := `
		UPDATE friends
		SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + edgeColumns

	updated, err := scanEdge(r.db.QueryRowContext(ctx, query, edgeID, string(status)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("edge %s: %w", edgeID, repositories.ErrNotFound)
	}
	if err != nil {
		return nil, translateError("failed to update edge", err)
	}
	return updated, nil
}

// DeleteEdges removes edges matching the filter
func (r *PostgresEdgeRepository) DeleteEdges(ctx context.Context, filter *repositories.EdgeFilter) (int64, error) {
	if filter.IsEmpty() {
		return 0, fmt.Errorf("refusing to delete edges without a filter")
	}

	where, args := buildEdgeWhere(filter)
	result, err := r.db.ExecContext(ctx, "DELETE FROM friends"+where, args...)
	if err != nil {
		return 0, translateError("failed to delete edges", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, translateError("failed to read affected rows", err)
	}
	return affected, nil
}

// QueryEdges retrieves edges matching the filter
func (r *PostgresEdgeRepository) QueryEdges(ctx context.Context, filter *repositories.EdgeFilter) ([]*entities.Edge, error) {
	where, args := buildEdgeWhere(filter)
	query := "SELECT " + edgeColumns + " FROM friends" + where + " ORDER BY created_at, id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translateError("failed to query edges", err)
	}
	defer rows.Close()

	var edges []*entities.Edge
	for rows.Next() {
		edge, err := scanEdge(rows)
		if err != nil {
			return nil, translateError("failed to scan edge", err)
		}
		edges = append(edges, edge)
	}

	if err := rows.Err(); err != nil {
		return nil, translateError("error iterating edges", err)
	}

	return edges, nil
}

// buildEdgeWhere builds a dynamic WHERE clause based on the filter
func buildEdgeWhere(filter *repositories.EdgeFilter) (string, []interface{}) {
	if filter.IsEmpty() {
		return "", nil
	}

	var conds []string
	var args []interface{}
	add := func(column string, value string) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if filter.ID != "" {
		add("id", filter.ID)
	}
	if filter.FromUser != "" {
		add("user_id", filter.FromUser)
	}
	if filter.ToUser != "" {
		add("friend_id", filter.ToUser)
	}
	if filter.Status != "" {
		add("status", string(filter.Status))
	}

	return " WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEdge(row rowScanner) (*entities.Edge, error) {
	var edge entities.Edge
	var status string
	if err := row.Scan(&edge.ID, &edge.FromUser, &edge.ToUser, &status, &edge.CreatedAt, &edge.UpdatedAt); err != nil {
		return nil, err
	}
	edge.Status = entities.EdgeStatus(status)
	if !edge.Status.Valid() {
		return nil, fmt.Errorf("edge %s has unknown status %q", edge.ID, status)
	}
	return &edge, nil
}
