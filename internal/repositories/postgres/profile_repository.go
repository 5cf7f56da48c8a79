package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/asakaida/kizuna/internal/entities"
	"github.com/asakaida/kizuna/internal/repositories"
	"github.com/lib/pq"
)

// PostgresProfileRepository reads the profiles projection
type PostgresProfileRepository struct {
	db *sql.DB
}

// NewPostgresProfileRepository creates a new PostgreSQL profile repository
func NewPostgresProfileRepository(db *sql.DB) repositories.ProfileRepository {
	return &PostgresProfileRepository{db: db}
}

// likeEscaper escapes LIKE metacharacters so user input matches literally
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Search returns profiles whose username contains the filter substring,
// case-insensitively, excluding the given ids
func (r *PostgresProfileRepository) Search(ctx context.Context, filter *repositories.ProfileFilter) ([]*entities.Profile, error) {
	query := `
		SELECT id, username, avatar_url
		FROM profiles
		WHERE username ILIKE '%' || $1 || '%' ESCAPE '\'
			AND NOT (id = ANY($2))
		ORDER BY lower(username), id
	`
	exclude := filter.ExcludeIDs
	if exclude == nil {
		exclude = []string{}
	}
	args := []interface{}{likeEscaper.Replace(filter.UsernameContains), pq.Array(exclude)}
	if filter.Limit > 0 {
		query += " LIMIT $3"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translateError("failed to search profiles", err)
	}
	defer rows.Close()

	var profiles []*entities.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError("error iterating profiles", err)
	}

	return profiles, nil
}

// GetByIDs returns the profiles that exist among ids
func (r *PostgresProfileRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*entities.Profile, error) {
	result := make(map[string]*entities.Profile, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, username, avatar_url FROM profiles WHERE id = ANY($1)`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, translateError("failed to get profiles", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, translateError("error iterating profiles", err)
	}

	return result, nil
}

func scanProfile(row rowScanner) (*entities.Profile, error) {
	var p entities.Profile
	var avatar sql.NullString
	if err := row.Scan(&p.ID, &p.Username, &avatar); err != nil {
		return nil, translateError("failed to scan profile", err)
	}
	p.AvatarURL = avatar.String
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("malformed profile row: %w: %w", repositories.ErrUnavailable, err)
	}
	return &p, nil
}
