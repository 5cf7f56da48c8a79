package postgres

import (
	"errors"
	"fmt"

	"github.com/asakaida/kizuna/internal/repositories"
	"github.com/lib/pq"
)

// PostgreSQL SQLSTATE codes the adapters translate
const (
	codeUniqueViolation = "23505"
)

// translateError wraps a driver error with the matching repository class.
// Everything that is not a known constraint failure is treated as the
// backend being unavailable.
func translateError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == codeUniqueViolation {
		return fmt.Errorf("%s: %w (%s)", op, repositories.ErrConstraintViolation, pqErr.Constraint)
	}
	return fmt.Errorf("%s: %w: %w", op, repositories.ErrUnavailable, err)
}
