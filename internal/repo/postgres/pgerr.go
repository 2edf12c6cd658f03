package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// invalidUUID reports whether postgres rejected a malformed uuid literal
// (22P02). Ids arrive from request paths and bodies, so garbage input must
// read as "not found" rather than an infrastructure failure.
func invalidUUID(err error) bool {
	var pgErr *pgconn.PgError

	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}
