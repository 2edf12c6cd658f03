package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/authhub/internal/domain/role"
	"github.com/geocoder89/authhub/internal/domain/user"
	"github.com/geocoder89/authhub/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UsersRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewUsersRepo(pool *pgxpool.Pool, prom *observability.Prom) *UsersRepo {
	return &UsersRepo{
		pool: pool,
		prom: prom,
	}
}

func (r *UsersRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func (r *UsersRepo) Create(ctx context.Context, u user.User) (user.User, error) {
	err := r.observe("users.create", func() error {
		_, e := r.pool.Exec(ctx,
			`INSERT INTO users (id, name, email, phone, password_hash, role_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			u.ID, u.Name, u.Email, u.Phone, u.PasswordHash, u.RoleID, u.CreatedAt, u.UpdatedAt,
		)
		return e
	})

	if err != nil {
		var pgErr *pgconn.PgError

		if errors.As(err, &pgErr) {
			// unique email, role foreign key, malformed role id
			switch pgErr.Code {
			case "23505":
				return user.User{}, user.ErrEmailAlreadyUsed
			case "23503", "22P02":
				return user.User{}, role.ErrNotFound
			}
		}

		return user.User{}, err
	}

	return u, nil
}

func (r *UsersRepo) GetByEmail(ctx context.Context, email string) (user.User, error) {
	var u user.User

	err := r.observe("users.get_by_email", func() error {
		return r.pool.QueryRow(
			ctx,
			`SELECT id, name, email, phone, password_hash, role_id, created_at, updated_at
			FROM users
			WHERE email = $1`,
			email,
		).Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.PasswordHash, &u.RoleID, &u.CreatedAt, &u.UpdatedAt)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}

		return user.User{}, err
	}

	return u, nil
}

func (r *UsersRepo) GetByID(ctx context.Context, id string) (user.User, error) {
	var u user.User

	err := r.observe("users.get_by_id", func() error {
		return r.pool.QueryRow(
			ctx,
			`SELECT id, name, email, phone, password_hash, role_id, created_at, updated_at
			FROM users
			WHERE id = $1`,
			id,
		).Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.PasswordHash, &u.RoleID, &u.CreatedAt, &u.UpdatedAt)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || invalidUUID(err) {
			return user.User{}, user.ErrNotFound
		}

		return user.User{}, err
	}

	return u, nil
}

// GetIdentity resolves the user together with its current role and
// permission names in one round trip. This is what the auth middleware calls
// on every request.
func (r *UsersRepo) GetIdentity(ctx context.Context, id string) (user.Identity, error) {
	var identity user.Identity

	err := r.observe("users.get_identity", func() error {
		return r.pool.QueryRow(
			ctx,
			`SELECT u.id, u.name, u.email, u.phone, r.name,
				COALESCE((
					SELECT array_agg(p.name ORDER BY p.name)
					FROM role_permissions rp
					JOIN permissions p ON p.id = rp.permission_id
					WHERE rp.role_id = u.role_id
				), '{}')
			FROM users u
			JOIN roles r ON r.id = u.role_id
			WHERE u.id = $1`,
			id,
		).Scan(&identity.ID, &identity.Name, &identity.Email, &identity.Phone, &identity.Role, &identity.Permissions)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || invalidUUID(err) {
			return user.Identity{}, user.ErrNotFound
		}

		return user.Identity{}, err
	}

	return identity, nil
}

func (r *UsersRepo) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	var tag pgconn.CommandTag

	err := r.observe("users.update_password", func() error {
		var e error
		tag, e = r.pool.Exec(ctx,
			`UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`,
			id, passwordHash, time.Now().UTC(),
		)
		return e
	})

	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return user.ErrNotFound
	}

	return nil
}
