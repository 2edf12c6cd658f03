package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/authhub/internal/domain/permission"
	"github.com/geocoder89/authhub/internal/observability"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PermissionsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewPermissionsRepo(pool *pgxpool.Pool, prom *observability.Prom) *PermissionsRepo {
	return &PermissionsRepo{
		pool: pool,
		prom: prom,
	}
}

func (r *PermissionsRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func (r *PermissionsRepo) Create(ctx context.Context, req permission.CreatePermissionRequest) (permission.Permission, error) {
	now := time.Now().UTC()

	created := permission.Permission{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := r.observe("permissions.create", func() error {
		_, e := r.pool.Exec(ctx,
			`INSERT INTO permissions (id, name, description, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)`,
			created.ID, created.Name, created.Description, created.CreatedAt, created.UpdatedAt,
		)
		return e
	})

	if err != nil {
		var pgErr *pgconn.PgError

		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return permission.Permission{}, permission.ErrNameTaken
		}

		return permission.Permission{}, err
	}

	return created, nil
}

func (r *PermissionsRepo) GetByID(ctx context.Context, id string) (permission.Permission, error) {
	var p permission.Permission

	err := r.observe("permissions.get_by_id", func() error {
		return r.pool.QueryRow(ctx,
			`SELECT id, name, description, created_at, updated_at FROM permissions WHERE id = $1`,
			id,
		).Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || invalidUUID(err) {
			return permission.Permission{}, permission.ErrNotFound
		}

		return permission.Permission{}, err
	}

	return p, nil
}

func (r *PermissionsRepo) List(ctx context.Context) ([]permission.Permission, error) {
	var out []permission.Permission

	err := r.observe("permissions.list", func() error {
		rows, e := r.pool.Query(ctx,
			`SELECT id, name, description, created_at, updated_at FROM permissions ORDER BY name`,
		)

		if e != nil {
			return e
		}

		defer rows.Close()

		out = make([]permission.Permission, 0)

		for rows.Next() {
			var p permission.Permission

			if e = rows.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt); e != nil {
				return e
			}

			out = append(out, p)
		}

		return rows.Err()
	})

	if err != nil {
		return nil, err
	}

	return out, nil
}

func (r *PermissionsRepo) Update(ctx context.Context, id string, req permission.UpdatePermissionRequest) (permission.Permission, error) {
	var p permission.Permission

	err := r.observe("permissions.update", func() error {
		return r.pool.QueryRow(ctx,
			`UPDATE permissions
			SET name = $2, description = $3, updated_at = $4
			WHERE id = $1
			RETURNING id, name, description, created_at, updated_at`,
			id, req.Name, req.Description, time.Now().UTC(),
		).Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || invalidUUID(err) {
			return permission.Permission{}, permission.ErrNotFound
		}

		var pgErr *pgconn.PgError

		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return permission.Permission{}, permission.ErrNameTaken
		}

		return permission.Permission{}, err
	}

	return p, nil
}

// Delete refuses to remove a permission while any role still references it.
// Check and delete share one transaction, same as role deletion.
func (r *PermissionsRepo) Delete(ctx context.Context, id string) error {
	return r.observe("permissions.delete", func() error {
		tx, e := r.pool.BeginTx(ctx, pgx.TxOptions{})

		if e != nil {
			return e
		}

		defer func() { _ = tx.Rollback(ctx) }()

		var dummy string

		e = tx.QueryRow(ctx, `SELECT id FROM permissions WHERE id = $1 FOR UPDATE`, id).Scan(&dummy)

		if e != nil {
			if errors.Is(e, pgx.ErrNoRows) || invalidUUID(e) {
				return permission.ErrNotFound
			}

			return e
		}

		var refs int

		e = tx.QueryRow(ctx, `SELECT COUNT(*) FROM role_permissions WHERE permission_id = $1`, id).Scan(&refs)

		if e != nil {
			return e
		}

		if refs > 0 {
			return permission.ErrPermissionInUse
		}

		_, e = tx.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)

		if e != nil {
			return e
		}

		return tx.Commit(ctx)
	})
}
