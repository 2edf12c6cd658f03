package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/authhub/internal/domain/permission"
	"github.com/geocoder89/authhub/internal/domain/role"
	"github.com/geocoder89/authhub/internal/observability"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RolesRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewRolesRepo(pool *pgxpool.Pool, prom *observability.Prom) *RolesRepo {
	return &RolesRepo{
		pool: pool,
		prom: prom,
	}
}

func (r *RolesRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func (r *RolesRepo) Create(ctx context.Context, req role.CreateRoleRequest) (role.Role, error) {
	now := time.Now().UTC()

	created := role.Role{
		ID:        uuid.NewString(),
		Name:      req.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := r.observe("roles.create", func() error {
		tx, e := r.pool.BeginTx(ctx, pgx.TxOptions{})

		if e != nil {
			return e
		}

		defer func() { _ = tx.Rollback(ctx) }()

		_, e = tx.Exec(ctx,
			`INSERT INTO roles (id, name, created_at, updated_at) VALUES ($1, $2, $3, $4)`,
			created.ID, created.Name, created.CreatedAt, created.UpdatedAt,
		)

		if e != nil {
			return e
		}

		e = linkPermissions(ctx, tx, created.ID, req.PermissionIDs)

		if e != nil {
			return e
		}

		return tx.Commit(ctx)
	})

	if err != nil {
		var pgErr *pgconn.PgError

		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return role.Role{}, role.ErrNameTaken
		}

		return role.Role{}, err
	}

	return r.GetByID(ctx, created.ID)
}

func (r *RolesRepo) GetByID(ctx context.Context, id string) (role.Role, error) {
	var out role.Role

	err := r.observe("roles.get_by_id", func() error {
		e := r.pool.QueryRow(ctx,
			`SELECT id, name, created_at, updated_at FROM roles WHERE id = $1`,
			id,
		).Scan(&out.ID, &out.Name, &out.CreatedAt, &out.UpdatedAt)

		if e != nil {
			return e
		}

		out.Permissions, e = rolePermissions(ctx, r.pool, id)

		return e
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || invalidUUID(err) {
			return role.Role{}, role.ErrNotFound
		}

		return role.Role{}, err
	}

	return out, nil
}

func (r *RolesRepo) List(ctx context.Context) ([]role.Role, error) {
	var out []role.Role

	err := r.observe("roles.list", func() error {
		rows, e := r.pool.Query(ctx,
			`SELECT id, name, created_at, updated_at FROM roles ORDER BY name`,
		)

		if e != nil {
			return e
		}

		defer rows.Close()

		out = make([]role.Role, 0)

		for rows.Next() {
			var ro role.Role

			if e = rows.Scan(&ro.ID, &ro.Name, &ro.CreatedAt, &ro.UpdatedAt); e != nil {
				return e
			}

			out = append(out, ro)
		}

		if e = rows.Err(); e != nil {
			return e
		}

		for i := range out {
			out[i].Permissions, e = rolePermissions(ctx, r.pool, out[i].ID)

			if e != nil {
				return e
			}
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return out, nil
}

// Update replaces the role's permission set wholesale: old links are cleared
// before the given ids are connected.
func (r *RolesRepo) Update(ctx context.Context, id string, req role.UpdateRoleRequest) (role.Role, error) {
	err := r.observe("roles.update", func() error {
		tx, e := r.pool.BeginTx(ctx, pgx.TxOptions{})

		if e != nil {
			return e
		}

		defer func() { _ = tx.Rollback(ctx) }()

		tag, e := tx.Exec(ctx,
			`UPDATE roles SET name = $2, updated_at = $3 WHERE id = $1`,
			id, req.Name, time.Now().UTC(),
		)

		if e != nil {
			if invalidUUID(e) {
				return role.ErrNotFound
			}

			return e
		}

		if tag.RowsAffected() == 0 {
			return role.ErrNotFound
		}

		_, e = tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, id)

		if e != nil {
			return e
		}

		e = linkPermissions(ctx, tx, id, req.PermissionIDs)

		if e != nil {
			return e
		}

		return tx.Commit(ctx)
	})

	if err != nil {
		var pgErr *pgconn.PgError

		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return role.Role{}, role.ErrNameTaken
		}

		return role.Role{}, err
	}

	return r.GetByID(ctx, id)
}

// Delete refuses to remove a role any user still references. The user count
// runs inside the same transaction as the delete, with the role row locked,
// so a concurrent registration cannot slip between check and delete.
func (r *RolesRepo) Delete(ctx context.Context, id string) error {
	return r.observe("roles.delete", func() error {
		tx, e := r.pool.BeginTx(ctx, pgx.TxOptions{})

		if e != nil {
			return e
		}

		defer func() { _ = tx.Rollback(ctx) }()

		var dummy string

		e = tx.QueryRow(ctx, `SELECT id FROM roles WHERE id = $1 FOR UPDATE`, id).Scan(&dummy)

		if e != nil {
			if errors.Is(e, pgx.ErrNoRows) || invalidUUID(e) {
				return role.ErrNotFound
			}

			return e
		}

		var users int

		e = tx.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE role_id = $1`, id).Scan(&users)

		if e != nil {
			return e
		}

		if users > 0 {
			return role.ErrRoleInUse
		}

		_, e = tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, id)

		if e != nil {
			return e
		}

		_, e = tx.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)

		if e != nil {
			return e
		}

		return tx.Commit(ctx)
	})
}

// linkPermissions connects the given permission ids to a role after checking
// every id resolves. Unknown ids fail the whole operation rather than being
// silently skipped.
func linkPermissions(ctx context.Context, tx pgx.Tx, roleID string, permissionIDs []string) error {
	ids := dedupe(permissionIDs)

	if len(ids) == 0 {
		return nil
	}

	var found int

	err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM permissions WHERE id = ANY($1::uuid[])`,
		ids,
	).Scan(&found)

	if err != nil {
		// malformed ids fail the cast; same outcome as an unknown id
		if invalidUUID(err) {
			return permission.ErrNotFound
		}

		return err
	}

	if found != len(ids) {
		return permission.ErrNotFound
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO role_permissions (role_id, permission_id)
		SELECT $1, unnest($2::uuid[])
		ON CONFLICT DO NOTHING`,
		roleID, ids,
	)

	return err
}

func rolePermissions(ctx context.Context, pool *pgxpool.Pool, roleID string) ([]permission.Permission, error) {
	rows, err := pool.Query(ctx,
		`SELECT p.id, p.name, p.description, p.created_at, p.updated_at
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.name`,
		roleID,
	)

	if err != nil {
		return nil, err
	}

	defer rows.Close()

	out := make([]permission.Permission, 0)

	for rows.Next() {
		var p permission.Permission

		if err = rows.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}

		out = append(out, p)
	}

	return out, rows.Err()
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))

	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}

		seen[id] = struct{}{}
		out = append(out, id)
	}

	return out
}
