package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/geocoder89/authhub/internal/config"
	"github.com/geocoder89/authhub/internal/domain/permission"
	"github.com/geocoder89/authhub/internal/security"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const superAdminRole = "SUPER_ADMIN"

// Seed guarantees the SUPER_ADMIN role, the wildcard permission, their link,
// and the bootstrap admin account exist. Every step is a no-op when the row
// is already there, so running it on each boot is safe.
func Seed(ctx context.Context, pool *pgxpool.Pool, cfg config.Config, log *slog.Logger) error {
	roleID, err := ensureRole(ctx, pool, superAdminRole)

	if err != nil {
		return err
	}

	permID, err := ensurePermission(ctx, pool, permission.Wildcard, "grants access to all permissions")

	if err != nil {
		return err
	}

	_, err = pool.Exec(ctx,
		`INSERT INTO role_permissions (role_id, permission_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`,
		roleID, permID,
	)

	if err != nil {
		return err
	}

	return ensureAdminUser(ctx, pool, cfg, roleID, log)
}

func ensureRole(ctx context.Context, pool *pgxpool.Pool, name string) (string, error) {
	var id string

	err := pool.QueryRow(ctx, `SELECT id FROM roles WHERE name = $1`, name).Scan(&id)

	if err == nil {
		return id, nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}

	id = uuid.NewString()
	now := time.Now().UTC()

	// ON CONFLICT covers the race with a concurrent boot
	_, err = pool.Exec(ctx,
		`INSERT INTO roles (id, name, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (name) DO NOTHING`,
		id, name, now,
	)

	if err != nil {
		return "", err
	}

	err = pool.QueryRow(ctx, `SELECT id FROM roles WHERE name = $1`, name).Scan(&id)

	return id, err
}

func ensurePermission(ctx context.Context, pool *pgxpool.Pool, name, description string) (string, error) {
	var id string

	err := pool.QueryRow(ctx, `SELECT id FROM permissions WHERE name = $1`, name).Scan(&id)

	if err == nil {
		return id, nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}

	id = uuid.NewString()
	now := time.Now().UTC()

	_, err = pool.Exec(ctx,
		`INSERT INTO permissions (id, name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (name) DO NOTHING`,
		id, name, description, now,
	)

	if err != nil {
		return "", err
	}

	err = pool.QueryRow(ctx, `SELECT id FROM permissions WHERE name = $1`, name).Scan(&id)

	return id, err
}

func ensureAdminUser(ctx context.Context, pool *pgxpool.Pool, cfg config.Config, roleID string, log *slog.Logger) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		log.Warn("seed: ADMIN_PASSWORD not set, skipping bootstrap admin")
		return nil
	}

	var dummy string

	err := pool.QueryRow(ctx, `SELECT id FROM users WHERE email = $1`, cfg.AdminEmail).Scan(&dummy)

	if err == nil {
		return nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	hash, err := security.HashPassword(cfg.AdminPassword)

	if err != nil {
		return err
	}

	now := time.Now().UTC()

	_, err = pool.Exec(ctx,
		`INSERT INTO users (id, name, email, phone, password_hash, role_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (email) DO NOTHING`,
		uuid.NewString(), cfg.AdminName, cfg.AdminEmail, cfg.AdminPhone, hash, roleID, now,
	)

	if err == nil {
		log.Info("seed: bootstrap admin created", "email", cfg.AdminEmail)
	}

	return err
}
