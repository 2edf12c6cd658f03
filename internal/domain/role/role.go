package role

import (
	"errors"
	"time"

	"github.com/geocoder89/authhub/internal/domain/permission"
)

type Role struct {
	ID          string                  `json:"id"`
	Name        string                  `json:"name"`
	Permissions []permission.Permission `json:"permissions"`
	CreatedAt   time.Time               `json:"createdAt"`
	UpdatedAt   time.Time               `json:"updatedAt"`
}

type CreateRoleRequest struct {
	Name          string   `json:"name" binding:"required"`
	PermissionIDs []string `json:"permissionIds"`
}

type UpdateRoleRequest struct {
	Name          string   `json:"name" binding:"required"`
	PermissionIDs []string `json:"permissionIds"`
}

var (
	ErrNotFound  = errors.New("role not found")
	ErrNameTaken = errors.New("role name already in use")
	ErrRoleInUse = errors.New("role is assigned to one or more users")
)
