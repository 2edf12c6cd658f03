package permission

import (
	"errors"
	"time"
)

// Wildcard is the reserved permission name that grants access to everything.
const Wildcard = "*"

type Permission struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type CreatePermissionRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

type UpdatePermissionRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

var (
	ErrNotFound        = errors.New("permission not found")
	ErrNameTaken       = errors.New("permission already exists")
	ErrPermissionInUse = errors.New("permission is assigned to one or more roles")
)
