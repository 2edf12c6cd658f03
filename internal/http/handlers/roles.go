package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/geocoder89/authhub/internal/config"
	"github.com/geocoder89/authhub/internal/domain/permission"
	"github.com/geocoder89/authhub/internal/domain/role"
	"github.com/gin-gonic/gin"
)

type RoleStore interface {
	Create(ctx context.Context, req role.CreateRoleRequest) (role.Role, error)
	GetByID(ctx context.Context, id string) (role.Role, error)
	List(ctx context.Context) ([]role.Role, error)
	Update(ctx context.Context, id string, req role.UpdateRoleRequest) (role.Role, error)
	Delete(ctx context.Context, id string) error
}

type RolesHandler struct {
	repo RoleStore
}

func NewRolesHandler(repo RoleStore) *RolesHandler {
	return &RolesHandler{repo: repo}
}

func (h *RolesHandler) CreateRole(ctx *gin.Context) {
	var req role.CreateRoleRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithRequestTimeout(ctx.Request.Context(), 3*time.Second)

	defer cancel()

	created, err := h.repo.Create(cctx, req)

	if err != nil {
		h.respondRoleError(ctx, err, "Could not create role")
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{
		"message": "Role created",
		"role":    created,
	})
}

func (h *RolesHandler) ListRoles(ctx *gin.Context) {
	cctx, cancel := config.WithRequestTimeout(ctx.Request.Context(), 3*time.Second)

	defer cancel()

	roles, err := h.repo.List(cctx)

	if err != nil {
		RespondInternal(ctx, "Could not list roles")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"items": roles,
		"count": len(roles),
	})
}

func (h *RolesHandler) GetRoleByID(ctx *gin.Context) {
	cctx, cancel := config.WithRequestTimeout(ctx.Request.Context(), 2*time.Second)

	defer cancel()

	found, err := h.repo.GetByID(cctx, ctx.Param("id"))

	if err != nil {
		if errors.Is(err, role.ErrNotFound) {
			RespondNotFound(ctx, "Role not found")
			return
		}

		RespondInternal(ctx, "Could not fetch role")
		return
	}

	ctx.JSON(http.StatusOK, found)
}

func (h *RolesHandler) UpdateRole(ctx *gin.Context) {
	var req role.UpdateRoleRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithRequestTimeout(ctx.Request.Context(), 3*time.Second)

	defer cancel()

	updated, err := h.repo.Update(cctx, ctx.Param("id"), req)

	if err != nil {
		h.respondRoleError(ctx, err, "Could not update role")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"message": "Role updated",
		"role":    updated,
	})
}

func (h *RolesHandler) DeleteRole(ctx *gin.Context) {
	cctx, cancel := config.WithRequestTimeout(ctx.Request.Context(), 3*time.Second)

	defer cancel()

	err := h.repo.Delete(cctx, ctx.Param("id"))

	if err != nil {
		switch {
		case errors.Is(err, role.ErrNotFound):
			RespondNotFound(ctx, "Role not found")
		case errors.Is(err, role.ErrRoleInUse):
			RespondConflict(ctx, "role_in_use", "Cannot delete role: it is assigned to one or more users")
		default:
			RespondInternal(ctx, "Could not delete role")
		}
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "Role deleted successfully"})
}

func (h *RolesHandler) respondRoleError(ctx *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, role.ErrNotFound):
		RespondNotFound(ctx, "Role not found")
	case errors.Is(err, permission.ErrNotFound):
		// unknown ids fail loudly instead of being silently skipped
		RespondNotFound(ctx, "One or more permissionIds do not exist")
	case errors.Is(err, role.ErrNameTaken):
		RespondConflict(ctx, "role_exists", "Role name already in use")
	default:
		RespondInternal(ctx, fallback)
	}
}
