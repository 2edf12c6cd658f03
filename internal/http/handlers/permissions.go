package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/geocoder89/authhub/internal/config"
	"github.com/geocoder89/authhub/internal/domain/permission"
	"github.com/gin-gonic/gin"
)

type PermissionStore interface {
	Create(ctx context.Context, req permission.CreatePermissionRequest) (permission.Permission, error)
	GetByID(ctx context.Context, id string) (permission.Permission, error)
	List(ctx context.Context) ([]permission.Permission, error)
	Update(ctx context.Context, id string, req permission.UpdatePermissionRequest) (permission.Permission, error)
	Delete(ctx context.Context, id string) error
}

type PermissionsHandler struct {
	repo PermissionStore
}

func NewPermissionsHandler(repo PermissionStore) *PermissionsHandler {
	return &PermissionsHandler{repo: repo}
}

func (h *PermissionsHandler) CreatePermission(ctx *gin.Context) {
	var req permission.CreatePermissionRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithRequestTimeout(ctx.Request.Context(), 3*time.Second)

	defer cancel()

	created, err := h.repo.Create(cctx, req)

	if err != nil {
		if errors.Is(err, permission.ErrNameTaken) {
			RespondConflict(ctx, "permission_exists", "Permission already exists")
			return
		}

		RespondInternal(ctx, "Could not create permission")
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{
		"message":    "Permission created",
		"permission": created,
	})
}

func (h *PermissionsHandler) ListPermissions(ctx *gin.Context) {
	cctx, cancel := config.WithRequestTimeout(ctx.Request.Context(), 3*time.Second)

	defer cancel()

	permissions, err := h.repo.List(cctx)

	if err != nil {
		RespondInternal(ctx, "Could not list permissions")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"items": permissions,
		"count": len(permissions),
	})
}

func (h *PermissionsHandler) GetPermissionByID(ctx *gin.Context) {
	cctx, cancel := config.WithRequestTimeout(ctx.Request.Context(), 2*time.Second)

	defer cancel()

	found, err := h.repo.GetByID(cctx, ctx.Param("id"))

	if err != nil {
		if errors.Is(err, permission.ErrNotFound) {
			RespondNotFound(ctx, "Permission not found")
			return
		}

		RespondInternal(ctx, "Could not fetch permission")
		return
	}

	ctx.JSON(http.StatusOK, found)
}

func (h *PermissionsHandler) UpdatePermission(ctx *gin.Context) {
	var req permission.UpdatePermissionRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithRequestTimeout(ctx.Request.Context(), 3*time.Second)

	defer cancel()

	updated, err := h.repo.Update(cctx, ctx.Param("id"), req)

	if err != nil {
		switch {
		case errors.Is(err, permission.ErrNotFound):
			RespondNotFound(ctx, "Permission not found")
		case errors.Is(err, permission.ErrNameTaken):
			RespondConflict(ctx, "permission_exists", "Permission already exists")
		default:
			RespondInternal(ctx, "Could not update permission")
		}
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"message":    "Permission updated",
		"permission": updated,
	})
}

func (h *PermissionsHandler) DeletePermission(ctx *gin.Context) {
	cctx, cancel := config.WithRequestTimeout(ctx.Request.Context(), 3*time.Second)

	defer cancel()

	err := h.repo.Delete(cctx, ctx.Param("id"))

	if err != nil {
		switch {
		case errors.Is(err, permission.ErrNotFound):
			RespondNotFound(ctx, "Permission not found")
		case errors.Is(err, permission.ErrPermissionInUse):
			RespondConflict(ctx, "permission_in_use", "Cannot delete permission: it is assigned to one or more roles")
		default:
			RespondInternal(ctx, "Could not delete permission")
		}
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "Permission deleted successfully"})
}
