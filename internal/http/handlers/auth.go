package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/geocoder89/authhub/internal/auth"
	"github.com/geocoder89/authhub/internal/config"
	"github.com/geocoder89/authhub/internal/denylist"
	"github.com/geocoder89/authhub/internal/domain/role"
	"github.com/geocoder89/authhub/internal/domain/user"
	"github.com/geocoder89/authhub/internal/http/middlewares"
	"github.com/geocoder89/authhub/internal/observability"
	"github.com/geocoder89/authhub/internal/security"
	"github.com/gin-gonic/gin"
)

type UserStore interface {
	Create(ctx context.Context, u user.User) (user.User, error)
	GetByEmail(ctx context.Context, email string) (user.User, error)
	GetByID(ctx context.Context, id string) (user.User, error)
	GetIdentity(ctx context.Context, id string) (user.Identity, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

type RoleReader interface {
	GetByID(ctx context.Context, id string) (role.Role, error)
}

type TokenManager interface {
	Generate(userID string) (string, error)
	Verify(token string) (*auth.Claims, error)
	TTL() time.Duration
}

type AuthHandler struct {
	users   UserStore
	roles   RoleReader
	jwt     TokenManager
	revoked denylist.Store
	prom    *observability.Prom
	cfg     config.Config
}

func NewAuthHandler(users UserStore, roles RoleReader, jwt TokenManager, revoked denylist.Store, prom *observability.Prom, cfg config.Config) *AuthHandler {
	return &AuthHandler{
		users:   users,
		roles:   roles,
		jwt:     jwt,
		revoked: revoked,
		prom:    prom,
		cfg:     cfg,
	}
}

// RegisterAdmin and RegisterUser share one flow; both sit behind the
// wildcard permission, the split only mirrors the public API surface.

func (h *AuthHandler) RegisterAdmin(ctx *gin.Context) {
	h.register(ctx, "Admin registered successfully")
}

func (h *AuthHandler) RegisterUser(ctx *gin.Context) {
	h.register(ctx, "User registered successfully")
}

func (h *AuthHandler) register(ctx *gin.Context, successMessage string) {
	var req user.RegisterRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithRequestTimeout(ctx.Request.Context(), 3*time.Second)

	defer cancel()

	// existing email and unknown role are both the caller's mistake, so
	// both answer 400 rather than 409/404
	_, err := h.users.GetByEmail(cctx, req.Email)

	if err == nil {
		RespondBadRequest(ctx, "Email already in use", nil)
		return
	}

	if !errors.Is(err, user.ErrNotFound) {
		RespondInternal(ctx, "Could not register user")
		return
	}

	assigned, err := h.roles.GetByID(cctx, req.RoleID)

	if err != nil {
		if errors.Is(err, role.ErrNotFound) {
			RespondBadRequest(ctx, "Invalid roleId, role does not exist", nil)
			return
		}

		RespondInternal(ctx, "Could not register user")
		return
	}

	hash, err := security.HashPassword(req.Password)

	if err != nil {
		RespondInternal(ctx, "Could not register user")
		return
	}

	created, err := h.users.Create(cctx, user.NewFromRegisterRequest(req, hash))

	if err != nil {
		switch {
		case errors.Is(err, user.ErrEmailAlreadyUsed):
			RespondBadRequest(ctx, "Email already in use", nil)
		case errors.Is(err, role.ErrNotFound):
			RespondBadRequest(ctx, "Invalid roleId, role does not exist", nil)
		default:
			RespondInternal(ctx, "Could not register user")
		}
		return
	}

	// created marshals without the hash, role name is added for convenience
	ctx.JSON(http.StatusCreated, gin.H{
		"message": successMessage,
		"user":    created,
		"role":    assigned.Name,
	})
}

func (h *AuthHandler) Login(ctx *gin.Context) {
	var req user.LoginRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithRequestTimeout(ctx.Request.Context(), 2*time.Second)

	defer cancel()

	foundUser, err := h.users.GetByEmail(cctx, req.Email)

	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			// identical answer for unknown email and wrong password
			h.countLogin("invalid_credentials")
			RespondUnAuthorized(ctx, "invalid_credentials", "Email or password is incorrect.")
			return
		}

		h.countLogin("error")
		RespondInternal(ctx, "Could not log in")
		return
	}

	err = security.CheckPassword(foundUser.PasswordHash, req.Password)

	if err != nil {
		h.countLogin("invalid_credentials")
		RespondUnAuthorized(ctx, "invalid_credentials", "Email or password is incorrect.")
		return
	}

	token, err := h.jwt.Generate(foundUser.ID)

	if err != nil {
		h.countLogin("error")
		RespondInternal(ctx, "Could not generate token")
		return
	}

	identity, err := h.users.GetIdentity(cctx, foundUser.ID)

	if err != nil {
		h.countLogin("error")
		RespondInternal(ctx, "Could not resolve identity")
		return
	}

	h.setTokenCookie(ctx, token)
	h.countLogin("ok")

	ctx.JSON(http.StatusOK, gin.H{
		"message": "Login successful",
		"user":    identity,
		"token":   token,
	})
}

// LoginStatus never errors: any verification failure degrades to
// loggedIn=false.
func (h *AuthHandler) LoginStatus(ctx *gin.Context) {
	loggedOut := gin.H{"loggedIn": false}

	raw := middlewares.ExtractToken(ctx)

	if raw == "" {
		ctx.JSON(http.StatusOK, loggedOut)
		return
	}

	claims, err := h.jwt.Verify(raw)

	if err != nil {
		ctx.JSON(http.StatusOK, loggedOut)
		return
	}

	if h.revoked != nil {
		gone, dErr := h.revoked.IsRevoked(ctx.Request.Context(), claims.JTI)

		if dErr != nil || gone {
			ctx.JSON(http.StatusOK, loggedOut)
			return
		}
	}

	cctx, cancel := config.WithRequestTimeout(ctx.Request.Context(), 2*time.Second)

	defer cancel()

	identity, err := h.users.GetIdentity(cctx, claims.Subject)

	if err != nil {
		ctx.JSON(http.StatusOK, loggedOut)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"loggedIn": true,
		"user":     identity,
	})
}

func (h *AuthHandler) Logout(ctx *gin.Context) {
	raw := middlewares.ExtractToken(ctx)

	if raw != "" && h.revoked != nil {
		// denylist the jti until the token would have expired anyway
		if claims, err := h.jwt.Verify(raw); err == nil {
			_ = h.revoked.Revoke(ctx.Request.Context(), claims.JTI, claims.ExpiresAt.Time)
		}
	}

	h.clearTokenCookie(ctx)

	ctx.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

func (h *AuthHandler) ChangePassword(ctx *gin.Context) {
	identity, ok := middlewares.IdentityFromContext(ctx)

	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Not authorized, please login")
		return
	}

	var req user.ChangePasswordRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithRequestTimeout(ctx.Request.Context(), 3*time.Second)

	defer cancel()

	foundUser, err := h.users.GetByID(cctx, identity.ID)

	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondNotFound(ctx, "User not found")
			return
		}

		RespondInternal(ctx, "Could not change password")
		return
	}

	err = security.CheckPassword(foundUser.PasswordHash, req.OldPassword)

	if err != nil {
		RespondBadRequest(ctx, "Old password is incorrect", nil)
		return
	}

	hash, err := security.HashPassword(req.NewPassword)

	if err != nil {
		RespondInternal(ctx, "Could not change password")
		return
	}

	err = h.users.UpdatePassword(cctx, foundUser.ID, hash)

	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondNotFound(ctx, "User not found")
			return
		}

		RespondInternal(ctx, "Could not change password")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "Password changed successfully"})
}

func (h *AuthHandler) UserDetails(ctx *gin.Context) {
	identity, ok := middlewares.IdentityFromContext(ctx)

	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Not authorized, please login")
		return
	}

	cctx, cancel := config.WithRequestTimeout(ctx.Request.Context(), 2*time.Second)

	defer cancel()

	foundUser, err := h.users.GetByID(cctx, identity.ID)

	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondNotFound(ctx, "User not found")
			return
		}

		RespondInternal(ctx, "Could not fetch user")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"user":        foundUser,
		"role":        identity.Role,
		"permissions": identity.Permissions,
	})
}

// helpers

func (h *AuthHandler) countLogin(result string) {
	if h.prom != nil {
		h.prom.LoginsTotal.WithLabelValues(result).Inc()
	}
}

// The cookie is cross-site capable (SameSite=None + Secure) so a separately
// hosted frontend can send it.
func (h *AuthHandler) setTokenCookie(ctx *gin.Context, token string) {
	maxAge := int(h.jwt.TTL().Seconds())

	ctx.SetSameSite(http.SameSiteNoneMode)

	ctx.SetCookie(
		auth.TokenCookie,
		token,
		maxAge,
		"/",
		"",
		true, // Secure
		true, // HttpOnly
	)
}

func (h *AuthHandler) clearTokenCookie(ctx *gin.Context) {
	ctx.SetSameSite(http.SameSiteNoneMode)
	ctx.SetCookie(
		auth.TokenCookie,
		"",
		-1,
		"/",
		"",
		true,
		true,
	)
}
