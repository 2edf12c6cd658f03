package http

import (
	"context"
	"log/slog"
	"time"

	"github.com/geocoder89/authhub/internal/auth"
	"github.com/geocoder89/authhub/internal/config"
	"github.com/geocoder89/authhub/internal/denylist"
	"github.com/geocoder89/authhub/internal/http/handlers"
	"github.com/geocoder89/authhub/internal/http/middlewares"
	"github.com/geocoder89/authhub/internal/observability"
	"github.com/geocoder89/authhub/internal/repo/postgres"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

func NewRouter(log *slog.Logger, pool *pgxpool.Pool, revoked denylist.Store, reg *prometheus.Registry, cfg config.Config) *gin.Engine {
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	prom := observability.NewProm(reg)

	// middleware

	r.Use(gin.Recovery())
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger(log))
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddleware(cfg.CORSOrigins))
	r.Use(middlewares.RequireJSON())
	r.Use(middlewares.MaxBodyBytes(cfg.MaxBodyBytes))
	r.Use(otelgin.Middleware("authhub"))
	r.Use(prom.GinHandleMiddleware())

	// health + metrics

	pings := map[string]func() error{
		"postgres": func() error {
			if pool == nil {
				return nil
			}

			ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
			defer cancel()

			return pool.Ping(ctx)
		},
	}

	if redisStore, ok := revoked.(*denylist.Redis); ok {
		pings["redis"] = func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
			defer cancel()

			return redisStore.Ping(ctx)
		}
	}

	h := handlers.NewHealthHandler(pings)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	// wire up repositories

	usersRepo := postgres.NewUsersRepo(pool, prom)
	rolesRepo := postgres.NewRolesRepo(pool, prom)
	permissionsRepo := postgres.NewPermissionsRepo(pool, prom)

	jwtManager := auth.NewManager(cfg.JWTSecret, cfg.JWTTTL())

	authMW := middlewares.NewAuthMiddleware(jwtManager, usersRepo, revoked)

	authHandler := handlers.NewAuthHandler(usersRepo, rolesRepo, jwtManager, revoked, prom, cfg)
	rolesHandler := handlers.NewRolesHandler(rolesRepo)
	permissionsHandler := handlers.NewPermissionsHandler(permissionsRepo)

	loginLimiter := middlewares.NewRateLimiter(cfg.LoginRateLimit, cfg.LoginRateWindow)

	api := r.Group("/api/auth")

	api.POST("/login", loginLimiter.RateLimiterMiddleware(middlewares.KeyByIP), authHandler.Login)
	api.GET("/login-status", authHandler.LoginStatus)
	api.POST("/logout", authHandler.Logout)

	api.POST("/register/admin", authMW.RequireAuth(), middlewares.RequirePermissions(prom, "*"), authHandler.RegisterAdmin)
	api.POST("/register/user", authMW.RequireAuth(), middlewares.RequirePermissions(prom, "*"), authHandler.RegisterUser)

	api.POST("/change-password", authMW.RequireAuth(), middlewares.RequirePermissions(prom), authHandler.ChangePassword)
	api.GET("/user-details", authMW.RequireAuth(), middlewares.RequirePermissions(prom), authHandler.UserDetails)

	// roles

	roles := api.Group("/roles", authMW.RequireAuth(), middlewares.RequirePermissions(prom, "MANAGE_ROLES"))

	roles.POST("", rolesHandler.CreateRole)
	roles.GET("", rolesHandler.ListRoles)
	roles.GET("/:id", rolesHandler.GetRoleByID)
	roles.PUT("/:id", rolesHandler.UpdateRole)
	roles.DELETE("/:id", rolesHandler.DeleteRole)

	// permissions

	permissions := api.Group("/permissions", authMW.RequireAuth(), middlewares.RequirePermissions(prom, "MANAGE_PERMISSIONS"))

	permissions.POST("", permissionsHandler.CreatePermission)
	permissions.GET("", permissionsHandler.ListPermissions)
	permissions.GET("/:id", permissionsHandler.GetPermissionByID)
	permissions.PUT("/:id", permissionsHandler.UpdatePermission)
	permissions.DELETE("/:id", permissionsHandler.DeletePermission)

	return r
}
