package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/geocoder89/authhub/internal/auth"
	"github.com/geocoder89/authhub/internal/config"
	"github.com/geocoder89/authhub/internal/denylist"
	"github.com/geocoder89/authhub/internal/domain/role"
	"github.com/geocoder89/authhub/internal/domain/user"
	"github.com/geocoder89/authhub/internal/http/handlers"
	"github.com/geocoder89/authhub/internal/http/middlewares"
	"github.com/geocoder89/authhub/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Make sure Gin does not spam the console during the test

func init() {
	gin.SetMode(gin.TestMode)
}

func newUUID() string {
	return uuid.NewString()
}

// Fake repository implementations of the handlers.UserStore interface

type fakeUsersRepo struct {
	createFn         func(ctx context.Context, u user.User) (user.User, error)
	getByEmailFn     func(ctx context.Context, email string) (user.User, error)
	getByIDFn        func(ctx context.Context, id string) (user.User, error)
	getIdentityFn    func(ctx context.Context, id string) (user.Identity, error)
	updatePasswordFn func(ctx context.Context, id, passwordHash string) error
}

func (f *fakeUsersRepo) Create(ctx context.Context, u user.User) (user.User, error) {
	if f.createFn != nil {
		return f.createFn(ctx, u)
	}

	return u, nil
}

func (f *fakeUsersRepo) GetByEmail(ctx context.Context, email string) (user.User, error) {
	if f.getByEmailFn != nil {
		return f.getByEmailFn(ctx, email)
	}

	return user.User{}, user.ErrNotFound
}

func (f *fakeUsersRepo) GetByID(ctx context.Context, id string) (user.User, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}

	return user.User{}, user.ErrNotFound
}

func (f *fakeUsersRepo) GetIdentity(ctx context.Context, id string) (user.Identity, error) {
	if f.getIdentityFn != nil {
		return f.getIdentityFn(ctx, id)
	}

	return user.Identity{}, user.ErrNotFound
}

func (f *fakeUsersRepo) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	if f.updatePasswordFn != nil {
		return f.updatePasswordFn(ctx, id, passwordHash)
	}

	return nil
}

type fakeRolesReader struct {
	getFn func(ctx context.Context, id string) (role.Role, error)
}

func (f *fakeRolesReader) GetByID(ctx context.Context, id string) (role.Role, error) {
	if f.getFn != nil {
		return f.getFn(ctx, id)
	}

	return role.Role{}, role.ErrNotFound
}

// small helper function which returns the gin engine to mount one handler per test

func setupRouter(method, path string, h ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()

	r.Handle(method, path, h...)

	return r
}

// withIdentity stands in for RequireAuth in handler-only tests.

func withIdentity(identity user.Identity) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Set(middlewares.CtxIdentity, identity)

		ctx.Next()
	}
}

func newAuthHandler(users *fakeUsersRepo, roles *fakeRolesReader, revoked denylist.Store) *handlers.AuthHandler {
	jwt := auth.NewManager("test-secret", 24*time.Hour)

	return handlers.NewAuthHandler(users, roles, jwt, revoked, nil, config.Config{Env: "dev"})
}

// Register tests

func TestRegisterUserHandler(t *testing.T) {
	roleID := newUUID()

	validBody := `{
		"name": "Jane Doe",
		"email": "jane@example.com",
		"phone": "5550001111",
		"password": "longenough123",
		"roleId": "` + roleID + `"
	}`

	tests := []struct {
		name           string
		body           string
		usersSetup     func(*fakeUsersRepo)
		rolesSetup     func(*fakeRolesReader)
		wantStatusCode int
	}{
		{
			name: "success",
			body: validBody,
			usersSetup: func(f *fakeUsersRepo) {
				f.createFn = func(ctx context.Context, u user.User) (user.User, error) {
					if u.PasswordHash == "" || u.PasswordHash == "longenough123" {
						return user.User{}, errors.New("password must be stored hashed")
					}

					return u, nil
				}
			},
			rolesSetup: func(f *fakeRolesReader) {
				f.getFn = func(ctx context.Context, id string) (role.Role, error) {
					return role.Role{ID: id, Name: "USER"}, nil
				}
			},
			wantStatusCode: http.StatusCreated,
		},
		{
			name: "validation_error_short_password",
			body: `{
				"name": "Jane Doe",
				"email": "jane@example.com",
				"phone": "5550001111",
				"password": "short",
				"roleId": "` + roleID + `"
			}`,
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name:           "validation_error_bad_email",
			body:           strings.Replace(validBody, "jane@example.com", "not-an-email", 1),
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name: "email_already_in_use",
			body: validBody,
			usersSetup: func(f *fakeUsersRepo) {
				f.getByEmailFn = func(ctx context.Context, email string) (user.User, error) {
					return user.User{ID: newUUID(), Email: email}, nil
				}
			},
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name: "unknown_role_id",
			body: validBody,
			rolesSetup: func(f *fakeRolesReader) {
				f.getFn = func(ctx context.Context, id string) (role.Role, error) {
					return role.Role{}, role.ErrNotFound
				}
			},
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name: "repo_error",
			body: validBody,
			usersSetup: func(f *fakeUsersRepo) {
				f.createFn = func(ctx context.Context, u user.User) (user.User, error) {
					return user.User{}, errors.New("db error")
				}
			},
			rolesSetup: func(f *fakeRolesReader) {
				f.getFn = func(ctx context.Context, id string) (role.Role, error) {
					return role.Role{ID: id, Name: "USER"}, nil
				}
			},
			wantStatusCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			users := &fakeUsersRepo{}
			roles := &fakeRolesReader{
				getFn: func(ctx context.Context, id string) (role.Role, error) {
					return role.Role{ID: id, Name: "USER"}, nil
				},
			}

			if tt.usersSetup != nil {
				tt.usersSetup(users)
			}

			if tt.rolesSetup != nil {
				tt.rolesSetup(roles)
			}

			h := newAuthHandler(users, roles, denylist.NewMemory())

			r := setupRouter(http.MethodPost, "/register/user", h.RegisterUser)

			req := httptest.NewRequest(http.MethodPost, "/register/user", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")

			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}

			// the response must never leak the password hash
			if w.Code == http.StatusCreated && strings.Contains(w.Body.String(), "passwordHash") {
				t.Fatalf("response leaked password hash: %s", w.Body.String())
			}
		})
	}
}

// Login tests

func TestLoginHandler(t *testing.T) {
	userID := newUUID()
	hash, err := security.HashPassword("correct-password")

	if err != nil {
		t.Fatalf("failed to hash fixture password: %v", err)
	}

	existing := user.User{
		ID:           userID,
		Name:         "Jane Doe",
		Email:        "jane@example.com",
		PasswordHash: hash,
	}

	usersSetup := func(f *fakeUsersRepo) {
		f.getByEmailFn = func(ctx context.Context, email string) (user.User, error) {
			if email == existing.Email {
				return existing, nil
			}

			return user.User{}, user.ErrNotFound
		}
		f.getIdentityFn = func(ctx context.Context, id string) (user.Identity, error) {
			return user.Identity{ID: id, Email: existing.Email, Role: "USER", Permissions: []string{}}, nil
		}
	}

	tests := []struct {
		name           string
		body           string
		usersOverride  func(*fakeUsersRepo)
		wantStatusCode int
		wantCookie     bool
	}{
		{
			name:           "success",
			body:           `{"email": "jane@example.com", "password": "correct-password"}`,
			wantStatusCode: http.StatusOK,
			wantCookie:     true,
		},
		{
			name:           "unknown_email",
			body:           `{"email": "nobody@example.com", "password": "correct-password"}`,
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "wrong_password",
			body:           `{"email": "jane@example.com", "password": "wrong-password"}`,
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "validation_error",
			body:           `{"email": "jane@example.com"}`,
			wantStatusCode: http.StatusBadRequest,
		},
		{
			// a storage outage is not the caller's fault and must not read
			// like a credential failure
			name: "store_error",
			body: `{"email": "jane@example.com", "password": "correct-password"}`,
			usersOverride: func(f *fakeUsersRepo) {
				f.getByEmailFn = func(ctx context.Context, email string) (user.User, error) {
					return user.User{}, errors.New("connection refused")
				}
			},
			wantStatusCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			users := &fakeUsersRepo{}
			usersSetup(users)

			if tt.usersOverride != nil {
				tt.usersOverride(users)
			}

			h := newAuthHandler(users, &fakeRolesReader{}, denylist.NewMemory())

			r := setupRouter(http.MethodPost, "/login", h.Login)

			req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")

			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}

			gotCookie := false

			for _, c := range w.Result().Cookies() {
				if c.Name == auth.TokenCookie && c.Value != "" {
					gotCookie = true

					if !c.HttpOnly || !c.Secure {
						t.Fatalf("token cookie must be HttpOnly and Secure: %+v", c)
					}
				}
			}

			if gotCookie != tt.wantCookie {
				t.Fatalf("cookie set = %v, want %v", gotCookie, tt.wantCookie)
			}
		})
	}
}

// A caller probing for accounts must not be able to distinguish an unknown
// email from a wrong password.

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	hash, err := security.HashPassword("correct-password")

	if err != nil {
		t.Fatalf("failed to hash fixture password: %v", err)
	}

	users := &fakeUsersRepo{
		getByEmailFn: func(ctx context.Context, email string) (user.User, error) {
			if email == "jane@example.com" {
				return user.User{ID: newUUID(), Email: email, PasswordHash: hash}, nil
			}

			return user.User{}, user.ErrNotFound
		},
	}

	h := newAuthHandler(users, &fakeRolesReader{}, denylist.NewMemory())
	r := setupRouter(http.MethodPost, "/login", h.Login)

	bodies := []string{
		`{"email": "nobody@example.com", "password": "correct-password"}`,
		`{"email": "jane@example.com", "password": "wrong-password"}`,
	}

	var responses []string

	for _, body := range bodies {
		req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")

		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Fatalf("got status %d, want 401, body=%s", w.Code, w.Body.String())
		}

		responses = append(responses, w.Body.String())
	}

	if responses[0] != responses[1] {
		t.Fatalf("failure responses differ:\n%s\n%s", responses[0], responses[1])
	}
}

// The store must see a context derived from the incoming request, so
// cancellation and request-scoped values flow through, with a deadline on top.

func TestLoginPropagatesRequestContext(t *testing.T) {
	type ctxKey struct{}

	sawValue := false
	sawDeadline := false

	users := &fakeUsersRepo{
		getByEmailFn: func(ctx context.Context, email string) (user.User, error) {
			sawValue = ctx.Value(ctxKey{}) == "marker"
			_, sawDeadline = ctx.Deadline()

			return user.User{}, user.ErrNotFound
		},
	}

	h := newAuthHandler(users, &fakeRolesReader{}, denylist.NewMemory())
	r := setupRouter(http.MethodPost, "/login", h.Login)

	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewBufferString(`{"email": "jane@example.com", "password": "correct-password"}`))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(context.WithValue(req.Context(), ctxKey{}, "marker"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if !sawValue {
		t.Fatalf("store context lost the request-scoped value")
	}

	if !sawDeadline {
		t.Fatalf("store context should carry a deadline")
	}
}

// Login status tests

func TestLoginStatusHandler(t *testing.T) {
	jwt := auth.NewManager("test-secret", 24*time.Hour)
	userID := newUUID()

	token, err := jwt.Generate(userID)

	if err != nil {
		t.Fatalf("failed to generate fixture token: %v", err)
	}

	identityOK := func(f *fakeUsersRepo) {
		f.getIdentityFn = func(ctx context.Context, id string) (user.Identity, error) {
			return user.Identity{ID: id, Role: "USER", Permissions: []string{}}, nil
		}
	}

	tests := []struct {
		name         string
		cookie       string
		revokedSetup func(*testing.T, denylist.Store)
		usersSetup   func(*fakeUsersRepo)
		wantLoggedIn bool
	}{
		{
			name:         "no_token",
			wantLoggedIn: false,
		},
		{
			name:         "garbage_token",
			cookie:       "not-a-token",
			wantLoggedIn: false,
		},
		{
			name:         "valid_token",
			cookie:       token,
			usersSetup:   identityOK,
			wantLoggedIn: true,
		},
		{
			name:   "revoked_token",
			cookie: token,
			revokedSetup: func(t *testing.T, s denylist.Store) {
				claims, vErr := jwt.Verify(token)
				if vErr != nil {
					t.Fatalf("failed to verify fixture token: %v", vErr)
				}

				_ = s.Revoke(context.Background(), claims.JTI, claims.ExpiresAt.Time)
			},
			usersSetup:   identityOK,
			wantLoggedIn: false,
		},
		{
			name:         "user_deleted_after_issuance",
			cookie:       token,
			wantLoggedIn: false,
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			users := &fakeUsersRepo{}

			if tt.usersSetup != nil {
				tt.usersSetup(users)
			}

			revoked := denylist.NewMemory()

			if tt.revokedSetup != nil {
				tt.revokedSetup(t, revoked)
			}

			h := handlers.NewAuthHandler(users, &fakeRolesReader{}, jwt, revoked, nil, config.Config{Env: "dev"})

			r := setupRouter(http.MethodGet, "/login-status", h.LoginStatus)

			req := httptest.NewRequest(http.MethodGet, "/login-status", nil)

			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: auth.TokenCookie, Value: tt.cookie})
			}

			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			// this endpoint always answers 200
			if w.Code != http.StatusOK {
				t.Fatalf("got status %d, want 200, body=%s", w.Code, w.Body.String())
			}

			var resp struct {
				LoggedIn bool `json:"loggedIn"`
			}

			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}

			if resp.LoggedIn != tt.wantLoggedIn {
				t.Fatalf("loggedIn = %v, want %v", resp.LoggedIn, tt.wantLoggedIn)
			}
		})
	}
}

// Logout tests

func TestLogoutRevokesToken(t *testing.T) {
	jwt := auth.NewManager("test-secret", 24*time.Hour)
	token, err := jwt.Generate(newUUID())

	if err != nil {
		t.Fatalf("failed to generate fixture token: %v", err)
	}

	revoked := denylist.NewMemory()

	h := handlers.NewAuthHandler(&fakeUsersRepo{}, &fakeRolesReader{}, jwt, revoked, nil, config.Config{Env: "dev"})

	r := setupRouter(http.MethodPost, "/logout", h.Logout)

	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.AddCookie(&http.Cookie{Name: auth.TokenCookie, Value: token})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200, body=%s", w.Code, w.Body.String())
	}

	claims, err := jwt.Verify(token)

	if err != nil {
		t.Fatalf("failed to verify fixture token: %v", err)
	}

	gone, err := revoked.IsRevoked(context.Background(), claims.JTI)

	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}

	if !gone {
		t.Fatalf("logout should denylist the token's jti")
	}

	// the cookie must be cleared
	cleared := false

	for _, c := range w.Result().Cookies() {
		if c.Name == auth.TokenCookie && c.Value == "" && c.MaxAge < 0 {
			cleared = true
		}
	}

	if !cleared {
		t.Fatalf("logout should clear the token cookie")
	}
}

func TestLogoutWithoutTokenStillSucceeds(t *testing.T) {
	h := newAuthHandler(&fakeUsersRepo{}, &fakeRolesReader{}, denylist.NewMemory())

	r := setupRouter(http.MethodPost, "/logout", h.Logout)

	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200, body=%s", w.Code, w.Body.String())
	}
}

// Change password tests

func TestChangePasswordHandler(t *testing.T) {
	userID := newUUID()
	hash, err := security.HashPassword("old-password-1")

	if err != nil {
		t.Fatalf("failed to hash fixture password: %v", err)
	}

	identity := user.Identity{ID: userID, Role: "USER", Permissions: []string{}}

	tests := []struct {
		name           string
		body           string
		usersSetup     func(*fakeUsersRepo)
		wantStatusCode int
	}{
		{
			name: "success",
			body: `{"oldPassword": "old-password-1", "newPassword": "new-password-1"}`,
			usersSetup: func(f *fakeUsersRepo) {
				f.updatePasswordFn = func(ctx context.Context, id, passwordHash string) error {
					if passwordHash == "new-password-1" {
						return errors.New("new password must be stored hashed")
					}

					return nil
				}
			},
			wantStatusCode: http.StatusOK,
		},
		{
			name:           "wrong_old_password",
			body:           `{"oldPassword": "not-the-old-one", "newPassword": "new-password-1"}`,
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name:           "validation_error_short_new_password",
			body:           `{"oldPassword": "old-password-1", "newPassword": "short"}`,
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name: "user_gone",
			body: `{"oldPassword": "old-password-1", "newPassword": "new-password-1"}`,
			usersSetup: func(f *fakeUsersRepo) {
				f.getByIDFn = func(ctx context.Context, id string) (user.User, error) {
					return user.User{}, user.ErrNotFound
				}
			},
			wantStatusCode: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			users := &fakeUsersRepo{
				getByIDFn: func(ctx context.Context, id string) (user.User, error) {
					return user.User{ID: userID, PasswordHash: hash}, nil
				},
			}

			if tt.usersSetup != nil {
				tt.usersSetup(users)
			}

			h := newAuthHandler(users, &fakeRolesReader{}, denylist.NewMemory())

			r := setupRouter(http.MethodPost, "/change-password", withIdentity(identity), h.ChangePassword)

			req := httptest.NewRequest(http.MethodPost, "/change-password", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")

			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}
		})
	}
}

func TestChangePasswordWithoutIdentity(t *testing.T) {
	h := newAuthHandler(&fakeUsersRepo{}, &fakeRolesReader{}, denylist.NewMemory())

	r := setupRouter(http.MethodPost, "/change-password", h.ChangePassword)

	req := httptest.NewRequest(http.MethodPost, "/change-password", bytes.NewBufferString(`{"oldPassword": "old-password-1", "newPassword": "new-password-1"}`))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want 401, body=%s", w.Code, w.Body.String())
	}
}

// User details tests

func TestUserDetailsHandler(t *testing.T) {
	userID := newUUID()

	identity := user.Identity{
		ID:          userID,
		Role:        "SUPER_ADMIN",
		Permissions: []string{"*"},
	}

	users := &fakeUsersRepo{
		getByIDFn: func(ctx context.Context, id string) (user.User, error) {
			return user.User{ID: id, Name: "Jane Doe", Email: "jane@example.com"}, nil
		},
	}

	h := newAuthHandler(users, &fakeRolesReader{}, denylist.NewMemory())

	r := setupRouter(http.MethodGet, "/user-details", withIdentity(identity), h.UserDetails)

	req := httptest.NewRequest(http.MethodGet, "/user-details", nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200, body=%s", w.Code, w.Body.String())
	}

	var resp struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
		Role        string   `json:"role"`
		Permissions []string `json:"permissions"`
	}

	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if resp.User.ID != userID {
		t.Fatalf("user.id = %q, want %q", resp.User.ID, userID)
	}

	if resp.Role != "SUPER_ADMIN" {
		t.Fatalf("role = %q, want SUPER_ADMIN", resp.Role)
	}

	if len(resp.Permissions) != 1 || resp.Permissions[0] != "*" {
		t.Fatalf("permissions = %v, want [*]", resp.Permissions)
	}
}
