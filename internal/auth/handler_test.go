package auth_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/campusfleet/campusfleet/internal/auth"
	"github.com/campusfleet/campusfleet/internal/rbac"
	"github.com/campusfleet/campusfleet/internal/roles"
	"github.com/campusfleet/campusfleet/internal/session"
	"github.com/campusfleet/campusfleet/internal/shared"
)

type handlerFixture struct {
	router  http.Handler
	repo    *stubRepo
	mr      *miniredis.Miniredis
	manager *session.Manager
	csrf    *shared.CSRFManager
}

const testSessionID = "sid-test"

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	repo := newStubRepo()
	service := newService(repo)
	store := session.NewStore(client, time.Hour, logger)
	manager := session.NewManager(store, service, service, service, logger)
	csrf := shared.NewCSRFManager("csrf-test-secret")
	handler := auth.NewHandler(logger, service, manager, csrf, rbac.Gate{Logger: logger})

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			sess := manager.Current(req.Context(), testSessionID)
			next.ServeHTTP(w, req.WithContext(session.ContextWith(req.Context(), sess)))
		})
	})
	r.Route("/auth", handler.MountRoutes)

	return &handlerFixture{router: r, repo: repo, mr: mr, manager: manager, csrf: csrf}
}

type envelope struct {
	Status        string               `json:"status"`
	Message       string               `json:"message"`
	Authenticated bool                 `json:"authenticated"`
	User          *session.UserProfile `json:"user"`
	Roles         []roles.Role         `json:"roles"`
	SelectedRole  *roles.Role          `json:"selected_role"`
	Token         string               `json:"token"`
	CSRFToken     string               `json:"csrf_token"`
}

func (f *handlerFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	return env
}

func TestLoginEndpointSingleRole(t *testing.T) {
	f := newHandlerFixture(t)
	addUser(t, f.repo, 7, "abebe", "password123", true, "Driver")

	rr := f.do(t, http.MethodPost, "/auth/login", map[string]string{
		"username": "abebe",
		"password": "password123",
	})
	require.Equal(t, http.StatusOK, rr.Code)

	env := decodeEnvelope(t, rr)
	require.Equal(t, "ok", env.Status)
	require.True(t, env.Authenticated)
	require.NotNil(t, env.SelectedRole)
	require.Equal(t, roles.Driver, env.SelectedRole.ID)
	require.NotEmpty(t, env.Token)
	require.Equal(t, f.csrf.TokenFor(testSessionID), env.CSRFToken)

	// The login leaves an audit row behind.
	_, ok := f.repo.sessions[testSessionID]
	require.True(t, ok)
}

func TestLoginEndpointRejectsBadPassword(t *testing.T) {
	f := newHandlerFixture(t)
	addUser(t, f.repo, 7, "abebe", "password123", true, "Driver")

	rr := f.do(t, http.MethodPost, "/auth/login", map[string]string{
		"username": "abebe",
		"password": "wrongpass99",
	})
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	require.False(t, f.mr.Exists("session:"+testSessionID+":auth_token"))
}

func TestLoginEndpointValidatesBody(t *testing.T) {
	f := newHandlerFixture(t)

	rr := f.do(t, http.MethodPost, "/auth/login", map[string]string{"username": "abebe"})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	// Short passwords never reach the directory.
	rr = f.do(t, http.MethodPost, "/auth/login", map[string]string{
		"username": "abebe",
		"password": "short",
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSelectRoleEndpoint(t *testing.T) {
	f := newHandlerFixture(t)
	addUser(t, f.repo, 7, "abebe", "password123", true, "Driver", "Dispatcher")

	rr := f.do(t, http.MethodPost, "/auth/login", map[string]string{
		"username": "abebe",
		"password": "password123",
	})
	require.Equal(t, http.StatusOK, rr.Code)
	env := decodeEnvelope(t, rr)
	require.Equal(t, "select_role", env.Status)
	require.Nil(t, env.SelectedRole)
	require.Len(t, env.Roles, 2)

	// A role the account does not hold is refused.
	rr = f.do(t, http.MethodPost, "/auth/select-role", map[string]int{"role_id": roles.TransportDirector})
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = f.do(t, http.MethodPost, "/auth/select-role", map[string]int{"role_id": roles.Dispatcher})
	require.Equal(t, http.StatusOK, rr.Code)
	env = decodeEnvelope(t, rr)
	require.NotNil(t, env.SelectedRole)
	require.Equal(t, roles.Dispatcher, env.SelectedRole.ID)
}

func TestSelectRoleEndpointRequiresLogin(t *testing.T) {
	f := newHandlerFixture(t)

	rr := f.do(t, http.MethodPost, "/auth/select-role", map[string]int{"role_id": roles.Driver})
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestLogoutEndpointClearsSession(t *testing.T) {
	f := newHandlerFixture(t)
	addUser(t, f.repo, 7, "abebe", "password123", true, "Driver")

	rr := f.do(t, http.MethodPost, "/auth/login", map[string]string{
		"username": "abebe",
		"password": "password123",
	})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(t, http.MethodPost, "/auth/logout", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	env := decodeEnvelope(t, rr)
	require.False(t, env.Authenticated)
	require.Empty(t, env.Token)

	for _, key := range []string{"auth_token", "auth_roles", "selected_role", "auth_user"} {
		require.False(t, f.mr.Exists("session:"+testSessionID+":"+key), key)
	}
	_, ok := f.repo.sessions[testSessionID]
	require.False(t, ok)
}

func TestSessionEndpointRestoresState(t *testing.T) {
	f := newHandlerFixture(t)
	addUser(t, f.repo, 7, "abebe", "password123", true, "Driver")

	rr := f.do(t, http.MethodPost, "/auth/login", map[string]string{
		"username": "abebe",
		"password": "password123",
	})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(t, http.MethodGet, "/auth/session", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	env := decodeEnvelope(t, rr)
	require.True(t, env.Authenticated)
	require.Equal(t, "abebe", env.User.Username)
	require.Equal(t, roles.Driver, env.SelectedRole.ID)
}

func TestSessionEndpointAnonymousByDefault(t *testing.T) {
	f := newHandlerFixture(t)

	rr := f.do(t, http.MethodGet, "/auth/session", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	env := decodeEnvelope(t, rr)
	require.False(t, env.Authenticated)
	require.Empty(t, env.Roles)
}

func TestPermissionsEndpoint(t *testing.T) {
	f := newHandlerFixture(t)
	addUser(t, f.repo, 7, "aster", "password123", true, "Fuel Attendant")

	rr := f.do(t, http.MethodGet, "/auth/permissions", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var anon struct {
		Permissions []string `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &anon))
	require.Empty(t, anon.Permissions)

	rr = f.do(t, http.MethodPost, "/auth/login", map[string]string{
		"username": "aster",
		"password": "password123",
	})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(t, http.MethodGet, "/auth/permissions", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var granted struct {
		Permissions []string `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &granted))
	require.ElementsMatch(t, []string{
		string(roles.PermRequestMaintenance),
		string(roles.PermReportIncidents),
		string(roles.PermViewReports),
		string(roles.PermIssueFuel),
	}, granted.Permissions)
}

func TestSessionsEndpointIsGated(t *testing.T) {
	f := newHandlerFixture(t)
	addUser(t, f.repo, 7, "abebe", "password123", true, "Driver")
	addUser(t, f.repo, 8, "director", "password123", true, "Transport Director")
	f.repo.active = []auth.SessionAudit{{ID: "sid-a", UserID: 7, Username: "abebe", ExpiresAt: time.Now().Add(time.Hour)}}

	// Anonymous callers are refused outright.
	rr := f.do(t, http.MethodGet, "/auth/sessions", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	// A driver is authenticated but lacks manage_users.
	rr = f.do(t, http.MethodPost, "/auth/login", map[string]string{
		"username": "abebe",
		"password": "password123",
	})
	require.Equal(t, http.StatusOK, rr.Code)
	rr = f.do(t, http.MethodGet, "/auth/sessions", nil)
	require.Equal(t, http.StatusForbidden, rr.Code)

	// The transport director can audit sessions.
	rr = f.do(t, http.MethodPost, "/auth/login", map[string]string{
		"username": "director",
		"password": "password123",
	})
	require.Equal(t, http.StatusOK, rr.Code)
	rr = f.do(t, http.MethodGet, "/auth/sessions", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var listing struct {
		Sessions []struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &listing))
	require.Len(t, listing.Sessions, 1)
	require.Equal(t, "abebe", listing.Sessions[0].Username)
}
