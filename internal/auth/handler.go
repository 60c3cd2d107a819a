package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/campusfleet/campusfleet/internal/platform/httpx"
	"github.com/campusfleet/campusfleet/internal/rbac"
	"github.com/campusfleet/campusfleet/internal/roles"
	"github.com/campusfleet/campusfleet/internal/session"
	"github.com/campusfleet/campusfleet/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	manager   *session.Manager
	csrf      *shared.CSRFManager
	gate      rbac.Gate
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, manager *session.Manager, csrf *shared.CSRFManager, gate rbac.Gate) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		manager:   manager,
		csrf:      csrf,
		gate:      gate,
		validator: validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/session", h.handleSession)
	r.Get("/permissions", h.handlePermissions)
	r.Post("/login", h.handleLogin)
	r.Post("/select-role", h.handleSelectRole)
	r.Post("/logout", h.handleLogout)
	r.With(h.gate.RequireAll(roles.PermManageUsers)).Get("/sessions", h.handleSessions)
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
}

type selectRoleRequest struct {
	RoleID int `json:"role_id" validate:"required"`
}

type sessionEnvelope struct {
	Status        string               `json:"status,omitempty"`
	Message       string               `json:"message,omitempty"`
	Authenticated bool                 `json:"authenticated"`
	User          *session.UserProfile `json:"user,omitempty"`
	Roles         []roles.Role         `json:"roles"`
	SelectedRole  *roles.Role          `json:"selected_role,omitempty"`
	Token         string               `json:"token,omitempty"`
	CSRFToken     string               `json:"csrf_token,omitempty"`
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	current := session.FromContext(r.Context())
	if current == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	restored := h.manager.Restore(r.Context(), current.ID)
	httpx.JSON(w, http.StatusOK, h.envelope(restored, "", ""))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	current := session.FromContext(r.Context())
	if current == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}

	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "request body is not valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}

	result, err := h.manager.Login(r.Context(), current.ID, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, session.ErrSuperseded) {
			httpx.Problem(w, http.StatusConflict, "Superseded", "a newer session transition took precedence")
			return
		}
		h.logger.Error("login", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	switch result.Outcome {
	case session.LoginDenied:
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", result.Message)
	case session.LoginRoleChoice:
		h.registerAudit(r, current.ID, result.Session.Token)
		httpx.JSON(w, http.StatusOK, h.envelope(result.Session, "select_role", result.Message))
	default:
		h.registerAudit(r, current.ID, result.Session.Token)
		httpx.JSON(w, http.StatusOK, h.envelope(result.Session, "ok", ""))
	}
}

func (h *Handler) handleSelectRole(w http.ResponseWriter, r *http.Request) {
	current := session.FromContext(r.Context())
	if current == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}

	var req selectRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "request body is not valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}

	updated, err := h.manager.SelectRole(r.Context(), current.ID, roles.Role{ID: req.RoleID})
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotAuthenticated):
			httpx.RespondError(w, httpx.ErrUnauthorized)
		case errors.Is(err, session.ErrRoleNotHeld):
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "role is not held by this account")
		default:
			h.logger.Error("select role", slog.Any("error", err))
			httpx.RespondError(w, err)
		}
		return
	}
	httpx.JSON(w, http.StatusOK, h.envelope(updated, "ok", "role selected"))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	current := session.FromContext(r.Context())
	if current == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	anon := h.manager.Logout(r.Context(), current.ID)
	httpx.JSON(w, http.StatusOK, h.envelope(anon, "ok", "signed out"))
}

func (h *Handler) handlePermissions(w http.ResponseWriter, r *http.Request) {
	current := session.FromContext(r.Context())
	granted := []string{}
	if current != nil && current.SelectedRole != nil {
		for p := range roles.PermissionsFor(current.SelectedRole.ID) {
			granted = append(granted, string(p))
		}
		sort.Strings(granted)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": granted})
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.service.ListActiveSessions(r.Context())
	if err != nil {
		h.logger.Error("list sessions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	type item struct {
		ID        string `json:"id"`
		UserID    int64  `json:"user_id"`
		Username  string `json:"username"`
		CreatedAt string `json:"created_at"`
		ExpiresAt string `json:"expires_at"`
		IP        string `json:"ip,omitempty"`
		UserAgent string `json:"user_agent,omitempty"`
	}
	items := make([]item, 0, len(sessions))
	for _, s := range sessions {
		items = append(items, item{
			ID:        s.ID,
			UserID:    s.UserID,
			Username:  s.Username,
			CreatedAt: s.CreatedAt.UTC().Format(time.RFC3339),
			ExpiresAt: s.ExpiresAt.UTC().Format(time.RFC3339),
			IP:        s.IP,
			UserAgent: s.UserAgent,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sessions": items})
}

func (h *Handler) registerAudit(r *http.Request, sessionID, bearer string) {
	if err := h.service.RegisterSession(r.Context(), sessionID, bearer, r.RemoteAddr, r.UserAgent()); err != nil {
		h.logger.Warn("register session", slog.Any("error", err))
	}
}

func (h *Handler) envelope(sess *session.Session, status, message string) sessionEnvelope {
	env := sessionEnvelope{
		Status:        status,
		Message:       message,
		Authenticated: sess.Authenticated,
		User:          sess.User,
		Roles:         sess.Roles,
		SelectedRole:  sess.SelectedRole,
		CSRFToken:     h.csrf.TokenFor(sess.ID),
	}
	if sess.Authenticated {
		env.Token = sess.Token
	}
	return env
}

func validationDetail(err error) string {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return fieldErrs[0].Error()
	}
	return err.Error()
}
