package app

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/campusfleet/campusfleet/internal/roles"
	"github.com/campusfleet/campusfleet/internal/session"
	"github.com/campusfleet/campusfleet/internal/shared"
	"github.com/campusfleet/campusfleet/internal/token"
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger      *slog.Logger
	Config      *Config
	Sessions    *session.Manager
	CSRFManager *shared.CSRFManager
	Issuer      *token.Issuer
}

// MiddlewareStack installs the CampusFleet middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		FeaturePolicy:         "none",
		ContentSecurityPolicy: "default-src 'self'",
		SSLRedirect:           cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	})

	sessionMiddleware := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if sess := bearerSession(cfg, r); sess != nil {
				next.ServeHTTP(w, r.WithContext(session.ContextWith(ctx, sess)))
				return
			}

			sid := ""
			if cookie, err := r.Cookie(cfg.Config.SessionCookie); err == nil {
				sid = cookie.Value
			}
			if sid == "" {
				sid = cfg.Sessions.NewSessionID()
			}
			http.SetCookie(w, &http.Cookie{
				Name:     cfg.Config.SessionCookie,
				Value:    sid,
				Path:     "/",
				HttpOnly: true,
				Secure:   cfg.Config.IsProduction(),
				SameSite: http.SameSiteStrictMode,
				Expires:  time.Now().Add(cfg.Config.SessionTTL),
			})

			sess := cfg.Sessions.Current(ctx, sid)
			next.ServeHTTP(w, r.WithContext(session.ContextWith(ctx, sess)))
		})
	}

	csrfMiddleware := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			// Bearer requests carry no ambient credentials, so CSRF
			// does not apply to them.
			if strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
				next.ServeHTTP(w, r)
				return
			}
			sess := session.FromContext(r.Context())
			if sess == nil {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			supplied := r.Header.Get(shared.CSRFHeader)
			if supplied == "" {
				supplied = r.PostFormValue(shared.CSRFFormField)
			}
			if err := cfg.CSRFManager.VerifyToken(sess.ID, supplied); err != nil {
				cfg.Logger.Warn("csrf validation failed", slog.String("path", r.URL.Path))
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}

	timeout := 30 * time.Second
	if cfg.Config != nil && cfg.Config.AppRequestTimeout > 0 {
		timeout = cfg.Config.AppRequestTimeout
	}

	return []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(timeout),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					cfg.Logger.Warn("secure headers blocked request", slog.Any("error", err))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		middleware.Compress(5),
		httprate.Limit(60, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
		sessionMiddleware,
		csrfMiddleware,
	}
}

// bearerSession synthesizes a session from a verified bearer token for
// API clients that do not carry the session cookie. The signature is
// verified; this is not the advisory decode.
func bearerSession(cfg MiddlewareConfig, r *http.Request) *session.Session {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") || cfg.Issuer == nil {
		return nil
	}
	raw := strings.TrimPrefix(header, "Bearer ")
	claims, err := cfg.Issuer.Verify(raw)
	if err != nil {
		return nil
	}
	mapped := roles.MapRoleNames(claims.Roles)
	sess := &session.Session{
		ID:            "bearer:" + claims.Subject,
		Token:         raw,
		Roles:         mapped,
		Authenticated: true,
	}
	if len(mapped) == 1 {
		sess.SelectedRole = &mapped[0]
	}
	return sess
}
