package httpserver

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/amarcin/village-units/internal/adapters/identity"
)

const stateCookie = "village_oauth_state"

type AuthHandlers struct {
	Provider *identity.Provider
	Sessions *identity.Sessions
	// Secure marks cookies Secure; off only for plain-http local runs.
	Secure bool
	// Home is where a successful login lands.
	Home string
}

func (s *Server) MountAuth(a *AuthHandlers) {
	s.mux.Get("/auth/login", a.login)
	s.mux.Get("/auth/callback", a.callback)
	s.mux.Post("/auth/logout", a.logout)
	s.mux.With(RequireSession(a.Sessions)).Get("/auth/me", a.me)
}

func (a *AuthHandlers) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   a.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (a *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	http.SetCookie(w, a.cookie(stateCookie, state, 600))
	http.Redirect(w, r, a.Provider.LoginURL(state), http.StatusFound)
}

func (a *AuthHandlers) callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	c, err := r.Cookie(stateCookie)
	if err != nil || c.Value == "" || c.Value != q.Get("state") {
		writeProblem(w, http.StatusBadRequest, "Invalid State", "login state mismatch")
		return
	}
	http.SetCookie(w, a.cookie(stateCookie, "", -1))

	sess, err := a.Provider.Authenticate(r.Context(), q.Get("code"))
	if err != nil {
		log.Warn().Err(err).Msg("login failed")
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", "login failed")
		return
	}
	sess, err = a.Sessions.Save(r.Context(), sess)
	if err != nil {
		writeError(w, r, err)
		return
	}
	http.SetCookie(w, a.cookie(identity.CookieName, sess.ID, int(time.Until(sess.Expires).Seconds())))

	home := a.Home
	if home == "" {
		home = "/auth/me"
	}
	http.Redirect(w, r, home, http.StatusFound)
}

func (a *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(identity.CookieName); err == nil && c.Value != "" {
		if err := a.Sessions.Delete(r.Context(), c.Value); err != nil {
			log.Warn().Err(err).Msg("session delete failed")
		}
	}
	http.SetCookie(w, a.cookie(identity.CookieName, "", -1))
	writeJSON(w, r, map[string]string{"logout_url": a.Provider.LogoutURL()})
}

// me never exposes the storage credentials held by the session.
func (a *AuthHandlers) me(w http.ResponseWriter, r *http.Request) {
	sess, _ := identity.FromContext(r.Context())
	writeJSON(w, r, map[string]any{
		"email":   sess.Email,
		"groups":  sess.Groups,
		"expires": sess.Expires,
	})
}

// RequireSession rejects requests without a live session cookie and puts
// the session on the request context.
func RequireSession(sessions *identity.Sessions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, err := r.Cookie(identity.CookieName)
			if err != nil || c.Value == "" {
				writeError(w, r, identity.ErrUnauthenticated)
				return
			}
			sess, err := sessions.Get(r.Context(), c.Value)
			if err != nil {
				if !errors.Is(err, identity.ErrUnauthenticated) {
					log.Error().Err(err).Msg("session lookup failed")
				}
				writeError(w, r, identity.ErrUnauthenticated)
				return
			}
			next.ServeHTTP(w, r.WithContext(identity.WithSession(r.Context(), sess)))
		})
	}
}
