package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/punchamoorthee/payflow/internal/session"
)

type contextKey int

const identityKey contextKey = iota

// identityFrom returns the authenticated identity attached by AuthMiddleware.
func identityFrom(r *http.Request) (session.Identity, bool) {
	id, ok := r.Context().Value(identityKey).(session.Identity)
	return id, ok
}

const (
	accessCookie  = "accessToken"
	refreshCookie = "refreshToken"
)

func (h *Handler) setAuthCookies(w http.ResponseWriter, pair session.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     accessCookie,
		Value:    pair.AccessToken,
		Path:     "/",
		MaxAge:   int(pair.AccessTTL / time.Second),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    pair.RefreshToken,
		Path:     "/",
		MaxAge:   int(pair.RefreshTTL / time.Second),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearAuthCookies(w http.ResponseWriter) {
	for _, name := range []string{accessCookie, refreshCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   h.secureCookies,
			SameSite: http.SameSiteStrictMode,
		})
	}
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// EmergencyGate short-circuits every request while the lockdown is tripped.
// It runs before any token validation: once the anomaly has fired, token
// validation itself is no longer trusted.
func (h *Handler) EmergencyGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.lockdown.Tripped() {
			lockdownActive.Set(1)
			h.clearAuthCookies(w)
			h.respondError(w, http.StatusServiceUnavailable, "Server is unavailable", r.Method, "gate")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AuthMiddleware authenticates the request. The access cookie is the hot
// path: verified without any store lookup. When it is missing or expired the
// request transparently falls through to refresh rotation, and on success the
// response carries a fresh cookie pair.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token := cookieValue(r, accessCookie); token != "" {
			identity, err := h.sessions.VerifyAccess(token)
			if err == nil {
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, identity)))
				return
			}
			if errors.Is(err, session.ErrIntegrityAnomaly) {
				h.clearAuthCookies(w)
				h.respondError(w, http.StatusServiceUnavailable, "Server is unavailable", r.Method, "auth")
				return
			}
			// expired or invalid access token: try the refresh path
		}

		refreshToken := cookieValue(r, refreshCookie)
		if refreshToken == "" {
			h.respondError(w, http.StatusUnauthorized, "Session invalid, log in again", r.Method, "auth")
			return
		}

		identity, pair, err := h.sessions.Rotate(r.Context(), refreshToken)
		if err != nil {
			switch {
			case errors.Is(err, session.ErrIntegrityAnomaly):
				h.clearAuthCookies(w)
				h.respondError(w, http.StatusServiceUnavailable, "Server is unavailable", r.Method, "auth")
			case errors.Is(err, session.ErrUnauthenticated):
				h.clearAuthCookies(w)
				h.respondError(w, http.StatusUnauthorized, "Session invalid, log in again", r.Method, "auth")
			default:
				// store unavailable: fatal to this request only
				h.respondError(w, http.StatusInternalServerError, "Internal server error", r.Method, "auth")
			}
			return
		}

		h.setAuthCookies(w, pair)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, identity)))
	})
}
