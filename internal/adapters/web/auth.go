package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"afms/internal/core"

	"github.com/golang-jwt/jwt/v5"
)

const authCookie = "auth_token"

// actorFromContext returns the authenticated actor stored in ctx.
func actorFromContext(ctx context.Context) (core.Actor, bool) {
	a, ok := ctx.Value(actorKey).(core.Actor)
	return a, ok
}

// jwtClaims is the JWT payload struct used for signing and parsing.
type jwtClaims struct {
	CompanyID   string   `json:"company_id,omitempty"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Superadmin  bool     `json:"superadmin,omitempty"`
	jwt.RegisteredClaims
}

func (c *jwtClaims) actor() core.Actor {
	return core.Actor{
		UserID:      c.Subject,
		CompanyID:   c.CompanyID,
		Permissions: c.Permissions,
		Superadmin:  c.Superadmin,
	}
}

func (h *Handler) issueToken(sess *core.Session) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(h.tokenTTL)
	claims := &jwtClaims{
		CompanyID:   sess.User.CompanyID,
		Roles:       sess.User.Roles,
		Permissions: sess.Permissions,
		Superadmin:  sess.User.Superadmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sess.User.ID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.jwtSecret)
	return signed, exp, err
}

func (h *Handler) parseToken(raw string) (*jwtClaims, error) {
	claims := &jwtClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return h.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Subject == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// bearerToken reads the Authorization header, falling back to the auth cookie.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if c, err := r.Cookie(authCookie); err == nil {
		return c.Value
	}
	return ""
}

// RequireAuth is chi middleware that validates the bearer token and injects
// the actor into the request context. Returns 401 if the token is absent or invalid.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			writeError(w, r, "authentication required", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}
		claims, err := h.parseToken(raw)
		if err != nil {
			writeError(w, r, "invalid or expired token", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), actorKey, claims.actor())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type loginResponse struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
	Session   *core.Session `json:"session"`
}

// login handles POST /api/auth/login.
func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	sess, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, core.ErrUnauthenticated) {
			writeError(w, r, "invalid email or password", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}
		h.writeServiceError(w, r, err)
		return
	}

	token, exp, err := h.issueToken(sess)
	if err != nil {
		writeError(w, r, "token generation failed", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     authCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(h.tokenTTL.Seconds()),
	})
	writeJSON(w, loginResponse{Token: token, ExpiresAt: exp, Session: sess})
}

// logout handles POST /api/auth/logout and clears the auth cookie.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     authCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
	w.WriteHeader(http.StatusNoContent)
}

// me handles GET /api/auth/me. The session is reloaded so role changes made
// after login are visible here.
func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	sess, err := h.svc.Session(r.Context(), actor.UserID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, sess)
}
