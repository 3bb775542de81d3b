package webtransport

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/securecookie"
	"github.com/ichigozero/gtdkit/web/websvc"
	"github.com/twinj/uuid"
)

// GuardState is what the route guard decides from an AuthState.
type GuardState int

const (
	Unauthenticated GuardState = iota
	Authenticated
)

func (g GuardState) String() string {
	if g == Authenticated {
		return "authenticated"
	}
	return "unauthenticated"
}

// StateOf looks at nothing but the presence of tokens. Expiry is not checked.
func StateOf(s websvc.AuthState) GuardState {
	if s.Authenticated() {
		return Authenticated
	}
	return Unauthenticated
}

const (
	LoginPath = "/login"
	HomePath  = "/"
)

// LoginLocation is where an unauthenticated visit to from is sent.
func LoginLocation(from string) string {
	return LoginPath + "?" + url.Values{"from": {from}}.Encode()
}

// SafeRedirect keeps from when it is a local absolute path and falls back to
// the home page otherwise.
func SafeRedirect(from string) string {
	if from == "" || !strings.HasPrefix(from, "/") || strings.HasPrefix(from, "//") || strings.HasPrefix(from, "/\\") {
		return HomePath
	}

	u, err := url.Parse(from)
	if err != nil || u.IsAbs() || u.Host != "" || u.Path == LoginPath {
		return HomePath
	}
	return from
}

type authStateContextKey struct{}

// RequireAuth redirects unauthenticated requests to the login page and
// records the requested location in the from parameter.
func RequireAuth(sessions Sessions) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := sessions.State(sessionID(r.Context()))
			if StateOf(state) == Unauthenticated {
				http.Redirect(w, r, LoginLocation(r.URL.RequestURI()), http.StatusFound)
				return
			}

			ctx := context.WithValue(r.Context(), authStateContextKey{}, state)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authState(ctx context.Context) websvc.AuthState {
	state, _ := ctx.Value(authStateContextKey{}).(websvc.AuthState)
	return state
}

// SessionToContext decodes the session cookie, when there is a valid one, and
// puts the session ID into the request context.
func SessionToContext(cookies *securecookie.SecureCookie) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, err := r.Cookie(websvc.CookieName)
			if err == nil {
				var sid string
				if err := cookies.Decode(websvc.CookieName, c.Value, &sid); err == nil && sid != "" {
					r = r.WithContext(context.WithValue(r.Context(), websvc.SessionIDContextKey, sid))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func sessionID(ctx context.Context) string {
	sid, _ := ctx.Value(websvc.SessionIDContextKey).(string)
	return sid
}

// issueSessionID returns the session ID of the request, setting a cookie with
// a fresh one when the request has none. The cookie lives as long as the
// browser session.
func issueSessionID(w http.ResponseWriter, r *http.Request, cookies *securecookie.SecureCookie) (string, error) {
	if sid := sessionID(r.Context()); sid != "" {
		return sid, nil
	}

	sid := uuid.NewV4().String()
	encoded, err := cookies.Encode(websvc.CookieName, sid)
	if err != nil {
		return "", err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     websvc.CookieName,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	return sid, nil
}
