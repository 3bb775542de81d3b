package webtransport

import (
	"context"
	"errors"
	"html/template"
	"net/http"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/transport"
	"github.com/gorilla/mux"
	"github.com/gorilla/securecookie"
	"github.com/ichigozero/gtdkit/web/websvc"
	"github.com/ichigozero/gtdkit/web/websvc/pkg/apiservice"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sessions is the session state the handlers work against. It is satisfied
// by *session.Registry.
type Sessions interface {
	State(sid string) websvc.AuthState
	Signin(ctx context.Context, sid, username, password string) (websvc.Tokens, error)
	Signout(ctx context.Context, sid string) error
}

func NewHTTPHandler(sessions Sessions, api apiservice.Service, cookies *securecookie.SecureCookie, logger log.Logger) http.Handler {
	h := handlers{
		sessions:     sessions,
		api:          api,
		cookies:      cookies,
		logger:       logger,
		errorHandler: transport.NewLogErrorHandler(logger),
	}

	r := mux.NewRouter()
	r.Methods("GET").Path("/metrics").Handler(promhttp.Handler())

	pages := r.NewRoute().Subrouter()
	pages.Use(SessionToContext(cookies))

	pages.Methods("GET").Path(LoginPath).HandlerFunc(h.loginPage)
	pages.Methods("POST").Path(LoginPath).HandlerFunc(h.login)
	pages.Methods("POST").Path("/logout").HandlerFunc(h.logout)

	pages.Methods("GET").Path(HomePath).Handler(RequireAuth(sessions)(http.HandlerFunc(h.home)))

	return r
}

type handlers struct {
	sessions     Sessions
	api          apiservice.Service
	cookies      *securecookie.SecureCookie
	logger       log.Logger
	errorHandler transport.ErrorHandler
}

func (h handlers) loginPage(w http.ResponseWriter, r *http.Request) {
	data := loginPage{
		page: pageFor(h.sessions.State(sessionID(r.Context()))),
		From: SafeRedirect(r.URL.Query().Get("from")),
	}
	h.render(w, r, loginTemplate, http.StatusOK, data)
}

// login signs the session in and sends the browser back where it came from.
// The call is detached from the request so that a browser going away does
// not lose a completed login.
func (h handlers) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.render(w, r, loginTemplate, http.StatusBadRequest, loginPage{Error: err.Error(), From: HomePath})
		return
	}

	var (
		username = r.PostFormValue("username")
		password = r.PostFormValue("password")
		from     = SafeRedirect(r.PostFormValue("from"))
	)

	sid, err := issueSessionID(w, r, h.cookies)
	if err != nil {
		h.errorHandler.Handle(r.Context(), err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if _, err := h.sessions.Signin(context.WithoutCancel(r.Context()), sid, username, password); err != nil {
		data := loginPage{
			page:  pageFor(h.sessions.State(sid)),
			Error: err.Error(),
			From:  from,
		}
		h.render(w, r, loginTemplate, err2code(err), data)
		return
	}

	http.Redirect(w, r, from, http.StatusSeeOther)
}

// logout always ends on the home page. A failed remote logout is only logged;
// the local tokens are gone either way.
func (h handlers) logout(w http.ResponseWriter, r *http.Request) {
	if sid := sessionID(r.Context()); sid != "" {
		if err := h.sessions.Signout(context.WithoutCancel(r.Context()), sid); err != nil {
			h.logger.Log("method", "Signout", "err", err)
		}
	}

	http.Redirect(w, r, HomePath, http.StatusSeeOther)
}

// home fetches the task list once per visit. A failed fetch renders an empty
// page.
func (h handlers) home(w http.ResponseWriter, r *http.Request) {
	state := authState(r.Context())
	data := homePage{page: pageFor(state)}

	tasks, err := h.api.Tasks(r.Context(), state.Tokens.Access)
	if err != nil {
		h.errorHandler.Handle(r.Context(), err)
	} else {
		data.Loaded = true
		data.Tasks = tasks
	}

	h.render(w, r, homeTemplate, http.StatusOK, data)
}

func (h handlers) render(w http.ResponseWriter, r *http.Request, t *template.Template, status int, data interface{}) {
	buf, err := execute(t, data)
	if err != nil {
		h.errorHandler.Handle(r.Context(), err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		h.errorHandler.Handle(r.Context(), err)
	}
}

func err2code(err error) int {
	var e *websvc.Error
	if errors.As(err, &e) && e.Kind == websvc.KindTransport {
		return http.StatusBadGateway
	}
	return http.StatusUnauthorized
}
