// File: internal/driver/drivertest/server.go
package drivertest

import (
	"context"
	"html/template"
	"net/http"
	"net/http/httptest"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SessionCookie carries the signed identity of the logged-in user.
const SessionCookie = "probe_session"

const sessionTTL = time.Hour

var pages = template.Must(template.New("layout").Parse(`
{{define "head"}}<!doctype html><html><head><meta charset="utf-8"><title>{{.}}</title>
<style>.hidden{display:none}</style></head><body>{{end}}
{{define "nav"}}<nav><a href="/dashboard">Dashboard</a> <a href="/applications/create">New</a>
<a href="/applications/my-approvals">My approvals</a> <a href="/logout">ログアウト</a></nav>{{end}}

{{define "login"}}{{template "head" "Login"}}
<form method="post" action="/login">
  {{if .Error}}<p class="error">{{.Error}}</p>{{end}}
  <input type="email" name="email">
  <input type="password" name="password">
  <button type="submit">Login</button>
</form></body></html>{{end}}

{{define "dashboard"}}{{template "head" "Dashboard"}}{{template "nav"}}
<h1>Welcome {{.User}}</h1></body></html>{{end}}

{{define "create"}}{{template "head" "New application"}}{{template "nav"}}
<form method="post" action="/applications/create">
  <input type="text" name="title">
  <textarea name="description"></textarea>
  <select name="type"><option value="expense">Expense</option><option value="leave">Leave</option><option value="other">Other</option></select>
  <select name="priority"><option value="low">Low</option><option value="medium">Medium</option><option value="high">High</option></select>
  <button type="submit">Submit</button>
</form></body></html>{{end}}

{{define "detail"}}{{template "head" "Application"}}{{template "nav"}}
<h1>{{.App.Title}}</h1><p>{{.App.Status}}</p></body></html>{{end}}

{{define "pending"}}{{template "head" "My approvals"}}{{template "nav"}}
{{range .Apps}}<div class="card" data-id="{{.ID}}"><div class="card-body">
<h5>{{.Title}}</h5>
<p>{{.Applicant}}</p>
<button type="button" onclick="approve({{.ID}})">承認</button>
</div></div>
{{end}}
<div id="approvalModal" class="hidden">
  <form id="approvalForm" method="post">
    <textarea name="comment"></textarea>
    <button type="submit" id="approvalSubmit">Confirm</button>
  </form>
</div>
<script>
function approve(id) {
  document.getElementById("approvalForm").action = "/approvals/" + id + "/approve";
  document.getElementById("approvalModal").classList.remove("hidden");
}
</script></body></html>{{end}}
`))

// NewServer serves app as HTML at the default UI contract paths.
func NewServer(app *App) *httptest.Server {
	return httptest.NewServer(NewRouter(app))
}

// NewRouter returns the HTTP handler for app. Session cookies are HS256 tokens
// signed with a key generated per router, so tampered or foreign cookies are
// treated as logged out.
func NewRouter(app *App) http.Handler {
	key := uuid.New()
	h := &handler{app: app, key: key[:]}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/login", h.loginPage)
	r.Post("/login", h.login)
	r.Get("/logout", h.logout)
	r.Post("/logout", h.logout)

	r.Group(func(r chi.Router) {
		r.Use(h.requireUser)
		r.Get("/dashboard", h.render("dashboard"))
		r.Get("/applications/create", h.render("create"))
		r.Post("/applications/create", h.create)
		r.Get("/applications/my-approvals", h.pending)
		r.Get("/applications/{id:[0-9]+}", h.detail)
		r.Post("/approvals/{id:[0-9]+}/approve", h.approve)
	})
	return r
}

type handler struct {
	app *App
	key []byte
}

type pageData struct {
	User  string
	Error string
	App   Application
	Apps  []Application
}

type userKey struct{}

func contextWithUser(r *http.Request, user string) context.Context {
	return context.WithValue(r.Context(), userKey{}, user)
}

func currentUser(r *http.Request) string {
	u, _ := r.Context().Value(userKey{}).(string)
	return u
}

func (h *handler) issue(user string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   user,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.key)
}

// sessionUser returns the user named by a valid session cookie, or "".
func (h *handler) sessionUser(r *http.Request) string {
	c, err := r.Cookie(SessionCookie)
	if err != nil || c.Value == "" {
		return ""
	}
	var claims jwt.RegisteredClaims
	_, err = jwt.ParseWithClaims(c.Value, &claims, func(*jwt.Token) (interface{}, error) {
		return h.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return ""
	}
	return claims.Subject
}

func (h *handler) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := h.sessionUser(r)
		if user == "" {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithUser(r, user)))
	})
}

func (h *handler) write(w http.ResponseWriter, name string, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pages.ExecuteTemplate(w, name, data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *handler) render(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.write(w, name, pageData{User: currentUser(r)})
	}
}

func (h *handler) loginPage(w http.ResponseWriter, r *http.Request) {
	if h.sessionUser(r) != "" {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	h.write(w, "login", pageData{})
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	email, password := r.FormValue("email"), r.FormValue("password")
	if !h.app.Authenticate(email, password) {
		w.WriteHeader(http.StatusUnauthorized)
		h.write(w, "login", pageData{Error: "invalid credentials"})
		return
	}
	token, err := h.issue(email)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: token, Path: "/", HttpOnly: true})
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "", Path: "/", MaxAge: -1})
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (h *handler) create(w http.ResponseWriter, r *http.Request) {
	id, err := h.app.Create(currentUser(r), Application{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Type:        r.FormValue("type"),
		Priority:    r.FormValue("priority"),
	})
	if err != nil {
		w.WriteHeader(http.StatusUnprocessableEntity)
		h.write(w, "create", pageData{User: currentUser(r), Error: err.Error()})
		return
	}
	http.Redirect(w, r, "/applications/"+strconv.Itoa(id), http.StatusSeeOther)
}

func (h *handler) detail(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))
	app, ok := h.app.Get(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	h.write(w, "detail", pageData{User: currentUser(r), App: app})
}

func (h *handler) pending(w http.ResponseWriter, r *http.Request) {
	h.write(w, "pending", pageData{User: currentUser(r), Apps: h.app.PendingFor(currentUser(r))})
}

func (h *handler) approve(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))
	if err := h.app.Approve(id, currentUser(r), r.FormValue("comment")); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	http.Redirect(w, r, "/applications/my-approvals", http.StatusSeeOther)
}
