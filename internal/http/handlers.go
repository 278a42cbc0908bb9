package httpx

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"blog/internal/app"
	"blog/internal/auth"
	"blog/internal/models"
	"blog/internal/util"
)

type Server struct {
	DB     *sql.DB
	Cfg    app.Config
	Router *mux.Router
}

func NewServer(db *sql.DB, cfg app.Config) *Server {
	s := &Server{DB: db, Cfg: cfg, Router: mux.NewRouter()}
	s.Router.Use(WithAccessLog, s.withSession)

	fs := http.FileServer(http.Dir("web/static"))
	s.Router.PathPrefix("/static/").Handler(http.StripPrefix("/static/", fs))

	// routes; guard order is fixed: session -> auth -> ownership -> handler
	s.Router.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	s.Router.HandleFunc("/register", s.handleRegister).Methods(http.MethodGet, http.MethodPost)
	s.Router.HandleFunc("/login", s.handleLogin).Methods(http.MethodGet, http.MethodPost)
	s.Router.HandleFunc("/logout", s.handleLogout).Methods(http.MethodGet)
	s.Router.HandleFunc("/about", s.handleAbout).Methods(http.MethodGet)
	s.Router.HandleFunc("/contact", s.handleContact).Methods(http.MethodGet)

	s.Router.HandleFunc("/post/{id:[0-9]+}", s.handleShowPost).Methods(http.MethodGet)
	s.Router.Handle("/post/{id:[0-9]+}",
		s.requireAuth(http.HandlerFunc(s.handleCreateComment))).Methods(http.MethodPost)

	s.Router.Handle("/new-post",
		s.requireAuth(http.HandlerFunc(s.handleNewPost))).Methods(http.MethodGet, http.MethodPost)
	s.Router.Handle("/edit-post/{id:[0-9]+}",
		s.requireAuth(s.requireOwner(http.HandlerFunc(s.handleEditPost)))).Methods(http.MethodGet, http.MethodPost)
	s.Router.Handle("/delete/{id:[0-9]+}",
		s.requireAuth(s.requireOwner(http.HandlerFunc(s.handleDeletePost)))).Methods(http.MethodGet)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.Router.ServeHTTP(w, r) }

type pageData struct {
	Title    string
	Flash    string
	FlashOK  bool
	Error    string
	Errors   map[string]string
	UserID   int64
	Username string
	Posts    []models.Post
	Post     *models.Post
	Comments []models.Comment
	Form     map[string]string
	IsEdit   bool
}

// ------------------------------------------------------------------
// Post list
// ------------------------------------------------------------------

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rows, err := s.DB.QueryContext(ctx, `
SELECT id, title, subtitle, img_url, date, author_name, author_id
  FROM posts
 ORDER BY id
`)
	if err != nil {
		log.WithError(err).Error("posts query")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	var posts []models.Post
	for rows.Next() {
		var p models.Post
		if err := rows.Scan(&p.ID, &p.Title, &p.Subtitle, &p.ImgURL, &p.Date, &p.AuthorName, &p.AuthorID); err != nil {
			log.WithError(err).Error("posts scan")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		log.WithError(err).Error("posts rows")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	data := pageData{Title: "Blog", Posts: posts}
	if msg := r.URL.Query().Get("err"); msg != "" {
		data.Flash = msg
	}
	s.fillUserMeta(ctx, &data)
	util.Render(w, "index.html", data)
}

// ------------------------------------------------------------------
// Register
// ------------------------------------------------------------------

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	data := pageData{Title: "Register", Form: map[string]string{}}
	s.fillUserMeta(r.Context(), &data)

	if r.Method == http.MethodGet {
		util.Render(w, "register.html", data)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	name := strings.TrimSpace(r.FormValue("name"))
	email := strings.TrimSpace(r.FormValue("email"))
	password := r.FormValue("password")

	data.Form["name"] = name
	data.Form["email"] = email
	if errs := validateRegisterForm(name, email, password); len(errs) > 0 {
		data.Errors = errs
		util.Render(w, "register.html", data)
		return
	}

	uid, err := auth.Register(s.DB, name, email, password)
	if errors.Is(err, auth.ErrEmailTaken) {
		http.Redirect(w, r, "/login?err=Email+already+registered", http.StatusSeeOther)
		return
	}
	if err != nil {
		log.WithError(err).Error("register user")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	s.startSession(w, r, uid, "/")
}

func validateRegisterForm(name, email, password string) map[string]string {
	errs := map[string]string{}
	if name == "" {
		errs["name"] = "Name is required"
	}
	if email == "" || !strings.Contains(email, "@") {
		errs["email"] = "A valid email is required"
	}
	if len(password) < 6 {
		errs["password"] = "Password must be at least 6 characters"
	}
	return errs
}

// ------------------------------------------------------------------
// Login / logout
// ------------------------------------------------------------------

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	data := pageData{Title: "Log In", Form: map[string]string{}}

	if r.Method == http.MethodGet {
		data.Flash = r.URL.Query().Get("err")
		util.Render(w, "login.html", data)
		return
	}

	email := strings.TrimSpace(r.FormValue("email"))
	password := r.FormValue("password")
	data.Form["email"] = email

	if email == "" || password == "" {
		data.Error = "Email and password are required"
		util.Render(w, "login.html", data)
		return
	}

	uid, err := auth.Login(s.DB, email, password)
	switch {
	case errors.Is(err, auth.ErrUserNotFound):
		data.Error = "User not found"
		util.Render(w, "login.html", data)
		return
	case errors.Is(err, auth.ErrWrongPassword):
		data.Error = "Wrong password"
		util.Render(w, "login.html", data)
		return
	case err != nil:
		log.WithError(err).Error("login")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	s.startSession(w, r, uid, "/")
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(CookieName); err == nil {
		_ = auth.Logout(s.DB, c.Value)
		c.MaxAge = -1
		c.Path = "/"
		http.SetCookie(w, c)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// startSession issues the session cookie and redirects. Registration and
// login share this tail.
func (s *Server) startSession(w http.ResponseWriter, r *http.Request, uid int64, to string) {
	sid, err := auth.CreateSession(s.DB, uid, s.Cfg.SessionLifetime)
	if err != nil {
		log.WithError(err).Error("create session")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    sid,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(s.Cfg.SessionLifetime),
	})
	http.Redirect(w, r, to, http.StatusSeeOther)
}

// ------------------------------------------------------------------
// Show post + comments
// ------------------------------------------------------------------

func (s *Server) handleShowPost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pid, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)

	var p models.Post
	err := s.DB.QueryRowContext(ctx, `
SELECT id, title, subtitle, body, img_url, date, author_name, author_id
  FROM posts
 WHERE id = $1
`, pid).Scan(&p.ID, &p.Title, &p.Subtitle, &p.Body, &p.ImgURL, &p.Date, &p.AuthorName, &p.AuthorID)
	if err == sql.ErrNoRows {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		log.WithError(err).Error("post query")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	// one join instead of a per-comment user lookup
	rows, err := s.DB.QueryContext(ctx, `
SELECT c.id, c.body, u.name
  FROM comments c
  JOIN users u ON u.id = c.user_id
 WHERE c.post_id = $1
 ORDER BY c.id
`, pid)
	if err != nil {
		log.WithError(err).Error("comments query")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	var comments []models.Comment
	for rows.Next() {
		var c models.Comment
		if err := rows.Scan(&c.ID, &c.Body, &c.Author); err != nil {
			log.WithError(err).Error("comments scan")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		log.WithError(err).Error("comments rows")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	data := pageData{Title: p.Title, Post: &p, Comments: comments}
	if msg := r.URL.Query().Get("err"); msg != "" {
		data.Flash = msg
	}
	s.fillUserMeta(ctx, &data)
	util.Render(w, "post.html", data)
}

func (s *Server) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	pid, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	uid, _ := auth.UserIDFrom(r.Context())

	body := strings.TrimSpace(r.FormValue("comment"))
	if body == "" {
		http.Redirect(w, r, "/post/"+strconv.FormatInt(pid, 10)+"?err=Comment+cannot+be+empty", http.StatusSeeOther)
		return
	}

	_, err := s.DB.Exec(`INSERT INTO comments (body, post_id, user_id) VALUES ($1, $2, $3)`, body, pid, uid)
	if err != nil {
		log.WithError(err).Error("insert comment")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/post/"+strconv.FormatInt(pid, 10), http.StatusSeeOther)
}

// ------------------------------------------------------------------
// Create / edit / delete post
// ------------------------------------------------------------------

func (s *Server) handleNewPost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	data := pageData{Title: "New Post", Form: map[string]string{}}

	if r.Method == http.MethodGet {
		s.fillUserMeta(ctx, &data)
		util.Render(w, "make_post.html", data)
		return
	}

	form, errs := parsePostForm(r)
	data.Form = form
	if len(errs) > 0 {
		data.Errors = errs
		s.fillUserMeta(ctx, &data)
		util.Render(w, "make_post.html", data)
		return
	}

	uid, _ := auth.UserIDFrom(ctx)
	name, err := s.userName(ctx, uid)
	if err != nil {
		log.WithError(err).Error("author lookup")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	date := time.Now().Format("January 02, 2006")
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO posts (title, subtitle, body, img_url, date, author_name, author_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, form["title"], form["subtitle"], form["body"], form["img_url"], date, name, uid)
	if err != nil {
		log.WithError(err).Error("insert post")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleEditPost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pid, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	data := pageData{Title: "Edit Post", IsEdit: true, Form: map[string]string{}}

	if r.Method == http.MethodGet {
		var p models.Post
		err := s.DB.QueryRowContext(ctx, `
SELECT title, subtitle, body, img_url FROM posts WHERE id = $1
`, pid).Scan(&p.Title, &p.Subtitle, &p.Body, &p.ImgURL)
		if err == sql.ErrNoRows {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			log.WithError(err).Error("post query")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		data.Form = map[string]string{
			"title":    p.Title,
			"subtitle": p.Subtitle,
			"body":     p.Body,
			"img_url":  p.ImgURL,
		}
		s.fillUserMeta(ctx, &data)
		util.Render(w, "make_post.html", data)
		return
	}

	form, errs := parsePostForm(r)
	data.Form = form
	if len(errs) > 0 {
		data.Errors = errs
		s.fillUserMeta(ctx, &data)
		util.Render(w, "make_post.html", data)
		return
	}

	// The author stamp is rewritten from the current session. The ownership
	// guard only lets the original author in, so this never reassigns.
	uid, _ := auth.UserIDFrom(ctx)
	name, err := s.userName(ctx, uid)
	if err != nil {
		log.WithError(err).Error("author lookup")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	_, err = s.DB.ExecContext(ctx, `
UPDATE posts
   SET title = $1, subtitle = $2, body = $3, img_url = $4, author_name = $5, author_id = $6
 WHERE id = $7
`, form["title"], form["subtitle"], form["body"], form["img_url"], name, uid, pid)
	if err != nil {
		log.WithError(err).Error("update post")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/post/"+strconv.FormatInt(pid, 10), http.StatusSeeOther)
}

func (s *Server) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	pid, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)

	res, err := s.DB.Exec(`DELETE FROM posts WHERE id = $1`, pid)
	if err != nil {
		log.WithError(err).Error("delete post")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func parsePostForm(r *http.Request) (map[string]string, map[string]string) {
	form := map[string]string{
		"title":    strings.TrimSpace(r.FormValue("title")),
		"subtitle": strings.TrimSpace(r.FormValue("subtitle")),
		"body":     strings.TrimSpace(r.FormValue("body")),
		"img_url":  strings.TrimSpace(r.FormValue("img_url")),
	}
	errs := map[string]string{}
	if form["title"] == "" {
		errs["title"] = "Title is required"
	}
	if form["subtitle"] == "" {
		errs["subtitle"] = "Subtitle is required"
	}
	if form["body"] == "" {
		errs["body"] = "Body is required"
	}
	if form["img_url"] == "" {
		errs["img_url"] = "Image URL is required"
	}
	return form, errs
}

// ------------------------------------------------------------------
// Static pages
// ------------------------------------------------------------------

func (s *Server) handleAbout(w http.ResponseWriter, r *http.Request) {
	data := pageData{Title: "About"}
	s.fillUserMeta(r.Context(), &data)
	util.Render(w, "about.html", data)
}

func (s *Server) handleContact(w http.ResponseWriter, r *http.Request) {
	data := pageData{Title: "Contact"}
	s.fillUserMeta(r.Context(), &data)
	util.Render(w, "contact.html", data)
}

// ------------------------------------------------------------------
// Helpers
// ------------------------------------------------------------------

func (s *Server) userName(ctx context.Context, uid int64) (string, error) {
	var name string
	err := s.DB.QueryRowContext(ctx, `SELECT name FROM users WHERE id = $1`, uid).Scan(&name)
	return name, err
}

// fillUserMeta adds the logged-in user's id and display name for the layout.
func (s *Server) fillUserMeta(ctx context.Context, data *pageData) {
	if uid, ok := auth.UserIDFrom(ctx); ok {
		data.UserID = uid
		if name, err := s.userName(ctx, uid); err == nil {
			data.Username = name
		}
	}
}
