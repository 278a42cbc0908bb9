package httpx

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"blog/internal/auth"
)

const CookieName = "session_id"

// withSession resolves the session cookie, if any, and injects the user id
// into the request context. Anonymous requests pass through untouched.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
			if uid, exp, err2 := auth.UserFromSession(s.DB, c.Value); err2 == nil && exp.After(time.Now()) {
				r = r.WithContext(auth.WithUserID(r.Context(), uid))
			} else {
				log.WithFields(log.Fields{"sid": c.Value, "err": err2}).Debug("session rejected")
			}
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuth redirects anonymous requests to the login form.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
		if _, ok := auth.UserIDFrom(r.Context()); !ok {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireOwner restricts post mutation to the recorded author. It runs after
// requireAuth, so a user id is always present in the context here. A missing
// post is a 404, a non-owner a 403; no mutation happens on either path.
func (s *Server) requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pid, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
		if err != nil {
			http.NotFound(w, r)
			return
		}

		var authorID int64
		err = s.DB.QueryRow(`SELECT author_id FROM posts WHERE id = $1`, pid).Scan(&authorID)
		if err == sql.ErrNoRows {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			log.WithError(err).Error("ownership lookup")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		uid, _ := auth.UserIDFrom(r.Context())
		if uid != authorID {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ——— access log ———

type statusRW struct {
	http.ResponseWriter
	status int
}

func (w *statusRW) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// WithAccessLog logs METHOD PATH -> STATUS (duration) for every request.
func WithAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusRW{ResponseWriter: w, status: 200}
		next.ServeHTTP(sw, r)
		log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   sw.status,
			"duration": time.Since(start).Truncate(time.Millisecond).String(),
		}).Info("request")
	})
}
