package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmailTaken    = errors.New("email already registered")
	ErrUserNotFound  = errors.New("user not found")
	ErrWrongPassword = errors.New("wrong password")
	ErrNoSession     = errors.New("session not found")
)

// ----------------------------
// Context helpers (for middleware and handlers)
// ----------------------------

type ctxKeyUserID struct{}

func WithUserID(ctx context.Context, uid int64) context.Context {
	return context.WithValue(ctx, ctxKeyUserID{}, uid)
}

func UserIDFrom(ctx context.Context) (int64, bool) {
	v := ctx.Value(ctxKeyUserID{})
	if v == nil {
		return 0, false
	}
	id, _ := v.(int64)
	return id, id != 0
}

// ----------------------------
// Register
// ----------------------------

// Register hashes the password and inserts the user row. ErrEmailTaken is
// returned when the email already belongs to an account; the caller decides
// how to surface it.
func Register(db *sql.DB, name, email, password string) (int64, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	name = strings.TrimSpace(name)

	var exists int
	err := db.QueryRow(`SELECT 1 FROM users WHERE email = $1`, email).Scan(&exists)
	if err == nil {
		return 0, ErrEmailTaken
	}
	if err != sql.ErrNoRows {
		return 0, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}

	var uid int64
	err = db.QueryRow(
		`INSERT INTO users (name, email, password_hash) VALUES ($1, $2, $3) RETURNING id`,
		name, email, string(hash),
	).Scan(&uid)
	// UNIQUE race between the existence check and the insert
	if isUniqueErr(err) {
		return 0, ErrEmailTaken
	}
	if err != nil {
		return 0, err
	}
	return uid, nil
}

// ----------------------------
// Login
// ----------------------------

// Login verifies the credentials and returns the user id. The two failure
// modes are distinct so the login form can flash the right message.
func Login(db *sql.DB, email, password string) (int64, error) {
	email = strings.TrimSpace(strings.ToLower(email))

	var uid int64
	var passwdHash string

	err := db.QueryRow(`SELECT id, password_hash FROM users WHERE email = $1`, email).Scan(&uid, &passwdHash)
	if err == sql.ErrNoRows {
		log.WithField("email", email).Info("login: no such user")
		return 0, ErrUserNotFound
	}
	if err != nil {
		log.WithError(err).Error("login: query user")
		return 0, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwdHash), []byte(password)); err != nil {
		log.WithField("email", email).Info("login: bad password")
		return 0, ErrWrongPassword
	}

	return uid, nil
}

// ----------------------------
// Sessions
// ----------------------------

// CreateSession issues a fresh UUID session for the user, replacing any
// existing ones, and returns the token to put in the cookie.
func CreateSession(db *sql.DB, uid int64, lifetime time.Duration) (string, error) {
	tx, err := db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM sessions WHERE user_id = $1`, uid); err != nil {
		return "", err
	}

	sid := uuid.New().String()
	exp := time.Now().Add(lifetime)

	if _, err := tx.Exec(
		`INSERT INTO sessions (id, user_id, expires_at) VALUES ($1, $2, $3)`,
		sid, uid, exp,
	); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}

	log.WithFields(log.Fields{"uid": uid, "sid": sid}).Debug("session created")
	return sid, nil
}

// Logout deletes the session row for the token.
func Logout(db *sql.DB, sid string) error {
	_, err := db.Exec(`DELETE FROM sessions WHERE id = $1`, sid)
	return err
}

// UserFromSession validates the cookie token and returns (uid, expires).
// Expiry is the caller's check: an expired row still resolves here.
func UserFromSession(db *sql.DB, sid string) (int64, time.Time, error) {
	var uid int64
	var exp time.Time

	err := db.QueryRow(
		`SELECT user_id, expires_at FROM sessions WHERE id = $1`,
		sid,
	).Scan(&uid, &exp)

	if err == sql.ErrNoRows {
		return 0, time.Time{}, ErrNoSession
	}
	if err != nil {
		return 0, time.Time{}, err
	}
	return uid, exp, nil
}

// ----------------------------
// Helpers
// ----------------------------

func isUniqueErr(err error) bool {
	// Postgres: SQLSTATE 23505 unique_violation
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "23505") || strings.Contains(msg, "duplicate key")
}
