package auth

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestRegisterDuplicateEmail(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectQuery(`SELECT 1 FROM users WHERE email`).
		WithArgs("a@x.com").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(1))

	_, err := Register(db, "Alice", "a@x.com", "secret1")
	assert.ErrorIs(t, err, ErrEmailTaken)

	// no insert may have run
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterInsertsNewUser(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectQuery(`SELECT 1 FROM users WHERE email`).
		WithArgs("a@x.com").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("Alice", "a@x.com", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	uid, err := Register(db, "Alice", "A@X.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), uid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoginUnknownEmail(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectQuery(`SELECT id, password_hash FROM users WHERE email`).
		WithArgs("ghost@x.com").
		WillReturnError(sql.ErrNoRows)

	_, err := Login(db, "ghost@x.com", "whatever")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestLoginWrongPassword(t *testing.T) {
	db, mock := newMock(t)

	hash, err := bcrypt.GenerateFromPassword([]byte("right-password"), bcrypt.MinCost)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT id, password_hash FROM users WHERE email`).
		WithArgs("a@x.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "password_hash"}).AddRow(int64(7), string(hash)))

	_, err = Login(db, "a@x.com", "wrong-password")
	assert.ErrorIs(t, err, ErrWrongPassword)
}

func TestLoginSuccess(t *testing.T) {
	db, mock := newMock(t)

	hash, err := bcrypt.GenerateFromPassword([]byte("secret1"), bcrypt.MinCost)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT id, password_hash FROM users WHERE email`).
		WithArgs("a@x.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "password_hash"}).AddRow(int64(7), string(hash)))

	uid, err := Login(db, "a@x.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), uid)
}

func TestCreateSessionReplacesOldOnes(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM sessions WHERE user_id`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO sessions`).
		WithArgs(sqlmock.AnyArg(), int64(7), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	sid, err := CreateSession(db, 7, time.Hour)
	require.NoError(t, err)

	_, err = uuid.Parse(sid)
	assert.NoError(t, err, "session token is a uuid")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserFromSession(t *testing.T) {
	db, mock := newMock(t)

	exp := time.Now().Add(time.Hour)
	mock.ExpectQuery(`SELECT user_id, expires_at FROM sessions WHERE id`).
		WithArgs("sid-1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "expires_at"}).AddRow(int64(7), exp))

	uid, got, err := UserFromSession(db, "sid-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), uid)
	assert.WithinDuration(t, exp, got, time.Second)
}

func TestUserFromSessionMissing(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectQuery(`SELECT user_id, expires_at FROM sessions WHERE id`).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	_, _, err := UserFromSession(db, "nope")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestUserIDContextRoundTrip(t *testing.T) {
	ctx := WithUserID(context.Background(), 7)
	uid, ok := UserIDFrom(ctx)
	assert.True(t, ok)
	assert.Equal(t, int64(7), uid)

	_, ok = UserIDFrom(context.Background())
	assert.False(t, ok)
}
