// Package auth holds operator accounts and the two ways a request proves who it is: a
// signed session cookie or a bearer token.
package auth

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/Donghyun-Son/srtgo/internal/db"
)

var (
	ErrInvalidCredentials = errors.New("auth: invalid username or password")
	ErrUnauthenticated    = errors.New("auth: not authenticated")
)

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func CheckPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// Users is the account table.
type Users struct {
	db *db.DB
}

func NewUsers(d *db.DB) *Users { return &Users{db: d} }

func (u *Users) Create(ctx context.Context, username, password string) (int64, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return 0, errors.New("auth: username and password are required")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return 0, err
	}
	var id int64
	err = u.db.QueryRow(ctx, `INSERT INTO users(username, password_bcrypt) VALUES ($1,$2) RETURNING id`, username, hash).Scan(&id)
	return id, err
}

// Authenticate returns the user id for a correct username and password. Unknown users and
// wrong passwords are indistinguishable to the caller.
func (u *Users) Authenticate(ctx context.Context, username, password string) (int64, error) {
	var id int64
	var hash string
	err := u.db.QueryRow(ctx, `SELECT id, password_bcrypt FROM users WHERE username=$1`, strings.TrimSpace(username)).Scan(&id, &hash)
	if db.IsNotFound(err) {
		return 0, ErrInvalidCredentials
	}
	if err != nil {
		return 0, err
	}
	if !CheckPassword(hash, password) {
		return 0, ErrInvalidCredentials
	}
	return id, nil
}

// Lookup resolves a username to its id.
func (u *Users) Lookup(ctx context.Context, username string) (int64, error) {
	var id int64
	err := u.db.QueryRow(ctx, `SELECT id FROM users WHERE username=$1`, strings.TrimSpace(username)).Scan(&id)
	if err != nil {
		return 0, db.WrapNotFound(err)
	}
	return id, nil
}
