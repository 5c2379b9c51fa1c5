package svc

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"linkvault/pkg/domain"
	"linkvault/svc/auth"
	"linkvault/svc/db"
)

const minAccountPasswordLength = 8

// Users handles account registration and login. Accounts exist so pastes
// can be tied to an owner for later deletion; everything else works
// anonymously.
type Users struct {
	db     *db.SQLite
	hasher *auth.Hasher
	jwt    *auth.JWTManager
}

func NewUsers(sqlDB *db.SQLite, h *auth.Hasher, jwt *auth.JWTManager) *Users {
	if sqlDB == nil || h == nil || jwt == nil {
		panic("users service: nil dependency")
	}
	return &Users{db: sqlDB, hasher: h, jwt: jwt}
}

func (u *Users) Register(ctx context.Context, email, password string) (*domain.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, "", domain.ErrValidation
	}
	if len(password) < minAccountPasswordLength {
		return nil, "", domain.ErrValidation
	}
	exists, err := u.db.UserExists(ctx, email)
	if err != nil {
		return nil, "", errors.Wrap(err, "check user")
	}
	if exists {
		return nil, "", domain.ErrUserExists
	}
	hash, err := u.hasher.Hash(password)
	if err != nil {
		return nil, "", errors.Wrap(err, "hash password")
	}
	user := &domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now(),
	}
	if err := u.db.CreateUser(ctx, user); err != nil {
		return nil, "", errors.Wrap(err, "create user")
	}
	token, err := u.jwt.Issue(user)
	if err != nil {
		return nil, "", errors.Wrap(err, "issue token")
	}
	return user, token, nil
}

// Login never reveals whether the email or the password was wrong. An
// unknown email still runs a hash verification so the two cases take the
// same time.
func (u *Users) Login(ctx context.Context, email, password string) (*domain.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := u.db.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, "", errors.Wrap(err, "get user")
	}
	if user == nil {
		u.hasher.Verify(password, "")
		return nil, "", domain.ErrInvalidCredentials
	}
	match, _, err := u.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return nil, "", errors.Wrap(err, "verify password")
	}
	if !match {
		return nil, "", domain.ErrInvalidCredentials
	}
	token, err := u.jwt.Issue(user)
	if err != nil {
		return nil, "", errors.Wrap(err, "issue token")
	}
	return user, token, nil
}

func (u *Users) Me(ctx context.Context, userID string) (*domain.User, error) {
	user, err := u.db.GetUserByID(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "get user")
	}
	if user == nil {
		return nil, domain.ErrInvalidToken
	}
	return user, nil
}
