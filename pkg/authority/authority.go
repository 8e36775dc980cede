// Package authority is a minimal identity authority: it mints and verifies
// HS256 tokens for a fixed, configured user directory.
//
// It exists so the file and notification services can be run without an
// external identity provider. Account management (registration, login,
// password reset) is deliberately absent.
package authority

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is the lifetime of minted tokens when none is configured.
const DefaultTokenTTL = 7 * 24 * time.Hour

var (
	ErrMissingToken = errors.New("token missing")
	ErrInvalidToken = errors.New("invalid token")
	ErrUnknownUser  = errors.New("user not found")
)

// User is a directory entry.
type User struct {
	ID    string `mapstructure:"id" validate:"required" json:"id"`
	Name  string `mapstructure:"name" json:"name"`
	Email string `mapstructure:"email" validate:"omitempty,email" json:"email"`
}

// Config configures the authority.
type Config struct {
	// Secret signs and verifies tokens
	Secret string `mapstructure:"secret"`

	// TokenTTL is the lifetime of minted tokens (default: 7 days)
	TokenTTL time.Duration `mapstructure:"token_ttl"`

	// Users is the user directory
	Users []User `mapstructure:"users" validate:"dive"`
}

type claims struct {
	UserID string `json:"id"`
	jwt.RegisteredClaims
}

// Authority mints and verifies tokens.
type Authority struct {
	secret []byte
	ttl    time.Duration
	users  map[string]User
	now    func() time.Time
}

// New builds an Authority from cfg.
func New(cfg Config) (*Authority, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("authority secret is required")
	}

	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	users := make(map[string]User, len(cfg.Users))
	for _, u := range cfg.Users {
		if u.ID == "" {
			return nil, fmt.Errorf("authority user without id")
		}
		if _, dup := users[u.ID]; dup {
			return nil, fmt.Errorf("duplicate authority user %q", u.ID)
		}
		users[u.ID] = u
	}

	return &Authority{
		secret: []byte(cfg.Secret),
		ttl:    ttl,
		users:  users,
		now:    time.Now,
	}, nil
}

// Mint issues a token for a known user.
func (a *Authority) Mint(userID string) (string, error) {
	if _, ok := a.users[userID]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}

	now := a.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	})

	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify checks token and returns the user it was issued to.
//
// Returns ErrMissingToken, ErrInvalidToken (bad signature, expired, wrong
// algorithm) or ErrUnknownUser (valid token for a user no longer listed).
func (a *Authority) Verify(token string) (User, error) {
	if token == "" {
		return User{}, ErrMissingToken
	}

	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return User{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	id := c.UserID
	if id == "" {
		id = c.Subject
	}

	user, ok := a.users[id]
	if !ok {
		return User{}, fmt.Errorf("%w: %s", ErrUnknownUser, id)
	}
	return user, nil
}

// Users lists the directory sorted by id.
func (a *Authority) Users() []User {
	out := make([]User, 0, len(a.users))
	for _, u := range a.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
