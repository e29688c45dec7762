package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/vovakirdan/dmchat/internal/core"
	"github.com/vovakirdan/dmchat/internal/store"
)

var (
	// ErrInvalidCredentials is returned when username/password don't match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserExists is returned when trying to register with existing username.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidUsername is returned when username doesn't meet constraints.
	ErrInvalidUsername = errors.New("username must be 3-150 letters, digits or @.+-_")
	// ErrInvalidPassword is returned when password doesn't meet constraints.
	ErrInvalidPassword = errors.New("password must be at least 6 characters")
)

// TokenCookie is the cookie name checked by Identify.
const TokenCookie = "dmchat_token"

// Grant is the result of a successful register or login.
type Grant struct {
	Token    string        `json:"token"`
	Identity core.Identity `json:"user_id"`
	Username string        `json:"username"`
}

// Service issues tokens for accounts and resolves handshake identities.
type Service struct {
	users store.UserStore
	jwt   *JWTConfig
}

// NewService creates a new authentication service.
func NewService(users store.UserStore, jwtConfig *JWTConfig) *Service {
	return &Service{users: users, jwt: jwtConfig}
}

// Register creates an account without a profile picture and signs it in.
func (s *Service) Register(ctx context.Context, username, password string) (Grant, error) {
	username, err := normalizeUsername(username)
	if err != nil {
		return Grant{}, err
	}
	if err := checkPassword(password); err != nil {
		return Grant{}, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return Grant{}, err
	}

	user, err := s.users.CreateUser(ctx, username, hash)
	if errors.Is(err, store.ErrUsernameTaken) {
		return Grant{}, ErrUserExists
	}
	if err != nil {
		return Grant{}, fmt.Errorf("create user: %w", err)
	}
	return s.grant(core.Identity(user.ID), user.Username)
}

// Login checks credentials and signs the account in.
func (s *Service) Login(ctx context.Context, username, password string) (Grant, error) {
	user, err := s.users.GetUserByUsername(ctx, strings.TrimSpace(username))
	switch {
	case errors.Is(err, store.ErrNotFound):
		ComparePassword("", password)
		return Grant{}, ErrInvalidCredentials
	case err != nil:
		return Grant{}, fmt.Errorf("lookup user: %w", err)
	}

	if !ComparePassword(user.PasswordHash, password) {
		return Grant{}, ErrInvalidCredentials
	}
	return s.grant(core.Identity(user.ID), user.Username)
}

func (s *Service) grant(id core.Identity, username string) (Grant, error) {
	token, err := GenerateToken(s.jwt, id, username)
	if err != nil {
		return Grant{}, err
	}
	return Grant{Token: token, Identity: id, Username: username}, nil
}

// ValidateToken validates a JWT token and returns the claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	return ValidateToken(s.jwt, tokenString)
}

// Identify implements the handshake identity lookup: the identity bound to the
// request, or core.Anonymous when it carries no valid token.
func (s *Service) Identify(r *http.Request) core.Identity {
	token := TokenFromRequest(r)
	if token == "" {
		return core.Anonymous
	}
	claims, err := s.ValidateToken(token)
	if err != nil {
		return core.Anonymous
	}
	return claims.Identity()
}

// TokenFromRequest reads the Authorization bearer token, then the token query
// parameter, then the TokenCookie cookie.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if c, err := r.Cookie(TokenCookie); err == nil {
		return c.Value
	}
	return ""
}
