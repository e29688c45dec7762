package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/dmchat/internal/auth"
)

// AccountHandlers serves registration and login.
type AccountHandlers struct {
	auth *auth.Service
	ttl  int
	log  *zerolog.Logger
}

// NewAccountHandlers creates account handlers; cookieTTL is the token cookie
// lifetime in seconds.
func NewAccountHandlers(authService *auth.Service, cookieTTL int, logger *zerolog.Logger) *AccountHandlers {
	return &AccountHandlers{auth: authService, ttl: cookieTTL, log: logger}
}

// CredentialsRequest is the register and login request body.
type CredentialsRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

type grantFunc func(c *gin.Context, req CredentialsRequest) (auth.Grant, error)

// Register handles POST /api/register.
func (h *AccountHandlers) Register(c *gin.Context) {
	h.respond(c, http.StatusCreated, func(c *gin.Context, req CredentialsRequest) (auth.Grant, error) {
		return h.auth.Register(c.Request.Context(), req.Username, req.Password)
	})
}

// Login handles POST /api/login.
func (h *AccountHandlers) Login(c *gin.Context) {
	h.respond(c, http.StatusOK, func(c *gin.Context, req CredentialsRequest) (auth.Grant, error) {
		return h.auth.Login(c.Request.Context(), req.Username, req.Password)
	})
}

// respond binds credentials, runs fn and writes the grant with a session cookie
// for browser socket handshakes.
func (h *AccountHandlers) respond(c *gin.Context, okStatus int, fn grantFunc) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Str("path", c.FullPath()).Msg("invalid credentials body")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	grant, err := fn(c, req)
	if err != nil {
		status, msg := accountErrorStatus(err)
		if status == http.StatusInternalServerError {
			h.log.Error().Err(err).Str("username", req.Username).Str("path", c.FullPath()).Msg("account request failed")
		}
		c.JSON(status, ErrorResponse{Error: msg})
		return
	}

	h.log.Info().Stringer("identity", grant.Identity).Str("path", c.FullPath()).Msg("account signed in")
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.TokenCookie, grant.Token, h.ttl, "/", "", false, true)
	c.JSON(okStatus, grant)
}

func accountErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrUserExists):
		return http.StatusConflict, err.Error()
	case errors.Is(err, auth.ErrInvalidUsername), errors.Is(err, auth.ErrInvalidPassword):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, err.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}
