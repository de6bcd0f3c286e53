// Package auth hashes passwords and issues the bearer tokens of the HTTP API.
package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"neoexcelsync/pkg/errors"
)

const (
	bcryptCost = 12

	// TokenType is reported next to every issued token.
	TokenType = "bearer"
)

// Config holds the signing secret and token lifetime.
type Config struct {
	JWTSecret   string
	TokenExpiry time.Duration
	BcryptCost  int
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// DefaultConfig returns a 24 hour token lifetime. The secret must be set.
func DefaultConfig() *Config {
	return &Config{
		TokenExpiry: 24 * time.Hour,
		BcryptCost:  bcryptCost,
	}
}

// Validate validates the auth configuration
func (c *Config) Validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "jwt_secret", "", nil).
			WithSuggestion("set NEOSYNC_JWT_SECRET")
	}
	if c.TokenExpiry <= 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "token_expiry", c.TokenExpiry, nil)
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "bcrypt_cost", c.BcryptCost, nil)
	}
	return nil
}

// Service issues and validates HS256 tokens whose subject is the username.
type Service struct {
	secret []byte
	expiry time.Duration
	cost   int
	now    func() time.Time
}

// NewService creates an auth service.
func NewService(config *Config) (*Service, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	now := config.Clock
	if now == nil {
		now = time.Now
	}
	return &Service{
		secret: []byte(config.JWTSecret),
		expiry: config.TokenExpiry,
		cost:   config.BcryptCost,
		now:    now,
	}, nil
}

// HashPassword returns the bcrypt hash of password.
func (s *Service) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", errors.InternalError(errors.CodeUnexpectedError, "hash_password", err)
	}
	return string(hash), nil
}

// CheckPassword reports an unauthorized error when password does not match hash.
func (s *Service) CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return errors.AuthError("incorrect username or password", err)
	}
	return nil
}

// GenerateToken signs a token for username.
func (s *Service) GenerateToken(username string) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub": username,
		"exp": now.Add(s.expiry).Unix(),
		"iat": now.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", errors.InternalError(errors.CodeUnexpectedError, "sign_token", err)
	}
	return signed, nil
}

// ValidateToken checks the signature and expiry and returns the username.
func (s *Service) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New(errors.CategoryAuth, errors.CodeUnauthorized, "unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return "", errors.AuthError("could not validate credentials", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.AuthError("could not validate credentials", nil)
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.AuthError("token subject missing", nil)
	}
	return sub, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
