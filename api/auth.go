package api

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/kelseyhightower/envconfig"
)

// Authentication errors
var (
	ErrAuthRequired      = errors.New("authentication required")
	ErrAuthFailed        = errors.New("authentication failed")
	ErrAuthTokenInvalid  = errors.New("invalid auth token format")
	ErrAuthTokenMismatch = errors.New("auth token mismatch")
)

// authMessageType is the only accepted handshake message type.
const authMessageType = "auth"

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	// Enabled determines if authentication is required
	Enabled bool `yaml:"enabled" envconfig:"ENABLED"`
	// Token is the secret token that clients must provide
	Token string `yaml:"token" envconfig:"TOKEN"`
}

// Authenticator handles connection authentication.
type Authenticator struct {
	config AuthConfig
	mu     sync.RWMutex
}

// NewAuthenticator creates a new Authenticator with the given config. An
// enabled config without a token gets a generated one.
func NewAuthenticator(config AuthConfig) *Authenticator {
	if config.Enabled && config.Token == "" {
		config.Token = GenerateToken()
	}
	return &Authenticator{
		config: config,
	}
}

// NewAuthenticatorFromEnv creates an Authenticator from SICOMORE_AUTH_ENABLED
// and SICOMORE_AUTH_TOKEN.
func NewAuthenticatorFromEnv() (*Authenticator, error) {
	var cfg AuthConfig
	if err := envconfig.Process("SICOMORE_AUTH", &cfg); err != nil {
		return nil, fmt.Errorf("failed to read auth environment: %w", err)
	}
	return NewAuthenticator(cfg), nil
}

// IsEnabled returns true if authentication is enabled.
func (a *Authenticator) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.config.Enabled
}

// GetToken returns the current auth token (for displaying to admin).
func (a *Authenticator) GetToken() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.config.Token
}

// ValidateToken checks if the provided token matches the configured token
// using a constant-time comparison.
func (a *Authenticator) ValidateToken(providedToken string) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.config.Enabled {
		return nil
	}

	if providedToken == "" {
		return ErrAuthRequired
	}

	if subtle.ConstantTimeCompare([]byte(a.config.Token), []byte(providedToken)) != 1 {
		return ErrAuthTokenMismatch
	}

	return nil
}

// GenerateToken generates a cryptographically secure random token.
func GenerateToken() string {
	bytes := make([]byte, 32) // 256 bits
	if _, err := rand.Read(bytes); err != nil {
		return "sicomore-default-token-change-me"
	}
	return hex.EncodeToString(bytes)
}

// AuthMessage represents an authentication handshake message.
// This is the first message a client must send when auth is enabled.
type AuthMessage struct {
	Type  string `json:"type"`  // Must be "auth"
	Token string `json:"token"` // The authentication token
}

// AuthResponse is sent back to the client after auth attempt.
type AuthResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Authenticate runs the server side of the handshake on rw. It reads one
// AuthMessage, validates it and always answers with an AuthResponse.
func (a *Authenticator) Authenticate(rw io.ReadWriter) error {
	data, err := ReadMessage(rw)
	if err != nil {
		return fmt.Errorf("failed to read auth message: %w", err)
	}

	var msg AuthMessage
	authErr := json.Unmarshal(data, &msg)
	switch {
	case authErr != nil:
		authErr = fmt.Errorf("%w: %v", ErrAuthTokenInvalid, authErr)
	case msg.Type != authMessageType:
		authErr = fmt.Errorf("%w: unexpected message type %q", ErrAuthTokenInvalid, msg.Type)
	default:
		authErr = a.ValidateToken(msg.Token)
	}

	resp := AuthResponse{Success: authErr == nil}
	if authErr != nil {
		resp.Error = ErrAuthFailed.Error()
	}
	out, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	if err := WriteMessage(rw, out); err != nil {
		return err
	}
	return authErr
}

// Handshake runs the client side of the handshake on rw.
func Handshake(rw io.ReadWriter, token string) error {
	out, err := json.Marshal(AuthMessage{Type: authMessageType, Token: token})
	if err != nil {
		return err
	}
	if err := WriteMessage(rw, out); err != nil {
		return err
	}

	data, err := ReadMessage(rw)
	if err != nil {
		return fmt.Errorf("failed to read auth response: %w", err)
	}
	var resp AuthResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	if !resp.Success {
		return fmt.Errorf("%w: %s", ErrAuthFailed, resp.Error)
	}
	return nil
}
