package grafx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/zalando/go-keyring"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/starford/studiopack/internal/apperr"
)

const keyringService = "studiopack"

// AuthConfig selects how the bearer token is obtained. Client credentials
// win over a static token; the keyring is consulted when no token is set.
type AuthConfig struct {
	BaseURL      string
	Token        string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
	UseKeyring   bool
}

// TokenSource builds the token source described by cfg.
func TokenSource(ctx context.Context, cfg AuthConfig) (oauth2.TokenSource, error) {
	if cfg.ClientID != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		return cc.TokenSource(ctx), nil
	}

	token := cfg.Token
	if token == "" && cfg.UseKeyring {
		stored, err := LoadToken(cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		token = stored
	}
	if token == "" {
		return nil, fmt.Errorf("%w: no token configured", apperr.ErrAuthorization)
	}
	if err := CheckExpiry(token, time.Now()); err != nil {
		return nil, err
	}
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}), nil
}

// CheckExpiry fails with ErrAuthorization when token is a JWT whose exp
// claim is in the past. Tokens that are not JWTs pass; the server has the
// final word on them.
func CheckExpiry(token string, now time.Time) error {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if !exp.After(now) {
		return fmt.Errorf("%w: token expired at %s", apperr.ErrAuthorization, exp.Format(time.RFC3339))
	}
	return nil
}

// SaveToken stores a token for the environment in the OS keyring.
func SaveToken(baseURL, token string) error {
	if err := keyring.Set(keyringService, baseURL, token); err != nil {
		return fmt.Errorf("grafx: keyring set: %w", err)
	}
	return nil
}

// LoadToken reads the stored token of the environment.
func LoadToken(baseURL string) (string, error) {
	token, err := keyring.Get(keyringService, baseURL)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("%w: no stored token for %s", apperr.ErrAuthorization, baseURL)
	}
	if err != nil {
		return "", fmt.Errorf("grafx: keyring get: %w", err)
	}
	return token, nil
}

// DeleteToken removes the stored token. A missing token is not an error.
func DeleteToken(baseURL string) error {
	err := keyring.Delete(keyringService, baseURL)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("grafx: keyring delete: %w", err)
	}
	return nil
}
