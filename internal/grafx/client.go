// Package grafx is a client for the GraFx environment REST API.
package grafx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/starford/studiopack/internal/apperr"
)

const maxErrorBody = 4 << 10

// Client talks to one environment. Every request carries the bearer token
// of its token source.
type Client struct {
	baseURL string
	tokens  oauth2.TokenSource
	http    *http.Client
	timeout time.Duration
	log     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying client. Its transport is wrapped to
// add authorization.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// New creates a client for the environment API rooted at baseURL.
func New(baseURL string, tokens oauth2.TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  oauth2.ReuseTokenSource(nil, tokens),
		http:    &http.Client{},
		timeout: 30 * time.Second,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	hc := *c.http
	hc.Transport = &oauth2.Transport{Source: c.tokens, Base: c.http.Transport}
	if c.timeout > 0 {
		hc.Timeout = c.timeout
	}
	c.http = &hc
	return c
}

// BaseURL returns the environment API root.
func (c *Client) BaseURL() string { return c.baseURL }

// Authorization returns the value of the Authorization header.
func (c *Client) Authorization() (string, error) {
	tok, err := c.tokens.Token()
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrAuthorization, err)
	}
	return tok.Type() + " " + tok.AccessToken, nil
}

// Token returns the raw access token.
func (c *Client) Token() (string, error) {
	tok, err := c.tokens.Token()
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrAuthorization, err)
	}
	return tok.AccessToken, nil
}

func (c *Client) url(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// do sends the request and returns the response body of a 2xx response.
// Other statuses become *apperr.HTTPError.
func (c *Client) do(req *http.Request) ([]byte, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("grafx: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.log.Debug("grafx request",
		slog.String("method", req.Method),
		slog.String("path", req.URL.Path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil, apperr.NewHTTPError(req.URL.String(), resp.StatusCode, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("grafx: read body: %w", err)
	}
	return body, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	body, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("grafx: decode %s: %w", req.URL.Path, err)
	}
	return nil
}

func (c *Client) sendJSON(ctx context.Context, method, rawURL string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(resp)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp, out); err != nil {
		return fmt.Errorf("grafx: decode %s: %w", req.URL.Path, err)
	}
	return nil
}

// Links carries the pagination link of a list response.
type Links struct {
	NextPage string `json:"nextPage"`
}

type listResponse[T any] struct {
	Data     []T   `json:"data"`
	PageSize int   `json:"pageSize"`
	Links    Links `json:"links"`
}

// listAll follows links.nextPage until it is empty.
func listAll[T any](ctx context.Context, c *Client, first string) ([]T, error) {
	var out []T
	seen := make(map[string]bool)
	for next := first; next != ""; {
		if seen[next] {
			return nil, fmt.Errorf("grafx: pagination loop at %s", next)
		}
		seen[next] = true
		var page listResponse[T]
		if err := c.getJSON(ctx, next, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Data...)
		next = page.Links.NextPage
	}
	return out, nil
}
