package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/dotsetgreg/personarelay/pkg/config"
)

const (
	authModeAPIKey      = "api_key"
	authModeBearerToken = "bearer_token"
	authModeHeader      = "header"
)

// TokenSource returns credential material for request auth.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Source() string
}

type staticTokenSource struct {
	token  string
	origin string
}

// NewStaticTokenSource wraps a literal credential. origin names the config
// field it came from and shows up in errors.
func NewStaticTokenSource(token, origin string) TokenSource {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		origin = "static"
	}
	return &staticTokenSource{token: strings.TrimSpace(token), origin: origin}
}

func (s *staticTokenSource) Token(context.Context) (string, error) {
	switch {
	case s.token == "":
		return "", fmt.Errorf("token is empty for %s", s.origin)
	case isPlaceholder(s.token):
		return "", fmt.Errorf("token for %s looks like an unexpanded placeholder (%s)", s.origin, s.token)
	}
	return s.token, nil
}

func (s *staticTokenSource) Source() string { return s.origin }

// isPlaceholder catches values such as "<API_KEY>" or "${API_KEY}" copied
// from docs without being filled in.
func isPlaceholder(tok string) bool {
	return (strings.HasPrefix(tok, "<") && strings.HasSuffix(tok, ">")) ||
		(strings.HasPrefix(tok, "${") && strings.HasSuffix(tok, "}"))
}

type fileTokenSource struct {
	path string
}

// NewFileTokenSource reads the token from disk on every request so rotated
// tokens are picked up without a restart.
func NewFileTokenSource(path string) TokenSource {
	return &fileTokenSource{path: expandHome(path)}
}

// Token accepts a plain token file or a JSON credentials file carrying
// tokens.access_token or access_token.
func (s *fileTokenSource) Token(context.Context) (string, error) {
	if s.path == "" {
		return "", fmt.Errorf("token file path is empty")
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", fmt.Errorf("read token file %s: %w", s.path, err)
	}
	raw := strings.TrimSpace(string(data))
	switch {
	case raw == "":
		return "", fmt.Errorf("token file %s is empty", s.path)
	case raw[0] != '{':
		return raw, nil
	}

	var creds struct {
		AccessToken string `json:"access_token"`
		Tokens      struct {
			AccessToken string `json:"access_token"`
		} `json:"tokens"`
	}
	if err := json.Unmarshal([]byte(raw), &creds); err != nil {
		return "", fmt.Errorf("parse token file %s: %w", s.path, err)
	}
	for _, tok := range []string{creds.Tokens.AccessToken, creds.AccessToken} {
		if tok = strings.TrimSpace(tok); tok != "" {
			return tok, nil
		}
	}
	return "", fmt.Errorf("token file %s is missing access_token", s.path)
}

func (s *fileTokenSource) Source() string {
	if s.path == "" {
		return "token_file"
	}
	return s.path
}

// AuthStrategy applies request auth for upstream HTTP calls.
type AuthStrategy interface {
	Mode() string
	Apply(ctx context.Context, req *http.Request) error
}

// headerAuth writes prefix+token into one request header. All strategies
// are a variant of it.
type headerAuth struct {
	mode   string
	header string
	prefix string
	source TokenSource
}

func NewAPIKeyAuth(source TokenSource) AuthStrategy {
	return &headerAuth{mode: authModeAPIKey, header: "Authorization", prefix: "Bearer ", source: source}
}

func NewBearerTokenAuth(source TokenSource) AuthStrategy {
	return &headerAuth{mode: authModeBearerToken, header: "Authorization", prefix: "Bearer ", source: source}
}

// NewHeaderAuth sends the raw credential in a named header, e.g. xi-api-key.
func NewHeaderAuth(header string, source TokenSource) AuthStrategy {
	return &headerAuth{mode: authModeHeader, header: strings.TrimSpace(header), source: source}
}

func (a *headerAuth) Mode() string { return a.mode }

func (a *headerAuth) Apply(ctx context.Context, req *http.Request) error {
	if a.header == "" {
		return fmt.Errorf("auth header name is empty")
	}
	if a.source == nil {
		return fmt.Errorf("auth token source is nil")
	}
	tok, err := a.source.Token(ctx)
	if err != nil {
		return fmt.Errorf("resolve auth token: %w", err)
	}
	req.Header.Set(a.header, a.prefix+tok)
	return nil
}

func expandHome(path string) string {
	return config.ExpandHome(strings.TrimSpace(path))
}
