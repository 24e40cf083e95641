package providers

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// Credential modes accepted by providers that support more than one.
const (
	modeAPIKey           = authModeAPIKey
	modeOAuthAccessToken = "oauth_access_token"
	modeOAuthTokenFile   = "oauth_token_file"
)

type credential struct {
	mode   string
	value  string
	origin string
}

// credentialSet collects the non-empty credential fields of one provider.
// Exactly one of them must be set.
type credentialSet struct {
	label string
	hint  string
	found []credential
}

func newCredentialSet(label, hint string) *credentialSet {
	return &credentialSet{label: label, hint: hint}
}

func (s *credentialSet) add(mode, value, origin string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	s.found = append(s.found, credential{mode: mode, value: value, origin: origin})
}

func (s *credentialSet) pick() (credential, error) {
	switch len(s.found) {
	case 1:
		return s.found[0], nil
	case 0:
		return credential{}, fmt.Errorf("%s credentials are required (%s)", s.label, s.hint)
	}
	origins := make([]string, 0, len(s.found))
	for _, c := range s.found {
		origins = append(origins, c.origin)
	}
	sort.Strings(origins)
	return credential{}, fmt.Errorf("multiple %s credential sources configured (%s); set exactly one", s.label, strings.Join(origins, ", "))
}

// checkTokenFile makes sure a token file credential points at a readable path.
func (c credential) checkTokenFile(label string) error {
	if c.mode != modeOAuthTokenFile {
		return nil
	}
	path := expandHome(c.value)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%s OAuth token file not accessible at %s: %w", label, path, err)
	}
	return nil
}
