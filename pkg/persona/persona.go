// Package persona resolves the system prompt a user is answered with.
//
// Resolution is a pure function of the user identifier: reserved identifiers
// map to an alternate template addressed to a configured counterpart, every
// other user gets the base template addressed by display name.
package persona

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/dotsetgreg/personarelay/pkg/config"
)

const DefaultFallbackName = "friend"

// Data is what a persona template is executed with.
type Data struct {
	Name   string
	UserID string
}

type Alternate struct {
	UserIDs     []string `yaml:"user_ids"`
	Counterpart string   `yaml:"counterpart"`
	Template    string   `yaml:"template"`
}

// Spec is the on-disk form of a persona set.
type Spec struct {
	Base         string      `yaml:"base"`
	FallbackName string      `yaml:"fallback_name"`
	Alternates   []Alternate `yaml:"alternates"`
}

type alternate struct {
	counterpart string
	tmpl        *template.Template
}

// Set is an immutable, parsed persona set. Safe for concurrent use.
type Set struct {
	base         *template.Template
	fallbackName string
	reserved     map[string]alternate
}

// Resolved is the outcome of resolving a persona for one user.
type Resolved struct {
	Alternate bool
	Name      string
	Prompt    string
}

func NewSet(spec Spec) (*Set, error) {
	if strings.TrimSpace(spec.Base) == "" {
		return nil, fmt.Errorf("persona: base template is required")
	}
	base, err := parse("base", spec.Base)
	if err != nil {
		return nil, err
	}

	s := &Set{
		base:         base,
		fallbackName: strings.TrimSpace(spec.FallbackName),
		reserved:     make(map[string]alternate),
	}
	if s.fallbackName == "" {
		s.fallbackName = DefaultFallbackName
	}

	for i, alt := range spec.Alternates {
		tmpl, err := parse(fmt.Sprintf("alternate[%d]", i), alt.Template)
		if err != nil {
			return nil, err
		}
		for _, id := range alt.UserIDs {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if _, dup := s.reserved[id]; dup {
				return nil, fmt.Errorf("persona: user id %q is reserved by more than one alternate", id)
			}
			s.reserved[id] = alternate{counterpart: strings.TrimSpace(alt.Counterpart), tmpl: tmpl}
		}
	}
	return s, nil
}

func parse(name, text string) (*template.Template, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("persona: parse %s template: %w", name, err)
	}
	return tmpl, nil
}

// Resolve picks and renders the template for userID. Identifiers are compared
// as trimmed strings.
func (s *Set) Resolve(userID, displayName string) (Resolved, error) {
	userID = strings.TrimSpace(userID)
	name := strings.TrimSpace(displayName)
	if name == "" {
		name = s.fallbackName
	}

	tmpl := s.base
	alt, reserved := s.reserved[userID]
	if reserved {
		tmpl = alt.tmpl
		if alt.counterpart != "" {
			name = alt.counterpart
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, Data{Name: name, UserID: userID}); err != nil {
		return Resolved{}, fmt.Errorf("persona: render %s: %w", tmpl.Name(), err)
	}
	return Resolved{Alternate: reserved, Name: name, Prompt: strings.TrimSpace(buf.String())}, nil
}

// SystemPrompt satisfies memory.PersonaResolver.
func (s *Set) SystemPrompt(userID, displayName string) (string, error) {
	r, err := s.Resolve(userID, displayName)
	if err != nil {
		return "", err
	}
	return r.Prompt, nil
}

// ReservedCount reports how many identifiers map to an alternate template.
func (s *Set) ReservedCount() int {
	return len(s.reserved)
}

// LoadFile reads a YAML persona spec.
func LoadFile(path string) (Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, fmt.Errorf("persona: read %s: %w", path, err)
	}
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return Spec{}, fmt.Errorf("persona: decode %s: %w", path, err)
	}
	return spec, nil
}

// SaveFile writes spec as YAML, used by onboarding.
func SaveFile(path string, spec Spec) error {
	data, err := yaml.Marshal(spec)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// SpecFromConfig builds a Spec from inline config. When a persona file is
// configured, its non-empty fields take precedence.
func SpecFromConfig(cfg *config.Config) (Spec, error) {
	spec := Spec{
		Base:         cfg.Personas.Base,
		FallbackName: cfg.Personas.FallbackName,
	}
	for _, alt := range cfg.Personas.Alternates {
		if alt == nil {
			continue
		}
		spec.Alternates = append(spec.Alternates, Alternate{
			UserIDs:     append([]string(nil), alt.UserIDs...),
			Counterpart: alt.Counterpart,
			Template:    alt.Template,
		})
	}

	path := cfg.PersonaFilePath()
	if path == "" {
		return spec, nil
	}
	fromFile, err := LoadFile(path)
	if err != nil {
		return Spec{}, err
	}
	if strings.TrimSpace(fromFile.Base) != "" {
		spec.Base = fromFile.Base
	}
	if strings.TrimSpace(fromFile.FallbackName) != "" {
		spec.FallbackName = fromFile.FallbackName
	}
	if len(fromFile.Alternates) > 0 {
		spec.Alternates = fromFile.Alternates
	}
	return spec, nil
}

// Load is SpecFromConfig followed by NewSet.
func Load(cfg *config.Config) (*Set, error) {
	spec, err := SpecFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return NewSet(spec)
}
