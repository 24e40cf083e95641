package persona

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotsetgreg/personarelay/pkg/config"
)

func testSpec() Spec {
	return Spec{
		Base: "You are chatting with {{.Name}}.",
		Alternates: []Alternate{{
			UserIDs:     []string{"1001", " 1002 "},
			Counterpart: "Aziza",
			Template:    "You are talking to your partner {{.Name}}.",
		}},
	}
}

func TestResolve(t *testing.T) {
	set, err := NewSet(testSpec())
	require.NoError(t, err)

	tests := []struct {
		name        string
		userID      string
		displayName string
		want        string
		alternate   bool
	}{
		{"base with display name", "55", "Bob", "You are chatting with Bob.", false},
		{"base falls back to friend", "55", "", "You are chatting with friend.", false},
		{"whitespace name falls back", "55", "   ", "You are chatting with friend.", false},
		{"reserved id uses counterpart", "1001", "Bob", "You are talking to your partner Aziza.", true},
		{"reserved id trimmed in config", "1002", "", "You are talking to your partner Aziza.", true},
		{"reserved id trimmed on lookup", " 1001 ", "x", "You are talking to your partner Aziza.", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := set.Resolve(tt.userID, tt.displayName)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Prompt)
			assert.Equal(t, tt.alternate, got.Alternate)
		})
	}
}

func TestResolve_Deterministic(t *testing.T) {
	set, err := NewSet(testSpec())
	require.NoError(t, err)

	first, err := set.SystemPrompt("1001", "Bob")
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		again, err := set.SystemPrompt("1001", "Bob")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestResolve_AlternateWithoutCounterpartUsesDisplayName(t *testing.T) {
	set, err := NewSet(Spec{
		Base:       "base {{.Name}}",
		Alternates: []Alternate{{UserIDs: []string{"7"}, Template: "alt {{.Name}} ({{.UserID}})"}},
	})
	require.NoError(t, err)

	got, err := set.Resolve("7", "Carol")
	require.NoError(t, err)
	assert.Equal(t, "alt Carol (7)", got.Prompt)
}

func TestNewSet_Errors(t *testing.T) {
	_, err := NewSet(Spec{})
	assert.Error(t, err, "empty base must be rejected")

	_, err = NewSet(Spec{Base: "{{.Name"})
	assert.Error(t, err, "unparsable base must be rejected")

	_, err = NewSet(Spec{Base: "ok", Alternates: []Alternate{
		{UserIDs: []string{"1"}, Template: "a"},
		{UserIDs: []string{"1"}, Template: "b"},
	}})
	assert.Error(t, err, "duplicate reserved id must be rejected")
}

func TestNewSet_CustomFallbackName(t *testing.T) {
	set, err := NewSet(Spec{Base: "hi {{.Name}}", FallbackName: "buddy"})
	require.NoError(t, err)
	got, err := set.SystemPrompt("1", "")
	require.NoError(t, err)
	assert.Equal(t, "hi buddy", got)
}

func TestLoad_FileOverridesInline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personas.yaml")
	raw := `
base: "file base {{.Name}}"
alternates:
  - user_ids: ["900"]
    counterpart: "Dana"
    template: "file alt {{.Name}}"
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0600))

	cfg := config.DefaultConfig()
	cfg.Personas.File = path

	set, err := Load(cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, set.ReservedCount())

	got, err := set.SystemPrompt("900", "x")
	require.NoError(t, err)
	assert.Equal(t, "file alt Dana", got)

	got, err = set.SystemPrompt("1", "Eve")
	require.NoError(t, err)
	assert.Equal(t, "file base Eve", got)
}

func TestSaveFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personas.yaml")
	require.NoError(t, SaveFile(path, testSpec()))

	spec, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, testSpec().Base, spec.Base)
	require.Len(t, spec.Alternates, 1)
	assert.Equal(t, "Aziza", spec.Alternates[0].Counterpart)
}

func TestLoad_MissingFile(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Personas.File = filepath.Join(t.TempDir(), "absent.yaml")
	_, err := Load(cfg)
	assert.Error(t, err)
}
