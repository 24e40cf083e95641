package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	cobraDoc "github.com/spf13/cobra/doc"

	"github.com/dotsetgreg/personarelay/pkg/config"
	"github.com/dotsetgreg/personarelay/pkg/providers"
)

func newDocsCommand(rootFactory func() *cobra.Command) *cobra.Command {
	docsRoot := &cobra.Command{
		Use:    "docs",
		Short:  "Internal docs maintenance commands",
		Hidden: true,
	}

	var (
		outputDir string
		checkOnly bool
	)
	gen := &cobra.Command{
		Use:   "generate",
		Short: "Generate CLI, man page, config, and provider reference docs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(outputDir) == "" {
				return fmt.Errorf("--output must not be empty")
			}
			return generateDocumentation(rootFactory, outputDir, checkOnly)
		},
	}
	gen.Flags().StringVar(&outputDir, "output", "docs", "Docs directory root")
	gen.Flags().BoolVar(&checkOnly, "check", false, "Fail if generated docs are out of date")

	docsRoot.AddCommand(gen)
	return docsRoot
}

// docsArtifact is one generated path under the docs root.
type docsArtifact struct {
	rel   string
	write func(path string) error
}

func docsArtifacts(rootFactory func() *cobra.Command) []docsArtifact {
	return []docsArtifact{
		{rel: filepath.Join("reference", "cli"), write: func(dir string) error {
			root := rootFactory()
			disableAutoGenTag(root)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			title := func(filename string) string {
				name := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
				return fmt.Sprintf("# %s\n\n", strings.ReplaceAll(name, "_", " "))
			}
			return cobraDoc.GenMarkdownTreeCustom(root, dir, title, func(name string) string { return name })
		}},
		{rel: filepath.Join("reference", "man"), write: func(dir string) error {
			root := rootFactory()
			disableAutoGenTag(root)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			return cobraDoc.GenManTree(root, &cobraDoc.GenManHeader{
				Title:   strings.ToUpper(appName),
				Section: "1",
				Source:  appName,
			}, dir)
		}},
		{rel: filepath.Join("reference", "config.md"), write: textArtifact(buildConfigReferenceMarkdown)},
		{rel: filepath.Join("reference", "providers.md"), write: textArtifact(buildProvidersReferenceMarkdown)},
	}
}

func textArtifact(build func() (string, error)) func(string) error {
	return func(path string) error {
		text, err := build()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		return os.WriteFile(path, []byte(text), 0o644)
	}
}

func generateDocumentation(rootFactory func() *cobra.Command, outputDir string, checkOnly bool) error {
	target := outputDir
	if checkOnly {
		tmp, err := os.MkdirTemp("", "personarelay-docs-*")
		if err != nil {
			return fmt.Errorf("create temp docs dir: %w", err)
		}
		defer os.RemoveAll(tmp)
		target = tmp
	}

	for _, a := range docsArtifacts(rootFactory) {
		path := filepath.Join(target, a.rel)
		if !checkOnly {
			if err := os.RemoveAll(path); err != nil {
				return fmt.Errorf("clear %s: %w", a.rel, err)
			}
		}
		if err := a.write(path); err != nil {
			return fmt.Errorf("generate %s: %w", a.rel, err)
		}
		if checkOnly {
			if err := compareTrees(path, filepath.Join(outputDir, a.rel)); err != nil {
				return fmt.Errorf("docs out of date: %s: %w; run `%s docs generate`", a.rel, err, appName)
			}
		}
	}
	return nil
}

func disableAutoGenTag(cmd *cobra.Command) {
	cmd.DisableAutoGenTag = true
	for _, child := range cmd.Commands() {
		disableAutoGenTag(child)
	}
}

// compareTrees reports the first difference between two files or directories.
func compareTrees(want, got string) error {
	wantFiles, err := fileContents(want)
	if err != nil {
		return err
	}
	gotFiles, err := fileContents(got)
	if err != nil {
		return err
	}
	for rel, data := range wantFiles {
		existing, ok := gotFiles[rel]
		if !ok {
			return fmt.Errorf("missing %s", rel)
		}
		if !bytes.Equal(data, existing) {
			return fmt.Errorf("%s differs", rel)
		}
	}
	for rel := range gotFiles {
		if _, ok := wantFiles[rel]; !ok {
			return fmt.Errorf("unexpected %s", rel)
		}
	}
	return nil
}

func fileContents(root string) (map[string][]byte, error) {
	out := map[string][]byte{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out[rel] = data
		return nil
	})
	return out, err
}

type configFieldRow struct {
	Path    string
	Type    string
	Env     string
	Default string
}

func buildConfigReferenceMarkdown() (string, error) {
	defaults, err := flattenConfigDefaults()
	if err != nil {
		return "", err
	}
	var rows []configFieldRow
	collectConfigRows(reflect.TypeOf(config.Config{}), "", defaults, &rows)

	var b strings.Builder
	b.WriteString("# Config Reference\n\n")
	b.WriteString("Generated from `pkg/config/config.go` and `config.DefaultConfig()`.\n")
	b.WriteString("Environment variables override values read from config.json.\n\n")
	writeRows(&b, rows)
	return b.String(), nil
}

func writeRows(b *strings.Builder, rows []configFieldRow) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].Path < rows[j].Path })
	b.WriteString("| Key | Type | Env Var | Default |\n")
	b.WriteString("| --- | --- | --- | --- |\n")
	for _, row := range rows {
		fmt.Fprintf(b, "| `%s` | `%s` | `%s` | `%s` |\n",
			escapePipes(row.Path), escapePipes(row.Type), escapePipes(valueOr(row.Env, "-")), escapePipes(valueOr(row.Default, "-")))
	}
}

func collectConfigRows(t reflect.Type, prefix string, defaults map[string]string, rows *[]configFieldRow) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		key := strings.TrimSpace(strings.Split(f.Tag.Get("json"), ",")[0])
		if key == "" || key == "-" {
			continue
		}
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if f.Type.Kind() == reflect.Struct {
			collectConfigRows(f.Type, path, defaults, rows)
			continue
		}
		*rows = append(*rows, configFieldRow{
			Path:    path,
			Type:    friendlyType(f.Type),
			Env:     strings.TrimSpace(f.Tag.Get("env")),
			Default: defaults[path],
		})
	}
}

// flattenConfigDefaults maps dotted JSON paths to their encoded defaults.
func flattenConfigDefaults() (map[string]string, error) {
	data, err := json.Marshal(config.DefaultConfig())
	if err != nil {
		return nil, err
	}
	var root map[string]interface{}
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	out := map[string]string{}
	var walk func(prefix string, v interface{})
	walk = func(prefix string, v interface{}) {
		if m, ok := v.(map[string]interface{}); ok {
			for k, child := range m {
				next := k
				if prefix != "" {
					next = prefix + "." + k
				}
				walk(next, child)
			}
			return
		}
		encoded, _ := json.Marshal(v)
		out[prefix] = string(encoded)
	}
	walk("", root)
	return out, nil
}

func friendlyType(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "bool"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "int"
	case reflect.Float32, reflect.Float64:
		return "float"
	case reflect.Slice:
		return "array<" + friendlyType(t.Elem()) + ">"
	case reflect.Map:
		return "map<" + friendlyType(t.Key()) + "," + friendlyType(t.Elem()) + ">"
	case reflect.Pointer:
		return friendlyType(t.Elem())
	case reflect.Struct:
		return "object"
	default:
		return t.String()
	}
}

var providerSummaries = map[string]struct {
	summary string
	auth    string
}{
	providers.ProviderOpenAI: {
		summary: "OpenAI chat completions. Also the default credentials for Whisper transcription.",
		auth:    "Exactly one of `api_key`, `oauth_access_token`, `oauth_token_file`.",
	},
	providers.ProviderOpenRouter: {
		summary: "OpenRouter chat completions.",
		auth:    "Requires `api_key`.",
	},
	providers.ProviderAnthropic: {
		summary: "Anthropic Messages API through the official SDK.",
		auth:    "Requires `api_key`.",
	},
}

func buildProvidersReferenceMarkdown() (string, error) {
	defaults, err := flattenConfigDefaults()
	if err != nil {
		return "", err
	}

	fields := map[string]reflect.Type{}
	pt := reflect.TypeOf(config.ProvidersConfig{})
	for i := 0; i < pt.NumField(); i++ {
		key := strings.Split(pt.Field(i).Tag.Get("json"), ",")[0]
		fields[key] = pt.Field(i).Type
	}

	var b strings.Builder
	b.WriteString("# Provider Reference\n\n")
	b.WriteString("Select one with `agent.provider`.\n\n")
	for _, name := range providers.SupportedProviders() {
		b.WriteString("## `" + name + "`\n\n")
		if s, ok := providerSummaries[name]; ok {
			b.WriteString(s.summary + "\n\n- Auth: " + s.auth + "\n\n")
		}
		if t, ok := fields[name]; ok {
			var rows []configFieldRow
			collectConfigRows(t, "providers."+name, defaults, &rows)
			writeRows(&b, rows)
			b.WriteString("\n")
		}
	}

	b.WriteString("## Voice services\n\n")
	var rows []configFieldRow
	collectConfigRows(reflect.TypeOf(config.TranscriptionConfig{}), "transcription", defaults, &rows)
	collectConfigRows(reflect.TypeOf(config.SpeechConfig{}), "speech", defaults, &rows)
	writeRows(&b, rows)
	return b.String(), nil
}

func escapePipes(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
