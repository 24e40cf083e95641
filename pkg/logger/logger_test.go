package logger

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestComponentFieldsAreSortedAndLevelFiltered(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, false)
	t.Cleanup(func() {
		SetOutput(os.Stderr, false)
		SetLevel(INFO)
	})

	SetLevel(INFO)
	DebugCF("relay", "hidden", nil)
	InfoCF("relay", "visible", map[string]interface{}{"zeta": 1, "alpha": "x"})

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line should be filtered at INFO: %q", out)
	}
	if !strings.Contains(out, "component=relay") {
		t.Fatalf("missing component attr: %q", out)
	}
	if strings.Index(out, "alpha=") > strings.Index(out, "zeta=") {
		t.Fatalf("fields should be emitted in key order: %q", out)
	}

	SetLevel(DEBUG)
	DebugC("relay", "now shown")
	if !strings.Contains(buf.String(), "now shown") {
		t.Fatalf("debug line missing after SetLevel(DEBUG)")
	}
}
