package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"wandabot/internal/action"
)

func TestBuildPrompt_ContainsPersonaAndProtocol(t *testing.T) {
	prompt := BuildPrompt(DefaultPersona())

	if !strings.Contains(prompt, "Wandinha") {
		t.Error("prompt should carry the persona identity")
	}
	for _, k := range action.Kinds() {
		if !strings.Contains(prompt, string(k)) {
			t.Errorf("prompt missing action kind %s", k)
		}
	}
	for _, marker := range []string{"<hoje>", "<amanha>", "<depois-de-amanha>", "<proxima-SEG>", "<proximo-DOM>"} {
		if !strings.Contains(prompt, marker) {
			t.Errorf("prompt missing date marker %s", marker)
		}
	}
	if !strings.Contains(prompt, "```json") {
		t.Error("prompt should show the fenced block format")
	}
}

func TestBuildPrompt_IsStable(t *testing.T) {
	p := DefaultPersona()
	if BuildPrompt(p) != BuildPrompt(p) {
		t.Error("prompt must be identical across calls")
	}
}

func TestLoadPersona_EmptyPathReturnsDefault(t *testing.T) {
	p, err := LoadPersona("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name != "Wandinha" || p.Fallback != FallbackApology {
		t.Errorf("expected built-in persona, got %+v", p)
	}
}

func TestLoadPersona_FileOverridesFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "persona.yaml")
	content := `name: Morticia
text: |
  Você é a Mortícia Addams. Elegante e macabra.
fallback: A rede dorme. Volte mais tarde.
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadPersona(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name != "Morticia" {
		t.Errorf("name not overridden: %q", p.Name)
	}
	if !strings.Contains(p.Text, "Mortícia") {
		t.Errorf("text not overridden: %q", p.Text)
	}
	if p.Fallback != "A rede dorme. Volte mais tarde." {
		t.Errorf("fallback not overridden: %q", p.Fallback)
	}
}

func TestLoadPersona_PartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "persona.yaml")
	if err := os.WriteFile(path, []byte("name: Lurch\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadPersona(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name != "Lurch" {
		t.Errorf("name not overridden: %q", p.Name)
	}
	if p.Text != DefaultPersona().Text {
		t.Error("text should keep the built-in default")
	}
	if p.Fallback != FallbackApology {
		t.Error("fallback should keep the built-in default")
	}
}

func TestLoadPersona_MissingFileReturnsError(t *testing.T) {
	if _, err := LoadPersona("/nonexistent/persona.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadPersona_BadYAMLReturnsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "persona.yaml")
	os.WriteFile(path, []byte(":\t- not yaml"), 0o644)

	if _, err := LoadPersona(path); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}
