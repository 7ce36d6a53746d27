package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRenderSystemdUnit(t *testing.T) {
	unit := renderSystemdUnit("/usr/local/bin/wandabot", "/home/w/.wandabot/config.json")

	for _, want := range []string{
		"ExecStart=/usr/local/bin/wandabot serve --config /home/w/.wandabot/config.json",
		"EnvironmentFile=-%h/.wandabot/env",
		"Restart=on-failure",
		"WantedBy=default.target",
	} {
		if !strings.Contains(unit, want) {
			t.Errorf("unit missing %q:\n%s", want, unit)
		}
	}
}

func TestRenderLaunchdPlist(t *testing.T) {
	plist := renderLaunchdPlist("/usr/local/bin/wandabot", "/Users/w/.wandabot/config.json", "/Users/w")

	for _, want := range []string{
		"<string>" + launchdLabel + "</string>",
		"<string>/bin/sh</string>",
		"exec /usr/local/bin/wandabot serve --config /Users/w/.wandabot/config.json",
		"/Users/w/.wandabot/env",
		"<key>KeepAlive</key>",
	} {
		if !strings.Contains(plist, want) {
			t.Errorf("plist missing %q", want)
		}
	}
	if strings.Contains(plist, "GEMINI_API_KEY=") {
		t.Error("secrets must not be baked into the plist")
	}
}

func TestWriteEnvTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env")

	if err := writeEnvTemplate(path); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !strings.Contains(string(data), "GEMINI_API_KEY") {
		t.Errorf("template missing key skeleton: %s", data)
	}
	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0o600 {
		t.Errorf("secrets file should be 0600, got %o", info.Mode().Perm())
	}

	// A second install must not clobber user edits.
	if err := os.WriteFile(path, []byte("GEMINI_API_KEY=real"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := writeEnvTemplate(path); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	data, _ = os.ReadFile(path)
	if string(data) != "GEMINI_API_KEY=real" {
		t.Error("existing env file must be left alone")
	}
}
