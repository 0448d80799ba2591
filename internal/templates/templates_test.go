package templates

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGetKnownTemplates(t *testing.T) {
	for _, name := range []string{
		"welcome", "approved", "awaiting", "declined", "banned",
		"confirm_button", "decline_button", "admin_new", "admin_decided",
		"admin_view", "start", "help", "stats", "cleanup_report",
		"unauthorized",
	} {
		if Get(name) == "" {
			t.Errorf("missing embedded template %q", name)
		}
	}
}

func TestGetUnknownTemplate(t *testing.T) {
	if got := Get("no_such_template"); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}

func TestRenderSubstitutesPlaceholders(t *testing.T) {
	text := Render("welcome", Vars{
		"channel_title":   "My Channel",
		"age_requirement": "18",
	})
	if !strings.Contains(text, "My Channel") {
		t.Fatalf("channel_title not substituted: %q", text)
	}
	if strings.Contains(text, "{channel_title}") || strings.Contains(text, "{age_requirement}") {
		t.Fatalf("placeholders left unsubstituted: %q", text)
	}
}

func TestRenderLeavesUnknownPlaceholders(t *testing.T) {
	text := Render("welcome", Vars{})
	if !strings.Contains(text, "{channel_title}") {
		t.Fatalf("unknown placeholders must survive untouched: %q", text)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.yml")
	if err := os.WriteFile(path, []byte("welcome: \"custom {channel_title}\"\n"), 0o644); err != nil {
		t.Fatalf("write override file: %v", err)
	}
	if err := LoadOverrides(path); err != nil {
		t.Fatalf("load overrides: %v", err)
	}
	defer func() {
		state.Lock()
		state.overrides = map[string]string{}
		state.Unlock()
	}()

	if got := Render("welcome", Vars{"channel_title": "X"}); got != "custom X" {
		t.Fatalf("override not used: %q", got)
	}
	if Get("approved") == "" {
		t.Fatal("keys missing from overrides must fall back to defaults")
	}
}

func TestLoadOverridesEmptyPathIsNoop(t *testing.T) {
	if err := LoadOverrides(""); err != nil {
		t.Fatalf("empty path must be accepted: %v", err)
	}
}
