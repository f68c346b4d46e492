package game

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadThemes(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "themes.json")
	if err := os.WriteFile(path, []byte(`["Lost expedition","Clockwork city"]`), 0o600); err != nil {
		t.Fatalf("write themes: %v", err)
	}

	themes, err := LoadThemes(path)
	if err != nil {
		t.Fatalf("LoadThemes: %v", err)
	}
	if len(themes) != 2 || themes[0] != "Lost expedition" {
		t.Fatalf("unexpected themes %v", themes)
	}
}

func TestLoadThemesMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := LoadThemes(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected an error for a missing themes file")
	}
}

func TestLoadThemesMalformed(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "themes.json")
	if err := os.WriteFile(path, []byte(`{"not":"a list"}`), 0o600); err != nil {
		t.Fatalf("write themes: %v", err)
	}

	if _, err := LoadThemes(path); err == nil {
		t.Fatal("expected an error for a malformed themes file")
	}
}
