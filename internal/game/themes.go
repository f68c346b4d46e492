package game

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadThemes reads the flat theme list used for new stories. A missing or
// unreadable file is reported so the caller can log it and run with the
// fallback theme.
func LoadThemes(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read themes file: %w", err)
	}

	var themes []string
	if err := json.Unmarshal(raw, &themes); err != nil {
		return nil, fmt.Errorf("parse themes file: %w", err)
	}

	return themes, nil
}
