package scaffold

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/boardlink/internal/config"
)

// CheckExisting returns an error if dir already holds a boardlink.yml.
func CheckExisting(dir string) error {
	if _, err := os.Stat(filepath.Join(dir, config.DefaultPath)); err == nil {
		return fmt.Errorf("project already initialized\n\nFound existing: %s\n\nUse 'boardlink init --force' to reinitialize (this will overwrite existing configuration)", config.DefaultPath)
	}
	return nil
}
