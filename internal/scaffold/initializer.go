package scaffold

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/boardlink/internal/config"
)

//go:embed templates/*
var templatesFS embed.FS

// FileInfo represents a file to be created during initialization
type FileInfo struct {
	Path        string
	Content     []byte
	Permissions os.FileMode
}

// dataDirs are created empty so the state writer and the bridge agree on
// where files live.
var dataDirs = []string{
	filepath.Join("data", "state"),
	filepath.Join("data", "context"),
}

// Initialize creates boardlink.yml, .env.example and the data directories
// in dir. If force is true an existing boardlink.yml is replaced.
func Initialize(dir string, force bool) ([]string, error) {
	if force {
		if err := handleForce(dir); err != nil {
			return nil, err
		}
	}

	files, err := getTemplateFiles()
	if err != nil {
		return nil, err
	}

	if err := createDirectories(dir); err != nil {
		return nil, err
	}

	if err := writeFiles(dir, files); err != nil {
		return nil, err
	}

	if err := validateCreatedFiles(dir); err != nil {
		return nil, err
	}

	created := make([]string, 0, len(files)+len(dataDirs))
	for _, f := range files {
		created = append(created, f.Path)
	}
	for _, d := range dataDirs {
		created = append(created, d+string(filepath.Separator))
	}
	return created, nil
}

// handleForce removes an existing config so it can be rewritten. Data
// directories are kept.
func handleForce(dir string) error {
	path := filepath.Join(dir, config.DefaultPath)
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", config.DefaultPath, err)
		}
	}
	return nil
}

// getTemplateFiles reads all template files
func getTemplateFiles() ([]FileInfo, error) {
	cfg, err := templatesFS.ReadFile("templates/boardlink.yml.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read boardlink.yml template: %w", err)
	}

	env, err := templatesFS.ReadFile("templates/env.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read .env template: %w", err)
	}

	return []FileInfo{
		{Path: config.DefaultPath, Content: cfg, Permissions: 0644},
		{Path: ".env.example", Content: env, Permissions: 0644},
	}, nil
}

func createDirectories(dir string) error {
	for _, d := range dataDirs {
		if err := os.MkdirAll(filepath.Join(dir, d), 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", d, err)
		}
	}
	return nil
}

func writeFiles(dir string, files []FileInfo) error {
	for _, file := range files {
		if err := os.WriteFile(filepath.Join(dir, file.Path), file.Content, file.Permissions); err != nil {
			return fmt.Errorf("failed to write %s: %w", file.Path, err)
		}
	}
	return nil
}

// validateCreatedFiles loads the written config through the normal loader.
func validateCreatedFiles(dir string) error {
	if _, err := config.Load(filepath.Join(dir, config.DefaultPath)); err != nil {
		return fmt.Errorf("created %s is invalid: %w", config.DefaultPath, err)
	}
	return nil
}
