package scaffold

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dyluth/boardlink/internal/config"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name      string
		force     bool
		setupFunc func(string)
		wantErr   bool
	}{
		{
			name:      "fresh initialization",
			force:     false,
			setupFunc: func(dir string) {},
		},
		{
			name:  "force initialization replaces existing config",
			force: true,
			setupFunc: func(dir string) {
				os.WriteFile(filepath.Join(dir, "boardlink.yml"), []byte("old: [content"), 0644)
				os.MkdirAll(filepath.Join(dir, "data", "context"), 0755)
				os.WriteFile(filepath.Join(dir, "data", "context", "context.json"), []byte("{}"), 0644)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			tt.setupFunc(dir)

			created, err := Initialize(dir, tt.force)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Initialize() error = %v, wantErr %v", err, tt.wantErr)
			}

			for _, path := range []string{"boardlink.yml", ".env.example", "data/state", "data/context"} {
				if _, err := os.Stat(filepath.Join(dir, path)); err != nil {
					t.Errorf("Expected %s to exist, but got error: %v", path, err)
				}
			}
			if len(created) != 4 {
				t.Errorf("Expected 4 created entries, got %v", created)
			}

			cfg, err := config.Load(filepath.Join(dir, "boardlink.yml"))
			if err != nil {
				t.Fatalf("boardlink.yml does not load: %v", err)
			}
			if cfg.HTTP.Addr != ":5000" {
				t.Errorf("Expected http.addr :5000, got %s", cfg.HTTP.Addr)
			}
			if len(cfg.Processes) != 0 {
				t.Errorf("Expected no processes in the template, got %d", len(cfg.Processes))
			}

			if tt.force {
				if _, err := os.Stat(filepath.Join(dir, "data", "context", "context.json")); err != nil {
					t.Errorf("Expected existing context to be kept: %v", err)
				}
			}
		})
	}
}

func TestGetTemplateFiles(t *testing.T) {
	files, err := getTemplateFiles()
	if err != nil {
		t.Fatalf("getTemplateFiles() error = %v", err)
	}

	if len(files) != 2 {
		t.Fatalf("Expected 2 files, got %d", len(files))
	}
	for _, f := range files {
		if len(f.Content) == 0 {
			t.Errorf("Template for %s is empty", f.Path)
		}
		if f.Permissions != 0644 {
			t.Errorf("Expected %s to have 0644 permissions, got %v", f.Path, f.Permissions)
		}
	}
}
