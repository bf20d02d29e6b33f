package scaffold

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckExisting(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(dir string)
		wantErr bool
	}{
		{
			name:  "no existing files",
			setup: func(dir string) {},
		},
		{
			name: "data directories alone are fine",
			setup: func(dir string) {
				os.MkdirAll(filepath.Join(dir, "data", "state"), 0755)
			},
		},
		{
			name: "existing boardlink.yml",
			setup: func(dir string) {
				os.WriteFile(filepath.Join(dir, "boardlink.yml"), []byte("version: '1.0'"), 0644)
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			tt.setup(dir)

			err := CheckExisting(dir)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckExisting() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !strings.Contains(err.Error(), "boardlink init --force") {
				t.Errorf("Expected error to suggest --force, got: %v", err)
			}
		})
	}
}
