package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// chdirTemp moves the test into an empty temp directory so Load() does not
// pick up a stray config.yaml.
func chdirTemp(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	originalDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("failed to change directory: %v", err)
	}
	t.Cleanup(func() {
		os.Chdir(originalDir)
	})
	return tmpDir
}

func TestLoad_DefaultsWithoutYAML(t *testing.T) {
	chdirTemp(t)
	os.Unsetenv("PORT")
	os.Unsetenv("PGHOST")

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "8000" {
		t.Errorf("expected default Port=8000, got %s", cfg.Port)
	}
	if cfg.Upload.MaxBytes != 10*1024*1024 {
		t.Errorf("expected default max bytes 10MiB, got %d", cfg.Upload.MaxBytes)
	}
	if strings.Join(cfg.Upload.AllowedExtensions, ",") != "dxf,dwg" {
		t.Errorf("unexpected allowed extensions: %v", cfg.Upload.AllowedExtensions)
	}
	if cfg.Analysis.Timeout() != 60*time.Second {
		t.Errorf("expected 60s analysis timeout, got %s", cfg.Analysis.Timeout())
	}
	if cfg.Analysis.DefaultStandard != "GB/T 14665-2012" {
		t.Errorf("unexpected default standard %q", cfg.Analysis.DefaultStandard)
	}
	if cfg.Database.Enabled() {
		t.Error("expected database to be disabled without PGHOST")
	}
	if cfg.BaseURL != "http://localhost:8000" {
		t.Errorf("expected auto-derived BaseURL, got %s", cfg.BaseURL)
	}
	if cfg.Version != "test-version" {
		t.Errorf("expected Version=test-version, got %s", cfg.Version)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	tmpDir := chdirTemp(t)

	yamlContent := `
port: "9000"
env: "test"
upload:
  dir: "/data/uploads"
  max_bytes: 2048
  allowed_extensions: ".DXF"
analysis:
  workers: 2
  timeout_seconds: 5
database:
  host: "db.example.com"
`
	if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	os.Unsetenv("BASE_URL")
	t.Setenv("PORT", "9443")
	t.Setenv("ANALYSIS_WORKERS", "8")

	cfg, err := Load("v1")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "9443" {
		t.Errorf("expected Port=9443 (from env), got %s", cfg.Port)
	}
	if cfg.Analysis.Workers != 8 {
		t.Errorf("expected Workers=8 (from env), got %d", cfg.Analysis.Workers)
	}
	if cfg.Upload.Dir != "/data/uploads" {
		t.Errorf("expected upload dir from yaml, got %s", cfg.Upload.Dir)
	}
	if cfg.Upload.MaxBytes != 2048 {
		t.Errorf("expected MaxBytes=2048, got %d", cfg.Upload.MaxBytes)
	}
	if len(cfg.Upload.AllowedExtensions) != 1 || cfg.Upload.AllowedExtensions[0] != "dxf" {
		t.Errorf("expected normalized [dxf], got %v", cfg.Upload.AllowedExtensions)
	}
	if !cfg.Database.Enabled() {
		t.Error("expected database to be enabled from yaml host")
	}
	if cfg.BaseURL != "http://localhost:9443" {
		t.Errorf("expected BaseURL derived from env port, got %s", cfg.BaseURL)
	}
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"zero workers", map[string]string{"ANALYSIS_WORKERS": "0"}},
		{"zero timeout", map[string]string{"ANALYSIS_TIMEOUT_SECONDS": "0"}},
		{"negative max bytes", map[string]string{"UPLOAD_MAX_BYTES": "-1"}},
		{"threshold above 100", map[string]string{"ANALYSIS_PASS_THRESHOLD": "101"}},
		{"no extensions", map[string]string{"UPLOAD_ALLOWED_EXTENSIONS": " , "}},
		{"negative critical weight", map[string]string{"ANALYSIS_CRITICAL_WEIGHT": "-15"}},
		{"negative warning weight", map[string]string{"ANALYSIS_WARNING_WEIGHT": "-0.5"}},
		{"negative info weight", map[string]string{"ANALYSIS_INFO_WEIGHT": "-3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chdirTemp(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load("v"); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestParseExtensions(t *testing.T) {
	got := parseExtensions(" .DXF, dwg ,,.Dwg")
	want := []string{"dxf", "dwg", "dwg"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("parseExtensions = %v, want %v", got, want)
	}
	if parseExtensions("") != nil {
		t.Error("expected nil for empty input")
	}
}

func TestDatabaseConfig_ConnectionString(t *testing.T) {
	c := DatabaseConfig{
		Host:     "db.internal",
		Port:     5433,
		User:     "ekaya",
		Password: "p@ss word",
		Database: "cadcheck",
		SSLMode:  "disable",
	}
	got := c.ConnectionString()
	if !strings.HasPrefix(got, "postgres://ekaya:") {
		t.Errorf("unexpected prefix: %s", got)
	}
	if !strings.Contains(got, "@db.internal:5433/cadcheck?sslmode=disable") {
		t.Errorf("unexpected connection string: %s", got)
	}
	if strings.Contains(got, "p@ss word") {
		t.Errorf("password must be escaped: %s", got)
	}
}
