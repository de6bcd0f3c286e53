package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"

	"neoexcelsync/internal/reporter"
	"neoexcelsync/pkg/errors"
)

func newViper(overrides map[string]interface{}) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	for k, val := range overrides {
		v.Set(k, val)
	}
	return v
}

func TestLoadServeConfig_Defaults(t *testing.T) {
	cfg, err := LoadServeConfig(newViper(map[string]interface{}{KeyJWTSecret: "secret"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Addr != ":8000" {
		t.Errorf("expected addr ':8000', got '%s'", cfg.Server.Addr)
	}
	if cfg.Results.TTL != 60*time.Minute {
		t.Errorf("expected TTL 60m, got %v", cfg.Results.TTL)
	}
	if cfg.Results.MaxItems != 40 {
		t.Errorf("expected 40 max items, got %d", cfg.Results.MaxItems)
	}
	if cfg.Auth.TokenExpiry != 24*time.Hour {
		t.Errorf("expected token expiry 24h, got %v", cfg.Auth.TokenExpiry)
	}
	if cfg.StatusReset.Schedule != "0 0 * * *" {
		t.Errorf("expected midnight schedule, got '%s'", cfg.StatusReset.Schedule)
	}
	if cfg.SettingsFile != "settings.yaml" {
		t.Errorf("expected settings.yaml, got '%s'", cfg.SettingsFile)
	}
	if cfg.JournalPath != "journal.db" {
		t.Errorf("expected journal.db, got '%s'", cfg.JournalPath)
	}
	if cfg.DatabaseURL != "" {
		t.Errorf("expected no database URL, got '%s'", cfg.DatabaseURL)
	}
	if cfg.Server.LimiterIdle != 10*time.Minute {
		t.Errorf("expected limiter idle 10m, got %v", cfg.Server.LimiterIdle)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "*" {
		t.Errorf("expected origins [*], got %v", cfg.Server.AllowedOrigins)
	}
}

func TestLoadServeConfig_CORSOrigins(t *testing.T) {
	cfg, err := LoadServeConfig(newViper(map[string]interface{}{
		KeyJWTSecret:   "s",
		KeyCORSOrigins: "https://sverka.example.kz, http://localhost:3000 ,",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"https://sverka.example.kz", "http://localhost:3000"}
	if len(cfg.Server.AllowedOrigins) != len(want) {
		t.Fatalf("expected %v, got %v", want, cfg.Server.AllowedOrigins)
	}
	for i := range want {
		if cfg.Server.AllowedOrigins[i] != want[i] {
			t.Errorf("origin %d: expected '%s', got '%s'", i, want[i], cfg.Server.AllowedOrigins[i])
		}
	}
}

func TestLoadServeConfig_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]interface{}
		code      errors.ErrorCode
	}{
		{"missing jwt secret", map[string]interface{}{}, errors.CodeMissingConfig},
		{"zero ttl", map[string]interface{}{KeyJWTSecret: "s", KeyReconcileTTLMinutes: 0}, errors.CodeInvalidConfig},
		{"zero workers", map[string]interface{}{KeyJWTSecret: "s", KeyWorkers: 0}, errors.CodeInvalidConfig},
		{"bad schedule", map[string]interface{}{KeyJWTSecret: "s", KeyStatusResetSchedule: "every day"}, errors.CodeInvalidConfig},
		{"no settings file", map[string]interface{}{KeyJWTSecret: "s", KeySettingsFile: " "}, errors.CodeMissingConfig},
		{"zero limiter idle", map[string]interface{}{KeyJWTSecret: "s", KeyRateLimitIdle: 0}, errors.CodeInvalidConfig},
		{"no cors origins", map[string]interface{}{KeyJWTSecret: "s", KeyCORSOrigins: " , "}, errors.CodeMissingConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadServeConfig(newViper(tt.overrides))
			if err == nil {
				t.Fatal("expected error but got none")
			}
			if !errors.IsCode(err, tt.code) {
				t.Errorf("expected code %s, got %v", tt.code, err)
			}
		})
	}
}

func TestLoadServeConfig_FromEnvironment(t *testing.T) {
	t.Setenv("NEOSYNC_JWT_SECRET", "from-env")
	t.Setenv("NEOSYNC_RECONCILE_MAX_ITEMS", "7")
	t.Setenv("NEOSYNC_DATABASE_URL", " postgres://localhost/neo ")

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	SetDefaults(v)

	cfg, err := LoadServeConfig(v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("expected secret from env, got '%s'", cfg.Auth.JWTSecret)
	}
	if cfg.Results.MaxItems != 7 {
		t.Errorf("expected 7 max items, got %d", cfg.Results.MaxItems)
	}
	if cfg.DatabaseURL != "postgres://localhost/neo" {
		t.Errorf("expected trimmed database URL, got '%s'", cfg.DatabaseURL)
	}
}

func TestLoadSettings(t *testing.T) {
	s, err := LoadSettings("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(s.PODFTThreshold) != "7000000" {
		t.Errorf("expected default threshold, got '%s'", s.PODFTThreshold)
	}

	_, err = LoadSettings(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.IsCode(err, errors.CodeFileNotFound) {
		t.Errorf("expected file_not_found, got %v", err)
	}

	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("podft_threshold: 9000000\noverlap_accounts: [777]\n"), 0o644); err != nil {
		t.Fatalf("failed to write settings: %v", err)
	}
	s, err = LoadSettings(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(s.PODFTThreshold) != "9000000" {
		t.Errorf("expected threshold 9000000, got '%s'", s.PODFTThreshold)
	}
	if len(s.OverlapAccounts) != 1 || s.OverlapAccounts[0] != "777" {
		t.Errorf("expected overlap [777], got %v", s.OverlapAccounts)
	}
	if s.DefaultAccNameUnity != "Account" {
		t.Errorf("expected missing keys to keep defaults, got '%s'", s.DefaultAccNameUnity)
	}
}

func TestCreateReportConfig(t *testing.T) {
	tests := []struct {
		format         string
		expected       reporter.OutputFormat
		includeMatches bool
		expectError    bool
	}{
		{"console", reporter.FormatConsole, false, false},
		{"JSON", reporter.FormatJSON, true, false},
		{"csv", reporter.FormatCSV, true, false},
		{"xml", "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			config, err := CreateReportConfig(tt.format)
			if tt.expectError {
				if err == nil {
					t.Error("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if config.Format != tt.expected {
				t.Errorf("expected format %s, got %s", tt.expected, config.Format)
			}
			if config.IncludeMatches != tt.includeMatches {
				t.Errorf("expected IncludeMatches %v, got %v", tt.includeMatches, config.IncludeMatches)
			}
		})
	}
}
