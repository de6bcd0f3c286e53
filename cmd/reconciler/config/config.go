package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"neoexcelsync/internal/api"
	"neoexcelsync/internal/auth"
	"neoexcelsync/internal/cache"
	"neoexcelsync/internal/jobs"
	"neoexcelsync/internal/reporter"
	"neoexcelsync/internal/settings"
	"neoexcelsync/pkg/errors"
)

// EnvPrefix prefixes every environment variable the CLI reads.
const EnvPrefix = "NEOSYNC"

// Keys read by the serve command.
const (
	KeyAddr                = "addr"
	KeyDatabaseURL         = "database_url"
	KeyJWTSecret           = "jwt_secret"
	KeyTokenExpiryHours    = "token_expiry_hours"
	KeyReconcileTTLMinutes = "reconcile_ttl_minutes"
	KeyReconcileMaxItems   = "reconcile_max_items"
	KeySettingsFile        = "settings_file"
	KeyJournalPath         = "journal_path"
	KeyUploadDir           = "upload_dir"
	KeyDataDir             = "data_dir"
	KeyWorkers             = "workers"
	KeyRateLimit           = "rate_limit"
	KeyRateBurst           = "rate_burst"
	KeyRateLimitIdle       = "rate_limit_idle_minutes"
	KeyCORSOrigins         = "cors_origins"
	KeyStatusResetSchedule = "status_reset_schedule"
	KeyStatusResetTimeZone = "status_reset_time_zone"
)

// SetDefaults registers the serve defaults on v.
func SetDefaults(v *viper.Viper) {
	server := api.DefaultConfig()
	results := cache.DefaultConfig()
	reset := jobs.DefaultStatusResetConfig()

	v.SetDefault(KeyAddr, server.Addr)
	v.SetDefault(KeyTokenExpiryHours, 24)
	v.SetDefault(KeyReconcileTTLMinutes, int(results.TTL/time.Minute))
	v.SetDefault(KeyReconcileMaxItems, results.MaxItems)
	v.SetDefault(KeySettingsFile, "settings.yaml")
	v.SetDefault(KeyJournalPath, "journal.db")
	v.SetDefault(KeyUploadDir, server.UploadDir)
	v.SetDefault(KeyDataDir, server.DataDir)
	v.SetDefault(KeyWorkers, server.Workers)
	v.SetDefault(KeyRateLimit, server.RateLimit)
	v.SetDefault(KeyRateBurst, server.RateBurst)
	v.SetDefault(KeyRateLimitIdle, int(server.LimiterIdle/time.Minute))
	v.SetDefault(KeyCORSOrigins, strings.Join(server.AllowedOrigins, ","))
	v.SetDefault(KeyStatusResetSchedule, reset.Schedule)
	v.SetDefault(KeyStatusResetTimeZone, reset.TimeZone)
}

// ServeConfig is everything the serve command wires together.
type ServeConfig struct {
	Server      *api.Config
	Results     *cache.Config
	Auth        *auth.Config
	StatusReset *jobs.StatusResetConfig

	// DatabaseURL may be empty; the clients registry and login are then off.
	DatabaseURL  string
	SettingsFile string
	// JournalPath may be empty to disable the run journal.
	JournalPath string
}

// LoadServeConfig reads the serve configuration from v and validates every
// part of it.
func LoadServeConfig(v *viper.Viper) (*ServeConfig, error) {
	server := api.DefaultConfig()
	server.Addr = v.GetString(KeyAddr)
	server.UploadDir = v.GetString(KeyUploadDir)
	server.DataDir = v.GetString(KeyDataDir)
	server.Workers = v.GetInt(KeyWorkers)
	server.RateLimit = v.GetFloat64(KeyRateLimit)
	server.RateBurst = v.GetInt(KeyRateBurst)
	server.LimiterIdle = time.Duration(v.GetInt(KeyRateLimitIdle)) * time.Minute
	server.AllowedOrigins = splitOrigins(v.GetString(KeyCORSOrigins))

	authCfg := auth.DefaultConfig()
	authCfg.JWTSecret = v.GetString(KeyJWTSecret)
	authCfg.TokenExpiry = time.Duration(v.GetInt(KeyTokenExpiryHours)) * time.Hour

	reset := jobs.DefaultStatusResetConfig()
	reset.Schedule = v.GetString(KeyStatusResetSchedule)
	reset.TimeZone = v.GetString(KeyStatusResetTimeZone)

	cfg := &ServeConfig{
		Server: server,
		Results: &cache.Config{
			TTL:      time.Duration(v.GetInt(KeyReconcileTTLMinutes)) * time.Minute,
			MaxItems: v.GetInt(KeyReconcileMaxItems),
		},
		Auth:         authCfg,
		StatusReset:  reset,
		DatabaseURL:  strings.TrimSpace(v.GetString(KeyDatabaseURL)),
		SettingsFile: v.GetString(KeySettingsFile),
		JournalPath:  strings.TrimSpace(v.GetString(KeyJournalPath)),
	}
	return cfg, cfg.Validate()
}

// splitOrigins reads a comma separated origin list such as
// "https://sverka.example.kz, http://localhost:3000".
func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Validate validates every component configuration
func (c *ServeConfig) Validate() error {
	if strings.TrimSpace(c.SettingsFile) == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, KeySettingsFile, "", nil)
	}
	validators := []interface{ Validate() error }{c.Server, c.Results, c.Auth, c.StatusReset}
	for _, v := range validators {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// LoadSettings reads a settings file for a one-shot command. An empty path
// means the built-in defaults; a path that does not exist is an error.
func LoadSettings(path string) (*settings.Settings, error) {
	if strings.TrimSpace(path) == "" {
		return settings.Defaults(), nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, errors.FileError(errors.CodeFileNotFound, path, err)
	}
	return settings.NewStore(path).Load()
}

// CreateReportConfig creates a report configuration for the specified output format
func CreateReportConfig(format string) (*reporter.ReportConfig, error) {
	config := reporter.DefaultReportConfig()
	config.Format = reporter.OutputFormat(strings.ToLower(strings.TrimSpace(format)))

	switch config.Format {
	case reporter.FormatConsole:
		config.MaxRows = 10
	case reporter.FormatJSON:
		config.IncludeMatches = true
	case reporter.FormatCSV:
		config.IncludeMatches = true
		config.IncludeStats = false
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
