// Package config provides configuration loading for memoryd.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB
)

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SERVER_HTTP_ADDR, STORE_VECTOR_DIMENSION, etc.)
//  2. YAML config file (~/.config/memoryd/config.yaml)
//  3. Hardcoded defaults
//
// The configPath parameter specifies the YAML file to load. If empty, uses
// the default path ~/.config/memoryd/config.yaml.
//
// # Security considerations
//
// File permissions: the configuration file MUST have 0600 or 0400
// permissions. Files with weaker permissions (e.g. 0644 world-readable) are
// rejected.
//
// Path validation: only configuration files in allowed directories can be
// loaded:
//   - ~/.config/memoryd/ (user's config directory)
//   - /etc/memoryd/ (system-wide config directory)
//
// Absolute paths outside these directories are rejected to prevent path
// traversal.
//
// File size limit: configuration files larger than 1MB are rejected.
//
// # Environment variable mapping
//
// Environment variables use underscore separator and are uppercased. The
// transformer splits on the first underscore to map section.field:
//
//	STORE_VECTOR_DIMENSION -> store.vector_dimension
//	OBSERVABILITY_SERVICE_NAME -> observability.service_name
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "memoryd", "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		lower := strings.ToLower(s)
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	cfg.Production = loadProductionConfig()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// EnsureConfigDir creates the memoryd config directory if it doesn't exist,
// with 0700 permissions (owner read/write/execute only).
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	configDir := filepath.Join(home, ".config", "memoryd")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}
	return nil
}

// validateConfigPath checks if path is in allowed directories. This
// validation runs even if the file doesn't exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", "memoryd"),
		"/etc/memoryd",
	}

	allowed := false
	for _, dir := range allowedDirs {
		if strings.HasPrefix(resolvedPath, dir) {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("config file must be in ~/.config/memoryd/ or /etc/memoryd/")
	}
	return nil
}

// validateConfigFileProperties checks file permissions and size. Takes
// FileInfo from an already-opened file descriptor to avoid a TOCTOU race.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// applyDefaults sets default values for fields the file/env layers left at
// their zero value. Mirrors Load()'s defaults so LoadWithFile and Load agree
// when a field is absent from both the file and the environment.
func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = ":9090"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "memoryd"
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = "~/.config/memoryd/memory.db"
	}
	if cfg.Store.Dimension == 0 {
		cfg.Store.Dimension = 384
	}
	if cfg.Store.MaxTagLen == 0 {
		cfg.Store.MaxTagLen = 64
	}
	if cfg.Store.MaxTagsPerMemory == 0 {
		cfg.Store.MaxTagsPerMemory = 32
	}
	if cfg.Store.BusyTimeoutMS == 0 {
		cfg.Store.BusyTimeoutMS = 5000
	}
	if cfg.Store.RetryAttempts == 0 {
		cfg.Store.RetryAttempts = 5
	}
	if cfg.Store.RetryBackoffMS == 0 {
		cfg.Store.RetryBackoffMS = 50
	}

	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8081"
	}
	if cfg.Embeddings.Dimension == 0 {
		cfg.Embeddings.Dimension = cfg.Store.Dimension
	}
	if cfg.Embeddings.CacheSize == 0 {
		cfg.Embeddings.CacheSize = 1000
	}
	if cfg.Embeddings.Timeout == 0 {
		cfg.Embeddings.Timeout = 10 * time.Second
	}
	if cfg.Embeddings.Concurrent == 0 {
		cfg.Embeddings.Concurrent = 4
	}

	if cfg.Query.MaxK == 0 {
		cfg.Query.MaxK = 100
	}

	if cfg.Consolidation.RetentionDaysCritical == 0 {
		cfg.Consolidation.RetentionDaysCritical = 365
	}
	if cfg.Consolidation.RetentionDaysReference == 0 {
		cfg.Consolidation.RetentionDaysReference = 180
	}
	if cfg.Consolidation.RetentionDaysStandard == 0 {
		cfg.Consolidation.RetentionDaysStandard = 30
	}
	if cfg.Consolidation.RetentionDaysTemporary == 0 {
		cfg.Consolidation.RetentionDaysTemporary = 7
	}
	if cfg.Consolidation.AssociationWindowMax == 0 {
		cfg.Consolidation.AssociationWindowMin = 0.3
		cfg.Consolidation.AssociationWindowMax = 0.7
	}
	if cfg.Consolidation.AssociationSampleCap == 0 {
		cfg.Consolidation.AssociationSampleCap = 2000
	}
	if cfg.Consolidation.AssociationCandidatePoolCap == 0 {
		cfg.Consolidation.AssociationCandidatePoolCap = 500
	}
	if cfg.Consolidation.ClusterMinSize == 0 {
		cfg.Consolidation.ClusterMinSize = 5
	}
	if cfg.Consolidation.ClusterTargetNeighborhood == 0 {
		cfg.Consolidation.ClusterTargetNeighborhood = 10
	}
	if cfg.Consolidation.ForgetThreshold == 0 {
		cfg.Consolidation.ForgetThreshold = 0.05
	}
	if cfg.Consolidation.ForgetInactivityDays == 0 {
		cfg.Consolidation.ForgetInactivityDays = 180
	}
	if cfg.Consolidation.ScheduleDaily == "" {
		cfg.Consolidation.ScheduleDaily = "0 3 * * *"
	}
	if cfg.Consolidation.ScheduleWeekly == "" {
		cfg.Consolidation.ScheduleWeekly = "0 4 * * 0"
	}
	if cfg.Consolidation.ScheduleMonthly == "" {
		cfg.Consolidation.ScheduleMonthly = "0 5 1 * *"
	}
	if cfg.Consolidation.ScheduleQuarterly == "" {
		cfg.Consolidation.ScheduleQuarterly = "0 6 1 1,4,7,10 *"
	}
	if cfg.Consolidation.ScheduleYearly == "" {
		cfg.Consolidation.ScheduleYearly = "0 7 1 1 *"
	}

	if cfg.OpsLog.Path == "" {
		cfg.OpsLog.Path = "~/.config/memoryd/ops.log"
	}
	if cfg.OpsLog.MaxBytes == 0 {
		cfg.OpsLog.MaxBytes = 10 * 1024 * 1024
	}

	if cfg.ChangeBus.SubjectPrefix == "" {
		cfg.ChangeBus.SubjectPrefix = "memoryd.events"
	}
}

// loadProductionConfig loads production configuration from environment
// variables; this layer always wins over the file since production safety
// gating must not be overridable by a checked-in config file.
func loadProductionConfig() ProductionConfig {
	prodMode := os.Getenv("MEMORYD_PRODUCTION_MODE") == "1"
	localMode := os.Getenv("MEMORYD_LOCAL_MODE") == "1"

	return ProductionConfig{
		Enabled:                  prodMode,
		LocalModeAcknowledged:    localMode,
		RequireAuthentication:    prodMode && !localMode,
		AuthenticationConfigured: os.Getenv("MEMORYD_AUTH_CONFIGURED") == "1",
		RequireTLS:               prodMode && !localMode,
		AllowNoIsolation:         false,
	}
}
