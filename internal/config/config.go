// Package config provides configuration loading for memoryd.
//
// Configuration is loaded from environment variables (with a config file
// and hardcoded defaults underneath, see loader.go) and is discovered once
// at startup and frozen for the lifetime of the process.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds the complete memoryd configuration.
type Config struct {
	Production    ProductionConfig
	Server        ServerConfig
	Observability ObservabilityConfig
	Store         StoreConfig
	Embeddings    EmbeddingsConfig
	Query         QueryConfig
	Consolidation ConsolidationConfig
	Health        HealthConfig
	OpsLog        OpsLogConfig
	ChangeBus     ChangeBusConfig
}

// ServerConfig holds transport configuration (spec §6's "request protocol,
// transport-agnostic" — stdio and HTTP are both wired, stdio is always on).
type ServerConfig struct {
	HTTPEnabled     bool          `koanf:"http_enabled"`
	HTTPAddr        string        `koanf:"http_addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry   bool   `koanf:"enable_telemetry"`
	ServiceName       string `koanf:"service_name"`
	OTLPEndpoint      string `koanf:"otlp_endpoint"`
	OTLPProtocol      string `koanf:"otlp_protocol"` // "grpc" or "http/protobuf"
	OTLPInsecure      bool   `koanf:"otlp_insecure"`
	OTLPTLSSkipVerify bool   `koanf:"otlp_tls_skip_verify"`
}

// StoreConfig maps directly onto store.Config plus the retry tuning the
// store's internal busy-retry loop consults.
type StoreConfig struct {
	Path             string `koanf:"path"`
	Dimension        int    `koanf:"vector_dimension"`
	MaxTagLen        int    `koanf:"max_tag_len"`
	MaxTagsPerMemory int    `koanf:"max_tags_per_memory"`
	BusyTimeoutMS    int    `koanf:"busy_timeout_ms"`
	IncludeHostname  bool   `koanf:"include_hostname"`
	RetryAttempts    int    `koanf:"retry_attempts"`
	RetryBackoffMS   int    `koanf:"retry_backoff_ms"`
}

// EmbeddingsConfig maps onto embedclient.Config.
type EmbeddingsConfig struct {
	BaseURL    string        `koanf:"base_url"`
	Model      string        `koanf:"model"`
	APIKey     Secret        `koanf:"api_key"`
	Dimension  int           `koanf:"vector_dimension"`
	CacheSize  int           `koanf:"cache_size"`
	Timeout    time.Duration `koanf:"timeout"`
	Concurrent int           `koanf:"concurrent"`
}

// QueryConfig maps onto the query planner's construction options.
type QueryConfig struct {
	MaxK int `koanf:"max_k"`
}

// ConsolidationConfig maps onto consolidation.Config plus the five cron
// schedules the scheduler package registers.
type ConsolidationConfig struct {
	RetentionDaysCritical       int     `koanf:"retention_days_critical"`
	RetentionDaysReference      int     `koanf:"retention_days_reference"`
	RetentionDaysStandard       int     `koanf:"retention_days_standard"`
	RetentionDaysTemporary      int     `koanf:"retention_days_temporary"`
	AssociationWindowMin        float64 `koanf:"association_window_min"`
	AssociationWindowMax        float64 `koanf:"association_window_max"`
	AssociationSampleCap        int     `koanf:"association_sample_cap"`
	AssociationCandidatePoolCap int     `koanf:"association_candidate_pool_cap"`
	ClusterMinSize              int     `koanf:"cluster_min_size"`
	ClusterTargetNeighborhood   int     `koanf:"cluster_target_neighborhood"`
	ForgetThreshold             float64 `koanf:"forget_threshold"`
	ForgetInactivityDays        int     `koanf:"forget_inactivity_days"`
	ScheduleDaily               string  `koanf:"schedule_daily"`
	ScheduleWeekly              string  `koanf:"schedule_weekly"`
	ScheduleMonthly             string  `koanf:"schedule_monthly"`
	ScheduleQuarterly           string  `koanf:"schedule_quarterly"`
	ScheduleYearly              string  `koanf:"schedule_yearly"`
}

// HealthConfig controls the startup/periodic health checker.
type HealthConfig struct {
	// Strict blocks writes on unresolved health issues (spec §4.C9);
	// the checker itself stays policy-free, this flag is read by the
	// caller that wires it in front of the write path.
	Strict bool `koanf:"strict"`
}

// OpsLogConfig controls the append-only operations log.
type OpsLogConfig struct {
	Path     string `koanf:"path"`
	MaxBytes int64  `koanf:"max_bytes"`
}

// ChangeBusConfig controls optional forwarding of change events to an
// external observer over NATS.
type ChangeBusConfig struct {
	NATSURL       string `koanf:"nats_url"` // empty disables forwarding
	SubjectPrefix string `koanf:"subject_prefix"`
}

// Load loads configuration from environment variables with defaults, with
// no config file layer. Most callers should use LoadWithFile instead, which
// layers a config file and these same defaults beneath the environment.
//
// All environment variables:
//
// Server:
//   - SERVER_HTTP_ENABLED: enable the HTTP transport alongside stdio (default: false)
//   - SERVER_HTTP_ADDR: HTTP listen address (default: :9090)
//   - SERVER_SHUTDOWN_TIMEOUT: graceful shutdown timeout (default: 10s)
//
// Store:
//   - STORE_PATH: sqlite database path (default: ~/.config/memoryd/memory.db)
//   - STORE_VECTOR_DIMENSION: embedding dimension D (default: 384)
//   - STORE_MAX_TAG_LEN: max bytes per tag (default: 64)
//   - STORE_MAX_TAGS_PER_MEMORY: max tags per row (default: 32)
//   - STORE_BUSY_TIMEOUT_MS: sqlite busy_timeout (default: 5000)
//   - STORE_INCLUDE_HOSTNAME: enable hostname tagging, spec §4.C10 (default: true)
//   - STORE_RETRY_ATTEMPTS: internal busy-retry attempts (default: 5)
//   - STORE_RETRY_BACKOFF_MS: base backoff between retries (default: 50)
//
// Embeddings:
//   - EMBEDDINGS_BASE_URL: embedding service URL (default: http://localhost:8081)
//   - EMBEDDINGS_MODEL: embedding model identifier
//   - EMBEDDINGS_API_KEY: bearer token for the embedding service, if any
//   - EMBEDDINGS_VECTOR_DIMENSION: must match STORE_VECTOR_DIMENSION
//   - EMBEDDINGS_CACHE_SIZE: LRU cache entries (default: 1000)
//   - EMBEDDINGS_TIMEOUT: per-request timeout (default: 10s)
//   - EMBEDDINGS_CONCURRENT: bounded worker pool size (default: 4)
//
// Query:
//   - QUERY_MAX_K: cap on result count (default: 100)
//
// Consolidation:
//   - CONSOLIDATION_RETENTION_DAYS_{CRITICAL,REFERENCE,STANDARD,TEMPORARY}
//   - CONSOLIDATION_ASSOCIATION_WINDOW_{MIN,MAX} (default: 0.3, 0.7)
//   - CONSOLIDATION_ASSOCIATION_SAMPLE_CAP (default: 2000)
//   - CONSOLIDATION_ASSOCIATION_CANDIDATE_POOL_CAP (default: 500)
//   - CONSOLIDATION_CLUSTER_MIN_SIZE (default: 5)
//   - CONSOLIDATION_CLUSTER_TARGET_NEIGHBORHOOD (default: 10)
//   - CONSOLIDATION_FORGET_THRESHOLD (default: 0.05)
//   - CONSOLIDATION_FORGET_INACTIVITY_DAYS (default: 180)
//   - CONSOLIDATION_SCHEDULE_{DAILY,WEEKLY,MONTHLY,QUARTERLY,YEARLY}: cron expressions
//
// Health:
//   - HEALTH_STRICT: block writes on unresolved health issues (default: false)
//
// Ops log:
//   - OPSLOG_PATH: append-only log path (default: ~/.config/memoryd/ops.log)
//   - OPSLOG_MAX_BYTES: rotation threshold (default: 10485760)
//
// Change bus:
//   - CHANGEBUS_NATS_URL: NATS URL for forwarding, empty disables it
//   - CHANGEBUS_SUBJECT_PREFIX: subject prefix for forwarded events (default: memoryd.events)
//
// Telemetry:
//   - OTEL_ENABLE: enable OpenTelemetry (default: false)
//   - OTEL_SERVICE_NAME: service name for traces (default: memoryd)
//
// Production:
//   - MEMORYD_PRODUCTION_MODE: enable production safety checks (default: false)
//   - MEMORYD_LOCAL_MODE: acknowledge local/dev mode (default: false)
func Load() *Config {
	cfg := &Config{
		Production: ProductionConfig{
			Enabled:               getEnvBool("MEMORYD_PRODUCTION_MODE", false),
			LocalModeAcknowledged: getEnvBool("MEMORYD_LOCAL_MODE", false),
			RequireAuthentication: getEnvBool("MEMORYD_REQUIRE_AUTH", false),
			RequireTLS:            getEnvBool("MEMORYD_REQUIRE_TLS", false),
			AllowNoIsolation:      getEnvBool("MEMORYD_ALLOW_NO_ISOLATION", false),
		},
		Server: ServerConfig{
			HTTPEnabled:     getEnvBool("SERVER_HTTP_ENABLED", false),
			HTTPAddr:        getEnvString("SERVER_HTTP_ADDR", ":9090"),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Observability: ObservabilityConfig{
			EnableTelemetry: getEnvBool("OTEL_ENABLE", false),
			ServiceName:     getEnvString("OTEL_SERVICE_NAME", "memoryd"),
		},
	}

	cfg.Store = StoreConfig{
		Path:             getEnvString("STORE_PATH", "~/.config/memoryd/memory.db"),
		Dimension:        getEnvInt("STORE_VECTOR_DIMENSION", 384),
		MaxTagLen:        getEnvInt("STORE_MAX_TAG_LEN", 64),
		MaxTagsPerMemory: getEnvInt("STORE_MAX_TAGS_PER_MEMORY", 32),
		BusyTimeoutMS:    getEnvInt("STORE_BUSY_TIMEOUT_MS", 5000),
		IncludeHostname:  getEnvBool("STORE_INCLUDE_HOSTNAME", true),
		RetryAttempts:    getEnvInt("STORE_RETRY_ATTEMPTS", 5),
		RetryBackoffMS:   getEnvInt("STORE_RETRY_BACKOFF_MS", 50),
	}

	cfg.Embeddings = EmbeddingsConfig{
		BaseURL:    getEnvString("EMBEDDINGS_BASE_URL", "http://localhost:8081"),
		Model:      getEnvString("EMBEDDINGS_MODEL", ""),
		APIKey:     Secret(getEnvString("EMBEDDINGS_API_KEY", "")),
		Dimension:  getEnvInt("EMBEDDINGS_VECTOR_DIMENSION", 384),
		CacheSize:  getEnvInt("EMBEDDINGS_CACHE_SIZE", 1000),
		Timeout:    getEnvDuration("EMBEDDINGS_TIMEOUT", 10*time.Second),
		Concurrent: getEnvInt("EMBEDDINGS_CONCURRENT", 4),
	}

	cfg.Query = QueryConfig{
		MaxK: getEnvInt("QUERY_MAX_K", 100),
	}

	cfg.Consolidation = ConsolidationConfig{
		RetentionDaysCritical:       getEnvInt("CONSOLIDATION_RETENTION_DAYS_CRITICAL", 365),
		RetentionDaysReference:      getEnvInt("CONSOLIDATION_RETENTION_DAYS_REFERENCE", 180),
		RetentionDaysStandard:       getEnvInt("CONSOLIDATION_RETENTION_DAYS_STANDARD", 30),
		RetentionDaysTemporary:      getEnvInt("CONSOLIDATION_RETENTION_DAYS_TEMPORARY", 7),
		AssociationWindowMin:        getEnvFloat("CONSOLIDATION_ASSOCIATION_WINDOW_MIN", 0.3),
		AssociationWindowMax:        getEnvFloat("CONSOLIDATION_ASSOCIATION_WINDOW_MAX", 0.7),
		AssociationSampleCap:        getEnvInt("CONSOLIDATION_ASSOCIATION_SAMPLE_CAP", 2000),
		AssociationCandidatePoolCap: getEnvInt("CONSOLIDATION_ASSOCIATION_CANDIDATE_POOL_CAP", 500),
		ClusterMinSize:              getEnvInt("CONSOLIDATION_CLUSTER_MIN_SIZE", 5),
		ClusterTargetNeighborhood:   getEnvInt("CONSOLIDATION_CLUSTER_TARGET_NEIGHBORHOOD", 10),
		ForgetThreshold:             getEnvFloat("CONSOLIDATION_FORGET_THRESHOLD", 0.05),
		ForgetInactivityDays:        getEnvInt("CONSOLIDATION_FORGET_INACTIVITY_DAYS", 180),
		ScheduleDaily:               getEnvString("CONSOLIDATION_SCHEDULE_DAILY", "0 3 * * *"),
		ScheduleWeekly:              getEnvString("CONSOLIDATION_SCHEDULE_WEEKLY", "0 4 * * 0"),
		ScheduleMonthly:             getEnvString("CONSOLIDATION_SCHEDULE_MONTHLY", "0 5 1 * *"),
		ScheduleQuarterly:           getEnvString("CONSOLIDATION_SCHEDULE_QUARTERLY", "0 6 1 1,4,7,10 *"),
		ScheduleYearly:              getEnvString("CONSOLIDATION_SCHEDULE_YEARLY", "0 7 1 1 *"),
	}

	cfg.Health = HealthConfig{
		Strict: getEnvBool("HEALTH_STRICT", false),
	}

	cfg.OpsLog = OpsLogConfig{
		Path:     getEnvString("OPSLOG_PATH", "~/.config/memoryd/ops.log"),
		MaxBytes: int64(getEnvInt("OPSLOG_MAX_BYTES", 10*1024*1024)),
	}

	cfg.ChangeBus = ChangeBusConfig{
		NATSURL:       getEnvString("CHANGEBUS_NATS_URL", ""),
		SubjectPrefix: getEnvString("CHANGEBUS_SUBJECT_PREFIX", "memoryd.events"),
	}

	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPEnabled {
		if _, _, err := net.SplitHostPort(c.Server.HTTPAddr); err != nil {
			return fmt.Errorf("invalid SERVER_HTTP_ADDR: %w", err)
		}
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	if c.Store.Dimension <= 0 {
		return fmt.Errorf("invalid vector_dimension: %d (must be positive)", c.Store.Dimension)
	}
	if c.Store.Dimension != c.Embeddings.Dimension {
		return fmt.Errorf("store vector_dimension (%d) must match embeddings vector_dimension (%d)",
			c.Store.Dimension, c.Embeddings.Dimension)
	}
	if err := validatePath(expandHome(c.Store.Path)); err != nil {
		return fmt.Errorf("invalid STORE_PATH: %w", err)
	}

	if c.Embeddings.BaseURL != "" {
		if err := validateURL(c.Embeddings.BaseURL); err != nil {
			return fmt.Errorf("invalid EMBEDDINGS_BASE_URL: %w", err)
		}
	}

	if c.Query.MaxK <= 0 {
		return fmt.Errorf("invalid QUERY_MAX_K: %d (must be positive)", c.Query.MaxK)
	}

	if c.Consolidation.AssociationWindowMin < 0 || c.Consolidation.AssociationWindowMax > 1 ||
		c.Consolidation.AssociationWindowMin > c.Consolidation.AssociationWindowMax {
		return fmt.Errorf("invalid association window [%f, %f]",
			c.Consolidation.AssociationWindowMin, c.Consolidation.AssociationWindowMax)
	}
	if c.Consolidation.ClusterMinSize <= 0 {
		return fmt.Errorf("invalid cluster_min_size: %d (must be positive)", c.Consolidation.ClusterMinSize)
	}

	if err := validatePath(expandHome(c.OpsLog.Path)); err != nil {
		return fmt.Errorf("invalid OPSLOG_PATH: %w", err)
	}

	if c.ChangeBus.NATSURL != "" {
		if err := validateURL(strings.Replace(c.ChangeBus.NATSURL, "nats://", "http://", 1)); err != nil {
			return fmt.Errorf("invalid CHANGEBUS_NATS_URL: %w", err)
		}
	}

	if err := c.Production.Validate(); err != nil {
		return fmt.Errorf("production config validation failed: %w", err)
	}
	return nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

// ProductionConfig holds production deployment configuration.
type ProductionConfig struct {
	// Enabled indicates whether production mode is active.
	Enabled bool `koanf:"enabled"`

	// LocalModeAcknowledged allows development features in production mode.
	// Use only for local development/testing.
	LocalModeAcknowledged bool `koanf:"local_mode_acknowledged"`

	// RequireAuthentication enforces authentication on the HTTP transport.
	RequireAuthentication bool `koanf:"require_authentication"`

	// AuthenticationConfigured indicates if auth is properly set up.
	AuthenticationConfigured bool `koanf:"authentication_configured"`

	// RequireTLS enforces TLS for the HTTP transport and OTLP export.
	RequireTLS bool `koanf:"require_tls"`

	// AllowNoIsolation permits single-writer assumptions to be bypassed
	// (testing only; always false in production mode).
	AllowNoIsolation bool `koanf:"allow_no_isolation"`
}

// IsProduction returns true if running in production mode.
func (c *ProductionConfig) IsProduction() bool {
	return c.Enabled
}

// IsLocal returns true if local mode is acknowledged.
func (c *ProductionConfig) IsLocal() bool {
	return c.LocalModeAcknowledged
}

// Validate checks production configuration for security issues.
func (c *ProductionConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.AllowNoIsolation {
		return fmt.Errorf("SECURITY: allow_no_isolation cannot be enabled in production")
	}
	if c.RequireAuthentication && !c.AuthenticationConfigured {
		return fmt.Errorf("SECURITY: require_authentication enabled but authentication not configured")
	}
	return nil
}

// validatePath checks if a path is safe (no path traversal).
func validatePath(path string) error {
	if strings.Contains(path, "..") {
		return fmt.Errorf("path contains traversal sequence: %s", path)
	}
	if filepath.IsAbs(path) {
		clean := filepath.Clean(path)
		origDepth := strings.Count(path, string(filepath.Separator))
		cleanDepth := strings.Count(clean, string(filepath.Separator))
		if cleanDepth < origDepth-1 {
			return fmt.Errorf("path traversal detected: %s (resolves to %s)", path, clean)
		}
	}
	return nil
}

// validateURL checks if a URL uses allowed schemes (http/https only).
func validateURL(urlStr string) error {
	if !strings.HasPrefix(urlStr, "http://") && !strings.HasPrefix(urlStr, "https://") {
		return fmt.Errorf("URL must use http:// or https:// scheme, got: %s", urlStr)
	}
	return nil
}

