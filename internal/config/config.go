// Package config provides configuration loading from a config file and environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// EnvCursorBackend selects where cursors are persisted: file, ssm or dynamodb.
	EnvCursorBackend = "SAMAY_CURSOR_BACKEND"

	// EnvDBBatchSize is the number of events read per database query.
	EnvDBBatchSize = "SAMAY_DB_BATCH_SIZE"

	// EnvDBPath is the path to the ActivityWatch SQLite database.
	EnvDBPath = "SAMAY_DB_PATH"

	// EnvDBTimeout is how long reads wait on a locked database.
	EnvDBTimeout = "SAMAY_DB_TIMEOUT"

	// EnvDynamoDBTable is the DynamoDB table used by the dynamodb cursor backend.
	EnvDynamoDBTable = "SAMAY_DYNAMODB_TABLE"

	// EnvLogDir is the directory for the rotating log file.
	EnvLogDir = "SAMAY_LOG_DIR"

	// EnvLogFormat is the log output format: text or json.
	EnvLogFormat = "SAMAY_LOG_FORMAT"

	// EnvLogLevel is the minimum log level.
	EnvLogLevel = "SAMAY_LOG_LEVEL"

	// EnvOAuthAuthURL is the OAuth authorization endpoint.
	EnvOAuthAuthURL = "SAMAY_OAUTH_AUTH_URL"

	// EnvOAuthClientID is the OAuth client ID.
	EnvOAuthClientID = "SAMAY_OAUTH_CLIENT_ID"

	// EnvOAuthClientSecret is the OAuth client secret.
	EnvOAuthClientSecret = "SAMAY_OAUTH_CLIENT_SECRET"

	// EnvOAuthRedirectURI is the loopback redirect URI for the authorization flow.
	EnvOAuthRedirectURI = "SAMAY_OAUTH_REDIRECT_URI"

	// EnvOAuthTokenPath is where the file token store keeps tokens.
	EnvOAuthTokenPath = "SAMAY_OAUTH_TOKEN_PATH"

	// EnvOAuthTokenURL is the OAuth token endpoint.
	EnvOAuthTokenURL = "SAMAY_OAUTH_TOKEN_URL"

	// EnvOTLPEndpoint is the collector endpoint for the otlp exporter.
	EnvOTLPEndpoint = "SAMAY_OTLP_ENDPOINT"

	// EnvServerTimeout is the HTTP timeout for backend requests.
	EnvServerTimeout = "SAMAY_SERVER_TIMEOUT"

	// EnvServerURL is the backend base URL.
	EnvServerURL = "SAMAY_SERVER_URL"

	// EnvSSMPrefix is the parameter path prefix used by the ssm cursor backend.
	EnvSSMPrefix = "SAMAY_SSM_PREFIX"

	// EnvStatusAddr is the listen address of the local status API.
	EnvStatusAddr = "SAMAY_STATUS_ADDR"

	// EnvSyncInterval is the time between scheduled passes.
	EnvSyncInterval = "SAMAY_SYNC_INTERVAL"

	// EnvSyncStatePath is the cursor state file used by the file cursor backend.
	EnvSyncStatePath = "SAMAY_SYNC_STATE_PATH"

	// EnvTokenBackend selects where tokens are stored: file or secretsmanager.
	EnvTokenBackend = "SAMAY_TOKEN_BACKEND"

	// EnvTokenSecretARN is the Secrets Manager ARN used by the secretsmanager token backend.
	EnvTokenSecretARN = "SAMAY_TOKEN_SECRET_ARN"

	// EnvTracingExporter selects the trace exporter: none, stdout or otlp.
	EnvTracingExporter = "SAMAY_TRACING_EXPORTER"
)

const (
	// CursorBackendDynamoDB stores cursors in a DynamoDB table.
	CursorBackendDynamoDB = "dynamodb"

	// CursorBackendFile stores cursors in a local JSON file.
	CursorBackendFile = "file"

	// CursorBackendSSM stores cursors in SSM Parameter Store.
	CursorBackendSSM = "ssm"

	// TokenBackendFile stores tokens in a local JSON file.
	TokenBackendFile = "file"

	// TokenBackendSecretsManager stores tokens in AWS Secrets Manager.
	TokenBackendSecretsManager = "secretsmanager"

	// placeholderClientID is the value shipped in the config template.
	placeholderClientID = "placeholder_client_id"
)

// Database holds ActivityWatch database settings.
type Database struct {
	// BatchSize is the number of events read per query.
	BatchSize int

	// Path is the SQLite database file.
	Path string

	// Timeout is how long reads wait on a locked database.
	Timeout time.Duration
}

// Logging holds log output settings.
type Logging struct {
	// Dir is the directory holding the rotating log file. Empty disables file output.
	Dir string

	// Format is text or json.
	Format string

	// Level is debug, info, warn or error.
	Level string

	// MaxAgeDays is how long rotated files are kept.
	MaxAgeDays int

	// MaxBackups is how many rotated files are kept.
	MaxBackups int

	// MaxSizeMB is the size at which the log file is rotated.
	MaxSizeMB int
}

// OAuth holds authorization server settings.
type OAuth struct {
	// AuthURL is the authorization endpoint.
	AuthURL string

	// ClientID is the OAuth client identifier.
	ClientID string

	// ClientSecret is the OAuth client secret. Optional for PKCE clients.
	ClientSecret string

	// RedirectURI is the loopback URI the browser returns to.
	RedirectURI string

	// Scopes are the requested scopes.
	Scopes []string

	// TokenPath is where the file token store keeps tokens.
	TokenPath string

	// TokenURL is the token endpoint.
	TokenURL string
}

// Server holds sync backend settings.
type Server struct {
	// BaseURL is the backend base URL.
	BaseURL string

	// HealthEndpoint is the path probed by status checks.
	HealthEndpoint string

	// SyncEndpoint is the path events are posted to.
	SyncEndpoint string

	// Timeout is the HTTP timeout for each request.
	Timeout time.Duration
}

// StatusAPI holds local status server settings.
type StatusAPI struct {
	// Addr is the listen address. Empty disables the server.
	Addr string

	// AllowedOrigins are the origin patterns accepted for WebSocket connections.
	AllowedOrigins []string
}

// Storage selects and configures persistence backends.
type Storage struct {
	// CursorBackend is file, ssm or dynamodb.
	CursorBackend string

	// DynamoDBTable is the table used by the dynamodb cursor backend.
	DynamoDBTable string

	// SSMPrefix is the parameter path prefix used by the ssm cursor backend.
	SSMPrefix string

	// TokenBackend is file or secretsmanager.
	TokenBackend string

	// TokenSecretARN is the secret used by the secretsmanager token backend.
	TokenSecretARN string
}

// Sync holds scheduling settings.
type Sync struct {
	// CrashPause is how long the scheduler waits after a pass panics.
	CrashPause time.Duration

	// Interval is the time between scheduled passes.
	Interval time.Duration

	// StateFilePath is the cursor file used by the file cursor backend.
	StateFilePath string

	// StopTimeout bounds how long stopping waits for an in-flight pass.
	StopTimeout time.Duration
}

// Tracing holds OpenTelemetry settings.
type Tracing struct {
	// Exporter is none, stdout or otlp.
	Exporter string

	// OTLPEndpoint is the collector endpoint for the otlp exporter.
	OTLPEndpoint string

	// SampleRate is the fraction of passes traced, from 0 to 1.
	SampleRate float64
}

// Settings holds all configuration for the application.
type Settings struct {
	// Database contains ActivityWatch database settings.
	Database Database

	// Logging contains log output settings.
	Logging Logging

	// OAuth contains authorization server settings.
	OAuth OAuth

	// Server contains sync backend settings.
	Server Server

	// StatusAPI contains local status server settings.
	StatusAPI StatusAPI

	// Storage contains persistence backend settings.
	Storage Storage

	// Sync contains scheduling settings.
	Sync Sync

	// Tracing contains OpenTelemetry settings.
	Tracing Tracing
}

// Defaults returns the built-in settings rooted at the user's home directory.
func Defaults() (Settings, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Settings{}, fmt.Errorf("getting home directory: %w", err)
	}
	return defaults(home), nil
}

// defaults returns the built-in settings rooted at home.
func defaults(home string) Settings {
	dir := filepath.Join(home, configDirName)

	return Settings{
		Database: Database{
			BatchSize: 1000,
			Path:      filepath.Join(home, "Library", "Application Support", "activitywatch", "aw-server", "peewee-sqlite.v2.db"),
			Timeout:   30 * time.Second,
		},
		Logging: Logging{
			Dir:        filepath.Join(dir, "logs"),
			Format:     "text",
			Level:      "info",
			MaxAgeDays: 28,
			MaxBackups: 5,
			MaxSizeMB:  10,
		},
		OAuth: OAuth{
			AuthURL:     "https://auth.example.com/oauth/authorize",
			RedirectURI: "http://127.0.0.1:54783/callback",
			Scopes:      []string{"read", "write"},
			TokenPath:   filepath.Join(dir, "tokens.json"),
			TokenURL:    "https://auth.example.com/oauth/token",
		},
		Server: Server{
			BaseURL:        "https://api.example.com",
			HealthEndpoint: "/v1/health",
			SyncEndpoint:   "/api/v1/events",
			Timeout:        30 * time.Second,
		},
		StatusAPI: StatusAPI{
			AllowedOrigins: []string{"127.0.0.1:*", "localhost:*"},
		},
		Storage: Storage{
			CursorBackend: CursorBackendFile,
			TokenBackend:  TokenBackendFile,
		},
		Sync: Sync{
			CrashPause:    60 * time.Second,
			Interval:      5 * time.Minute,
			StateFilePath: filepath.Join(dir, "sync_state.json"),
			StopTimeout:   10 * time.Second,
		},
		Tracing: Tracing{
			Exporter:   "none",
			SampleRate: 1,
		},
	}
}

// Load builds settings from defaults, the config file at path and
// environment variables, in that order of precedence. An empty path uses the
// default config file if it exists.
func Load(path string) (*Settings, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}
	return load(home, path, os.LookupEnv)
}

// load implements Load with an injectable home directory and environment.
func load(home string, path string, lookup func(string) (string, bool)) (*Settings, error) {
	cfg := defaults(home)

	if path == "" {
		defaultPath := filepath.Join(home, configDirName, configFileName)
		if _, err := os.Stat(defaultPath); err == nil {
			path = defaultPath
		}
	}

	if path != "" {
		if err := applyFile(&cfg, expandHome(home, path)); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	cfg.expandPaths(home)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyEnv overrides settings from SAMAY_* environment variables.
func applyEnv(cfg *Settings, lookup func(string) (string, bool)) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid integer %q", key, v))
				return
			}
			*dst = n
		}
	}

	str(EnvDBPath, &cfg.Database.Path)
	dur(EnvDBTimeout, &cfg.Database.Timeout)
	num(EnvDBBatchSize, &cfg.Database.BatchSize)

	dur(EnvSyncInterval, &cfg.Sync.Interval)
	str(EnvSyncStatePath, &cfg.Sync.StateFilePath)

	str(EnvLogDir, &cfg.Logging.Dir)
	str(EnvLogFormat, &cfg.Logging.Format)
	str(EnvLogLevel, &cfg.Logging.Level)

	str(EnvOAuthAuthURL, &cfg.OAuth.AuthURL)
	str(EnvOAuthClientID, &cfg.OAuth.ClientID)
	str(EnvOAuthClientSecret, &cfg.OAuth.ClientSecret)
	str(EnvOAuthRedirectURI, &cfg.OAuth.RedirectURI)
	str(EnvOAuthTokenPath, &cfg.OAuth.TokenPath)
	str(EnvOAuthTokenURL, &cfg.OAuth.TokenURL)

	str(EnvServerURL, &cfg.Server.BaseURL)
	dur(EnvServerTimeout, &cfg.Server.Timeout)

	str(EnvCursorBackend, &cfg.Storage.CursorBackend)
	str(EnvDynamoDBTable, &cfg.Storage.DynamoDBTable)
	str(EnvSSMPrefix, &cfg.Storage.SSMPrefix)
	str(EnvTokenBackend, &cfg.Storage.TokenBackend)
	str(EnvTokenSecretARN, &cfg.Storage.TokenSecretARN)

	str(EnvTracingExporter, &cfg.Tracing.Exporter)
	str(EnvOTLPEndpoint, &cfg.Tracing.OTLPEndpoint)

	str(EnvStatusAddr, &cfg.StatusAPI.Addr)

	return errors.Join(errs...)
}

// expandPaths resolves a leading ~ in every path setting.
func (s *Settings) expandPaths(home string) {
	s.Database.Path = expandHome(home, s.Database.Path)
	s.Logging.Dir = expandHome(home, s.Logging.Dir)
	s.OAuth.TokenPath = expandHome(home, s.OAuth.TokenPath)
	s.Sync.StateFilePath = expandHome(home, s.Sync.StateFilePath)
}

func (s *Settings) validate() error {
	var errs []error

	if s.Database.Path == "" {
		errs = append(errs, requiredError("database.path"))
	}
	if s.Database.BatchSize <= 0 {
		errs = append(errs, positiveError("database.batch_size"))
	}
	if s.Database.Timeout <= 0 {
		errs = append(errs, positiveError("database.timeout"))
	}

	if s.Sync.Interval <= 0 {
		errs = append(errs, positiveError("sync.interval"))
	}
	if s.Sync.CrashPause <= 0 {
		errs = append(errs, positiveError("sync.crash_pause"))
	}
	if s.Sync.StopTimeout <= 0 {
		errs = append(errs, positiveError("sync.stop_timeout"))
	}

	if s.OAuth.ClientID == "" || s.OAuth.ClientID == placeholderClientID {
		errs = append(errs, errors.New("oauth.client_id must be configured"))
	}
	if err := validateURL(s.OAuth.TokenURL); err != nil {
		errs = append(errs, fmt.Errorf("oauth.token_url: %w", err))
	}
	if err := validateURL(s.OAuth.AuthURL); err != nil {
		errs = append(errs, fmt.Errorf("oauth.auth_url: %w", err))
	}
	if err := validateURL(s.OAuth.RedirectURI); err != nil {
		errs = append(errs, fmt.Errorf("oauth.redirect_uri: %w", err))
	}

	if err := validateURL(s.Server.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("server.base_url: %w", err))
	}
	if s.Server.Timeout <= 0 {
		errs = append(errs, positiveError("server.timeout"))
	}

	switch s.Storage.CursorBackend {
	case CursorBackendFile:
		if s.Sync.StateFilePath == "" {
			errs = append(errs, requiredError("sync.state_file"))
		}
	case CursorBackendSSM:
		if s.Storage.SSMPrefix == "" {
			errs = append(errs, requiredError("storage.ssm_prefix"))
		}
	case CursorBackendDynamoDB:
		if s.Storage.DynamoDBTable == "" {
			errs = append(errs, requiredError("storage.dynamodb_table"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.cursor_backend: unknown backend %q", s.Storage.CursorBackend))
	}

	switch s.Storage.TokenBackend {
	case TokenBackendFile:
		if s.OAuth.TokenPath == "" {
			errs = append(errs, requiredError("oauth.token_path"))
		}
	case TokenBackendSecretsManager:
		if s.Storage.TokenSecretARN == "" {
			errs = append(errs, requiredError("storage.token_secret_arn"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.token_backend: unknown backend %q", s.Storage.TokenBackend))
	}

	switch strings.ToLower(s.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", s.Logging.Level))
	}
	switch s.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", s.Logging.Format))
	}

	switch s.Tracing.Exporter {
	case "none", "stdout":
	case "otlp":
		if s.Tracing.OTLPEndpoint == "" {
			errs = append(errs, requiredError("tracing.otlp_endpoint"))
		}
	default:
		errs = append(errs, fmt.Errorf("tracing.exporter: unknown exporter %q", s.Tracing.Exporter))
	}
	if s.Tracing.SampleRate < 0 || s.Tracing.SampleRate > 1 {
		errs = append(errs, errors.New("tracing.sample_rate must be between 0 and 1"))
	}

	return errors.Join(errs...)
}

// parseDuration accepts Go duration strings or a bare number of seconds.
func parseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return d, nil
}

// expandHome replaces a leading ~ with home.
func expandHome(home string, path string) string {
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

// validateURL checks that raw is an absolute http or https URL.
func validateURL(raw string) error {
	if raw == "" {
		return errors.New("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func positiveError(key string) error {
	return fmt.Errorf("%s must be positive", key)
}

func requiredError(key string) error {
	return fmt.Errorf("%s is required", key)
}
