package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	configDirName  = ".samay_sync"
	configFileName = "config.yaml"
)

// fileConfig represents the config file structure. Durations are written as
// Go duration strings or a bare number of seconds.
type fileConfig struct {
	Database  fileDatabase  `toml:"database"   yaml:"database"`
	Logging   fileLogging   `toml:"logging"    yaml:"logging"`
	OAuth     fileOAuth     `toml:"oauth"      yaml:"oauth"`
	Server    fileServer    `toml:"server"     yaml:"server"`
	StatusAPI fileStatusAPI `toml:"status_api" yaml:"status_api"`
	Storage   fileStorage   `toml:"storage"    yaml:"storage"`
	Sync      fileSync      `toml:"sync"       yaml:"sync"`
	Tracing   fileTracing   `toml:"tracing"    yaml:"tracing"`
}

type fileDatabase struct {
	BatchSize int    `toml:"batch_size" yaml:"batch_size"`
	Path      string `toml:"path"       yaml:"path"`
	Timeout   string `toml:"timeout"    yaml:"timeout"`
}

type fileLogging struct {
	Dir        string `toml:"dir"          yaml:"dir"`
	Format     string `toml:"format"       yaml:"format"`
	Level      string `toml:"level"        yaml:"level"`
	MaxAgeDays int    `toml:"max_age_days" yaml:"max_age_days"`
	MaxBackups int    `toml:"max_backups"  yaml:"max_backups"`
	MaxSizeMB  int    `toml:"max_size_mb"  yaml:"max_size_mb"`
}

type fileOAuth struct {
	AuthURL      string   `toml:"auth_url"      yaml:"auth_url"`
	ClientID     string   `toml:"client_id"     yaml:"client_id"`
	ClientSecret string   `toml:"client_secret" yaml:"client_secret"`
	RedirectURI  string   `toml:"redirect_uri"  yaml:"redirect_uri"`
	Scopes       []string `toml:"scopes"        yaml:"scopes"`
	TokenPath    string   `toml:"token_path"    yaml:"token_path"`
	TokenURL     string   `toml:"token_url"     yaml:"token_url"`
}

type fileServer struct {
	BaseURL        string `toml:"base_url"        yaml:"base_url"`
	HealthEndpoint string `toml:"health_endpoint" yaml:"health_endpoint"`
	SyncEndpoint   string `toml:"sync_endpoint"   yaml:"sync_endpoint"`
	Timeout        string `toml:"timeout"         yaml:"timeout"`
}

type fileStatusAPI struct {
	Addr           string   `toml:"addr"            yaml:"addr"`
	AllowedOrigins []string `toml:"allowed_origins" yaml:"allowed_origins"`
}

type fileStorage struct {
	CursorBackend  string `toml:"cursor_backend"   yaml:"cursor_backend"`
	DynamoDBTable  string `toml:"dynamodb_table"   yaml:"dynamodb_table"`
	SSMPrefix      string `toml:"ssm_prefix"       yaml:"ssm_prefix"`
	TokenBackend   string `toml:"token_backend"    yaml:"token_backend"`
	TokenSecretARN string `toml:"token_secret_arn" yaml:"token_secret_arn"`
}

type fileSync struct {
	CrashPause  string `toml:"crash_pause"  yaml:"crash_pause"`
	Interval    string `toml:"interval"     yaml:"interval"`
	StateFile   string `toml:"state_file"   yaml:"state_file"`
	StopTimeout string `toml:"stop_timeout" yaml:"stop_timeout"`
}

type fileTracing struct {
	Exporter     string   `toml:"exporter"      yaml:"exporter"`
	OTLPEndpoint string   `toml:"otlp_endpoint" yaml:"otlp_endpoint"`
	SampleRate   *float64 `toml:"sample_rate"   yaml:"sample_rate"`
}

// ConfigDir returns the samay-sync configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, configDirName), nil
}

// ConfigFilePath returns the path to the default config file.
func ConfigFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// LocalConfigExists checks if the default config file exists.
func LocalConfigExists() bool {
	configPath, err := ConfigFilePath()
	if err != nil {
		return false
	}
	_, err = os.Stat(configPath)
	return err == nil
}

// applyFile reads the config file at path and overlays its values on cfg.
// Files ending in .toml are parsed as TOML, everything else as YAML.
func applyFile(cfg *Settings, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s (run 'samaysync init' to create)", path)
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	var local fileConfig
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(data, &local)
	} else {
		err = yaml.Unmarshal(data, &local)
	}
	if err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	if err := local.apply(cfg); err != nil {
		return fmt.Errorf("invalid config file: %w", err)
	}
	return nil
}

// apply copies every set field onto cfg.
func (f *fileConfig) apply(cfg *Settings) error {
	var errs []error

	str := func(v string, dst *string) {
		if v != "" {
			*dst = v
		}
	}
	num := func(v int, dst *int) {
		if v != 0 {
			*dst = v
		}
	}
	dur := func(key string, v string, dst *time.Duration) {
		if v == "" {
			return
		}
		d, err := parseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
	list := func(v []string, dst *[]string) {
		if len(v) > 0 {
			*dst = v
		}
	}

	num(f.Database.BatchSize, &cfg.Database.BatchSize)
	str(f.Database.Path, &cfg.Database.Path)
	dur("database.timeout", f.Database.Timeout, &cfg.Database.Timeout)

	str(f.Logging.Dir, &cfg.Logging.Dir)
	str(f.Logging.Format, &cfg.Logging.Format)
	str(f.Logging.Level, &cfg.Logging.Level)
	num(f.Logging.MaxAgeDays, &cfg.Logging.MaxAgeDays)
	num(f.Logging.MaxBackups, &cfg.Logging.MaxBackups)
	num(f.Logging.MaxSizeMB, &cfg.Logging.MaxSizeMB)

	str(f.OAuth.AuthURL, &cfg.OAuth.AuthURL)
	str(f.OAuth.ClientID, &cfg.OAuth.ClientID)
	str(f.OAuth.ClientSecret, &cfg.OAuth.ClientSecret)
	str(f.OAuth.RedirectURI, &cfg.OAuth.RedirectURI)
	list(f.OAuth.Scopes, &cfg.OAuth.Scopes)
	str(f.OAuth.TokenPath, &cfg.OAuth.TokenPath)
	str(f.OAuth.TokenURL, &cfg.OAuth.TokenURL)

	str(f.Server.BaseURL, &cfg.Server.BaseURL)
	str(f.Server.HealthEndpoint, &cfg.Server.HealthEndpoint)
	str(f.Server.SyncEndpoint, &cfg.Server.SyncEndpoint)
	dur("server.timeout", f.Server.Timeout, &cfg.Server.Timeout)

	str(f.StatusAPI.Addr, &cfg.StatusAPI.Addr)
	list(f.StatusAPI.AllowedOrigins, &cfg.StatusAPI.AllowedOrigins)

	str(f.Storage.CursorBackend, &cfg.Storage.CursorBackend)
	str(f.Storage.DynamoDBTable, &cfg.Storage.DynamoDBTable)
	str(f.Storage.SSMPrefix, &cfg.Storage.SSMPrefix)
	str(f.Storage.TokenBackend, &cfg.Storage.TokenBackend)
	str(f.Storage.TokenSecretARN, &cfg.Storage.TokenSecretARN)

	dur("sync.crash_pause", f.Sync.CrashPause, &cfg.Sync.CrashPause)
	dur("sync.interval", f.Sync.Interval, &cfg.Sync.Interval)
	str(f.Sync.StateFile, &cfg.Sync.StateFilePath)
	dur("sync.stop_timeout", f.Sync.StopTimeout, &cfg.Sync.StopTimeout)

	str(f.Tracing.Exporter, &cfg.Tracing.Exporter)
	str(f.Tracing.OTLPEndpoint, &cfg.Tracing.OTLPEndpoint)
	if f.Tracing.SampleRate != nil {
		cfg.Tracing.SampleRate = *f.Tracing.SampleRate
	}

	return errors.Join(errs...)
}
