// Package app assembles the sync agent's components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/peteski22/samaysync/internal/activitywatch"
	"github.com/peteski22/samaysync/internal/auth"
	"github.com/peteski22/samaysync/internal/backend"
	"github.com/peteski22/samaysync/internal/config"
	"github.com/peteski22/samaysync/internal/cursor"
	"github.com/peteski22/samaysync/internal/logging"
	"github.com/peteski22/samaysync/internal/statusapi"
	"github.com/peteski22/samaysync/internal/storage"
	syncer "github.com/peteski22/samaysync/internal/sync"
	"github.com/peteski22/samaysync/internal/tracing"
)

// tracerName names the tracer handed to the sync service.
const tracerName = "github.com/peteski22/samaysync/internal/sync"

// AWSLoader returns the AWS configuration used for cloud-backed storage.
type AWSLoader func(ctx context.Context) (aws.Config, error)

// Options holds optional settings for building components.
type Options struct {
	// AWS loads AWS configuration. Defaults to the SDK's default chain.
	AWS AWSLoader

	// Console receives log output. Defaults to os.Stderr.
	Console io.Writer

	// DryRun keeps cursors in memory and logs batches instead of sending them.
	DryRun bool
}

// App holds the wired components of the agent.
type App struct {
	Auth      *auth.Provider
	Cursors   *cursor.Store
	Logger    *slog.Logger
	Scheduler *syncer.Scheduler
	Service   *syncer.Service
	Settings  config.Settings
	Source    *activitywatch.Source

	aws     *awsClients
	closers []func(context.Context) error
	dryRun  bool
}

// awsClients lazily loads the AWS configuration once.
type awsClients struct {
	cfg    *aws.Config
	loader AWSLoader
}

func (c *awsClients) config(ctx context.Context) (aws.Config, error) {
	if c.cfg != nil {
		return *c.cfg, nil
	}
	cfg, err := c.loader(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	c.cfg = &cfg
	return cfg, nil
}

// Base builds the logger and auth provider only, for commands that do not
// touch the event database.
func Base(ctx context.Context, settings config.Settings, opts Options) (*App, error) {
	if opts.AWS == nil {
		opts.AWS = func(ctx context.Context) (aws.Config, error) {
			return awsconfig.LoadDefaultConfig(ctx)
		}
	}

	logger, logCloser, err := logging.New(logging.Config{
		Console:    opts.Console,
		Dir:        settings.Logging.Dir,
		Format:     settings.Logging.Format,
		Level:      settings.Logging.Level,
		MaxAgeDays: settings.Logging.MaxAgeDays,
		MaxBackups: settings.Logging.MaxBackups,
		MaxSizeMB:  settings.Logging.MaxSizeMB,
	})
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	a := &App{
		Logger:   logger,
		Settings: settings,
		aws:      &awsClients{loader: opts.AWS},
		closers:  []func(context.Context) error{func(context.Context) error { return logCloser.Close() }},
		dryRun:   opts.DryRun,
	}

	tokens, err := a.tokenStore(ctx)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	a.Auth, err = auth.New(auth.Config{
		AuthURL:      settings.OAuth.AuthURL,
		ClientID:     settings.OAuth.ClientID,
		ClientSecret: settings.OAuth.ClientSecret,
		Logger:       logger,
		RedirectURI:  settings.OAuth.RedirectURI,
		Scopes:       settings.OAuth.Scopes,
		Store:        tokens,
		TokenURL:     settings.OAuth.TokenURL,
	})
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("creating auth provider: %w", err)
	}

	return a, nil
}

// New builds every component needed to run passes.
func New(ctx context.Context, settings config.Settings, opts Options) (*App, error) {
	a, err := Base(ctx, settings, opts)
	if err != nil {
		return nil, err
	}

	if err := a.build(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	return a, nil
}

func (a *App) build(ctx context.Context) error {
	settings := a.Settings

	tp, err := tracing.New(ctx, tracing.Config{
		Exporter:     tracing.Exporter(settings.Tracing.Exporter),
		OTLPEndpoint: settings.Tracing.OTLPEndpoint,
		SampleRate:   settings.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("creating tracer: %w", err)
	}
	a.closers = append(a.closers, tp.Shutdown)

	if a.Cursors, err = a.CursorStore(ctx); err != nil {
		return err
	}

	source, err := activitywatch.Open(ctx, settings.Database.Path,
		activitywatch.WithBatchSize(settings.Database.BatchSize),
		activitywatch.WithBusyTimeout(settings.Database.Timeout),
		activitywatch.WithLogger(a.Logger),
	)
	if err != nil {
		return fmt.Errorf("opening activity database: %w", err)
	}
	a.Source = source
	a.closers = append(a.closers, func(context.Context) error { return source.Close() })

	var sender syncer.Sender
	if !a.dryRun {
		client, err := a.Backend()
		if err != nil {
			return fmt.Errorf("creating backend client: %w", err)
		}
		sender = client
	}

	a.Service, err = syncer.New(syncer.Config{
		Auth:    a.Auth,
		Cursors: a.Cursors,
		DryRun:  a.dryRun,
		Logger:  a.Logger,
		Sender:  sender,
		Source:  source,
		Tracer:  tp.Tracer(tracerName),
	})
	if err != nil {
		return fmt.Errorf("creating sync service: %w", err)
	}

	a.Scheduler, err = syncer.NewScheduler(a.Service, syncer.SchedulerConfig{
		CrashPause:  settings.Sync.CrashPause,
		Interval:    settings.Sync.Interval,
		StopTimeout: settings.Sync.StopTimeout,
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}

	return nil
}

// Backend returns a client for the configured sync server.
func (a *App) Backend() (*backend.Client, error) {
	return backend.NewClient(a.Settings.Server.BaseURL,
		backend.WithHealthEndpoint(a.Settings.Server.HealthEndpoint),
		backend.WithSyncEndpoint(a.Settings.Server.SyncEndpoint),
		backend.WithTimeout(a.Settings.Server.Timeout),
	)
}

// CursorStore opens the configured cursor store. In dry-run mode the
// persisted cursors are copied into memory and never written back.
func (a *App) CursorStore(ctx context.Context) (*cursor.Store, error) {
	if a.Cursors != nil {
		return a.Cursors, nil
	}

	b, err := a.cursorBackend(ctx)
	if err != nil {
		return nil, err
	}

	if a.dryRun {
		seed, err := b.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading cursors for dry run: %w", err)
		}
		b = storage.NewMemoryCursorBackend(seed)
	}

	store, err := cursor.New(ctx, cursor.Config{Backend: b, Logger: a.Logger})
	if err != nil {
		return nil, fmt.Errorf("creating cursor store: %w", err)
	}
	a.Cursors = store

	return store, nil
}

// StatusServer creates the local status API for the scheduler.
func (a *App) StatusServer() (*statusapi.Server, error) {
	if a.Scheduler == nil {
		return nil, errors.New("scheduler is not configured")
	}

	return statusapi.New(statusapi.Config{
		Addr:           a.Settings.StatusAPI.Addr,
		AllowedOrigins: a.Settings.StatusAPI.AllowedOrigins,
		Auth:           a.Auth,
		Cursors:        a.Cursors,
		DryRun:         a.dryRun,
		Interval:       a.Settings.Sync.Interval,
		Logger:         a.Logger,
		Scheduler:      a.Scheduler,
	})
}

// Close releases every resource in reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) cursorBackend(ctx context.Context) (cursor.Backend, error) {
	s := a.Settings.Storage

	switch s.CursorBackend {
	case config.CursorBackendFile:
		return storage.NewFileCursorBackend(a.Settings.Sync.StateFilePath, a.Logger)

	case config.CursorBackendSSM:
		cfg, err := a.aws.config(ctx)
		if err != nil {
			return nil, err
		}
		return storage.NewSSMCursorBackend(ssm.NewFromConfig(cfg), s.SSMPrefix)

	case config.CursorBackendDynamoDB:
		cfg, err := a.aws.config(ctx)
		if err != nil {
			return nil, err
		}
		return storage.NewDynamoDBCursorBackend(dynamodb.NewFromConfig(cfg), s.DynamoDBTable)

	default:
		return nil, fmt.Errorf("unknown cursor backend %q", s.CursorBackend)
	}
}

func (a *App) tokenStore(ctx context.Context) (auth.TokenStore, error) {
	s := a.Settings.Storage

	switch s.TokenBackend {
	case config.TokenBackendFile:
		return storage.NewFileTokenStore(a.Settings.OAuth.TokenPath)

	case config.TokenBackendSecretsManager:
		cfg, err := a.aws.config(ctx)
		if err != nil {
			return nil, err
		}
		return storage.NewSecretsManagerTokenStore(secretsmanager.NewFromConfig(cfg), s.TokenSecretARN)

	default:
		return nil, fmt.Errorf("unknown token backend %q", s.TokenBackend)
	}
}
