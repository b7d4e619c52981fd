package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/require"

	"github.com/peteski22/samaysync/internal/auth"
	"github.com/peteski22/samaysync/internal/config"
	"github.com/peteski22/samaysync/internal/storage"
)

const testSchema = `
CREATE TABLE bucketmodel (
	key INTEGER PRIMARY KEY AUTOINCREMENT,
	id VARCHAR(255) NOT NULL UNIQUE,
	created DATETIME NOT NULL,
	name VARCHAR(255),
	type VARCHAR(255) NOT NULL,
	client VARCHAR(255) NOT NULL,
	hostname VARCHAR(255) NOT NULL,
	datastr TEXT
);
CREATE TABLE eventmodel (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	bucket_id INTEGER NOT NULL REFERENCES bucketmodel (key),
	timestamp DATETIME NOT NULL,
	duration DECIMAL NOT NULL,
	datastr VARCHAR(255) NOT NULL
);
INSERT INTO bucketmodel (id, created, type, client, hostname)
	VALUES ('aw-watcher-window_laptop', '2024-01-01 08:00:00+00:00', 'currentwindow', 'aw-watcher-window', 'laptop');
INSERT INTO eventmodel (bucket_id, timestamp, duration, datastr) VALUES
	(1, '2024-01-01 09:00:00+00:00', 5.0, '{"app":"Terminal"}'),
	(1, '2024-01-01 09:00:05+00:00', 3.5, '{"app":"Firefox"}'),
	(1, '2024-01-01 09:00:09+00:00', 1.0, '{"app":"Terminal"}');`

// testEnv is a temp directory holding a database, token file and state file.
type testEnv struct {
	dir      string
	settings config.Settings
}

func newTestEnv(t *testing.T, serverURL string) *testEnv {
	t.Helper()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "peewee-sqlite.v2.db")

	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	_, err = db.Exec(testSchema)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	tokenPath := filepath.Join(dir, "tokens.json")
	tokens, err := storage.NewFileTokenStore(tokenPath)
	require.NoError(t, err)
	require.NoError(t, tokens.Save(context.Background(), auth.TokenSet{
		AccessToken:  "access-1",
		ExpiresAt:    time.Now().Add(time.Hour),
		RefreshToken: "refresh-1",
		TokenType:    "Bearer",
	}))

	return &testEnv{
		dir: dir,
		settings: config.Settings{
			Database: config.Database{BatchSize: 2, Path: dbPath, Timeout: time.Second},
			Logging:  config.Logging{Format: "text", Level: "error"},
			OAuth: config.OAuth{
				AuthURL:     serverURL + "/oauth/authorize",
				ClientID:    "client-id",
				RedirectURI: "http://127.0.0.1:54783/callback",
				TokenPath:   tokenPath,
				TokenURL:    serverURL + "/oauth/token",
			},
			Server: config.Server{
				BaseURL:        serverURL,
				HealthEndpoint: "/v1/health",
				SyncEndpoint:   "/api/v1/events",
				Timeout:        5 * time.Second,
			},
			Storage: config.Storage{
				CursorBackend: config.CursorBackendFile,
				TokenBackend:  config.TokenBackendFile,
			},
			Sync: config.Sync{
				CrashPause:    time.Second,
				Interval:      time.Hour,
				StateFilePath: filepath.Join(dir, "sync_state.json"),
				StopTimeout:   time.Second,
			},
			Tracing: config.Tracing{Exporter: "none"},
		},
	}
}

// eventServer accepts event batches and counts the events received.
func eventServer(t *testing.T, received *atomic.Int64) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/events" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer access-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var body struct {
			Events []json.RawMessage `json:"events"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		received.Add(int64(len(body.Events)))
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestNew_RunsPasses(t *testing.T) {
	t.Parallel()

	var received atomic.Int64
	srv := eventServer(t, &received)
	env := newTestEnv(t, srv.URL)
	ctx := context.Background()

	a, err := New(ctx, env.settings, Options{Console: io.Discard})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close(ctx)) })

	report := a.Scheduler.SyncNow(ctx)
	require.True(t, report.Success, "errors: %v", report.Errors)
	require.Equal(t, 3, report.EventsSynced)
	require.Equal(t, int64(3), received.Load())

	c, ok := a.Cursors.Get("aw-watcher-window_laptop")
	require.True(t, ok)
	require.Equal(t, int64(3), *c.LastSyncedEventID)

	_, err = os.Stat(env.settings.Sync.StateFilePath)
	require.NoError(t, err, "cursor file is written")

	report = a.Scheduler.SyncNow(ctx)
	require.True(t, report.Success)
	require.Zero(t, report.EventsSynced, "second pass has nothing new")
	require.Equal(t, int64(3), received.Load())

	server, err := a.StatusServer()
	require.NoError(t, err)
	require.NoError(t, server.Shutdown(ctx))
}

func TestNew_DryRun(t *testing.T) {
	t.Parallel()

	var received atomic.Int64
	srv := eventServer(t, &received)
	env := newTestEnv(t, srv.URL)
	ctx := context.Background()

	a, err := New(ctx, env.settings, Options{Console: io.Discard, DryRun: true})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close(ctx)) })

	report := a.Service.Run(ctx)
	require.True(t, report.Success, "errors: %v", report.Errors)
	require.True(t, report.DryRun)
	require.Equal(t, 3, report.EventsSynced)

	require.Zero(t, received.Load(), "nothing is sent")
	_, err = os.Stat(env.settings.Sync.StateFilePath)
	require.True(t, os.IsNotExist(err), "nothing is persisted")
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	failingAWS := func(context.Context) (aws.Config, error) {
		return aws.Config{}, errors.New("no credentials")
	}

	tests := map[string]struct {
		errMsg string
		modify func(s *config.Settings)
		opts   Options
	}{
		"missing database": {
			modify: func(s *config.Settings) { s.Database.Path = filepath.Join(filepath.Dir(s.Database.Path), "gone.db") },
			errMsg: "opening activity database",
		},
		"ssm cursors without aws": {
			modify: func(s *config.Settings) {
				s.Storage.CursorBackend = config.CursorBackendSSM
				s.Storage.SSMPrefix = "/samay/cursors"
			},
			opts:   Options{AWS: failingAWS},
			errMsg: "loading AWS config: no credentials",
		},
		"secrets manager tokens without aws": {
			modify: func(s *config.Settings) {
				s.Storage.TokenBackend = config.TokenBackendSecretsManager
				s.Storage.TokenSecretARN = "arn:aws:secretsmanager:eu-west-1:123456789012:secret:samay"
			},
			opts:   Options{AWS: failingAWS},
			errMsg: "loading AWS config: no credentials",
		},
		"unknown cursor backend": {
			modify: func(s *config.Settings) { s.Storage.CursorBackend = "redis" },
			errMsg: `unknown cursor backend "redis"`,
		},
		"unknown log level": {
			modify: func(s *config.Settings) { s.Logging.Level = "loud" },
			errMsg: "creating logger",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			env := newTestEnv(t, "http://127.0.0.1:1")
			tc.modify(&env.settings)
			tc.opts.Console = io.Discard

			a, err := New(context.Background(), env.settings, tc.opts)

			require.Error(t, err)
			require.Contains(t, err.Error(), tc.errMsg)
			require.Nil(t, a)
		})
	}
}

func TestBase(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "http://127.0.0.1:1")
	env.settings.Database.Path = filepath.Join(env.dir, "not-needed.db")
	ctx := context.Background()

	a, err := Base(ctx, env.settings, Options{Console: io.Discard})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close(ctx)) })

	require.True(t, a.Auth.IsAuthenticated(ctx))
	require.Nil(t, a.Source)

	_, err = a.StatusServer()
	require.EqualError(t, err, "scheduler is not configured")

	store, err := a.CursorStore(ctx)
	require.NoError(t, err)
	require.Empty(t, store.All())

	client, err := a.Backend()
	require.NoError(t, err)
	require.NotNil(t, client)
}

func TestBase_PicksUpTokensSavedByAnotherProcess(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "http://127.0.0.1:1")
	require.NoError(t, os.Remove(env.settings.OAuth.TokenPath))
	ctx := context.Background()

	a, err := Base(ctx, env.settings, Options{Console: io.Discard})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close(ctx)) })

	_, err = a.Auth.BearerToken(ctx)
	require.ErrorIs(t, err, auth.ErrAuthRequired)

	other, err := storage.NewFileTokenStore(env.settings.OAuth.TokenPath)
	require.NoError(t, err)
	require.NoError(t, other.Save(ctx, auth.TokenSet{
		AccessToken: "fresh",
		ExpiresAt:   time.Now().Add(time.Hour),
		TokenType:   "Bearer",
	}))

	token, err := a.Auth.BearerToken(ctx)
	require.NoError(t, err)
	require.Equal(t, "fresh", token)
}
