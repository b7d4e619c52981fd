package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/peteski22/samaysync/internal/auth"
	"github.com/peteski22/samaysync/internal/cursor"
	"github.com/peteski22/samaysync/internal/storage"
	syncer "github.com/peteski22/samaysync/internal/sync"
)

// writeTestConfig writes a config file whose paths all live under a temp
// directory. An empty dbPath points at a database that does not exist.
func writeTestConfig(t *testing.T, dbPath string, serverURL string) string {
	t.Helper()

	dir := t.TempDir()
	if dbPath == "" {
		dbPath = filepath.Join(dir, "missing.db")
	}
	if serverURL == "" {
		serverURL = "http://127.0.0.1:1"
	}

	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`oauth:
  client_id: "client-id"
  token_path: %q
server:
  base_url: %q
database:
  path: %q
sync:
  state_file: %q
logging:
  dir: %q
  level: error
`,
		filepath.Join(dir, "tokens.json"),
		serverURL,
		dbPath,
		filepath.Join(dir, "sync_state.json"),
		filepath.Join(dir, "logs"),
	)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

// execute runs the root command with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)

	err := cmd.Execute()
	return out.String(), err
}

func TestRootCmd_InvalidOutput(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "cursor", "list", "--output", "xml")

	require.EqualError(t, err, `unknown output format "xml"`)
}

func TestRootCmd_MissingConfigFile(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "cursor", "list", "--config", filepath.Join(t.TempDir(), "nope.yaml"))

	require.Error(t, err)
	require.Contains(t, err.Error(), "loading config")
}

func TestCursorCmd(t *testing.T) {
	t.Parallel()

	configPath := writeTestConfig(t, "", "")

	out, err := execute(t, "cursor", "list", "--config", configPath)
	require.NoError(t, err)
	require.Equal(t, "No cursors.\n", out)

	out, err = execute(t, "cursor", "list", "--config", configPath, "-o", "json")
	require.NoError(t, err)
	var cursors []cursor.Cursor
	require.NoError(t, json.Unmarshal([]byte(out), &cursors))
	require.Empty(t, cursors)

	_, err = execute(t, "cursor", "show", "aw-watcher-afk_laptop", "--config", configPath)
	require.EqualError(t, err, "no cursor for bucket aw-watcher-afk_laptop")

	out, err = execute(t, "cursor", "reset", "aw-watcher-afk_laptop", "--config", configPath)
	require.NoError(t, err)
	require.Equal(t, "Reset cursor for aw-watcher-afk_laptop.\n", out)
}

func TestSyncCmd_MissingDatabase(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "sync", "--config", writeTestConfig(t, "", ""))

	require.Error(t, err)
	require.Contains(t, err.Error(), "opening activity database")
}

func TestPrintReport(t *testing.T) {
	t.Parallel()

	report := &syncer.Report{
		Buckets: []syncer.BucketResult{
			{BucketID: "aw-watcher-window_laptop", EventsSynced: 4, Synced: true},
			{BucketID: "aw-watcher-afk_laptop", Error: "server unavailable"},
		},
		BucketsSynced: 1,
		DryRun:        true,
		Errors:        []string{"aw-watcher-afk_laptop: server unavailable"},
		EventsSynced:  4,
		PassID:        "pass-1",
	}

	tests := map[string]struct {
		output string
		want   []string
	}{
		"text": {
			output: outputText,
			want: []string{
				"[DRY-RUN] Sync pass failed",
				"Buckets synced: 1/2",
				"Events synced:  4",
				"- aw-watcher-afk_laptop: server unavailable",
			},
		},
		"json": {
			output: outputJSON,
			want: []string{
				`"pass_id": "pass-1"`,
				`"events_synced": 4`,
				`"success": false`,
			},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var out bytes.Buffer
			require.NoError(t, printReport(&out, tc.output, report))

			for _, want := range tc.want {
				require.Contains(t, out.String(), want)
			}
		})
	}
}

func TestPrintStatus(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	printStatus(&out, statusView{
		Authenticated: true,
		Cursors: cursor.Summary{
			Buckets: map[string]cursor.BucketSummary{
				"aw-watcher-window_laptop": {EventsSynced: 10, Status: cursor.StatusSuccess},
				"aw-watcher-afk_laptop":    {LastError: "timeout", Status: cursor.StatusFailed},
			},
			OverallStatus:     cursor.OverallPartial,
			TotalEventsSynced: 10,
		},
		DatabaseError: "database not found: /tmp/x.db",
		ServerError:   "connection refused",
		ServerURL:     "https://api.example.com",
	})

	got := out.String()
	require.Contains(t, got, "Authenticated: yes")
	require.Contains(t, got, "https://api.example.com (unreachable: connection refused)")
	require.Contains(t, got, "unavailable: database not found")
	require.Contains(t, got, "Overall:       partial")
	require.Contains(t, got, "last error: timeout")
	require.Less(t, bytes.Index(out.Bytes(), []byte("aw-watcher-afk")), bytes.Index(out.Bytes(), []byte("aw-watcher-window")))
}

// writeActivityDB creates an activity database with one bucket holding two events.
func writeActivityDB(t *testing.T) string {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "activity.db")
	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	_, err = db.Exec(`
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
	VALUES ('aw-watcher-afk_laptop', '2024-01-01 08:00:00+00:00', 'afkstatus', 'aw-watcher-afk', 'laptop');
INSERT INTO eventmodel (bucket_id, timestamp, duration, datastr) VALUES
	(1, '2024-01-01 09:00:00+00:00', 60.0, '{"status":"not-afk"}'),
	(1, '2024-01-01 09:01:00+00:00', 30.0, '{"status":"afk"}');`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	return dbPath
}

func TestStatusCmd(t *testing.T) {
	t.Parallel()

	dbPath := writeActivityDB(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	out, err := execute(t, "status", "-o", "json", "--config", writeTestConfig(t, dbPath, srv.URL))
	require.NoError(t, err)

	var view statusView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	require.False(t, view.Authenticated)
	require.True(t, view.ServerHealthy)
	require.Empty(t, view.DatabaseError)
	require.NotNil(t, view.Database)
	require.Equal(t, int64(2), view.Database.EventCount)
	require.Len(t, view.Buckets, 1)
	require.Equal(t, "aw-watcher-afk_laptop", view.Buckets[0].ID)
	require.Equal(t, int64(2), view.Buckets[0].EventCount)
	require.NotNil(t, view.Buckets[0].LatestEvent)
	require.Equal(t, cursor.OverallNeverSynced, view.Cursors.OverallStatus)
}

func TestRunAgent_SyncOnStartFinishesAfterSignal(t *testing.T) {
	t.Parallel()

	var received atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
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

	configPath := writeTestConfig(t, writeActivityDB(t), srv.URL)
	tokens, err := storage.NewFileTokenStore(filepath.Join(filepath.Dir(configPath), "tokens.json"))
	require.NoError(t, err)
	require.NoError(t, tokens.Save(context.Background(), auth.TokenSet{
		AccessToken: "access-1",
		ExpiresAt:   time.Now().Add(time.Hour),
		TokenType:   "Bearer",
	}))

	// The signal has already arrived when the first pass starts.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	flags := &globalFlags{configPath: configPath, output: outputText}
	require.NoError(t, runAgent(ctx, &out, flags, false, true))

	require.Contains(t, out.String(), "Sync pass succeeded")
	require.Equal(t, int64(2), received.Load())
}
