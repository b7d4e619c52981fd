package backend

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDryRunClient_SendEvents(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	client := NewDryRunClient(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, client.SendEvents(context.Background(), "", "window", testEvents()))
	require.NoError(t, client.SendEvents(context.Background(), "", "afk", nil))

	batches, events := client.Sent()
	require.Equal(t, uint64(2), batches)
	require.Equal(t, uint64(2), events)

	out := buf.String()
	require.Contains(t, out, "[DRY-RUN] would send events")
	require.Contains(t, out, "bucket_id=window")
	require.Contains(t, out, "last_event_id=9")
}
