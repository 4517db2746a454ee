package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BluceCao2018/funbenchmark.com/pkg/logging"
	"github.com/BluceCao2018/funbenchmark.com/pkg/models"
)

func newTestGateway(t *testing.T) *FileGateway {
	t.Helper()
	g, err := NewFileGateway(t.TempDir(), "http://localhost:18080/files", logging.NewLogger())
	require.NoError(t, err)
	return g
}

func TestReadResultsEmptyWhenAbsent(t *testing.T) {
	g := newTestGateway(t)

	store, err := g.ReadResults(context.Background())
	require.NoError(t, err)
	require.NotNil(t, store)
	require.Empty(t, store)
}

func TestWriteThenReadResults(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	in := models.ResultStore{
		"reactionTime": {
			{TimestampMs: 1700000000000, LatencyMs: 231, SubjectID: "anon"},
			{TimestampMs: 1700000001000, LatencyMs: 198, SubjectID: "anon"},
		},
	}
	require.NoError(t, g.WriteResults(ctx, in))

	out, err := g.ReadResults(ctx)
	require.NoError(t, err)
	require.Len(t, out["reactionTime"], 2)
	require.Equal(t, int64(198), out["reactionTime"][1].LatencyMs)
}

func TestWriteIsFullReplace(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	require.NoError(t, g.WriteResults(ctx, models.ResultStore{
		"reactionTime": {{LatencyMs: 100}},
		"cpt":          {{LatencyMs: 400}},
	}))
	// Last writer wins: a second write without "cpt" drops it
	require.NoError(t, g.WriteResults(ctx, models.ResultStore{
		"reactionTime": {{LatencyMs: 100}},
	}))

	out, err := g.ReadResults(ctx)
	require.NoError(t, err)
	require.NotContains(t, out, "cpt")
}

func TestMessagesRoundTrip(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	store, err := g.ReadMessages(ctx)
	require.NoError(t, err)
	require.Empty(t, store.Messages)

	store.Messages = append(store.Messages, models.TimedMessage{
		ID:                "m1",
		Title:             "hello",
		MessageType:       models.MessageTypeText,
		Content:           "secret",
		VisibleDurationMs: 500,
		MaxAttempts:       3,
		PerUserState: map[string]models.ViewerState{
			"v1": {AttemptsUsed: 1, LastReactionTimeMs: 300},
		},
	})
	require.NoError(t, g.WriteMessages(ctx, store))

	out, err := g.ReadMessages(ctx)
	require.NoError(t, err)
	msg := out.Find("m1")
	require.NotNil(t, msg)
	require.Equal(t, models.ViewerState{AttemptsUsed: 1, LastReactionTimeMs: 300}, msg.ViewerStateFor("v1"))
	require.Zero(t, msg.ViewerStateFor("unknown").AttemptsUsed, "absent viewer must default to zero attempts")
}

func TestStoreMediaReturnsURL(t *testing.T) {
	g := newTestGateway(t)

	url, err := g.StoreMedia(context.Background(), []byte("fake-png"), "image/png", "owner1", "pic.png")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "http://localhost:18080/files/media/owner1/"), "unexpected media URL %s", url)
	require.True(t, strings.HasSuffix(url, "-pic.png"), "expected filename suffix in URL, got %s", url)
}

func TestStoreMediaRejectsTraversal(t *testing.T) {
	dataDir := t.TempDir()
	g, err := NewFileGateway(dataDir, "http://localhost:18080/files", logging.NewLogger())
	require.NoError(t, err)
	ctx := context.Background()

	cases := []struct {
		owner    string
		filename string
	}{
		{"../../escape", "pic.png"},
		{"owner1", "../../../etc/cron.d/evil"},
		{"..", "pic.png"},
		{"a/b", "pic.png"},
		{`a\b`, "pic.png"},
		{"", "pic.png"},
		{"owner1", ""},
	}
	for _, tc := range cases {
		_, err := g.StoreMedia(ctx, []byte("x"), "image/png", tc.owner, tc.filename)
		require.ErrorIs(t, err, ErrInvalidMediaName, "owner %q filename %q", tc.owner, tc.filename)
	}

	// Nothing may have been written outside the media tree.
	entries, err := os.ReadDir(dataDir)
	require.NoError(t, err)
	for _, e := range entries {
		require.Equal(t, "media", e.Name(), "unexpected entry %s in data dir", e.Name())
	}
	parent, err := os.ReadDir(filepath.Dir(dataDir))
	require.NoError(t, err)
	for _, e := range parent {
		require.Equal(t, filepath.Base(dataDir), e.Name(), "file escaped the data dir: %s", e.Name())
	}
}

func TestPing(t *testing.T) {
	g := newTestGateway(t)
	require.NoError(t, g.Ping(context.Background()))
}
