package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/chatstream/event"
	"github.com/c360/chatstream/sink"
)

func testEvents() []event.Event {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return []event.Event{
		{Type: event.TypeChatMessage, Channel: "alpha", Timestamp: ts, SenderLogin: "u1", Text: "hello"},
		{Type: event.TypeChatMessage, Channel: "beta", Timestamp: ts, SenderLogin: "u2", Text: "world"},
		{Type: event.TypeChatMessage, Channel: "alpha", Timestamp: ts.Add(time.Minute), SenderLogin: "u1", Text: "again"},
	}
}

func TestCommitWritesPerChannelDayFiles(t *testing.T) {
	root := t.TempDir()
	s, err := New("file", Config{Root: root, Format: "orl"}, nil)
	require.NoError(t, err)
	defer s.Close(context.Background())

	require.NoError(t, s.Commit(context.Background(), sink.NewBatch(testEvents())))
	require.NoError(t, s.Close(context.Background()))

	alpha, err := os.ReadFile(filepath.Join(root, "alpha", "2025-03-01.txt"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(alpha), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "[2025-03-01 12:00:00.000 UTC] u1: hello", lines[0])
	assert.Equal(t, "[2025-03-01 12:01:00.000 UTC] u1: again", lines[1])

	beta, err := os.ReadFile(filepath.Join(root, "beta", "2025-03-01.txt"))
	require.NoError(t, err)
	assert.Equal(t, "[2025-03-01 12:00:00.000 UTC] u2: world\n", string(beta))
}

func TestCommitJSONLRoundTrips(t *testing.T) {
	root := t.TempDir()
	s, err := New("file", Config{Root: root, Format: "jsonl"}, nil)
	require.NoError(t, err)

	events := testEvents()[:1]
	require.NoError(t, s.Commit(context.Background(), sink.NewBatch(events)))
	require.NoError(t, s.Close(context.Background()))

	data, err := os.ReadFile(filepath.Join(root, "alpha", "2025-03-01.jsonl"))
	require.NoError(t, err)

	var decoded event.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &decoded))
	assert.Equal(t, events[0].Text, decoded.Text)
	assert.Equal(t, events[0].Timestamp, decoded.Timestamp)
}

func TestControlPolicyComment(t *testing.T) {
	root := t.TempDir()
	s, err := New("file", Config{Root: root, Format: "orl", ControlPolicy: "comment"}, nil)
	require.NoError(t, err)

	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	batch := sink.NewBatch([]event.Event{
		{Type: event.TypeClearChat, Channel: "alpha", Timestamp: ts, TargetLogin: "baduser"},
	})
	require.NoError(t, s.Commit(context.Background(), batch))
	require.NoError(t, s.Close(context.Background()))

	data, err := os.ReadFile(filepath.Join(root, "alpha", "2025-03-01.txt"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# "))
	assert.Contains(t, string(data), "baduser permanently banned")
}

func TestControlPolicySkipWritesNothing(t *testing.T) {
	root := t.TempDir()
	s, err := New("file", Config{Root: root, Format: "orl"}, nil)
	require.NoError(t, err)

	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	batch := sink.NewBatch([]event.Event{
		{Type: event.TypeClearChat, Channel: "alpha", Timestamp: ts, TargetLogin: "baduser"},
	})
	require.NoError(t, s.Commit(context.Background(), batch))
	require.NoError(t, s.Close(context.Background()))

	_, err = os.Stat(filepath.Join(root, "alpha"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileCacheEviction(t *testing.T) {
	root := t.TempDir()
	s, err := New("file", Config{Root: root, Format: "jsonl", MaxOpenFiles: 1}, nil)
	require.NoError(t, err)

	require.NoError(t, s.Commit(context.Background(), sink.NewBatch(testEvents())))
	require.NoError(t, s.Close(context.Background()))

	// Both channels got their files despite the single-handle cache.
	_, err = os.Stat(filepath.Join(root, "alpha", "2025-03-01.jsonl"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "beta", "2025-03-01.jsonl"))
	require.NoError(t, err)
}

func TestChannelNamesStayUnderRoot(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "root")
	s, err := New("file", Config{Root: root, Format: "jsonl"}, nil)
	require.NoError(t, err)

	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	batch := sink.NewBatch([]event.Event{
		{Type: event.TypeChatMessage, Channel: "../escaped", Timestamp: ts, SenderLogin: "u1", Text: "out"},
		{Type: event.TypeChatMessage, Channel: "..", Timestamp: ts, SenderLogin: "u1", Text: "dots"},
	})
	require.NoError(t, s.Commit(context.Background(), batch))
	require.NoError(t, s.Close(context.Background()))

	// Nothing lands outside the root directory.
	_, err = os.Stat(filepath.Join(base, "escaped"))
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(filepath.Join(root, ".._escaped", "2025-03-01.jsonl"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "_unknown", "2025-03-01.jsonl"))
	require.NoError(t, err)
}

func TestConfigValidation(t *testing.T) {
	_, err := New("file", Config{Format: "orl"}, nil)
	assert.Error(t, err)

	_, err = New("file", Config{Root: "/tmp/x", Format: "xml"}, nil)
	assert.Error(t, err)

	_, err = New("file", Config{Root: "/tmp/x", Format: "orl", ControlPolicy: "mangle"}, nil)
	assert.Error(t, err)
}
