package ingestion

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"security-risk-lab/internal/domain"
	"security-risk-lab/internal/storage"
	"security-risk-lab/internal/storage/memory"
)

const sampleJSONL = `{"timestamp":"2024-01-15T10:30:00Z","source_ip":"10.0.0.1","event_type":"login","user_id":"alice"}

{"timestamp":"2024-01-15T10:31:00Z","source_ip":"10.0.0.2","event_type":"login","user_id":"bob","port":22}
not json
{"timestamp":"2024-01-15T10:32:00Z","source_ip":"10.0.0.3","event_type":"scan","bytes":512}
`

func collect(t *testing.T, ch <-chan domain.RawEvent) []domain.RawEvent {
	t.Helper()
	var out []domain.RawEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("timed out waiting for source to close")
			return out
		}
	}
}

func TestJSONLSource_SkipsBlankAndMalformedLines(t *testing.T) {
	src := NewJSONLSource("sample", strings.NewReader(sampleJSONL), JSONLOptions{Logger: zaptest.NewLogger(t)})

	ch, err := src.Stream(context.Background())
	require.NoError(t, err)
	events := collect(t, ch)

	require.Len(t, events, 3)
	assert.Equal(t, "alice", events[0].UserID)
	require.NotNil(t, events[1].Port)
	assert.Equal(t, 22, *events[1].Port)
	assert.Contains(t, events[2].Attributes, "bytes")

	assert.Equal(t, int64(4), src.Offset())
	assert.Equal(t, int64(1), src.Rejected())
}

func TestJSONLSource_ResumesAfterSkip(t *testing.T) {
	src := NewJSONLSource("sample", strings.NewReader(sampleJSONL), JSONLOptions{Skip: 2})

	ch, err := src.Stream(context.Background())
	require.NoError(t, err)
	events := collect(t, ch)

	require.Len(t, events, 1)
	assert.Equal(t, "10.0.0.3", events[0].SourceIP)
}

func TestJSONLFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(sampleJSONL), 0o644))

	src := NewJSONLFileSource(path, JSONLOptions{})
	assert.Equal(t, path, src.Name())

	ch, err := src.Stream(context.Background())
	require.NoError(t, err)
	assert.Len(t, collect(t, ch), 3)

	_, err = NewJSONLFileSource(filepath.Join(t.TempDir(), "missing.jsonl"), JSONLOptions{}).Stream(context.Background())
	assert.Error(t, err)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWSSource_ObjectsAndArrays(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		// subscribe message first
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if string(msg) != `{"subscribe":"events"}` {
			t.Errorf("unexpected subscribe message %s", msg)
		}

		conn.WriteMessage(websocket.TextMessage, []byte(`{"timestamp":"2024-01-15T10:30:00Z","source_ip":"10.0.0.1","event_type":"login"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`garbage`))
		conn.WriteMessage(websocket.TextMessage, []byte(`[{"timestamp":"2024-01-15T10:31:00Z","source_ip":"10.0.0.2","event_type":"scan"},{"timestamp":"2024-01-15T10:32:00Z","source_ip":"10.0.0.3","event_type":"scan"}]`))

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	cfg := DefaultWSConfig()
	cfg.Subscribe = []byte(`{"subscribe":"events"}`)
	src := NewWSSource(wsURL(server), &cfg, zaptest.NewLogger(t), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := src.Stream(ctx)
	require.NoError(t, err)

	var got []domain.RawEvent
	for len(got) < 3 {
		select {
		case ev := <-ch:
			got = append(got, ev)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out after %d events", len(got))
		}
	}
	assert.Equal(t, "10.0.0.1", got[0].SourceIP)
	assert.Equal(t, "10.0.0.3", got[2].SourceIP)

	cancel()
	collect(t, ch)
}

func TestWSSource_ReconnectsAfterDrop(t *testing.T) {
	var connections atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := connections.Add(1)
		conn.WriteMessage(websocket.TextMessage, []byte(`{"timestamp":"2024-01-15T10:30:00Z","source_ip":"10.0.0.1","event_type":"login","user_id":"conn`+string(rune('0'+n))+`"}`))
		if n == 1 {
			// drop the first connection
			conn.Close()
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	cfg := DefaultWSConfig()
	cfg.ReconnectDelay = 10 * time.Millisecond
	src := NewWSSource(wsURL(server), &cfg, zaptest.NewLogger(t), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := src.Stream(ctx)
	require.NoError(t, err)

	var users []string
	for len(users) < 2 {
		select {
		case ev := <-ch:
			users = append(users, ev.UserID)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out, got %v", users)
		}
	}
	assert.Equal(t, []string{"conn1", "conn2"}, users)
	assert.GreaterOrEqual(t, connections.Load(), int32(2))

	cancel()
	collect(t, ch)
}

func TestWSSource_DialFailure(t *testing.T) {
	src := NewWSSource("ws://127.0.0.1:1/feed", nil, nil, nil)
	_, err := src.Stream(context.Background())
	assert.Error(t, err)
}

func TestMerge(t *testing.T) {
	a := make(chan domain.RawEvent, 2)
	b := make(chan domain.RawEvent, 1)
	a <- domain.RawEvent{UserID: "a1"}
	a <- domain.RawEvent{UserID: "a2"}
	b <- domain.RawEvent{UserID: "b1"}
	close(a)
	close(b)

	got := collect(t, Merge(context.Background(), a, b))
	assert.Len(t, got, 3)
}

func TestTracker_AdvancesOverContiguousPrefix(t *testing.T) {
	ctx := context.Background()
	store := memory.NewCheckpointStore()

	tr, err := NewTracker(ctx, store, "events.jsonl")
	require.NoError(t, err)
	assert.Equal(t, int64(0), tr.Offset())

	// batch 1 finishes first: nothing saved yet
	require.NoError(t, tr.Complete(ctx, 1, 32))
	_, err = store.GetCheckpoint(ctx, "events.jsonl")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, tr.Complete(ctx, 0, 32))
	cp, err := store.GetCheckpoint(ctx, "events.jsonl")
	require.NoError(t, err)
	assert.Equal(t, int64(64), cp.Offset)

	require.NoError(t, tr.Complete(ctx, 2, 4))
	assert.Equal(t, int64(68), tr.Offset())

	// a new tracker resumes from the saved offset
	resumed, err := NewTracker(ctx, store, "events.jsonl")
	require.NoError(t, err)
	assert.Equal(t, int64(68), resumed.Offset())
}

func TestCollect(t *testing.T) {
	src := NewJSONLSource("sample", strings.NewReader(sampleJSONL), JSONLOptions{})
	events, err := Collect(context.Background(), src)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestCollect_OpenError(t *testing.T) {
	src := NewJSONLFileSource(filepath.Join(t.TempDir(), "missing.jsonl"), JSONLOptions{})
	_, err := Collect(context.Background(), src)
	assert.Error(t, err)
}
