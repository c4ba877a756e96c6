package ingest

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"killsense/internal/config"
	"killsense/internal/model"
	"killsense/internal/normalize"
)

func killJSON(id int64) string {
	return fmt.Sprintf(`{"killmail_id": %d, "killmail_time": "2026-03-01T18:22:05Z", "solar_system_id": 30000142, "victim": {"ship_type_id": 587}, "attackers": [{"character_id": 7, "final_blow": true}]}`, id)
}

func receive(t *testing.T, ch <-chan *model.Event) *model.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestSendNonBlockingDropsWhenFull(t *testing.T) {
	ch := make(chan *model.Event, 1)
	ev := &model.Event{KillID: 1}
	assert.True(t, SendNonBlocking(context.Background(), ch, ev, nil))
	assert.False(t, SendNonBlocking(context.Background(), ch, ev, nil))
}

func TestBackoffSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, BackoffSleep(ctx, time.Hour))
	assert.True(t, BackoffSleep(context.Background(), time.Millisecond))
}

func TestMemoryDeduper(t *testing.T) {
	d := NewMemoryDeduper(time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	assert.False(t, d.Seen(ctx, 1, now))
	assert.True(t, d.Seen(ctx, 1, now.Add(30*time.Second)))
	assert.False(t, d.Seen(ctx, 1, now.Add(2*time.Minute)))
	assert.False(t, d.Seen(ctx, 2, now))

	off := NewMemoryDeduper(0)
	assert.False(t, off.Seen(ctx, 1, now))
	assert.False(t, off.Seen(ctx, 1, now))
}

func TestMemoryDeduperCompacts(t *testing.T) {
	d := NewMemoryDeduper(time.Second)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := int64(0); i < 10000; i++ {
		d.Seen(context.Background(), i, now)
	}
	d.Seen(context.Background(), 99999, now.Add(time.Minute))
	assert.Equal(t, 1, d.Len())
}

func TestRedisDeduperFallsBackWhenUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	d := NewRedisDeduper(client, "test:", time.Minute, nil)
	defer d.Close()
	now := time.Now()
	assert.False(t, d.Seen(context.Background(), 5, now))
	assert.True(t, d.Seen(context.Background(), 5, now))
}

func TestNewDeduperDefaultsToMemory(t *testing.T) {
	d := NewDeduper(config.DedupeConfig{Window: time.Minute}, nil)
	_, ok := d.(*MemoryDeduper)
	assert.True(t, ok)
}

func TestRESTHandler(t *testing.T) {
	out := make(chan *model.Event, 4)
	h := NewRESTHandler(normalize.NewDecoder(nil), out, nil)

	body := "[" + killJSON(1) + `, {"bad": true}, ` + killJSON(2) + "]"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body)))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"accepted":2,"failed":1,"dropped":0}`, rec.Body.String())
	assert.Equal(t, "rest", receive(t, out).Source)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(`{"killmail_id": 4}`)))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(`[{`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRESTHandlerChannelFull(t *testing.T) {
	out := make(chan *model.Event)
	h := NewRESTHandler(normalize.NewDecoder(nil), out, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(killJSON(1))))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTCPStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := config.DefaultConfig()
	cfg.Ingest.TCPStream = config.TCPStreamConfig{Enabled: true, Addr: "127.0.0.1:0"}
	out := make(chan *model.Event, 4)
	ln := StartTCPStream(ctx, config.NewStatic(cfg), normalize.NewDecoder(nil), out, nil)
	require.NotNil(t, ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = fmt.Fprintf(conn, "%s\n\nnot json\n%s\n", killJSON(10), killJSON(11))
	require.NoError(t, err)

	assert.Equal(t, int64(10), receive(t, out).KillID)
	ev := receive(t, out)
	assert.Equal(t, int64(11), ev.KillID)
	assert.Equal(t, "tcp_stream", ev.Source)
}

func TestStartDisabledSources(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Ingest.REST.Enabled = false
	m := config.NewStatic(cfg)
	out := make(chan *model.Event, 1)
	dec := normalize.NewDecoder(nil)
	assert.Nil(t, StartREST(context.Background(), m, dec, out, nil))
	assert.Nil(t, StartTCPStream(context.Background(), m, dec, out, nil))
	StartKafka(context.Background(), m, dec, out, nil)
	StartFileTail(context.Background(), m, dec, out, nil)
	assert.Empty(t, out)
}

func TestFileTail(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	path := filepath.Join(t.TempDir(), "kills.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(killJSON(20)+"\n"), 0o644))

	cfg := config.DefaultConfig()
	cfg.Ingest.FileTail = config.FileTailConfig{Enabled: true, StartAtEnd: false, Files: []string{path}}
	out := make(chan *model.Event, 4)
	StartFileTail(ctx, config.NewStatic(cfg), normalize.NewDecoder(nil), out, nil)
	assert.Equal(t, int64(20), receive(t, out).KillID)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	// A line written in two parts is decoded once complete.
	line := killJSON(21)
	_, err = f.WriteString(line[:30])
	require.NoError(t, err)
	time.Sleep(300 * time.Millisecond)
	_, err = f.WriteString(line[30:] + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	ev := receive(t, out)
	assert.Equal(t, int64(21), ev.KillID)
	assert.Equal(t, "file_tail", ev.Source)
}
