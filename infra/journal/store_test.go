package journal

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/vda5050/core/protocol"
)

func sampleRecords(base time.Time) []Record {
	return []Record{
		{Time: base, Direction: Outbound, Kind: "state", Manufacturer: "m", SerialNumber: "a", HeaderID: 0, Topic: "uagv/v2/m/a/state", Payload: []byte(`{"headerId":0}`)},
		{Time: base.Add(time.Second), Direction: Inbound, Kind: "order", Manufacturer: "m", SerialNumber: "a", HeaderID: 7, Topic: "uagv/v2/m/a/order"},
		{Time: base.Add(2 * time.Second), Direction: Outbound, Kind: "connection", Manufacturer: "m", SerialNumber: "b", HeaderID: 1, Topic: "uagv/v2/m/b/connection", Retained: true},
	}
}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, r := range sampleRecords(base) {
		require.NoError(t, s.Append(ctx, r))
	}

	all, err := s.Query(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "state", all[0].Kind)
	assert.JSONEq(t, `{"headerId":0}`, string(all[0].Payload))
	assert.True(t, all[2].Retained)
	assert.Equal(t, uint32(7), all[1].HeaderID)
	assert.True(t, all[1].Time.Equal(base.Add(time.Second)))

	bySerial, err := s.Query(ctx, Query{SerialNumber: "a"})
	require.NoError(t, err)
	assert.Len(t, bySerial, 2)

	inbound, err := s.Query(ctx, Query{Direction: Inbound})
	require.NoError(t, err)
	require.Len(t, inbound, 1)
	assert.Equal(t, "order", inbound[0].Kind)

	window, err := s.Query(ctx, Query{Start: base.Add(500 * time.Millisecond), End: base.Add(1500 * time.Millisecond)})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, "uagv/v2/m/a/order", window[0].Topic)

	byKind, err := s.Query(ctx, Query{Kind: "connection"})
	require.NoError(t, err)
	assert.Len(t, byKind, 1)
}

func TestJSONLStore(t *testing.T) {
	s, err := NewJSONLStore(filepath.Join(t.TempDir(), "nested", "journal.jsonl"))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	exerciseStore(t, s)
}

func TestRotatingJSONLStore(t *testing.T) {
	s, err := NewRotatingJSONLStore(filepath.Join(t.TempDir(), "journal.jsonl"), 1, 2, 1)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	exerciseStore(t, s)
}

func TestRotatingJSONLStoreRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.jsonl")
	s, err := NewRotatingJSONLStore(path, 1, 5, 1)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	payload := make([]byte, 64*1024)
	for i := range payload {
		payload[i] = 'x'
	}
	ctx := context.Background()
	const n = 24
	for i := 0; i < n; i++ {
		require.NoError(t, s.Append(ctx, Record{Time: time.Now(), Direction: Outbound, Kind: "state", Topic: fmt.Sprint(i), Payload: payload}))
	}
	files, err := filepath.Glob(filepath.Join(dir, "journal*"))
	require.NoError(t, err)
	assert.Greater(t, len(files), 1, "expected rotated backups")

	all, err := s.Query(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, n)
	assert.Equal(t, "0", all[0].Topic)
	assert.Equal(t, fmt.Sprint(n-1), all[n-1].Topic)
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	exerciseStore(t, s)
}

func TestFromEnvelope(t *testing.T) {
	env := protocol.Envelope{
		Kind:    protocol.KindOrder,
		Header:  protocol.Header{HeaderID: 3},
		Target:  protocol.Identity{Manufacturer: "m", SerialNumber: "a"},
		Topic:   "uagv/v2/m/a/order",
		Payload: []byte("{}"),
	}
	at := time.Now()
	r := FromEnvelope(env, at)
	assert.Equal(t, Outbound, r.Direction)
	assert.Equal(t, "order", r.Kind)
	assert.Equal(t, "a", r.SerialNumber)
	assert.Equal(t, uint32(3), r.HeaderID)
	assert.Equal(t, at, r.Time)
}

func TestOpen(t *testing.T) {
	s, err := Open(Config{})
	require.NoError(t, err)
	assert.Nil(t, s)

	_, err = Open(Config{Backend: "jsonl"})
	assert.ErrorContains(t, err, "path required")
	_, err = Open(Config{Backend: "kafka", Path: "x"})
	assert.ErrorContains(t, err, "unknown backend")

	s, err = Open(Config{Backend: "sqlite", Path: filepath.Join(t.TempDir(), "j.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	cfg := Config{Backend: "jsonl_rotating", Path: "x"}
	cfg.SetDefaults()
	assert.Equal(t, 10, cfg.MaxSizeMB)
	assert.Equal(t, 3, cfg.MaxBackups)
}
