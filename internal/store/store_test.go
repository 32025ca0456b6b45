package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaminmoo/esplink/internal/protocol"
)

func openTestStore(t *testing.T, start time.Time) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	now := start
	s.now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	return s
}

func TestTranscriptID(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 30, 45, 0, time.UTC)

	id := TranscriptID(at, "aa:bb:cc:dd:ee:ff")
	assert.True(t, strings.HasPrefix(id, "20260301-123045-"), id)
	assert.Len(t, id, len("20260301-123045-")+8)
	assert.Equal(t, id, TranscriptID(at, "AA:BB:CC:DD:EE:FF"))
	assert.NotEqual(t, id, TranscriptID(at, "AA:BB:CC:DD:EE:00"))
	assert.NotEqual(t, id, TranscriptID(at.Add(time.Millisecond), "AA:BB:CC:DD:EE:FF"))
}

func TestShortHash(t *testing.T) {
	assert.Equal(t, "abcdef01", ShortHash("abcdef0123456789"))
	assert.Equal(t, "abc", ShortHash("abc"))
}

func TestRecordAndRead(t *testing.T) {
	s := openTestStore(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	rec, err := s.Begin("ESP32_Bluetooth", "AA:BB:CC:DD:EE:01")
	require.NoError(t, err)

	cmd, err := protocol.NewTextCommand("LED ON", protocol.OriginUser)
	require.NoError(t, err)
	rec.Sent(cmd)
	rec.Received(protocol.Notification{Seq: 1, Payload: []byte("OK"), ReceivedAt: time.Now()})
	rec.Received(protocol.Notification{Seq: 2, Payload: []byte{0x00, 0xff}, ReceivedAt: time.Now()})
	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close())

	entries, err := s.Get(rec.ID())
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, Sent, entries[0].Direction)
	assert.Equal(t, "LED ON", entries[0].Text)
	assert.Equal(t, "user", entries[0].Origin)
	assert.Equal(t, Received, entries[1].Direction)
	assert.Equal(t, uint64(1), entries[1].Seq)
	assert.False(t, entries[1].Binary)
	assert.Equal(t, "00FF", entries[2].Text)
	assert.True(t, entries[2].Binary)

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].Sent)
	assert.Equal(t, 2, list[0].Received)
	assert.False(t, list[0].EndedAt.IsZero())
	assert.True(t, list[0].EndedAt.After(list[0].StartedAt))
}

func TestListNewestFirst(t *testing.T) {
	s := openTestStore(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	first, err := s.Begin("one", "AA:BB:CC:DD:EE:01")
	require.NoError(t, err)
	require.NoError(t, first.Close())
	second, err := s.Begin("two", "AA:BB:CC:DD:EE:02")
	require.NoError(t, err)

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "two", list[0].Peripheral)
	assert.True(t, list[0].EndedAt.IsZero())
	assert.Equal(t, "one", list[1].Peripheral)

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, second.Close())
}

func TestGetToleratesTruncatedLine(t *testing.T) {
	s := openTestStore(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	rec, err := s.Begin("ESP32_Bluetooth", "AA:BB:CC:DD:EE:01")
	require.NoError(t, err)
	rec.Received(protocol.Notification{Seq: 1, Payload: []byte("OK"), ReceivedAt: time.Now()})
	require.NoError(t, rec.Close())

	f, err := os.OpenFile(filepath.Join(s.transcriptsDir, rec.ID()+".jsonl"), os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString(`{"at":"2026-03-01T12:00:0`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries, err := s.Get(rec.ID())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestGetUnknown(t *testing.T) {
	s := openTestStore(t, time.Now())
	_, err := s.Get("missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestNilRecorder(t *testing.T) {
	var rec *Recorder
	rec.Sent(protocol.Command{Payload: []byte("x")})
	rec.Received(protocol.Notification{Payload: []byte("x")})
	assert.Empty(t, rec.ID())
	assert.NoError(t, rec.Close())
}
