package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vitaminmoo/esplink/internal/ble"
	"github.com/vitaminmoo/esplink/internal/ble/bletest"
	"github.com/vitaminmoo/esplink/internal/config"
	"github.com/vitaminmoo/esplink/internal/session"
	"github.com/vitaminmoo/esplink/internal/store"
)

func peripheral(id, name string, rssi int) ble.Peripheral {
	p := ble.NewPeripheral(id, name)
	p.RSSI = rssi
	return p
}

var (
	esp   = peripheral("AA:BB:CC:DD:EE:01", config.DefaultTargetName, -60)
	other = peripheral("AA:BB:CC:DD:EE:02", "Headphones", -40)
)

func newTestSession(t *testing.T) (*session.Session, *bletest.Adapter, *config.Config) {
	t.Helper()
	cfg := config.Defaults()
	cfg.ScanTimeout = 200 * time.Millisecond
	cfg.ConnectTimeout = time.Second
	cfg.Reconnect = config.Reconnect{Initial: 10 * time.Millisecond, Max: 20 * time.Millisecond}

	a := bletest.New(cfg.Target.Service, cfg.Target.Characteristic)
	opts := session.OptionsFromConfig(cfg)
	opts.Logger = zaptest.NewLogger(t)
	return session.New(a, opts), a, cfg
}

// whenReady runs fn with the n-th link once the session reached Ready on it.
func whenReady(sess *session.Session, a *bletest.Adapter, n int, fn func(*bletest.Link)) {
	go func() {
		deadline := time.Now().Add(3 * time.Second)
		for time.Now().Before(deadline) {
			if links := a.Links(); len(links) == n && sess.Phase() == session.Ready {
				fn(links[n-1])
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()
}

func TestScanListsNamedPeripheralsStrongestFirst(t *testing.T) {
	sess, a, cfg := newTestSession(t)
	a.Advertise(esp, 0)
	a.Advertise(other, 10*time.Millisecond)
	a.Advertise(ble.NewPeripheral("AA:BB:CC:DD:EE:03", ""), 10*time.Millisecond)

	var out bytes.Buffer
	require.NoError(t, Scan(t.Context(), sess, cfg, &out, false))

	text := out.String()
	assert.Contains(t, text, "Found 2 peripherals")
	assert.Less(t, strings.Index(text, "Headphones"), strings.Index(text, config.DefaultTargetName))
	assert.Contains(t, text, "*  2. "+config.DefaultTargetName)
	assert.Equal(t, session.Idle, sess.Phase())
}

func TestScanNothingFound(t *testing.T) {
	sess, _, cfg := newTestSession(t)

	var out bytes.Buffer
	require.NoError(t, Scan(t.Context(), sess, cfg, &out, true))
	assert.Contains(t, out.String(), "No peripherals found")
}

func TestExploreListsServices(t *testing.T) {
	sess, a, cfg := newTestSession(t)
	a.Advertise(esp, 0)
	a.Granted = 247
	a.Services.Add("180a", "2a29")

	var out bytes.Buffer
	require.NoError(t, Explore(t.Context(), sess, cfg, &out))

	text := out.String()
	assert.Contains(t, text, "MTU 247, max payload 244 bytes")
	assert.Contains(t, text, "Found 2 services")
	assert.Contains(t, text, cfg.Target.Characteristic+"  <- target")
	assert.Contains(t, text, "00002a29-0000-1000-8000-00805f9b34fb")
	assert.Equal(t, session.Idle, sess.Phase())
}

func TestSendWaitsForReplies(t *testing.T) {
	sess, a, cfg := newTestSession(t)
	a.Advertise(esp, 0)
	whenReady(sess, a, 1, func(l *bletest.Link) {
		for len(l.Writes()) == 0 {
			time.Sleep(5 * time.Millisecond)
		}
		l.Notify([]byte("Received: PING"))
	})

	var out bytes.Buffer
	require.NoError(t, Send(t.Context(), sess, cfg, &out, "PING", 500*time.Millisecond, nil))

	assert.Equal(t, []byte("PING"), a.Link().Writes()[0].Data)
	assert.Contains(t, out.String(), "→ PING")
	assert.Contains(t, out.String(), "Received: PING")
	assert.Equal(t, session.Idle, sess.Phase())
}

func TestSendRecordsTranscript(t *testing.T) {
	sess, a, cfg := newTestSession(t)
	a.Advertise(esp, 0)
	whenReady(sess, a, 1, func(l *bletest.Link) {
		for len(l.Writes()) == 0 {
			time.Sleep(5 * time.Millisecond)
		}
		l.Notify([]byte("OK"))
	})

	st, err := store.Open(t.TempDir())
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, Send(t.Context(), sess, cfg, &out, "LED ON", 300*time.Millisecond, st))

	list, err := st.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].Sent)
	assert.Equal(t, 1, list[0].Received)
	assert.Equal(t, esp.ID, list[0].Address)

	out.Reset()
	require.NoError(t, ListTranscripts(st, &out))
	assert.Contains(t, out.String(), list[0].ID)

	out.Reset()
	require.NoError(t, ShowTranscript(st, list[0].ID, &out))
	assert.Contains(t, out.String(), "→ LED ON")
	assert.Contains(t, out.String(), "← OK")

	require.ErrorIs(t, ShowTranscript(st, "nope", &out), store.ErrNotFound)
}

func TestSendRejectsBlankText(t *testing.T) {
	sess, a, cfg := newTestSession(t)
	a.Advertise(esp, 0)

	err := Send(t.Context(), sess, cfg, &bytes.Buffer{}, "   ", 0, nil)
	require.Error(t, err)
	assert.Zero(t, a.Scans())
}

func TestSendWithoutWaitDisconnects(t *testing.T) {
	sess, a, cfg := newTestSession(t)
	a.Advertise(esp, 0)

	var out bytes.Buffer
	require.NoError(t, Send(t.Context(), sess, cfg, &out, "PING", 0, nil))
	assert.Equal(t, 1, a.Link().Closes())
}

func TestSendTargetNotFound(t *testing.T) {
	sess, a, cfg := newTestSession(t)
	a.Advertise(other, 0)

	err := Send(t.Context(), sess, cfg, &bytes.Buffer{}, "PING", 0, nil)
	require.ErrorIs(t, err, session.ErrNotFound)
	assert.Zero(t, a.Connects())
}

func TestListenEndsOnLinkLoss(t *testing.T) {
	sess, a, cfg := newTestSession(t)
	a.Advertise(esp, 0)
	whenReady(sess, a, 1, func(l *bletest.Link) {
		l.Notify([]byte("hello"))
		time.Sleep(20 * time.Millisecond)
		l.Drop()
	})

	var out bytes.Buffer
	err := Listen(t.Context(), sess, cfg, &out, false, nil)
	require.Error(t, err)
	assert.Contains(t, out.String(), "hello")
	assert.Equal(t, session.Idle, sess.Phase())
}

func TestListenReconnects(t *testing.T) {
	sess, a, cfg := newTestSession(t)
	a.Advertise(esp, 0)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	whenReady(sess, a, 1, func(l *bletest.Link) { l.Drop() })
	whenReady(sess, a, 2, func(l *bletest.Link) {
		l.Notify([]byte("back"))
		time.Sleep(20 * time.Millisecond)
		cancel()
	})

	var out bytes.Buffer
	require.NoError(t, Listen(ctx, sess, cfg, &out, true, nil))

	text := out.String()
	assert.Contains(t, text, "Connection lost")
	assert.Contains(t, text, "back")
	assert.Equal(t, 2, a.Connects())
	assert.Equal(t, session.Idle, sess.Phase())
}

func TestListenCancelled(t *testing.T) {
	sess, a, cfg := newTestSession(t)
	a.Advertise(esp, 0)

	ctx, cancel := context.WithCancel(t.Context())
	whenReady(sess, a, 1, func(*bletest.Link) { cancel() })

	require.NoError(t, Listen(ctx, sess, cfg, &bytes.Buffer{}, false, nil))
	assert.Equal(t, session.Idle, sess.Phase())
}

func TestShowConfig(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, ShowConfig(config.Defaults(), &out))

	cfg, err := config.Parse(out.Bytes())
	require.NoError(t, err)
	assert.Equal(t, config.Defaults(), cfg)
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "esplink", "config.yaml")
	var out bytes.Buffer

	require.NoError(t, InitConfig(path, &out, nil))
	assert.Contains(t, out.String(), "Wrote "+path)

	_, err := config.Load(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("driver: goble\n"), 0o644))
	err = InitConfig(path, &out, func(string) bool { return false })
	require.EqualError(t, err, "aborted")

	require.NoError(t, InitConfig(path, &out, func(string) bool { return true }))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.DriverTinyGo, cfg.Driver)
}

func TestConfirmAction(t *testing.T) {
	var out bytes.Buffer
	assert.True(t, ConfirmAction(strings.NewReader("yes\n"), &out, "sure? "))
	assert.Equal(t, "sure? ", out.String())
	assert.False(t, ConfirmAction(strings.NewReader("y\n"), &out, "sure? "))
	assert.False(t, ConfirmAction(strings.NewReader(""), &out, "sure? "))
}
