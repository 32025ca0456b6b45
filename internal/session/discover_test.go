package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaminmoo/esplink/internal/ble"
)

func TestDiscoverReturnsFirstMatch(t *testing.T) {
	s, a := newTestSession(t)
	a.Advertise(other, 0)
	a.Advertise(esp, 30*time.Millisecond)
	a.Advertise(peripheral("AA:BB:CC:DD:EE:03", "ESP32_Bluetooth", -80), 60*time.Millisecond)

	start := time.Now()
	p, err := s.Discover(context.Background(), MatchName("ESP32_Bluetooth"), time.Second)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, esp.ID, p.ID)
	assert.Less(t, elapsed, 500*time.Millisecond, "discover should return as soon as the match is seen")

	snap := s.Snapshot()
	assert.Equal(t, Connecting, snap.Phase)
	require.NotNil(t, snap.Peripheral)
	assert.Equal(t, esp.ID, snap.Peripheral.ID)
	assertConsistent(t, snap)
}

func TestDiscoverNotFound(t *testing.T) {
	s, a := newTestSession(t)
	a.Advertise(other, 0)

	start := time.Now()
	_, err := s.Discover(context.Background(), MatchName("ESP32_Bluetooth"), 80*time.Millisecond)

	assert.ErrorIs(t, err, ErrNotFound)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	snap := s.Snapshot()
	assert.Equal(t, Idle, snap.Phase)
	require.NotNil(t, snap.LastError)
	assert.Equal(t, KindNotFound, snap.LastError.Kind)
	assertConsistent(t, snap)
}

func TestDiscoverDefaultTimeout(t *testing.T) {
	s, _ := newTestSession(t, func(o *Options) { o.ScanTimeout = 50 * time.Millisecond })

	start := time.Now()
	_, err := s.Discover(context.Background(), MatchName("nobody"), 0)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDiscoverAdapterError(t *testing.T) {
	s, a := newTestSession(t)
	a.ScanErr = assert.AnError

	_, err := s.Discover(context.Background(), MatchName("ESP32_Bluetooth"), time.Second)
	assert.ErrorIs(t, err, ErrAdapter)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, Idle, s.Phase())
}

func TestDiscoverByService(t *testing.T) {
	s, a := newTestSession(t)
	withService := peripheral("AA:BB:CC:DD:EE:04", "", -70)
	withService.Services = []string{target.Service}
	a.Advertise(esp, 0)
	a.Advertise(withService, 10*time.Millisecond)

	p, err := s.Discover(context.Background(), MatchService(target.Service), time.Second)
	require.NoError(t, err)
	assert.Equal(t, withService.ID, p.ID)
}

func TestDiscoverAlreadyInProgress(t *testing.T) {
	s, _ := newTestSession(t)

	done := make(chan error, 1)
	go func() {
		_, err := s.Discover(context.Background(), MatchName("ESP32_Bluetooth"), 5*time.Second)
		done <- err
	}()
	require.Eventually(t, func() bool { return s.Phase() == Scanning }, time.Second, 5*time.Millisecond)

	_, err := s.Discover(context.Background(), MatchName("ESP32_Bluetooth"), time.Second)
	assert.ErrorIs(t, err, ErrAlreadyInProgress)
	_, err = s.Connect(context.Background(), esp, target)
	assert.ErrorIs(t, err, ErrAlreadyInProgress)

	// Disconnect cancels the scan.
	require.NoError(t, s.Disconnect(context.Background()))
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrCanceled)
	case <-time.After(time.Second):
		t.Fatal("discover did not return after disconnect")
	}
	assert.Equal(t, Idle, s.Phase())
	assertConsistent(t, s.Snapshot())
}

func TestDiscoverCallerCancel(t *testing.T) {
	s, _ := newTestSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := s.Discover(ctx, MatchName("ESP32_Bluetooth"), 5*time.Second)
	assert.ErrorIs(t, err, ErrCanceled)
	assert.Equal(t, Idle, s.Phase())
}

func TestDiscoverReplacesReadySession(t *testing.T) {
	s, a := newTestSession(t)
	_, link := connectReady(t, s, a)
	a.Advertise(esp, 0)

	_, err := s.Discover(context.Background(), MatchName("ESP32_Bluetooth"), time.Second)
	require.NoError(t, err)
	assert.False(t, link.IsConnected())
	assert.Equal(t, 1, link.Closes())
	assert.Equal(t, Connecting, s.Phase())
}

func TestSurvey(t *testing.T) {
	s, a := newTestSession(t)
	a.Advertise(esp, 0)
	a.Advertise(peripheral("AA:BB:CC:DD:EE:09", "", -20), 0)
	a.Advertise(other, 10*time.Millisecond)
	moved := esp
	moved.RSSI = -30
	a.Advertise(moved, 20*time.Millisecond)

	found, err := s.Survey(context.Background(), Filter{}, 80*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, esp.ID, found[0].ID)
	assert.Equal(t, -30, found[0].RSSI)
	assert.Equal(t, other.ID, found[1].ID)
	assert.Equal(t, Idle, s.Phase())
	assert.Nil(t, s.Snapshot().LastError)
}

func TestSurveyFiltered(t *testing.T) {
	s, a := newTestSession(t)
	a.Advertise(esp, 0)
	a.Advertise(other, 0)

	found, err := s.Survey(context.Background(), MatchNameFold("esp32_bluetooth"), 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, esp.ID, found[0].ID)
}

func TestFilters(t *testing.T) {
	p := peripheral("aa:bb:cc:dd:ee:01", "ESP32_Bluetooth", -50)
	p.Services = []string{target.Service}

	assert.True(t, Filter{}.Match(p))
	assert.Equal(t, "any", Filter{}.String())
	assert.True(t, MatchName("ESP32_Bluetooth").Match(p))
	assert.False(t, MatchName("esp32_bluetooth").Match(p))
	assert.True(t, MatchNameFold("esp32_bluetooth").Match(p))
	assert.True(t, MatchAddress("AA:BB:CC:DD:EE:01").Match(p))
	assert.True(t, MatchService("12345678-1234-5678-1234-56789ABCDEF0").Match(p))
	assert.False(t, MatchService("180a").Match(p))
	assert.True(t, MatchFunc("strong", func(p ble.Peripheral) bool { return p.RSSI > -60 }).Match(p))

	all := MatchAll(MatchName("ESP32_Bluetooth"), MatchService(target.Service))
	assert.True(t, all.Match(p))
	assert.Equal(t, []string{target.Service}, all.services)
	assert.Equal(t, `name="ESP32_Bluetooth" service=`+target.Service, all.String())
	assert.False(t, MatchAll(MatchName("ESP32_Bluetooth"), MatchService("180a")).Match(p))
}
