package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisconnectIdempotent(t *testing.T) {
	s, a := newTestSession(t)
	require.NoError(t, s.Disconnect(context.Background()))
	assert.Equal(t, Idle, s.Phase())

	_, link := connectReady(t, s, a)
	require.NoError(t, s.Disconnect(context.Background()))
	assert.Equal(t, Idle, s.Phase())
	require.NoError(t, s.Disconnect(context.Background()))
	assert.Equal(t, Idle, s.Phase())

	assert.Equal(t, 1, link.Closes())
	snap := s.Snapshot()
	assertConsistent(t, snap)
	assert.Nil(t, snap.LastError)
}

func TestDisconnectAlreadyDropped(t *testing.T) {
	s, a := newTestSession(t)
	_, link := connectReady(t, s, a)

	// Simulate a drop the watcher has not acted on yet by closing under it.
	s.mu.Lock()
	link.Drop()
	err := s.teardownLocked(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, link.Closes(), "a dropped link is not closed again")
}

func TestDisconnectCloseError(t *testing.T) {
	s, a := newTestSession(t)
	connectReady(t, s, a)
	a.CloseErr = assert.AnError

	err := s.Disconnect(context.Background())
	assert.ErrorIs(t, err, ErrDisconnect)
	assert.ErrorIs(t, err, assert.AnError)

	snap := s.Snapshot()
	assert.Equal(t, Idle, snap.Phase)
	assertConsistent(t, snap)
	require.NotNil(t, snap.LastError)
	assert.Equal(t, KindDisconnect, snap.LastError.Kind)
}

func TestLinkLossTearsDown(t *testing.T) {
	s, a := newTestSession(t)
	events, unsub := s.Subscribe()
	defer unsub()
	_, link := connectReady(t, s, a)

	ended := make(chan struct{})
	seq := s.Notifications()
	go func() {
		defer close(ended)
		for range seq {
		}
	}()

	link.Drop()
	require.Eventually(t, func() bool { return s.Phase() == Idle }, time.Second, 5*time.Millisecond)

	select {
	case <-ended:
	case <-time.After(time.Second):
		t.Fatal("notification sequence did not end on link loss")
	}

	snap := s.Snapshot()
	assertConsistent(t, snap)
	require.NotNil(t, snap.LastError)
	assert.Equal(t, KindLinkLost, snap.LastError.Kind)

	var last Event
	for e := range drainChan(events) {
		last = e
	}
	assert.Equal(t, Idle, last.Phase)
	assert.ErrorIs(t, last.Err, ErrLinkLost)
}

func TestCloseReleasesAdapter(t *testing.T) {
	s, a := newTestSession(t)
	_, link := connectReady(t, s, a)

	require.NoError(t, s.Close(context.Background()))
	assert.True(t, a.Closed())
	assert.False(t, link.IsConnected())
	assert.Equal(t, Idle, s.Phase())
}

func TestSubscribeUnsubscribe(t *testing.T) {
	s, a := newTestSession(t)
	events, unsub := s.Subscribe()
	unsub()
	unsub()

	connectReady(t, s, a)
	_, open := <-events
	assert.False(t, open)
}

// drainChan yields buffered events without blocking.
func drainChan(ch <-chan Event) func(func(Event) bool) {
	return func(yield func(Event) bool) {
		for {
			select {
			case e, ok := <-ch:
				if !ok || !yield(e) {
					return
				}
			default:
				return
			}
		}
	}
}
