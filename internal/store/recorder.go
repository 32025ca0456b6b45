package store

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/vitaminmoo/esplink/internal/protocol"
	"github.com/vitaminmoo/esplink/internal/util"
)

// Direction says which way an entry travelled.
type Direction string

const (
	Sent     Direction = "sent"
	Received Direction = "received"
)

// Entry is one line of a transcript.
type Entry struct {
	At        time.Time `json:"at"`
	Direction Direction `json:"dir"`
	Seq       uint64    `json:"seq,omitempty"`
	Origin    string    `json:"origin,omitempty"`
	Text      string    `json:"text"`
	Binary    bool      `json:"binary,omitempty"`
}

// Recorder appends to one transcript. A nil *Recorder records nothing, so
// callers can pass one around unconditionally.
type Recorder struct {
	store *Store

	mu    sync.Mutex
	entry IndexEntry
	f     *os.File
	enc   *json.Encoder
	err   error
}

func newRecorder(s *Store, entry IndexEntry, f *os.File) *Recorder {
	return &Recorder{store: s, entry: entry, f: f, enc: json.NewEncoder(f)}
}

// ID returns the transcript ID, or "" for a nil recorder.
func (r *Recorder) ID() string {
	if r == nil {
		return ""
	}
	return r.entry.ID
}

// Received records a notification.
func (r *Recorder) Received(n protocol.Notification) {
	if r == nil {
		return
	}
	r.write(Entry{
		At:        n.ReceivedAt,
		Direction: Received,
		Seq:       n.Seq,
		Text:      n.Text(),
		Binary:    !n.IsText(),
	}, func(e *IndexEntry) { e.Received++ })
}

// Sent records a command written to the peripheral.
func (r *Recorder) Sent(cmd protocol.Command) {
	if r == nil {
		return
	}
	r.write(Entry{
		At:        r.store.now(),
		Direction: Sent,
		Origin:    cmd.Origin.String(),
		Text:      util.Printable(cmd.Payload),
		Binary:    !util.IsTextData(cmd.Payload),
	}, func(e *IndexEntry) { e.Sent++ })
}

func (r *Recorder) write(e Entry, count func(*IndexEntry)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil || r.f == nil {
		return
	}
	if err := r.enc.Encode(e); err != nil {
		r.err = fmt.Errorf("failed to write transcript: %w", err)
		return
	}
	count(&r.entry)
}

// Close finishes the transcript and reports the first write error, if any.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return r.err
	}

	closeErr := r.f.Close()
	r.f = nil
	r.entry.EndedAt = r.store.now()
	if err := r.store.updateIndex(r.entry); err != nil && r.err == nil {
		r.err = fmt.Errorf("failed to update index: %w", err)
	}
	if closeErr != nil && r.err == nil {
		r.err = fmt.Errorf("failed to close transcript: %w", closeErr)
	}
	return r.err
}
