package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Store keeps transcripts of past sessions: one JSON-lines file per
// connection plus an index for quick listing.
type Store struct {
	baseDir        string
	transcriptsDir string
	indexPath      string

	mu  sync.Mutex // guards the index file
	now func() time.Time
}

// Index contains quick lookup information for all transcripts.
type Index struct {
	Transcripts map[string]IndexEntry `json:"transcripts"` // id -> entry
	UpdatedAt   time.Time             `json:"updated_at"`
}

// IndexEntry contains summary info for quick listing.
type IndexEntry struct {
	ID         string    `json:"id"`
	Peripheral string    `json:"peripheral"`
	Address    string    `json:"address"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at,omitzero"`
	Sent       int       `json:"sent"`
	Received   int       `json:"received"`
}

// ErrNotFound is returned for an unknown transcript ID.
var ErrNotFound = errors.New("transcript not found")

// DefaultPath returns the default store path (~/.esplink/transcripts).
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".esplink", "transcripts"), nil
}

// Open opens or creates a store at the given path.
func Open(path string) (*Store, error) {
	s := &Store{
		baseDir:        path,
		transcriptsDir: filepath.Join(path, "sessions"),
		indexPath:      filepath.Join(path, "index.json"),
		now:            time.Now,
	}

	if err := os.MkdirAll(s.transcriptsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create transcripts dir: %w", err)
	}

	return s, nil
}

// OpenDefault opens the store at the default path.
func OpenDefault() (*Store, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return Open(path)
}

// Begin starts a transcript for a connection to the named peripheral.
func (s *Store) Begin(peripheral, address string) (*Recorder, error) {
	started := s.now()
	id := TranscriptID(started, address)

	f, err := os.OpenFile(s.transcriptPath(id), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcript: %w", err)
	}

	entry := IndexEntry{
		ID:         id,
		Peripheral: peripheral,
		Address:    address,
		StartedAt:  started,
	}
	if err := s.updateIndex(entry); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to update index: %w", err)
	}

	return newRecorder(s, entry, f), nil
}

// Get reads every entry of a transcript.
func (s *Store) Get(id string) ([]Entry, error) {
	f, err := os.Open(s.transcriptPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	dec := json.NewDecoder(f)
	for dec.More() {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			// A crash mid-write leaves a partial last line.
			break
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// List returns all transcripts, newest first.
func (s *Store) List() ([]IndexEntry, error) {
	s.mu.Lock()
	index, err := s.loadIndex()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	entries := make([]IndexEntry, 0, len(index.Transcripts))
	for _, entry := range index.Transcripts {
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].StartedAt.After(entries[j].StartedAt)
	})

	return entries, nil
}

// Count returns the number of transcripts in the store.
func (s *Store) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	index, err := s.loadIndex()
	if err != nil {
		return 0, err
	}
	return len(index.Transcripts), nil
}

func (s *Store) transcriptPath(id string) string {
	return filepath.Join(s.transcriptsDir, id+".jsonl")
}

// loadIndex must be called with s.mu held.
func (s *Store) loadIndex() (*Index, error) {
	data, err := os.ReadFile(s.indexPath)
	if os.IsNotExist(err) {
		return &Index{Transcripts: make(map[string]IndexEntry)}, nil
	}
	if err != nil {
		return nil, err
	}

	var index Index
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, err
	}
	if index.Transcripts == nil {
		index.Transcripts = make(map[string]IndexEntry)
	}
	return &index, nil
}

func (s *Store) updateIndex(entry IndexEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return err
	}

	index.Transcripts[entry.ID] = entry
	index.UpdatedAt = s.now()

	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.indexPath, data, 0o644)
}
