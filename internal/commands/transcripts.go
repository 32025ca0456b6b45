package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/vitaminmoo/esplink/internal/store"
)

// ListTranscripts prints the recorded sessions, newest first.
func ListTranscripts(st *store.Store, out io.Writer) error {
	entries, err := st.List()
	if err != nil {
		return fmt.Errorf("failed to read transcripts: %w", err)
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No transcripts recorded")
		return nil
	}

	fmt.Fprintf(out, "%d transcripts:\n\n", len(entries))
	for _, e := range entries {
		duration := "open"
		if !e.EndedAt.IsZero() {
			duration = e.EndedAt.Sub(e.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(out, "  %s  %-20s %4d sent %5d received  %s\n",
			e.ID, e.Peripheral, e.Sent, e.Received, duration)
	}
	return nil
}

// ShowTranscript prints one recorded session.
func ShowTranscript(st *store.Store, id string, out io.Writer) error {
	entries, err := st.Get(id)
	if err != nil {
		return err
	}
	for _, e := range entries {
		arrow := "←"
		if e.Direction == store.Sent {
			arrow = "→"
		}
		fmt.Fprintf(out, "%s %s %s\n", e.At.Local().Format("15:04:05.000"), arrow, e.Text)
	}
	return nil
}
