package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Transcript appends each answered turn to a text file for the length of
// a session.
type Transcript struct {
	mu   sync.Mutex
	path string
}

// NewTranscript creates an empty transcript file in dir.
func NewTranscript(dir, sessionID string) (*Transcript, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session: create transcript dir: %w", err)
	}
	path := filepath.Join(dir, "transcript_"+sessionID+".txt")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		return nil, fmt.Errorf("session: create transcript: %w", err)
	}
	return &Transcript{path: path}, nil
}

// Path returns the transcript file.
func (t *Transcript) Path() string { return t.path }

// Append records one turn and the assistant's answer.
func (t *Transcript) Append(turn, answer string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("session: open transcript: %w", err)
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%s\n\nAssistant: %s\n\n", turn, answer)
	return err
}

// Finalize returns the transcript text and removes the file.
func (t *Transcript) Finalize() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := os.ReadFile(t.path)
	if err != nil {
		return "", fmt.Errorf("session: read transcript: %w", err)
	}
	if err := os.Remove(t.path); err != nil {
		return string(data), fmt.Errorf("session: remove transcript: %w", err)
	}
	return string(data), nil
}
