package session

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileStore writes transcripts and recordings into a directory.
type FileStore struct {
	Dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	return &FileStore{Dir: dir}, nil
}

// SaveTranscript writes text as UTF-8 into name.
func (f *FileStore) SaveTranscript(name, text string) (string, error) {
	return f.write(name, []byte(text))
}

// SaveRecording writes the WAV bytes into name.
func (f *FileStore) SaveRecording(name string, wav []byte) (string, error) {
	return f.write(name, wav)
}

func (f *FileStore) write(name string, data []byte) (string, error) {
	path := filepath.Join(f.Dir, filepath.Base(name))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	return path, nil
}
