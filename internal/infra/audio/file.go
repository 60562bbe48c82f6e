package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileRecorder treats each new audio file dropped into a directory as one
// utterance. Consumed files are renamed with a .processed suffix.
type FileRecorder struct {
	dir       string
	poll      time.Duration
	processed map[string]bool
	mu        sync.Mutex
}

func NewFileRecorder(dir string) *FileRecorder {
	return &FileRecorder{
		dir:       dir,
		poll:      500 * time.Millisecond,
		processed: make(map[string]bool),
	}
}

func (f *FileRecorder) Name() string {
	return "file"
}

func (f *FileRecorder) Record(ctx context.Context) ([]byte, error) {
	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return nil, fmt.Errorf("creating audio dir: %w", err)
	}

	ticker := time.NewTicker(f.poll)
	defer ticker.Stop()

	for {
		data, err := f.checkForNewFile()
		if err != nil {
			return nil, err
		}
		if data != nil {
			return data, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (f *FileRecorder) checkForNewFile() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("reading dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		ext := filepath.Ext(entry.Name())
		if ext != ".wav" && ext != ".mp3" && ext != ".m4a" && ext != ".webm" {
			continue
		}

		path := filepath.Join(f.dir, entry.Name())
		if f.processed[path] {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading file %s: %w", path, err)
		}

		f.processed[path] = true
		_ = os.Rename(path, path+".processed")

		return data, nil
	}

	return nil, nil
}
