// Package credential supplies the bearer token attached to store requests.
package credential

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Source returns the current bearer token. An empty token means no
// Authorization header is sent.
type Source interface {
	Token() string
}

// Static is a fixed token.
type Static string

// Token implements Source.
func (s Static) Token() string { return string(s) }

// File reads the token from a file and reloads it when the file changes.
type File struct {
	path string

	mu    sync.RWMutex
	token string
}

// LoadFile reads the token file once. Call Watch to keep it fresh.
func LoadFile(path string) (*File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("credential: resolve path: %w", err)
	}
	f := &File{path: abs}
	if err := f.reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Token implements Source.
func (f *File) Token() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.token
}

func (f *File) reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("credential: read %s: %w", f.path, err)
	}
	token := strings.TrimSpace(string(data))
	f.mu.Lock()
	f.token = token
	f.mu.Unlock()
	return nil
}

// Watch reloads the token whenever the file is written or replaced, until ctx
// is cancelled. The parent directory is watched so editors that save through
// rename are picked up.
func (f *File) Watch(ctx context.Context, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("credential: watch: %w", err)
	}

	logger.Info("credential: watching token file", slog.String("path", f.path))

	// Writes often arrive as several events; settle before re-reading.
	var settle *time.Timer
	var settleCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if settle != nil {
				settle.Stop()
			}
			return nil

		case <-settleCh:
			if err := f.reload(); err != nil {
				logger.Warn("credential: reload failed", slog.String("error", err.Error()))
				continue
			}
			logger.Info("credential: token reloaded", slog.String("path", f.path))

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != f.path {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if settle == nil {
				settle = time.NewTimer(50 * time.Millisecond)
				settleCh = settle.C
			} else {
				settle.Reset(50 * time.Millisecond)
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("credential: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}
