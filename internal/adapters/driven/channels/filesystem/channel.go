// Package filesystem implements the FILE_WATCHER intake channel: one or
// more watch directories observed through fsnotify, with a scan-based
// Poll as the fallback for events missed while not running.
package filesystem

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/custodia-labs/docdispatch/internal/core/domain"
	"github.com/custodia-labs/docdispatch/internal/core/ports/driven"
	"github.com/custodia-labs/docdispatch/internal/logger"
)

// settleDelay is how long a file must stay quiet after its last write
// event before it is emitted. Copies into the watch directory arrive as
// a burst of writes; emitting mid-copy would fingerprint half a file.
const settleDelay = 500 * time.Millisecond

var (
	_ driven.Channel = (*Channel)(nil)
	_ driven.Watcher = (*Channel)(nil)
)

// fileStamp identifies one observed version of a file.
type fileStamp struct {
	size    int64
	modTime time.Time
}

// Channel watches local directories for new documents.
type Channel struct {
	dirs []string

	mu   sync.Mutex
	seen map[string]fileStamp
}

// New creates a filesystem channel over the given watch directories.
func New(dirs []string) *Channel {
	return &Channel{
		dirs: append([]string(nil), dirs...),
		seen: make(map[string]fileStamp),
	}
}

// Name implements driven.Channel.
func (c *Channel) Name() domain.SourceChannel {
	return domain.ChannelFileWatcher
}

// Check verifies every watch directory exists.
func (c *Channel) Check(_ context.Context) error {
	if len(c.dirs) == 0 {
		return fmt.Errorf("no watch directories configured")
	}
	for _, dir := range c.dirs {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("watch directory %s: %w", dir, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("watch directory %s is not a directory", dir)
		}
	}
	return nil
}

// Poll scans the watch directories and returns events for files not yet
// emitted. Subdirectories and hidden files are skipped.
func (c *Channel) Poll(ctx context.Context) ([]domain.IntakeEvent, error) {
	var events []domain.IntakeEvent
	for _, dir := range c.dirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", dir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if event, ok := c.eventFor(path); ok {
				events = append(events, event)
			}
		}
	}
	return events, nil
}

// Watch pushes events as files appear, until the context is cancelled.
func (c *Channel) Watch(ctx context.Context, events chan<- domain.IntakeEvent) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	for _, dir := range c.dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}

	// Per-path settle timers; each write resets the timer.
	var mu sync.Mutex
	pending := make(map[string]*time.Timer)

	emit := func(path string) {
		mu.Lock()
		delete(pending, path)
		mu.Unlock()

		if event, ok := c.eventFor(path); ok {
			select {
			case events <- event:
			case <-ctx.Done():
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			for _, timer := range pending {
				timer.Stop()
			}
			mu.Unlock()
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if strings.HasPrefix(filepath.Base(ev.Name), ".") {
				continue
			}
			path := ev.Name
			mu.Lock()
			if timer, exists := pending[path]; exists {
				timer.Reset(settleDelay)
			} else {
				pending[path] = time.AfterFunc(settleDelay, func() { emit(path) })
			}
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("filesystem watch error: %v", err)
		}
	}
}

// eventFor builds the intake event for path if this version of the file
// has not been emitted yet.
func (c *Channel) eventFor(path string) (domain.IntakeEvent, bool) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return domain.IntakeEvent{}, false
	}

	stamp := fileStamp{size: info.Size(), modTime: info.ModTime()}
	c.mu.Lock()
	if prev, ok := c.seen[path]; ok && prev == stamp {
		c.mu.Unlock()
		return domain.IntakeEvent{}, false
	}
	c.seen[path] = stamp
	c.mu.Unlock()

	return domain.IntakeEvent{
		SourceChannel: domain.ChannelFileWatcher,
		OriginalName:  filepath.Base(path),
		SizeBytes:     info.Size(),
		ReceivedAt:    time.Now().UTC(),
		ChannelMetadata: map[string]string{
			"source_path": path,
		},
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, true
}
