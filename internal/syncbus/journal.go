// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package syncbus

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// JOURNAL TRANSPORT
// =============================================================================

// JournalTransport is the transport of last resort: envelopes are appended
// as JSON lines to a shared file, and peers notice the append through an
// fsnotify watch on the containing directory. Only used when neither the
// channel broker nor the relay daemon is reachable.
type JournalTransport struct {
	path   string
	bus    *Bus
	logger *slog.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}

	mu     sync.Mutex
	offset int64
}

// OpenJournal starts watching the journal file and registers the transport
// as the bus fallback. Existing journal content is skipped; only appends
// made after the open are delivered.
func OpenJournal(bus *Bus, path string, logger *slog.Logger) (*JournalTransport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create journal watcher: %w", err)
	}
	// Watch the directory rather than the file so the watch survives the
	// file being rotated or created after us.
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch journal directory: %w", err)
	}

	t := &JournalTransport{
		path:    path,
		bus:     bus,
		logger:  logger,
		watcher: watcher,
		done:    make(chan struct{}),
	}
	if info, err := os.Stat(path); err == nil {
		t.offset = info.Size()
	}

	go t.watch()
	bus.AttachFallback(t)
	return t, nil
}

func (t *JournalTransport) Name() string { return "journal" }

// Publish appends the envelope as one JSON line. The file is opened with
// O_APPEND per write so concurrent peers interleave whole lines.
func (t *JournalTransport) Publish(_ context.Context, ev Event) error {
	line, err := ev.Marshal()
	if err != nil {
		return fmt.Errorf("encode journal entry: %w", err)
	}

	f, err := os.OpenFile(t.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	return nil
}

// Close stops the watcher.
func (t *JournalTransport) Close() error {
	err := t.watcher.Close()
	<-t.done
	return err
}

// =============================================================================
// WATCH LOOP
// =============================================================================

func (t *JournalTransport) watch() {
	defer close(t.done)
	for {
		select {
		case ev, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if ev.Name != t.path || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			t.drain()
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			t.logger.Warn("journal watch error", "path", t.path, "error", err)
		}
	}
}

// drain reads every complete line appended since the last read and hands
// the parsed envelopes to the bus. Echo and duplicate filtering happen in
// Deliver, so draining more than once per append is harmless.
func (t *JournalTransport) drain() {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.Open(t.path)
	if err != nil {
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return
	}
	if info.Size() < t.offset {
		// File was truncated or replaced; start over.
		t.offset = 0
	}
	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		t.offset += int64(len(line)) + 1
		if len(line) == 0 {
			continue
		}
		entry, err := UnmarshalEvent(line)
		if err != nil {
			t.logger.Debug("journal entry unreadable", "error", err)
			continue
		}
		t.bus.Deliver(entry)
	}
}
