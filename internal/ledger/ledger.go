// Package ledger persists the set of source addresses already downloaded
// into a destination directory, so batches resume incrementally across
// process restarts.
package ledger

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jku-tools/moodle-mirror/pkg/logging"
	"github.com/jku-tools/moodle-mirror/pkg/moodle"
)

// FileName is the per-directory ledger file, newline-delimited addresses.
const FileName = "urls.txt"

// Batch is the ledger of one download batch. Open it before scheduling,
// mark successes as they land, and Flush on every exit path; Flush is
// idempotent once the state on disk is current, so the deferred call after
// a completed write is a no-op.
type Batch struct {
	dir string
	log zerolog.Logger

	mu    sync.Mutex
	prev  []string
	seen  map[string]struct{}
	added []string
	dirty bool
}

// Open loads the ledger of dir. A missing ledger file is an empty ledger.
func Open(dir string) (*Batch, error) {
	b := &Batch{dir: dir, log: logging.Component("ledger"), seen: map[string]struct{}{}}
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		if os.IsNotExist(err) {
			return b, nil
		}
		return nil, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if _, dup := b.seen[line]; dup {
			continue
		}
		b.seen[line] = struct{}{}
		b.prev = append(b.prev, line)
	}
	return b, nil
}

// Seen returns the addresses recorded before this batch started.
func (b *Batch) Seen() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.prev...)
}

// Diff splits items into those not yet recorded and the raw set of
// previously recorded addresses.
func (b *Batch) Diff(items []moodle.Downloadable) (fresh []moodle.Downloadable, previous []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, item := range items {
		if _, ok := b.seen[item.SourceURL()]; !ok {
			fresh = append(fresh, item)
		}
	}
	return fresh, append([]string(nil), b.prev...)
}

// MarkDone records a successfully acquired address for the next Flush.
func (b *Batch) MarkDone(url string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, dup := b.seen[url]; dup {
		return
	}
	b.seen[url] = struct{}{}
	b.added = append(b.added, url)
	b.dirty = true
}

// Flush rewrites the ledger with the union of previously seen and newly
// completed addresses. It does nothing when the file is already current,
// which is what cancels the deferred interrupt-path write after a normal
// one has happened.
func (b *Batch) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.dirty {
		return nil
	}
	all := append(append([]string(nil), b.prev...), b.added...)
	if err := os.MkdirAll(b.dir, 0755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(b.dir, FileName), []byte(strings.Join(all, "\n")+"\n"), 0644); err != nil {
		return err
	}
	b.dirty = false
	b.log.Debug().Str("dir", b.dir).Int("entries", len(all)).Msg("Ledger flushed")
	return nil
}
