package ledger

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	apperr "dwatson385/ticketwatcher/pkg/errors"
)

const component = "ledger"

// entry is one line of the ledger file
type entry struct {
	Id     string    `json:"id"`
	SeenAt time.Time `json:"seen_at"`
}

// FileLedger implements Ledger backed by an append-only JSON-lines file.
// Entries are flushed and synced on every Record so a crash between cycles
// never loses an already-notified identifier.
type FileLedger struct {
	mu   sync.Mutex
	path string
	file *os.File
	seen map[string]time.Time
}

var _ Ledger = (*FileLedger)(nil)

// OpenFile opens (or creates) the ledger file at path. When ttl is
// positive, entries older than ttl are dropped and the file is compacted;
// this supports sites that recycle listing identifiers. A ttl of zero
// keeps everything forever.
func OpenFile(path string, ttl time.Duration) (*FileLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, apperr.NewLedger(component, "failed to create ledger directory", err)
	}

	seen, err := loadEntries(path)
	if err != nil {
		return nil, err
	}

	pruned := false
	if ttl > 0 {
		cutoff := time.Now().Add(-ttl)
		for id, at := range seen {
			if at.Before(cutoff) {
				delete(seen, id)
				pruned = true
			}
		}
	}

	if pruned {
		if err := rewrite(path, seen); err != nil {
			return nil, err
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, apperr.NewLedger(component, "failed to open ledger file", err)
	}

	return &FileLedger{path: path, file: f, seen: seen}, nil
}

// Contains reports whether id has already been recorded
func (l *FileLedger) Contains(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[id]
	return ok
}

// Record durably marks id as notified. The in-memory set is updated only
// after the entry is on disk, so Contains never returns true for an id
// that would be lost by a crash.
func (l *FileLedger) Record(id string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.seen[id]; ok {
		return nil
	}

	line, err := json.Marshal(entry{Id: id, SeenAt: at})
	if err != nil {
		return apperr.NewLedger(component, "failed to encode entry", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return apperr.NewLedger(component, "failed to append entry", err)
	}
	if err := l.file.Sync(); err != nil {
		return apperr.NewLedger(component, "failed to sync ledger file", err)
	}

	l.seen[id] = at
	return nil
}

// All returns every recorded identifier in sorted order
func (l *FileLedger) All() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.seen))
	for id := range l.seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close closes the underlying file. Safe to call multiple times.
func (l *FileLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// loadEntries reads the JSONL file, tolerating a missing file and
// skipping corrupt lines (a partial last line after a crash)
func loadEntries(path string) (map[string]time.Time, error) {
	seen := make(map[string]time.Time)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return seen, nil
		}
		return nil, apperr.NewLedger(component, "failed to read ledger file", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil || e.Id == "" {
			continue
		}
		seen[e.Id] = e.SeenAt
	}
	if err := scanner.Err(); err != nil {
		return nil, apperr.NewLedger(component, "failed to scan ledger file", err)
	}

	return seen, nil
}

// rewrite compacts the ledger file to the given entries
func rewrite(path string, seen map[string]time.Time) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return apperr.NewLedger(component, "failed to create compaction file", err)
	}

	w := bufio.NewWriter(f)
	for id, at := range seen {
		line, err := json.Marshal(entry{Id: id, SeenAt: at})
		if err != nil {
			f.Close()
			return apperr.NewLedger(component, "failed to encode entry", err)
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return apperr.NewLedger(component, "failed to flush compaction file", err)
	}
	if err := f.Close(); err != nil {
		return apperr.NewLedger(component, "failed to close compaction file", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return apperr.NewLedger(component, "failed to replace ledger file", err)
	}
	return nil
}
