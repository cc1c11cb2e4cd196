// Package archive keeps encoded snapshots of motion events on disk with a
// JSON index.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned for names that are not in the index.
var ErrNotFound = errors.New("event not found")

const indexFile = "events.json"

type Event struct {
	Name      string    `json:"name"`
	Encoding  string    `json:"encoding"`
	Score     float64   `json:"score"`
	Bytes     int       `json:"bytes"`
	Timestamp time.Time `json:"timestamp"`
}

// Archive stores event images in dir. Entries older than the retention
// period, or beyond MaxEvents, are removed together with their files.
type Archive struct {
	mu        sync.Mutex
	dir       string
	retention time.Duration
	maxEvents int
}

// New creates dir if needed. A zero retention or maxEvents disables that limit.
func New(dir string, retention time.Duration, maxEvents int) (*Archive, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &Archive{dir: dir, retention: retention, maxEvents: maxEvents}, nil
}

func (a *Archive) indexPath() string {
	return filepath.Join(a.dir, indexFile)
}

// readIndex loads the index; a missing or corrupted file reads as empty.
// a.mu must be held.
func (a *Archive) readIndex() ([]Event, error) {
	data, err := os.ReadFile(a.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return []Event{}, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return []Event{}, nil
	}

	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		slog.Warn("Archive index unreadable, starting fresh", "path", a.indexPath(), "error", err)
		return []Event{}, nil
	}
	return events, nil
}

func (a *Archive) writeIndex(events []Event) error {
	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return err
	}
	tmp := a.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, a.indexPath())
}

// Save writes data as a new event and prunes old ones.
func (a *Archive) Save(data []byte, encoding, ext string, score float64, ts time.Time) (Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ev := Event{
		Name:      fmt.Sprintf("motion-%s.%s", ts.UTC().Format("20060102T150405.000Z"), ext),
		Encoding:  encoding,
		Score:     score,
		Bytes:     len(data),
		Timestamp: ts,
	}
	if err := os.WriteFile(filepath.Join(a.dir, ev.Name), data, 0644); err != nil {
		return Event{}, fmt.Errorf("failed to write event image: %w", err)
	}

	events, err := a.readIndex()
	if err != nil {
		return Event{}, err
	}
	events = append(events, ev)
	events = a.prune(events, time.Now())

	if err := a.writeIndex(events); err != nil {
		return Event{}, fmt.Errorf("failed to write archive index: %w", err)
	}
	return ev, nil
}

// prune drops expired and surplus events and deletes their files.
func (a *Archive) prune(events []Event, now time.Time) []Event {
	var keep []Event
	cutoff := now.Add(-a.retention)
	for _, ev := range events {
		if a.retention > 0 && !ev.Timestamp.After(cutoff) {
			a.remove(ev)
			continue
		}
		keep = append(keep, ev)
	}
	if a.maxEvents > 0 && len(keep) > a.maxEvents {
		for _, ev := range keep[:len(keep)-a.maxEvents] {
			a.remove(ev)
		}
		keep = keep[len(keep)-a.maxEvents:]
	}
	if keep == nil {
		keep = []Event{}
	}
	return keep
}

func (a *Archive) remove(ev Event) {
	if err := os.Remove(filepath.Join(a.dir, ev.Name)); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove archived event", "name", ev.Name, "error", err)
	}
}

// Events lists the archived events, oldest first.
func (a *Archive) Events() ([]Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.readIndex()
}

// Path resolves an event name to its file. Only names in the index resolve.
func (a *Archive) Path(name string) (string, Event, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", Event{}, ErrNotFound
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	events, err := a.readIndex()
	if err != nil {
		return "", Event{}, err
	}
	for _, ev := range events {
		if ev.Name == name {
			return filepath.Join(a.dir, name), ev, nil
		}
	}
	return "", Event{}, ErrNotFound
}

// Open returns the image of an indexed event.
func (a *Archive) Open(name string) (*os.File, Event, error) {
	path, ev, err := a.Path(name)
	if err != nil {
		return nil, Event{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Event{}, ErrNotFound
		}
		return nil, Event{}, err
	}
	return f, ev, nil
}
