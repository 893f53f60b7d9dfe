// Package breadcrumb appends session start and end records to a plain text
// log so an interrupted sync can be reconstructed after the fact.
//
// Each record is one line:
//
//	2026-01-02T15:04:05Z | branch=main | head=abc123 | action=start
//	2026-01-02T15:09:41Z | branch=main | head=def456 | action=end | merged=2
package breadcrumb

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Action tags a record.
type Action string

const (
	ActionStart Action = "start"
	ActionEnd   Action = "end"
)

// Entry is one breadcrumb record. Merged is only written for end records.
type Entry struct {
	Time   time.Time
	Branch string
	Head   string
	Action Action
	Merged *int
}

// String formats e as a log line without the trailing newline.
func (e Entry) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s | branch=%s | head=%s | action=%s",
		e.Time.UTC().Format(time.RFC3339), e.Branch, e.Head, e.Action)
	if e.Merged != nil {
		fmt.Fprintf(&b, " | merged=%d", *e.Merged)
	}
	return b.String()
}

// Sink receives breadcrumb records.
type Sink interface {
	Append(e Entry) error
}

// File appends records to a file. It never rewrites or truncates it.
type File struct {
	Path string
	mu   sync.Mutex
}

// NewFile returns a File sink writing to path.
func NewFile(path string) *File {
	return &File{Path: path}
}

// Append writes e as a single line.
func (f *File) Append(e Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return fmt.Errorf("failed to create breadcrumb directory: %w", err)
	}
	// #nosec G304 -- path comes from configuration
	fh, err := os.OpenFile(f.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open breadcrumb log %s: %w", f.Path, err)
	}
	if _, err := fh.WriteString(e.String() + "\n"); err != nil {
		_ = fh.Close()
		return fmt.Errorf("failed to write breadcrumb: %w", err)
	}
	return fh.Close()
}

// Start builds a start record.
func Start(at time.Time, branch, head string) Entry {
	return Entry{Time: at, Branch: branch, Head: head, Action: ActionStart}
}

// End builds an end record.
func End(at time.Time, branch, head string, merged int) Entry {
	return Entry{Time: at, Branch: branch, Head: head, Action: ActionEnd, Merged: &merged}
}

// Parse parses one log line.
func Parse(line string) (Entry, error) {
	fields := strings.Split(strings.TrimSpace(line), " | ")
	if len(fields) < 4 {
		return Entry{}, fmt.Errorf("malformed breadcrumb: %q", line)
	}
	at, err := time.Parse(time.RFC3339, fields[0])
	if err != nil {
		return Entry{}, fmt.Errorf("malformed breadcrumb timestamp: %w", err)
	}
	e := Entry{Time: at}
	for _, field := range fields[1:] {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			return Entry{}, fmt.Errorf("malformed breadcrumb field: %q", field)
		}
		switch key {
		case "branch":
			e.Branch = value
		case "head":
			e.Head = value
		case "action":
			e.Action = Action(value)
		case "merged":
			n, err := strconv.Atoi(value)
			if err != nil {
				return Entry{}, fmt.Errorf("malformed merged count: %w", err)
			}
			e.Merged = &n
		}
	}
	if e.Action != ActionStart && e.Action != ActionEnd {
		return Entry{}, fmt.Errorf("unknown breadcrumb action %q", e.Action)
	}
	return e, nil
}

// ReadFile returns every well-formed record in path, oldest first. A missing
// file yields no records. Malformed lines are skipped.
func ReadFile(path string) ([]Entry, error) {
	// #nosec G304 -- path comes from configuration
	fh, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = fh.Close() }()

	var entries []Entry
	sc := bufio.NewScanner(fh)
	for sc.Scan() {
		e, err := Parse(sc.Text())
		if err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, sc.Err()
}

// Unfinished returns the last start record when it has no matching end
// record after it, which means the session that wrote it was interrupted.
func Unfinished(entries []Entry) (Entry, bool) {
	for i := len(entries) - 1; i >= 0; i-- {
		switch entries[i].Action {
		case ActionEnd:
			return Entry{}, false
		case ActionStart:
			return entries[i], true
		}
	}
	return Entry{}, false
}

// Memory collects records in memory.
type Memory struct {
	mu      sync.Mutex
	Entries []Entry
	Err     error
}

// Append records e, or returns Err when set.
func (m *Memory) Append(e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Entries = append(m.Entries, e)
	return nil
}
