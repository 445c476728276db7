// Package errlog keeps the persistent, append-only failure log of extraction
// runs. Each failure becomes one multi-line entry: a summary line, the error
// chain, and a stack trace when one was captured. Entries from concurrent
// workers are serialized and never interleave.
package errlog

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// DefaultFile is the error log file name used when none is configured.
const DefaultFile = "error_log.txt"

// Entry is one failure.
type Entry struct {
	RunID   string
	Summary string
	Err     error
	// Stack is an optional goroutine stack, set for recovered panics.
	Stack []byte
}

// Log appends entries to a file.
type Log struct {
	path string
	now  func() time.Time

	mu      sync.Mutex
	entries int
}

// New creates a Log writing to path. The file is created on first append.
func New(path string) *Log {
	if path == "" {
		path = DefaultFile
	}
	return &Log{path: path, now: time.Now}
}

// Path returns the log file path.
func (l *Log) Path() string { return l.path }

// Count returns the number of entries appended through l.
func (l *Log) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries
}

// Append writes e as one entry.
func (l *Log) Append(e Entry) error {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", l.now().Format(time.RFC3339))
	if e.RunID != "" {
		fmt.Fprintf(&b, " run=%s", e.RunID)
	}
	fmt.Fprintf(&b, " %s\n", e.Summary)

	for i, err := range chain(e.Err) {
		if i == 0 {
			fmt.Fprintf(&b, "  error: %s\n", err)
			continue
		}
		fmt.Fprintf(&b, "  caused by: %s\n", err)
	}
	if len(e.Stack) > 0 {
		b.WriteString("  stack:\n")
		for _, line := range strings.Split(strings.TrimRight(string(e.Stack), "\n"), "\n") {
			b.WriteString("    ")
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	b.WriteByte('\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("error log: %w", err)
	}
	w := bufio.NewWriter(f)
	if _, err := w.WriteString(b.String()); err != nil {
		f.Close()
		return fmt.Errorf("error log: %w", err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("error log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("error log: %w", err)
	}
	l.entries++
	return nil
}

// chain lists err and every error it wraps, outermost first. Joined errors
// are flattened in order.
func chain(err error) []error {
	if err == nil {
		return nil
	}
	var out []error
	var walk func(error)
	walk = func(e error) {
		for e != nil {
			out = append(out, e)
			if j, ok := e.(interface{ Unwrap() []error }); ok {
				for _, inner := range j.Unwrap() {
					walk(inner)
				}
				return
			}
			e = errors.Unwrap(e)
		}
	}
	walk(err)
	return out
}
