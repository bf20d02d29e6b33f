// Package logbuf keeps the rolling in-memory output shown by the control
// surface: raw terminal lines from supervised processes and the bridge's own
// log, and typed structured entries.
package logbuf

import (
	"bytes"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

const (
	// TerminalCapacity is the number of terminal lines kept.
	TerminalCapacity = 100

	// LogsCapacity is the number of structured entries kept.
	LogsCapacity = 1000
)

// Terminal is a bounded buffer of output lines. It implements io.Writer so
// it can sit behind log.SetOutput or a child process's stdout.
type Terminal struct {
	mu      sync.Mutex
	lines   []string
	max     int
	partial bytes.Buffer
}

// NewTerminal creates a terminal buffer holding at most max lines.
func NewTerminal(max int) *Terminal {
	if max <= 0 {
		max = TerminalCapacity
	}
	return &Terminal{max: max}
}

// Write splits p into lines. A trailing fragment without a newline is held
// until the rest of the line arrives.
func (t *Terminal) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.partial.Write(p)
	for {
		data := t.partial.Bytes()
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		t.appendLocked(strings.TrimRight(string(data[:i]), "\r"))
		t.partial.Next(i + 1)
	}
	return len(p), nil
}

// Append adds one line.
func (t *Terminal) Append(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.appendLocked(line)
}

// must be called with lock held
func (t *Terminal) appendLocked(line string) {
	t.lines = append(t.lines, line)
	if over := len(t.lines) - t.max; over > 0 {
		t.lines = append([]string(nil), t.lines[over:]...)
	}
}

// Lines returns a copy of the buffered lines, oldest first.
func (t *Terminal) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.lines...)
}

// Tail returns up to n of the most recent lines.
func (t *Terminal) Tail(n int) []string {
	lines := t.Lines()
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

// Clear drops all buffered lines.
func (t *Terminal) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = nil
	t.partial.Reset()
}

// Kind classifies a structured log entry.
type Kind string

const (
	KindInfo    Kind = "info"
	KindSuccess Kind = "success"
	KindWarning Kind = "warning"
	KindError   Kind = "error"
)

// Entry is one structured log record.
type Entry struct {
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
	Type      Kind   `json:"type"`
}

// Logs is a bounded buffer of structured entries.
type Logs struct {
	mu      sync.Mutex
	entries []Entry
	max     int
	now     func() time.Time
	echo    bool
}

// NewLogs creates a structured log buffer. When echo is true every entry is
// also written to the standard logger as "[TYPE] message".
func NewLogs(max int, echo bool) *Logs {
	if max <= 0 {
		max = LogsCapacity
	}
	return &Logs{max: max, now: time.Now, echo: echo}
}

// Add records an entry. Unknown kinds are stored as info.
func (l *Logs) Add(message string, kind Kind) Entry {
	switch kind {
	case KindInfo, KindSuccess, KindWarning, KindError:
	default:
		kind = KindInfo
	}
	entry := Entry{
		Timestamp: l.now().Format("15:04:05"),
		Message:   strings.TrimSpace(message),
		Type:      kind,
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	if over := len(l.entries) - l.max; over > 0 {
		l.entries = append([]Entry(nil), l.entries[over:]...)
	}
	l.mu.Unlock()

	if l.echo {
		log.Printf("[%s] %s", strings.ToUpper(string(kind)), entry.Message)
	}
	return entry
}

// Infof records an info entry.
func (l *Logs) Infof(format string, args ...any) {
	l.Add(fmt.Sprintf(format, args...), KindInfo)
}

// Successf records a success entry.
func (l *Logs) Successf(format string, args ...any) {
	l.Add(fmt.Sprintf(format, args...), KindSuccess)
}

// Warnf records a warning entry.
func (l *Logs) Warnf(format string, args ...any) {
	l.Add(fmt.Sprintf(format, args...), KindWarning)
}

// Errorf records an error entry.
func (l *Logs) Errorf(format string, args ...any) {
	l.Add(fmt.Sprintf(format, args...), KindError)
}

// Entries returns a copy of all entries, oldest first.
func (l *Logs) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

// Clear drops all entries.
func (l *Logs) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}
