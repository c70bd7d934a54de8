package collab

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// FileActivityLog is the default ActivityLog: an append-only
// JSON-lines file, following src/swan/logging/logger.go's
// open-append-write shape, generalized from SWAN decisions to MCP
// request/response events.
type FileActivityLog struct {
	mu      sync.Mutex
	file    *os.File
	lastIdx int
	events  []ActivityEvent
}

// NewFileActivityLog opens (creating if needed) the log file at path.
func NewFileActivityLog(path string) (*FileActivityLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open activity log: %w", err)
	}
	return &FileActivityLog{file: f}, nil
}

// Add implements ActivityLog.
func (l *FileActivityLog) Add(event ActivityEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	l.lastIdx = len(l.events) - 1
	l.writeLocked(event)
}

// PatchLastResponse implements ActivityLog: it amends the most
// recently added event with a response body and appends a corrected
// record, since the file is append-only.
func (l *FileActivityLog) PatchLastResponse(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lastIdx < 0 || l.lastIdx >= len(l.events) {
		return
	}
	l.events[l.lastIdx].ResponseBody = text
	l.writeLocked(l.events[l.lastIdx])
}

// SetServerStatus implements ActivityLog.
func (l *FileActivityLog) SetServerStatus(running bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	status := "stopped"
	if running {
		status = "running"
	}
	l.writeLocked(ActivityEvent{Method: "server_status", RequestBody: status})
}

// writeLocked must be called with l.mu held.
func (l *FileActivityLog) writeLocked(event ActivityEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		// Best-effort per §6: a logging failure must never affect
		// protocol behavior.
		return
	}
}

// Close releases the underlying file handle.
func (l *FileActivityLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
