package provider

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Call is one generation attempt as written to the call log.
type Call struct {
	Time       time.Time `json:"time"`
	TaskID     string    `json:"task_id"`
	Model      string    `json:"model"`
	System     string    `json:"system"`
	Prompt     string    `json:"prompt"`
	Response   string    `json:"response"`
	DurationMS int64     `json:"duration_ms"`
	Attempt    int       `json:"attempt"`
	Error      string    `json:"error,omitempty"`
}

// CallLog appends generation calls to a JSONL file. It is safe for
// concurrent use, and a nil *CallLog discards everything.
type CallLog struct {
	mu   sync.Mutex
	file *os.File
}

// OpenCallLog opens path for append, creating parent directories.
func OpenCallLog(path string) (*CallLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create call log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open call log: %w", err)
	}
	return &CallLog{file: f}, nil
}

// Record writes c as a single line.
func (l *CallLog) Record(c Call) {
	if l == nil {
		return
	}
	data, err := json.Marshal(c)
	if err != nil {
		return
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}
	_, _ = l.file.Write(data)
}

// Close closes the underlying file.
func (l *CallLog) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
