package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/uhyunpark/marketstake/pkg/app/stake"
)

// EventLog receives every published event
type EventLog interface {
	Append(e stake.Event) error
	Close() error
}

type NopEventLog struct{}

func NewNopEventLog() *NopEventLog                { return &NopEventLog{} }
func (l *NopEventLog) Append(_ stake.Event) error { return nil }
func (l *NopEventLog) Close() error               { return nil }

// FileEventLog appends events as JSON lines
type FileEventLog struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileEventLog(path string) (*FileEventLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileEventLog{f: f}, nil
}

func (l *FileEventLog) Append(e stake.Event) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event %d: %w", e.Seq, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = fmt.Fprintln(l.f, string(line))
	return err
}

func (l *FileEventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

var _ EventLog = (*NopEventLog)(nil)
var _ EventLog = (*FileEventLog)(nil)
