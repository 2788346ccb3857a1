package history

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Event records one volume change applied by the coordinator. Appended as a
// JSON line; the log is an audit trail, never read back by the agent.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	TabID     int       `json:"tab_id,omitempty"`
	Domain    string    `json:"domain,omitempty"`
	Volume    int       `json:"volume"`
	Source    string    `json:"source"` // "user", "propagate", "navigate", "reset"
}

// Log is an async JSONL writer for volume-change events. Writes never block
// the caller; a full buffer drops the record with a warning.
type Log struct {
	writeCh chan Event
	done    chan struct{}
	wg      sync.WaitGroup

	mu     sync.Mutex
	logger *lumberjack.Logger
}

// NewLog creates a Log writing to dir/volume_history.jsonl with rotation.
func NewLog(dir string, bufferSize, maxSizeMB int) *Log {
	l := &Log{
		writeCh: make(chan Event, bufferSize),
		done:    make(chan struct{}),
		logger: &lumberjack.Logger{
			Filename:   filepath.Join(dir, "volume_history.jsonl"),
			MaxSize:    maxSizeMB,
			MaxBackups: 10,
			MaxAge:     30,
			LocalTime:  false,
		},
	}

	l.wg.Add(1)
	go l.writeLoop()
	return l
}

// Record queues a volume-change event. Fire and forget.
func (l *Log) Record(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	select {
	case l.writeCh <- ev:
	case <-l.done:
	default:
		slog.Warn("history buffer full, dropping event", "domain", ev.Domain, "tab_id", ev.TabID)
	}
}

// Close stops the writer and flushes queued events.
func (l *Log) Close() error {
	close(l.done)
	l.wg.Wait()

	// Drain whatever the loop left behind.
	for {
		select {
		case ev := <-l.writeCh:
			l.writeEvent(ev)
		default:
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.logger != nil {
				return l.logger.Close()
			}
			return nil
		}
	}
}

func (l *Log) writeLoop() {
	defer l.wg.Done()
	for {
		select {
		case ev := <-l.writeCh:
			l.writeEvent(ev)
		case <-l.done:
			return
		}
	}
}

func (l *Log) writeEvent(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("failed to marshal history event", "error", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.logger.Write(append(data, '\n')); err != nil {
		slog.Error("failed to write history event", "error", err)
	}
}

// String implements fmt.Stringer for debug logging.
func (e Event) String() string {
	if e.Domain != "" {
		return fmt.Sprintf("%s %s=%d%%", e.Source, e.Domain, e.Volume)
	}
	return fmt.Sprintf("%s tab%d=%d%%", e.Source, e.TabID, e.Volume)
}
