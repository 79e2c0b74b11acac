// Package history records completed requests as JSONL and reads them
// back for the REPL's history builtin and the generation context.
package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/aishell/aish/pkg/command"
	"github.com/aishell/aish/pkg/logger"
)

// Event is one finished request: what the user asked, what ran, how it
// ended.
type Event struct {
	Time      time.Time        `json:"time"`
	RequestID string           `json:"request_id"`
	UserText  string           `json:"user_text"`
	Commands  []string         `json:"commands"`
	Results   []command.Result `json:"results,omitempty"`
	State     string           `json:"state"`
}

type Recorder interface {
	Record(Event)
	Close()
}

// NopRecorder drops everything. Used when history is disabled.
type NopRecorder struct{}

func (NopRecorder) Record(Event) {}
func (NopRecorder) Close()       {}

const recordQueueSize = 256

// JSONLRecorder appends events to a JSONL file from a background
// goroutine so the orchestrator never blocks on disk. When the file
// grows past maxBytes it is compressed aside and restarted.
type JSONLRecorder struct {
	path      string
	maxBytes  int64
	queue     chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewJSONLRecorder(path string, maxBytes int64) (*JSONLRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	r := &JSONLRecorder{
		path:     path,
		maxBytes: maxBytes,
		queue:    make(chan []byte, recordQueueSize),
		done:     make(chan struct{}),
	}
	go r.writeLoop()
	return r, nil
}

func (r *JSONLRecorder) Path() string {
	return r.path
}

func (r *JSONLRecorder) Record(ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		logger.WarnCF("history", "event not serializable", map[string]interface{}{"error": err.Error()})
		return
	}

	line := append(b, '\n')
	select {
	case r.queue <- line:
		return
	default:
	}

	// Queue full: drop the oldest pending line so recording stays
	// non-blocking.
	select {
	case <-r.queue:
	default:
	}
	select {
	case r.queue <- line:
	default:
	}
}

func (r *JSONLRecorder) writeLoop() {
	defer close(r.done)
	for line := range r.queue {
		if err := r.appendLine(line); err != nil {
			logger.WarnCF("history", "append failed", map[string]interface{}{
				"path":  r.path,
				"error": err.Error(),
			})
		}
	}
}

func (r *JSONLRecorder) appendLine(line []byte) error {
	if r.maxBytes > 0 {
		if info, err := os.Stat(r.path); err == nil && info.Size()+int64(len(line)) > r.maxBytes {
			if err := r.rotate(); err != nil {
				logger.WarnCF("history", "rotation failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}

	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(line)
	return err
}

// rotate compresses the current file to <path>.<timestamp>.zst and
// truncates the live file.
func (r *JSONLRecorder) rotate() error {
	src, err := os.Open(r.path)
	if err != nil {
		return err
	}
	defer src.Close()

	archived := fmt.Sprintf("%s.%s.zst", r.path, time.Now().UTC().Format("20060102T150405"))
	dst, err := os.Create(archived)
	if err != nil {
		return err
	}
	defer dst.Close()

	enc, err := zstd.NewWriter(dst)
	if err != nil {
		return err
	}
	if _, err := enc.ReadFrom(src); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}

	return os.Truncate(r.path, 0)
}

// Close stops the background writer and blocks until every queued
// line has reached disk. Safe to call more than once; Record must not
// be called afterwards.
func (r *JSONLRecorder) Close() {
	r.closeOnce.Do(func() { close(r.queue) })
	<-r.done
}

// ContextBuilder summarizes recent history for the generation prompt.
type ContextBuilder struct {
	path string
}

func NewContextBuilder(path string) *ContextBuilder {
	return &ContextBuilder{path: path}
}

// RecentCommands returns the commands of the last n recorded events in
// chronological order. Read errors yield an empty context, never a
// failure; prompt context is best effort.
func (b *ContextBuilder) RecentCommands(n int) []string {
	events, err := ReadRecent(b.path, n)
	if err != nil {
		logger.DebugCF("history", "context read failed", map[string]interface{}{"error": err.Error()})
		return nil
	}
	var commands []string
	for _, ev := range events {
		commands = append(commands, ev.Commands...)
	}
	return commands
}

// ReadRecent returns up to n events from the live file, newest last.
// Rotated archives are not consulted.
func ReadRecent(path string, n int) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 256*1024), 1024*1024)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	return events, nil
}
