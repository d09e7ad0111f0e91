package toolbus

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Record is one tool-invocation log entry (spec §4.8): the canonical
// arguments are what gets logged, not the raw bytes received.
type Record struct {
	ReplayID       string `json:"replay_id"`
	ToolName       string `json:"tool_name"`
	RequestHash    string `json:"request_hash"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at"`
	Outcome        string `json:"outcome"`
	Arguments      string `json:"arguments"`       // canonical JSON text
	ResultOrError  any    `json:"result_or_error"`
}

// LogConfig selects one or both logging modes (spec §4.8).
type LogConfig struct {
	NDJSONPath       string
	PerInvocationDir string
	BufferSize       int
}

// Logger decouples invocation handling from log I/O with a buffered
// channel and a background writer goroutine — the same shape as the
// teacher's AuditLogger.eventProcessor (internal/security/audit.go),
// adapted so each record is flushed to disk as soon as it is written
// rather than batched, since spec §4.8 requires per-write durability
// for the NDJSON mode.
type Logger struct {
	config   LogConfig
	log      *logrus.Logger
	buffer   chan *Record
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	ndjsonFh *os.File
}

// NewLogger opens the NDJSON file (if configured) and starts the
// background writer. PerInvocationDir is created lazily per write.
func NewLogger(cfg LogConfig, log *logrus.Logger) (*Logger, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	l := &Logger{
		config: cfg,
		log:    log,
		buffer: make(chan *Record, cfg.BufferSize),
		stopCh: make(chan struct{}),
	}
	if cfg.NDJSONPath != "" {
		fh, err := os.OpenFile(cfg.NDJSONPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening tool invocation NDJSON log %s: %w", cfg.NDJSONPath, err)
		}
		l.ndjsonFh = fh
	}
	l.wg.Add(1)
	go l.writeLoop()
	return l, nil
}

// Log enqueues a record for asynchronous writing. It never blocks the
// caller on I/O; a full buffer drops the record with a warning log,
// matching the teacher's "buffer full, drop and warn" audit policy.
func (l *Logger) Log(rec *Record) {
	select {
	case l.buffer <- rec:
	default:
		l.log.WithField("replay_id", rec.ReplayID).Warn("tool invocation log buffer full, dropping record")
	}
}

func (l *Logger) writeLoop() {
	defer l.wg.Done()
	for {
		select {
		case rec := <-l.buffer:
			l.write(rec)
		case <-l.stopCh:
			// Drain whatever is left before exiting.
			for {
				select {
				case rec := <-l.buffer:
					l.write(rec)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) write(rec *Record) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, err := json.Marshal(rec)
	if err != nil {
		l.log.WithError(err).Error("marshaling tool invocation record")
		return
	}

	if l.ndjsonFh != nil {
		if _, err := l.ndjsonFh.Write(append(b, '\n')); err != nil {
			l.log.WithError(err).Error("writing tool invocation NDJSON record")
		} else if err := l.ndjsonFh.Sync(); err != nil {
			l.log.WithError(err).Error("flushing tool invocation NDJSON record")
		}
	}

	if l.config.PerInvocationDir != "" {
		if err := os.MkdirAll(l.config.PerInvocationDir, 0o755); err != nil {
			l.log.WithError(err).Error("creating per-invocation tool log directory")
			return
		}
		path := filepath.Join(l.config.PerInvocationDir, rec.ReplayID+".json")
		if err := os.WriteFile(path, b, 0o644); err != nil {
			l.log.WithError(err).Error("writing per-invocation tool log file")
		}
	}
}

// Stop drains the buffer and closes the NDJSON file.
func (l *Logger) Stop() {
	close(l.stopCh)
	l.wg.Wait()
	if l.ndjsonFh != nil {
		_ = l.ndjsonFh.Close()
	}
}
