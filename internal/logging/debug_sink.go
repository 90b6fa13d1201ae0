package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	log "github.com/sirupsen/logrus"
)

// inlineBodyLimit is the largest request/response body the debug sink writes
// inline; larger payloads are spilled to a gzip sidecar file instead so the
// log itself stays readable.
const inlineBodyLimit = 4 * 1024

// DebugSink is a second, independent logger capturing full request/response
// exchanges when OPENCODE_ANTIGRAVITY_DEBUG is set. It writes to
// antigravity-debug-<timestamp>.log in the working directory.
type DebugSink struct {
	mu     sync.Mutex
	logger *log.Logger
	file   *os.File
	dir    string
	stamp  string
	seq    int
}

// NewDebugSink opens the debug log file and returns the sink, or nil when
// enabled is false. Callers must Close it on shutdown.
func NewDebugSink(enabled bool) (*DebugSink, error) {
	if !enabled {
		return nil, nil
	}
	stamp := time.Now().Format("20060102-150405")
	name := fmt.Sprintf("antigravity-debug-%s.log", stamp)
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("logging: open debug sink: %w", err)
	}

	logger := log.New()
	logger.SetOutput(f)
	logger.SetLevel(log.DebugLevel)
	logger.SetFormatter(&LogFormatter{})

	dir, _ := os.Getwd()
	return &DebugSink{logger: logger, file: f, dir: dir, stamp: stamp}, nil
}

// LogExchange records one upstream round trip: the rewritten request target,
// the account it ran under, the response status, and both bodies. Oversized
// bodies are spilled to gzip sidecar files referenced from the log line.
func (s *DebugSink) LogExchange(email, method, url string, status int, reqBody, respBody []byte) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Debugf("account=%s %s %s -> %d", email, method, url, status)
	s.logger.Debugf("request body: %s", s.renderBody(reqBody))
	s.logger.Debugf("response body: %s", s.renderBody(respBody))
}

// renderBody returns the body inline when small, otherwise compresses it to
// a sidecar file and returns its name. Must be called with mu held.
func (s *DebugSink) renderBody(body []byte) string {
	if len(body) == 0 {
		return "<empty>"
	}
	if len(body) <= inlineBodyLimit {
		return string(body)
	}

	s.seq++
	name := fmt.Sprintf("antigravity-debug-%s-%04d.json.gz", s.stamp, s.seq)
	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Sprintf("<%d bytes, spill failed: %v>", len(body), err)
	}
	zw := gzip.NewWriter(f)
	_, werr := zw.Write(body)
	if cerr := zw.Close(); werr == nil {
		werr = cerr
	}
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return fmt.Sprintf("<%d bytes, spill failed: %v>", len(body), werr)
	}
	return fmt.Sprintf("<%d bytes, spilled to %s>", len(body), name)
}

// Close flushes and closes the underlying file.
func (s *DebugSink) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
