package utils

import (
	"bytes"
	"regexp"
	"sync"

	"go.viam.com/rdk/logging"
)

var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)

// OutputLogger is an io.Writer that forwards subprocess output to a logger,
// one debug entry per line, prefixed with the command name.
type OutputLogger struct {
	mu     sync.Mutex
	logger logging.Logger
	prefix string
	buf    bytes.Buffer
}

// NewOutputLogger returns an OutputLogger for the named command.
func NewOutputLogger(logger logging.Logger, prefix string) *OutputLogger {
	return &OutputLogger{logger: logger, prefix: prefix}
}

// Write buffers p and logs each complete line it contains.
func (l *OutputLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf.Write(p)
	for {
		line, err := l.buf.ReadBytes('\n')
		if err != nil {
			// partial line, keep it for the next write
			l.buf.Reset()
			l.buf.Write(line)
			break
		}
		l.logLine(line)
	}
	return len(p), nil
}

// Flush logs any trailing partial line.
func (l *OutputLogger) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.buf.Len() > 0 {
		l.logLine(l.buf.Bytes())
		l.buf.Reset()
	}
}

func (l *OutputLogger) logLine(line []byte) {
	line = bytes.TrimSpace(stripAnsiColorCodes(line))
	if len(line) == 0 {
		return
	}
	l.logger.Debugf("[%s] %s", l.prefix, line)
}

func stripAnsiColorCodes(b []byte) []byte {
	return ansiRegex.ReplaceAll(b, nil)
}
