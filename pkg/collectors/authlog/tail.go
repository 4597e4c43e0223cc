// Package authlog follows a growing log file and yields complete lines,
// starting from the current end of file.
package authlog

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Tailer reads new lines appended to a file, polling on EOF. Auth logs are
// low frequency, so a short poll sleep is acceptable.
type Tailer struct {
	path         string
	pollInterval time.Duration
	fromEnd      bool
	logger       *zap.Logger
}

// Option configures a Tailer.
type Option func(*Tailer)

// WithPollInterval overrides the EOF poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(t *Tailer) { t.pollInterval = d }
}

// FromStart reads the file from the beginning instead of seeking to the end.
func FromStart() Option {
	return func(t *Tailer) { t.fromEnd = false }
}

// NewTailer creates a tailer for path.
func NewTailer(path string, logger *zap.Logger, opts ...Option) *Tailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tailer{
		path:         path,
		pollInterval: 250 * time.Millisecond,
		fromEnd:      true,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run opens the file and sends each new line to out until ctx is cancelled.
// Open failures (permission denied, missing file) are fatal and returned to
// the caller; the log source is the one input the agent cannot run without.
func (t *Tailer) Run(ctx context.Context, out chan<- string) error {
	f, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("open log source %s: %w", t.path, err)
	}
	defer f.Close()

	if t.fromEnd {
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			return fmt.Errorf("seek log source %s: %w", t.path, err)
		}
	}

	t.logger.Info("Tailing log source", zap.String("path", t.path), zap.Bool("from_end", t.fromEnd))

	r := bufio.NewReader(f)
	var partial strings.Builder

	for {
		line, err := r.ReadString('\n')
		if err == nil {
			partial.WriteString(line)
			full := strings.TrimRight(partial.String(), "\n")
			partial.Reset()
			select {
			case out <- full:
			case <-ctx.Done():
				return nil
			}
			continue
		}
		if err != io.EOF {
			return fmt.Errorf("read log source %s: %w", t.path, err)
		}

		// Incomplete trailing line: keep it until the writer finishes it.
		partial.WriteString(line)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(t.pollInterval):
		}
	}
}
