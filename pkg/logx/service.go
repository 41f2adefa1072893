package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

const defaultLogFile = "./evsched.log"

// Service owns the process-wide sinks. Loggers obtained from it pick up
// level and sink changes made by Apply.
type Service struct {
	mu   sync.Mutex
	file *os.File

	zl atomic.Pointer[zerolog.Logger]
}

// New builds the service from cfg. A log file that cannot be opened is
// reported on the returned logger and the service falls back to console.
func New(cfg Config) (*Service, Logger) {
	s := &Service{}
	log := Logger{src: s}
	if err := s.Apply(cfg); err != nil {
		log.Warn("log file unavailable, console only", Err(err))
	}
	return s, log
}

func (s *Service) current() zerolog.Logger {
	if zl := s.zl.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{src: s} }

// Apply swaps level and sinks. Safe for concurrent use with logging.
func (s *Service) Apply(cfg Config) error {
	lvl, _ := ParseLevel(cfg.Level)

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		sinks []io.Writer
		ferr  error
		next  *os.File
	)
	if cfg.Console {
		sinks = append(sinks, consoleWriter(os.Stdout))
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultLogFile
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			ferr = fmt.Errorf("open log file %q: %w", path, err)
		} else {
			next = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, consoleWriter(os.Stdout))
	}

	zl := build(lvl, zerolog.MultiLevelWriter(sinks...))
	s.zl.Store(&zl)

	if s.file != nil {
		_ = s.file.Close()
	}
	s.file = next
	return ferr
}

// Close releases the log file, if any.
func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	return f.Close()
}
