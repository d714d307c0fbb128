// Copyright 2017 Microsoft. All rights reserved.
// MIT License

// Package log provides the rotating file logger used across the daemon,
// adapted from the upstream azure-container-networking log package to the
// format and rotation policy this daemon documents: 1MiB per file, 10
// backups, "<ts>-<name>-<LEVEL>- <message>".
package log

import (
	"fmt"
	"io"
	"log"
	"log/syslog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Log level.
const (
	LevelAlert = iota
	LevelError
	LevelWarning
	LevelInfo
	LevelDebug
)

// Log target.
const (
	TargetStderr = iota
	TargetSyslog
	TargetLogfile
)

const (
	logFileExtension = ".log"
	logFilePerm      = os.FileMode(0o664)
	syslogTag        = "AZURE-CP-HA"

	// Defaults matching the daemon's documented rotation policy. The file
	// count includes the active file, so 11 keeps 10 rotated backups.
	defaultMaxFileSize  = 1 * 1024 * 1024
	defaultMaxFileCount = 11

	rotationCheckFrq = 8
)

// Logger is a leveled, rotating-file logger.
type Logger struct {
	l            *log.Logger
	out          io.WriteCloser
	name         string
	level        int
	target       int
	maxFileSize  int
	maxFileCount int
	callCount    int
	directory    string
	mutex        sync.Mutex
}

// NewLogger creates a new Logger. directory is only consulted when target is
// TargetLogfile.
func NewLogger(name string, level, target int, directory string) (*Logger, error) {
	logger := &Logger{
		l:            log.New(nil, "", 0),
		name:         name,
		level:        level,
		maxFileSize:  defaultMaxFileSize,
		maxFileCount: defaultMaxFileCount,
		directory:    directory,
	}

	if err := logger.SetTarget(target); err != nil {
		return nil, err
	}

	return logger, nil
}

// SetLevel sets the log chattiness.
func (logger *Logger) SetLevel(level int) {
	logger.mutex.Lock()
	logger.level = level
	logger.mutex.Unlock()
}

// SetLogFileLimits sets the log file rotation limits.
func (logger *Logger) SetLogFileLimits(maxFileSize, maxFileCount int) {
	logger.mutex.Lock()
	logger.maxFileSize = maxFileSize
	logger.maxFileCount = maxFileCount
	logger.mutex.Unlock()
}

// SetTarget changes the log output target.
func (logger *Logger) SetTarget(target int) error {
	var out io.Writer
	var err error

	switch target {
	case TargetStderr:
		out = os.Stderr
	case TargetSyslog:
		out, err = syslog.New(log.LstdFlags, syslogTag)
	case TargetLogfile:
		if mkErr := os.MkdirAll(logger.directory, 0o755); mkErr != nil && !os.IsExist(mkErr) {
			return mkErr
		}
		out, err = os.OpenFile(logger.logFileName(), os.O_CREATE|os.O_APPEND|os.O_RDWR, logFilePerm)
	default:
		return fmt.Errorf("invalid log target %d", target)
	}

	if err != nil {
		return err
	}

	logger.target = target
	if closer, ok := out.(io.WriteCloser); ok {
		logger.out = closer
	}
	logger.l.SetOutput(out)
	return nil
}

// Close closes the underlying log stream.
func (logger *Logger) Close() {
	if logger.out != nil {
		logger.out.Close()
	}
}

func (logger *Logger) logFileName() string {
	return filepath.Join(logger.directory, logger.name+logFileExtension)
}

// rotate checks the active log file size and rotates if necessary. Caller
// must hold logger.mutex.
func (logger *Logger) rotate() {
	if logger.target != TargetLogfile || logger.out == nil {
		return
	}

	fileName := logger.logFileName()
	info, err := os.Stat(fileName)
	if err != nil || info.Size() < int64(logger.maxFileSize) {
		return
	}

	logger.out.Close()

	var fn1, fn2 string
	for n := logger.maxFileCount - 1; n >= 0; n-- {
		fn2 = fn1
		if n == 0 {
			fn1 = fileName
		} else {
			fn1 = fmt.Sprintf("%s.%d", fileName, n)
		}
		if fn2 != "" {
			os.Rename(fn1, fn2) //nolint:errcheck // best-effort rotation
		}
	}

	logger.SetTarget(TargetLogfile) //nolint:errcheck // best-effort re-open of a fresh active file
}

func levelName(level int) string {
	switch level {
	case LevelAlert:
		return "ALERT"
	case LevelError:
		return "ERROR"
	case LevelWarning:
		return "WARNING"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "INFO"
	}
}

func (logger *Logger) logf(level int, format string, args ...interface{}) {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()

	if level > logger.level {
		return
	}

	if logger.callCount%rotationCheckFrq == 0 {
		logger.rotate()
	}
	logger.callCount++

	msg := fmt.Sprintf(format, args...)
	logger.l.Printf("%s-%s-%s- %s", time.Now().Format("2006-01-02 15:04:05,000"), logger.name, levelName(level), msg)
}

// Printf logs a formatted string at info level.
func (logger *Logger) Printf(format string, args ...interface{}) {
	logger.logf(LevelInfo, format, args...)
}

// Debugf logs a formatted string at debug level.
func (logger *Logger) Debugf(format string, args ...interface{}) {
	logger.logf(LevelDebug, format, args...)
}

// Warnf logs a formatted string at warning level.
func (logger *Logger) Warnf(format string, args ...interface{}) {
	logger.logf(LevelWarning, format, args...)
}

// Errorf logs a formatted string at error level.
func (logger *Logger) Errorf(format string, args ...interface{}) {
	logger.logf(LevelError, format, args...)
}

// Request logs a structured request, mirroring the upstream log package's
// convention for protocol-boundary logging.
func (logger *Logger) Request(tag string, request interface{}, err error) {
	if err == nil {
		logger.Printf("[%s] received %T %+v", tag, request, request)
	} else {
		logger.Printf("[%s] failed to decode %T %+v: %s", tag, request, request, err.Error())
	}
}
