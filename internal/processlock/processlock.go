// Copyright 2017 Microsoft. All rights reserved.
// MIT License

// Package processlock provides an exclusive, PID-stamped file lock used to
// keep a second daemon instance from starting against the same pidfile and
// fighting over the same cluster's VIPs, NAT rules, and routes. Adapted from
// the upstream azure-container-networking processlock package; the upstream
// implementation layers on an internal/lockedfile helper that is not part
// of this retrieval, so the lock here is taken directly with flock(2) via
// golang.org/x/sys/unix.
package processlock

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrEmptyFilePath is returned by NewFileLock; ErrInvalidFile is returned by
// Unlock when the lock is not held.
var (
	ErrEmptyFilePath = errors.New("empty file path")
	ErrInvalidFile   = errors.New("invalid file pointer")
)

//nolint:revive // this naming makes sense
type Interface interface {
	Lock() error
	Unlock() error
}

type fileLock struct {
	filePath string
	file     *os.File
}

// NewFileLock returns a process lock backed by fileAbsPath.
func NewFileLock(fileAbsPath string) (Interface, error) {
	if fileAbsPath == "" {
		return nil, ErrEmptyFilePath
	}

	if err := os.MkdirAll(filepath.Dir(fileAbsPath), 0o755); err != nil {
		return nil, errors.Wrap(err, "mkdir lock dir returned error")
	}

	return &fileLock{filePath: fileAbsPath}, nil
}

// Lock acquires an exclusive flock on the lock file and stamps it with this
// process's PID.
func (l *fileLock) Lock() error {
	f, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return errors.Wrap(err, "open lock file")
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return errors.Wrap(err, "flock acquire")
	}

	if err := f.Truncate(0); err != nil {
		unix.Flock(int(f.Fd()), unix.LOCK_UN) //nolint:errcheck // best-effort on error path
		f.Close()
		return errors.Wrap(err, "truncate lock file")
	}

	if _, err := f.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		unix.Flock(int(f.Fd()), unix.LOCK_UN) //nolint:errcheck // best-effort on error path
		f.Close()
		return errors.Wrap(err, "write to lockfile failed")
	}

	l.file = f
	return nil
}

// Unlock releases the lock and closes the underlying file.
func (l *fileLock) Unlock() error {
	if l.file == nil {
		return ErrInvalidFile
	}

	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		return errors.Wrap(err, "flock release")
	}

	err := l.file.Close()
	l.file = nil
	if err != nil {
		return errors.Wrap(err, "file close error in unlock")
	}
	return nil
}
