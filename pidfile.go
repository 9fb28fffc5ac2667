package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const (
	pidFilePermissions = 0o600
	pidDirPermissions  = 0o700
)

// errWatchNotRunning is returned when no live watch process owns the pid file.
var errWatchNotRunning = errors.New("no running watch process")

// writePIDFile records the current pid at path under an exclusive flock.
// The returned cleanup removes the file and releases the lock. A held lock
// means another watch is running for the same feed.
func writePIDFile(path string) (cleanup func(), err error) {
	if path == "" {
		return nil, errors.New("pid file path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), pidDirPermissions); err != nil {
		return nil, fmt.Errorf("creating pid file directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, pidFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("opening pid file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		return nil, fmt.Errorf("watch is already running for this feed (could not lock %s)", path)
	}

	if err := f.Truncate(0); err != nil {
		f.Close()

		return nil, fmt.Errorf("truncating pid file: %w", err)
	}

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		f.Close()

		return nil, fmt.Errorf("writing pid file: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()

		return nil, fmt.Errorf("syncing pid file: %w", err)
	}

	return func() {
		os.Remove(path)
		f.Close()
	}, nil
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading pid file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid in %s: %w", path, err)
	}

	return pid, nil
}

// livePID returns the pid recorded at path if that process is alive. A pid
// file left by a dead process is removed.
func livePID(path string) (int, error) {
	pid, err := readPIDFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("%w (no pid file at %s)", errWatchNotRunning, path)
	}

	if err != nil {
		return 0, err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("finding process %d: %w", pid, err)
	}

	if err := proc.Signal(syscall.Signal(0)); err != nil {
		os.Remove(path)

		return 0, fmt.Errorf("%w (pid %d is gone, stale pid file removed)", errWatchNotRunning, pid)
	}

	return pid, nil
}

// sendSIGHUP asks the watch process recorded at path to reload its config.
func sendSIGHUP(path string) (int, error) {
	pid, err := livePID(path)
	if err != nil {
		return 0, err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("finding process %d: %w", pid, err)
	}

	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return 0, fmt.Errorf("sending SIGHUP to pid %d: %w", pid, err)
	}

	return pid, nil
}
