package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// PIDFile guards against two acsd instances driving the same radios
type PIDFile struct {
	path string
	pid  int
}

// New creates a new PIDFile instance
func New(path string) *PIDFile {
	return &PIDFile{
		path: path,
		pid:  os.Getpid(),
	}
}

// Create writes the PID file. A file left by a dead process is replaced.
func (p *PIDFile) Create() error {
	running, existingPID, err := p.CheckRunning()
	if err != nil {
		return err
	}
	if running {
		return fmt.Errorf("daemon already running with PID %d", existingPID)
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(p.pid)+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to create PID file: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to create PID file: %w", err)
	}
	return nil
}

// Remove deletes the PID file if it still names this process
func (p *PIDFile) Remove() error {
	existingPID, err := p.readExistingPID()
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return os.Remove(p.path)
	}
	if existingPID != p.pid {
		return fmt.Errorf("PID file contains different PID (%d vs %d), not removing", existingPID, p.pid)
	}
	return os.Remove(p.path)
}

// ForceRemove removes the PID file regardless of ownership
func (p *PIDFile) ForceRemove() error {
	err := os.Remove(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Path returns the path to the PID file
func (p *PIDFile) Path() string {
	return p.path
}

// CheckRunning reports whether the PID in the file belongs to a live
// process other than this one
func (p *PIDFile) CheckRunning() (bool, int, error) {
	existingPID, err := p.readExistingPID()
	if errors.Is(err, os.ErrNotExist) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("failed to read PID file: %w", err)
	}
	if existingPID == p.pid {
		return false, existingPID, nil
	}
	return processAlive(existingPID), existingPID, nil
}

func (p *PIDFile) readExistingPID() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, err
	}

	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID in file: %q", pidStr)
	}
	return pid, nil
}

// processAlive probes pid with signal 0. EPERM still means it exists.
func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
