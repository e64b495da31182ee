package control

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

var (
	ErrNoPIDFile    = errors.New("no pid file")
	ErrPIDFileInUse = errors.New("pid file names a running process")
)

// WritePIDFile records the current process id at path. A file left by a
// process that is gone is overwritten; one naming a live process is not.
func WritePIDFile(path string) error {
	if pid, err := ReadPIDFile(path); err == nil && pid != os.Getpid() && ProcessAlive(pid) {
		return fmt.Errorf("%w: pid %d in %s", ErrPIDFileInUse, pid, path)
	}
	data := []byte(strconv.Itoa(os.Getpid()) + "\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// RemovePIDFile removes path only if it still names this process.
func RemovePIDFile(path string) error {
	pid, err := ReadPIDFile(path)
	if errors.Is(err, ErrNoPIDFile) {
		return nil
	}
	if err != nil {
		return err
	}
	if pid != os.Getpid() {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove pid file: %w", err)
	}
	return nil
}

// ReadPIDFile parses the pid stored at path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", ErrNoPIDFile, path)
		}
		return 0, fmt.Errorf("read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid file %s: %q", path, strings.TrimSpace(string(data)))
	}
	return pid, nil
}
