// Package control exposes the daemon to local clients: a unix socket
// speaking newline-delimited JSON, a pid file and a SIGUSR1 bridge.
package control

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"voxin/internal/domain"
)

// Request is one client command.
type Request struct {
	ID        string    `json:"id"`
	Op        string    `json:"op"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Response answers the request with the same ID.
type Response struct {
	ID     string         `json:"id"`
	OK     bool           `json:"ok"`
	Action string         `json:"action,omitempty"`
	Error  string         `json:"error,omitempty"`
	Status *domain.Status `json:"status,omitempty"`
}

const (
	OpToggle  = "toggle"
	OpStatus  = "status"
	OpRestart = "restart"
)

const (
	ErrMsgInvalidRequest = "invalid request"
	ErrMsgUnknownOp      = "unknown op"
)

// DefaultSocketPath prefers the per-user runtime dir.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "voxin.sock")
	}
	return filepath.Join(os.TempDir(), "voxin-"+strconv.Itoa(os.Getuid())+".sock")
}

// DefaultPIDPath is ~/.voxin.pid, falling back to the temp dir.
func DefaultPIDPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), ".voxin.pid")
	}
	return filepath.Join(home, ".voxin.pid")
}
