package control

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"voxin/internal/domain"
)

type fakeHandler struct {
	mu       sync.Mutex
	toggles  int
	restarts int
	err      error
	status   domain.Status
}

func (f *fakeHandler) Toggle(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toggles++
	if f.err != nil {
		return "", f.err
	}
	f.status.State = domain.SessionStateRecording
	return "started", nil
}

func (f *fakeHandler) RestartRecognizer() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status.Worker != domain.WorkerStateDead {
		return errors.New("recognizer is not dead")
	}
	f.restarts++
	f.status.Worker = domain.WorkerStateStarting
	return nil
}

func (f *fakeHandler) Status() domain.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func startServer(t *testing.T, handler Handler) (string, *Server) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voxin.sock")
	srv := NewServer(path, handler, zerolog.Nop())
	if err := srv.Listen(); err != nil {
		t.Fatalf("listen failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		_ = srv.Close()
		<-done
	})
	return path, srv
}

func send(t *testing.T, path string, op string) Response {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := Send(ctx, path, op)
	if err != nil {
		t.Fatalf("send %s failed: %v", op, err)
	}
	return resp
}

func TestServerToggleAndStatus(t *testing.T) {
	t.Parallel()

	handler := &fakeHandler{status: domain.Status{State: domain.SessionStateIdle, Worker: domain.WorkerStateReady}}
	path, _ := startServer(t, handler)

	resp := send(t, path, OpStatus)
	if !resp.OK || resp.Status == nil || resp.Status.State != domain.SessionStateIdle {
		t.Fatalf("unexpected status response: %+v", resp)
	}

	resp = send(t, path, OpToggle)
	if !resp.OK || resp.Action != "started" {
		t.Fatalf("unexpected toggle response: %+v", resp)
	}
	if resp.Status == nil || resp.Status.State != domain.SessionStateRecording {
		t.Fatalf("toggle response must carry the new status: %+v", resp.Status)
	}
	if handler.toggles != 1 {
		t.Fatalf("expected one toggle, got %d", handler.toggles)
	}
}

func TestServerToggleErrorIsReported(t *testing.T) {
	t.Parallel()

	handler := &fakeHandler{err: errors.New("recognizer is not ready")}
	path, _ := startServer(t, handler)

	resp := send(t, path, OpToggle)
	if resp.OK {
		t.Fatalf("expected ok=false")
	}
	if resp.Error != "recognizer is not ready" {
		t.Fatalf("unexpected error %q", resp.Error)
	}
}

func TestServerUnknownOp(t *testing.T) {
	t.Parallel()

	path, _ := startServer(t, &fakeHandler{})
	resp := send(t, path, "explode")
	if resp.OK || resp.Error == "" {
		t.Fatalf("expected unknown op error, got %+v", resp)
	}
}

func TestServerMalformedRequestKeepsConnection(t *testing.T) {
	t.Parallel()

	path, _ := startServer(t, &fakeHandler{})

	conn, err := net.Dial("unix", path)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))

	reader := bufio.NewReader(conn)
	if _, err := conn.Write([]byte("not json\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	var resp Response
	line, err := reader.ReadBytes('\n')
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if err := json.Unmarshal(line, &resp); err != nil || resp.Error != ErrMsgInvalidRequest {
		t.Fatalf("expected invalid request, got %s", line)
	}

	if _, err := conn.Write([]byte(`{"id":"abc","op":"status"}` + "\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	line, err = reader.ReadBytes('\n')
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	resp = Response{}
	if err := json.Unmarshal(line, &resp); err != nil || !resp.OK || resp.ID != "abc" {
		t.Fatalf("expected status response for abc, got %s", line)
	}
}

func TestServerRefusesSecondInstance(t *testing.T) {
	t.Parallel()

	path, _ := startServer(t, &fakeHandler{})
	second := NewServer(path, &fakeHandler{}, zerolog.Nop())
	if err := second.Listen(); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestServerReplacesStaleSocket(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "voxin.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	ln.(*net.UnixListener).SetUnlinkOnClose(false)
	_ = ln.Close()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected stale socket file to remain: %v", err)
	}

	srv := NewServer(path, &fakeHandler{}, zerolog.Nop())
	if err := srv.Listen(); err != nil {
		t.Fatalf("listen over stale socket failed: %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected socket to be removed on close")
	}
}

func TestServerRestartRecognizer(t *testing.T) {
	t.Parallel()

	handler := &fakeHandler{status: domain.Status{Worker: domain.WorkerStateReady}}
	path, _ := startServer(t, handler)

	resp := send(t, path, OpRestart)
	if resp.OK || resp.Error == "" {
		t.Fatalf("expected refusal for a live recognizer, got %+v", resp)
	}

	handler.mu.Lock()
	handler.status.Worker = domain.WorkerStateDead
	handler.mu.Unlock()

	resp = send(t, path, OpRestart)
	if !resp.OK || resp.Action != "restarting" || resp.Status == nil || resp.Status.Worker != domain.WorkerStateStarting {
		t.Fatalf("unexpected restart response: %+v", resp)
	}
	handler.mu.Lock()
	defer handler.mu.Unlock()
	if handler.restarts != 1 {
		t.Fatalf("expected one restart, got %d", handler.restarts)
	}
}
