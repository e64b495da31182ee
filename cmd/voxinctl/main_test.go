package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"voxin/internal/control"
	"voxin/internal/domain"
)

type stubHandler struct {
	err error
}

func (h stubHandler) Toggle(_ context.Context) (string, error) {
	if h.err != nil {
		return "", h.err
	}
	return "started", nil
}

func (h stubHandler) RestartRecognizer() error { return h.err }

func (h stubHandler) Status() domain.Status {
	return domain.Status{State: domain.SessionStateRecording, Worker: domain.WorkerStateReady}
}

func serve(t *testing.T, handler control.Handler) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ctl.sock")
	srv := control.NewServer(path, handler, zerolog.Nop())
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
	return path
}

func TestRunToggleAndStatus(t *testing.T) {
	t.Parallel()

	socket := serve(t, stubHandler{})

	var out, errOut bytes.Buffer
	if code := run([]string{"-socket", socket, "toggle"}, &out, &errOut); code != 0 {
		t.Fatalf("unexpected exit %d: %s", code, errOut.String())
	}
	if !strings.HasPrefix(out.String(), "started\n") || !strings.Contains(out.String(), "state=recording") {
		t.Fatalf("unexpected output: %q", out.String())
	}

	out.Reset()
	if code := run([]string{"-socket", socket, "-json", "status"}, &out, &errOut); code != 0 {
		t.Fatalf("unexpected exit %d: %s", code, errOut.String())
	}
	if !strings.Contains(out.String(), `"worker": "ready"`) {
		t.Fatalf("unexpected json output: %q", out.String())
	}
}

func TestRunRestart(t *testing.T) {
	t.Parallel()

	socket := serve(t, stubHandler{})

	var out, errOut bytes.Buffer
	if code := run([]string{"-socket", socket, "restart"}, &out, &errOut); code != 0 {
		t.Fatalf("unexpected exit %d: %s", code, errOut.String())
	}
	if !strings.HasPrefix(out.String(), "restarting\n") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestRunReportsRefusal(t *testing.T) {
	t.Parallel()

	socket := serve(t, stubHandler{err: context.DeadlineExceeded})

	var out, errOut bytes.Buffer
	if code := run([]string{"-socket", socket}, &out, &errOut); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(errOut.String(), "deadline exceeded") {
		t.Fatalf("expected refusal on stderr, got %q", errOut.String())
	}
}

func TestRunUsageErrors(t *testing.T) {
	t.Parallel()

	var out, errOut bytes.Buffer
	if code := run([]string{"explode"}, &out, &errOut); code != 2 {
		t.Fatalf("expected usage exit, got %d", code)
	}
	if code := run([]string{"-signal", "status"}, &out, &errOut); code != 2 {
		t.Fatalf("expected usage exit for signal status, got %d", code)
	}
}

func TestRunUnreachableDaemon(t *testing.T) {
	t.Parallel()

	var out, errOut bytes.Buffer
	missing := filepath.Join(t.TempDir(), "none.sock")
	if code := run([]string{"-socket", missing, "status"}, &out, &errOut); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
}
