// Command voxinctl drives a running voxin daemon over its control socket.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"voxin/internal/control"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("voxinctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	socket := fs.String("socket", envOr("VOXIN_SOCKET", control.DefaultSocketPath()), "control socket path")
	pidFile := fs.String("pid-file", envOr("VOXIN_PID_FILE", control.DefaultPIDPath()), "daemon pid file")
	useSignal := fs.Bool("signal", false, "toggle by sending SIGUSR1 to the pid in -pid-file")
	timeout := fs.Duration("timeout", 5*time.Second, "request timeout")
	asJSON := fs.Bool("json", false, "print the raw response")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: voxinctl [flags] toggle|status|restart")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	op := control.OpToggle
	if fs.NArg() > 0 {
		op = fs.Arg(0)
	}
	switch op {
	case control.OpToggle, control.OpStatus, control.OpRestart:
	default:
		fs.Usage()
		return 2
	}

	if *useSignal {
		if op != control.OpToggle {
			fmt.Fprintln(stderr, "voxinctl: -signal only supports toggle")
			return 2
		}
		if err := control.SignalToggle(*pidFile); err != nil {
			fmt.Fprintf(stderr, "voxinctl: %v\n", err)
			return 1
		}
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	resp, err := control.Send(ctx, *socket, op)
	if err != nil {
		fmt.Fprintf(stderr, "voxinctl: %v\n", err)
		return 1
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(resp)
	} else {
		printResponse(stdout, resp)
	}
	if !resp.OK {
		if !*asJSON {
			fmt.Fprintf(stderr, "voxinctl: %s\n", resp.Error)
		}
		return 1
	}
	return 0
}

func printResponse(w io.Writer, resp control.Response) {
	if resp.Action != "" {
		fmt.Fprintf(w, "%s\n", resp.Action)
	}
	if resp.Status == nil {
		return
	}
	s := resp.Status
	fmt.Fprintf(w, "state=%s worker=%s pending=%t can_record=%t\n", s.State, s.Worker, s.Pending, s.CanRecord)
	if s.LastMessage != "" {
		fmt.Fprintf(w, "message=%s\n", s.LastMessage)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

