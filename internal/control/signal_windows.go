//go:build windows

package control

import (
	"context"
	"errors"
)

var errNoSignals = errors.New("toggle signals are not supported on windows, use the control socket")

func NotifyToggle(_ context.Context, _ func()) {}

func SignalToggle(_ string) error { return errNoSignals }

func ProcessAlive(_ int) bool { return false }
