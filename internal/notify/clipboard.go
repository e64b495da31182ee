// Package notify holds the desktop-facing adapters used when the daemon
// runs without the GUI: system clipboard and audible cues.
package notify

import (
	"context"
	"fmt"

	"github.com/atotto/clipboard"
)

// SystemClipboard writes to the OS clipboard (xclip/xsel/wl-copy on
// Linux, pbcopy on macOS).
type SystemClipboard struct {
	write func(string) error
}

func NewSystemClipboard() *SystemClipboard {
	return &SystemClipboard{write: clipboard.WriteAll}
}

// Available reports whether a clipboard backend was found.
func (c *SystemClipboard) Available() bool {
	return !clipboard.Unsupported
}

func (c *SystemClipboard) SetText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.write(text); err != nil {
		return fmt.Errorf("clipboard write failed: %w", err)
	}
	return nil
}
