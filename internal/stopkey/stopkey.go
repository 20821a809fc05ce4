// Package stopkey listens for the global key that stops a screen recording.
//
// The hotkey library panics during package init on Linux hosts without a
// display server, so it is only linked into binaries built with the desktop
// tag (the tag wails build sets). Other builds get a New that reports
// ErrUnavailable.
package stopkey

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnavailable is returned by New in builds without the desktop tag.
var ErrUnavailable = errors.New("global stop key needs the desktop build")

// Key is a supported stop key.
type Key string

const (
	KeyEscape Key = "esc"
	KeySpace  Key = "space"
)

// Listener reports presses of the stop key until ctx is done.
type Listener interface {
	Listen(ctx context.Context, onPress func()) error
}

// ParseKey maps a settings value to a Key. Empty means escape.
func ParseKey(name string) (Key, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "esc", "escape":
		return KeyEscape, nil
	case "space":
		return KeySpace, nil
	default:
		return "", fmt.Errorf("unsupported stop key %q", name)
	}
}
