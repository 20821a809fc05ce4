//go:build desktop

package stopkey

import (
	"context"
	"fmt"

	"golang.design/x/hotkey"
)

type hotkeyListener struct {
	key hotkey.Key
}

// New builds a listener on the system-wide hotkey, independent of which
// window has focus.
func New(name string) (Listener, error) {
	key, err := ParseKey(name)
	if err != nil {
		return nil, err
	}
	if key == KeySpace {
		return &hotkeyListener{key: hotkey.KeySpace}, nil
	}
	return &hotkeyListener{key: hotkey.KeyEscape}, nil
}

// Listen registers the hotkey and calls onPress for every press. It blocks,
// so callers run it on its own goroutine.
func (l *hotkeyListener) Listen(ctx context.Context, onPress func()) error {
	hk := hotkey.New(nil, l.key)
	if err := hk.Register(); err != nil {
		return fmt.Errorf("register stop hotkey: %w", err)
	}
	defer func() { _ = hk.Unregister() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hk.Keydown():
			onPress()
		}
	}
}
