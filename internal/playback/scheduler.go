package playback

import (
	"sync"
	"time"
)

// TickerScheduler fires a time.Ticker and hands every tick to post, which
// delivers it to the interactive loop. post may drop ticks when the loop is
// busy.
type TickerScheduler struct {
	post func(fn func())
}

// NewTickerScheduler creates a scheduler delivering ticks through post.
func NewTickerScheduler(post func(fn func())) *TickerScheduler {
	return &TickerScheduler{post: post}
}

// Every starts a ticker; the returned func stops it.
func (s *TickerScheduler) Every(interval time.Duration, fn func()) func() {
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				s.post(fn)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}
