// Package date provides a cached, thread-safe value for the HTTP Date header.
package date

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// refresh is how often the cached value is rebuilt.
const refresh = 500 * time.Millisecond

var (
	current atomic.Pointer[[]byte]

	mu      sync.Mutex
	users   int
	stopped chan struct{}
)

// StartTicker starts refreshing the cached value in the background and
// returns a stop function. Calls nest: the ticker stops once every returned
// stop function has been called.
func StartTicker() func() {
	mu.Lock()
	defer mu.Unlock()

	update(time.Now())
	users++
	if users == 1 {
		stopped = make(chan struct{})
		go tick(stopped)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			mu.Lock()
			defer mu.Unlock()
			users--
			if users == 0 {
				close(stopped)
				current.Store(nil)
			}
		})
	}
}

func tick(done <-chan struct{}) {
	ticker := time.NewTicker(refresh)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			update(now)
		case <-done:
			return
		}
	}
}

func update(now time.Time) {
	b := []byte(now.UTC().Format(http.TimeFormat))
	current.Store(&b)
}

// Current returns the cached header value. Without a running ticker it is
// formatted on demand.
func Current() []byte {
	if p := current.Load(); p != nil {
		return *p
	}
	return []byte(time.Now().UTC().Format(http.TimeFormat))
}
