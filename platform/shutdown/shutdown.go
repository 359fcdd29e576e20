// Package shutdown coordinates graceful termination. Components register
// hooks that are fired, bounded by a grace period, when SIGINT or SIGTERM
// arrives; a global flag lets long loops bail out early.
package shutdown

import (
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rohanthewiz/logger"
)

const gracePeriod = 15 * time.Second

// HookFunc is a shutdown hook; it should return within the given duration
type HookFunc func(duration time.Duration) error

var (
	mu         sync.RWMutex
	isShutdown bool
	hooks      []HookFunc
)

// InProgress reports whether shutdown has been initiated
func InProgress() bool {
	mu.RLock()
	defer mu.RUnlock()
	return isShutdown
}

// RegisterHook adds a hook fired on shutdown
func RegisterHook(fn HookFunc) {
	mu.Lock()
	defer mu.Unlock()
	hooks = append(hooks, fn)
}

// InitShutdownService installs signal handling. When a shutdown signal
// arrives all hooks run concurrently, then done is closed so the app can
// exit.
func InitShutdownService(done chan struct{}) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer close(done)

		sig := <-sigChan
		log.Printf("Received shutdown signal: %v", sig)

		mu.Lock()
		isShutdown = true
		registered := make([]HookFunc, len(hooks))
		copy(registered, hooks)
		mu.Unlock()

		log.Printf("Shutting down %d hooks (grace period is: %s)", len(registered), gracePeriod)

		wg := sync.WaitGroup{}
		for i, hook := range registered {
			wg.Add(1)
			go func(it int, fn HookFunc) {
				defer wg.Done()
				_ = fn(gracePeriod)
				log.Printf("Shutdown hook %d completed", it)
			}(i, hook)
		}

		hooksDone := make(chan struct{})
		go func() {
			wg.Wait()
			close(hooksDone)
		}()

		select {
		case <-hooksDone:
			logger.Info("All shutdown hooks completed")
		case <-time.After(gracePeriod):
			log.Printf("Shutdown hooks timed out after %v", gracePeriod)
		}
	}()
}
