package sockstack

import (
	"context"
	"sync"
	"time"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
)

// ShutdownManager coordinates graceful shutdown of socket stacks.
// It provides context-based cancellation, gives holders of outstanding
// handles a bounded time to release them, and then closes every stack.
type ShutdownManager struct {
	// ctx is the context for shutdown signaling
	ctx context.Context

	// cancel cancels the shutdown context
	cancel context.CancelFunc

	// stacks tracks registered stacks
	stacks map[*Stack]struct{}

	// mu protects the stack map
	mu sync.RWMutex

	// shutdownTimeout is the maximum time to wait for handles to drain
	shutdownTimeout time.Duration

	// pollInterval is how often drain progress is checked
	pollInterval time.Duration

	// logger for shutdown events
	logger *logger.Logger

	// done signals when shutdown is complete
	done chan struct{}

	// once ensures shutdown only happens once
	once sync.Once

	// shutdownErr is the result of the first Shutdown
	shutdownErr error
}

// NewShutdownManager creates a new shutdown manager with the given timeout.
// If timeout is 0, a default of 30 seconds is used.
func NewShutdownManager(timeout time.Duration) *ShutdownManager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &ShutdownManager{
		ctx:             ctx,
		cancel:          cancel,
		stacks:          make(map[*Stack]struct{}),
		shutdownTimeout: timeout,
		pollInterval:    50 * time.Millisecond,
		logger:          log,
		done:            make(chan struct{}),
	}
}

// RegisterStack adds a stack to be closed during shutdown.
func (sm *ShutdownManager) RegisterStack(st *Stack) {
	if st == nil {
		return
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.stacks[st] = struct{}{}
	sm.logger.WithFields(logrus.Fields{
		"capacity":     st.Capacity(),
		"total_stacks": len(sm.stacks),
	}).Debug("registered stack for shutdown management")
}

// UnregisterStack removes a stack from shutdown management.
// Stack.Close calls this itself.
func (sm *ShutdownManager) UnregisterStack(st *Stack) {
	if st == nil {
		return
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	delete(sm.stacks, st)
	sm.logger.WithField("total_stacks", len(sm.stacks)).
		Debug("unregistered stack from shutdown management")
}

// Context returns the shutdown context. It is cancelled as soon as
// Shutdown starts, which is the signal for handle holders to release.
func (sm *ShutdownManager) Context() context.Context {
	return sm.ctx
}

// Shutdown cancels the context, waits for outstanding handles to be
// released, and closes every registered stack. Stacks still holding
// handles after the timeout are closed anyway, which abandons their I/O.
// Later calls return the first call's result.
func (sm *ShutdownManager) Shutdown() error {
	sm.once.Do(func() {
		defer close(sm.done)

		stacks := sm.snapshot()
		sm.logger.WithFields(logrus.Fields{
			"timeout": sm.shutdownTimeout.String(),
			"stacks":  len(stacks),
		}).Info("initiating graceful shutdown")
		sm.cancel()

		if err := sm.waitForHandlesDrain(stacks); err != nil {
			sm.logger.WithError(err).Warn("timeout waiting for handles to drain, forcing close")
		}

		sm.shutdownErr = sm.closeStacks(stacks)
		sm.logger.Info("graceful shutdown complete")
	})

	return sm.shutdownErr
}

// Wait blocks until shutdown is complete.
func (sm *ShutdownManager) Wait() {
	<-sm.done
}

func (sm *ShutdownManager) snapshot() []*Stack {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	stacks := make([]*Stack, 0, len(sm.stacks))
	for st := range sm.stacks {
		stacks = append(stacks, st)
	}
	return stacks
}

// waitForHandlesDrain waits until no stack has a handle in use, or the timeout.
func (sm *ShutdownManager) waitForHandlesDrain(stacks []*Stack) error {
	ticker := time.NewTicker(sm.pollInterval)
	defer ticker.Stop()

	timeout := time.NewTimer(sm.shutdownTimeout)
	defer timeout.Stop()

	for {
		remaining := outstandingHandles(stacks)
		if remaining == 0 {
			return nil
		}

		select {
		case <-timeout.C:
			return oops.
				Code("SHUTDOWN_TIMEOUT").
				In("shutdown").
				With("remaining_handles", remaining).
				With("timeout", sm.shutdownTimeout.String()).
				Errorf("timeout waiting for handles to drain")

		case <-ticker.C:
			sm.logger.WithField("remaining_handles", remaining).
				Debug("waiting for handles to drain")
		}
	}
}

// closeStacks closes every stack and returns the first error.
func (sm *ShutdownManager) closeStacks(stacks []*Stack) error {
	var firstError error
	for _, st := range stacks {
		if err := st.Close(); err != nil {
			sm.logger.WithError(err).Error("error closing stack during shutdown")
			if firstError == nil {
				firstError = err
			}
		}
	}
	return firstError
}

func outstandingHandles(stacks []*Stack) int {
	n := 0
	for _, st := range stacks {
		n += st.Stats()["in_use"]
	}
	return n
}
