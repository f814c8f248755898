package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	sockstack "github.com/go-i2p/go-sockstack"
	"github.com/sirupsen/logrus"
)

// openStack builds the configured stack under a shutdown manager that
// fires on SIGINT or SIGTERM. The returned stop func closes everything.
func openStack() (*sockstack.Stack, func(), error) {
	st, err := current.cfg.NewStack()
	if err != nil {
		return nil, nil, err
	}

	sm := sockstack.NewShutdownManager(current.cfg.Stack.ShutdownTimeout)
	st.SetShutdownManager(sm)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		if err := sm.Shutdown(); err != nil {
			current.log.WithError(err).Warn("shutdown reported an error")
		}
	}()

	stop := func() {
		cancel()
		sm.Wait()
	}
	return st, stop, nil
}

// dial acquires a handle and connects it to the configured remote.
func dial(st *sockstack.Stack) (*sockstack.Conn, error) {
	remote, err := current.cfg.RemoteAddr()
	if err != nil {
		return nil, err
	}

	current.log.WithFields(logrus.Fields{
		"remote":      remote.String(),
		"server_name": current.cfg.Remote.ServerName,
		"engine":      current.cfg.Stack.Engine,
	}).Debug("dialing")

	return st.Dial(remote)
}
