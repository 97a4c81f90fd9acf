/*
Copyright 2025 The airia-test-pod Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package interrupts exposes helpers for graceful handling of interrupt
// signals. Workers and servers registered with this package are given a
// grace period to finish their work when the process is asked to exit.
// The package usage is not entirely trivial:
//   - call only one of WaitForGracefulShutdown or Context/Run per process
//     lifetime from the main goroutine
//   - register all servers and workers before the interrupt can fire
package interrupts

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	single = newManager()

	// gracePeriod is how long workers get to clean up after the context
	// is cancelled. Mutable for testing.
	gracePeriod = 30 * time.Second

	// signals returns the channel the manager waits on. Mutable for
	// testing so an interrupt can be injected.
	signals = func() <-chan os.Signal {
		sig := make(chan os.Signal, 2)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		return sig
	}
	signalsLock = sync.Mutex{}
)

type manager struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newManager() *manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &manager{ctx: ctx, cancel: cancel}
}

func init() {
	go handleInterrupt()
}

func handleInterrupt() {
	signalsLock.Lock()
	sigChan := signals()
	signalsLock.Unlock()
	s := <-sigChan
	logrus.WithField("signal", s).Info("Received signal, beginning graceful shutdown.")

	single.cancel()

	done := make(chan struct{})
	go func() {
		single.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logrus.Info("All workers gracefully terminated, exiting.")
	case <-time.After(gracePeriod):
		logrus.Warn("Timed out waiting for workers to gracefully terminate, exiting.")
	}
}

// Context returns a context that is cancelled when an interrupt hits.
func Context() context.Context {
	return single.ctx
}

// Run starts the worker and ensures the process waits for it to finish
// cleaning up (until the grace period expires) before exiting on an
// interrupt. The worker is expected to return once its context is done.
func Run(work func(ctx context.Context)) {
	single.wg.Add(1)
	go func() {
		defer single.wg.Done()
		work(single.ctx)
	}()
}

// OnInterrupt registers a cleanup function to run when an interrupt hits.
func OnInterrupt(f func()) {
	single.wg.Add(1)
	go func() {
		defer single.wg.Done()
		<-single.ctx.Done()
		f()
	}()
}

// ListenAndServe runs the HTTP server and gracefully shuts it down when
// an interrupt hits, waiting at most gracePeriod for in-flight requests.
func ListenAndServe(server *http.Server, gracePeriod time.Duration) {
	single.wg.Add(1)
	go func() {
		defer single.wg.Done()
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			// The listener never came up (port in use, bad address).
			// Nothing will cancel the manager context, so exit here
			// instead of hanging in WaitForGracefulShutdown.
			logrus.WithError(err).Fatal("Server failed.")
		}
		logrus.WithError(err).Info("Server exited.")
	}()
	single.wg.Add(1)
	go func() {
		defer single.wg.Done()
		<-single.ctx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), gracePeriod)
		defer cancel()
		logrus.WithError(server.Shutdown(ctx)).Info("Server shut down.")
	}()
}

// WaitForGracefulShutdown blocks until all registered workers have
// finished after an interrupt. Call this from main, deferred, so the
// process does not exit while cleanup is running.
func WaitForGracefulShutdown() {
	<-single.ctx.Done()
	single.wg.Wait()
}
