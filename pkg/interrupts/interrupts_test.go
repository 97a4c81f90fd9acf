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

package interrupts

import (
	"context"
	"net"
	"net/http"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// interrupt injects a fake signal and waits for the handler to finish.
func interrupt(t *testing.T) {
	t.Helper()
	signalsLock.Lock()
	sig := make(chan os.Signal, 1)
	signals = func() <-chan os.Signal { return sig }
	signalsLock.Unlock()

	done := make(chan struct{})
	go func() {
		handleInterrupt()
		close(done)
	}()
	sig <- syscall.SIGINT
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("interrupt handler did not finish")
	}
}

func TestInterruptCancelsContextAndWaitsForWorkers(t *testing.T) {
	gracePeriod = 5 * time.Second

	var mu sync.Mutex
	var order []string
	record := func(event string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, event)
	}

	Run(func(ctx context.Context) {
		<-ctx.Done()
		record("worker stopped")
	})
	OnInterrupt(func() { record("cleanup ran") })

	interrupt(t)

	select {
	case <-Context().Done():
	default:
		t.Error("context not cancelled after interrupt")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 {
		t.Errorf("events = %v, want worker stop and cleanup", order)
	}
}

func TestListenAndServeExitsOnStartupFailure(t *testing.T) {
	// Hold the port so the server's own listen fails.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	exited := make(chan int, 1)
	logrus.StandardLogger().ExitFunc = func(code int) { exited <- code }
	defer func() { logrus.StandardLogger().ExitFunc = nil }()

	ListenAndServe(&http.Server{Addr: ln.Addr().String()}, time.Second)

	select {
	case code := <-exited:
		if code == 0 {
			t.Errorf("exit code = %d, want non-zero", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("listen failure did not terminate the process")
	}
}
