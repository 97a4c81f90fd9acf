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

package probe

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrUnknownProbe is returned for ids not present in the registry.
	ErrUnknownProbe = fmt.Errorf("unknown probe")

	runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "preflight_probe_duration_seconds",
		Help:    "Wall time of probe executions.",
		Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"probe"})
	runResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "preflight_probe_results_total",
		Help: "Terminal probe results by status.",
	}, []string{"probe", "status"})
)

func init() {
	prometheus.MustRegister(runDuration, runResults)
}

// StatusSnapshot is the runner's per-probe view served to the dashboard.
type StatusSnapshot struct {
	Status     Status     `json:"status"`
	Configured bool       `json:"configured"`
	Message    string     `json:"message,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// inflight tracks one probe execution so that concurrent callers join
// it instead of starting a second.
type inflight struct {
	started time.Time
	done    chan struct{}
	result  Result
}

type allInflight struct {
	done    chan struct{}
	results map[string]Result
}

// Runner executes probes concurrently, enforcing per-probe deadlines,
// and holds the latest terminal result per probe. The zero value is not
// usable; construct with NewRunner.
type Runner struct {
	registry *Registry
	// maxConcurrency caps the number of probes RunAll executes at once.
	maxConcurrency int
	// baseCtx is cancelled at process shutdown; every execution
	// deadline is derived from it.
	baseCtx context.Context

	mu       sync.Mutex
	latest   map[string]Result
	inFlight map[string]*inflight
	allRun   *allInflight
}

// NewRunner builds a Runner over the registry. baseCtx should be the
// process lifetime context so shutdown cancels in-flight probes.
func NewRunner(baseCtx context.Context, registry *Registry, maxConcurrency int) *Runner {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Runner{
		registry:       registry,
		maxConcurrency: maxConcurrency,
		baseCtx:        baseCtx,
		latest:         map[string]Result{},
		inFlight:       map[string]*inflight{},
	}
}

// Run executes one probe under the given timeout. Concurrent calls for
// the same probe collapse to a single execution; every caller receives
// the same result. The terminal result is stored as the probe's latest.
func (r *Runner) Run(id string, timeout time.Duration) (Result, error) {
	p, ok := r.registry.Get(id)
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownProbe, id)
	}

	r.mu.Lock()
	if f, joined := r.inFlight[id]; joined {
		r.mu.Unlock()
		<-f.done
		return f.result, nil
	}
	f := &inflight{started: time.Now(), done: make(chan struct{})}
	r.inFlight[id] = f
	r.mu.Unlock()

	go r.execute(p, f, timeout)
	<-f.done
	return f.result, nil
}

// execute runs the probe on its own goroutine, enforces the deadline,
// and publishes the terminal result.
func (r *Runner) execute(p Interface, f *inflight, timeout time.Duration) {
	final := r.executeInner(p, f.started, timeout)

	runDuration.WithLabelValues(p.ID()).Observe(final.DurationSeconds)
	runResults.WithLabelValues(p.ID(), string(final.Status)).Inc()

	r.mu.Lock()
	r.latest[p.ID()] = final
	delete(r.inFlight, p.ID())
	r.mu.Unlock()

	f.result = final
	close(f.done)
}

func (r *Runner) executeInner(p Interface, started time.Time, timeout time.Duration) Result {
	if !p.Configured() {
		return Skipped(p, missingKeysOf(p))
	}
	if timeout <= 0 {
		return timeoutResult(p, started, timeout)
	}

	ctx, cancel := context.WithTimeout(r.baseCtx, timeout)

	resCh := make(chan Result, 1)
	go func() {
		defer func() {
			if v := recover(); v != nil {
				logrus.WithFields(logrus.Fields{"probe": p.ID(), "panic": v}).
					Errorf("Probe panicked: %s", debug.Stack())
				now := time.Now()
				resCh <- Result{
					ProbeID:         p.ID(),
					DisplayName:     p.DisplayName(),
					Status:          StatusError,
					Message:         fmt.Sprintf("probe panicked: %v", v),
					StartedAt:       started,
					FinishedAt:      now,
					DurationSeconds: now.Sub(started).Seconds(),
					Remediation:     "this is a bug in the probe; capture the service logs and report it",
				}
			}
		}()
		resCh <- p.Execute(ctx)
	}()

	select {
	case res := <-resCh:
		cancel()
		return res
	case <-ctx.Done():
		// The probe is past its deadline. It was cancelled via ctx; if
		// it cannot honor cancellation it drains into the buffered
		// channel in the background and its result is discarded.
		go func() {
			<-resCh
			cancel()
		}()
		return timeoutResult(p, started, timeout)
	}
}

func timeoutResult(p Interface, started time.Time, timeout time.Duration) Result {
	now := time.Now()
	return Result{
		ProbeID:         p.ID(),
		DisplayName:     p.DisplayName(),
		Status:          StatusTimeout,
		Message:         fmt.Sprintf("did not finish within the %s deadline", timeout),
		StartedAt:       started,
		FinishedAt:      now,
		DurationSeconds: now.Sub(started).Seconds(),
		Remediation:     "the dependency is reachable but slow, or the timeout is too aggressive; raise the timeout or check network latency to the dependency",
	}
}

// RunAll executes every configured probe concurrently under the
// concurrency cap, each with its own timeout. Unconfigured probes get a
// skipped entry in the returned map. A second concurrent RunAll joins
// the first and receives the same map.
func (r *Runner) RunAll(timeoutPerProbe time.Duration) map[string]Result {
	r.mu.Lock()
	if a := r.allRun; a != nil {
		r.mu.Unlock()
		<-a.done
		return a.results
	}
	a := &allInflight{done: make(chan struct{})}
	r.allRun = a
	r.mu.Unlock()

	results := make(map[string]Result, len(r.registry.IDs()))
	var resultsMu sync.Mutex

	g, _ := errgroup.WithContext(r.baseCtx)
	g.SetLimit(r.maxConcurrency)
	for _, p := range r.registry.List() {
		if !p.Configured() {
			skipped := Skipped(p, missingKeysOf(p))
			resultsMu.Lock()
			results[p.ID()] = skipped
			resultsMu.Unlock()
			// Preserve an existing terminal result; only record the
			// skip when the probe has never produced one.
			r.mu.Lock()
			if _, seen := r.latest[p.ID()]; !seen {
				r.latest[p.ID()] = skipped
			}
			r.mu.Unlock()
			continue
		}
		g.Go(func() error {
			res, err := r.Run(p.ID(), timeoutPerProbe)
			if err != nil {
				// Cannot happen: the id came from the registry.
				res = Result{
					ProbeID:     p.ID(),
					Status:      StatusError,
					Message:     fmt.Sprintf("internal runner failure: %v", err),
					Remediation: "restart the service",
				}
			}
			resultsMu.Lock()
			results[p.ID()] = res
			resultsMu.Unlock()
			return nil
		})
	}
	g.Wait()

	a.results = results
	r.mu.Lock()
	r.allRun = nil
	r.mu.Unlock()
	close(a.done)
	return results
}

// Status returns a copy of the runner's per-probe state in display
// order. Each probe's fields are consistent; different probes may be
// observed at different moments.
func (r *Runner) Status() map[string]StatusSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]StatusSnapshot, len(r.registry.IDs()))
	for _, p := range r.registry.List() {
		id := p.ID()
		if f, running := r.inFlight[id]; running {
			started := f.started
			out[id] = StatusSnapshot{Status: StatusRunning, Configured: true, StartedAt: &started}
			continue
		}
		if res, ok := r.latest[id]; ok {
			started, finished := res.StartedAt, res.FinishedAt
			out[id] = StatusSnapshot{
				Status:     res.Status,
				Configured: p.Configured(),
				Message:    res.Message,
				StartedAt:  &started,
				FinishedAt: &finished,
			}
			continue
		}
		out[id] = StatusSnapshot{Status: StatusPending, Configured: p.Configured()}
	}
	return out
}

// LastResult returns the latest terminal result for a probe, if any.
func (r *Runner) LastResult(id string) (Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.latest[id]
	return res, ok
}

// missingKeysOf asks probes that can report their missing configuration
// keys to do so; others yield a generic skip message.
func missingKeysOf(p Interface) []string {
	if mk, ok := p.(interface{ MissingKeys() []string }); ok {
		return mk.MissingKeys()
	}
	return nil
}
