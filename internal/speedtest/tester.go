package speedtest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const defaultTimeout = 2 * time.Minute

// ErrRunning is returned by Start while a test is in progress.
var ErrRunning = errors.New("speed test already running")

// Result is the outcome of one run. Error is set instead of the measurements
// when the run failed.
type Result struct {
	DownloadMbps float64   `json:"download"`
	UploadMbps   float64   `json:"upload"`
	PingMs       float64   `json:"ping"`
	Timestamp    time.Time `json:"timestamp"`
	Error        string    `json:"error,omitempty"`
}

// Status is what the status endpoint reports.
type Status struct {
	Running bool    `json:"running"`
	Result  *Result `json:"result"`
}

// Runner performs one measurement.
type Runner interface {
	Run(ctx context.Context) (Result, error)
}

// Observer receives finished runs, e.g. the metrics registry.
type Observer interface {
	ObserveSpeedtest(downloadMbps, uploadMbps, pingMs float64, failed bool)
}

// Tester runs at most one speed test at a time in the background and keeps
// the last result.
type Tester struct {
	runner   Runner
	observer Observer
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
	last    *Result
	done    chan struct{}
}

func NewTester(runner Runner, observer Observer, timeout time.Duration, logger *slog.Logger) *Tester {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tester{
		runner:   runner,
		observer: observer,
		timeout:  timeout,
		logger:   logger,
		now:      time.Now,
	}
}

// Start launches a run and returns immediately. The run is detached from
// ctx's cancellation and bounded by the tester's timeout instead.
func (t *Tester) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return ErrRunning
	}
	t.running = true
	t.done = make(chan struct{})
	done := t.done
	t.mu.Unlock()

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.timeout)
	go func() {
		defer close(done)
		defer cancel()
		t.finish(t.run(runCtx))
	}()
	return nil
}

func (t *Tester) run(ctx context.Context) (res Result) {
	defer func() {
		if rec := recover(); rec != nil {
			t.logger.Error("speed test panicked", "panic", rec)
			res = Result{Error: "speed test failed", Timestamp: t.now().UTC()}
		}
	}()
	t.logger.Info("speed test started")
	res, err := t.runner.Run(ctx)
	if err != nil {
		t.logger.Warn("speed test failed", "err", err)
		return Result{Error: err.Error(), Timestamp: t.now().UTC()}
	}
	if res.Timestamp.IsZero() {
		res.Timestamp = t.now().UTC()
	}
	t.logger.Info("speed test finished",
		"download_mbps", res.DownloadMbps,
		"upload_mbps", res.UploadMbps,
		"ping_ms", res.PingMs,
	)
	return res
}

func (t *Tester) finish(res Result) {
	if t.observer != nil {
		t.observer.ObserveSpeedtest(res.DownloadMbps, res.UploadMbps, res.PingMs, res.Error != "")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = &res
	t.running = false
}

// Status reports whether a run is in progress and the last result, if any.
func (t *Tester) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := Status{Running: t.running}
	if t.last != nil {
		res := *t.last
		st.Result = &res
	}
	return st
}

// Wait blocks until the current run, if any, has finished or ctx ends.
func (t *Tester) Wait(ctx context.Context) error {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
