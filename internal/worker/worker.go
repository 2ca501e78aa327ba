// Package worker supervises periodic pipeline loops. Each worker owns
// a partition key and runs its task strictly sequentially: a tick that
// lands while the previous batch is still in flight is skipped, and an
// explicit RunOnce against a busy worker reports a conflict instead of
// queueing.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Supervisor errors.
var (
	// ErrUnknownWorker indicates no worker is registered under the key.
	ErrUnknownWorker = errors.New("unknown worker")

	// ErrBusy indicates the worker's previous batch is still in flight.
	ErrBusy = errors.New("worker busy")

	// ErrAlreadyRunning indicates Start was called on a running worker.
	ErrAlreadyRunning = errors.New("worker already running")

	// ErrNotRunning indicates Stop was called on a stopped worker.
	ErrNotRunning = errors.New("worker not running")
)

// Task is one batch of work. It receives the configured batch size and
// returns a short, human-readable outcome for the status surface.
type Task func(ctx context.Context, batchSize int) (string, error)

// Status is a point-in-time snapshot of one worker.
type Status struct {
	Key        string        `json:"key"`
	Running    bool          `json:"running"`
	InFlight   bool          `json:"in_flight"`
	Interval   time.Duration `json:"interval"`
	BatchSize  int           `json:"batch_size"`
	LastTick   time.Time     `json:"last_tick,omitempty"`
	LastResult string        `json:"last_result,omitempty"`
	LastError  string        `json:"last_error,omitempty"`
}

// state is the supervisor's record of one worker.
type state struct {
	key       string
	task      Task
	interval  time.Duration
	batchSize int

	running    bool
	inFlight   bool
	stop       chan struct{}
	cancelRun  context.CancelFunc
	lastTick   time.Time
	lastResult string
	lastErr    error
}

// Supervisor manages the worker registry. All state is in-memory;
// restarting the process stops every loop.
type Supervisor struct {
	mu      sync.Mutex
	workers map[string]*state
	wg      sync.WaitGroup
}

// NewSupervisor creates an empty supervisor.
func NewSupervisor() *Supervisor {
	return &Supervisor{workers: make(map[string]*state)}
}

// Register installs a worker under a partition key. Registering an
// existing key is an error; workers are configured once at startup.
func (s *Supervisor) Register(key string, task Task, interval time.Duration, batchSize int) error {
	if interval <= 0 {
		return fmt.Errorf("worker %s: interval must be positive", key)
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.workers[key]; exists {
		return fmt.Errorf("worker %s already registered", key)
	}
	s.workers[key] = &state{key: key, task: task, interval: interval, batchSize: batchSize}
	return nil
}

// Start launches a worker's tick loop.
func (s *Supervisor) Start(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workers[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownWorker, key)
	}
	if w.running {
		return fmt.Errorf("%w: %q", ErrAlreadyRunning, key)
	}

	w.running = true
	w.stop = make(chan struct{})
	s.wg.Add(1)
	go s.loop(w, w.stop)
	return nil
}

// loop ticks until the stop channel closes. A tick that finds the
// previous batch still in flight is dropped, never queued.
func (s *Supervisor) loop(w *state, stop chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			// Overlap means the task is slower than the interval;
			// skipping keeps execution strictly sequential per key.
			// Task errors are recorded on the worker and do not stop
			// the loop.
			if _, err := s.runOnce(context.Background(), w.key); errors.Is(err, ErrUnknownWorker) {
				return
			}
		}
	}
}

// Stop halts a worker's tick loop. A batch already in flight runs to
// completion; only the timer is cleared.
func (s *Supervisor) Stop(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workers[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownWorker, key)
	}
	if !w.running {
		return fmt.Errorf("%w: %q", ErrNotRunning, key)
	}

	close(w.stop)
	w.running = false
	return nil
}

// ForceStop halts the tick loop and cancels the in-flight batch. The
// interrupted record's attempt is abandoned, not recorded.
func (s *Supervisor) ForceStop(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workers[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownWorker, key)
	}
	if w.running {
		close(w.stop)
		w.running = false
	}
	if w.cancelRun != nil {
		w.cancelRun()
	}
	return nil
}

// RunOnce triggers a single batch immediately and returns that batch's
// outcome. It reports ErrBusy when a batch is already in flight for
// the key.
func (s *Supervisor) RunOnce(ctx context.Context, key string) (string, error) {
	return s.runOnce(ctx, key)
}

// runOnce executes one batch, guarding the in-flight flag under the
// supervisor lock. The task's result and error are returned directly;
// reading them back from the worker state would race with the next
// scheduled tick.
func (s *Supervisor) runOnce(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	w, ok := s.workers[key]
	if !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %q", ErrUnknownWorker, key)
	}
	if w.inFlight {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %q", ErrBusy, key)
	}
	w.inFlight = true
	w.lastTick = time.Now()
	runCtx, cancel := context.WithCancel(ctx)
	w.cancelRun = cancel
	task, batchSize := w.task, w.batchSize
	s.mu.Unlock()

	result, err := task(runCtx, batchSize)
	cancel()

	s.mu.Lock()
	w.inFlight = false
	w.cancelRun = nil
	w.lastResult = result
	w.lastErr = err
	s.mu.Unlock()
	return result, err
}

// StatusAll snapshots every worker, sorted by key.
func (s *Supervisor) StatusAll() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]Status, 0, len(s.workers))
	for _, w := range s.workers {
		statuses = append(statuses, snapshot(w))
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Key < statuses[j].Key })
	return statuses
}

// StatusOf snapshots one worker.
func (s *Supervisor) StatusOf(key string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workers[key]
	if !ok {
		return Status{}, fmt.Errorf("%w: %q", ErrUnknownWorker, key)
	}
	return snapshot(w), nil
}

func snapshot(w *state) Status {
	st := Status{
		Key:        w.key,
		Running:    w.running,
		InFlight:   w.inFlight,
		Interval:   w.interval,
		BatchSize:  w.batchSize,
		LastTick:   w.lastTick,
		LastResult: w.lastResult,
	}
	if w.lastErr != nil {
		st.LastError = w.lastErr.Error()
	}
	return st
}

// Shutdown stops every running worker and waits for loops to exit.
// In-flight batches run to completion.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	for _, w := range s.workers {
		if w.running {
			close(w.stop)
			w.running = false
		}
	}
	s.mu.Unlock()
	s.wg.Wait()
}
