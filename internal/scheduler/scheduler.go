// Package scheduler runs the daemon's periodic maintenance tasks. Tasks
// are registered before Start; the dispatch loop fires each one when its
// schedule comes due and keeps per-task run history.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"grimm.is/palisade/internal/clock"
	"grimm.is/palisade/internal/logging"
)

// TaskFunc does the work of one run. The context is cancelled when the
// scheduler stops or the task's timeout elapses.
type TaskFunc func(ctx context.Context) error

// Schedule decides when a task runs next.
type Schedule interface {
	// Next returns the first run time strictly after t.
	Next(t time.Time) time.Time
}

// Task is a named periodic job.
type Task struct {
	ID         string
	Name       string
	Schedule   Schedule
	Func       TaskFunc
	RunOnStart bool
	Timeout    time.Duration
}

// TaskStatus reports one task's run history.
type TaskStatus struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	NextRun      time.Time     `json:"next_run"`
	LastRun      time.Time     `json:"last_run,omitempty"`
	LastDuration time.Duration `json:"last_duration,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
	RunCount     int64         `json:"run_count"`
	ErrorCount   int64         `json:"error_count"`
}

// Scheduler owns a fixed set of tasks and runs them on their schedules.
type Scheduler struct {
	log  *logging.Logger
	clk  clock.Clock
	tick time.Duration

	mu      sync.Mutex
	tasks   map[string]*taskEntry
	running bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type taskEntry struct {
	task    *Task
	status  TaskStatus
	nextRun time.Time
}

// New creates an empty scheduler.
func New(log *logging.Logger, clk clock.Clock) *Scheduler {
	if log == nil {
		log = logging.Default().WithComponent("scheduler")
	}
	if clk == nil {
		clk = &clock.RealClock{}
	}
	return &Scheduler{
		log:   log,
		clk:   clk,
		tick:  time.Second,
		tasks: make(map[string]*taskEntry),
	}
}

// AddTask registers a task. IDs must be unique and all tasks must be in
// place before Start.
func (s *Scheduler) AddTask(task *Task) error {
	if task.ID == "" || task.Schedule == nil || task.Func == nil {
		return fmt.Errorf("task needs an id, a schedule and a func")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already started")
	}
	if _, ok := s.tasks[task.ID]; ok {
		return fmt.Errorf("task %s already registered", task.ID)
	}

	s.tasks[task.ID] = &taskEntry{
		task:   task,
		status: TaskStatus{ID: task.ID, Name: task.Name},
	}
	return nil
}

// Start computes each task's first run and launches the dispatch loop.
// Tasks marked RunOnStart fire immediately as well.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true

	now := s.clk.Now()
	for _, entry := range s.tasks {
		entry.nextRun = entry.task.Schedule.Next(now)
		entry.status.NextRun = entry.nextRun
		if entry.task.RunOnStart {
			s.launch(entry)
		}
	}
	n := len(s.tasks)
	s.mu.Unlock()

	s.log.Info("scheduler started", "tasks", n)

	s.wg.Add(1)
	go s.run()
}

// Stop cancels the loop and waits for in-flight tasks to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

// Status returns every task's state, sorted by name.
func (s *Scheduler) Status() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskStatus, 0, len(s.tasks))
	for _, entry := range s.tasks {
		out = append(out, entry.status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.dispatch()
		}
	}
}

// dispatch fires every due task. The next run is advanced before the
// task starts so a slow run is not relaunched on each tick.
func (s *Scheduler) dispatch() {
	now := s.clk.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.tasks {
		if entry.nextRun.After(now) {
			continue
		}
		entry.nextRun = entry.task.Schedule.Next(now)
		entry.status.NextRun = entry.nextRun
		s.launch(entry)
	}
}

// launch starts one run. The caller holds s.mu.
func (s *Scheduler) launch(entry *taskEntry) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(entry)
	}()
}

func (s *Scheduler) execute(entry *taskEntry) {
	task := entry.task

	var cancel context.CancelFunc
	ctx := s.ctx
	if task.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, task.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	start := s.clk.Now()
	err := task.Func(ctx)
	took := s.clk.Since(start)

	s.mu.Lock()
	entry.status.LastRun = start
	entry.status.LastDuration = took
	entry.status.RunCount++
	if err != nil {
		entry.status.LastError = err.Error()
		entry.status.ErrorCount++
	} else {
		entry.status.LastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("task failed", "id", task.ID, "error", err, "took", took)
	} else {
		s.log.Debug("task completed", "id", task.ID, "took", took)
	}
}
