package task

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"ffedit/config"
	"ffedit/geometry"
	"ffedit/metrics"

	"github.com/lithammer/shortuuid/v4"
)

var (
	ErrNotFound  = errors.New("task not found")
	ErrQueueFull = errors.New("task queue is full")
)

// Encoder turns tasks into running processes.
type Encoder interface {
	// Prepare resolves the encoder arguments and output path without side effects.
	Prepare(t *Task) (args []string, outputPath string, err error)
	Encode(ctx context.Context, t *Task) (Process, error)
}

// Request is an export of one clip to one target.
type Request struct {
	Target   Target              `json:"target"`
	Clip     ClipSource          `json:"clip"`
	Bounds   geometry.CropBounds `json:"bounds"`
	Trim     geometry.TrimWindow `json:"trim"`
	Settings ExportSettings      `json:"settings"`
}

// watchBuffer is how many chunks a subscriber may fall behind before it is dropped.
const watchBuffer = 64

type watcher struct {
	ch     chan string
	lagged atomic.Bool
}

type entry struct {
	task            *Task
	proc            Process
	cancelRequested bool
	log             []byte
	watchers        map[*watcher]struct{}
}

// Subscription follows the encoder output of one task.
type Subscription struct {
	// Tail is the log as it stood when the subscription started. Updates
	// carries every chunk appended after it.
	Tail string

	w      *watcher
	cancel func()
}

// Updates is closed when the task reaches a terminal state, or early when
// the subscriber fell behind; Lagged tells the two apart.
func (s *Subscription) Updates() <-chan string { return s.w.ch }

// Lagged reports whether Updates was closed because chunks were not taken
// fast enough. Watching again resumes from the current tail.
func (s *Subscription) Lagged() bool { return s.w.lagged.Load() }

func (s *Subscription) Close() { s.cancel() }

// Manager queues export tasks and runs them with bounded concurrency.
// It is the admission layer on top of the encoder, which itself places no
// limit on concurrent processes.
type Manager struct {
	cfg            *config.Config
	mu             sync.Mutex // guards every entry and the task it holds
	tasks          map[string]*entry
	taskQueue      chan *entry
	concurrencySem chan struct{}
	encoder        Encoder
}

func NewManager(cfg *config.Config, encoder Encoder) (*Manager, error) {
	if encoder == nil {
		return nil, fmt.Errorf("task manager needs an encoder")
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 100
	}
	return &Manager{
		cfg:            cfg,
		tasks:          make(map[string]*entry),
		taskQueue:      make(chan *entry, queueSize),
		concurrencySem: make(chan struct{}, cfg.MaxConcurrency),
		encoder:        encoder,
	}, nil
}

func (m *Manager) Start(ctx context.Context) {
	log.Println("Task manager started. Concurrency limit:", m.cfg.MaxConcurrency)
	go m.cleanupLoop(ctx)
	go m.workerLoop(ctx)
}

// workerLoop pulls tasks from the queue and processes them
func (m *Manager) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			log.Println("Worker loop shutting down.")
			return
		case e := <-m.taskQueue:
			select {
			case m.concurrencySem <- struct{}{}:
			case <-ctx.Done():
				log.Println("Worker loop shutting down.")
				return
			}
			go func(e *entry) {
				defer func() { <-m.concurrencySem }()
				m.processTask(ctx, e)
			}(e)
		}
	}
}

// processTask runs a single task to a terminal state.
func (m *Manager) processTask(parentCtx context.Context, e *entry) {
	taskCtx := parentCtx
	if m.cfg.FFTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(parentCtx, m.cfg.FFTimeout)
		defer cancel()
	}

	m.mu.Lock()
	t := e.task
	if t.Status == StatusCanceled {
		m.mu.Unlock()
		log.Printf("Task %s was canceled before processing.", t.ID)
		return
	}
	log.Printf("Processing task %s", t.ID)
	t.Status = StatusProcessing
	t.StartedAt = time.Now()
	m.mu.Unlock()

	proc, err := m.encoder.Encode(taskCtx, t)
	if err != nil {
		log.Printf("Task %s failed to start: %v", t.ID, err)
		m.finish(e, StatusFailed, err.Error(), -1)
		return
	}

	m.mu.Lock()
	e.proc = proc
	cancelNow := e.cancelRequested
	m.mu.Unlock()
	if cancelNow {
		proc.Cancel()
	}

	metrics.TasksRunning.Inc()
	for chunk := range proc.Progress() {
		m.appendLog(e, chunk)
	}
	<-proc.Done()
	metrics.TasksRunning.Dec()
	metrics.TaskDuration.Observe(time.Since(t.StartedAt).Seconds())

	res := proc.Result()
	switch {
	case res.Cancelled:
		reason := "Task was canceled"
		if errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
			reason = "Task timed out"
		}
		log.Printf("Task %s: %s.", t.ID, reason)
		m.removePartialOutput(t)
		m.finish(e, StatusCanceled, reason, res.ExitCode)
	case res.Err != nil:
		log.Printf("Task %s failed: %v", t.ID, res.Err)
		m.finish(e, StatusFailed, res.Err.Error(), res.ExitCode)
	default:
		log.Printf("Task %s completed successfully.", t.ID)
		m.finish(e, StatusCompleted, "", res.ExitCode)
	}
}

// removePartialOutput deletes whatever a killed encoder left behind.
func (m *Manager) removePartialOutput(t *Task) {
	m.mu.Lock()
	path := t.OutputPath
	m.mu.Unlock()
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("Task %s: could not remove partial output %s: %v", t.ID, path, err)
	}
}

func (m *Manager) finish(e *entry, status Status, errMsg string, exitCode int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.task.Status = status
	e.task.Error = errMsg
	e.task.ExitCode = exitCode
	e.task.CompletedAt = time.Now()
	e.proc = nil
	closeWatchers(e)
	metrics.TasksFinishedTotal.WithLabelValues(string(status)).Inc()
}

func (m *Manager) appendLog(e *entry, chunk string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.log = append(e.log, chunk...)
	if limit := m.cfg.LogTailSize; limit > 0 && int64(len(e.log)) > limit {
		e.log = append(e.log[:0], e.log[int64(len(e.log))-limit:]...)
	}
	for w := range e.watchers {
		select {
		case w.ch <- chunk:
		default:
			w.lagged.Store(true)
			delete(e.watchers, w)
			close(w.ch)
		}
	}
}

func closeWatchers(e *entry) {
	for w := range e.watchers {
		close(w.ch)
	}
	e.watchers = nil
}

// cleanupLoop forgets tasks that finished longer than TaskRetention ago.
func (m *Manager) cleanupLoop(ctx context.Context) {
	if m.cfg.TaskRetention <= 0 {
		return
	}
	ticker := time.NewTicker(m.cfg.TaskRetention / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Cleanup loop shutting down.")
			return
		case <-ticker.C:
			m.forgetFinished(time.Now().Add(-m.cfg.TaskRetention))
		}
	}
}

func (m *Manager) forgetFinished(before time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, e := range m.tasks {
		if e.task.Status.Terminal() && e.task.CompletedAt.Before(before) {
			delete(m.tasks, id)
			n++
		}
	}
	if n > 0 {
		log.Printf("Forgot %d finished tasks.", n)
	}
	return n
}

// Submit validates the request, resolving its encoder arguments, and
// queues it. Argument errors are returned before anything is queued.
func (m *Manager) Submit(req Request) (*Task, error) {
	target := req.Target
	if target == "" {
		target = TargetVideo
	}
	if target != TargetVideo && target != TargetPoster {
		return nil, fmt.Errorf("unknown target %q", target)
	}

	t := &Task{
		ID:        fmt.Sprintf("%s_%d", shortuuid.New(), time.Now().Unix()),
		Status:    StatusQueued,
		Target:    target,
		Clip:      req.Clip,
		Bounds:    req.Bounds,
		Trim:      req.Trim,
		Output:    req.Settings.Spec(target),
		CreatedAt: time.Now(),
	}

	args, outputPath, err := m.encoder.Prepare(t)
	if err != nil {
		return nil, err
	}
	t.Args = args
	t.OutputPath = outputPath

	e := &entry{task: t}
	m.mu.Lock()
	m.tasks[t.ID] = e
	m.mu.Unlock()

	select {
	case m.taskQueue <- e:
	default:
		m.mu.Lock()
		delete(m.tasks, t.ID)
		m.mu.Unlock()
		return nil, ErrQueueFull
	}
	metrics.TasksSubmittedTotal.WithLabelValues(string(target)).Inc()
	log.Printf("Task %s submitted to queue.", t.ID)
	return m.snapshot(e), nil
}

// snapshot copies the task so callers never race with the worker.
func (m *Manager) snapshot(e *entry) *Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *e.task
	c.Args = append([]string(nil), e.task.Args...)
	c.Log = string(e.log)
	return &c
}

func (m *Manager) Get(taskID string) (*Task, bool) {
	m.mu.Lock()
	e, ok := m.tasks[taskID]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	return m.snapshot(e), true
}

// List returns every known task, oldest first.
func (m *Manager) List() []*Task {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.tasks))
	for _, e := range m.tasks {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	taskList := make([]*Task, 0, len(entries))
	for _, e := range entries {
		taskList = append(taskList, m.snapshot(e))
	}
	sort.Slice(taskList, func(i, j int) bool {
		if taskList[i].CreatedAt.Equal(taskList[j].CreatedAt) {
			return taskList[i].ID < taskList[j].ID
		}
		return taskList[i].CreatedAt.Before(taskList[j].CreatedAt)
	})
	return taskList
}

func (m *Manager) Cancel(taskID string) error {
	m.mu.Lock()
	e, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}

	t := e.task
	switch t.Status {
	case StatusCompleted, StatusFailed, StatusCanceled:
		m.mu.Unlock()
		return fmt.Errorf("cannot cancel task in state: %s", t.Status)
	case StatusQueued:
		t.Status = StatusCanceled
		t.Error = "Canceled by user while in queue"
		t.CompletedAt = time.Now()
		closeWatchers(e)
		m.mu.Unlock()
		metrics.TasksFinishedTotal.WithLabelValues(string(StatusCanceled)).Inc()
		log.Printf("Task %s marked as canceled in queue.", t.ID)
		return nil
	}

	// Processing: the worker picks the flag up if the process is not started yet.
	e.cancelRequested = true
	proc := e.proc
	m.mu.Unlock()
	if proc != nil {
		proc.Cancel()
	}
	log.Printf("Cancellation signal sent to running task %s.", t.ID)
	return nil
}

// Watch subscribes to the encoder output of a task. The subscription of a
// task that already finished has its Updates closed.
func (m *Manager) Watch(taskID string) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}

	w := &watcher{ch: make(chan string, watchBuffer)}
	sub := &Subscription{Tail: string(e.log), w: w, cancel: func() {}}
	if e.task.Status.Terminal() {
		close(w.ch)
		return sub, nil
	}
	if e.watchers == nil {
		e.watchers = make(map[*watcher]struct{})
	}
	e.watchers[w] = struct{}{}

	var once sync.Once
	sub.cancel = func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if _, ok := e.watchers[w]; ok {
				delete(e.watchers, w)
				close(w.ch)
			}
		})
	}
	return sub, nil
}
