package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"ffedit/config"
	"ffedit/task"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

const chunkSize = 32 * 1024

type Runner struct {
	cfg *config.Config
}

// NewRunner does not check for the encoder binary: a missing binary is a
// SpawnError of the task that tries to use it.
func NewRunner(cfg *config.Config) *Runner {
	return &Runner{cfg: cfg}
}

// Start builds the invocation for t, creates its destination directory and
// launches the encoder. Argument errors are *ConfigError, launch errors are
// *SpawnError; in both cases no process is left behind.
//
// Cancelling ctx cancels the returned handle.
func (r *Runner) Start(ctx context.Context, t *task.Task) (*Handle, error) {
	inv, err := BuildInvocation(t.Clip, t.Bounds, t.Trim, t.Output)
	if err != nil {
		return nil, err
	}
	return r.StartInvocation(ctx, t, inv)
}

// StartInvocation launches a previously built invocation.
func (r *Runner) StartInvocation(ctx context.Context, t *task.Task, inv *Invocation) (*Handle, error) {
	bin, err := exec.LookPath(r.cfg.FFBin)
	if err != nil {
		return nil, &SpawnError{Bin: r.cfg.FFBin, Err: err}
	}

	if err := os.MkdirAll(inv.DestDir, 0o755); err != nil {
		return nil, configErrorf("destination", "could not create %s: %v", inv.DestDir, err)
	}

	if err := r.checkResources(inv.DestDir); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInsufficientResources, err)
	}

	procCtx, kill := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, bin, inv.Args...)
	cmd.WaitDelay = 5 * time.Second
	stderr, err := cmd.StderrPipe()
	if err != nil {
		kill()
		return nil, &SpawnError{Bin: bin, Err: err}
	}

	log.Printf("Executing for task %s: %s", t.ID, strings.Join(cmd.Args, " "))

	if err := cmd.Start(); err != nil {
		kill()
		return nil, &SpawnError{Bin: bin, Err: err}
	}

	h := newHandle(t, inv, kill)
	go h.read(stderr)
	go h.pump()
	go h.wait(cmd)
	go func() {
		select {
		case <-ctx.Done():
			h.Cancel()
		case <-h.done:
		}
	}()
	return h, nil
}

// checkResources verifies that the host has room for another encode.
// A zero threshold disables the corresponding check.
func (r *Runner) checkResources(dir string) error {
	if r.cfg.ThrottleCPU > 0 {
		p, err := cpu.Percent(time.Second, false)
		if err != nil {
			log.Printf("Warning: could not get CPU usage: %v", err)
		} else if len(p) > 0 && p[0] > (100.0-r.cfg.ThrottleCPU) {
			return fmt.Errorf("not enough idle CPU. Current usage: %.2f%%, Idle threshold: %.2f%%", p[0], r.cfg.ThrottleCPU)
		}
	}

	if r.cfg.ThrottleFreeMem > 0 {
		vm, err := mem.VirtualMemory()
		if err != nil {
			log.Printf("Warning: could not get memory usage: %v", err)
		} else if vm.Available < uint64(r.cfg.ThrottleFreeMem) {
			return fmt.Errorf("not enough free memory. Available: %d, Required: %d", vm.Available, r.cfg.ThrottleFreeMem)
		}
	}

	if r.cfg.ThrottleFreeDisk > 0 {
		d, err := disk.Usage(dir)
		if err != nil {
			log.Printf("Warning: could not get disk usage for %s: %v", dir, err)
		} else if d.Free < uint64(r.cfg.ThrottleFreeDisk) {
			return fmt.Errorf("not enough free disk space. Available: %d, Required: %d", d.Free, r.cfg.ThrottleFreeDisk)
		}
	}
	return nil
}

type handleState int

const (
	stateRunning handleState = iota
	stateFinished
	stateCancelled
)

// Handle is a running encode. It implements task.Process.
type Handle struct {
	task *task.Task
	inv  *Invocation
	kill context.CancelFunc

	progress     chan string
	done         chan struct{}
	stop         chan struct{}
	streamClosed chan struct{}

	mu     sync.Mutex
	state  handleState
	result task.Result

	// queue holds chunks read from stderr that the consumer has not taken yet.
	qmu     sync.Mutex
	queue   []string
	eof     bool
	pending chan struct{}

	// sendMu is held by the pump while it offers a chunk, so Cancel can wait
	// for an in-flight offer to settle.
	sendMu sync.Mutex
}

func newHandle(t *task.Task, inv *Invocation, kill context.CancelFunc) *Handle {
	return &Handle{
		task:         t,
		inv:          inv,
		kill:         kill,
		progress:     make(chan string),
		done:         make(chan struct{}),
		stop:         make(chan struct{}),
		streamClosed: make(chan struct{}),
		pending:      make(chan struct{}, 1),
	}
}

func (h *Handle) Progress() <-chan string { return h.progress }

func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) Invocation() *Invocation { return h.inv }

// Result returns the zero Result until Done is closed.
func (h *Handle) Result() task.Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

// Wait blocks until the encode resolves or ctx is done.
func (h *Handle) Wait(ctx context.Context) (task.Result, error) {
	select {
	case <-h.done:
		return h.Result(), nil
	case <-ctx.Done():
		return task.Result{}, ctx.Err()
	}
}

// Cancel kills the encoder. Once it returns no further progress is
// delivered, and the handle resolves with Cancelled set and ErrCancelled.
// Calling it after completion or a second time does nothing.
func (h *Handle) Cancel() {
	h.mu.Lock()
	if h.state != stateRunning {
		h.mu.Unlock()
		return
	}
	h.state = stateCancelled
	h.mu.Unlock()

	close(h.stop)
	h.kill()
	// Wait out an offer that raced with the close above.
	h.sendMu.Lock()
	h.sendMu.Unlock()
	log.Printf("Cancellation signal sent to encoder for task %s.", h.task.ID)
}

func (h *Handle) read(r io.Reader) {
	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			h.enqueue(string(buf[:n]), false)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				log.Printf("Task %s: reading encoder output: %v", h.task.ID, err)
			}
			h.enqueue("", true)
			close(h.streamClosed)
			return
		}
	}
}

func (h *Handle) enqueue(chunk string, eof bool) {
	h.qmu.Lock()
	if eof {
		h.eof = true
	} else {
		h.queue = append(h.queue, chunk)
	}
	h.qmu.Unlock()
	select {
	case h.pending <- struct{}{}:
	default:
	}
}

func (h *Handle) dequeue() (chunk string, ok, eof bool) {
	h.qmu.Lock()
	defer h.qmu.Unlock()
	if len(h.queue) > 0 {
		chunk = h.queue[0]
		h.queue[0] = ""
		h.queue = h.queue[1:]
		return chunk, true, false
	}
	return "", false, h.eof
}

// pump moves queued chunks to the progress channel so a slow consumer never
// blocks the encoder's writes to stderr.
func (h *Handle) pump() {
	defer close(h.progress)
	for {
		chunk, ok, eof := h.dequeue()
		if !ok {
			if eof {
				return
			}
			select {
			case <-h.pending:
				continue
			case <-h.stop:
				return
			}
		}

		h.sendMu.Lock()
		select {
		case <-h.stop:
			h.sendMu.Unlock()
			return
		default:
		}
		select {
		case h.progress <- chunk:
			h.sendMu.Unlock()
		case <-h.stop:
			h.sendMu.Unlock()
			return
		}
	}
}

// wait resolves the handle once stderr is closed and the exit status is
// known. A cancelled process is reaped without draining it.
func (h *Handle) wait(cmd *exec.Cmd) {
	select {
	case <-h.streamClosed:
	case <-h.stop:
	}
	err := cmd.Wait()
	h.kill()

	h.mu.Lock()
	res := task.Result{Task: h.task, ExitCode: exitCode(cmd, err)}
	if h.state == stateCancelled {
		res.Cancelled = true
		res.Err = ErrCancelled
	} else {
		h.state = stateFinished
		if err != nil {
			res.Err = &RuntimeError{ExitCode: res.ExitCode, Err: err}
		}
	}
	h.result = res
	h.mu.Unlock()

	close(h.done)
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Prepare implements task.Encoder.
func (r *Runner) Prepare(t *task.Task) ([]string, string, error) {
	inv, err := BuildInvocation(t.Clip, t.Bounds, t.Trim, t.Output)
	if err != nil {
		return nil, "", err
	}
	return inv.Args, inv.DestPath, nil
}

// Encode implements task.Encoder.
func (r *Runner) Encode(ctx context.Context, t *task.Task) (task.Process, error) {
	h, err := r.Start(ctx, t)
	if err != nil {
		return nil, err
	}
	return h, nil
}
