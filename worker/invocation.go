package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/navigatorvzhang/web-chatbot/codec"
	"go.uber.org/zap"
)

// Invocation is a single worker process bound to exactly one request.
// Callers must Close it; Close is safe to call more than once and after Wait.
type Invocation struct {
	ID   string
	Mode codec.DecodeMode

	log *zap.SugaredLogger
	cmd *exec.Cmd

	stdout bytes.Buffer
	stderr bytes.Buffer

	startTime time.Time
	exited    chan struct{}
	waitErr   error
	exitCode  int
	timeMS    int64

	closeOnce sync.Once
}

const waitDelay = 2 * time.Second

type startRequest struct {
	Command string
	Args    []string
	Env     []string
	Dir     string
	Stdin   []byte
	Mode    codec.DecodeMode
}

func start(ctx context.Context, log *zap.SugaredLogger, req startRequest) (*Invocation, error) {
	inv := &Invocation{
		ID:     uuid.NewString(),
		Mode:   req.Mode,
		exited: make(chan struct{}),
	}
	inv.log = log.With("Invocation", inv.ID)

	cmd := exec.Command(req.Command, req.Args...)
	cmd.Dir = req.Dir
	if len(req.Env) > 0 {
		cmd.Env = append(os.Environ(), req.Env...)
	}
	if req.Stdin != nil {
		cmd.Stdin = bytes.NewReader(req.Stdin)
	}
	cmd.Stdout = &inv.stdout
	cmd.Stderr = &inv.stderr
	// grandchildren holding the pipes open must not block Wait after the worker itself is gone
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)
	inv.cmd = cmd

	inv.startTime = time.Now()
	err := cmd.Start()
	if err != nil {
		return nil, &LaunchError{Command: req.Command, Err: err}
	}
	inv.log.Debugw("started worker", "PID", cmd.Process.Pid, "Mode", req.Mode)

	go func() {
		err := cmd.Wait()
		inv.timeMS = time.Since(inv.startTime).Milliseconds()
		inv.exitCode = cmd.ProcessState.ExitCode()
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			inv.waitErr = err
		}
		close(inv.exited)
	}()

	// kill the process if the context is canceled before it exits
	go func() {
		select {
		case <-ctx.Done():
			inv.kill()
		case <-inv.exited:
		}
	}()

	return inv, nil
}

// Wait blocks until the process exits and all of its output has been collected.
func (inv *Invocation) Wait(ctx context.Context) error {
	select {
	case <-inv.exited:
	case <-ctx.Done():
		inv.kill()
		<-inv.exited
	}
	if err := ctx.Err(); err != nil && inv.exitCode != 0 {
		inv.log.Debugf("worker killed after %dms: %s", inv.timeMS, err)
		return fmt.Errorf("waiting for worker: %w", err)
	}

	stderr := strings.TrimSpace(inv.stderr.String())
	if stderr != "" {
		inv.log.Debugw("worker stderr", "Stderr", codec.Sample(stderr))
	}
	inv.log.Debugf("worker exited with code %d in %dms", inv.exitCode, inv.timeMS)

	if inv.waitErr != nil {
		return fmt.Errorf("waiting for worker: %w", inv.waitErr)
	}
	if inv.exitCode != 0 {
		return &ExitError{Code: inv.exitCode, Stderr: codec.Sample(stderr)}
	}
	return nil
}

// Lines returns the collected stdout, split into lines. Only meaningful after Wait.
func (inv *Invocation) Lines() []string {
	return codec.SplitLines(inv.stdout.Bytes())
}

func (inv *Invocation) ExitCode() int { return inv.exitCode }

// Close kills the process and anything left in its process group, then reaps the process.
func (inv *Invocation) Close() {
	inv.closeOnce.Do(func() {
		select {
		case <-inv.exited:
		default:
			inv.log.Debug("killing worker that is still running")
		}
		// descendants can outlive a worker that has already exited
		inv.kill()
		<-inv.exited
	})
}

func (inv *Invocation) kill() {
	if err := killProcessGroup(inv.cmd); err != nil {
		inv.log.Debugf("error killing worker process group: %s", err)
	}
}
