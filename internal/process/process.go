package process

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"
)

// Process is a launched child whose stdout and stderr are available as
// pipes. The caller must drain both pipes before calling Wait.
type Process struct {
	spec   Spec
	cmd    *exec.Cmd
	Stdout io.ReadCloser
	Stderr io.ReadCloser

	mu     sync.Mutex
	status Status
}

// Start launches spec in its own process group with stdout and stderr piped.
func Start(spec Spec) (*Process, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	cmd := spec.BuildCommand()
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &Process{spec: spec, cmd: cmd, Stdout: stdout, Stderr: stderr}
	p.status = Status{
		Name:      spec.DisplayName(),
		Running:   true,
		PID:       cmd.Process.Pid,
		StartedAt: time.Now(),
	}
	return p, nil
}

// PID returns the child's process id.
func (p *Process) PID() int { return p.cmd.Process.Pid }

// Wait waits for the child to exit and returns its exit code. A non-zero
// exit is not an error; err is only set when the exit status could not be
// obtained.
func (p *Process) Wait() (int, error) {
	werr := p.cmd.Wait()
	code := 0
	var err error
	if st := p.cmd.ProcessState; st != nil {
		code = exitCode(st)
	}
	var ee *exec.ExitError
	if werr != nil && !errors.As(werr, &ee) {
		err = werr
		if code == 0 {
			code = -1
		}
	}

	p.mu.Lock()
	p.status.Running = false
	p.status.StoppedAt = time.Now()
	p.status.ExitCode = code
	p.status.ExitErr = werr
	p.mu.Unlock()
	return code, err
}

// Terminate asks the whole process group to stop (SIGTERM on Unix).
func (p *Process) Terminate() error {
	return signalGroup(p.cmd, false)
}

// Kill forcibly stops the whole process group.
func (p *Process) Kill() error {
	return signalGroup(p.cmd, true)
}

// Snapshot returns a copy of the current status.
func (p *Process) Snapshot() Status {
	p.mu.Lock()
	s := p.status
	p.mu.Unlock()
	return s
}

// ClosePipes closes the read ends of stdout and stderr. It unblocks readers
// when a descendant that escaped the process group keeps the pipes open.
func (p *Process) ClosePipes() {
	_ = p.Stdout.Close()
	_ = p.Stderr.Close()
}
