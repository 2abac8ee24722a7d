// Package exec provides an abstraction around the os/exec process launch
// fdbmonitor performs for each configured child, so the launcher and
// reconciler above it can be tested without forking real processes.
package exec

import (
	"os"
	"os/exec"
	"syscall"

	"github.com/pkg/errors"
)

// Process is a running (or exited) child process.
type Process interface {
	PID() int
	Signal(os.Signal) error
	Kill() error
	Wait() ExitStatus
}

// ExitStatus is a process' terminal state.
type ExitStatus struct {
	PID      int
	Code     int // WEXITSTATUS, meaningless if Signaled
	Signaled bool
	Signal   int
	Err      error
}

// StartOptions configures one child launch. It mirrors the state the
// original C launcher threads through fork: argv, a filtered environment,
// the pipe write-ends to redirect onto, and an optional uid/gid switch.
type StartOptions struct {
	Argv   []string
	Env    []string // nil means inherit os.Environ()
	Stdout *os.File
	Stderr *os.File

	// Uid/Gid, when HasCredential is true, are applied via the kernel's
	// usual fork+setresuid/setresgid path (syscall.SysProcAttr.Credential)
	// rather than by calling setuid(2)/setgid(2) by hand after fork, since
	// Go cannot run arbitrary code in the child between fork and exec.
	HasCredential bool
	Uid           uint32
	Gid           uint32
}

type process struct {
	cmd *exec.Cmd
}

var _ Process = (*process)(nil)

// Start forks and execs argv[0] with the given argv and options. The
// returned Process's Wait must be called exactly once, from the same
// goroutine chain that issued Start, to reap the child and avoid a zombie.
func Start(opts StartOptions) (Process, error) {
	if len(opts.Argv) == 0 {
		return nil, errors.New("empty argv")
	}

	cmd := exec.Command(opts.Argv[0], opts.Argv[1:]...)
	cmd.Env = opts.Env
	cmd.Stdin = nil
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr

	attr := &syscall.SysProcAttr{
		// Death of the supervisor raises SIGHUP in the child, matching
		// spec.md section 4.4 step 5. The Go runtime re-arms this after
		// applying Credential below, which is exactly the workaround the
		// original C launcher performs by hand after setuid/setgid.
		Pdeathsig: syscall.SIGHUP,
	}
	if opts.HasCredential {
		attr.Credential = &syscall.Credential{Uid: opts.Uid, Gid: opts.Gid}
	}
	cmd.SysProcAttr = attr

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	return &process{cmd: cmd}, nil
}

func (p *process) PID() int { return p.cmd.Process.Pid }

func (p *process) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}

func (p *process) Kill() error {
	return p.cmd.Process.Kill()
}

// Wait blocks until the child exits and reaps it.
func (p *process) Wait() ExitStatus {
	err := p.cmd.Wait()

	status := ExitStatus{PID: p.cmd.Process.Pid}

	if err == nil {
		status.Code = 0
		return status
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				status.Signaled = true
				status.Signal = int(ws.Signal())
				return status
			}
			status.Code = ws.ExitStatus()
			return status
		}
		status.Code = exitErr.ExitCode()
		return status
	}

	status.Err = err
	return status
}
