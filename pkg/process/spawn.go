package process

import (
	"errors"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultShell interprets command lines.
const DefaultShell = "/bin/sh"

// Proc is a started OS process.
type Proc interface {
	Pid() int
	// Kill signals the process and everything it started. force selects
	// SIGKILL over SIGTERM.
	Kill(force bool) error
	// Done is closed once the process has exited and its output is drained.
	Done() <-chan struct{}
	// ExitCode polls the exit status without blocking. ok is false while the
	// process runs; code is -1 when it was ended by a signal.
	ExitCode() (code int, ok bool)
}

// Spawner starts processes, streaming everything they print into output.
type Spawner interface {
	Spawn(command string, output io.Writer) (Proc, error)
}

// ShellSpawner runs each command line through a shell in its own process
// group so a kill reaches the whole job.
type ShellSpawner struct {
	Shell string
	Dir   string
	Env   []string
	// WaitDelay bounds how long output is drained after the process exits.
	WaitDelay time.Duration
}

func (s ShellSpawner) Spawn(command string, output io.Writer) (Proc, error) {
	shell := s.Shell
	if shell == "" {
		shell = DefaultShell
	}
	cmd := exec.Command(shell, "-c", command)
	cmd.Dir = s.Dir
	cmd.Env = s.Env
	cmd.Stdout = output
	cmd.Stderr = output
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = s.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = time.Second
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &shellProc{cmd: cmd, done: make(chan struct{})}
	go p.wait()
	return p, nil
}

type shellProc struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu     sync.Mutex
	code   int
	exited bool
}

func (p *shellProc) wait() {
	_ = p.cmd.Wait()
	code := -1
	if st := p.cmd.ProcessState; st != nil {
		code = st.ExitCode()
	}
	p.mu.Lock()
	p.code, p.exited = code, true
	p.mu.Unlock()
	close(p.done)
}

func (p *shellProc) Pid() int { return p.cmd.Process.Pid }

func (p *shellProc) Done() <-chan struct{} { return p.done }

func (p *shellProc) ExitCode() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code, p.exited
}

func (p *shellProc) Kill(force bool) error {
	sig := unix.SIGTERM
	if force {
		sig = unix.SIGKILL
	}
	// Negative pid addresses the process group created by Setpgid.
	err := unix.Kill(-p.cmd.Process.Pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
