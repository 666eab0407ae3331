package launcher

import (
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// ExitStatus describes how a spawned tool server process ended.
type ExitStatus struct {
	Code   int
	Detail string
}

// Process is a handle to a spawned tool server child.
type Process interface {
	// Done delivers the exit status once, when the process ends.
	Done() <-chan ExitStatus
	// Terminate kills the process. Safe to call more than once.
	Terminate()
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan ExitStatus
	once sync.Once
}

// SpawnServer starts the tool server binary detached from any terminal I/O.
// Exit status is delivered on Done when the process ends for any reason.
func SpawnServer(path string, args []string) (Process, error) {
	cmd := exec.Command(path, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &execProcess{
		cmd:  cmd,
		done: make(chan ExitStatus, 1),
	}

	go func() {
		err := cmd.Wait()
		status := ExitStatus{}
		if exitErr, ok := err.(*exec.ExitError); ok {
			status.Code = exitErr.ExitCode()
			status.Detail = exitErr.String()
		} else if err != nil {
			status.Code = -1
			status.Detail = err.Error()
		} else {
			status.Detail = fmt.Sprintf("exited with code %d", cmd.ProcessState.ExitCode())
		}
		p.done <- status
	}()

	return p, nil
}

func (p *execProcess) Done() <-chan ExitStatus {
	return p.done
}

func (p *execProcess) Terminate() {
	p.once.Do(func() {
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
	})
}
