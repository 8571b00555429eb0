package controller

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// ProcessManager spawns the fleet as subprocesses of the same binary, each
// with its own -target. Stdout and stderr pass through so service logs
// interleave on the controller's terminal.
type ProcessManager struct {
	binary string
	args   []string
	logger kitlog.Logger

	mtx   sync.Mutex
	procs []*exec.Cmd
}

// NewProcessManager resolves the running binary. args are passed to every
// child after its -target flag, so config file and override flags propagate.
func NewProcessManager(args []string, logger kitlog.Logger) (*ProcessManager, error) {
	binary, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolving own binary: %w", err)
	}
	return &ProcessManager{binary: binary, args: args, logger: logger}, nil
}

// Spawn launches count children running the given target.
func (pm *ProcessManager) Spawn(target string, count int) error {
	for i := 0; i < count; i++ {
		args := append([]string{"-target=" + target}, pm.args...)
		cmd := exec.Command(pm.binary, args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("spawning %s: %w", target, err)
		}
		level.Info(pm.logger).Log("msg", "spawned service process", "target", target, "pid", cmd.Process.Pid)

		pm.mtx.Lock()
		pm.procs = append(pm.procs, cmd)
		pm.mtx.Unlock()
	}
	return nil
}

// StopAll terminates every child: SIGTERM first, SIGKILL for whatever is
// still alive at the deadline.
func (pm *ProcessManager) StopAll(deadline time.Duration) {
	pm.mtx.Lock()
	procs := pm.procs
	pm.procs = nil
	pm.mtx.Unlock()

	for _, cmd := range procs {
		if cmd.Process != nil {
			_ = cmd.Process.Signal(syscall.SIGTERM)
		}
	}

	done := make(chan struct{})
	go func() {
		for _, cmd := range procs {
			_ = cmd.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(deadline):
		for _, cmd := range procs {
			if cmd.Process != nil {
				level.Warn(pm.logger).Log("msg", "killing unresponsive service process", "pid", cmd.Process.Pid)
				_ = cmd.Process.Kill()
			}
		}
		<-done
	}
}
