//go:build unix

package service

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/CZERTAINLY/taskrunner/internal/model"
)

var defaultSignal os.Signal = unix.SIGTERM

// sysProcAttr puts every task into its own process group, so the signals
// reach the whole tree and no grandchild keeps the output pipes open.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// parseSignal accepts names like TERM, SIGTERM, sigterm or a signal number.
// An empty name means SIGTERM.
func parseSignal(name string) (os.Signal, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return defaultSignal, nil
	}
	if n, err := strconv.Atoi(name); err == nil {
		if n <= 0 || unix.SignalName(syscall.Signal(n)) == "" {
			return nil, fmt.Errorf("%w: %d", model.ErrUnknownSignal, n)
		}
		return syscall.Signal(n), nil
	}
	upper := strings.ToUpper(name)
	if !strings.HasPrefix(upper, "SIG") {
		upper = "SIG" + upper
	}
	sig := unix.SignalNum(upper)
	if sig == 0 {
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownSignal, name)
	}
	return sig, nil
}

// signalProcess sends sig to the process group led by pid. A process which
// left its group still gets the signal directly.
func signalProcess(pid int, sig os.Signal) error {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrUnknownSignal, sig)
	}
	err := unix.Kill(-pid, s)
	if errors.Is(err, unix.ESRCH) {
		err = unix.Kill(pid, s)
	}
	if errors.Is(err, unix.ESRCH) {
		return os.ErrProcessDone
	}
	return err
}

func killProcess(pid int) error {
	err := signalProcess(pid, unix.SIGKILL)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// exitStatus converts the state of a reaped process. A process killed by a
// signal has no exit code.
func exitStatus(state *os.ProcessState) (*int, string) {
	if state == nil {
		return nil, ""
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return nil, unix.SignalName(ws.Signal())
	}
	return ptr(state.ExitCode()), ""
}
