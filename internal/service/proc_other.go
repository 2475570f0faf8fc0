//go:build !unix

package service

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/CZERTAINLY/taskrunner/internal/model"
)

var defaultSignal os.Signal = os.Kill

func sysProcAttr() *syscall.SysProcAttr {
	return nil
}

// parseSignal only knows the signals the os package can deliver everywhere;
// both of them kill the process.
func parseSignal(name string) (os.Signal, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "TERM", "SIGTERM", "KILL", "SIGKILL", "INT", "SIGINT":
		return os.Kill, nil
	}
	return nil, fmt.Errorf("%w: %s", model.ErrUnknownSignal, name)
}

func signalProcess(pid int, _ os.Signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}

func killProcess(pid int) error {
	err := signalProcess(pid, os.Kill)
	if err == os.ErrProcessDone {
		return nil
	}
	return err
}

func exitStatus(state *os.ProcessState) (*int, string) {
	if state == nil {
		return nil, ""
	}
	return ptr(state.ExitCode()), ""
}
