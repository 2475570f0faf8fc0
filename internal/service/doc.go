// Package service implements the task runner: a registry of tasks, a FIFO
// admission scheduler bounded by maxRunning and the supervision of the task
// processes.
//
// Overview
// Callers enqueue a TaskSpec and get a task id back immediately. The Runner
// starts waiting tasks in enqueue order while fewer than maxRunning tasks are
// running. Every started task owns a process and two output.Buffer values,
// one per stream.
//
// Data flow:
//
//	Enqueue            Runner{mx}                 supervise goroutine
//	   |                   |                             |
//	   |--- task-N ------->| waiting queue               |
//	   |                   | admitLocked()               |
//	   |                   |  exec.Cmd.Start ----------->| io.Copy stdout -> Buffer
//	   |                   |                             | io.Copy stderr -> Buffer
//	   |                   |                             | cmd.Wait()
//	   |                   |<-- completeLocked ----------|
//	   |                   | admitLocked()               |
//
// Stop and the per task timeout share one termination path: the requested
// signal, a grace window, SIGKILL and a force window. Signals are sent to the
// process group of the task.
//
// Invariants:
//   - a task goes waiting -> running -> completed, or waiting -> completed
//     when stopped before it was started
//   - the number of running tasks never exceeds maxRunning
//   - the waiting queue holds only ids of waiting tasks
//   - a spawn failure completes the task with no exit code, the error text is
//     on its stderr and the scheduler moves on
//   - Runner.mx is never held while waiting for a process
//
// Handles used by Stop, Stdout, Stderr and Task are resolved by pid (for
// numeric handles), then task id, then the first task with that name.
package service
