//go:build !windows

package service

import "syscall"

func sysProcAttr() *syscall.SysProcAttr {
	// Own process group so signals reach the whole service tree.
	return &syscall.SysProcAttr{Setpgid: true}
}

func (h *Handle) terminate() error {
	return syscall.Kill(-h.cmd.Process.Pid, syscall.SIGTERM)
}

func (h *Handle) kill() error {
	return syscall.Kill(-h.cmd.Process.Pid, syscall.SIGKILL)
}
