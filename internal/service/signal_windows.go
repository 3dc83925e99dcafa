//go:build windows

package service

import "syscall"

func sysProcAttr() *syscall.SysProcAttr { return nil }

// Windows has no SIGTERM delivery for arbitrary processes; both paths kill.

func (h *Handle) terminate() error { return h.cmd.Process.Kill() }

func (h *Handle) kill() error { return h.cmd.Process.Kill() }
