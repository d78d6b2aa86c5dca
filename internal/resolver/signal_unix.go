//go:build !windows

package resolver

import "syscall"

// sendSignal sends a signal to a Unix process.
func sendSignal(pid int, sig syscall.Signal) error {
	return syscall.Kill(pid, sig)
}
