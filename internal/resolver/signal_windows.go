//go:build windows

package resolver

import "syscall"

// sendSignal is never reached on Windows: the Windows resolver stops
// processes with taskkill and only the Unix resolvers signal.
func sendSignal(int, syscall.Signal) error { return syscall.EWINDOWS }
