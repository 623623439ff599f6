//go:build windows

package viaduct

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// prepareChildHandles marks childRead/childWrite's underlying HANDLEs
// inheritable and hands them to cmd via SysProcAttr.AdditionalInheritedHandles
// (the same explicit-handle-list approach sonroyaalmerol/pbs-plus uses in
// its own pipe_windows.go, rather than relying on any fd-number
// convention — Windows has none. The handle value itself, not a
// positional index, is what the child must be told, which is exactly
// what the handshake token carries.
func prepareChildHandles(cmd *exec.Cmd, childRead, childWrite *os.File) (h1, h2 uint64, err error) {
	rh := windows.Handle(childRead.Fd())
	wh := windows.Handle(childWrite.Fd())

	for _, h := range []windows.Handle{rh, wh} {
		if err := windows.SetHandleInformation(h, windows.HANDLE_FLAG_INHERIT, windows.HANDLE_FLAG_INHERIT); err != nil {
			return 0, 0, fmt.Errorf("%w: mark handle inheritable: %v", ErrHandshakeFailed, err)
		}
	}

	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.AdditionalInheritedHandles = append(
		cmd.SysProcAttr.AdditionalInheritedHandles, syscall.Handle(rh), syscall.Handle(wh),
	)

	return uint64(rh), uint64(wh), nil
}

// openInheritedHandle turns a handle value carried in the handshake token
// back into a usable *os.File on the child side. On Windows the value the
// parent marked inheritable is the exact numeric HANDLE the child
// receives — CreateProcess preserves it verbatim, there is no renumbering
// like POSIX's fd-table compaction.
func openInheritedHandle(h uint64) (*os.File, error) {
	if h == 0 {
		return nil, fmt.Errorf("%w: invalid handle value", ErrHandshakeFailed)
	}
	return os.NewFile(uintptr(h), fmt.Sprintf("viaduct-handle-%x", h)), nil
}

// markNonInheritable clears the inherit flag on the parent's own retained
// pipe ends once the child has been spawned, so a later spawn on the same
// parent process never accidentally hands them to some other child.
func markNonInheritable(f *os.File) error {
	h := windows.Handle(f.Fd())
	if err := windows.SetHandleInformation(h, windows.HANDLE_FLAG_INHERIT, 0); err != nil {
		return fmt.Errorf("%w: clear inherit flag on %s: %v", ErrHandshakeFailed, f.Name(), err)
	}
	return nil
}
