//go:build !windows

package viaduct

import (
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"
)

// prepareChildHandles wires childRead/childWrite into cmd as ExtraFiles.
// os/exec's own fork/exec path takes care of duplicating each *os.File
// onto a sequential descriptor in the child and clearing close-on-exec
// on the duplicate; nothing here needs to touch that flag itself.
// ExtraFiles always starts at fd 3 regardless of whether
// cmd.Stdin/Stdout/Stderr are set, so the two handle values are fixed and
// known before Start is even called.
func prepareChildHandles(cmd *exec.Cmd, childRead, childWrite *os.File) (h1, h2 uint64, err error) {
	base := 3 + len(cmd.ExtraFiles)
	cmd.ExtraFiles = append(cmd.ExtraFiles, childRead, childWrite)
	return uint64(base), uint64(base + 1), nil
}

// openInheritedHandle turns a handle value carried in the handshake token
// back into a usable *os.File on the child side, where it is simply the fd
// number ExtraFiles assigned.
func openInheritedHandle(h uint64) (*os.File, error) {
	fd := int(h)
	if fd < 0 {
		return nil, fmt.Errorf("%w: invalid descriptor %d", ErrHandshakeFailed, fd)
	}
	return os.NewFile(uintptr(fd), fmt.Sprintf("viaduct-fd-%d", fd)), nil
}

// markNonInheritable is called on the parent's own retained pipe ends
// right after spawn so they can never leak into some unrelated child the
// parent spawns later. os.Pipe already sets close-on-exec on both ends by
// default, but we set it explicitly rather than lean on that default —
// the parent's ends are never supposed to be inheritable, regardless of
// what the stdlib's current behavior happens to be.
func markNonInheritable(f *os.File) error {
	flags, err := unix.FcntlInt(f.Fd(), unix.F_GETFD, 0)
	if err != nil {
		return fmt.Errorf("%w: get fd flags for %s: %v", ErrHandshakeFailed, f.Name(), err)
	}
	if _, err := unix.FcntlInt(f.Fd(), unix.F_SETFD, flags|unix.FD_CLOEXEC); err != nil {
		return fmt.Errorf("%w: set FD_CLOEXEC on %s: %v", ErrHandshakeFailed, f.Name(), err)
	}
	return nil
}
