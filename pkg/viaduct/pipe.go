package viaduct

import (
	"fmt"
	"io"
	"os"
)

// pipeConn is the thin portable wrapper over a pair of anonymous OS pipes:
// one *os.File to read from, one to write to. It exposes nothing beyond
// blocking whole-buffer read/write — no buffering beyond what the OS
// already does, talking to the pipe fds directly rather than wrapping
// them in a bufio.Reader.
type pipeConn struct {
	r *os.File
	w *os.File
}

func newPipeConn(r, w *os.File) *pipeConn {
	return &pipeConn{r: r, w: w}
}

// readExact reads exactly len(buf) bytes, or returns an error. A short
// read followed by EOF comes back as io.ErrUnexpectedEOF (io.ReadFull's
// convention); a read that hits EOF before any bytes are consumed is
// returned as io.EOF verbatim, so the two cases stay distinguishable.
func (p *pipeConn) readExact(buf []byte) error {
	_, err := io.ReadFull(p.r, buf)
	return err
}

// writeAll writes buf in full, blocking until every byte is accepted by
// the OS pipe or an error occurs.
func (p *pipeConn) writeAll(buf []byte) error {
	_, err := p.w.Write(buf)
	return err
}

func (p *pipeConn) Close() error {
	rerr := p.r.Close()
	werr := p.w.Close()
	if rerr != nil {
		return rerr
	}
	return werr
}

// pipePair is what platform-specific pipe creation hands back: the
// parent's own ends plus the two *os.File descriptors destined for the
// child, which prepareChildHandles (pipe_unix.go / pipe_windows.go) later
// hands across the spawn boundary.
type pipePair struct {
	// parent-side
	parentConn *pipeConn

	// child-side, to be passed across the spawn boundary
	childRead  *os.File
	childWrite *os.File
}

// newPipePair creates the P→C and C→P anonymous pipes and wires up the
// parent's pipeConn, leaving the child's ends untouched for the
// platform-specific code to mark inheritable.
func newPipePair() (*pipePair, error) {
	// P→C: parent writes, child reads.
	childRead, parentWrite, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: create P->C pipe: %v", ErrHandshakeFailed, err)
	}

	// C→P: child writes, parent reads.
	parentRead, childWrite, err := os.Pipe()
	if err != nil {
		childRead.Close()
		parentWrite.Close()
		return nil, fmt.Errorf("%w: create C->P pipe: %v", ErrHandshakeFailed, err)
	}

	return &pipePair{
		parentConn: newPipeConn(parentRead, parentWrite),
		childRead:  childRead,
		childWrite: childWrite,
	}, nil
}
