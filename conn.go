// Copyright 2026 Harald Albrecht.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package seqpacket

import (
	"errors"
	"os"
	"syscall"
	"time"

	"github.com/thediveo/seqpacket/ancillary"
	"golang.org/x/sys/unix"
)

// Conn represents one endpoint of a connected unix domain SOCK_SEQPACKET
// socket that can send and receive messages with ancillary data attached,
// that is, open file descriptors and process credentials.
//
// A Conn may be used by multiple goroutines simultaneously; individual
// messages are never split or merged, as the kernel enforces record
// atomicity. When multiple goroutines receive concurrently, which one
// observes a particular pending message is up to the kernel: don't assume
// fairness, only eventual progress.
type Conn struct {
	file *os.File
	rc   syscall.RawConn
}

// NewConn returns a Conn for the passed unix domain SOCK_SEQPACKET socket
// file descriptor; otherwise, it returns an error, such as when the file
// descriptor isn't a seqpacket unix domain socket. The nickname is used in
// error messages only.
//
// Important: NewConn always takes ownership of the passed file descriptor
// and will close it, even in case of error. A caller must not use the
// passed file descriptor anymore and the caller must not close the passed
// file descriptor themselves.
func NewConn(fd int, nickname string) (*Conn, error) {
	if fd < 0 {
		return nil, errors.New("not a file descriptor")
	}
	domain, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_DOMAIN)
	if err != nil {
		_ = unix.Close(fd)
		return nil, os.NewSyscallError("getsockopt", err)
	}
	sotype, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TYPE)
	if err != nil {
		_ = unix.Close(fd)
		return nil, os.NewSyscallError("getsockopt", err)
	}
	if domain != unix.AF_UNIX {
		_ = unix.Close(fd)
		return nil, errors.New("not a unix domain socket")
	}
	if sotype != unix.SOCK_SEQPACKET {
		_ = unix.Close(fd)
		return nil, errors.New("not a seqpacket unix domain socket")
	}
	// The fd needs to be non-blocking before wrapping it in an os.File, so
	// that it gets registered with the runtime's poller: this is what later
	// suspends sends and receives until readiness instead of blocking an
	// OS-level thread.
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, os.NewSyscallError("fcntl", err)
	}
	f := os.NewFile(uintptr(fd), nickname)
	if f == nil {
		_ = unix.Close(fd)
		return nil, errors.New("not a file descriptor")
	}
	rc, err := f.SyscallConn()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Conn{file: f, rc: rc}, nil
}

// Pair returns a pair of directly peer-to-peer connected seqpacket unix
// domain sockets.
func Pair() (dupond, dupont *Conn, err error) {
	fdpair, err := unix.Socketpair(unix.AF_UNIX,
		unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return nil, nil, os.NewSyscallError("socketpair", err)
	}
	dupond, err = NewConn(fdpair[0], "dupond")
	if err != nil {
		// fdpair[0] is always closed by now, but we don't want to leak
		// fdpair[1]...
		_ = unix.Close(fdpair[1])
		return nil, nil, err
	}
	dupont, err = NewConn(fdpair[1], "dupont")
	if err != nil {
		_ = dupond.Close()
		return nil, nil, err
	}
	return dupond, dupont, nil
}

// Send sends the passed payload as a single message to the connected peer,
// without any ancillary data. It returns the number of payload bytes sent.
func (c *Conn) Send(p []byte) (int, error) {
	return c.SendMsg(p, nil)
}

// SendMsg sends the passed payload as a single message to the connected
// peer, attaching the control messages collected by the passed
// [ancillary.MessageWriter] (which may be nil) as ancillary data. Payload
// and ancillary data travel in one atomic sendmsg(2); the peer receives
// them together or not at all.
//
// SendMsg attempts the send immediately and without blocking; only when the
// kernel reports that it would have to block does the calling goroutine
// suspend until the socket signals writability again, when the send is then
// re-attempted. This repeats as often as necessary. Any other send failure
// is final and returned verbatim (wrapped in an [*os.SyscallError]).
//
// After a successful send, file descriptors owned by the writer are closed,
// as ownership has passed to the peer's kernel-made duplicates.
func (c *Conn) SendMsg(p []byte, amw *ancillary.MessageWriter) (int, error) {
	return c.SendMsgBuffers([][]byte{p}, amw)
}

// SendMsgBuffers is the vectored variant of [Conn.SendMsg]: the message
// payload is gathered from the passed buffers in order, so callers can
// prepend headers or stitch fragments without copying them into a single
// contiguous buffer first. The whole gather list still travels as one atomic
// message.
func (c *Conn) SendMsgBuffers(bufs [][]byte, amw *ancillary.MessageWriter) (int, error) {
	var oob []byte
	if amw != nil {
		oob = amw.Bytes()
	}
	var n int
	var operr error
	err := c.rc.Write(func(fd uintptr) (done bool) {
		for {
			n, operr = unix.SendmsgBuffers(int(fd), bufs, oob, nil, unix.MSG_NOSIGNAL)
			switch operr { //nolint:errorlint // unwrapped unix.Errno by contract
			case unix.EINTR:
				continue // signalled, not would-block: re-attempt right away.
			case unix.EAGAIN:
				return false // park until writable, then re-attempt.
			}
			return true
		}
	})
	if err != nil {
		return 0, err
	}
	if operr != nil {
		return 0, os.NewSyscallError("sendmsg", operr)
	}
	if amw != nil {
		_ = amw.Close()
	}
	return n, nil
}

// Recv receives the next message from the connected peer into the passed
// payload buffer, returning the number of payload bytes received. Ancillary
// data the peer might have attached is discarded; use [Conn.RecvMsg] to
// receive it.
//
// A zero byte count without an error is ambiguous on seqpacket sockets: it
// either means the peer sent an empty message, or the peer shut down its
// side of the connection. The kernel doesn't tell these cases apart.
func (c *Conn) Recv(p []byte) (int, error) {
	return c.RecvMsg(p, nil)
}

// RecvMsg receives the next message from the connected peer into the passed
// payload buffer, placing attached ancillary data into the passed
// [ancillary.MessageReader] (which may be nil to discard ancillary data). It
// returns the number of payload bytes received; the reader afterwards knows
// the amount of ancillary data the kernel actually delivered and whether
// ancillary data had to be dropped for lack of reader capacity.
//
// Like [Conn.SendMsg], RecvMsg suspends on “would block” until the socket
// becomes readable again and then re-attempts, as often as necessary.
//
// File descriptors received are close-on-exec right from the start, as the
// receiving recvmsg(2) itself atomically flags them (MSG_CMSG_CLOEXEC).
func (c *Conn) RecvMsg(p []byte, amr *ancillary.MessageReader) (int, error) {
	return c.RecvMsgBuffers([][]byte{p}, amr)
}

// RecvMsgBuffers is the vectored variant of [Conn.RecvMsg]: the message
// payload is scattered over the passed buffers in order, filling each one
// completely before moving on to the next. The returned byte count spans all
// buffers.
func (c *Conn) RecvMsgBuffers(bufs [][]byte, amr *ancillary.MessageReader) (int, error) {
	var oob []byte
	if amr != nil {
		oob = amr.Buffer()
	}
	var n, oobn, recvflags int
	var operr error
	err := c.rc.Read(func(fd uintptr) (done bool) {
		for {
			n, oobn, recvflags, _, operr = unix.RecvmsgBuffers(int(fd), bufs, oob, unix.MSG_CMSG_CLOEXEC)
			switch operr { //nolint:errorlint // unwrapped unix.Errno by contract
			case unix.EINTR:
				continue
			case unix.EAGAIN:
				return false // park until readable, then re-attempt.
			}
			return true
		}
	})
	if err != nil {
		return 0, err
	}
	if operr != nil {
		return 0, os.NewSyscallError("recvmsg", operr)
	}
	if amr != nil {
		amr.Received(oobn, recvflags&unix.MSG_CTRUNC != 0)
	}
	return n, nil
}

// CloseRead shuts down the reading side of the connection; pending and
// future receives will find the connection closed, while the peer can still
// receive what we send.
func (c *Conn) CloseRead() error {
	return c.shutdown(unix.SHUT_RD)
}

// CloseWrite shuts down the writing side of the connection; the peer will
// observe end-of-transmission after receiving all pending messages, while
// we can still receive.
func (c *Conn) CloseWrite() error {
	return c.shutdown(unix.SHUT_WR)
}

func (c *Conn) shutdown(how int) error {
	var operr error
	if err := c.rc.Control(func(fd uintptr) {
		operr = unix.Shutdown(int(fd), how)
	}); err != nil {
		return err
	}
	return os.NewSyscallError("shutdown", operr)
}

// TakeError returns and clears the socket's pending error (SO_ERROR), or nil
// when no error is pending. Asynchronous socket errors park here until
// someone collects them; the kernel resets the pending error on reading it,
// so a second TakeError returns nil until the next error occurs.
func (c *Conn) TakeError() error {
	var soerr int
	var operr error
	if err := c.rc.Control(func(fd uintptr) {
		soerr, operr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_ERROR)
	}); err != nil {
		return err
	}
	if operr != nil {
		return os.NewSyscallError("getsockopt", operr)
	}
	if soerr == 0 {
		return nil
	}
	return unix.Errno(soerr)
}

// Close closes the connection's underlying socket file descriptor. Pending
// sends and receives get unblocked, returning errors.
func (c *Conn) Close() error {
	return c.file.Close()
}

// SetDeadline sets both the read and write deadlines; a zero time value
// disables the deadlines. Deadline misses surface as errors satisfying
// “errors.Is(err, os.ErrDeadlineExceeded)”.
func (c *Conn) SetDeadline(t time.Time) error {
	return c.file.SetDeadline(t)
}

// SetReadDeadline sets the deadline for future and pending receives; a zero
// time value disables the deadline.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.file.SetReadDeadline(t)
}

// SetWriteDeadline sets the deadline for future and pending sends; a zero
// time value disables the deadline.
func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.file.SetWriteDeadline(t)
}

// String returns a textual representation for this connection endpoint,
// based on the nickname it was created with.
func (c *Conn) String() string {
	return "seqpacket connection " + c.file.Name()
}
