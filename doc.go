/*
Package seqpacket implements connected unix domain sockets of the
SOCK_SEQPACKET variety: connection-oriented like a stream socket, yet
preserving message (“record”) boundaries and ordering like a datagram
socket. On top of plain payload transfer, a [Conn] sends and receives
ancillary data: open file descriptors and process credentials attached to a
single message, using the [github.com/thediveo/seqpacket/ancillary] codec
package.

A Conn wraps an already-made socket file descriptor (see [NewConn] and
[Pair]); creating, binding, listening and accepting are deliberately out of
scope. All I/O is readiness-driven through the Go runtime's poller: a single
syscall attempt, and on “would block” the calling goroutine parks until the
kernel signals readiness, then re-attempts; no busy spinning, no internal
threads. Deadlines work the usual [os.File.SetDeadline] way.

Received file descriptors are marked close-on-exec atomically by the
receiving recvmsg(2) call itself (MSG_CMSG_CLOEXEC), so they cannot slip
into concurrently fork+exec'ed children.

The [github.com/thediveo/seqpacket/fdstore] package shows the whole package
surface in action: a small service storing and handing out file descriptors
by name over a seqpacket connection.

This package is Linux only.

# Trivia

“Seqpacket” is one of the rare socket-related names that actually says what
it means: sequenced packets. We promise that the package name won't mislead
you; the sockets themselves might.
*/
package seqpacket
