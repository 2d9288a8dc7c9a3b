/*
Package ancillary serializes and parses socket ancillary data, also known as
“control messages”: out-of-band records that piggyback on a single unix
domain socket message and carry open file descriptors (SCM_RIGHTS) or process
credentials (SCM_CREDENTIALS).

A [MessageWriter] appends typed control messages into a caller-owned buffer,
respecting the kernel's alignment and padding rules, and never writing a
partial message: either a message completely fits the remaining capacity, or
the buffer is left untouched. A [MessageReader] wraps a kernel-filled buffer
and lazily walks it header by header, classifying each control message as
[FileDescriptors], [Credentials], or, for any (level, type) pair this
package doesn't know about, [Other]. Unknown control messages are data, not
errors; callers get to decide what to make of them.

# File Descriptor Ownership

When the kernel delivers an SCM_RIGHTS control message, it has already
duplicated the sender's file descriptors into the receiving process: somebody
now must close them, exactly once. [FileDescriptors.Take] transfers ownership
of a single descriptor to the caller as a checked, at-most-once state
transition; taking the same slot twice simply reports “no”. Whatever hasn't
been taken by the time [MessageReader.Close] is called gets closed by the
reader itself, so forgetful callers leak nothing.

# Supported Platforms

Linux only, as the alignment rules and the credentials record shape
(pid/uid/gid, see [unix.Ucred]) are OS family specific.

# Trivia

The cmsg(3) macros CMSG_FIRSTHDR and CMSG_NXTHDR walk control message
buffers using raw pointer arithmetic, with some OSes returning the same
header again at the end of the buffer instead of a terminating null. This
package walks with a plain index and explicit bounds checks instead; the
same “no forward progress” end condition applies, minus the pointers.
*/
package ancillary
