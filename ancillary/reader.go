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

package ancillary

import (
	"encoding/binary"
	"iter"

	"golang.org/x/sys/unix"
)

// takenFd marks a file descriptor slot whose descriptor has already been
// taken over (or closed); it can never be a valid open file descriptor.
const takenFd = -1

// MessageReader parses the ancillary data received together with a unix
// domain socket message from a caller-owned buffer, such as filled in by
// [github.com/thediveo/seqpacket.Conn.RecvMsg].
//
// Reading from a fresh or cleared reader yields no messages; only after a
// transport reported received control data via [MessageReader.Received] will
// [MessageReader.Messages] produce anything.
//
// Make sure to finally call [MessageReader.Close] (deferring it is fine):
// the kernel might have delivered file descriptors nobody bothered to take
// ownership of, and these must be closed as to not leak them.
type MessageReader struct {
	buffer    []byte
	length    int
	truncated bool
}

// NewMessageReader returns a new MessageReader using the passed caller-owned
// buffer as the backing store for received ancillary data. The buffer's
// length determines the ancillary data capacity; the caller must not touch
// the buffer contents for the lifetime of the reader.
func NewMessageReader(buffer []byte) *MessageReader {
	return &MessageReader{buffer: buffer}
}

// Buffer returns the reader's complete backing buffer, to be passed as the
// ancillary data buffer to a recvmsg(2)-style transport call. After the
// call, report the outcome using [MessageReader.Received].
func (r *MessageReader) Buffer() []byte { return r.buffer }

// Received records what a receive call actually produced: the number of
// ancillary data bytes the kernel filled in, and whether the kernel had to
// drop ancillary data because the buffer capacity didn't suffice (“control
// data truncated”, MSG_CTRUNC).
//
// Any file descriptors still owned from previously received ancillary data
// get closed first, so descriptors never leak when a reader is reused for
// multiple receives.
func (r *MessageReader) Received(used int, truncated bool) {
	_ = r.Close()
	r.length = min(max(used, 0), len(r.buffer))
	r.truncated = truncated
}

// Capacity returns the fixed total capacity of the reader's buffer.
func (r *MessageReader) Capacity() int { return len(r.buffer) }

// Len returns the number of ancillary data bytes received.
func (r *MessageReader) Len() int { return r.length }

// IsEmpty returns true if no ancillary data has been received.
func (r *MessageReader) IsEmpty() bool { return r.length == 0 }

// IsTruncated returns true if the kernel reported that it had to drop
// ancillary data during the most recent receive because the buffer capacity
// didn't suffice.
func (r *MessageReader) IsTruncated() bool { return r.truncated }

// Messages returns an iterator over the received control messages. The
// iterator is lazy and can be restarted as often as needed, with each
// invocation walking the buffer again from the very beginning. The walk
// stops at the first malformed or truncated control message header, as well
// as when a header doesn't advance the walk any further.
//
// Please note that taking ownership of file descriptors (see
// [FileDescriptors.Take]) mutates the underlying buffer, so all (restarted)
// iterations observe which descriptors have already been taken.
func (r *MessageReader) Messages() iter.Seq[Message] {
	return func(yield func(Message) bool) {
		buf := r.buffer[:r.length]
		idx := 0
		for {
			h, ok := parseCmsghdr(buf[idx:])
			if !ok {
				return
			}
			if h.len < uint64(unix.CmsgLen(0)) || h.len > uint64(len(buf)-idx) {
				return // malformed or truncated header
			}
			if !yield(newMessage(h.level, h.typ, buf[idx+unix.CmsgLen(0):idx+int(h.len)])) {
				return
			}
			next := idx + cmsgAlign(int(h.len))
			if next <= idx {
				return // no forward progress
			}
			idx = next
		}
	}
}

// Close closes all received file descriptors that no one has taken ownership
// of (yet) and resets the reader to empty. It returns the first close error
// encountered, if any. Close is idempotent.
func (r *MessageReader) Close() error {
	var firsterr error
	for msg := range r.Messages() {
		fds, ok := msg.(FileDescriptors)
		if !ok {
			continue
		}
		for fd := range fds.TakeAll() {
			if err := unix.Close(fd); err != nil && firsterr == nil {
				firsterr = err
			}
		}
	}
	r.length = 0
	r.truncated = false
	return firsterr
}

// Message is a single typed control message parsed from received ancillary
// data: a [FileDescriptors], [Credentials], or [Other] value. Message
// payloads are views into the reader's buffer and thus share its lifetime.
type Message interface {
	message() // the usual sealing trick.
}

// newMessage classifies a control message by its (level, type) pair.
func newMessage(level, typ int32, payload []byte) Message {
	switch {
	case level == unix.SOL_SOCKET && typ == unix.SCM_RIGHTS:
		return FileDescriptors{payload: payload}
	case level == unix.SOL_SOCKET && typ == unix.SCM_CREDENTIALS:
		return Credentials{payload: payload}
	}
	return Other{Level: level, Type: typ, Data: payload}
}

// FileDescriptors is a received SCM_RIGHTS control message: a sequence of
// file descriptor slots. The kernel has already duplicated these descriptors
// into the receiving process, so each one must be closed exactly once:
// either by the caller after taking ownership via [FileDescriptors.Take] (or
// [FileDescriptors.TakeAll]), or otherwise by [MessageReader.Close].
type FileDescriptors struct {
	payload []byte
}

func (FileDescriptors) message() {}

// Len returns the number of file descriptor slots in this control message,
// including slots whose descriptors have already been taken.
func (f FileDescriptors) Len() int { return len(f.payload) / fdSize }

// Fd returns the file descriptor in the slot with the given index without
// taking ownership, for just peeking at it. It returns false when the index
// is out of range or when the descriptor has already been taken.
func (f FileDescriptors) Fd(idx int) (int, bool) {
	if idx < 0 || idx >= f.Len() {
		return 0, false
	}
	fd := int(int32(binary.NativeEndian.Uint32(f.payload[idx*fdSize:])))
	if fd == takenFd {
		return 0, false
	}
	return fd, true
}

// Take transfers exclusive ownership of the file descriptor in the slot with
// the given index to the caller, which from now on is responsible for
// closing it. Take returns false when the index is out of range or when the
// descriptor has already been taken before: double takeover is an expected,
// checked condition, not an error.
func (f FileDescriptors) Take(idx int) (int, bool) {
	fd, ok := f.Fd(idx)
	if !ok {
		return 0, false
	}
	taken := int32(takenFd)
	binary.NativeEndian.PutUint32(f.payload[idx*fdSize:], uint32(taken))
	return fd, true
}

// TakeAll returns an iterator taking ownership of the remaining file
// descriptors slot by slot, left to right, skipping slots whose descriptors
// have already been taken. Every file descriptor produced is owned by the
// caller, which is responsible for closing it.
func (f FileDescriptors) TakeAll() iter.Seq[int] {
	return func(yield func(int) bool) {
		for idx := range f.Len() {
			fd, ok := f.Take(idx)
			if !ok {
				continue
			}
			if !yield(fd) {
				return
			}
		}
	}
}

// Credentials is a received SCM_CREDENTIALS control message: one or more
// process credentials records, with their values fixed by the kernel at the
// time the sender attached them.
type Credentials struct {
	payload []byte
}

func (Credentials) message() {}

// Len returns the number of credentials records in this control message.
func (c Credentials) Len() int { return len(c.payload) / ucredSize }

// At returns the credentials record with the given index, or false when the
// index is out of range.
func (c Credentials) At(idx int) (unix.Ucred, bool) {
	if idx < 0 || idx >= c.Len() {
		return unix.Ucred{}, false
	}
	return ucred(c.payload[idx*ucredSize:]), true
}

// All returns an iterator over the credentials records in this control
// message.
func (c Credentials) All() iter.Seq[unix.Ucred] {
	return func(yield func(unix.Ucred) bool) {
		for idx := range c.Len() {
			cred, _ := c.At(idx)
			if !yield(cred) {
				return
			}
		}
	}
}

// Other is a control message with a (level, type) pair this package doesn't
// interpret; its payload is surfaced as-is so callers can decide what to
// make of it.
type Other struct {
	Level int32
	Type  int32
	Data  []byte
}

func (Other) message() {}
