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
	"math"

	"golang.org/x/sys/unix"
)

// MessageWriter appends control messages to a caller-owned buffer, to be
// sent as ancillary data together with a unix domain socket message, such as
// by [github.com/thediveo/seqpacket.Conn.SendMsg].
//
// A MessageWriter's capacity is fixed at construction time and it never
// allocates buffer storage on its own. All Add methods are all-or-nothing:
// when the remaining capacity cannot fit the complete control message
// including its header and padding, then no bytes are written at all and the
// particular Add method returns false.
type MessageWriter struct {
	buffer []byte
	length int
	owned  []int
}

// NewMessageWriter returns a new MessageWriter writing control messages into
// the passed caller-owned buffer. The caller must not touch the buffer
// contents for the lifetime of the writer; use [MessageWriter.Bytes] to get
// the used part of the buffer for transmission.
func NewMessageWriter(buffer []byte) *MessageWriter {
	return &MessageWriter{buffer: buffer}
}

// Capacity returns the fixed total capacity of the writer's buffer.
func (w *MessageWriter) Capacity() int { return len(w.buffer) }

// Len returns the number of buffer bytes used so far.
func (w *MessageWriter) Len() int { return w.length }

// IsEmpty returns true if no control message has been added yet.
func (w *MessageWriter) IsEmpty() bool { return w.length == 0 }

// Bytes returns the used part of the writer's buffer, that is, the encoded
// control messages to be passed as ancillary data to a sendmsg(2)-style
// transport call.
func (w *MessageWriter) Bytes() []byte { return w.buffer[:w.length] }

// AddFileDescriptors appends a single SCM_RIGHTS control message carrying
// the passed file descriptors, returning true on success. The file
// descriptors are only borrowed: the caller keeps ownership and remains
// responsible for closing them (after transmission, the peer ends up with
// its own duplicates anyway).
//
// It returns false when the message wouldn't completely fit the remaining
// buffer capacity; the buffer then is left unmodified.
func (w *MessageWriter) AddFileDescriptors(fds ...int) bool {
	if len(fds) > math.MaxInt/fdSize {
		return false
	}
	return w.add(unix.SOL_SOCKET, unix.SCM_RIGHTS, len(fds)*fdSize, func(payload []byte) {
		for i, fd := range fds {
			binary.NativeEndian.PutUint32(payload[i*fdSize:], uint32(int32(fd)))
		}
	})
}

// AddOwnedFileDescriptors is like [MessageWriter.AddFileDescriptors], except
// that the writer takes ownership of the passed file descriptors: after a
// successful transmit the kernel holds the peer's duplicates and the local
// originals serve no purpose anymore, so the writer closes them (see
// [MessageWriter.Close]). When AddOwnedFileDescriptors returns false, no
// ownership was taken and the caller keeps the descriptors.
func (w *MessageWriter) AddOwnedFileDescriptors(fds ...int) bool {
	if !w.AddFileDescriptors(fds...) {
		return false
	}
	w.owned = append(w.owned, fds...)
	return true
}

// AddCredentials appends a single SCM_CREDENTIALS control message carrying
// the passed process credentials records, returning true on success, or
// false when the message wouldn't completely fit the remaining buffer
// capacity (leaving the buffer unmodified).
//
// Note that the kernel checks the credentials values at sendmsg(2) time:
// sending anything other than the caller's own pid, uid, and gid requires
// the corresponding capabilities (such as CAP_SYS_ADMIN for the pid).
func (w *MessageWriter) AddCredentials(creds ...unix.Ucred) bool {
	if len(creds) > math.MaxInt/ucredSize {
		return false
	}
	return w.add(unix.SOL_SOCKET, unix.SCM_CREDENTIALS, len(creds)*ucredSize, func(payload []byte) {
		for i, cred := range creds {
			putUcred(payload[i*ucredSize:], cred)
		}
	})
}

// Add appends a single control message with the passed level, type, and raw
// payload, returning true on success, or false when the message wouldn't
// completely fit the remaining buffer capacity (leaving the buffer
// unmodified). Add is the generic escape hatch for control message kinds
// this package has no dedicated Add method for, SCM_SECURITY for instance.
func (w *MessageWriter) Add(level, typ int32, payload []byte) bool {
	return w.add(level, typ, len(payload), func(b []byte) {
		copy(b, payload)
	})
}

// add appends a single control message header for a payload of the given
// length in bytes, zero-fills the padding, and calls fill with the payload
// region to encode into. It reports failure without touching the buffer
// whenever the padded total size would overflow or exceed the remaining
// capacity.
func (w *MessageWriter) add(level, typ int32, payloadLen int, fill func(payload []byte)) bool {
	if payloadLen < 0 || uint64(payloadLen) > math.MaxUint32 {
		return false
	}
	space := unix.CmsgSpace(payloadLen)
	if space < 0 || w.length > len(w.buffer)-space {
		return false
	}
	b := w.buffer[w.length : w.length+space]
	clear(b)
	putCmsghdr(b, cmsghdr{
		len:   uint64(unix.CmsgLen(payloadLen)),
		level: level,
		typ:   typ,
	})
	fill(b[unix.CmsgLen(0) : unix.CmsgLen(0)+payloadLen])
	w.length += space
	return true
}

// Clear resets the writer to empty, so the buffer can be reused for a fresh
// set of control messages. Previously copied-out data is unaffected, only
// the logical view resets. File descriptors owned by the writer (see
// [MessageWriter.AddOwnedFileDescriptors]) get closed, as they cannot be
// transmitted anymore.
func (w *MessageWriter) Clear() {
	_ = w.Close()
	w.length = 0
}

// Close closes all file descriptors the writer has taken ownership of and
// that haven't been handed over to the kernel by a successful transmit yet.
// Close is idempotent; it returns the first close error encountered, if any.
//
// Transports call Close automatically after a successful transmit, so the
// usual “defer w.Close()” only ever kicks in on the error paths.
func (w *MessageWriter) Close() error {
	var firsterr error
	for _, fd := range w.owned {
		if err := unix.Close(fd); err != nil && firsterr == nil {
			firsterr = err
		}
	}
	w.owned = nil
	return firsterr
}
