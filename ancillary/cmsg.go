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

	"golang.org/x/sys/unix"
)

// The kernel transfers file descriptors in SCM_RIGHTS payloads as 32bit
// signed integers, regardless of the architecture's word size.
const fdSize = 4

// Size of a struct ucred: pid, uid, and gid, each 32 bits.
const ucredSize = unix.SizeofUcred

// Offsets of the cmsg_level and cmsg_type header fields: they trail the
// native word-sized cmsg_len field.
const (
	levelOffset = unix.SizeofCmsghdr - 8
	typeOffset  = unix.SizeofCmsghdr - 4
)

// cmsghdr is a control message header in a form that can be read from and
// written to a plain byte slice, avoiding any pointer-casting shenanigans.
// Its len field counts the header plus payload bytes before padding, just
// like the kernel's cmsg_len.
type cmsghdr struct {
	len   uint64
	level int32
	typ   int32
}

// cmsgAlign rounds the passed length up to the platform's control message
// alignment boundary; on Linux that is the native word size.
func cmsgAlign(length int) int {
	return (length + unix.SizeofPtr - 1) & ^(unix.SizeofPtr - 1)
}

// putCmsghdr writes the passed header at the beginning of the passed byte
// slice, which must provide space for at least [unix.SizeofCmsghdr] bytes.
func putCmsghdr(b []byte, h cmsghdr) {
	putUword(b, h.len)
	binary.NativeEndian.PutUint32(b[levelOffset:], uint32(h.level))
	binary.NativeEndian.PutUint32(b[typeOffset:], uint32(h.typ))
}

// parseCmsghdr returns the control message header at the beginning of the
// passed byte slice, or false when there aren't even enough bytes left for a
// complete header.
func parseCmsghdr(b []byte) (cmsghdr, bool) {
	if len(b) < unix.SizeofCmsghdr {
		return cmsghdr{}, false
	}
	return cmsghdr{
		len:   uword(b),
		level: int32(binary.NativeEndian.Uint32(b[levelOffset:])),
		typ:   int32(binary.NativeEndian.Uint32(b[typeOffset:])),
	}, true
}

// putUword writes a native word-sized unsigned integer in host byte order.
func putUword(b []byte, v uint64) {
	switch unix.SizeofPtr {
	case 8:
		binary.NativeEndian.PutUint64(b, v)
	case 4:
		binary.NativeEndian.PutUint32(b, uint32(v))
	}
}

// uword reads a native word-sized unsigned integer in host byte order.
func uword(b []byte) uint64 {
	switch unix.SizeofPtr {
	case 8:
		return binary.NativeEndian.Uint64(b)
	case 4:
		return uint64(binary.NativeEndian.Uint32(b))
	}
	return 0 // cannot be reached on any supported architecture
}

// putUcred encodes a process credentials record in the kernel's struct ucred
// wire layout.
func putUcred(b []byte, cred unix.Ucred) {
	binary.NativeEndian.PutUint32(b[0:], uint32(cred.Pid))
	binary.NativeEndian.PutUint32(b[4:], cred.Uid)
	binary.NativeEndian.PutUint32(b[8:], cred.Gid)
}

// ucred decodes a process credentials record from the kernel's struct ucred
// wire layout.
func ucred(b []byte) unix.Ucred {
	return unix.Ucred{
		Pid: int32(binary.NativeEndian.Uint32(b[0:])),
		Uid: binary.NativeEndian.Uint32(b[4:]),
		Gid: binary.NativeEndian.Uint32(b[8:]),
	}
}
