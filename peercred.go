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
	"os"

	"golang.org/x/sys/unix"
)

// PeerCredentials returns the credentials (pid, uid, and gid) of the peer
// process, as fixed by the kernel at the time the connection was
// established. This uses the SO_PEERCRED socket option, so it works without
// the peer cooperating in any way.
func (c *Conn) PeerCredentials() (*unix.Ucred, error) {
	var cred *unix.Ucred
	var operr error
	if err := c.rc.Control(func(fd uintptr) {
		cred, operr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return nil, err
	}
	if operr != nil {
		return nil, os.NewSyscallError("getsockopt", operr)
	}
	return cred, nil
}

// SetPassCredentials enables (or disables) reception of SCM_CREDENTIALS
// control messages on this connection endpoint: the kernel only attaches
// credentials sent by the peer when the receiving socket has opted in via
// SO_PASSCRED.
func (c *Conn) SetPassCredentials(enable bool) error {
	val := 0
	if enable {
		val = 1
	}
	var operr error
	if err := c.rc.Control(func(fd uintptr) {
		operr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_PASSCRED, val)
	}); err != nil {
		return err
	}
	return os.NewSyscallError("setsockopt", operr)
}
