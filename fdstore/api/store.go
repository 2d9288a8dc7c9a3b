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

package api

import (
	"golang.org/x/sys/unix"
)

// StoreRequest asks the service to keep the single open file descriptor
// accompanying this request as ancillary data, under the given name. Storing
// under an already used name replaces the previously stored file descriptor,
// closing it.
type StoreRequest struct {
	Name string
	// FD is the file descriptor to store; it travels as ancillary data, not
	// in-band. The service takes ownership.
	FD int
}

// StoreResponse confirms that the file descriptor has been stored.
type StoreResponse struct{}

var (
	_ Request    = (*StoreRequest)(nil)
	_ FdsEncoder = (*StoreRequest)(nil)
	_ FdsDecoder = (*StoreRequest)(nil)
	_ Response   = (*StoreResponse)(nil)
)

func (s StoreRequest) request()   {}
func (s StoreResponse) response() {}

// EncodeFds returns the file descriptor contained in the request message,
// replacing the original message field with a zero value so the field
// doesn't get transferred by gob. gob, not golb.
func (s *StoreRequest) EncodeFds() []int {
	return auxiliaryFds(nil).borrow(&s.FD)
}

// DecodeFds puts the (single) file descriptor that was received as ancillary
// data with this request back into its message field. DecodeFds closes any
// surplus file descriptors as to not leak them.
func (s *StoreRequest) DecodeFds(fds []int) {
	for _, fd := range fds {
		if s.FD == 0 {
			s.FD = fd
			continue
		}
		_ = unix.Close(fd)
	}
}

// RetrieveRequest asks the service for the file descriptor stored under the
// given name.
type RetrieveRequest struct {
	Name string
}

// RetrieveResponse returns the file descriptor stored under the requested
// name, as ancillary data. The receiver takes ownership of its (kernel-made)
// duplicate and thus is responsible for closing it; the service keeps the
// stored original for further retrievals.
type RetrieveResponse struct {
	FD int
}

var (
	_ Request    = (*RetrieveRequest)(nil)
	_ Response   = (*RetrieveResponse)(nil)
	_ FdsEncoder = (*RetrieveResponse)(nil)
	_ FdsDecoder = (*RetrieveResponse)(nil)
)

func (r RetrieveRequest) request()    {}
func (r RetrieveResponse) response() {}

func (r *RetrieveResponse) EncodeFds() []int {
	return auxiliaryFds(nil).borrow(&r.FD)
}

func (r *RetrieveResponse) DecodeFds(fds []int) {
	for _, fd := range fds {
		if r.FD == 0 {
			r.FD = fd
			continue
		}
		_ = unix.Close(fd)
	}
}

// ListRequest asks the service for the names of all file descriptors stored
// by the requesting user.
type ListRequest struct{}

// ListResponse returns the stored names in lexical order.
type ListResponse struct {
	Names []string
}

var (
	_ Request  = (*ListRequest)(nil)
	_ Response = (*ListResponse)(nil)
)

func (l ListRequest) request()   {}
func (l ListResponse) response() {}

// RemoveRequest asks the service to remove the file descriptor stored under
// the given name, closing the service's stored file descriptor.
type RemoveRequest struct {
	Name string
}

// RemoveResponse confirms the removal.
type RemoveResponse struct{}

var (
	_ Request  = (*RemoveRequest)(nil)
	_ Response = (*RemoveResponse)(nil)
)

func (r RemoveRequest) request()   {}
func (r RemoveResponse) response() {}
