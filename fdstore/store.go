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

package fdstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/thediveo/seqpacket"
	"github.com/thediveo/seqpacket/ancillary"
	"github.com/thediveo/seqpacket/fdstore/api"
	"github.com/thediveo/seqpacket/fdstore/gobmsg"
	"golang.org/x/sys/unix"
)

// stashKey identifies a stored file descriptor: stashes are per-uid, so
// different users can use the same names without stepping on each other.
type stashKey struct {
	uid  uint32
	name string
}

// Store keeps open file descriptors under caller-chosen names, per user. A
// single Store can serve any number of connections concurrently, see
// [Store.Serve].
type Store struct {
	log *slog.Logger

	mu    sync.Mutex
	stash map[stashKey]int
}

// NewStore returns a new Store, logging its operations through the passed
// logger; a nil logger defaults to [slog.Default].
func NewStore(log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		log:   log,
		stash: map[stashKey]int{},
	}
}

// Close closes all stored file descriptors and empties the store.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, fd := range s.stash {
		_ = unix.Close(fd)
		delete(s.stash, key)
	}
}

// Serve services requests on the passed connection until the client
// disconnects or the passed context gets cancelled, whatever happens first.
//
// Serve generates slog records over the course of its operation; send them
// to the GinkgoWriter when using this service in tests, so the output only
// ever bothers you when a test fails.
func (s *Store) Serve(ctx context.Context, conn *seqpacket.Conn) {
	id := petname.Generate(2, "-")
	peer, err := conn.PeerCredentials()
	if err != nil {
		s.log.Error("cannot determine peer credentials",
			slog.String("fdstore-id", id),
			slog.String("err", err.Error()))
		return
	}
	s.log.Info("fdstore serving loop started",
		slog.String("fdstore-id", id),
		slog.Int("peer-pid", int(peer.Pid)),
		slog.Uint64("peer-uid", uint64(peer.Uid)))
	defer func() {
		s.log.Info("fdstore serving loop terminated", slog.String("fdstore-id", id))
	}()

	enc := gobmsg.NewEncoder()
	dec := gobmsg.NewDecoder()
	// Requests carry at most one fd as ancillary data; whatever else arrives
	// gets closed unseen by the reader as the leak-prevention backstop.
	amr := ancillary.NewMessageReader(make([]byte, unix.CmsgSpace(4)))
	defer func() { _ = amr.Close() }()
	oob := make([]byte, unix.CmsgSpace(4))

	for {
		// Check and exit if the context is done by now.
		select {
		case <-ctx.Done():
			s.log.Info("context cancelled", slog.String("fdstore-id", id))
			return
		default:
		}
		// Now try to receive the next service request message. We set a read
		// deadline so that we can check our context from time to time; if we
		// hit the deadline that's fine, we simply restart.
		if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
			s.log.Error("cannot set deadline",
				slog.String("fdstore-id", id),
				slog.String("err", err.Error()))
			return
		}
		n, err := conn.RecvMsg(dec.Buffer(), amr)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			s.log.Info("client connection terminated",
				slog.String("fdstore-id", id),
				slog.String("reason", err.Error()))
			return
		}
		if n == 0 {
			// A seqpacket socket reports an orderly peer shutdown as a
			// zero-length read; our protocol never sends empty messages.
			s.log.Info("client disconnected", slog.String("fdstore-id", id))
			return
		}
		// Try to decode the service request contained in the received
		// message. Please note that req will then hold the request value
		// itself, but not a pointer to a request value. Gotcha.
		var req api.Request
		if err := dec.Decode(n, &req); err != nil {
			s.log.Error("cannot decode incoming request",
				slog.String("fdstore-id", id),
				slog.String("err", err.Error()))
			return
		}
		// Hand any file descriptors received out-of-band over to the request
		// message, where the request accepts them; otherwise, close them
		// right away as to not leak them.
		fds := []int{}
		for msg := range amr.Messages() {
			rights, ok := msg.(ancillary.FileDescriptors)
			if !ok {
				continue
			}
			fds = slices.AppendSeq(fds, rights.TakeAll())
		}
		if fdsdecoder, ok := req.(api.FdsDecoder); ok {
			fdsdecoder.DecodeFds(fds)
		} else {
			for _, fd := range fds {
				_ = unix.Close(fd)
			}
		}
		// Handle the service request and get a response.
		s.log.Info("serving request",
			slog.String("fdstore-id", id),
			slog.String("service", fmt.Sprintf("%T", req)))
		var resp api.Response
		switch req := req.(type) {
		case *api.StoreRequest:
			resp = s.store(peer.Uid, req)
		case *api.RetrieveRequest:
			resp = s.retrieve(peer.Uid, req)
		case *api.ListRequest:
			resp = s.list(peer.Uid)
		case *api.RemoveRequest:
			resp = s.remove(peer.Uid, req)
		default:
			s.log.Error("unhandled request",
				slog.String("fdstore-id", id),
				slog.String("type", fmt.Sprintf("%T", req)))
			return
		}
		// Finally encode the response; pay attention to passing a pointer to
		// the interface, see also the gob "interface" example,
		// https://pkg.go.dev/encoding/gob#example-package-Interface
		msg, err := enc.Encode(&resp)
		if err != nil {
			s.log.Error("cannot encode response",
				slog.String("fdstore-id", id),
				slog.String("err", err.Error()))
			return
		}
		// Are there any file descriptors to transfer...? These are only
		// borrowed from the stash: the kernel duplicates them for the peer
		// while we keep the stored originals.
		amw := ancillary.NewMessageWriter(oob)
		if fdsencoder, ok := resp.(api.FdsEncoder); ok {
			if fds := fdsencoder.EncodeFds(); len(fds) > 0 {
				if !amw.AddFileDescriptors(fds...) {
					s.log.Error("response fds exceed ancillary capacity",
						slog.String("fdstore-id", id))
					return
				}
			}
		}
		if _, err := conn.SendMsg(msg, amw); err != nil {
			s.log.Error("cannot send",
				slog.String("fdstore-id", id),
				slog.String("err", err.Error()))
			return
		}
	}
}

// store takes ownership of the request's file descriptor, keeping it under
// the requested name in the requesting user's stash. Storing under an
// already used name replaces the previously stored file descriptor, closing
// it.
func (s *Store) store(uid uint32, req *api.StoreRequest) api.Response {
	if req.FD <= 0 {
		return &api.ErrorResponse{Reason: "store request without file descriptor"}
	}
	if req.Name == "" {
		_ = unix.Close(req.FD)
		return &api.ErrorResponse{Reason: "store request without name"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := stashKey{uid: uid, name: req.Name}
	if oldfd, ok := s.stash[key]; ok {
		_ = unix.Close(oldfd)
	}
	s.stash[key] = req.FD
	return &api.StoreResponse{}
}

// retrieve returns the file descriptor stored under the requested name in
// the requesting user's stash; the stash keeps the stored original, as the
// transport only borrows it for duplication by the kernel.
func (s *Store) retrieve(uid uint32, req *api.RetrieveRequest) api.Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	fd, ok := s.stash[stashKey{uid: uid, name: req.Name}]
	if !ok {
		return &api.ErrorResponse{Reason: "no file descriptor stored under name " + req.Name}
	}
	return &api.RetrieveResponse{FD: fd}
}

// list returns the lexically sorted names in the requesting user's stash.
func (s *Store) list(uid uint32) api.Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := []string{}
	for key := range s.stash {
		if key.uid != uid {
			continue
		}
		names = append(names, key.name)
	}
	slices.Sort(names)
	return &api.ListResponse{Names: names}
}

// remove closes and forgets the file descriptor stored under the requested
// name in the requesting user's stash.
func (s *Store) remove(uid uint32, req *api.RemoveRequest) api.Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := stashKey{uid: uid, name: req.Name}
	fd, ok := s.stash[key]
	if !ok {
		return &api.ErrorResponse{Reason: "no file descriptor stored under name " + req.Name}
	}
	_ = unix.Close(fd)
	delete(s.stash, key)
	return &api.RemoveResponse{}
}
