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
	"errors"
	"fmt"

	"github.com/thediveo/seqpacket"
	"github.com/thediveo/seqpacket/ancillary"
	"github.com/thediveo/seqpacket/fdstore/api"
	"github.com/thediveo/seqpacket/fdstore/gobmsg"
	"golang.org/x/sys/unix"
)

// Client talks to exactly one fdstore service instance over a connected
// seqpacket unix domain socket.
//
// # Important
//
// Client cannot(!) be used concurrently.
type Client struct {
	conn *seqpacket.Conn
	enc  *gobmsg.Encoder
	dec  *gobmsg.Decoder
	amw  *ancillary.MessageWriter
	amr  *ancillary.MessageReader
}

// NewClient returns a new client using the passed connection to talk to an
// fdstore service instance. The client takes ownership of the connection;
// use [Client.Close] to close it.
func NewClient(conn *seqpacket.Conn) *Client {
	return &Client{
		conn: conn,
		enc:  gobmsg.NewEncoder(),
		dec:  gobmsg.NewDecoder(),
		amw:  ancillary.NewMessageWriter(make([]byte, unix.CmsgSpace(4))),
		amr:  ancillary.NewMessageReader(make([]byte, unix.CmsgSpace(4))),
	}
}

// Close the connection to the fdstore service instance; the service's
// serving loop for this connection then terminates. The stored file
// descriptors remain in the store.
func (c *Client) Close() error {
	err := c.conn.Close()
	if cerr := c.amr.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Store hands the passed open file descriptor over to the service, to be
// kept under the given name. The service takes ownership of its duplicate;
// the caller keeps ownership of fd itself and may close it afterwards.
// Storing under an already used name replaces the previously stored file
// descriptor.
func (c *Client) Store(name string, fd int) error {
	_, err := do[*api.StoreResponse](c, &api.StoreRequest{Name: name, FD: fd})
	return err
}

// Retrieve returns (a duplicate of) the file descriptor stored under the
// given name. The caller owns the returned file descriptor and is
// responsible for closing it.
func (c *Client) Retrieve(name string) (int, error) {
	resp, err := do[*api.RetrieveResponse](c, &api.RetrieveRequest{Name: name})
	if err != nil {
		return 0, err
	}
	if resp.FD <= 0 {
		return 0, errors.New("service response without file descriptor")
	}
	return resp.FD, nil
}

// List returns the names of all file descriptors stored by this user, in
// lexical order.
func (c *Client) List() ([]string, error) {
	resp, err := do[*api.ListResponse](c, &api.ListRequest{})
	if err != nil {
		return nil, err
	}
	return resp.Names, nil
}

// Remove tells the service to forget the file descriptor stored under the
// given name, closing the service's stored duplicate.
func (c *Client) Remove(name string) error {
	_, err := do[*api.RemoveResponse](c, &api.RemoveRequest{Name: name})
	return err
}

// do carries out a single request-response transaction: encode and send the
// request with any file descriptors attached out-of-band, then receive and
// decode the response, distributing received file descriptors back into the
// response message.
func do[R api.Response](c *Client, req api.Request) (R, error) {
	var zero R
	// Any fds to transfer travel out-of-band; they are only borrowed from
	// the caller, so the writer must not close them.
	c.amw.Clear()
	if fdsencoder, ok := req.(api.FdsEncoder); ok {
		if fds := fdsencoder.EncodeFds(); len(fds) > 0 {
			if !c.amw.AddFileDescriptors(fds...) {
				return zero, errors.New("request fds exceed ancillary capacity")
			}
		}
	}
	msg, err := c.enc.Encode(&req)
	if err != nil {
		return zero, fmt.Errorf("cannot encode request: %w", err)
	}
	if _, err := c.conn.SendMsg(msg, c.amw); err != nil {
		return zero, fmt.Errorf("cannot send request: %w", err)
	}
	n, err := c.conn.RecvMsg(c.dec.Buffer(), c.amr)
	if err != nil {
		return zero, fmt.Errorf("cannot receive response: %w", err)
	}
	if n == 0 {
		return zero, errors.New("service closed the connection")
	}
	var resp api.Response
	if err := c.dec.Decode(n, &resp); err != nil {
		return zero, fmt.Errorf("cannot decode response: %w", err)
	}
	// Hand any file descriptors received out-of-band over to the response
	// message, where the response accepts them; otherwise, close them as to
	// not leak them.
	var fds []int
	for m := range c.amr.Messages() {
		rights, ok := m.(ancillary.FileDescriptors)
		if !ok {
			continue
		}
		for fd := range rights.TakeAll() {
			fds = append(fds, fd)
		}
	}
	if fdsdecoder, ok := resp.(api.FdsDecoder); ok {
		fdsdecoder.DecodeFds(fds)
	} else {
		for _, fd := range fds {
			_ = unix.Close(fd)
		}
	}
	switch resp := resp.(type) {
	case R:
		return resp, nil
	case *api.ErrorResponse:
		return zero, errors.New(resp.Reason)
	}
	return zero, fmt.Errorf("unexpected service response of type %T", resp)
}
