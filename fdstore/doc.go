/*
Package fdstore implements a small service keeping open file descriptors
under caller-chosen names, to be retrieved later, possibly by a different
process: think of a well-known place to park listening sockets, memfds, or
pipe ends across process restarts.

Clients talk to the service over a connected seqpacket unix domain socket
(see [github.com/thediveo/seqpacket.Conn]), with requests and responses in
gob encoding and the file descriptors themselves riding along as ancillary
data. Stored file descriptors are namespaced by the storing user: the
service checks the peer's credentials (SO_PEERCRED) once per connection, and
a user only ever sees (and removes) their own stash.

The service side is [Store] with its [Store.Serve] connection loop; the
client side is [Client]. The fdstore/cmd/fdstored command serves on an
inherited file descriptor 3, the time-honored way of passing a listening or
connected socket down from a supervising process.
*/
package fdstore
