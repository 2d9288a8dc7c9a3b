// fdstored is an fdstore service instance serving a single client over the
// connected seqpacket unix domain socket inherited as file descriptor 3. It
// terminates when the client disconnects.
package main
