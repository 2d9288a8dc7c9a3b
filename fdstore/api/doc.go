// Package api defines the request and response messages of the fdstore
// service protocol, transferred in gob encoding as seqpacket messages, with
// file descriptors riding along as ancillary data.
package api
