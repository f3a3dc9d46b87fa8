// Package ws streams rendered targets over websockets. Each connection gets a
// session of its own; the client can send UI events and update requests
// back over the same socket.
package ws
