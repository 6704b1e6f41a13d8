// Package conn owns the network sockets behind device commands and
// telemetry.
//
// Each device gets exactly one command connection, owned by that device's
// queue worker. A connection moves through a small lifecycle: it starts
// idle, dials lazily on first use, serves exchanges while open, drains on
// shutdown and ends closed. Any I/O failure tears the socket down; the
// next exchange re-dials after an exponential backoff, so a flapping
// device never busy-loops the gateway.
//
// TCP connections are request/response: write the encoded command, then
// read until the dialect's completion check accepts the buffer or the
// deadline fires. UDP command connections are fire-and-forget and return
// no response bytes. UDP listeners run a continuous datagram read loop
// for devices that push telemetry.
package conn
