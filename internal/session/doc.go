// Package session runs one screen-share pipeline at a time.
//
// A Supervisor owns the active Session. A Session wires the capture engine,
// the frame relay and the sender worker together: the capture goroutine only
// produces frames, and the worker owns everything downstream of the relay
// (degradation, encode, packetize, send, feedback).
package session
