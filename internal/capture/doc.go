// Package capture pulls raw frames from the display server and hands them to
// the frame relay.
//
// Frames are produced by an ffmpeg x11grab process writing BGRA rawvideo to a
// pipe, so every source kind arrives in the same pixel layout. The engine
// reads exactly one frame's worth of bytes at a time into pooled buffers,
// enforces the target frame rate, and reports source loss as a terminal error.
package capture
