// Package ffprobe wraps the ffprobe binary to read video frame metadata.
//
// The binder uses the frame count and frame rate reported here to retime
// source clips to the engine's fixed 16 fps sampling.
package ffprobe
