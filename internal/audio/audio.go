package audio

import (
	"context"
	"errors"
	"fmt"
)

// Capture errors. The controller maps each to a tailored user-facing message,
// so they must stay distinguishable with errors.Is.
var (
	// ErrPermissionDenied means the user (or OS policy) refused microphone access.
	ErrPermissionDenied = errors.New("microphone permission denied")

	// ErrDeviceNotFound means no usable audio input device exists.
	ErrDeviceNotFound = errors.New("no microphone found")

	// ErrEmptyCapture means recording stopped with zero bytes collected.
	// No network call may be made for an empty capture.
	ErrEmptyCapture = errors.New("no audio recorded")
)

// DeviceError wraps any other failure of the underlying audio backend.
type DeviceError struct {
	Op  string // "acquire", "begin", "end", "play"
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Clip is one immutable encoded-audio payload produced by a Recorder.
type Clip struct {
	Data        []byte
	ContentType string
}

// Recorder captures microphone audio. Acquire holds an exclusive OS input
// device until Release; Release must run on every exit path or the next
// Acquire can block. Begin/End bracket one recording; End yields the clip.
type Recorder interface {
	// Acquire requests microphone access. Fails with ErrPermissionDenied,
	// ErrDeviceNotFound or a *DeviceError.
	Acquire(ctx context.Context) error

	// Begin starts buffering audio. Capture runs in the background; the
	// caller returns immediately and stops it with End.
	Begin() error

	// End stops buffering and returns the encoded clip, or ErrEmptyCapture
	// if nothing was collected.
	End() (Clip, error)

	// Release frees the input device. Safe to call more than once.
	Release()
}

// Player plays a single clip to completion. Play blocks until the clip
// reaches its natural end or fails; the returned error is the failure
// reason. One playback per Player may be in flight; the caller sequences.
// There is no mid-playback cancellation beyond ctx.
type Player interface {
	Play(ctx context.Context, data []byte) error
}
