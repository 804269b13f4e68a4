package audio

import (
	"context"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
)

// Capture format: 16 kHz mono 16-bit PCM, the usual rate for speech pipelines.
const (
	captureSampleRate = 16000
	captureChannels   = 1
	captureBitDepth   = 16
)

// MalgoRecorder records microphone audio through the miniaudio backend and
// yields WAV clips. One Acquire/Release cycle may span several Begin/End
// recordings; the OS input device stays held for the whole cycle.
type MalgoRecorder struct {
	mu     sync.Mutex
	actx   *malgo.AllocatedContext
	device *malgo.Device
	buf    []byte
}

// NewMalgoRecorder returns an unacquired recorder.
func NewMalgoRecorder() *MalgoRecorder {
	return &MalgoRecorder{}
}

// Acquire initializes the audio backend and opens the default capture device.
func (r *MalgoRecorder) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.device != nil {
		return &DeviceError{Op: "acquire", Err: errAlreadyAcquired}
	}

	actx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return classifyCaptureErr("acquire", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = captureChannels
	cfg.SampleRate = captureSampleRate
	cfg.Alsa.NoMMap = 1

	onFrames := func(_, input []byte, _ uint32) {
		r.mu.Lock()
		r.buf = append(r.buf, input...)
		r.mu.Unlock()
	}

	device, err := malgo.InitDevice(actx.Context, cfg, malgo.DeviceCallbacks{Data: onFrames})
	if err != nil {
		_ = actx.Uninit()
		actx.Free()
		return classifyCaptureErr("acquire", err)
	}

	r.actx = actx
	r.device = device
	return nil
}

// Begin starts buffering microphone frames.
func (r *MalgoRecorder) Begin() error {
	r.mu.Lock()
	device := r.device
	r.buf = nil
	r.mu.Unlock()

	if device == nil {
		return &DeviceError{Op: "begin", Err: errNotAcquired}
	}
	if err := device.Start(); err != nil {
		return classifyCaptureErr("begin", err)
	}
	return nil
}

// End stops buffering and returns the recording as a WAV clip.
func (r *MalgoRecorder) End() (Clip, error) {
	r.mu.Lock()
	device := r.device
	r.mu.Unlock()

	if device == nil {
		return Clip{}, &DeviceError{Op: "end", Err: errNotAcquired}
	}
	if err := device.Stop(); err != nil {
		return Clip{}, classifyCaptureErr("end", err)
	}

	r.mu.Lock()
	pcm := r.buf
	r.buf = nil
	r.mu.Unlock()

	if len(pcm) == 0 {
		return Clip{}, ErrEmptyCapture
	}
	wav := EncodeWAV(pcm, Format{
		SampleRate: captureSampleRate,
		Channels:   captureChannels,
		BitDepth:   captureBitDepth,
	})
	return Clip{Data: wav, ContentType: "audio/wav"}, nil
}

// Release frees the capture device and backend context. Idempotent.
func (r *MalgoRecorder) Release() {
	r.mu.Lock()
	device := r.device
	actx := r.actx
	r.device = nil
	r.actx = nil
	r.buf = nil
	r.mu.Unlock()

	if device != nil {
		device.Uninit()
	}
	if actx != nil {
		_ = actx.Uninit()
		actx.Free()
	}
}

var (
	errAlreadyAcquired = &acquireStateErr{"recorder already acquired"}
	errNotAcquired     = &acquireStateErr{"recorder not acquired"}
)

type acquireStateErr struct{ s string }

func (e *acquireStateErr) Error() string { return e.s }

// classifyCaptureErr maps backend failures onto the capture error taxonomy so
// the controller can show a tailored message for each.
func classifyCaptureErr(op string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "access denied"), strings.Contains(msg, "permission"):
		return ErrPermissionDenied
	case strings.Contains(msg, "no device"), strings.Contains(msg, "device not found"),
		strings.Contains(msg, "no backend"):
		return ErrDeviceNotFound
	default:
		return &DeviceError{Op: op, Err: err}
	}
}
