package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/hajimehoshi/go-mp3"
)

// OtoPlayer plays MP3 or WAV clips through the default output device.
//
// The underlying oto context can be created only once per process and is
// fixed to the format of the first clip played. Prompts from one engine share
// a format, so this never bites in practice; a clip in a different format is
// rejected as a playback failure rather than played at the wrong speed.
type OtoPlayer struct {
	mu       sync.Mutex
	octx     *oto.Context
	rate     int
	channels int
}

// NewOtoPlayer returns a Player; the output device is opened lazily on the
// first Play.
func NewOtoPlayer() *OtoPlayer {
	return &OtoPlayer{}
}

// Play decodes the clip and blocks until playback finishes or fails.
func (p *OtoPlayer) Play(ctx context.Context, data []byte) error {
	pcm, rate, channels, err := decodeClip(data)
	if err != nil {
		return &DeviceError{Op: "play", Err: err}
	}

	octx, err := p.context(rate, channels)
	if err != nil {
		return &DeviceError{Op: "play", Err: err}
	}

	player := octx.NewPlayer(pcm)
	player.Play()
	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			_ = player.Close()
			return ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
	if err := player.Close(); err != nil {
		return &DeviceError{Op: "play", Err: err}
	}
	return nil
}

func (p *OtoPlayer) context(rate, channels int) (*oto.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.octx != nil {
		if rate != p.rate || channels != p.channels {
			return nil, fmt.Errorf("clip format %dHz/%dch differs from output device %dHz/%dch",
				rate, channels, p.rate, p.channels)
		}
		return p.octx, nil
	}

	octx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   rate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, err
	}
	<-ready

	p.octx = octx
	p.rate = rate
	p.channels = channels
	return octx, nil
}

// decodeClip sniffs the container and returns a 16-bit LE PCM reader plus
// its sample rate and channel count.
func decodeClip(data []byte) (io.Reader, int, int, error) {
	if len(data) >= 4 && string(data[0:4]) == "RIFF" {
		pcm, f, err := DecodeWAV(data)
		if err != nil {
			return nil, 0, 0, err
		}
		if f.BitDepth != 16 {
			return nil, 0, 0, fmt.Errorf("unsupported WAV bit depth %d", f.BitDepth)
		}
		return bytes.NewReader(pcm), int(f.SampleRate), int(f.Channels), nil
	}

	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode mp3: %w", err)
	}
	// go-mp3 always emits 16-bit stereo.
	return dec, dec.SampleRate(), 2, nil
}
