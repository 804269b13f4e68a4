package audio

import (
	"encoding/binary"
	"fmt"
)

// Format describes the PCM stream inside a WAV container.
type Format struct {
	SampleRate uint32
	Channels   uint16
	BitDepth   uint16
}

// EncodeWAV wraps raw little-endian PCM samples in a RIFF/WAVE container.
func EncodeWAV(pcm []byte, f Format) []byte {
	blockAlign := f.Channels * f.BitDepth / 8
	byteRate := f.SampleRate * uint32(blockAlign)

	buf := make([]byte, 0, 44+len(pcm))
	u32 := func(v uint32) []byte {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		return b[:]
	}
	u16 := func(v uint16) []byte {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], v)
		return b[:]
	}

	buf = append(buf, "RIFF"...)
	buf = append(buf, u32(36+uint32(len(pcm)))...)
	buf = append(buf, "WAVE"...)
	buf = append(buf, "fmt "...)
	buf = append(buf, u32(16)...)
	buf = append(buf, u16(1)...) // PCM
	buf = append(buf, u16(f.Channels)...)
	buf = append(buf, u32(f.SampleRate)...)
	buf = append(buf, u32(byteRate)...)
	buf = append(buf, u16(blockAlign)...)
	buf = append(buf, u16(f.BitDepth)...)
	buf = append(buf, "data"...)
	buf = append(buf, u32(uint32(len(pcm)))...)
	buf = append(buf, pcm...)
	return buf
}

// DecodeWAV extracts the PCM payload and format from a RIFF/WAVE container.
// Only uncompressed PCM is supported.
func DecodeWAV(data []byte) ([]byte, Format, error) {
	var f Format
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, f, fmt.Errorf("not a WAV file")
	}

	var pcm []byte
	haveFmt := false
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) {
			size = len(data) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, f, fmt.Errorf("short fmt chunk")
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 {
				return nil, f, fmt.Errorf("unsupported WAV format %d (want PCM)", format)
			}
			f.Channels = binary.LittleEndian.Uint16(data[body+2 : body+4])
			f.SampleRate = binary.LittleEndian.Uint32(data[body+4 : body+8])
			f.BitDepth = binary.LittleEndian.Uint16(data[body+14 : body+16])
			haveFmt = true
		case "data":
			pcm = data[body : body+size]
		}
		// chunks are word-aligned
		off = body + size + size%2
	}

	if !haveFmt {
		return nil, f, fmt.Errorf("missing fmt chunk")
	}
	if pcm == nil {
		return nil, f, fmt.Errorf("missing data chunk")
	}
	return pcm, f, nil
}
