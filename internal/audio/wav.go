package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE
)

// ErrInvalidWAV is returned by DecodeWAV for data that is not a readable
// RIFF/WAVE stream.
var ErrInvalidWAV = errors.New("invalid wav")

// EncodeWAV writes b as a mono 32-bit IEEE float RIFF/WAVE file. Decoding
// the result with DecodeWAV yields the same samples.
func EncodeWAV(b Buffer) []byte {
	const bps = 32
	dataSize := len(b.Samples) * 4
	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], wavFormatFloat)
	binary.LittleEndian.PutUint16(buf[22:24], 1)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(b.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(b.SampleRate*bps/8))
	binary.LittleEndian.PutUint16(buf[32:34], bps/8)
	binary.LittleEndian.PutUint16(buf[34:36], bps)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	for i, s := range b.Samples {
		binary.LittleEndian.PutUint32(buf[44+i*4:], math.Float32bits(s))
	}
	return buf
}

type wavFormat struct {
	format     int
	channels   int
	sampleRate int
	bits       int
}

// DecodeWAV reads 16/32-bit PCM or 32-bit float WAV data of any channel
// count and returns it as a mono buffer.
func DecodeWAV(data []byte) (Buffer, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Buffer{}, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWAV)
	}

	var (
		f       wavFormat
		haveFmt bool
	)
	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return Buffer{}, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}
			fd := data[body:]
			f = wavFormat{
				format:     int(binary.LittleEndian.Uint16(fd[0:2])),
				channels:   int(binary.LittleEndian.Uint16(fd[2:4])),
				sampleRate: int(binary.LittleEndian.Uint32(fd[4:8])),
				bits:       int(binary.LittleEndian.Uint16(fd[14:16])),
			}
			if f.format == wavFormatExtensible && size >= 26 && body+26 <= len(data) {
				f.format = int(binary.LittleEndian.Uint16(fd[24:26]))
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return Buffer{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalidWAV)
			}
			end := body + size
			if size < 0 || end > len(data) {
				end = len(data)
			}
			return decodeSamples(data[body:end], f)
		}

		offset = body + size
		if size%2 != 0 {
			offset++
		}
	}
	return Buffer{}, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
}

func decodeSamples(pcm []byte, f wavFormat) (Buffer, error) {
	if f.channels <= 0 || f.sampleRate <= 0 {
		return Buffer{}, fmt.Errorf("%w: %d channels at %d Hz", ErrInvalidWAV, f.channels, f.sampleRate)
	}

	var interleaved []float32
	switch {
	case f.format == wavFormatPCM && f.bits == 16:
		raw := make([]int16, len(pcm)/2)
		for i := range raw {
			raw[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		}
		interleaved = FromInt16(raw)
	case f.format == wavFormatPCM && f.bits == 32:
		raw := make([]int32, len(pcm)/4)
		for i := range raw {
			raw[i] = int32(binary.LittleEndian.Uint32(pcm[i*4:]))
		}
		interleaved = FromInt32(raw)
	case f.format == wavFormatFloat && f.bits == 32:
		interleaved = make([]float32, len(pcm)/4)
		for i := range interleaved {
			v := math.Float32frombits(binary.LittleEndian.Uint32(pcm[i*4:]))
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				return Buffer{}, fmt.Errorf("%w: non-finite sample at frame %d", ErrInvalidWAV, i/f.channels)
			}
			interleaved[i] = v
		}
	default:
		return Buffer{}, fmt.Errorf("%w: unsupported encoding (format %d, %d bits)", ErrInvalidWAV, f.format, f.bits)
	}

	return Buffer{Samples: Downmix(interleaved, f.channels), SampleRate: f.sampleRate}, nil
}
