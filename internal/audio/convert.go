package audio

const (
	int16FullScale = 32768.0
	int32FullScale = 2147483648.0
)

// FromInt16 converts signed 16-bit samples to floats in [-1, 1).
func FromInt16(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(float64(s) / int16FullScale)
	}
	return out
}

// FromInt32 converts signed 32-bit samples to floats in [-1, 1).
func FromInt32(samples []int32) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(float64(s) / int32FullScale)
	}
	return out
}

// Downmix averages interleaved multi-channel frames into mono.
// A trailing partial frame is dropped.
func Downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	out := make([]float32, frames)
	for f := 0; f < frames; f++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(interleaved[f*channels+c])
		}
		out[f] = float32(sum / float64(channels))
	}
	return out
}

// FromEncoderUnits rescales samples that hold integer PCM values of the
// given bit depth (16 or 32) into [-1, 1]. Any other depth is treated as
// float audio and returned unchanged.
func FromEncoderUnits(b Buffer, bits int) Buffer {
	var scale float64
	switch bits {
	case 16:
		scale = int16FullScale
	case 32:
		scale = int32FullScale
	default:
		return b
	}
	out := make([]float32, len(b.Samples))
	for i, s := range b.Samples {
		out[i] = float32(float64(s) / scale)
	}
	return Buffer{Samples: out, SampleRate: b.SampleRate}
}
