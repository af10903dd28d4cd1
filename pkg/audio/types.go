package audio

import "time"

// DefaultSampleRate is the rate everything downstream of capture runs at.
const DefaultSampleRate = 16000

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Frame is one fixed-size analysis window emitted by a [Framer].
//
// Samples and PCM carry the same audio: Samples as normalised float32 in
// [-1, 1] for signal processing, PCM as little-endian signed 16-bit for
// transcription backends and WAV encoding.
type Frame struct {
	// Samples holds the mono window, normalised to [-1, 1].
	Samples []float32

	// PCM is Samples encoded as little-endian int16.
	PCM []byte

	// SampleRate in Hz (16000 for everything downstream of capture).
	SampleRate int

	// Index is the zero-based position of this window in its stream.
	Index int

	// Timestamp marks where the window starts, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	return SamplesDuration(len(f.Samples), f.SampleRate)
}

// SamplesDuration converts a sample count at rate into a duration.
func SamplesDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}
