// Package audio holds the sample-level plumbing shared by capture, playback
// and analysis: the [Stream] abstraction over a live microphone, PCM
// conversions, WAV encoding and the [Framer] that cuts a stream into fixed
// windows for voice activity detection and transcription.
//
// Device backends live in sub-packages (audio/capture/...) and only need to
// satisfy [Stream]; everything above them is hardware independent.
package audio

// Stream is a live source of mono float32 samples.
//
// Samples is closed by the implementation once the stream ends, either
// because Close was called or because the device stopped. Close is
// idempotent and releases every underlying device handle.
type Stream interface {
	// Samples returns the channel of sample batches. Batch sizes follow the
	// device period and are not aligned to analysis windows.
	Samples() <-chan []float32

	// Format reports the negotiated sample rate and channel count. Channels
	// is always 1 after the backend down-mixes.
	Format() Format

	// Close stops the device and closes the Samples channel.
	Close() error
}
