package audio

import (
	"encoding/binary"
	"log/slog"
	"math"
	"sync"
)

// pcmScale maps int16 full scale onto [-1, 1].
const pcmScale = 32768.0

// Float32ToPCM16 encodes normalised samples as little-endian int16. Values
// outside [-1, 1] are clipped.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := float64(s) * pcmScale
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// PCM16ToFloat32 decodes little-endian int16 PCM into normalised samples.
// A trailing odd byte is ignored.
func PCM16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := range n {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(s) / pcmScale
	}
	return out
}

// Int16ToFloat32 normalises raw int16 samples, as delivered by portaudio.
func Int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / pcmScale
	}
	return out
}

// Downmix averages interleaved multi-channel samples into mono. Input with
// channels <= 1 is returned unchanged.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for c := range channels {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Resample converts mono samples from srcRate to dstRate with linear
// interpolation. Equal rates return the input unchanged.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if n == 0 {
		return nil
	}
	out := make([]float32, n)
	ratio := float64(srcRate) / float64(dstRate)
	last := len(samples) - 1
	for i := range n {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))
		next := idx + 1
		if next > last {
			next = last
		}
		out[i] = samples[idx]*(1-frac) + samples[next]*frac
	}
	return out
}

// RMS returns the root-mean-square energy of samples, 0 for an empty slice.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Normalizer brings device batches to mono at a target rate. It logs once
// when the device format differs from the target.
// Create one per stream; not safe for concurrent use.
type Normalizer struct {
	Source Format
	Target int
	warned sync.Once
}

// Normalize down-mixes and resamples one batch.
func (n *Normalizer) Normalize(batch []float32) []float32 {
	if n.Source.Channels <= 1 && n.Source.SampleRate == n.Target {
		return batch
	}
	n.warned.Do(func() {
		slog.Debug("audio: normalising capture format",
			"from_rate", n.Source.SampleRate,
			"from_channels", n.Source.Channels,
			"to_rate", n.Target,
		)
	})
	return Resample(Downmix(batch, n.Source.Channels), n.Source.SampleRate, n.Target)
}
