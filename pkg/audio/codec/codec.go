// Package codec decodes reference recordings (WAV, MP3) with beep and turns
// decoded streams back into PCM for playback or analysis.
package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"
)

// resampleQuality is beep's interpolation order; 4 is its recommended
// default for speech.
const resampleQuality = 4

// ErrUnsupported is returned for containers other than WAV and MP3.
var ErrUnsupported = errors.New("codec: unsupported audio format")

// Kind names a container format.
type Kind string

const (
	KindWAV Kind = "wav"
	KindMP3 Kind = "mp3"
)

// Detect picks the container from the file name, falling back to the magic
// bytes at the start of data.
func Detect(name string, data []byte) (Kind, error) {
	switch strings.ToLower(path.Ext(name)) {
	case ".wav", ".wave":
		return KindWAV, nil
	case ".mp3":
		return KindMP3, nil
	}
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return KindWAV, nil
	case len(data) >= 3 && string(data[0:3]) == "ID3":
		return KindMP3, nil
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return KindMP3, nil
	}
	return "", ErrUnsupported
}

// Decode opens an in-memory recording. The result supports Seek.
func Decode(name string, data []byte) (beep.StreamSeekCloser, beep.Format, error) {
	kind, err := Detect(name, data)
	if err != nil {
		return nil, beep.Format{}, err
	}
	r := nopCloser{bytes.NewReader(data)}
	var (
		s beep.StreamSeekCloser
		f beep.Format
	)
	switch kind {
	case KindWAV:
		s, f, err = wav.Decode(r)
	case KindMP3:
		s, f, err = mp3.Decode(r)
	}
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("codec: decode %s: %w", kind, err)
	}
	return s, f, nil
}

type nopCloser struct{ *bytes.Reader }

func (nopCloser) Close() error { return nil }

// Segment positions s at start and limits it to end. A zero end means the
// natural end of the track. start beyond the track is an error.
func Segment(s beep.StreamSeekCloser, f beep.Format, start, end time.Duration) (beep.Streamer, error) {
	if start < 0 {
		start = 0
	}
	if end != 0 && end <= start {
		return nil, fmt.Errorf("codec: segment end %v not after start %v", end, start)
	}
	from := f.SampleRate.N(start)
	if length := s.Len(); length > 0 && from >= length {
		return nil, fmt.Errorf("codec: segment start %v beyond track length %v", start, f.SampleRate.D(length))
	}
	if from > 0 {
		if err := s.Seek(from); err != nil {
			return nil, fmt.Errorf("codec: seek to %v: %w", start, err)
		}
	}
	if end == 0 {
		return s, nil
	}
	return beep.Take(f.SampleRate.N(end-start), s), nil
}

// Resample converts s from rate from to rate to, returning s unchanged when
// they match.
func Resample(s beep.Streamer, from, to beep.SampleRate) beep.Streamer {
	if from == to {
		return s
	}
	return beep.Resample(resampleQuality, from, to, s)
}

// PCMReader renders a streamer as little-endian int16 PCM with one or two
// interleaved channels.
type PCMReader struct {
	s        beep.Streamer
	channels int
	buf      [][2]float64
	pending  []byte
	done     bool
}

// NewPCMReader returns a reader over s. channels must be 1 or 2.
func NewPCMReader(s beep.Streamer, channels int) *PCMReader {
	if channels != 1 {
		channels = 2
	}
	return &PCMReader{s: s, channels: channels, buf: make([][2]float64, 512)}
}

// Read implements io.Reader.
func (r *PCMReader) Read(p []byte) (int, error) {
	for len(r.pending) == 0 {
		if r.done {
			if err := r.s.Err(); err != nil {
				return 0, err
			}
			return 0, io.EOF
		}
		n, ok := r.s.Stream(r.buf)
		if !ok {
			r.done = true
		}
		r.pending = r.encode(r.buf[:n])
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

func (r *PCMReader) encode(frames [][2]float64) []byte {
	out := make([]byte, len(frames)*2*r.channels)
	i := 0
	for _, fr := range frames {
		if r.channels == 1 {
			binary.LittleEndian.PutUint16(out[i:], uint16(toInt16((fr[0]+fr[1])/2)))
			i += 2
			continue
		}
		binary.LittleEndian.PutUint16(out[i:], uint16(toInt16(fr[0])))
		binary.LittleEndian.PutUint16(out[i+2:], uint16(toInt16(fr[1])))
		i += 4
	}
	return out
}

func toInt16(v float64) int16 {
	v *= 32768
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// ReadMono decodes a whole recording into mono float32 samples at rate.
func ReadMono(name string, data []byte, rate int) ([]float32, error) {
	s, f, err := Decode(name, data)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	src := Resample(s, f.SampleRate, beep.SampleRate(rate))
	var out []float32
	if n := s.Len(); n > 0 {
		out = make([]float32, 0, int(int64(n)*int64(rate)/int64(f.SampleRate)))
	}
	buf := make([][2]float64, 1024)
	for {
		n, ok := src.Stream(buf)
		for _, fr := range buf[:n] {
			out = append(out, float32((fr[0]+fr[1])/2))
		}
		if !ok {
			break
		}
	}
	if err := src.Err(); err != nil {
		return nil, fmt.Errorf("codec: read: %w", err)
	}
	return out, nil
}
