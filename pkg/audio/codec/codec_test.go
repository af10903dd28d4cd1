package codec_test

import (
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/swaracoach/pkg/audio"
	"github.com/MrWong99/swaracoach/pkg/audio/codec"
)

const rate = audio.DefaultSampleRate

func sine(n int, hz float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*hz*float64(i)/rate))
	}
	return out
}

func wavOf(samples []float32) []byte {
	return audio.EncodeWAV(audio.Float32ToPCM16(samples), rate, 1)
}

func TestDetect(t *testing.T) {
	t.Parallel()
	wav := wavOf(sine(16, 200))

	tests := []struct {
		name string
		file string
		data []byte
		want codec.Kind
		err  bool
	}{
		{"wav extension", "take.WAV", nil, codec.KindWAV, false},
		{"wave extension", "take.wave", nil, codec.KindWAV, false},
		{"mp3 extension", "ref.mp3", nil, codec.KindMP3, false},
		{"riff magic", "upload", wav, codec.KindWAV, false},
		{"id3 magic", "upload", []byte("ID3\x04\x00"), codec.KindMP3, false},
		{"mpeg sync", "upload", []byte{0xFF, 0xFB, 0x90}, codec.KindMP3, false},
		{"text", "notes.txt", []byte("hello"), "", true},
		{"empty", "", nil, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := codec.Detect(tt.file, tt.data)
			if tt.err {
				if !errors.Is(err, codec.ErrUnsupported) {
					t.Fatalf("err = %v, want ErrUnsupported", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("Detect = %q, %v; want %q", got, err, tt.want)
			}
		})
	}
}

func TestReadMono(t *testing.T) {
	t.Parallel()
	in := sine(rate/10, 200)

	got, err := codec.ReadMono("take.wav", wavOf(in), rate)
	if err != nil {
		t.Fatalf("ReadMono: %v", err)
	}
	if len(got) != len(in) {
		t.Fatalf("len = %d, want %d", len(got), len(in))
	}
	for i := range in {
		if d := math.Abs(float64(got[i] - in[i])); d > 1e-3 {
			t.Fatalf("sample %d = %v, want %v", i, got[i], in[i])
		}
	}
}

func TestReadMonoResamples(t *testing.T) {
	t.Parallel()
	in := sine(rate/10, 200)

	got, err := codec.ReadMono("take.wav", wavOf(in), rate/2)
	if err != nil {
		t.Fatalf("ReadMono: %v", err)
	}
	want := len(in) / 2
	if d := len(got) - want; d < -8 || d > 8 {
		t.Errorf("len = %d, want about %d", len(got), want)
	}
	if r := audio.RMS(got); math.Abs(r-audio.RMS(in)) > 0.05 {
		t.Errorf("RMS after resampling = %v, want about %v", r, audio.RMS(in))
	}
}

func TestReadMonoUnsupported(t *testing.T) {
	t.Parallel()
	if _, err := codec.ReadMono("notes.txt", []byte("not audio"), rate); !errors.Is(err, codec.ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
	if _, err := codec.ReadMono("broken.wav", []byte("RIFF....WAVEjunk"), rate); err == nil {
		t.Error("expected decode error for a truncated WAV")
	}
}

func TestSegment(t *testing.T) {
	t.Parallel()
	data := wavOf(sine(rate, 200))

	tests := []struct {
		name       string
		start, end time.Duration
		channels   int
		wantBytes  int
		wantErr    bool
	}{
		{"middle quarter mono", 250 * time.Millisecond, 500 * time.Millisecond, 1, rate / 4 * 2, false},
		{"middle quarter stereo", 250 * time.Millisecond, 500 * time.Millisecond, 2, rate / 4 * 4, false},
		{"to the end", 750 * time.Millisecond, 0, 1, rate / 4 * 2, false},
		{"whole track", 0, 0, 1, rate * 2, false},
		{"end before start", 500 * time.Millisecond, 250 * time.Millisecond, 1, 0, true},
		{"start beyond track", 2 * time.Second, 0, 1, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, f, err := codec.Decode("ref.wav", data)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			defer s.Close()

			seg, err := codec.Segment(s, f, tt.start, tt.end)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Segment: %v", err)
			}
			pcm, err := io.ReadAll(codec.NewPCMReader(seg, tt.channels))
			if err != nil {
				t.Fatalf("read PCM: %v", err)
			}
			if len(pcm) != tt.wantBytes {
				t.Errorf("PCM bytes = %d, want %d", len(pcm), tt.wantBytes)
			}
		})
	}
}
