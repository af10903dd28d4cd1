package audio_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/swaracoach/pkg/audio"
	"github.com/MrWong99/swaracoach/pkg/audio/mock"
)

func TestFramer_Windows(t *testing.T) {
	t.Parallel()

	var chunks []audio.Frame
	var windows int
	f := audio.NewFramer(audio.FramerConfig{
		SampleRate: 16000,
		WindowSize: 4,
		OnChunk:    func(fr audio.Frame) { chunks = append(chunks, fr) },
		OnWindow:   func([]float32) { windows++ },
	})

	f.Write([]float32{0.1, 0.1, 0.1})
	if len(chunks) != 0 {
		t.Fatalf("emitted %d chunks before window filled", len(chunks))
	}
	f.Write([]float32{0.1, 0.2, 0.2, 0.2, 0.2, 0.3})
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	f.Flush()
	if len(chunks) != 3 || windows != 3 {
		t.Fatalf("after flush: chunks=%d windows=%d, want 3/3", len(chunks), windows)
	}

	if chunks[1].Index != 1 {
		t.Errorf("Index = %d, want 1", chunks[1].Index)
	}
	if want := 250 * time.Microsecond; chunks[1].Timestamp != want {
		t.Errorf("Timestamp = %v, want %v", chunks[1].Timestamp, want)
	}
	if len(chunks[1].PCM) != 8 {
		t.Errorf("PCM len = %d, want 8", len(chunks[1].PCM))
	}
	if len(chunks[2].Samples) != 1 {
		t.Errorf("tail window = %d samples, want 1", len(chunks[2].Samples))
	}
}

func TestFramer_DefaultWindow(t *testing.T) {
	t.Parallel()

	var got int
	f := audio.NewFramer(audio.FramerConfig{
		SampleRate: 16000,
		OnWindow:   func(s []float32) { got = len(s) },
	})
	f.Write(make([]float32, audio.DefaultWindowSize))
	if got != audio.DefaultWindowSize {
		t.Errorf("window = %d, want %d", got, audio.DefaultWindowSize)
	}
}

func TestCreatePCMStream_EndOfStream(t *testing.T) {
	t.Parallel()

	mic := mock.NewStream(16000, [][]float32{make([]float32, 3000), make([]float32, 1200)})
	var n int
	err := audio.CreatePCMStream(context.Background(), mic, audio.FramerConfig{
		OnChunk: func(audio.Frame) { n++ },
	})
	if err != nil {
		t.Fatalf("CreatePCMStream: %v", err)
	}
	// 4200 samples = two full windows + one flushed tail.
	if n != 3 {
		t.Errorf("chunks = %d, want 3", n)
	}
}

func TestCreatePCMStream_Cancel(t *testing.T) {
	t.Parallel()

	mic := mock.NewLiveStream(16000)
	defer mic.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- audio.CreatePCMStream(ctx, mic, audio.FramerConfig{})
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("CreatePCMStream did not return after cancel")
	}
}

func TestCreatePCMStream_NilStream(t *testing.T) {
	t.Parallel()

	if err := audio.CreatePCMStream(context.Background(), nil, audio.FramerConfig{}); err == nil {
		t.Fatal("expected error for nil stream")
	}
}
