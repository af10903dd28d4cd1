// This file contains the NativeProvider backed by the whisper.cpp cgo
// bindings. libwhisper.a and whisper.h must be reachable at link time via
// LIBRARY_PATH and C_INCLUDE_PATH.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/swaracoach/pkg/audio"
	"github.com/MrWong99/swaracoach/pkg/provider/stt"
)

const nativeName = "whisper-native"

var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider runs whisper.cpp in-process. The model is loaded once and
// shared; each Transcribe call gets its own inference context.
type NativeProvider struct {
	model    whisperlib.Model
	language string

	// whisper.cpp contexts are heavy; one inference at a time keeps memory
	// bounded on small machines.
	mu sync.Mutex
}

// NativeOption configures a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the default language hint. Defaults to "sa".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// NewNative loads the model at modelPath. Call Close when done.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p := &NativeProvider{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the model.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe implements stt.Provider. Audio must be 16 kHz; whisper.cpp
// does not resample.
func (p *NativeProvider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, err
	}
	if len(req.Audio) == 0 {
		return stt.Transcript{}, nil
	}
	samples := audio.Resample(audio.PCM16ToFloat32(req.Audio), req.Rate(), whisperlib.SampleRate)
	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	wctx, err := p.model.NewContext()
	if err != nil {
		return stt.Transcript{}, &stt.TranscriptionError{Provider: nativeName, Err: fmt.Errorf("create context: %w", err)}
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: language not supported by model, using auto", "language", lang, "err", err)
		_ = wctx.SetLanguage("auto")
	}
	if req.Prompt != "" {
		wctx.SetInitialPrompt(req.Prompt)
	}

	// The bindings have no cancellation hook; abort between segments.
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return stt.Transcript{}, &stt.TranscriptionError{Provider: nativeName, Err: fmt.Errorf("process audio: %w", err)}
	}

	var parts []string
	for {
		if err := ctx.Err(); err != nil {
			return stt.Transcript{}, err
		}
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Transcript{}, &stt.TranscriptionError{Provider: nativeName, Err: fmt.Errorf("read segment: %w", err)}
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
	}

	return stt.Transcript{
		Text:     strings.Join(parts, " "),
		Language: lang,
		Duration: req.Duration(),
	}, nil
}
