// Package whisper transcribes utterances with whisper.cpp.
//
// [Provider] talks to a running whisper-server (POST /inference with a WAV
// file in a multipart form). [NativeProvider] links the whisper.cpp library
// through cgo and runs inference in-process.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("sa"))
//	tr, err := p.Transcribe(ctx, stt.Request{Audio: pcm, Prompt: lineText})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/swaracoach/pkg/audio"
	"github.com/MrWong99/swaracoach/pkg/provider/stt"
)

const (
	providerName = "whisper"

	defaultLanguage = "sa"
	defaultTimeout  = 30 * time.Second
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model name forwarded to the server. Empty (the default)
// uses whichever model the server was started with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default language hint. Defaults to "sa".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithHTTPClient replaces the HTTP client (default timeout 30 s).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements stt.Provider against a whisper.cpp HTTP server.
type Provider struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a Provider for the server at serverURL, which must be
// non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	if len(req.Audio) == 0 {
		return stt.Transcript{}, nil
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	body, contentType, err := p.form(req, lang)
	if err != nil {
		return stt.Transcript{}, &stt.TranscriptionError{Provider: providerName, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", body)
	if err != nil {
		return stt.Transcript{}, &stt.TranscriptionError{Provider: providerName, Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return stt.Transcript{}, ctx.Err()
		}
		return stt.Transcript{}, &stt.TranscriptionError{Provider: providerName, Err: fmt.Errorf("http request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return stt.Transcript{}, &stt.TranscriptionError{
			Provider: providerName,
			Err:      fmt.Errorf("server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
		}
	}

	var result struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return stt.Transcript{}, &stt.TranscriptionError{Provider: providerName, Err: fmt.Errorf("parse response: %w", err)}
	}
	if result.Language != "" {
		lang = result.Language
	}
	return stt.Transcript{
		Text:     strings.TrimSpace(result.Text),
		Language: lang,
		Duration: req.Duration(),
	}, nil
}

// Ping checks that the server answers. Used by readiness probes.
func (p *Provider) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whisper: ping: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("whisper: ping: HTTP %d", resp.StatusCode)
	}
	return nil
}

func (p *Provider) form(req stt.Request, lang string) (io.Reader, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(audio.EncodeWAV(req.Audio, req.Rate(), 1)); err != nil {
		return nil, "", fmt.Errorf("write wav: %w", err)
	}

	fields := [][2]string{
		{"response_format", "json"},
		{"language", lang},
		{"model", p.model},
		{"prompt", req.Prompt},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("write %s field: %w", f[0], err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}
