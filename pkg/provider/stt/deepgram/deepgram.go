// Package deepgram transcribes utterances over the Deepgram live WebSocket
// API. A Transcribe call opens a stream, sends the whole utterance, asks the
// server to flush with CloseStream and joins the final results it returns
// before closing the socket.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/swaracoach/pkg/provider/stt"
)

const (
	providerName = "deepgram"

	defaultEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel    = "nova-3"
	defaultLanguage = "multi"
	defaultTimeout  = 30 * time.Second

	// chunkBytes is 250 ms of 16 kHz PCM16, the size Deepgram recommends
	// for live streams.
	chunkBytes = 8000
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model (e.g. "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default language. Deepgram has no Sanskrit model;
// "hi" or "multi" are the usual choices.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithEndpoint overrides the WebSocket endpoint, mainly for tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// WithTimeout bounds a whole Transcribe call, from dial to the final
// result. A server that accepts audio and never answers fails after d.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey   string
	model    string
	language string
	endpoint string
	timeout  time.Duration
}

// New creates a Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: defaultEndpoint,
		timeout:  defaultTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(parent context.Context, req stt.Request) (stt.Transcript, error) {
	if len(req.Audio) == 0 {
		return stt.Transcript{}, nil
	}
	wsURL, err := p.buildURL(req)
	if err != nil {
		return stt.Transcript{}, &stt.TranscriptionError{Provider: providerName, Err: fmt.Errorf("build URL: %w", err)}
	}

	ctx, cancel := context.WithTimeout(parent, p.timeout)
	defer cancel()

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return stt.Transcript{}, p.failure(parent, ctx, fmt.Errorf("dial: %w", err))
	}
	defer conn.CloseNow()

	results := make(chan collected, 1)
	go func() { results <- collect(ctx, conn) }()

	if err := send(ctx, conn, req.Audio); err != nil {
		return stt.Transcript{}, p.failure(parent, ctx, err)
	}

	res := <-results
	if res.err != nil {
		return stt.Transcript{}, p.failure(parent, ctx, res.err)
	}
	conn.Close(websocket.StatusNormalClosure, "done")

	tr := res.transcript
	tr.Duration = req.Duration()
	if tr.Language == "" {
		tr.Language = req.Language
	}
	return tr, nil
}

// failure maps err to the caller's context error when the caller gave up,
// and to a TranscriptionError otherwise. Our own timeout is reported
// without the context error so breakers count it against the backend.
func (p *Provider) failure(parent, ctx context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if ctx.Err() != nil {
		return &stt.TranscriptionError{Provider: providerName, Err: fmt.Errorf("no result within %v", p.timeout)}
	}
	return &stt.TranscriptionError{Provider: providerName, Err: err}
}

func send(ctx context.Context, conn *websocket.Conn, pcm []byte) error {
	for off := 0; off < len(pcm); off += chunkBytes {
		end := min(off+chunkBytes, len(pcm))
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[off:end]); err != nil {
			return fmt.Errorf("send audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("send CloseStream: %w", err)
	}
	return nil
}

type collected struct {
	transcript stt.Transcript
	err        error
}

// collect reads results until the server closes the stream after
// CloseStream, or sends its closing Metadata message.
func collect(ctx context.Context, conn *websocket.Conn) collected {
	var (
		parts []string
		conf  float64
		out   stt.Transcript
	)
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			return collected{err: fmt.Errorf("read: %w", err)}
		}
		r, kind := parseResponse(msg)
		if kind == kindMetadata {
			break
		}
		if kind != kindFinal || r.Text == "" {
			continue
		}
		parts = append(parts, r.Text)
		conf += r.Confidence
		out.Words = append(out.Words, r.Words...)
		if r.Language != "" {
			out.Language = r.Language
		}
	}
	out.Text = strings.Join(parts, " ")
	if len(parts) > 0 {
		out.Confidence = conf / float64(len(parts))
	}
	return collected{transcript: out}
}

// buildURL constructs the streaming endpoint URL for req.
func (p *Provider) buildURL(req stt.Request) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(req.Rate()))
	q.Set("channels", "1")
	q.Set("punctuate", "false")
	q.Set("interim_results", "false")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type responseKind int

const (
	kindIgnored responseKind = iota
	kindInterim
	kindFinal
	kindMetadata
)

// deepgramResponse is the subset of a live message we use.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string   `json:"transcript"`
			Confidence float64  `json:"confidence"`
			Languages  []string `json:"languages"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func parseResponse(data []byte) (stt.Transcript, responseKind) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return stt.Transcript{}, kindIgnored
	}
	switch resp.Type {
	case "Metadata":
		return stt.Transcript{}, kindMetadata
	case "Results":
	default:
		return stt.Transcript{}, kindIgnored
	}
	if len(resp.Channel.Alternatives) == 0 {
		return stt.Transcript{}, kindIgnored
	}
	alt := resp.Channel.Alternatives[0]
	tr := stt.Transcript{
		Text:       strings.TrimSpace(alt.Transcript),
		Confidence: alt.Confidence,
	}
	if len(alt.Languages) > 0 {
		tr.Language = alt.Languages[0]
	}
	for _, w := range alt.Words {
		tr.Words = append(tr.Words, stt.Word{
			Text:       w.Word,
			Start:      time.Duration(w.Start * float64(time.Second)),
			End:        time.Duration(w.End * float64(time.Second)),
			Confidence: w.Confidence,
		})
	}
	if !resp.IsFinal {
		return tr, kindInterim
	}
	return tr, kindFinal
}
