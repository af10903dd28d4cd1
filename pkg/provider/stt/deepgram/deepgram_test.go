package deepgram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/swaracoach/pkg/provider/stt"
)

func assertEqual(t *testing.T, field, want, got string) {
	t.Helper()
	if got != want {
		t.Errorf("%s = %q, want %q", field, got, want)
	}
}

func TestBuildURL(t *testing.T) {
	t.Parallel()

	p, err := New("key", WithModel("base"), WithLanguage("hi"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	raw, err := p.buildURL(stt.Request{SampleRate: 8000})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, _ := url.Parse(raw)
	q := u.Query()
	assertEqual(t, "model", "base", q.Get("model"))
	assertEqual(t, "language", "hi", q.Get("language"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "sample_rate", "8000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))

	raw, _ = p.buildURL(stt.Request{Language: "en"})
	u, _ = url.Parse(raw)
	assertEqual(t, "request language", "en", u.Query().Get("language"))
	assertEqual(t, "default rate", "16000", u.Query().Get("sample_rate"))
}

func TestNew_EmptyKey(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestParseResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		kind responseKind
		text string
	}{
		{"final", `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":" om ","confidence":0.8,"words":[{"word":"om","start":0.1,"end":0.5}]}]}}`, kindFinal, "om"},
		{"interim", `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"o"}]}}`, kindInterim, "o"},
		{"metadata", `{"type":"Metadata"}`, kindMetadata, ""},
		{"no alternatives", `{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`, kindIgnored, ""},
		{"speech started", `{"type":"SpeechStarted"}`, kindIgnored, ""},
		{"garbage", `not json`, kindIgnored, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			tr, kind := parseResponse([]byte(tc.in))
			if kind != tc.kind {
				t.Fatalf("kind = %d, want %d", kind, tc.kind)
			}
			if tr.Text != tc.text {
				t.Errorf("text = %q, want %q", tr.Text, tc.text)
			}
		})
	}

	tr, _ := parseResponse([]byte(tests[0].in))
	if len(tr.Words) != 1 || tr.Words[0].End != 500*time.Millisecond {
		t.Errorf("words = %+v", tr.Words)
	}
}

// fakeDeepgram accepts one stream, counts audio bytes until CloseStream and
// answers with two finals, one interim and Metadata.
func fakeDeepgram(t *testing.T, received *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		ctx := r.Context()
		for {
			typ, msg, err := c.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				received.Add(int64(len(msg)))
				continue
			}
			if strings.Contains(string(msg), "CloseStream") {
				break
			}
		}
		for _, m := range []string{
			`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"agnim ile","confidence":0.9}]}}`,
			`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"puro"}]}}`,
			`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"purohitam","confidence":0.7}]}}`,
			`{"type":"Metadata"}`,
		} {
			if err := c.Write(ctx, websocket.MessageText, []byte(m)); err != nil {
				return
			}
		}
		c.Close(websocket.StatusNormalClosure, "")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTranscribe(t *testing.T) {
	t.Parallel()

	var received atomic.Int64
	srv := fakeDeepgram(t, &received)
	p, _ := New("secret", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))

	pcm := make([]byte, 20000)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tr, err := p.Transcribe(ctx, stt.Request{Audio: pcm})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "agnim ile purohitam" {
		t.Errorf("Text = %q", tr.Text)
	}
	if tr.Confidence < 0.79 || tr.Confidence > 0.81 {
		t.Errorf("Confidence = %f, want 0.8", tr.Confidence)
	}
	if received.Load() != int64(len(pcm)) {
		t.Errorf("server received %d bytes, want %d", received.Load(), len(pcm))
	}
}

func TestTranscribe_Unauthorized(t *testing.T) {
	t.Parallel()

	var received atomic.Int64
	srv := fakeDeepgram(t, &received)
	p, _ := New("wrong", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	_, err := p.Transcribe(context.Background(), stt.Request{Audio: make([]byte, 100)})
	var te *stt.TranscriptionError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *stt.TranscriptionError", err)
	}
}

// silentDeepgram accepts audio and never answers.
func silentDeepgram(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		for {
			if _, _, err := c.Read(r.Context()); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTranscribe_ServerNeverAnswers(t *testing.T) {
	t.Parallel()

	srv := silentDeepgram(t)
	p, _ := New("secret",
		WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")),
		WithTimeout(100*time.Millisecond))

	done := make(chan error, 1)
	go func() {
		_, err := p.Transcribe(context.Background(), stt.Request{Audio: make([]byte, 3200)})
		done <- err
	}()
	select {
	case err := <-done:
		var te *stt.TranscriptionError
		if !errors.As(err, &te) {
			t.Fatalf("err = %v, want *stt.TranscriptionError", err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("err = %v must not look like a caller deadline", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Transcribe still blocked after 5s")
	}
}

func TestTranscribe_CallerCancelled(t *testing.T) {
	t.Parallel()

	srv := silentDeepgram(t)
	p, _ := New("secret", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := p.Transcribe(ctx, stt.Request{Audio: make([]byte, 3200)})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}
