package openai_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go/option"

	"github.com/torqueshop/voicedesk/pkg/provider/tts"
	"github.com/torqueshop/voicedesk/pkg/provider/tts/openai"
)

func TestSynthesizeStream_StreamsPCM(t *testing.T) {
	t.Parallel()

	type speechBody struct {
		Input          string `json:"input"`
		Model          string `json:"model"`
		Voice          string `json:"voice"`
		ResponseFormat string `json:"response_format"`
	}
	got := make(chan speechBody, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/speech" {
			http.NotFound(w, r)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		var b speechBody
		_ = json.Unmarshal(raw, &b)
		got <- b
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(make([]byte, 9000))
	}))
	t.Cleanup(srv.Close)

	p, err := openai.New("sk-test", openai.WithBaseURL(srv.URL+"/v1/"), openai.WithRequestOptions(option.WithMaxRetries(0)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	text := make(chan string, 2)
	text <- "Which "
	text <- "customer?"
	close(text)

	ch, err := p.SynthesizeStream(context.Background(), text, tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	var total int
	for c := range ch {
		total += len(c)
	}
	if total != 9000 {
		t.Errorf("total = %d, want 9000", total)
	}

	b := <-got
	if b.Input != "Which customer?" || b.Voice != "alloy" || b.Model != "tts-1" || b.ResponseFormat != "pcm" {
		t.Errorf("request body = %+v", b)
	}
}

func TestFormatAndVoices(t *testing.T) {
	t.Parallel()

	p, _ := openai.New("sk-test")
	if f := p.Format(); f.SampleRate != 24000 || f.Channels != 1 {
		t.Errorf("Format = %+v", f)
	}
	voices, err := p.ListVoices(context.Background())
	if err != nil || len(voices) == 0 {
		t.Fatalf("ListVoices = %v, %v", voices, err)
	}
	if voices[0].Provider != "openai" {
		t.Errorf("Provider = %q", voices[0].Provider)
	}
}

func TestNew_EmptyAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := openai.New(""); err == nil {
		t.Fatal("expected error")
	}
}
