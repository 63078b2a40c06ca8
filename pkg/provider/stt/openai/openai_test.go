package openai_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go/option"

	"github.com/torqueshop/voicedesk/pkg/audio"
	"github.com/torqueshop/voicedesk/pkg/provider/stt"
	"github.com/torqueshop/voicedesk/pkg/provider/stt/openai"
)

func TestNew_EmptyAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := openai.New(""); err == nil {
		t.Fatal("expected error for empty apiKey")
	}
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	t.Parallel()
	p, err := openai.New("sk-test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Transcribe(context.Background(), stt.Request{})
	if !errors.Is(err, stt.ErrEmptyAudio) {
		t.Errorf("err = %v, want ErrEmptyAudio", err)
	}
}

func TestTranscribe_AgainstCompatibleServer(t *testing.T) {
	t.Parallel()

	type seen struct {
		path, model, language, prompt, filename string
	}
	got := make(chan seen, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s := seen{
			path:     r.URL.Path,
			model:    r.FormValue("model"),
			language: r.FormValue("language"),
			prompt:   r.FormValue("prompt"),
		}
		if _, hdr, err := r.FormFile("file"); err == nil {
			s.filename = hdr.Filename
		}
		got <- s
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":" 2019 Honda Civic "}`))
	}))
	t.Cleanup(srv.Close)

	p, err := openai.New("sk-test",
		openai.WithBaseURL(srv.URL+"/v1/"),
		openai.WithLanguage("en"),
		openai.WithRequestOptions(option.WithMaxRetries(0)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tr, err := p.Transcribe(context.Background(), stt.Request{
		PCM:    make([]byte, 3200),
		Format: audio.Format{SampleRate: 16000, Channels: 1},
		Hints:  []string{"Civic", "Tacoma"},
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "2019 Honda Civic" {
		t.Errorf("Text = %q, want %q", tr.Text, "2019 Honda Civic")
	}

	s := <-got
	if s.path != "/v1/audio/transcriptions" {
		t.Errorf("path = %q", s.path)
	}
	if s.model != "whisper-1" {
		t.Errorf("model = %q, want whisper-1", s.model)
	}
	if s.language != "en" {
		t.Errorf("language = %q, want en", s.language)
	}
	if s.prompt != "Civic, Tacoma" {
		t.Errorf("prompt = %q", s.prompt)
	}
	if s.filename != "audio.wav" {
		t.Errorf("filename = %q, want audio.wav", s.filename)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad"}}`, http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	p, _ := openai.New("sk-test", openai.WithBaseURL(srv.URL), openai.WithRequestOptions(option.WithMaxRetries(0)))
	if _, err := p.Transcribe(context.Background(), stt.Request{PCM: []byte{1, 2}}); err == nil {
		t.Fatal("expected error from 400 response")
	}
}
