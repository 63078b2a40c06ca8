package coqui

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/torqueshop/voicedesk/pkg/audio"
	"github.com/torqueshop/voicedesk/pkg/provider/tts"
)

// wavOf returns a mono WAV of n zero samples at rate.
func wavOf(n, rate int) []byte {
	return audio.EncodeWAV(make([]byte, n*2), audio.Format{SampleRate: rate, Channels: 1})
}

func TestFindSentenceBoundary(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"Hello there. How", 11},
		{"Which vehicle?", 13},
		{"Price is 1.5 dollars", -1},
		{"no terminator", -1},
		{"Wow! ", 3},
	}
	for _, tt := range tests {
		if got := findSentenceBoundary(tt.in); got != tt.want {
			t.Errorf("findSentenceBoundary(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestSynthesizeStream_SentencesInOrder(t *testing.T) {
	var mu sync.Mutex
	var texts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != apiTTSEndpoint {
			http.NotFound(w, r)
			return
		}
		mu.Lock()
		texts = append(texts, r.URL.Query().Get("text"))
		mu.Unlock()
		if got := r.URL.Query().Get("speaker_id"); got != "p225" {
			http.Error(w, "speaker_id = "+got, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wavOf(2205, 22050))
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	text := make(chan string, 3)
	text <- "Found Maria. Which "
	text <- "vehicle?"
	close(text)

	ch, err := p.SynthesizeStream(context.Background(), text, tts.VoiceProfile{ID: "p225"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	var total int
	for chunk := range ch {
		total += len(chunk)
	}

	// 2205 samples at 22050 Hz resample to 1600 samples at 16000 Hz, per sentence.
	if want := 2 * 1600 * 2; total != want {
		t.Errorf("total bytes = %d, want %d", total, want)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(texts) != 2 || texts[0] != "Found Maria." || texts[1] != "Which vehicle?" {
		t.Errorf("texts = %q", texts)
	}
}

func TestSynthesizeStream_ServerErrorClosesChannel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := New(srv.URL)
	ch, err := p.SynthesizeStream(context.Background(), tts.Single("Hello."), tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel to close without audio")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after server error")
	}
}

func TestSynthesizeStream_ContextCancellation(t *testing.T) {
	p, _ := New("http://127.0.0.1:1")
	ctx, cancel := context.WithCancel(context.Background())

	text := make(chan string)
	ch, err := p.SynthesizeStream(ctx, text, tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	cancel()

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestListVoices(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantIDs []string
	}{
		{name: "multi speaker", body: `{"model_name":"vctk","speakers":["p226","p225"]}`, wantIDs: []string{"p225", "p226"}},
		{name: "single speaker", body: `{"model_name":"ljspeech"}`, wantIDs: []string{""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p, _ := New(srv.URL)
			voices, err := p.ListVoices(context.Background())
			if err != nil {
				t.Fatalf("ListVoices: %v", err)
			}
			if len(voices) != len(tt.wantIDs) {
				t.Fatalf("len = %d, want %d", len(voices), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if voices[i].ID != id {
					t.Errorf("voices[%d].ID = %q, want %q", i, voices[i].ID, id)
				}
			}
		})
	}
}

func TestNew(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty serverURL")
	}
	p, _ := New("http://x/", WithOutputSampleRate(24000))
	if p.serverURL != "http://x" {
		t.Errorf("serverURL = %q", p.serverURL)
	}
	if f := p.Format(); f.SampleRate != 24000 || f.Channels != 1 {
		t.Errorf("Format = %+v", f)
	}
}
