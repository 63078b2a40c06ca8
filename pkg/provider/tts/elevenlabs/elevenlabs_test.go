package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/torqueshop/voicedesk/pkg/audio"
	"github.com/torqueshop/voicedesk/pkg/provider/tts"
)

// ---- message / URL construction ----

func TestBuildWSMessage_FlushCommand(t *testing.T) {
	// ElevenLabs flush = {"text":""} with no other fields.
	data, err := buildWSMessage("", nil)
	if err != nil {
		t.Fatalf("buildWSMessage: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal flush: %v", err)
	}
	if string(raw["text"]) != `""` {
		t.Errorf("expected empty string for text, got %s", raw["text"])
	}
	if _, exists := raw["voice_settings"]; exists {
		t.Error("flush message should not contain voice_settings")
	}
}

func TestStreamURL(t *testing.T) {
	p, _ := New("key", WithModel("eleven_turbo_v2"), WithOutputFormat("pcm_24000"))
	got := p.streamURL("voice-abc123")

	for _, want := range []string{
		"wss://api.elevenlabs.io/v1/text-to-speech/voice-abc123/stream-input?",
		"model_id=eleven_turbo_v2",
		"output_format=pcm_24000",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("URL %q missing %q", got, want)
		}
	}
}

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    audio.Format
		wantErr bool
	}{
		{in: "pcm_16000", want: audio.Format{SampleRate: 16000, Channels: 1}},
		{in: "pcm_44100", want: audio.Format{SampleRate: 44100, Channels: 1}},
		{in: "mp3_44100_128", wantErr: true},
		{in: "pcm_fast", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseOutputFormat(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNew(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
	if _, err := New("key", WithOutputFormat("mp3_44100_128")); err == nil {
		t.Error("expected error for non-PCM output format")
	}
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != defaultModel {
		t.Errorf("model = %q, want %q", p.model, defaultModel)
	}
	if f := p.Format(); f.SampleRate != 16000 {
		t.Errorf("Format().SampleRate = %d, want 16000", f.SampleRate)
	}
}

// ---- SynthesizeStream against a fake stream-input server ----

func TestSynthesizeStream_RoundTrip(t *testing.T) {
	received := make(chan []string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		var texts []string
		for {
			_, msg, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var m struct {
				Text     string `json:"text"`
				XiAPIKey string `json:"xi_api_key"`
			}
			_ = json.Unmarshal(msg, &m)
			if m.XiAPIKey != "" {
				continue
			}
			if m.Text == "" {
				break
			}
			texts = append(texts, m.Text)
		}
		received <- texts

		for _, chunk := range [][]byte{{1, 2, 3, 4}, {5, 6}} {
			payload, _ := json.Marshal(map[string]any{"audio": base64.StdEncoding.EncodeToString(chunk)})
			_ = conn.Write(ctx, websocket.MessageText, payload)
		}
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"isFinal":true}`))
	}))
	defer srv.Close()

	wsBase := "ws" + strings.TrimPrefix(srv.URL, "http")
	p, err := New("key", WithBaseURLs(wsBase, srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := p.SynthesizeStream(ctx, tts.Single("Which customer?"), tts.VoiceProfile{ID: "v1"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}

	var total int
	for chunk := range ch {
		total += len(chunk)
	}
	if total != 6 {
		t.Errorf("received %d audio bytes, want 6", total)
	}

	texts := <-received
	if len(texts) != 1 || texts[0] != "Which customer? " {
		t.Errorf("server received %q", texts)
	}
}

func TestSynthesizeStream_EmptyVoiceID(t *testing.T) {
	p, _ := New("key")
	if _, err := p.SynthesizeStream(context.Background(), tts.Single("hi"), tts.VoiceProfile{}); err == nil {
		t.Fatal("expected error for empty voice ID")
	}
}

// ---- ListVoices ----

func TestListVoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/voices" || r.Header.Get("xi-api-key") != "key" {
			http.Error(w, "nope", http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"voices":[
			{"voice_id":"abc","name":"Rachel","category":"premade","labels":{"accent":"american"}},
			{"voice_id":"def","name":"Adam"}
		]}`))
	}))
	defer srv.Close()

	p, _ := New("key", WithBaseURLs("ws://unused", srv.URL))
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("len = %d, want 2", len(voices))
	}
	if voices[0].ID != "abc" || voices[0].Metadata["category"] != "premade" || voices[0].Metadata["accent"] != "american" {
		t.Errorf("voices[0] = %+v", voices[0])
	}
	if voices[1].Provider != "elevenlabs" || len(voices[1].Metadata) != 0 {
		t.Errorf("voices[1] = %+v", voices[1])
	}
}

func TestListVoices_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, _ := New("key", WithBaseURLs("ws://unused", srv.URL))
	if _, err := p.ListVoices(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
