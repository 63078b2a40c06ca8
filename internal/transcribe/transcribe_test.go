package transcribe_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/torqueshop/voicedesk/internal/capture"
	"github.com/torqueshop/voicedesk/internal/resilience"
	"github.com/torqueshop/voicedesk/internal/transcribe"
	"github.com/torqueshop/voicedesk/pkg/audio"
	"github.com/torqueshop/voicedesk/pkg/provider/stt/mock"
)

func recording() capture.Recording {
	pcm := make([]byte, 3200)
	return capture.Recording{
		PCM:       pcm,
		Format:    audio.Format{SampleRate: 16000, Channels: 1},
		SizeBytes: len(pcm),
	}
}

func TestTranscribe_OK(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Results: []mock.Result{{Text: "  John Smith \n", Confidence: 0.9}}}
	g, err := transcribe.New(p, transcribe.WithLanguage("en"), transcribe.WithProviderName("mock"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := g.Transcribe(context.Background(), recording(), []string{"John Smith"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "John Smith" {
		t.Errorf("Transcribe = %q, want %q", got, "John Smith")
	}

	reqs := p.Requests()
	if len(reqs) != 1 {
		t.Fatalf("provider calls = %d, want 1", len(reqs))
	}
	if reqs[0].Language != "en" || len(reqs[0].PCM) != 3200 || reqs[0].Format.SampleRate != 16000 {
		t.Errorf("request = %+v", reqs[0])
	}
	if len(reqs[0].Hints) != 1 || reqs[0].Hints[0] != "John Smith" {
		t.Errorf("hints = %v", reqs[0].Hints)
	}
}

func TestTranscribe_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		result    mock.Result
		wantEmpty bool
	}{
		{"provider error", mock.Result{Err: errors.New("503")}, false},
		{"empty text", mock.Result{Text: ""}, true},
		{"whitespace text", mock.Result{Text: " \t\n"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := &mock.Provider{Results: []mock.Result{tt.result}}
			g, _ := transcribe.New(p)

			got, err := g.Transcribe(context.Background(), recording(), nil)
			if !errors.Is(err, transcribe.ErrTranscriptionFailed) {
				t.Fatalf("err = %v, want ErrTranscriptionFailed", err)
			}
			if got != "" {
				t.Errorf("text = %q, want empty", got)
			}
			if errors.Is(err, transcribe.ErrEmptyTranscript) != tt.wantEmpty {
				t.Errorf("errors.Is(err, ErrEmptyTranscript) = %v, want %v", !tt.wantEmpty, tt.wantEmpty)
			}
			if p.CallCount() != 1 {
				t.Errorf("provider calls = %d, want exactly 1 (no resubmission)", p.CallCount())
			}
		})
	}
}

func TestTranscribe_BreakerOpens(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Fallback: mock.Result{Err: errors.New("down")}}
	g, _ := transcribe.New(p, transcribe.WithBreaker(resilience.CircuitBreakerConfig{
		MaxFailures:  2,
		ResetTimeout: time.Minute,
	}))

	for range 2 {
		if _, err := g.Transcribe(context.Background(), recording(), nil); err == nil {
			t.Fatal("expected failure")
		}
	}
	if g.BreakerState() != resilience.StateOpen {
		t.Fatalf("breaker state = %v, want open", g.BreakerState())
	}

	_, err := g.Transcribe(context.Background(), recording(), nil)
	if !errors.Is(err, transcribe.ErrTranscriptionFailed) || !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrTranscriptionFailed wrapping ErrCircuitOpen", err)
	}
	if p.CallCount() != 2 {
		t.Errorf("provider calls = %d, want 2 (open breaker skips the call)", p.CallCount())
	}
}

func TestTranscribe_Cancelled(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Results: []mock.Result{{Text: "hello"}}}
	g, _ := transcribe.New(p)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Transcribe(ctx, recording(), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if errors.Is(err, transcribe.ErrTranscriptionFailed) {
		t.Error("cancellation reported as a transcription failure")
	}
	if g.BreakerState() != resilience.StateClosed {
		t.Errorf("cancellation tripped the breaker")
	}
}

func TestNew_NilProvider(t *testing.T) {
	t.Parallel()

	if _, err := transcribe.New(nil); err == nil {
		t.Fatal("New(nil) returned no error")
	}
}
