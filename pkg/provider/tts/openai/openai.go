// Package openai provides a TTS provider backed by the OpenAI speech endpoint.
//
// Audio is requested as raw PCM (24 kHz, 16-bit, mono) so it can be played
// without decoding. All fragments of one prompt are sent as a single request.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/torqueshop/voicedesk/pkg/audio"
	"github.com/torqueshop/voicedesk/pkg/provider/tts"
)

const (
	defaultModel = "tts-1"
	defaultVoice = "alloy"

	// pcmSampleRate is fixed by the API for the "pcm" response format.
	pcmSampleRate = 24000
)

// builtinVoices is the OpenAI preset voice catalogue. The API has no listing
// endpoint.
var builtinVoices = []string{"alloy", "ash", "coral", "echo", "fable", "nova", "onyx", "sage", "shimmer"}

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*config)

type config struct {
	model   string
	baseURL string
	extra   []option.RequestOption
}

// WithModel sets the speech model. Defaults to "tts-1".
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithRequestOptions appends raw client options.
func WithRequestOptions(opts ...option.RequestOption) Option {
	return func(c *config) { c.extra = append(c.extra, opts...) }
}

// Provider implements tts.Provider using the OpenAI SDK.
type Provider struct {
	client oai.Client
	model  string
}

// New creates a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}
	cfg := config{model: defaultModel}
	for _, o := range opts {
		o(&cfg)
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	reqOpts = append(reqOpts, cfg.extra...)
	return &Provider{client: oai.NewClient(reqOpts...), model: cfg.model}, nil
}

// Format reports the fixed PCM format of the speech endpoint.
func (p *Provider) Format() audio.Format {
	return audio.Format{SampleRate: pcmSampleRate, Channels: 1}
}

// SynthesizeStream joins all text fragments into one input and streams the
// PCM response body as it arrives.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	voiceID := voice.ID
	if voiceID == "" {
		voiceID = defaultVoice
	}

	audioCh := make(chan []byte, 64)
	go func() {
		defer close(audioCh)

		var sb strings.Builder
		for {
			select {
			case s, ok := <-text:
				if !ok {
					p.speak(ctx, strings.TrimSpace(sb.String()), voiceID, audioCh)
					return
				}
				sb.WriteString(s)
			case <-ctx.Done():
				return
			}
		}
	}()
	return audioCh, nil
}

func (p *Provider) speak(ctx context.Context, input, voiceID string, out chan<- []byte) {
	if input == "" {
		return
	}
	resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Input:          input,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(voiceID),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("openai tts: speech request failed", "err", err)
		}
		return
	}
	defer resp.Body.Close()

	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			slog.Warn("openai tts: read speech body", "err", fmt.Errorf("openai tts: %w", err))
			return
		}
	}
}

// ListVoices returns the built-in preset voices.
func (p *Provider) ListVoices(context.Context) ([]tts.VoiceProfile, error) {
	out := make([]tts.VoiceProfile, 0, len(builtinVoices))
	for _, v := range builtinVoices {
		out = append(out, tts.VoiceProfile{ID: v, Name: v, Provider: "openai"})
	}
	return out, nil
}
