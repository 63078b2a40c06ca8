package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":       {"backend", "openai", "deepgram", "whisper", "whisper-native"},
	"tts":       {"elevenlabs", "openai", "coqui"},
	"directory": {"http", "postgres", "yaml"},
	"audio":     {"portaudio"},
}

// maxCaptureDuration caps capture.max_duration.
const maxCaptureDuration = time.Minute

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	p := cfg.Providers
	validateProviderName("stt", p.STT.Name)
	validateProviderName("tts", p.TTS.Name)
	validateProviderName("directory", p.Directory.Name)
	validateProviderName("audio", p.Audio.Name)
	if p.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	for i, fb := range p.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
		}
		validateProviderName("stt", fb.Name)
	}
	if p.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required"))
	}
	switch p.Directory.Name {
	case "":
		errs = append(errs, errors.New("providers.directory.name is required"))
	case "http":
		if p.Directory.BaseURL == "" && p.Commit.BaseURL == "" {
			errs = append(errs, errors.New("providers.directory.base_url is required for the http directory"))
		}
	case "postgres":
		if p.Directory.OptionString("dsn") == "" {
			errs = append(errs, errors.New("providers.directory.options.dsn is required for the postgres directory"))
		}
	case "yaml":
		if p.Directory.OptionString("path") == "" {
			errs = append(errs, errors.New("providers.directory.options.path is required for the yaml directory"))
		}
	}
	if p.Commit.BaseURL == "" {
		errs = append(errs, errors.New("providers.commit.base_url is required"))
	}

	// Capture
	c := cfg.Capture
	if c.MaxDuration < 0 || c.MaxDuration > maxCaptureDuration {
		errs = append(errs, fmt.Errorf("capture.max_duration %s is out of range (0, %s]", c.MaxDuration, maxCaptureDuration))
	}
	if c.MinBytes < 0 {
		errs = append(errs, fmt.Errorf("capture.min_bytes %d must not be negative", c.MinBytes))
	}
	if c.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must not be negative", c.SampleRate))
	}
	if c.SilenceMS < 0 {
		errs = append(errs, fmt.Errorf("capture.silence_ms %d must not be negative", c.SilenceMS))
	}
	if c.SilenceMS > 0 && time.Duration(c.SilenceMS)*time.Millisecond >= c.MaxDuration {
		slog.Warn("capture.silence_ms is not shorter than capture.max_duration; silence detection will never stop a recording early",
			"silence_ms", c.SilenceMS, "max_duration", c.MaxDuration)
	}
	if c.RMSThreshold < 0 {
		errs = append(errs, fmt.Errorf("capture.rms_threshold %.1f must not be negative", c.RMSThreshold))
	}

	// Conversation
	conv := cfg.Conversation
	if r := conv.Retries(); r < 0 || r > 5 {
		errs = append(errs, fmt.Errorf("conversation.max_retries %d is out of range [0, 5]", r))
	}
	if conv.BasePrice < 0 {
		errs = append(errs, fmt.Errorf("conversation.base_price %.2f must not be negative", conv.BasePrice))
	}
	if conv.DefaultHours < 0 {
		errs = append(errs, fmt.Errorf("conversation.default_hours %.2f must not be negative", conv.DefaultHours))
	}
	if conv.Mode != "" && !conv.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("conversation.mode %q is invalid; valid values: service_log, invoice", conv.Mode))
	}
	if conv.TaxRate < 0 || conv.TaxRate >= 1 {
		errs = append(errs, fmt.Errorf("conversation.tax_rate %.4f is out of range [0, 1)", conv.TaxRate))
	}
	if conv.TranscribeTimeout < 0 {
		errs = append(errs, fmt.Errorf("conversation.transcribe_timeout %s must not be negative", conv.TranscribeTimeout))
	}

	// Commit
	if cfg.Commit.FetchPDF && cfg.Commit.PDFDir == "" {
		errs = append(errs, errors.New("commit.pdf_dir is required when commit.fetch_pdf is true"))
	}
	if cfg.Commit.Timeout < 0 {
		errs = append(errs, fmt.Errorf("commit.timeout %s must not be negative", cfg.Commit.Timeout))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
