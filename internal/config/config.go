// Package config provides the configuration schema, loader, and provider registry
// for the voicedesk voice capture service.
package config

import (
	"time"

	"github.com/torqueshop/voicedesk/pkg/shop"
)

// LogLevel controls log verbosity for the voicedesk server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults applied by [Config.ApplyDefaults].
const (
	DefaultListenAddr        = ":8080"
	DefaultMaxDuration       = 7 * time.Second
	DefaultMinBytes          = 1000
	DefaultSampleRate        = 16000
	DefaultMaxRetries        = 2
	DefaultBasePrice         = 95.0
	DefaultHours             = 1.0
	DefaultTranscribeTimeout = 20 * time.Second
	DefaultCommitTimeout     = 15 * time.Second
)

// Config is the root configuration structure for voicedesk.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Providers    ProvidersConfig    `yaml:"providers"`
	Capture      CaptureConfig      `yaml:"capture"`
	Conversation ConversationConfig `yaml:"conversation"`
	Commit       CommitConfig       `yaml:"commit"`
}

// ServerConfig holds network and logging settings for the voicedesk server.
type ServerConfig struct {
	// ListenAddr is the TCP address of the HTTP control surface (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares which implementation backs each external
// boundary. Each entry's Name selects a factory registered in the [Registry].
type ProvidersConfig struct {
	// STT is the speech-to-text service.
	STT ProviderEntry `yaml:"stt"`

	// STTFallbacks are tried in order when STT fails or its breaker is open.
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`

	// TTS synthesises prompts.
	TTS ProviderEntry `yaml:"tts"`

	// Directory serves customers and vehicles ("http", "postgres", "yaml").
	Directory ProviderEntry `yaml:"directory"`

	// Commit is the shop backend that receives finished records. Only
	// BaseURL and APIKey are used.
	Commit ProviderEntry `yaml:"commit"`

	// Audio selects the microphone and speaker ("portaudio").
	Audio ProviderEntry `yaml:"audio"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "elevenlabs").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "whisper-1").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above, such as "dsn" for the postgres directory or
	// "path" for the yaml directory.
	Options map[string]any `yaml:"options"`
}

// OptionString returns Options[key] when it is a string.
func (e ProviderEntry) OptionString(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// OptionInt returns Options[key] when it is an integer.
func (e ProviderEntry) OptionInt(key string) (int, bool) {
	switch v := e.Options[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v == float64(int(v)) {
			return int(v), true
		}
	}
	return 0, false
}

// CaptureConfig tunes microphone recording.
type CaptureConfig struct {
	// MaxDuration is the hard ceiling for one answer. Default 7s.
	MaxDuration time.Duration `yaml:"max_duration"`

	// MinBytes rejects shorter recordings as too short. Default 1000.
	MinBytes int `yaml:"min_bytes"`

	// SampleRate of the captured PCM. Default 16000.
	SampleRate int `yaml:"sample_rate"`

	// SilenceMS ends a recording after this many milliseconds of quiet
	// following speech. 0 disables early stop.
	SilenceMS int `yaml:"silence_ms"`

	// RMSThreshold is the level below which a frame counts as quiet.
	RMSThreshold float64 `yaml:"rms_threshold"`
}

// ConversationConfig tunes the dialogue. Changes apply to the next session.
type ConversationConfig struct {
	// MaxRetries is how many times a failed turn is re-prompted. Default 2.
	MaxRetries *int `yaml:"max_retries"`

	// BasePrice is used when no price can be parsed. Default 95.
	BasePrice float64 `yaml:"base_price"`

	// DefaultHours is used when no duration can be parsed. Default 1.
	DefaultHours float64 `yaml:"default_hours"`

	// Mode is the record a session creates unless the request overrides it.
	// Default service_log.
	Mode shop.RecordKind `yaml:"mode"`

	// TaxRate is applied to invoices at commit time, e.g. 0.0825.
	TaxRate float64 `yaml:"tax_rate"`

	// VoiceID selects the TTS voice.
	VoiceID string `yaml:"voice_id"`

	// Language is passed to the STT provider (BCP-47, e.g. "en-US").
	Language string `yaml:"language"`

	// PhoneticMatching enables sound-alike customer and vehicle matching
	// after the lexical tiers fail.
	PhoneticMatching bool `yaml:"phonetic_matching"`

	// TranscribeTimeout bounds one STT request. Default 20s.
	TranscribeTimeout time.Duration `yaml:"transcribe_timeout"`
}

// Retries returns MaxRetries or the default.
func (c ConversationConfig) Retries() int {
	if c.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *c.MaxRetries
}

// CommitConfig tunes the commit gateway.
type CommitConfig struct {
	// FetchPDF downloads the invoice PDF after a successful invoice commit.
	FetchPDF bool `yaml:"fetch_pdf"`

	// PDFDir is where fetched PDFs are written. Required with FetchPDF.
	PDFDir string `yaml:"pdf_dir"`

	// Timeout bounds each backend request. Default 15s.
	Timeout time.Duration `yaml:"timeout"`
}

// ApplyDefaults fills zero values with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Capture.MaxDuration == 0 {
		c.Capture.MaxDuration = DefaultMaxDuration
	}
	if c.Capture.MinBytes == 0 {
		c.Capture.MinBytes = DefaultMinBytes
	}
	if c.Capture.SampleRate == 0 {
		c.Capture.SampleRate = DefaultSampleRate
	}
	if c.Conversation.MaxRetries == nil {
		n := DefaultMaxRetries
		c.Conversation.MaxRetries = &n
	}
	if c.Conversation.BasePrice == 0 {
		c.Conversation.BasePrice = DefaultBasePrice
	}
	if c.Conversation.DefaultHours == 0 {
		c.Conversation.DefaultHours = DefaultHours
	}
	if c.Conversation.Mode == "" {
		c.Conversation.Mode = shop.KindServiceLog
	}
	if c.Conversation.TranscribeTimeout == 0 {
		c.Conversation.TranscribeTimeout = DefaultTranscribeTimeout
	}
	if c.Commit.Timeout == 0 {
		c.Commit.Timeout = DefaultCommitTimeout
	}
}
