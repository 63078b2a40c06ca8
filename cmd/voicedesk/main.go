// Command voicedesk is the main entry point for the voice-guided service log
// and invoice capture server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/torqueshop/voicedesk/internal/app"
	"github.com/torqueshop/voicedesk/internal/config"
	"github.com/torqueshop/voicedesk/internal/directory"
	"github.com/torqueshop/voicedesk/internal/directory/httpdir"
	"github.com/torqueshop/voicedesk/internal/directory/postgres"
	"github.com/torqueshop/voicedesk/internal/directory/yamlfile"
	"github.com/torqueshop/voicedesk/internal/observe"
	"github.com/torqueshop/voicedesk/internal/resilience"
	"github.com/torqueshop/voicedesk/pkg/audio/portaudio"
	"github.com/torqueshop/voicedesk/pkg/provider/stt"
	"github.com/torqueshop/voicedesk/pkg/provider/stt/backend"
	"github.com/torqueshop/voicedesk/pkg/provider/stt/deepgram"
	oastt "github.com/torqueshop/voicedesk/pkg/provider/stt/openai"
	"github.com/torqueshop/voicedesk/pkg/provider/stt/whisper"
	"github.com/torqueshop/voicedesk/pkg/provider/tts"
	"github.com/torqueshop/voicedesk/pkg/provider/tts/coqui"
	"github.com/torqueshop/voicedesk/pkg/provider/tts/elevenlabs"
	oatts "github.com/torqueshop/voicedesk/pkg/provider/tts/openai"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// postgresConnectTimeout bounds the initial directory database connection.
const postgresConnectTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicedesk: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicedesk: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("voicedesk starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voicedesk",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics, err := observe.NewMetrics(tel.MeterProvider)
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, closers, err := buildProviders(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		runClosers(closers)
		_ = tel.Shutdown(context.Background())
		return 1
	}

	opts := []app.Option{
		app.WithMetrics(metrics),
		app.WithMetricsHandler(tel.MetricsHandler()),
		app.WithLogLevel(&level),
		app.WithCloser(func() error { return tel.Shutdown(context.Background()) }),
	}
	for _, c := range closers {
		opts = append(opts, app.WithCloser(c))
	}

	application, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		runClosers(closers)
		_ = tel.Shutdown(context.Background())
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, application.ApplyConfig)
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
		// The file may have changed between Load and the watcher's first read.
		if cur := watcher.Current(); cur != nil {
			if d := config.Diff(cfg, cur); d.Changed() {
				application.ApplyConfig(cfg, cur, d)
			}
		}
	}

	printStartupSummary(cfg)
	slog.Info("server ready; press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the real implementation package.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("backend", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []backend.Option
		if entry.APIKey != "" {
			opts = append(opts, backend.WithToken(entry.APIKey))
		}
		return backend.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oastt.Option
		if entry.Model != "" {
			opts = append(opts, oastt.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		if lang := entry.OptionString("language"); lang != "" {
			opts = append(opts, oastt.WithLanguage(lang))
		}
		return oastt.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.OptionString("language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.OptionString("language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.OptionString("model_path")
		}
		var opts []whisper.NativeOption
		if lang := entry.OptionString("language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := entry.OptionString("output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oatts.Option
		if entry.Model != "" {
			opts = append(opts, oatts.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oatts.WithBaseURL(entry.BaseURL))
		}
		return oatts.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := entry.OptionString("language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	// ── Directory ─────────────────────────────────────────────────────────────

	reg.RegisterDirectory("http", func(entry config.ProviderEntry) (directory.Source, error) {
		var opts []httpdir.Option
		if entry.APIKey != "" {
			opts = append(opts, httpdir.WithToken(entry.APIKey))
		}
		return httpdir.New(entry.BaseURL, opts...)
	})

	reg.RegisterDirectory("postgres", func(entry config.ProviderEntry) (directory.Source, error) {
		ctx, cancel := context.WithTimeout(context.Background(), postgresConnectTimeout)
		defer cancel()
		return postgres.New(ctx, entry.OptionString("dsn"))
	})

	reg.RegisterDirectory("yaml", func(entry config.ProviderEntry) (directory.Source, error) {
		return yamlfile.Load(entry.OptionString("path"))
	})

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("portaudio", func(entry config.ProviderEntry) (config.AudioDevices, error) {
		var opts []portaudio.Option
		if n, ok := entry.OptionInt("frames_per_buffer"); ok {
			opts = append(opts, portaudio.WithFramesPerBuffer(n))
		}
		host, err := portaudio.Open(opts...)
		if err != nil {
			return config.AudioDevices{}, err
		}
		return config.AudioDevices{Microphone: host, Speaker: host.Speaker(), Close: host.Close}, nil
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates every provider named in cfg using the registry.
// The returned closers release what was created, in creation order; they are
// returned even on error so the caller can clean up.
func buildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*app.Providers, []func() error, error) {
	ps := &app.Providers{}
	var closers []func() error
	track := func(v any) {
		if c := closerOf(v); c != nil {
			closers = append(closers, c)
		}
	}

	// STT, with fallbacks behind per-provider circuit breakers.
	primary, err := reg.CreateSTT(withLanguage(cfg.Providers.STT, cfg.Conversation.Language))
	if err != nil {
		return nil, closers, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	track(primary)
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)
	ps.STT = primary
	if len(cfg.Providers.STTFallbacks) > 0 {
		fb := resilience.NewSTTFallback(primary, cfg.Providers.STT.Name, resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{
				MaxFailures:  3,
				ResetTimeout: 30 * time.Second,
				HalfOpenMax:  1,
				OnStateChange: func(name string, _, to resilience.State) {
					metrics.RecordBreakerTransition(context.Background(), name, to.String())
				},
			},
		})
		for _, entry := range cfg.Providers.STTFallbacks {
			p, err := reg.CreateSTT(withLanguage(entry, cfg.Conversation.Language))
			if err != nil {
				return nil, closers, fmt.Errorf("create stt fallback %q: %w", entry.Name, err)
			}
			track(p)
			fb.AddFallback(entry.Name, p)
			slog.Info("provider created", "kind", "stt_fallback", "name", entry.Name)
		}
		ps.STT = fb
	}

	// TTS
	synth, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, closers, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	track(synth)
	ps.TTS = synth
	slog.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Name)

	// Directory; the http source defaults to the commit backend.
	dirEntry := cfg.Providers.Directory
	if dirEntry.Name == "http" {
		if dirEntry.BaseURL == "" {
			dirEntry.BaseURL = cfg.Providers.Commit.BaseURL
		}
		if dirEntry.APIKey == "" {
			dirEntry.APIKey = cfg.Providers.Commit.APIKey
		}
	}
	src, err := reg.CreateDirectory(dirEntry)
	if err != nil {
		return nil, closers, fmt.Errorf("create directory %q: %w", dirEntry.Name, err)
	}
	track(src)
	ps.Directory = src
	slog.Info("provider created", "kind", "directory", "name", dirEntry.Name)

	// Audio
	audioEntry := cfg.Providers.Audio
	if audioEntry.Name == "" {
		audioEntry.Name = "portaudio"
	}
	devices, err := reg.CreateAudio(audioEntry)
	if err != nil {
		return nil, closers, fmt.Errorf("create audio %q: %w", audioEntry.Name, err)
	}
	if devices.Close != nil {
		closers = append(closers, devices.Close)
	}
	ps.Microphone = devices.Microphone
	ps.Speaker = devices.Speaker
	slog.Info("provider created", "kind", "audio", "name", audioEntry.Name)

	return ps, closers, nil
}

// withLanguage fills the "language" option from the conversation default
// when the entry does not set one.
func withLanguage(entry config.ProviderEntry, lang string) config.ProviderEntry {
	if lang == "" || entry.OptionString("language") != "" {
		return entry
	}
	opts := make(map[string]any, len(entry.Options)+1)
	for k, v := range entry.Options {
		opts[k] = v
	}
	opts["language"] = lang
	entry.Options = opts
	return entry
}

// closerOf adapts the two close signatures providers use.
func closerOf(v any) func() error {
	switch c := v.(type) {
	case io.Closer:
		return c.Close
	case interface{ Close() }:
		return func() error { c.Close(); return nil }
	}
	return nil
}

func runClosers(closers []func() error) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			slog.Warn("closer error", "err", err)
		}
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        voicedesk: startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	for _, fb := range cfg.Providers.STTFallbacks {
		printProvider("STT fallback", fb.Name, fb.Model)
	}
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("Directory", cfg.Providers.Directory.Name, "")
	printProvider("Audio", cfg.Providers.Audio.Name, "")
	fmt.Printf("║  Default mode    : %-19s ║\n", cfg.Conversation.Mode)
	fmt.Printf("║  Max retries     : %-19d ║\n", cfg.Conversation.Retries())
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}
