// Package app wires the voicedesk subsystems into a running service.
//
// The App owns the lifecycle: New builds the per-session components from the
// config and the providers created by main, Run serves the HTTP control
// surface, and Shutdown cancels any running session and tears everything
// down in reverse order.
//
// For testing, pass mock providers and call [App.Handler] with httptest.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/torqueshop/voicedesk/internal/capture"
	"github.com/torqueshop/voicedesk/internal/commit"
	"github.com/torqueshop/voicedesk/internal/config"
	"github.com/torqueshop/voicedesk/internal/conversation"
	"github.com/torqueshop/voicedesk/internal/directory"
	"github.com/torqueshop/voicedesk/internal/health"
	"github.com/torqueshop/voicedesk/internal/observe"
	"github.com/torqueshop/voicedesk/internal/quantity"
	"github.com/torqueshop/voicedesk/internal/resilience"
	"github.com/torqueshop/voicedesk/internal/resolve"
	"github.com/torqueshop/voicedesk/internal/speech"
	"github.com/torqueshop/voicedesk/internal/transcribe"
	"github.com/torqueshop/voicedesk/pkg/audio"
	"github.com/torqueshop/voicedesk/pkg/provider/stt"
	"github.com/torqueshop/voicedesk/pkg/provider/tts"
	"github.com/torqueshop/voicedesk/pkg/shop"
)

// directoryRefreshTimeout bounds the directory reload at session start.
const directoryRefreshTimeout = 10 * time.Second

// Providers holds one value per external boundary. Populated by main.go via
// the config registry. All fields are required.
type Providers struct {
	STT        stt.Provider
	TTS        tts.Provider
	Directory  directory.Source
	Microphone audio.Microphone
	Speaker    audio.Speaker
}

// pinger is implemented by directory sources that can check connectivity
// without reading data.
type pinger interface {
	Ping(ctx context.Context) error
}

// components are the per-config collaborators handed to each new session.
// They are rebuilt when a reload changes their section.
type components struct {
	capture     *capture.Controller
	speech      *speech.Player
	transcriber *transcribe.Gateway
	committer   *commit.Gateway
	resolver    *resolve.Resolver
	parser      *quantity.Parser
}

// App owns all subsystem lifetimes and serves the control surface.
type App struct {
	providers      *Providers
	metrics        *observe.Metrics
	metricsHandler http.Handler
	logLevel       *slog.LevelVar
	sessions       *SessionManager
	health         *health.Handler

	mu    sync.RWMutex
	cfg   *config.Config
	dir   *directory.Snapshot
	parts *components

	// closers are called in reverse order during Shutdown.
	closers []func() error

	serverMu sync.Mutex
	server   *http.Server

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLogLevel lets config reloads change the level of the default logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithCloser registers fn to run during Shutdown. Closers run in reverse
// registration order.
func WithCloser(fn func() error) Option {
	return func(a *App) {
		if fn != nil {
			a.closers = append(a.closers, fn)
		}
	}
}

// New creates an App. It loads the directory snapshot and builds the session
// components from cfg.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if err := checkProviders(providers); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Directory snapshot ────────────────────────────────────────────
	dir, err := directory.Load(ctx, providers.Directory)
	if err != nil {
		return nil, fmt.Errorf("app: load directory: %w", err)
	}
	a.dir = dir
	customers, vehicles := dir.Counts()
	slog.Info("directory loaded", "customers", customers, "vehicles", vehicles)

	// ── 2. Session components ────────────────────────────────────────────
	parts, err := a.buildComponents(cfg)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.parts = parts

	// ── 3. Session manager + health ──────────────────────────────────────
	a.sessions = NewSessionManager(a.newSession)
	a.health = health.New(a.checkers()...)

	return a, nil
}

func checkProviders(p *Providers) error {
	if p == nil {
		return errors.New("providers are required")
	}
	var errs []error
	if p.STT == nil {
		errs = append(errs, errors.New("stt provider is required"))
	}
	if p.TTS == nil {
		errs = append(errs, errors.New("tts provider is required"))
	}
	if p.Directory == nil {
		errs = append(errs, errors.New("directory source is required"))
	}
	if p.Microphone == nil {
		errs = append(errs, errors.New("microphone is required"))
	}
	if p.Speaker == nil {
		errs = append(errs, errors.New("speaker is required"))
	}
	return errors.Join(errs...)
}

// buildComponents constructs the per-session collaborators for cfg.
func (a *App) buildComponents(cfg *config.Config) (*components, error) {
	p := a.providers

	capCfg := capture.Config{
		MaxDuration:      cfg.Capture.MaxDuration,
		MinBytes:         cfg.Capture.MinBytes,
		Format:           audio.Format{SampleRate: cfg.Capture.SampleRate, Channels: 1},
		SilenceWindow:    time.Duration(cfg.Capture.SilenceMS) * time.Millisecond,
		SilenceThreshold: cfg.Capture.RMSThreshold,
	}
	ctrl, err := capture.New(p.Microphone, capture.WithConfig(capCfg), capture.WithMetrics(a.metrics))
	if err != nil {
		return nil, fmt.Errorf("build capture: %w", err)
	}

	player, err := speech.New(p.TTS, p.Speaker,
		speech.WithVoice(tts.VoiceProfile{ID: cfg.Conversation.VoiceID, Provider: cfg.Providers.TTS.Name}),
		speech.WithProviderName(cfg.Providers.TTS.Name),
		speech.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("build speech: %w", err)
	}

	gw, err := transcribe.New(p.STT,
		transcribe.WithProviderName(cfg.Providers.STT.Name),
		transcribe.WithLanguage(cfg.Conversation.Language),
		transcribe.WithTimeout(cfg.Conversation.TranscribeTimeout),
		transcribe.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("build transcription gateway: %w", err)
	}

	commitOpts := []commit.Option{
		commit.WithHTTPClient(&http.Client{Timeout: cfg.Commit.Timeout}),
		commit.WithTaxRate(cfg.Conversation.TaxRate),
		commit.WithMetrics(a.metrics),
	}
	if key := cfg.Providers.Commit.APIKey; key != "" {
		commitOpts = append(commitOpts, commit.WithToken(key))
	}
	if cfg.Commit.FetchPDF {
		commitOpts = append(commitOpts, commit.WithPDFDir(cfg.Commit.PDFDir))
	}
	cm, err := commit.New(cfg.Providers.Commit.BaseURL, commitOpts...)
	if err != nil {
		return nil, fmt.Errorf("build commit gateway: %w", err)
	}

	var resolveOpts []resolve.Option
	if cfg.Conversation.PhoneticMatching {
		resolveOpts = append(resolveOpts, resolve.WithPhonetic(resolve.NewPhoneticMatcher()))
	}

	return &components{
		capture:     ctrl,
		speech:      player,
		transcriber: gw,
		committer:   cm,
		resolver:    resolve.New(resolveOpts...),
		parser: quantity.New(
			quantity.WithDefaultHours(cfg.Conversation.DefaultHours),
			quantity.WithBasePrice(cfg.Conversation.BasePrice),
		),
	}, nil
}

// checkers returns the readiness checks for the directory and both gateways.
func (a *App) checkers() []health.Checker {
	src := a.providers.Directory
	dirCheck := func(ctx context.Context) error {
		if p, ok := src.(pinger); ok {
			return p.Ping(ctx)
		}
		_, err := src.Customers(ctx)
		return err
	}
	return []health.Checker{
		{Name: "directory", Check: dirCheck},
		{Name: "stt", Check: func(context.Context) error {
			return breakerCheck(a.snapshotParts().transcriber.BreakerState())
		}},
		{Name: "commit", Check: func(context.Context) error {
			return breakerCheck(a.snapshotParts().committer.BreakerState())
		}},
	}
}

func breakerCheck(s resilience.State) error {
	if s == resilience.StateOpen {
		return resilience.ErrCircuitOpen
	}
	return nil
}

func (a *App) snapshotParts() *components {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.parts
}

// newSession is the [SessionFactory] used by the session manager. It
// refreshes the directory snapshot, falling back to the last good one.
func (a *App) newSession(ctx context.Context, mode shop.RecordKind) (*conversation.Session, error) {
	a.mu.RLock()
	cfg, parts, dir := a.cfg, a.parts, a.dir
	a.mu.RUnlock()

	rctx, cancel := context.WithTimeout(ctx, directoryRefreshTimeout)
	fresh, err := directory.Load(rctx, a.providers.Directory)
	cancel()
	if err != nil {
		slog.Warn("directory refresh failed, using previous snapshot", "err", err)
	} else {
		dir = fresh
		a.mu.Lock()
		a.dir = fresh
		a.mu.Unlock()
	}

	if mode == "" {
		mode = cfg.Conversation.Mode
	}
	return conversation.New(conversation.Deps{
		Speaker:     parts.speech,
		Recorder:    parts.capture,
		Transcriber: parts.transcriber,
		Committer:   parts.committer,
		Directory:   dir,
	},
		conversation.WithMode(mode),
		conversation.WithMaxRetries(cfg.Conversation.Retries()),
		conversation.WithResolver(parts.resolver),
		conversation.WithParser(parts.parser),
		conversation.WithMetrics(a.metrics),
	)
}

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Config returns the config new sessions are built from.
func (a *App) Config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

// ApplyConfig installs a reloaded config. It has the [config.ChangeFunc]
// signature so it can be passed to [config.NewWatcher]. Running sessions keep
// the components they started with.
func (a *App) ApplyConfig(_, next *config.Config, diff config.ConfigDiff) {
	if diff.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(diff.NewLogLevel))
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}

	var parts *components
	if diff.ConversationChanged || diff.CaptureChanged || diff.CommitChanged {
		built, err := a.buildComponents(next)
		if err != nil {
			slog.Warn("config reload: keeping previous session components", "err", err)
			return
		}
		parts = built
	}

	a.mu.Lock()
	a.cfg = next
	if parts != nil {
		a.parts = parts
	}
	a.mu.Unlock()
}

// SlogLevel converts a config log level to its slog equivalent.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── HTTP ────────────────────────────────────────────────────────────────────

// Handler returns the control surface wrapped in the observability
// middleware.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", a.handleStart)
	mux.HandleFunc("GET /v1/sessions/current", a.handleCurrent)
	mux.HandleFunc("DELETE /v1/sessions/current", a.handleCancel)
	a.health.Register(mux)
	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}
	return observe.Middleware(a.metrics)(mux)
}

type startRequest struct {
	Mode shop.RecordKind `json:"mode"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *App) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 4096))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if req.Mode != "" && !req.Mode.IsValid() {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid mode %q", req.Mode)})
		return
	}

	info, err := a.sessions.Start(r.Context(), req.Mode)
	switch {
	case errors.Is(err, ErrSessionActive):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case err != nil:
		observe.Logger(r.Context()).Error("start session", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusCreated, info)
	}
}

func (a *App) handleCurrent(w http.ResponseWriter, _ *http.Request) {
	st, err := a.sessions.Current()
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *App) handleCancel(w http.ResponseWriter, _ *http.Request) {
	if err := a.sessions.Cancel(); err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the control surface on the configured address and blocks until
// ctx is cancelled or the server fails. When ctx is done, Run returns
// context.Canceled (or the underlying cause).
func (a *App) Run(ctx context.Context) error {
	cfg := a.Config()
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.serverMu.Lock()
	a.server = srv
	a.serverMu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()
	slog.Info("control surface listening", "addr", cfg.Server.ListenAddr, "tls", cfg.Server.TLS != nil)

	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the HTTP server, cancels any running session and waits for
// it, then runs the closers in reverse order. It respects the context
// deadline: if ctx expires, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		a.serverMu.Lock()
		srv := a.server
		a.serverMu.Unlock()
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				slog.Warn("http server shutdown error", "err", err)
			}
		}

		if err := a.sessions.Stop(ctx); err != nil {
			slog.Warn("session did not stop before deadline", "err", err)
			shutdownErr = err
			return
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
