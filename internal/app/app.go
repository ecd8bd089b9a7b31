// Package app wires all hornwatch subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP API and drives the detection loop, and
// Shutdown tears everything down in order.
//
// For testing, inject test doubles via functional options (WithSource,
// WithAlarm, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/hornwatch/internal/alarm"
	"github.com/MrWong99/hornwatch/internal/config"
	"github.com/MrWong99/hornwatch/internal/health"
	"github.com/MrWong99/hornwatch/internal/history"
	"github.com/MrWong99/hornwatch/internal/observe"
	"github.com/MrWong99/hornwatch/internal/resilience"
	"github.com/MrWong99/hornwatch/internal/session"
	"github.com/MrWong99/hornwatch/internal/signature"
	"github.com/MrWong99/hornwatch/internal/status"
	"github.com/MrWong99/hornwatch/pkg/audio"
	"github.com/MrWong99/hornwatch/pkg/audio/file"
	"github.com/MrWong99/hornwatch/pkg/audio/microphone"
	"github.com/MrWong99/hornwatch/pkg/feature"
)

// shutdownTimeout bounds the HTTP server drain on shutdown.
const shutdownTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	// Injected or built in New.
	registry *config.Registry
	source   audio.Source
	samples  signature.SampleSource
	alarm    session.Alarm
	recorder session.Recorder
	sinks    []session.StatusSink
	metrics  *observe.Metrics
	gatherer prometheus.Gatherer
	logLevel *slog.LevelVar
	version  string

	// configPath enables hot reload when set.
	configPath     string
	reloadInterval time.Duration

	extractor feature.Extractor
	loader    *signature.Loader
	history   *history.Store
	hub       *status.Hub
	sess      *session.Session
	ctrl      *Controller
	health    *health.Handler
	handler   http.Handler

	// closers are called in order during Shutdown.
	closers []func(context.Context) error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry replaces the audio source registry built by [DefaultRegistry].
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithSource injects an audio source instead of creating one from config.
func WithSource(s audio.Source) Option {
	return func(a *App) { a.source = s }
}

// WithSampleSource injects where the reference sample is fetched from.
func WithSampleSource(s signature.SampleSource) Option {
	return func(a *App) { a.samples = s }
}

// WithAlarm injects the alarm instead of building the configured targets.
func WithAlarm(al session.Alarm) Option {
	return func(a *App) { a.alarm = al }
}

// WithRecorder injects the episode recorder instead of opening the history
// store.
func WithRecorder(r session.Recorder) Option {
	return func(a *App) { a.recorder = r }
}

// WithStatusSink adds a status sink next to the log and the websocket hub.
func WithStatusSink(s session.StatusSink) Option {
	return func(a *App) { a.sinks = append(a.sinks, s) }
}

// WithMetrics sets the metrics instruments. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithGatherer sets what /metrics exposes. Defaults to
// [prometheus.DefaultGatherer].
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *App) { a.gatherer = g }
}

// WithLogLevel lets config reloads change the log level.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithVersion sets the version reported by /healthz.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// WithConfigWatch reloads the config file at path while running.
func WithConfigWatch(path string, interval time.Duration) Option {
	return func(a *App) {
		a.configPath = path
		a.reloadInterval = interval
	}
}

// DefaultRegistry returns a registry with the built-in audio sources.
func DefaultRegistry() *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterSource(config.SourceMicrophone, func(config.AudioConfig) (audio.Source, error) {
		return microphone.New(), nil
	})
	reg.RegisterSource(config.SourceFile, func(cfg config.AudioConfig) (audio.Source, error) {
		if cfg.File == "" {
			return nil, errors.New("audio.file is empty")
		}
		return file.New(cfg.File, file.WithRealtime(cfg.Realtime)), nil
	})
	return reg
}

// New creates an App by wiring all subsystems together. On error every
// resource opened so far is released.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	defer func() {
		if err != nil {
			_ = a.Shutdown(context.Background())
		}
	}()

	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.gatherer == nil {
		a.gatherer = prometheus.DefaultGatherer
	}

	// ── 1. Audio source ──────────────────────────────────────────────────
	if a.source == nil {
		if a.registry == nil {
			a.registry = DefaultRegistry()
		}
		if a.source, err = a.registry.CreateSource(cfg.Audio); err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
	}

	// ── 2. Feature extractor + reference signature ───────────────────────
	a.extractor, err = feature.New(cfg.Detection.Feature(cfg.Audio.SampleRate, cfg.Audio.WindowSize))
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.initSignature(ctx)

	// ── 3. Alarm targets ─────────────────────────────────────────────────
	if err := a.initAlarm(); err != nil {
		return nil, fmt.Errorf("app: init alarm: %w", err)
	}

	// ── 4. History ───────────────────────────────────────────────────────
	if err := a.initHistory(); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	// ── 5. Status hub + session ──────────────────────────────────────────
	a.hub = status.NewHub(status.HubConfig{
		OriginPatterns: cfg.Status.OriginPatterns,
		Metrics:        a.metrics,
	})
	sinks := append(status.Multi{status.Log{}, a.hub}, a.sinks...)

	sessOpts := []session.Option{
		session.WithAlarm(a.alarm),
		session.WithStatusSink(sinks),
		session.WithMetrics(a.metrics),
	}
	if a.loader != nil {
		sessOpts = append(sessOpts, session.WithSignature(a.loader))
	}
	if a.recorder != nil {
		sessOpts = append(sessOpts, session.WithRecorder(a.recorder))
	}
	a.sess, err = session.New(session.Config{
		Format: audio.Format{
			SampleRate: cfg.Audio.SampleRate,
			WindowSize: cfg.Audio.WindowSize,
		},
		Detect:            cfg.Detection.Detect(),
		Messages:          session.DefaultMessages(cfg.Status.Target),
		SignatureRequired: cfg.Signature.Required,
	}, a.source, a.extractor, sessOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.ctrl = NewController(a.sess, session.SupervisorConfig{
		MaxRestarts: cfg.Audio.Restart.MaxRestarts,
		Backoff:     cfg.Audio.Restart.Backoff,
		MaxBackoff:  cfg.Audio.Restart.MaxBackoff,
	})

	// ── 6. Health + routes ───────────────────────────────────────────────
	checks := []health.Check{
		health.Listening(func() bool { return a.ctrl.Info().State.Active() }),
	}
	if a.loader != nil && cfg.Signature.Required {
		checks = append(checks, health.SignatureLoaded(a.loader.Loaded))
	}
	if a.history != nil {
		checks = append(checks, health.Store("history", func(ctx context.Context) error {
			_, err := a.history.Count(ctx)
			return err
		}))
	}
	a.health = health.New(a.version, checks...)
	a.handler = a.routes()

	return a, nil
}

// initSignature builds the loader and loads the reference sample once so
// that readiness and the first Start do not wait for it.
func (a *App) initSignature(ctx context.Context) {
	sc := a.cfg.Signature
	if sc.Path == "" {
		return
	}
	if a.samples == nil {
		a.samples = signature.SourceFor(sc.Path, &http.Client{Timeout: sc.Timeout})
	}
	a.loader = signature.NewLoader(a.samples, sc.Path, a.extractor, signature.BuildConfig{
		SampleRate: a.cfg.Audio.SampleRate,
		WindowSize: a.cfg.Audio.WindowSize,
		Templates:  sc.Templates,
	}, signature.WithMetrics(a.metrics))

	loadCtx, cancel := context.WithTimeout(ctx, sc.Timeout)
	defer cancel()
	if _, err := a.loader.Load(loadCtx); err != nil {
		slog.Warn("reference signature unavailable", "path", sc.Path, "err", err)
	}
}

// initAlarm builds the configured alarm targets behind per-target circuit
// breakers and an asynchronous delivery queue.
func (a *App) initAlarm() error {
	if a.alarm != nil {
		return nil
	}
	ac := a.cfg.Alarm
	breaker := resilience.CircuitBreakerConfig{
		MaxFailures:  ac.Breaker.MaxFailures,
		ResetTimeout: ac.Breaker.ResetTimeout,
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("alarm target breaker changed state", "target", name, "from", from, "to", to)
		},
	}

	var targets []alarm.Target
	if ac.Log.Enabled {
		targets = append(targets, alarm.Log{Message: ac.Log.Message})
	}
	if ac.Sound.File != "" {
		p, err := alarm.NewPlayer(ac.Sound.File, ac.Sound.Players, ac.Timeout, resilience.FallbackConfig{CircuitBreaker: breaker})
		if err != nil {
			return err
		}
		targets = append(targets, p)
	}
	if len(ac.Command) > 0 {
		c, err := alarm.NewCommand(ac.Command, ac.Timeout)
		if err != nil {
			return err
		}
		targets = append(targets, c)
	}
	if ac.Discord.Enabled() {
		d, err := alarm.NewDiscord(ac.Discord.Token, ac.Discord.ChannelID, ac.Discord.Message)
		if err != nil {
			return err
		}
		targets = append(targets, d)
	}
	if len(targets) == 0 {
		targets = append(targets, alarm.Log{Message: session.DefaultMessages(a.cfg.Status.Target).Detected})
	}

	async := alarm.NewAsync(alarm.NewMulti(breaker, a.metrics, targets...), ac.Queue, ac.Timeout)
	a.alarm = async
	a.closers = append(a.closers, async.Close)
	return nil
}

func (a *App) initHistory() error {
	if a.recorder != nil || !a.cfg.History.Enabled {
		return nil
	}
	store, err := history.Open(history.Options{
		Dir:       a.cfg.History.Dir,
		Retention: a.cfg.History.Retention,
	})
	if err != nil {
		return err
	}
	a.history = store
	a.recorder = store
	a.closers = append(a.closers, func(context.Context) error { return store.Close() })
	return nil
}

// Handler returns the HTTP handler serving the API, status websocket,
// metrics and health endpoints.
func (a *App) Handler() http.Handler { return a.handler }

// Controller returns the session controller.
func (a *App) Controller() *Controller { return a.ctrl }

// History returns the episode store, or nil when history is disabled.
func (a *App) History() *history.Store { return a.history }

// Run serves HTTP, optionally starts listening right away, and reloads the
// config file when watching is enabled. It blocks until ctx is cancelled or
// the HTTP server fails.
func (a *App) Run(ctx context.Context) error {
	a.ctrl.bind(ctx)
	if a.cfg.Server.AutoStart {
		if err := a.ctrl.Start(ctx); err != nil {
			slog.Error("auto start failed", "err", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		slog.Info("http server listening", "addr", srv.Addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.Reload, config.WithInterval(a.reloadInterval))
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			g.Go(func() error { return w.Run(gctx) })
		}
	}

	return g.Wait()
}

// Reload applies the hot-reloadable parts of a changed config. It is the
// callback of the config watcher.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(LogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.DetectionChanged {
		if err := a.ctrl.Retune(d.NewThreshold, d.NewCooldown); err != nil {
			slog.Warn("detector retune rejected", "err", err)
		} else {
			slog.Info("detector retuned", "threshold", d.NewThreshold, "cooldown", d.NewCooldown)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// Shutdown stops listening and tears down all subsystems in order. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// The session goes first: its queued episodes still need the
		// history store.
		if a.ctrl != nil {
			if err := a.ctrl.Close(ctx); err != nil {
				slog.Warn("close session", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(ctx); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// LogLevel converts a config level to a slog level.
func LogLevel(level config.LogLevel) slog.Level {
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
