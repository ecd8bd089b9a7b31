package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/hornwatch/pkg/detect"
	"github.com/MrWong99/hornwatch/pkg/feature"
)

// EnvPath names the environment variable that overrides the config path.
const EnvPath = "HORNWATCH_CONFIG"

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr = ":8080"
	DefaultSampleRate = 16000
	DefaultWindowSize = 2048
	DefaultThreshold  = 0.35
	DefaultCooldown   = 2 * time.Second
	DefaultTemplates  = 4
	DefaultTarget     = "car horn"
	DefaultHistoryDir = "hornwatch-history"
)

// Path returns the config path to use: the HORNWATCH_CONFIG environment
// variable when set, otherwise fallback.
func Path(fallback string) string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	return fallback
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r, fills defaults and validates
// the result. Useful in tests where configs are constructed from string
// literals. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a validated config with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	if cfg.Audio.Source == "" {
		cfg.Audio.Source = SourceMicrophone
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	}
	if cfg.Audio.WindowSize == 0 {
		cfg.Audio.WindowSize = DefaultWindowSize
	}

	if cfg.Detection.Threshold == nil {
		t := DefaultThreshold
		cfg.Detection.Threshold = &t
	}
	if cfg.Detection.Cooldown == nil {
		c := DefaultCooldown
		cfg.Detection.Cooldown = &c
	}
	if cfg.Detection.Strategy == "" {
		cfg.Detection.Strategy = feature.StrategySpectral
	}
	if cfg.Detection.Metric == "" {
		cfg.Detection.Metric = detect.Manhattan
	}
	if cfg.Detection.Normalize == "" {
		cfg.Detection.Normalize = feature.NormalizeMax
	}
	if cfg.Detection.Amplitude == "" {
		cfg.Detection.Amplitude = feature.AmplitudePeak
	}

	if cfg.Signature.Templates == 0 {
		cfg.Signature.Templates = DefaultTemplates
	}
	if cfg.Signature.Timeout == 0 {
		cfg.Signature.Timeout = 30 * time.Second
	}

	if cfg.Alarm.Queue == 0 {
		cfg.Alarm.Queue = 8
	}
	if cfg.Alarm.Timeout == 0 {
		cfg.Alarm.Timeout = 10 * time.Second
	}

	if cfg.History.Dir == "" {
		cfg.History.Dir = DefaultHistoryDir
	}
	if cfg.Status.Target == "" {
		cfg.Status.Target = DefaultTarget
	}
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

	// Audio
	if cfg.Audio.Source != "" && !cfg.Audio.Source.IsValid() {
		errs = append(errs, fmt.Errorf("audio.source %q is invalid; valid values: microphone, file", cfg.Audio.Source))
	}
	if cfg.Audio.Source == SourceFile && cfg.Audio.File == "" {
		errs = append(errs, errors.New("audio.file is required when audio.source is file"))
	}
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.WindowSize < 0 {
		errs = append(errs, fmt.Errorf("audio.window_size %d must be positive", cfg.Audio.WindowSize))
	}
	if cfg.Audio.Restart.Backoff < 0 || cfg.Audio.Restart.MaxBackoff < 0 {
		errs = append(errs, errors.New("audio.restart backoff values must not be negative"))
	}

	// Detection
	d := cfg.Detection
	if d.Strategy != "" && !d.Strategy.IsValid() {
		errs = append(errs, fmt.Errorf("detection.strategy %q is invalid; valid values: spectral, amplitude, classifier", d.Strategy))
	}
	if d.Metric != "" && !d.Metric.IsValid() {
		errs = append(errs, fmt.Errorf("detection.metric %q is invalid; valid values: manhattan, euclidean", d.Metric))
	}
	if d.Threshold != nil && *d.Threshold < 0 {
		errs = append(errs, fmt.Errorf("detection.threshold %v must not be negative", *d.Threshold))
	}
	if d.Cooldown != nil && *d.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("detection.cooldown %s must not be negative", *d.Cooldown))
	}
	if d.Normalize != "" && !d.Normalize.IsValid() {
		errs = append(errs, fmt.Errorf("detection.normalize %q is invalid; valid values: max, sum, none", d.Normalize))
	}
	if d.Amplitude != "" && !d.Amplitude.IsValid() {
		errs = append(errs, fmt.Errorf("detection.amplitude %q is invalid; valid values: peak, rms", d.Amplitude))
	}
	if d.MinHz < 0 || (d.MaxHz != 0 && d.MaxHz <= d.MinHz) {
		errs = append(errs, fmt.Errorf("detection band [%v, %v] Hz is invalid", d.MinHz, d.MaxHz))
	}
	if d.Strategy == feature.StrategyClassifier && d.BandHighHz <= d.BandLowHz {
		errs = append(errs, fmt.Errorf("detection.band_high_hz %v must exceed band_low_hz %v for the classifier strategy", d.BandHighHz, d.BandLowHz))
	}
	if nyquist := float64(cfg.Audio.SampleRate) / 2; cfg.Audio.SampleRate > 0 && d.MaxHz > nyquist {
		errs = append(errs, fmt.Errorf("detection.max_hz %v exceeds the Nyquist frequency %v", d.MaxHz, nyquist))
	}

	// Signature
	if cfg.Signature.Path == "" {
		if cfg.Signature.Required {
			errs = append(errs, errors.New("signature.path is required when signature.required is set"))
		} else {
			slog.Warn("signature.path is empty; detection will run degraded and never match")
		}
	}
	if cfg.Signature.Templates < 0 {
		errs = append(errs, fmt.Errorf("signature.templates %d must not be negative", cfg.Signature.Templates))
	}

	// Alarm
	a := cfg.Alarm
	if len(a.Command) > 0 && a.Command[0] == "" {
		errs = append(errs, errors.New("alarm.command must start with a program name"))
	}
	if (a.Discord.Token == "") != (a.Discord.ChannelID == "") {
		errs = append(errs, errors.New("alarm.discord needs both token and channel_id"))
	}
	if a.Queue < 0 {
		errs = append(errs, fmt.Errorf("alarm.queue %d must not be negative", a.Queue))
	}
	if !a.Log.Enabled && a.Sound.File == "" && len(a.Command) == 0 && !a.Discord.Enabled() {
		slog.Warn("no alarm target configured; detections are only reported as status")
	}

	// History
	if cfg.History.Retention < 0 {
		errs = append(errs, fmt.Errorf("history.retention %s must not be negative", cfg.History.Retention))
	}

	return errors.Join(errs...)
}
