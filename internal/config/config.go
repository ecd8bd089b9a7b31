// Package config provides the configuration schema, loader, and hot-reload
// watcher for hornwatch.
package config

import (
	"time"

	"github.com/MrWong99/hornwatch/pkg/detect"
	"github.com/MrWong99/hornwatch/pkg/feature"
)

// LogLevel controls log verbosity for the hornwatch server.
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

// SourceKind selects where audio frames come from.
type SourceKind string

const (
	// SourceMicrophone captures from the default input device.
	SourceMicrophone SourceKind = "microphone"

	// SourceFile replays a WAV or MP3 file.
	SourceFile SourceKind = "file"
)

// IsValid reports whether k is a recognised source kind.
func (k SourceKind) IsValid() bool {
	return k == SourceMicrophone || k == SourceFile
}

// Config is the root configuration structure for hornwatch.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Detection DetectionConfig `yaml:"detection"`
	Signature SignatureConfig `yaml:"signature"`
	Alarm     AlarmConfig     `yaml:"alarm"`
	History   HistoryConfig   `yaml:"history"`
	Status    StatusConfig    `yaml:"status"`
}

// ServerConfig holds network and logging settings for the hornwatch server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// AutoStart starts listening as soon as the server is up.
	AutoStart bool `yaml:"auto_start"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// AudioConfig selects the audio source and the analysis window.
type AudioConfig struct {
	Source SourceKind `yaml:"source"`

	// File is the recording replayed when Source is "file".
	File string `yaml:"file"`

	// Realtime paces file playback at the recording's speed.
	Realtime bool `yaml:"realtime"`

	// SampleRate in Hz. Default: 16000.
	SampleRate int `yaml:"sample_rate"`

	// WindowSize is the number of samples per analysed frame. Default: 2048.
	WindowSize int `yaml:"window_size"`

	Restart RestartConfig `yaml:"restart"`
}

// RestartConfig controls automatic restarts after the microphone fails.
type RestartConfig struct {
	// MaxRestarts is the number of consecutive restarts attempted.
	// Negative disables restarts. Default: 5.
	MaxRestarts int `yaml:"max_restarts"`

	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// DetectionConfig tunes feature extraction and matching.
type DetectionConfig struct {
	Strategy feature.Strategy `yaml:"strategy"`
	Metric   detect.Metric    `yaml:"metric"`

	// Threshold and Cooldown are pointers so an explicit zero survives
	// defaulting.
	Threshold *float64       `yaml:"threshold"`
	Cooldown  *time.Duration `yaml:"cooldown"`

	Normalize feature.Normalization `yaml:"normalize"`

	// MinHz and MaxHz restrict the spectral band compared. Zero means
	// the full spectrum.
	MinHz float64 `yaml:"min_hz"`
	MaxHz float64 `yaml:"max_hz"`

	// Amplitude selects peak or RMS for the amplitude strategy.
	Amplitude feature.AmplitudeMode `yaml:"amplitude"`

	// BandLowHz and BandHighHz bound the band scored by the classifier strategy.
	BandLowHz  float64 `yaml:"band_low_hz"`
	BandHighHz float64 `yaml:"band_high_hz"`
}

// Detect returns the detector parameters. Call after [ApplyDefaults].
func (d DetectionConfig) Detect() detect.Config {
	c := detect.Config{Metric: d.Metric}
	if d.Threshold != nil {
		c.Threshold = *d.Threshold
	}
	if d.Cooldown != nil {
		c.Cooldown = *d.Cooldown
	}
	return c
}

// Feature returns the extractor parameters for the given audio format.
func (d DetectionConfig) Feature(sampleRate, windowSize int) feature.Config {
	return feature.Config{
		Strategy:   d.Strategy,
		SampleRate: sampleRate,
		WindowSize: windowSize,
		Normalize:  d.Normalize,
		MinHz:      d.MinHz,
		MaxHz:      d.MaxHz,
		Amplitude:  d.Amplitude,
		BandLowHz:  d.BandLowHz,
		BandHighHz: d.BandHighHz,
	}
}

// SignatureConfig locates the reference sample.
type SignatureConfig struct {
	// Path is a file path or an http(s) URL to a WAV or MP3 sample.
	Path string `yaml:"path"`

	// Required makes a load failure fatal instead of running degraded.
	Required bool `yaml:"required"`

	// Templates is the number of loudest windows kept besides the mean.
	// Default: 4.
	Templates int `yaml:"templates"`

	// Timeout bounds the fetch. Default: 30s.
	Timeout time.Duration `yaml:"timeout"`
}

// AlarmConfig lists the alarm targets fired on a detection. Targets run
// in parallel, each behind its own circuit breaker.
type AlarmConfig struct {
	Log     LogAlarmConfig     `yaml:"log"`
	Sound   SoundAlarmConfig   `yaml:"sound"`
	Command []string           `yaml:"command"`
	Discord DiscordAlarmConfig `yaml:"discord"`
	Breaker BreakerConfig      `yaml:"breaker"`

	// Queue is the number of pending alarms buffered for delivery.
	// Default: 8.
	Queue int `yaml:"queue"`

	// Timeout bounds one delivery. Default: 10s.
	Timeout time.Duration `yaml:"timeout"`
}

// LogAlarmConfig writes a log line on every detection.
type LogAlarmConfig struct {
	Enabled bool   `yaml:"enabled"`
	Message string `yaml:"message"`
}

// SoundAlarmConfig plays a sound file through the first working player.
type SoundAlarmConfig struct {
	// File is the sound to play. Empty disables the target.
	File string `yaml:"file"`

	// Players are command lines tried in order; File is appended to each.
	// Defaults to a list of common players.
	Players []string `yaml:"players"`
}

// DiscordAlarmConfig posts a channel message on every detection.
type DiscordAlarmConfig struct {
	Token     string `yaml:"token"`
	ChannelID string `yaml:"channel_id"`
	Message   string `yaml:"message"`
}

// Enabled reports whether the Discord target is configured.
func (d DiscordAlarmConfig) Enabled() bool {
	return d.Token != "" && d.ChannelID != ""
}

// BreakerConfig tunes the per-target circuit breakers.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// HistoryConfig controls the detection episode log.
type HistoryConfig struct {
	Enabled bool `yaml:"enabled"`

	// Dir is the database directory. Default: "hornwatch-history".
	Dir string `yaml:"dir"`

	// Retention expires episodes older than this. Zero keeps them forever.
	Retention time.Duration `yaml:"retention"`
}

// StatusConfig controls status reporting.
type StatusConfig struct {
	// Target names the sound in status messages. Default: "car horn".
	Target string `yaml:"target"`

	// OriginPatterns are additional hosts allowed to open the status
	// websocket.
	OriginPatterns []string `yaml:"origin_patterns"`
}
