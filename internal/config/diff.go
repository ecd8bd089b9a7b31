package config

import (
	"reflect"
	"time"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked individually;
// anything else is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// DetectionChanged is set when threshold or cooldown differ.
	DetectionChanged bool
	NewThreshold     float64
	NewCooldown      time.Duration

	// RestartRequired names the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.DetectionChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
// Both configs are expected to have defaults applied.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Detector tuning
	od, nd := old.Detection.Detect(), new.Detection.Detect()
	if od.Threshold != nd.Threshold || od.Cooldown != nd.Cooldown {
		d.DetectionChanged = true
		d.NewThreshold = nd.Threshold
		d.NewCooldown = nd.Cooldown
	}

	// Everything else needs a restart. Compare with the hot fields masked.
	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if !reflect.DeepEqual(oldServer, newServer) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Audio, new.Audio) {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	oldDet, newDet := old.Detection, new.Detection
	oldDet.Threshold, oldDet.Cooldown = nil, nil
	newDet.Threshold, newDet.Cooldown = nil, nil
	if oldDet != newDet {
		d.RestartRequired = append(d.RestartRequired, "detection")
	}
	if old.Signature != new.Signature {
		d.RestartRequired = append(d.RestartRequired, "signature")
	}
	if !reflect.DeepEqual(old.Alarm, new.Alarm) {
		d.RestartRequired = append(d.RestartRequired, "alarm")
	}
	if old.History != new.History {
		d.RestartRequired = append(d.RestartRequired, "history")
	}
	if !reflect.DeepEqual(old.Status, new.Status) {
		d.RestartRequired = append(d.RestartRequired, "status")
	}

	return d
}
