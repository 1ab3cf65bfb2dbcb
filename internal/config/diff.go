package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; engine and layer
// geometry changes require a restart and are reported as RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VADChanged reports a change to thresholds, hysteresis durations, or
	// confirmation counts. New sessions pick these up; live sessions keep
	// their current detector.
	VADChanged bool

	// MergerChanged reports a change to tolerance, overlap, or stability
	// parameters.
	MergerChanged bool

	// RestartRequired reports a change that cannot be hot-applied: listen
	// address, TLS, sample rate, store layer geometry, or engine selection.
	RestartRequired bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.VAD != new.VAD {
		d.VADChanged = true
	}
	if old.Merger != new.Merger {
		d.MergerChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		!tlsEqual(old.Server.TLS, new.Server.TLS) ||
		old.Audio != new.Audio ||
		old.Store != new.Store ||
		old.ASR != new.ASR ||
		old.VAD.Neural.Engine != new.VAD.Neural.Engine ||
		old.VAD.Neural.ModelPath != new.VAD.Neural.ModelPath {
		d.RestartRequired = true
	}

	return d
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
