package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; they apply to
// connections opened after the reload.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ScoringChanged bool
	SessionChanged bool
	AudioChanged   bool

	// RestartRequired lists sections that changed but only take effect
	// after a restart.
	RestartRequired []string
}

// Changed reports whether any hot-reloadable field changed.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.ScoringChanged || d.SessionChanged || d.AudioChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.ScoringChanged = old.Scoring != new.Scoring
	d.AudioChanged = old.Audio != new.Audio
	d.SessionChanged = !sessionEqual(old.Session, new.Session)

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !sttEqual(old.Providers.STT, new.Providers.STT) {
		d.RestartRequired = append(d.RestartRequired, "providers.stt")
	}
	if !wordsEqual(old.Words, new.Words) {
		d.RestartRequired = append(d.RestartRequired, "words")
	}
	if !resultsEqual(old.Results, new.Results) {
		d.RestartRequired = append(d.RestartRequired, "results")
	}
	if old.Segmenter != new.Segmenter || !vadEqual(old.VAD, new.VAD) {
		d.RestartRequired = append(d.RestartRequired, "segmenter/vad")
	}
	return d
}

func resultsEqual(a, b *ResultsConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return slices.Equal(a.Servers, b.Servers) && a.Subject == b.Subject &&
		a.Username == b.Username && a.Password == b.Password && a.Token == b.Token &&
		a.ConnectTimeout == b.ConnectTimeout
}

func sessionEqual(a, b SessionConfig) bool {
	return a.Attempts() == b.Attempts() && a.Language == b.Language && a.Prompt == b.Prompt
}

func vadEqual(a, b VADConfig) bool {
	return a.Engine == b.Engine && a.AggressivenessLevel() == b.AggressivenessLevel() && a.AdaptRate == b.AdaptRate
}

func entryEqual(a, b ProviderEntry) bool {
	// Options are provider-specific; compare the identifying fields only.
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}

func sttEqual(a, b STTConfig) bool {
	if !entryEqual(a.ProviderEntry, b.ProviderEntry) || a.Timeout != b.Timeout || a.CircuitBreaker != b.CircuitBreaker {
		return false
	}
	if len(a.Fallbacks) != len(b.Fallbacks) {
		return false
	}
	for i := range a.Fallbacks {
		if !entryEqual(a.Fallbacks[i], b.Fallbacks[i]) {
			return false
		}
	}
	return true
}

func wordsEqual(a, b WordsConfig) bool {
	if a.Backend != b.Backend || a.DSN != b.DSN || a.Path != b.Path || a.SeedSample != b.SeedSample {
		return false
	}
	if len(a.Fixtures) != len(b.Fixtures) {
		return false
	}
	for i := range a.Fixtures {
		if a.Fixtures[i] != b.Fixtures[i] {
			return false
		}
	}
	switch {
	case a.Cache == nil && b.Cache == nil:
		return true
	case a.Cache == nil || b.Cache == nil:
		return false
	default:
		return *a.Cache == *b.Cache
	}
}
