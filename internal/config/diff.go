package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only the reading preferences and the log level are applied live; every
// other change is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	LanguageChanged bool
	NewLanguage     string

	AutoPageTurnChanged bool
	NewAutoPageTurn     bool

	// RestartRequired names the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// HasLiveChanges reports whether d carries anything that can be applied
// without a restart.
func (d ConfigDiff) HasLiveChanges() bool {
	return d.LogLevelChanged || d.LanguageChanged || d.AutoPageTurnChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Tags are compared after parsing so "en" → "english" is not a change.
	if old.Reading.Lang() != new.Reading.Lang() {
		d.LanguageChanged = true
		d.NewLanguage = string(new.Reading.Lang())
	}

	if old.Reading.AutoPageTurnEnabled() != new.Reading.AutoPageTurnEnabled() {
		d.AutoPageTurnChanged = true
		d.NewAutoPageTurn = new.Reading.AutoPageTurnEnabled()
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !sameReadingStatics(old.Reading, new.Reading) {
		d.RestartRequired = append(d.RestartRequired, "reading")
	}
	sections := []struct {
		name     string
		old, new any
	}{
		{"segmenter", old.Segmenter, new.Segmenter},
		{"providers", old.Providers, new.Providers},
		{"fetch", old.Fetch, new.Fetch},
		{"playback", old.Playback, new.Playback},
		{"page_turn", old.PageTurn, new.PageTurn},
		{"bookmarks", old.Bookmarks, new.Bookmarks},
		{"telemetry", old.Telemetry, new.Telemetry},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}

	return d
}

// sameReadingStatics compares the reading fields that are not hot-reloaded.
func sameReadingStatics(old, new ReadingConfig) bool {
	return old.Document == new.Document &&
		old.StartPage == new.StartPage &&
		old.AutoStart == new.AutoStart &&
		old.RenderDelay == new.RenderDelay
}
