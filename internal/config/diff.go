package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// TopicChanged is true when session.topic changed; the running session
	// can apply it by reconnecting under the new profile.
	TopicChanged bool
	NewTopic     string

	// TopicProfilesChanged is true when any custom topic profile was added,
	// removed, or edited. Applying it requires rebuilding the catalog.
	TopicProfilesChanged bool
}

// Empty reports whether the diff carries no applicable change.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.TopicChanged && !d.TopicProfilesChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Session.Topic != new.Session.Topic {
		d.TopicChanged = true
		d.NewTopic = new.Session.Topic
	}

	if !slices.EqualFunc(old.Topics, new.Topics, func(a, b TopicConfig) bool {
		return a.Name == b.Name && slices.Equal(a.Instructions, b.Instructions)
	}) {
		d.TopicProfilesChanged = true
	}

	return d
}
