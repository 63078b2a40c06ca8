package config

import (
	"reflect"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ConversationChanged and CaptureChanged are picked up by the next
	// session; sessions in flight keep the values they started with.
	ConversationChanged bool
	CaptureChanged      bool
	CommitChanged       bool

	// RestartRequired lists sections that changed but are only read at
	// startup (providers, listen address, TLS).
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.ConversationChanged || d.CaptureChanged ||
		d.CommitChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if !reflect.DeepEqual(old.Conversation, new.Conversation) {
		d.ConversationChanged = true
	}
	if old.Capture != new.Capture {
		d.CaptureChanged = true
	}
	if old.Commit != new.Commit {
		d.CommitChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !reflect.DeepEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server.tls")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	return d
}
