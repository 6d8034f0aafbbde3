package config_test

import (
	"testing"

	"github.com/Predictive-Systems-Inc/dr-a/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{LogLevel: config.LogInfo},
		Session: config.SessionConfig{Topic: "Soccer"},
		Topics: []config.TopicConfig{
			{Name: "Waves", Instructions: []string{"a"}},
		},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()

	d := config.Diff(baseConfig(), baseConfig())
	if !d.Empty() {
		t.Errorf("diff = %+v, want empty", d)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	t.Parallel()

	newCfg := baseConfig()
	newCfg.Server.LogLevel = config.LogDebug
	d := config.Diff(baseConfig(), newCfg)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("diff = %+v", d)
	}
	if d.TopicChanged || d.TopicProfilesChanged {
		t.Errorf("unrelated changes flagged: %+v", d)
	}
}

func TestDiff_Topic(t *testing.T) {
	t.Parallel()

	newCfg := baseConfig()
	newCfg.Session.Topic = "Acceleration"
	d := config.Diff(baseConfig(), newCfg)
	if !d.TopicChanged || d.NewTopic != "Acceleration" {
		t.Errorf("diff = %+v", d)
	}
}

func TestDiff_TopicProfiles(t *testing.T) {
	t.Parallel()

	edited := baseConfig()
	edited.Topics[0].Instructions = []string{"a", "b"}
	if d := config.Diff(baseConfig(), edited); !d.TopicProfilesChanged {
		t.Errorf("edited instructions not flagged: %+v", d)
	}

	removed := baseConfig()
	removed.Topics = nil
	if d := config.Diff(baseConfig(), removed); !d.TopicProfilesChanged {
		t.Errorf("removed profile not flagged: %+v", d)
	}
}
