package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const noEnvFile = "nonexistent.env"

func load(t *testing.T, o Overrides) *Config {
	t.Helper()
	if o.EnvFile == "" {
		o.EnvFile = noEnvFile
	}
	cfg, err := Load(o)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	cfg := load(t, Overrides{})

	strs := []struct{ name, got, want string }{
		{"HTTPAddr", cfg.HTTPAddr, ":8080"},
		{"LogLevel", cfg.LogLevel, "info"},
		{"VoiceCloneMode", cfg.VoiceCloneMode, "spectral"},
		{"MQTTClientID", cfg.MQTTClientID, "dubby"},
		{"MQTTAvailabilityTopic", cfg.MQTTAvailabilityTopic, "dubby/availability"},
		{"TTSBackend", cfg.TTSBackend, "tone"},
	}
	for _, s := range strs {
		if s.got != s.want {
			t.Errorf("%s = %q, want %q", s.name, s.got, s.want)
		}
	}
	if cfg.SampleRate != 16000 {
		t.Errorf("SampleRate = %d", cfg.SampleRate)
	}
	if cfg.PitchStrength != 0.6 || cfg.FormantStrength != 0.5 {
		t.Errorf("strengths = %v/%v, want 0.6/0.5", cfg.PitchStrength, cfg.FormantStrength)
	}
	if cfg.S3.Enabled() || cfg.S3.PresignExpiry != time.Hour || cfg.S3.AsyncUpload {
		t.Errorf("S3 = %+v", cfg.S3)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("HTTP_ADDR", ":7000")

	t.Run("flags_win", func(t *testing.T) {
		cfg := load(t, Overrides{
			HTTPAddr:      ":9090",
			LogLevel:      "debug",
			DatabaseURL:   "postgres://override/db",
			MQTTBrokerURL: "tcp://override:1883",
			OutputsDir:    "/tmp/out",
			VoiceClone:    "off",
		})
		got := []string{cfg.HTTPAddr, cfg.LogLevel, cfg.DatabaseURL, cfg.MQTTBrokerURL, cfg.OutputsDir, cfg.VoiceCloneMode}
		want := []string{":9090", "debug", "postgres://override/db", "tcp://override:1883", "/tmp/out", "off"}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("field %d = %q, want %q", i, got[i], want[i])
			}
		}
	})

	t.Run("env_when_flag_empty", func(t *testing.T) {
		cfg := load(t, Overrides{})
		if cfg.DatabaseURL != "postgres://localhost/test" || cfg.HTTPAddr != ":7000" {
			t.Errorf("DatabaseURL=%q HTTPAddr=%q", cfg.DatabaseURL, cfg.HTTPAddr)
		}
	})
}

func TestLoadOptionalIntegrations(t *testing.T) {
	for _, k := range []string{"DATABASE_URL", "MQTT_BROKER_URL", "AMQP_URL", "WATCH_DIR"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	cfg := load(t, Overrides{})
	if cfg.DatabaseURL != "" || cfg.MQTTBrokerURL != "" || cfg.AMQPURL != "" || cfg.WatchDir != "" {
		t.Errorf("integrations enabled: %+v", cfg)
	}
}

func TestLoadClampsStrengths(t *testing.T) {
	t.Setenv("VOICE_CLONE_PITCH_STRENGTH", "1.7")
	t.Setenv("VOICE_CLONE_FORMANT_STRENGTH", "-0.2")

	cfg := load(t, Overrides{})
	if cfg.PitchStrength != 1 || cfg.FormantStrength != 0 {
		t.Errorf("strengths = %v/%v, want 1/0", cfg.PitchStrength, cfg.FormantStrength)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct{ name, key, value string }{
		{"zero sample rate", "SAMPLE_RATE", "0"},
		{"negative upload limit", "MAX_UPLOAD_MB", "-1"},
		{"bad duration", "WHISPER_TIMEOUT", "soon"},
		{"bad bool", "S3_ASYNC_UPLOAD", "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(Overrides{EnvFile: noEnvFile}); err == nil {
				t.Errorf("%s=%s accepted", tt.key, tt.value)
			}
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dubby.env")
	if err := os.WriteFile(path, []byte("WATCH_DIR=/srv/inbox\nS3_BUCKET=dubs\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// godotenv writes into the process environment.
	t.Cleanup(func() {
		os.Unsetenv("WATCH_DIR")
		os.Unsetenv("S3_BUCKET")
	})

	cfg := load(t, Overrides{EnvFile: path})
	if cfg.WatchDir != "/srv/inbox" {
		t.Errorf("WatchDir = %q", cfg.WatchDir)
	}
	if !cfg.S3.Enabled() || cfg.S3.Bucket != "dubs" {
		t.Errorf("S3 = %+v", cfg.S3)
	}
}

func TestUploadExtensions(t *testing.T) {
	cfg := &Config{AllowedUploadExtensions: ".MP4, wav,,.mkv "}
	exts := cfg.UploadExtensions()
	if len(exts) != 3 || !exts[".mp4"] || !exts[".wav"] || !exts[".mkv"] {
		t.Errorf("exts = %v", exts)
	}
	cfg.MaxUploadMB = 2
	if cfg.MaxUploadBytes() != 2<<20 {
		t.Errorf("MaxUploadBytes = %d", cfg.MaxUploadBytes())
	}
}
