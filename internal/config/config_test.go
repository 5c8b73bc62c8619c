// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-smartcard.
//
// go-smartcard is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}
	return path
}

// TestLoad_Success tests successful loading of a valid config file
func TestLoad_Success(t *testing.T) {
	path := writeConfig(t, `
watch:
  poll_interval: "250ms"
  readers:
    - "Yubico"
    - "Generic Reader"

probe:
  enabled: true
  applet: "piv"

logging:
  level: "debug"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}

	if cfg.Watch.PollInterval != "250ms" {
		t.Errorf("Watch.PollInterval = %v, want 250ms", cfg.Watch.PollInterval)
	}
	if cfg.Watch.Interval() != 250*time.Millisecond {
		t.Errorf("Watch.Interval() = %v, want 250ms", cfg.Watch.Interval())
	}
	if len(cfg.Watch.Readers) != 2 || cfg.Watch.Readers[0] != "Yubico" {
		t.Errorf("Watch.Readers = %v, want [Yubico, Generic Reader]", cfg.Watch.Readers)
	}
	if !cfg.Probe.Enabled {
		t.Error("Probe.Enabled = false, want true")
	}
	if cfg.Probe.Applet != "piv" {
		t.Errorf("Probe.Applet = %v, want piv", cfg.Probe.Applet)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %v, want debug", cfg.Logging.Level)
	}
	if !cfg.Debug() {
		t.Error("Debug() = false, want true")
	}
}

// TestLoad_Defaults tests that omitted fields keep their defaults
func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
probe:
  enabled: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}

	if cfg.Watch.Interval() != time.Second {
		t.Errorf("Watch.Interval() = %v, want 1s", cfg.Watch.Interval())
	}
	if len(cfg.Watch.Readers) != 0 {
		t.Errorf("Watch.Readers = %v, want empty", cfg.Watch.Readers)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %v, want info", cfg.Logging.Level)
	}
	if cfg.Probe.Applet != "piv" {
		t.Errorf("Probe.Applet = %v, want piv", cfg.Probe.Applet)
	}
	if cfg.Debug() {
		t.Error("Debug() = true, want false")
	}
}

// TestLoad_FileNotFound tests loading a missing file
func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Load() error = nil, want error")
	}
}

// TestLoad_MalformedYAML tests loading an unparseable file
func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "watch: [not a mapping")
	if _, err := Load(path); err == nil {
		t.Fatal("Load() error = nil, want error")
	}
}

// TestLoad_EnvOverrides tests environment variable overrides
func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
watch:
  poll_interval: "5s"
logging:
  level: "info"
`)

	t.Setenv("SCWATCHD_POLL_INTERVAL", "100ms")
	t.Setenv("SCWATCHD_READERS", "Yubico, ACS ACR122 ,")
	t.Setenv("SCWATCHD_LOG_LEVEL", "debug")
	t.Setenv("SCWATCHD_PROBE", "true")
	t.Setenv("SCWATCHD_PROBE_APPLET", "u2f")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}

	if cfg.Watch.Interval() != 100*time.Millisecond {
		t.Errorf("Watch.Interval() = %v, want 100ms", cfg.Watch.Interval())
	}
	want := []string{"Yubico", "ACS ACR122"}
	if len(cfg.Watch.Readers) != len(want) {
		t.Fatalf("Watch.Readers = %v, want %v", cfg.Watch.Readers, want)
	}
	for i := range want {
		if cfg.Watch.Readers[i] != want[i] {
			t.Errorf("Watch.Readers[%d] = %q, want %q", i, cfg.Watch.Readers[i], want[i])
		}
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %v, want debug", cfg.Logging.Level)
	}
	if !cfg.Probe.Enabled {
		t.Error("Probe.Enabled = false, want true")
	}
	if cfg.Probe.Applet != "u2f" {
		t.Errorf("Probe.Applet = %v, want u2f", cfg.Probe.Applet)
	}
}

// TestLoad_InvalidEnvValuesIgnored tests that malformed env values are
// ignored in favor of the file values
func TestLoad_InvalidEnvValuesIgnored(t *testing.T) {
	path := writeConfig(t, `
watch:
  poll_interval: "2s"
probe:
  enabled: true
`)

	t.Setenv("SCWATCHD_POLL_INTERVAL", "soon")
	t.Setenv("SCWATCHD_PROBE", "maybe")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}

	if cfg.Watch.Interval() != 2*time.Second {
		t.Errorf("Watch.Interval() = %v, want 2s", cfg.Watch.Interval())
	}
	if !cfg.Probe.Enabled {
		t.Error("Probe.Enabled = false, want true")
	}
}

// TestValidate_Errors tests validation failures
func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unparseable interval", "watch:\n  poll_interval: \"fast\"\n"},
		{"negative interval", "watch:\n  poll_interval: \"-1s\"\n"},
		{"zero interval", "watch:\n  poll_interval: \"0s\"\n"},
		{"bad log level", "logging:\n  level: \"trace\"\n"},
		{"bad probe applet", "probe:\n  applet: \"emv\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			if _, err := Load(path); err == nil {
				t.Fatal("Load() error = nil, want error")
			}
		})
	}
}

// TestDefault tests the built-in configuration
func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Watch.Interval() != time.Second {
		t.Errorf("Watch.Interval() = %v, want 1s", cfg.Watch.Interval())
	}
	if cfg.Probe.Enabled {
		t.Error("Probe.Enabled = true, want false")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
}

// TestWatchConfig_Matches tests reader filtering
func TestWatchConfig_Matches(t *testing.T) {
	all := WatchConfig{}
	if !all.Matches("Generic Reader 01 00") {
		t.Error("empty filter should match every reader")
	}

	some := WatchConfig{Readers: []string{"Yubico", "ACS"}}
	if !some.Matches("Yubico YubiKey OTP+FIDO+CCID 00 00") {
		t.Error("prefix should match")
	}
	if some.Matches("Generic Reader 01 00") {
		t.Error("non-matching reader should be filtered")
	}
}
