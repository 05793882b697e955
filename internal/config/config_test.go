package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWhenNoPath(t *testing.T) {
	device := "my-rv"
	host := "broker.local"
	port := 8883
	baseTopic := "rvlink/"
	discoveryTopic := "homeassistant/"

	cfg, err := Load("", Flags{
		Device: &device, Host: &host, Port: &port,
		BaseTopic: &baseTopic, DiscoveryTopic: &discoveryTopic,
	})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Device != device || cfg.Host != host || cfg.Port != port {
		t.Fatalf("flag overrides not applied: %+v", cfg)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Fatalf("expected default logging config to survive, got %+v", cfg.Logging)
	}
}

func TestLoadRequiresMandatoryFields(t *testing.T) {
	_, err := Load("", Flags{})
	if err == nil {
		t.Fatal("expected validation error when device/host/port/topics are all unset")
	}
}

func TestLoadFromFileThenFlagsOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := []byte(`
device: file-device
host: file-host
port: 1883
base_topic: rvlink/
discovery_topic: homeassistant/
`)
	if err := os.WriteFile(path, yamlBody, 0o600); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}

	flagHost := "flag-host"
	cfg, err := Load(path, Flags{Host: &flagHost})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Device != "file-device" {
		t.Fatalf("Device = %q, want the file's value", cfg.Device)
	}
	if cfg.Host != "flag-host" {
		t.Fatalf("Host = %q, a flag should win over the file", cfg.Host)
	}
}

func TestEnvOverridesFileButNotFlags(t *testing.T) {
	t.Setenv("HOST", "env-host")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := []byte(`
device: file-device
host: file-host
port: 1883
base_topic: rvlink/
discovery_topic: homeassistant/
`)
	if err := os.WriteFile(path, yamlBody, 0o600); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}

	cfg, err := Load(path, Flags{})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Host != "env-host" {
		t.Fatalf("Host = %q, want the environment override to win over the file", cfg.Host)
	}
}

func TestValidateRejectsBadLoggingLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Device = "d"
	cfg.Host = "h"
	cfg.Port = 1
	cfg.BaseTopic = "t/"
	cfg.DiscoveryTopic = "d/"
	cfg.Logging.Level = "verbose"

	if err := Validate(cfg); err == nil {
		t.Fatal("expected an invalid logging level to fail validation")
	}
}
