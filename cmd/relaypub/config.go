package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/avolkovv/relaypub/internal/session"
)

// cliConfig is the effective configuration after file and flag merging.
type cliConfig struct {
	RelayURL string
	KeyPath  string
	Timeout  time.Duration
}

type fileConfig struct {
	Relay   string `toml:"relay"`
	KeyPath string `toml:"key_path"`
	Timeout string `toml:"timeout"`
}

func defaultConfig() cliConfig {
	return cliConfig{Timeout: session.DefaultTimeout}
}

// loadConfig reads a TOML config file; absent keys keep their defaults.
func loadConfig(path string) (cliConfig, error) {
	cfg := defaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return cliConfig{}, fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("relay") {
		cfg.RelayURL = strings.TrimSpace(raw.Relay)
	}
	if meta.IsDefined("key_path") {
		cfg.KeyPath = strings.TrimSpace(raw.KeyPath)
	}
	if meta.IsDefined("timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
		if err != nil {
			return cliConfig{}, fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Timeout = d
	}

	return cfg, nil
}

// parseTags turns "k=v,k2=v2" into event tags, preserving order.
func parseTags(spec string) ([][]string, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, nil
	}
	var tags [][]string
	for _, part := range strings.Split(spec, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 || strings.TrimSpace(kv[0]) == "" {
			return nil, fmt.Errorf("bad tag %q (want k=v)", part)
		}
		tags = append(tags, []string{strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])})
	}
	return tags, nil
}
