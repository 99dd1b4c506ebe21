package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"

	alwaysoffline "github.com/always-cache/always-offline"
	"github.com/always-cache/always-offline/cache"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Scope is the origin (and optional base path) of the application.
	Scope string `yaml:"scope"`
	// Host overrides the TLS server name, e.g. if the scope is just an IP address.
	Host     string        `yaml:"host"`
	Version  string        `yaml:"version"`
	Offline  string        `yaml:"offline"`
	Manifest []string      `yaml:"manifest"`
	Storage  StorageConfig `yaml:"storage"`
}

type StorageConfig struct {
	// Provider is one of sqlite (default), memory or redis.
	Provider string `yaml:"provider"`
	// Path of the sqlite db file, use "memory" for an in-memory db.
	Path   string `yaml:"path"`
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

func getConfig(filename string) (Config, error) {
	var config Config
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	if err := yaml.Unmarshal(configBytes, &config); err != nil {
		return config, fmt.Errorf("parse %s: %w", filename, err)
	}
	if config.Scope == "" {
		return config, errors.New("scope is required")
	}
	return config, nil
}

func (c Config) scopeURL() (*url.URL, error) {
	u, err := url.Parse(c.Scope)
	if err != nil {
		return nil, fmt.Errorf("invalid scope: %w", err)
	}
	return u, nil
}

func (c Config) manifest() alwaysoffline.Manifest {
	return alwaysoffline.Manifest{
		Version: c.Version,
		Assets:  c.Manifest,
		Offline: c.Offline,
	}
}

func newStorage(config StorageConfig) (cache.Storage, error) {
	switch config.Provider {
	case "", "sqlite":
		path := config.Path
		switch path {
		case "":
			path = "cache.db"
		case "memory":
			path = ""
		}
		return cache.NewSQLiteStorage(path)
	case "memory":
		return cache.NewMemStorage(), nil
	case "redis":
		return cache.NewRedisStorage(cache.RedisConfig{
			URL:    config.URL,
			Prefix: config.Prefix,
		})
	}
	return nil, fmt.Errorf("unknown storage provider %q", config.Provider)
}
