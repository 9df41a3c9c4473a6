package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL string `yaml:"ttl"` // metadata cache TTL
	} `yaml:"quiz"`
	Attempt struct {
		AllowRetakes  bool   `yaml:"allow_retakes"`
		SyncInterval  string `yaml:"sync_interval"`  // countdown reconcile poll
		SweepInterval string `yaml:"sweep_interval"` // reaper period
		SweepBatch    int    `yaml:"sweep_batch"`
	} `yaml:"attempt"`
	Grading struct {
		MarksPerCorrect   float64 `yaml:"marks_per_correct"`
		MarksPerIncorrect float64 `yaml:"marks_per_incorrect"` // negative marking when < 0
	} `yaml:"grading"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Duration parses a duration string or returns the fallback if empty or invalid.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
