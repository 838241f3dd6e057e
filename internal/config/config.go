package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type DB struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Pass     string `yaml:"password"`
	Name     string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
}

type MQ struct {
	Host  string `yaml:"host"`
	Port  int    `yaml:"port"`
	User  string `yaml:"user"`
	Pass  string `yaml:"password"`
	VHost string `yaml:"vhost"`
}

type Local struct {
	Path     string `yaml:"path"`      // sqlite database file
	DeviceID string `yaml:"device_id"` // stable per-device identifier
	TenantID string `yaml:"tenant_id"` // static tenant for the daemon
}

type Sync struct {
	GraceWindowSeconds int    `yaml:"grace_window_seconds"`
	PushAttempts       int    `yaml:"push_attempts"`
	PushBackoffMillis  int    `yaml:"push_backoff_ms"`
	GhostPolicy        string `yaml:"ghost_policy"` // delete | cancel
}

type App struct {
	Database DB    `yaml:"database"`
	Rabbit   MQ    `yaml:"rabbitmq"`
	Local    Local `yaml:"local"`
	Sync     Sync  `yaml:"sync"`
}

func (s Sync) GraceWindow() time.Duration { return time.Duration(s.GraceWindowSeconds) * time.Second }
func (s Sync) PushBackoff() time.Duration {
	return time.Duration(s.PushBackoffMillis) * time.Millisecond
}

func Load(path string) (App, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return App{}, err
	}
	a := defaults()
	if err := yaml.Unmarshal(b, &a); err != nil {
		return App{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if a.Database.Host == "" || a.Rabbit.Host == "" {
		return App{}, errors.New("invalid config: missing database/rabbitmq host")
	}
	if a.Local.Path == "" {
		return App{}, errors.New("invalid config: missing local.path")
	}
	if a.Sync.GhostPolicy != "delete" && a.Sync.GhostPolicy != "cancel" {
		return App{}, fmt.Errorf("invalid config: unknown ghost_policy %q", a.Sync.GhostPolicy)
	}
	return a, nil
}

func defaults() App {
	return App{
		Database: DB{Port: 5432, SSLMode: "disable", MaxConns: 10},
		Rabbit:   MQ{Port: 5672, VHost: "/"},
		Sync: Sync{
			GraceWindowSeconds: 60,
			PushAttempts:       3,
			PushBackoffMillis:  500,
			GhostPolicy:        "delete",
		},
	}
}

func FindConfig() (string, error) {
	candidates := []string{"config.yaml", "deploy/config.example.yaml"}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fs.ErrNotExist
}
