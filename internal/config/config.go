/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config holds operator-wide policy loaded from the environment.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/devserver-io/devserver-operator/internal/duration"
)

// Config is the operator policy. Every field has a default so a bare
// environment yields a working configuration.
type Config struct {
	// MaxTTL is the upper bound for spec.lifecycle.timeToLive.
	MaxTTL time.Duration

	// ExpirationInterval is how often the expiration sweeper runs.
	ExpirationInterval time.Duration

	// FlavorResyncInterval is how often every flavor's schedulability is
	// recomputed against live cluster capacity.
	FlavorResyncInterval time.Duration

	// DefaultImage is used when a DevServer spec omits spec.image.
	DefaultImage string

	// UserNamespacePrefix prefixes per-user namespaces, e.g. "dev" -> "dev-alice".
	UserNamespacePrefix string

	// MaxConcurrentReconciles caps the reconcile worker pool. Kept low so a
	// controller restart (which redelivers every object) cannot flood the
	// API server.
	MaxConcurrentReconciles int
}

// Defaults mirrored by the corresponding DEVSERVER_* environment variables.
const (
	DefaultMaxTTL               = 24 * time.Hour
	DefaultExpirationInterval   = 60 * time.Second
	DefaultFlavorResyncInterval = 60 * time.Second
	DefaultImage                = "devserver-io/devserver-base:latest"
	DefaultUserNamespacePrefix  = "dev"
)

// Load reads configuration from the process environment, after loading
// optional .env files for local development. Variables already present
// in the environment are never overridden by an .env file.
func Load() Config {
	loadDotenv()

	cfg := Config{
		MaxTTL:                  DefaultMaxTTL,
		ExpirationInterval:      DefaultExpirationInterval,
		FlavorResyncInterval:    DefaultFlavorResyncInterval,
		DefaultImage:            DefaultImage,
		UserNamespacePrefix:     DefaultUserNamespacePrefix,
		MaxConcurrentReconciles: 1,
	}

	if v := getenv("DEVSERVER_MAX_TTL"); v != "" {
		if d, err := duration.Parse(v); err == nil && d > 0 {
			cfg.MaxTTL = d
		}
	}
	if v := getenv("DEVSERVER_EXPIRATION_INTERVAL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.ExpirationInterval = time.Duration(secs) * time.Second
		}
	}
	if v := getenv("DEVSERVER_FLAVOR_RESYNC_INTERVAL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.FlavorResyncInterval = time.Duration(secs) * time.Second
		}
	}
	if v := getenv("DEVSERVER_DEFAULT_IMAGE"); v != "" {
		cfg.DefaultImage = v
	}
	if v := getenv("DEVSERVER_NAMESPACE_PREFIX"); v != "" {
		cfg.UserNamespacePrefix = v
	}
	if v := getenv("DEVSERVER_WORKER_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxConcurrentReconciles = n
		}
	}

	return cfg
}

func getenv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// loadDotenv reads environment variables from common .env locations.
// In production the runtime injects env vars; this only improves the
// local developer experience.
func loadDotenv() {
	candidates := make([]string, 0, 2)
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		candidates = append(candidates, envFile)
	}
	if wd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(wd, ".env"))
	} else {
		candidates = append(candidates, ".env")
	}

	for _, f := range candidates {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		// godotenv.Load never overrides existing process env vars.
		_ = godotenv.Load(f)
	}
}
