// Package config loads settings from config files and environment
// variables for the controller, the worker and the CLI.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values for the application.
type Config struct {
	// Database connection string
	DatabaseURL string

	// HTTP server port for the controller
	HTTPPort int

	// SystemSecret authenticates worker calls on internal endpoints.
	SystemSecret string

	// OTLP gRPC endpoint for trace export
	OTELEndpoint string

	// URL of the controller (e.g. "http://localhost:6161")
	ControllerURL string

	// Default per-project rate limiting
	RateLimitPerSecond int
	RateLimitBurst     int

	// Runtime selects the step execution backend: exec, docker or
	// kubernetes.
	Runtime string

	// RuntimeWorkDir is where the exec runtime creates cell workspaces.
	RuntimeWorkDir string

	// DockerImages maps an os label to the container image that stands in
	// for it, e.g. ubuntu-latest -> ubuntu:22.04.
	DockerImages map[string]string

	// Kubernetes runtime settings
	KubernetesNamespace      string
	KubernetesServiceAccount string
	KubernetesCPULimit       string
	KubernetesMemoryLimit    string

	// Worker-specific configuration
	WorkerConcurrency       int
	WorkerPollInterval      time.Duration
	WorkerMaxBackoff        time.Duration
	WorkerHeartbeatInterval time.Duration

	// HeartbeatVisibilityExtension is how far each heartbeat pushes a
	// claimed cell's queue visibility into the future.
	HeartbeatVisibilityExtension time.Duration

	// WorkerOSLabels restricts which cells this worker dequeues. Empty
	// means any.
	WorkerOSLabels []string
}

// Load reads configuration from an optional YAML file and the environment.
// Environment variables override file values.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("http_port", 6161)
	v.SetDefault("otel_endpoint", "localhost:4317")
	v.SetDefault("controller_url", "http://localhost:6161")
	v.SetDefault("rate_limit_per_second", 10)
	v.SetDefault("rate_limit_burst", 20)
	v.SetDefault("runtime", "docker")
	v.SetDefault("runtime_workdir", "/tmp/gridplane")
	v.SetDefault("docker_images", map[string]string{
		"ubuntu-latest": "ubuntu:22.04",
	})
	v.SetDefault("kubernetes_namespace", "default")
	v.SetDefault("kubernetes_cpu_limit", "500m")
	v.SetDefault("kubernetes_memory_limit", "256Mi")
	v.SetDefault("worker_concurrency", 1)
	v.SetDefault("worker_poll_interval", time.Second)
	v.SetDefault("worker_max_backoff", 30*time.Second)
	v.SetDefault("worker_heartbeat_interval", 2*time.Minute)
	v.SetDefault("heartbeat_visibility_extension", 5*time.Minute)
	v.SetDefault("worker_os_labels", []string{})

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Legacy variable names kept for deployment compatibility.
	v.BindEnv("http_port", "PORT", "HTTP_PORT")
	v.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_ENDPOINT")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("unable to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		DatabaseURL:                  v.GetString("database_url"),
		HTTPPort:                     v.GetInt("http_port"),
		SystemSecret:                 v.GetString("system_secret"),
		OTELEndpoint:                 v.GetString("otel_endpoint"),
		ControllerURL:                v.GetString("controller_url"),
		RateLimitPerSecond:           v.GetInt("rate_limit_per_second"),
		RateLimitBurst:               v.GetInt("rate_limit_burst"),
		Runtime:                      v.GetString("runtime"),
		RuntimeWorkDir:               v.GetString("runtime_workdir"),
		DockerImages:                 v.GetStringMapString("docker_images"),
		KubernetesNamespace:          v.GetString("kubernetes_namespace"),
		KubernetesServiceAccount:     v.GetString("kubernetes_service_account"),
		KubernetesCPULimit:           v.GetString("kubernetes_cpu_limit"),
		KubernetesMemoryLimit:        v.GetString("kubernetes_memory_limit"),
		WorkerConcurrency:            v.GetInt("worker_concurrency"),
		WorkerPollInterval:           v.GetDuration("worker_poll_interval"),
		WorkerMaxBackoff:             v.GetDuration("worker_max_backoff"),
		WorkerHeartbeatInterval:      v.GetDuration("worker_heartbeat_interval"),
		HeartbeatVisibilityExtension: v.GetDuration("heartbeat_visibility_extension"),
		WorkerOSLabels:               v.GetStringSlice("worker_os_labels"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database_url is required (env: DATABASE_URL)")
	}

	switch cfg.Runtime {
	case "exec", "docker", "kubernetes":
	default:
		return nil, fmt.Errorf("invalid runtime %q: must be exec, docker or kubernetes", cfg.Runtime)
	}

	return cfg, nil
}
