// Package main is the entry point for the gridplane worker.
// The worker claims matrix cells from the queue, executes their step
// sequences through a runtime backend and reports everything back to the
// controller over its internal API.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"gridplane/internal/config"
	"gridplane/internal/logger"
	"gridplane/internal/observability"
	"gridplane/internal/store/postgres"
	"gridplane/internal/worker"
	"gridplane/internal/worker/runtime"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to config file (default: environment only)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	slogger := logger.New("gridplane-worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer store.Close()

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "gridplane-worker", cfg.OTELEndpoint)
	if err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Printf("Failed to shutdown tracer: %v", err)
		}
	}()

	// Select runtime based on configuration
	var rt runtime.Runtime
	switch cfg.Runtime {
	case "exec":
		rt = runtime.NewExecRuntime(cfg.RuntimeWorkDir)
		log.Printf("Using exec runtime (workdir: %s)", cfg.RuntimeWorkDir)
	case "kubernetes":
		k8sRT, err := runtime.NewKubernetesRuntime(runtime.KubernetesConfig{
			Namespace:          cfg.KubernetesNamespace,
			ServiceAccount:     cfg.KubernetesServiceAccount,
			DefaultCPULimit:    cfg.KubernetesCPULimit,
			DefaultMemoryLimit: cfg.KubernetesMemoryLimit,
		})
		if err != nil {
			log.Fatalf("Failed to create Kubernetes runtime: %v", err)
		}
		rt = k8sRT
		log.Printf("Using kubernetes runtime (namespace: %s)", cfg.KubernetesNamespace)
	case "docker":
		fallthrough
	default:
		dockerRT, err := runtime.NewDockerRuntime()
		if err != nil {
			log.Fatalf("Failed to create Docker runtime: %v", err)
		}
		rt = dockerRT
		log.Println("Using docker runtime")
	}

	hostname, _ := os.Hostname()

	agent := worker.New(store, rt, slogger, worker.AgentConfig{
		ID:                hostname,
		Concurrency:       cfg.WorkerConcurrency,
		PollInterval:      cfg.WorkerPollInterval,
		MaxBackoff:        cfg.WorkerMaxBackoff,
		HeartbeatInterval: cfg.WorkerHeartbeatInterval,
		ControllerURL:     cfg.ControllerURL,
		SystemSecret:      cfg.SystemSecret,
		OSLabels:          cfg.WorkerOSLabels,
		Images:            cfg.DockerImages,
	})

	log.Printf("Worker started with concurrency %d (os labels: %v)", cfg.WorkerConcurrency, cfg.WorkerOSLabels)
	go agent.Run(ctx)

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Printf("Failed to shutdown metrics: %v", err)
		}
	}()

	// Start a dedicated metrics server on port 6162
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		log.Println("Worker metrics listening on :6162")
		if err := http.ListenAndServe(":6162", mux); err != nil {
			log.Printf("Metrics server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")
	cancel()

	<-agent.Done()
}
