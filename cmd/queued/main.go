// Command queued runs the task queue server. It reads no
// required flags: QSERVER_PORT, QSERVER_PASSWORD and
// QSERVER_STORAGE_DIR from the environment are the source
// of truth over an optional -config YAML file layered
// beneath them, and a handful of flags override both.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/byster-one/queued/auth"
	"github.com/byster-one/queued/persist"
	"github.com/byster-one/queued/server"
	"github.com/byster-one/queued/tenant"
)

const (
	defaultPort       = 9999
	defaultStorageDir = "./storage"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file (storage_dir, port, worker_pool_size)")
	portFlag := flag.Int("port", 0, "port to listen on (overrides config and QSERVER_PORT)")
	storageFlag := flag.String("storage", "", "base directory for persisted queue state")
	workersFlag := flag.Int("workers", 0, "worker pool size (overrides config)")
	flag.Parse()

	logger := log.New(os.Stderr, "", log.LstdFlags)

	port := defaultPort
	storageDir := defaultStorageDir
	workers := 0

	if *configPath != "" {
		cfg, err := loadConfigFile(*configPath)
		if err != nil {
			logger.Fatalf("loading config %s: %v", *configPath, err)
		}
		if cfg.Port != 0 {
			port = cfg.Port
		}
		if cfg.StorageDir != "" {
			storageDir = cfg.StorageDir
		}
		if cfg.WorkerPoolSize != 0 {
			workers = cfg.WorkerPoolSize
		}
	}

	if v := os.Getenv("QSERVER_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			logger.Fatalf("invalid QSERVER_PORT %q: %v", v, err)
		}
		port = p
	}
	if v := os.Getenv("QSERVER_STORAGE_DIR"); v != "" {
		storageDir = v
	}

	if *portFlag != 0 {
		port = *portFlag
	}
	if *storageFlag != "" {
		storageDir = *storageFlag
	}
	if *workersFlag != 0 {
		workers = *workersFlag
	}

	checker, err := auth.FromEnvironment()
	if err != nil {
		logger.Fatalf("%v", err)
	}

	store, err := persist.NewStore(storageDir, persist.WithLogger(logger))
	if err != nil {
		logger.Fatalf("opening storage: %v", err)
	}
	registry := tenant.NewRegistry(store, tenant.WithLogger(logger))
	if err := registry.RestoreAll(); err != nil {
		logger.Fatalf("restoring tenants: %v", err)
	}

	opts := []server.Option{server.WithLogger(logger)}
	if workers > 0 {
		opts = append(opts, server.WithWorkerPoolSize(workers))
	}
	srv := server.New(registry, checker, opts...)

	addr := fmt.Sprintf("0.0.0.0:%d", port)
	errCh := make(chan error, 1)
	go func() {
		logger.Printf("queued listening on %s", addr)
		errCh <- srv.Serve(addr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sig:
		srv.Stop()
		if err := <-errCh; err != nil {
			logger.Printf("serve: %v", err)
			os.Exit(1)
		}
	case err := <-errCh:
		if err != nil {
			logger.Fatalf("serve: %v", err)
		}
	}
}
