package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"desktrace/internal/platform"
	"desktrace/internal/realtime"
	"desktrace/internal/recorder"
	"desktrace/internal/store"
)

// Config holds server configuration, loaded from environment variables.
type Config struct {
	Port         int
	DataDir      string
	PollInterval time.Duration
	TextTimeout  time.Duration
}

func loadConfig() Config {
	cfg := Config{
		Port: 8420,
	}

	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("DESKTRACE_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("POLL_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PollInterval = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("TEXT_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TextTimeout = time.Duration(n) * time.Millisecond
		}
	}

	return cfg
}

func main() {
	cfg := loadConfig()

	driver := platform.New()
	if perms := driver.Probe(); !perms.AllGranted() {
		log.Printf("warning: accessibility=%v input monitoring=%v; recording will be refused until granted",
			perms.Accessibility, perms.InputMonitoring)
	}

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		log.Fatalf("open workflow store: %v", err)
	}
	log.Printf("storing workflows in %s", st.Dir())

	rec := recorder.New(driver, recorder.Config{
		PollInterval: cfg.PollInterval,
		TextTimeout:  cfg.TextTimeout,
	})

	rtServer := realtime.New(rec, st, driver)

	// Push listing changes to clients whenever workflow files change.
	storeWatch, err := st.Watch(rtServer.OnWorkflowsUpdate)
	if err != nil {
		log.Fatalf("watch workflow store: %v", err)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: rtServer.Handler(),
	}

	// Graceful shutdown on signals.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("Shutting down...")
		storeWatch.Close()
		httpServer.Close()
	}()

	log.Printf("desktrace server running on http://localhost:%d", cfg.Port)
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("HTTP server error: %v", err)
	}
}
