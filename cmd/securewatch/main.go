// ABOUTME: Entry point for the SecureWatch vulnerability dashboard service.
// ABOUTME: Handles configuration parsing, component wiring, and starts the HTTP server.

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/PreethamGoud/SecureWatch/internal/loader"
	"github.com/PreethamGoud/SecureWatch/internal/server"
	"github.com/PreethamGoud/SecureWatch/internal/store"
	"github.com/PreethamGoud/SecureWatch/internal/worker"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Config holds the runtime configuration for the dashboard service.
type Config struct {
	Port     int
	DBPath   string
	DataFile string
	DataURL  string
}

func main() {
	config := parseConfig()

	// Set up structured logging
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)
	if os.Getenv("LOG_LEVEL") == "debug" {
		logger.SetLevel(logrus.DebugLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown gracefully
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Received shutdown signal")
		cancel()
	}()

	logger.WithFields(logrus.Fields{
		"port":    config.Port,
		"db_path": config.DBPath,
	}).Info("Initializing SecureWatch")

	st := store.New(config.DBPath, logger)
	if err := st.Open(); err != nil {
		logger.WithError(err).Fatal("Failed to open store")
	}
	defer st.Close()

	processor := worker.NewProcessor(logger)
	processor.Start(ctx)

	dataLoader := loader.New(st, processor, logger)
	unsubscribe := dataLoader.OnStateChange(func(state loader.State) {
		entry := logger.WithFields(logrus.Fields{
			"status":   state.Status,
			"progress": state.Progress,
		})
		if state.Status == loader.StatusError {
			entry.WithField("error", state.Err).Error(state.Message)
			return
		}
		entry.Debug(state.Message)
	})
	defer unsubscribe()

	apiServer := server.NewServer(st, dataLoader, logger)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return apiServer.ListenAndServe(groupCtx, config.Port, dataLoader)
	})

	if config.DataFile != "" || config.DataURL != "" {
		group.Go(func() error {
			var err error
			if config.DataFile != "" {
				err = dataLoader.LoadFromFile(groupCtx, config.DataFile)
			} else {
				err = dataLoader.LoadFromURL(groupCtx, config.DataURL)
			}
			if err != nil {
				// The server keeps running; the dashboard shows the error
				// state and the user can retrigger the load.
				logger.WithError(err).Error("Initial data load failed")
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		logger.WithError(err).Fatal("Server terminated")
	}
}

func parseConfig() *Config {
	config := &Config{}

	flag.IntVar(&config.Port, "port", 8080, "Port to serve the dashboard API on")
	flag.StringVar(&config.DBPath, "db-path", "securewatch.db", "Path to the embedded database file")
	flag.StringVar(&config.DataFile, "data-file", "", "Path to a vulnerability JSON document to load at startup")
	flag.StringVar(&config.DataURL, "data-url", "", "URL of a vulnerability JSON document to load at startup")
	flag.Parse()

	applyEnvOverrides(config)

	if err := validateConfig(config); err != nil {
		log.Fatal(err)
	}

	return config
}

// applyEnvOverrides lets environment variables take precedence over flags.
func applyEnvOverrides(config *Config) {
	if envPort := os.Getenv("PORT"); envPort != "" {
		if port, err := strconv.Atoi(envPort); err == nil {
			config.Port = port
		} else {
			log.Printf("Invalid PORT environment variable: %s", envPort)
		}
	}
	if envDBPath := os.Getenv("DB_PATH"); envDBPath != "" {
		config.DBPath = envDBPath
	}
	if envDataFile := os.Getenv("DATA_FILE"); envDataFile != "" {
		config.DataFile = envDataFile
	}
	if envDataURL := os.Getenv("DATA_URL"); envDataURL != "" {
		config.DataURL = envDataURL
	}
}

func validateConfig(config *Config) error {
	if config.DataFile != "" && config.DataURL != "" {
		return fmt.Errorf("data-file and data-url are mutually exclusive")
	}
	if config.Port <= 0 || config.Port > 65535 {
		return fmt.Errorf("invalid port: %d", config.Port)
	}
	return nil
}
