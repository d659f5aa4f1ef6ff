package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"i4.energy/across/atlink/at"
	"i4.energy/across/atlink/modem"
)

func main() {
	configFile := flag.String("config", "", "Path to a YAML configuration file")
	envFile := flag.String("env-file", ".env", "Path to a .env file")
	flag.String("serial-port", "/dev/ttyUSB0", "Serial port to connect to the modem")
	flag.Int("baud-rate", 115200, "Baud rate for serial communication")
	flag.String("modem-address", "", "TCP address of the modem, used instead of the serial port")
	flag.String("bind-address", "0.0.0.0:8080", "Bind address for the HTTP server")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.String("sim-pin", "", "SIM card PIN code (if required)")
	flag.String("model", "generic", "Modem model profile")
	flag.String("profiles", "", "Path to a YAML file with additional modem profiles")
	flag.Duration("min-send-interval", 10*time.Second, "Minimum pause between two outgoing messages")
	flag.String("mqtt-broker", "", "MQTT broker URL; empty disables the MQTT bridge")
	flag.Parse()

	config, err := LoadConfig(
		WithDefaults(),
		WithEnvFile(*envFile),
		WithFile(*configFile),
		WithEnv(),
		WithFlags(flag.CommandLine),
	)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	profile, err := loadProfile(config)
	if err != nil {
		logger.Error("Failed to load modem profile", "error", err, "available", modem.Profiles())
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var dialer modem.Dialer = modem.SerialDialer{
		PortName: config.SerialPort,
		BaudRate: config.BaudRate,
	}
	if config.ModemAddress != "" {
		dialer = modem.TCPDialer{Address: config.ModemAddress, Timeout: 10 * time.Second}
	}

	modemConfig, err := modem.NewConfigBuilder().
		WithATTimeout(5 * time.Second).
		WithInitTimeout(30 * time.Second).
		WithSimPIN(config.SimPIN).
		WithProfile(profile).
		WithDialer(dialer).
		WithLogger(logger.With("component", "modem")).
		WithMetrics(at.NewMetrics(registry)).
		Build()
	if err != nil {
		logger.Error("Failed to create modem config", "error", err)
		os.Exit(1)
	}

	m, err := modem.New(context.Background(), modemConfig)
	if err != nil {
		logger.Error("Failed to create modem", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting SMS Gateway", "profile", profile.Name)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	dispatcher := NewDispatcher(m, DispatcherOptions{
		MinInterval: config.MinSendInterval,
		MaxRetries:  config.MaxRetries,
		QueueSize:   config.QueueSize,
		Logger:      logger.With("component", "dispatcher"),
	})
	registry.MustRegister(dispatcher)
	go dispatcher.Run(ctx)

	hub := NewHub(logger.With("component", "hub"))
	go hub.Run(ctx, m.Events())

	if config.MQTTBroker != "" {
		bridge := NewMQTTBridge(MQTTOptions{
			Broker:      config.MQTTBroker,
			ClientID:    config.MQTTClientID,
			Username:    config.MQTTUsername,
			Password:    config.MQTTPassword,
			SendTopic:   config.MQTTTopic,
			EventsTopic: config.MQTTEventsTopic,
		}, dispatcher, hub, logger.With("component", "mqtt"))
		if err := bridge.Start(ctx); err != nil {
			logger.Error("Failed to start MQTT bridge", "error", err)
			os.Exit(1)
		}
	}

	httpServer := &http.Server{
		Addr: config.BindAddress,
		Handler: &Server{
			Logger:         logger.With("component", "server"),
			Modem:          m,
			Queue:          dispatcher,
			Hub:            hub,
			Gatherer:       registry,
			Token:          config.APIToken,
			AllowedOrigins: config.AllowedOrigins,
		},
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start HTTP server in a goroutine
	go func() {
		logger.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal or modem loss
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", "signal", sig)
	case <-m.Done():
		logger.Error("Modem connection lost", "error", m.Err())
	}
	stop()

	logger.Info("Closing modem connection")
	if err := m.Close(); err != nil {
		logger.Error("Failed to close modem", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("Closing HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to gracefully shutdown server", "error", err)
		os.Exit(1)
	}
}

// loadProfile registers the profiles of the configured file and returns
// the one selected by model.
func loadProfile(config *Config) (modem.Profile, error) {
	if config.ProfilesFile != "" {
		f, err := os.Open(config.ProfilesFile)
		if err != nil {
			return modem.Profile{}, fmt.Errorf("open profiles file: %w", err)
		}
		defer f.Close()
		if _, err := modem.LoadProfiles(f); err != nil {
			return modem.Profile{}, fmt.Errorf("%s: %w", config.ProfilesFile, err)
		}
	}
	return modem.LookupProfile(config.Model)
}
