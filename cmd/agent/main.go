package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"lumen-agent/internal/agent"
	"lumen-agent/internal/config"
	"lumen-agent/internal/session"
)

// These variables will be set by the build script
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the configuration file")
	username := flag.String("username", "", "account name for the coordinating server")
	password := flag.String("password", "", "account password for the coordinating server")
	clientID := flag.String("client-id", "", "client identifier (overrides the config file)")
	offline := flag.Bool("offline", false, "run without a remote session; local sources only")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	applyLogLevel(cfg.LogLevel)

	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", date).
		Msg("starting lumen agent")

	var sessCfg *session.Config
	if !*offline {
		if *username == "" || *password == "" {
			log.Fatal().Msg("username and password are required (or pass -offline)")
		}
		sessCfg = sessionConfig(cfg, *username, *password, *clientID)
	}

	a, err := agent.New(cfg, sessCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create agent")
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- a.Run()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("shutting down agent")
		a.Shutdown()
	case err := <-runErr:
		a.Shutdown()
		if err != nil {
			log.Fatal().Err(err).Msg("agent stopped")
		}
	}
	log.Info().Msg("agent shut down gracefully")
}

func sessionConfig(cfg *config.Config, username, password, clientID string) *session.Config {
	if clientID == "" {
		clientID = cfg.Session.ClientID
	}
	backoffMin, _ := time.ParseDuration(cfg.Session.BackoffMin)
	backoffMax, _ := time.ParseDuration(cfg.Session.BackoffMax)
	return &session.Config{
		Host:        cfg.Session.Host,
		ProxyPort:   cfg.Session.ProxyPort,
		AppPort:     cfg.Session.AppPort,
		ClientID:    clientID,
		Username:    username,
		Password:    password,
		InsecureTLS: cfg.Session.InsecureTLS,
		BackoffMin:  backoffMin,
		BackoffMax:  backoffMax,
	}
}

func applyLogLevel(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		log.Warn().Str("level", level).Msg("unknown log level, using info")
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}
