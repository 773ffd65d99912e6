// Command controller drives the agent from a local lighting file, with no
// remote session involved. SIGHUP re-reads the file and re-applies it.
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
	"lumen-agent/internal/core"
	"lumen-agent/internal/loader"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the configuration file")
	filePath := flag.String("file", "", "lighting file to apply (required)")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if *filePath == "" {
		log.Fatal().Msg("-file is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	a, err := agent.New(cfg, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create agent")
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- a.Run()
	}()

	if err := apply(a, *filePath); err != nil {
		a.Shutdown()
		log.Fatal().Err(err).Msg("failed to apply lighting file")
	}

	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-reload:
			log.Info().Str("file", *filePath).Msg("reloading lighting file")
			if err := apply(a, *filePath); err != nil {
				log.Error().Err(err).Msg("reload failed, keeping current effect")
			}
		case <-quit:
			log.Info().Msg("shutting down")
			a.Shutdown()
			return
		case err := <-runErr:
			a.Shutdown()
			if err != nil {
				log.Fatal().Err(err).Msg("controller stopped")
			}
			return
		}
	}
}

// apply submits every command from the file in order and fails on the first
// rejection.
func apply(a *agent.Agent, path string) error {
	commands, err := loader.Load(path)
	if err != nil {
		return err
	}
	for _, cmd := range commands {
		cmd.Reply = make(chan core.Outcome, 1)
		a.Submit(cmd)
		select {
		case outcome := <-cmd.Reply:
			if !outcome.Applied() {
				return outcome.Err
			}
		case <-time.After(10 * time.Second):
			log.Warn().Str("id", cmd.ID).Msg("no outcome for command, continuing")
		}
	}
	return nil
}
