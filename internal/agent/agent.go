// Package agent wires the components together and runs the orchestration
// loop that arbitrates between command sources.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"lumen-agent/internal/config"
	"lumen-agent/internal/core"
	"lumen-agent/internal/device"
	"lumen-agent/internal/effect"
	"lumen-agent/internal/mqtt"
	"lumen-agent/internal/scheduler"
	"lumen-agent/internal/session"
	"lumen-agent/internal/stream"
)

type Agent struct {
	ctx    context.Context
	cancel context.CancelFunc
	config *config.Config
	wg     sync.WaitGroup

	status   *core.Status
	bus      *core.EventBus
	commands core.CommandChannel

	registry  *device.Registry
	engine    *effect.Engine
	streamer  *stream.Streamer
	session   *session.Manager
	scheduler *scheduler.Scheduler
	mqtt      *mqtt.Client

	streamErr chan error
}

// New builds an agent from the configuration. When sessCfg is nil the agent
// runs offline: no remote session, commands come only from local sources.
func New(cfg *config.Config, sessCfg *session.Config) (*Agent, error) {
	ctx, cancel := context.WithCancel(context.Background())

	a := &Agent{
		ctx:       ctx,
		cancel:    cancel,
		config:    cfg,
		status:    core.NewStatus(),
		bus:       core.NewEventBus(),
		commands:  make(core.CommandChannel, 20),
		streamErr: make(chan error, 1),
	}

	endpoints := make([]device.Endpoint, 0, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		endpoints = append(endpoints, device.Endpoint{
			ID:        ep.ID,
			Transport: ep.Transport,
			Addr:      ep.Addr,
			Pixels:    ep.Pixels,
			Channel:   ep.Channel,
		})
	}

	dialTimeout, _ := time.ParseDuration(cfg.Stream.DialTimeout)
	registry, err := device.NewRegistry(endpoints, dialTimeout)
	if err != nil {
		cancel()
		return nil, err
	}
	a.registry = registry

	target, err := registry.Lookup(cfg.Stream.Endpoint)
	if err != nil {
		cancel()
		return nil, err
	}

	a.engine = effect.NewEngine(cfg.ScriptsDir)

	reopenMin, _ := time.ParseDuration(cfg.Stream.ReopenBackoffMin)
	reopenMax, _ := time.ParseDuration(cfg.Stream.ReopenBackoffMax)
	a.streamer = stream.New(stream.Config{
		EndpointID:       target.ID,
		Pixels:           target.Pixels,
		FPS:              cfg.Stream.FPS,
		FailureThreshold: cfg.Stream.FailureThreshold,
		ReopenBackoffMin: reopenMin,
		ReopenBackoffMax: reopenMax,
		ReopenAttempts:   cfg.Stream.ReopenAttempts,
		RateLimit:        cfg.Stream.RateLimit,
		RateBurst:        cfg.Stream.RateBurst,
	}, registry, a.engine, a.bus)

	a.scheduler = scheduler.New(a.commands, cfg.SchedulesFile)

	if sessCfg != nil {
		a.session = session.New(*sessCfg, a.commands, a.bus)
	}

	a.mqtt = mqtt.New(cfg, a.commands, a.bus, a.status)

	return a, nil
}

// Submit queues a command for the orchestrator. Blocks if the queue is full;
// local collaborators submit from their own goroutines.
func (a *Agent) Submit(cmd core.Command) {
	select {
	case a.commands <- cmd:
	case <-a.ctx.Done():
	}
}

// Run starts all components and drains the command channel until shutdown or
// a fatal streaming error. The returned error is non-nil only for fatal
// conditions (device lost for good).
func (a *Agent) Run() error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.streamErr <- a.streamer.Run(a.ctx)
	}()

	if a.session != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.session.Run(a.ctx)
		}()
		a.trackSessionStatus()
	}

	if a.mqtt != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.mqtt.Run(a.ctx)
		}()
		go func() {
			if err := a.mqtt.Connect(); err != nil {
				log.Warn().Err(err).Msg("mqtt setup failed")
			}
		}()
	}

	a.scheduler.Start()
	log.Info().Msg("agent orchestrator ready")

	for {
		select {
		case <-a.ctx.Done():
			return nil
		case err := <-a.streamErr:
			if err != nil {
				return fmt.Errorf("streaming stopped: %w", err)
			}
		case cmd := <-a.commands:
			a.handleCommand(cmd)
		}
	}
}

// trackSessionStatus mirrors session lifecycle changes into the status view.
func (a *Agent) trackSessionStatus() {
	sub := a.bus.Subscribe(core.SessionChangedEvent)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-a.ctx.Done():
				return
			case event := <-sub:
				if state, ok := event.Payload["state"].(string); ok {
					a.status.SetSession(state)
				}
			}
		}
	}()
}

// Shutdown stops all components and waits for them to finish.
func (a *Agent) Shutdown() {
	a.scheduler.Stop()
	if a.mqtt != nil {
		a.mqtt.Disconnect()
	}
	a.cancel()
	a.wg.Wait()
}
