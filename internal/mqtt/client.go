// Package mqtt is the optional status bridge: it mirrors agent state to a
// broker, accepts commands from it as a trusted local source, and announces
// a Home Assistant light entity.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"lumen-agent/internal/config"
	"lumen-agent/internal/core"
	"lumen-agent/internal/effect"
)

type Client struct {
	client   paho.Client
	cfg      *config.Config
	commands core.CommandChannel
	bus      *core.EventBus
	status   *core.Status
	prefix   string
}

// New builds the bridge, or returns nil when MQTT is disabled.
func New(cfg *config.Config, cmds core.CommandChannel, bus *core.EventBus, status *core.Status) *Client {
	if !cfg.MQTT.Enabled {
		return nil
	}

	prefix := strings.TrimSuffix(cfg.MQTT.TopicPrefix, "/")

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.MQTT.Broker)
	opts.SetClientID(cfg.MQTT.ClientID)
	opts.SetUsername(cfg.MQTT.Username)
	opts.SetPassword(cfg.MQTT.Password)

	opts.SetKeepAlive(10 * time.Second)
	opts.SetPingTimeout(5 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetOrderMatters(false)

	// The broker announces us offline if the process dies.
	opts.SetWill(prefix+"/availability", "offline", 1, true)

	c := &Client{
		cfg:      cfg,
		commands: cmds,
		bus:      bus,
		status:   status,
		prefix:   prefix,
	}

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Warn().Err(err).Msg("mqtt connection lost, retrying in background")
	})

	c.client = paho.NewClient(opts)
	return c
}

// Connect initiates the broker connection.
func (c *Client) Connect() error {
	log.Info().Str("broker", c.cfg.MQTT.Broker).Msg("connecting to mqtt broker")
	token := c.client.Connect()
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// Disconnect publishes an explicit offline status, then closes the socket.
func (c *Client) Disconnect() {
	if !c.client.IsConnected() {
		return
	}
	token := c.client.Publish(c.prefix+"/availability", 0, true, "offline")
	if !token.WaitTimeout(2 * time.Second) {
		log.Warn().Msg("timed out publishing mqtt offline status")
	}
	c.client.Disconnect(250)
}

// Run mirrors agent events to retained state topics until ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	sub := c.bus.Subscribe(
		core.EffectChangedEvent,
		core.BrightnessChangedEvent,
		core.SessionChangedEvent,
		core.DeviceStatusEvent,
	)
	defer c.bus.Unsubscribe(sub,
		core.EffectChangedEvent,
		core.BrightnessChangedEvent,
		core.SessionChangedEvent,
		core.DeviceStatusEvent,
	)

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-sub:
			switch event.Type {
			case core.EffectChangedEvent:
				if name, ok := event.Payload["effect"].(string); ok {
					c.publish("effect/state", name, true)
				}
			case core.BrightnessChangedEvent:
				if v, ok := event.Payload["brightness"].(float64); ok {
					c.publish("brightness/state", int(v*100+0.5), true)
				}
			case core.SessionChangedEvent:
				if state, ok := event.Payload["state"].(string); ok {
					c.publish("session/state", state, true)
				}
			case core.DeviceStatusEvent:
				if online, ok := event.Payload["online"].(bool); ok {
					state := "disconnected"
					if online {
						state = "connected"
					}
					c.publish("connection", state, true)
				}
			}
		}
	}
}

func (c *Client) publish(subtopic string, payload interface{}, retained bool) {
	if !c.client.IsConnected() {
		return
	}
	topic := fmt.Sprintf("%s/%s", c.prefix, subtopic)
	token := c.client.Publish(topic, 0, retained, fmt.Sprintf("%v", payload))
	go func() {
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("mqtt publish failed")
		}
	}()
}

func (c *Client) onConnect(client paho.Client) {
	log.Info().Msg("connected to mqtt broker")

	topics := map[string]paho.MessageHandler{
		"effect/set":     c.handleEffectSet,
		"effect/stop":    c.handleEffectStop,
		"brightness/set": c.handleBrightness,
	}
	for sub, handler := range topics {
		topic := fmt.Sprintf("%s/%s", c.prefix, sub)
		if token := client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("mqtt subscribe failed")
		}
	}

	go func() {
		c.publish("availability", "online", true)

		// Re-publish current state so retained topics survive broker restarts.
		st := c.status.Clone()
		c.publish("effect/state", st.ActiveEffect, true)
		c.publish("brightness/state", int(st.Brightness*100+0.5), true)
		c.publish("session/state", st.Session, true)

		if c.cfg.MQTT.HADiscoveryEnabled {
			c.publishDiscovery()
		}
	}()
}

// publishDiscovery announces a Home Assistant light entity.
func (c *Client) publishDiscovery() {
	safeID := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, c.cfg.MQTT.ClientID)

	topic := fmt.Sprintf("%s/light/%s/light/config", c.cfg.MQTT.HADiscoveryPrefix, safeID)
	payload := map[string]interface{}{
		"name":      "Light",
		"unique_id": safeID + "_light",
		"object_id": safeID,
		"icon":      "mdi:led-strip-variant",

		"command_topic": fmt.Sprintf("%s/effect/set", c.prefix),
		"state_topic":   fmt.Sprintf("%s/effect/state", c.prefix),

		"brightness_command_topic": fmt.Sprintf("%s/brightness/set", c.prefix),
		"brightness_state_topic":   fmt.Sprintf("%s/brightness/state", c.prefix),
		"brightness_scale":         100,

		"effect_command_topic": fmt.Sprintf("%s/effect/set", c.prefix),
		"effect_state_topic":   fmt.Sprintf("%s/effect/state", c.prefix),
		"effect_list":          effect.Kinds(),

		"availability_topic": fmt.Sprintf("%s/availability", c.prefix),

		"device": map[string]interface{}{
			"identifiers": []string{safeID},
			"name":        "Lumen Agent",
			"model":       "OPC pixel streamer",
		},
	}

	raw, _ := json.Marshal(payload)
	c.client.Publish(topic, 0, true, raw)
}

// handleEffectSet accepts either a full command envelope or a bare effect
// kind name (what Home Assistant sends from an effect list).
func (c *Client) handleEffectSet(_ paho.Client, msg paho.Message) {
	payload := strings.TrimSpace(string(msg.Payload()))
	raw := payload
	if !strings.HasPrefix(payload, "{") {
		envelope, _ := json.Marshal(map[string]string{"type": "set_effect", "effect": payload})
		raw = string(envelope)
	}
	c.submitRaw([]byte(raw))
}

func (c *Client) handleEffectStop(_ paho.Client, msg paho.Message) {
	c.submitRaw([]byte(`{"type":"stop"}`))
}

func (c *Client) handleBrightness(_ paho.Client, msg paho.Message) {
	val, err := strconv.Atoi(strings.TrimSpace(string(msg.Payload())))
	if err != nil || val < 0 || val > 100 {
		log.Warn().Str("payload", string(msg.Payload())).Msg("ignoring invalid mqtt brightness")
		return
	}
	raw := fmt.Sprintf(`{"type":"set_brightness","brightness":%g}`, float64(val)/100)
	c.submitRaw([]byte(raw))
}

func (c *Client) submitRaw(raw []byte) {
	cmd, err := core.ParseCommand(raw, core.SourceMQTT)
	if err != nil {
		log.Warn().Err(err).Msg("ignoring invalid mqtt command")
		return
	}
	select {
	case c.commands <- cmd:
	default:
		log.Warn().Msg("command queue full, dropping mqtt command")
	}
}
