package core

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// CommandType identifies the kind of lighting instruction being dispatched.
type CommandType string

const (
	CmdSetEffect     CommandType = "set_effect"
	CmdStop          CommandType = "stop"
	CmdSetBrightness CommandType = "set_brightness"
	CmdPing          CommandType = "ping"
)

// Source identifies where a command entered the system. Remote commands are
// only honoured while the session is authenticated; every other source is a
// local collaborator and always trusted.
type Source string

const (
	SourceRemote    Source = "remote"
	SourceLocal     Source = "local"
	SourceScheduler Source = "scheduler"
	SourceMQTT      Source = "mqtt"
)

// Command is the envelope for a single lighting instruction. It is immutable
// once constructed and consumed exactly once by the agent orchestrator.
type Command struct {
	ID     string
	Type   CommandType
	Source Source

	// Effect and Params carry the payload of a set_effect command. Params are
	// validated against the effect schema by the engine, never coerced.
	Effect string
	Params map[string]interface{}

	// Brightness carries the payload of a set_brightness command (0..1).
	Brightness float64

	// Reply, when non-nil, receives the outcome of applying this command.
	// The channel must be buffered; the orchestrator never blocks on it.
	Reply chan Outcome
}

// Outcome reports what the orchestrator did with a command.
type Outcome struct {
	ID         string
	Generation uint64
	Err        error
}

// Applied reports whether the command took effect.
func (o Outcome) Applied() bool { return o.Err == nil }

// CommandChannel is the single FIFO channel the agent orchestrator drains.
type CommandChannel chan Command

// wireCommand is the JSON shape of a command as delivered by the remote
// session, a lighting file, a stored schedule, or the MQTT bridge.
type wireCommand struct {
	Type       string                 `json:"type"`
	Effect     string                 `json:"effect,omitempty"`
	Params     map[string]interface{} `json:"params,omitempty"`
	Brightness *float64               `json:"brightness,omitempty"`
}

// ParseCommand decodes a JSON command envelope into a Command, assigning it a
// fresh ID. It validates only the envelope shape; effect parameters are left
// to the engine's schema validation.
func ParseCommand(raw []byte, source Source) (Command, error) {
	var w wireCommand
	if err := json.Unmarshal(raw, &w); err != nil {
		return Command{}, fmt.Errorf("command: decode: %w", err)
	}

	cmd := Command{ID: uuid.NewString(), Source: source}

	switch CommandType(w.Type) {
	case CmdSetEffect:
		if w.Effect == "" {
			return Command{}, fmt.Errorf("command: set_effect requires an effect name")
		}
		cmd.Type = CmdSetEffect
		cmd.Effect = w.Effect
		cmd.Params = w.Params
	case CmdStop:
		cmd.Type = CmdStop
	case CmdSetBrightness:
		if w.Brightness == nil {
			return Command{}, fmt.Errorf("command: set_brightness requires a brightness value")
		}
		cmd.Type = CmdSetBrightness
		cmd.Brightness = *w.Brightness
	case CmdPing:
		cmd.Type = CmdPing
	default:
		return Command{}, fmt.Errorf("command: unknown type %q", w.Type)
	}

	return cmd, nil
}
